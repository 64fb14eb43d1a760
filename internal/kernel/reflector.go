// Package kernel reflects the mirrored dataplane interfaces into a Linux
// network namespace as dummy links, so a routing daemon running there sees
// every dataplane port at its control-plane index.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/veesix-networks/dpsync/pkg/component"
	"github.com/veesix-networks/dpsync/pkg/dplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"github.com/veesix-networks/dpsync/pkg/mirror"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
	"inet.af/netaddr"
)

const maxNameLen = unix.IFNAMSIZ - 1

// linkAPI is the subset of *netlink.Handle the reflector uses.
type linkAPI interface {
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error
	LinkByIndex(index int) (netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	LinkSetName(link netlink.Link, name string) error
	LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error
}

type Submitter interface {
	Submit(kind dplane.OpKind, operand dplane.Operand) (*dplane.Operation, error)
}

type addrKey struct {
	ifIndex int
	prefix  netaddr.IPPrefix
	add     bool
}

// Reflector implements mirror.Listener. Address changes made in the namespace
// by anyone else are fed back as interface address operations.
type Reflector struct {
	*component.Base

	logger    *slog.Logger
	nsName    string
	store     *mirror.Store
	submitter Submitter

	mu       sync.Mutex
	links    linkAPI
	closer   func()
	suppress map[addrKey]int
}

var _ mirror.Listener = (*Reflector)(nil)

// New returns a reflector for the namespace nsName, or for the daemon's own
// namespace when nsName is empty. It has no effect until started.
func New(nsName string, store *mirror.Store, submitter Submitter) *Reflector {
	return &Reflector{
		Base:      component.NewBase("kernel"),
		logger:    logger.Get(logger.Kernel),
		nsName:    nsName,
		store:     store,
		submitter: submitter,
		suppress:  make(map[addrKey]int),
	}
}

func (r *Reflector) Start(ctx context.Context) error {
	r.StartContext(ctx)

	ns, err := r.openNamespace()
	if err != nil {
		return err
	}

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return fmt.Errorf("create netlink handle for netns %q: %w", r.nsName, err)
	}

	updates := make(chan netlink.AddrUpdate, 64)
	done := make(chan struct{})
	err = netlink.AddrSubscribeWithOptions(updates, done, netlink.AddrSubscribeOptions{
		Namespace: &ns,
		ErrorCallback: func(err error) {
			r.logger.Warn("Kernel address subscription error", "error", err)
		},
	})
	if err != nil {
		h.Close()
		ns.Close()
		return fmt.Errorf("subscribe kernel addresses: %w", err)
	}

	r.mu.Lock()
	r.links = h
	r.closer = func() {
		close(done)
		h.Close()
		ns.Close()
	}
	r.mu.Unlock()

	for _, iface := range r.store.List() {
		r.InterfaceUpdated(iface)
		for _, p := range iface.Addresses {
			r.AddressAdded(iface, p)
		}
	}

	r.Go(func() { r.watch(updates) })
	r.logger.Info("Kernel reflector started", "netns", r.nsName, "offset", r.store.Offset())
	return nil
}

func (r *Reflector) Stop(ctx context.Context) error {
	r.logger.Info("Stopping kernel reflector")

	r.mu.Lock()
	closer := r.closer
	r.closer = nil
	r.links = nil
	r.mu.Unlock()

	if closer != nil {
		closer()
	}
	r.StopContext()
	return nil
}

func (r *Reflector) openNamespace() (netns.NsHandle, error) {
	if r.nsName == "" {
		ns, err := netns.Get()
		if err != nil {
			return netns.None(), fmt.Errorf("get current netns: %w", err)
		}
		return ns, nil
	}
	ns, err := netns.GetFromName(r.nsName)
	if err != nil {
		return netns.None(), fmt.Errorf("get netns %q: %w", r.nsName, err)
	}
	return ns, nil
}

func (r *Reflector) api() linkAPI {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links
}

func (r *Reflector) InterfaceUpdated(iface *mirror.Interface) {
	h := r.api()
	if h == nil {
		return
	}

	ifIndex := r.store.IfIndex(iface.ID)
	name := linkName(iface)
	log := r.logger.With("ifindex", ifIndex, "name", name)

	link, err := h.LinkByIndex(ifIndex)
	if err != nil {
		if !linkNotFound(err) {
			log.Warn("Failed to look up kernel link", "error", err)
			return
		}

		attrs := netlink.NewLinkAttrs()
		attrs.Index = ifIndex
		attrs.Name = name
		attrs.MTU = int(iface.MTU)
		attrs.HardwareAddr = iface.MAC
		link = &netlink.Dummy{LinkAttrs: attrs}
		if err := h.LinkAdd(link); err != nil {
			log.Warn("Failed to create kernel link", "error", err)
			return
		}
		log.Debug("Created kernel link")
	} else {
		r.syncAttrs(h, link, iface, name, log)
	}

	if iface.IsUp() {
		err = h.LinkSetUp(link)
	} else {
		err = h.LinkSetDown(link)
	}
	if err != nil {
		log.Warn("Failed to set kernel link state", "up", iface.IsUp(), "error", err)
	}
}

func (r *Reflector) syncAttrs(h linkAPI, link netlink.Link, iface *mirror.Interface, name string, log *slog.Logger) {
	attrs := link.Attrs()

	if attrs.Name != name {
		if err := h.LinkSetName(link, name); err != nil {
			log.Warn("Failed to rename kernel link", "old_name", attrs.Name, "error", err)
		}
	}
	if iface.MTU != 0 && attrs.MTU != int(iface.MTU) {
		if err := h.LinkSetMTU(link, int(iface.MTU)); err != nil {
			log.Warn("Failed to set kernel link MTU", "mtu", iface.MTU, "error", err)
		}
	}
	if len(iface.MAC) > 0 && attrs.HardwareAddr.String() != iface.MAC.String() {
		if err := h.LinkSetHardwareAddr(link, iface.MAC); err != nil {
			log.Warn("Failed to set kernel link MAC", "mac", iface.MAC.String(), "error", err)
		}
	}
}

func (r *Reflector) InterfaceRemoved(iface *mirror.Interface) {
	h := r.api()
	if h == nil {
		return
	}

	ifIndex := r.store.IfIndex(iface.ID)
	link, err := h.LinkByIndex(ifIndex)
	if err != nil {
		return
	}
	if err := h.LinkDel(link); err != nil {
		r.logger.Warn("Failed to delete kernel link", "ifindex", ifIndex, "error", err)
		return
	}
	r.logger.Debug("Deleted kernel link", "ifindex", ifIndex, "name", iface.Name)
}

func (r *Reflector) AddressAdded(iface *mirror.Interface, prefix netaddr.IPPrefix) {
	r.changeAddress(iface, prefix, true)
}

func (r *Reflector) AddressRemoved(iface *mirror.Interface, prefix netaddr.IPPrefix) {
	r.changeAddress(iface, prefix, false)
}

func (r *Reflector) changeAddress(iface *mirror.Interface, prefix netaddr.IPPrefix, add bool) {
	h := r.api()
	if h == nil {
		return
	}

	ifIndex := r.store.IfIndex(iface.ID)
	link, err := h.LinkByIndex(ifIndex)
	if err != nil {
		r.logger.Debug("No kernel link for address change", "ifindex", ifIndex, "prefix", prefix.String())
		return
	}

	addr := &netlink.Addr{IPNet: prefix.IPNet()}
	key := addrKey{ifIndex: ifIndex, prefix: prefix, add: add}

	// Mark before the call so the echoed update cannot race ahead of us.
	r.expect(key)
	if add {
		err = h.AddrAdd(link, addr)
	} else {
		err = h.AddrDel(link, addr)
	}
	if err != nil {
		r.consume(key)
		if (add && errors.Is(err, unix.EEXIST)) || (!add && errors.Is(err, unix.EADDRNOTAVAIL)) {
			return
		}
		r.logger.Warn("Failed to change kernel address", "ifindex", ifIndex, "prefix", prefix.String(), "add", add, "error", err)
	}
}

func (r *Reflector) expect(key addrKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppress[key]++
}

// consume reports whether key was expected and forgets one expectation.
func (r *Reflector) consume(key addrKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.suppress[key]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(r.suppress, key)
	} else {
		r.suppress[key] = n - 1
	}
	return true
}

func (r *Reflector) watch(updates <-chan netlink.AddrUpdate) {
	for {
		select {
		case <-r.Ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				r.logger.Warn("Kernel address subscription closed")
				return
			}
			r.handleAddrUpdate(u)
		}
	}
}

func (r *Reflector) handleAddrUpdate(u netlink.AddrUpdate) {
	prefix, ok := netaddr.FromStdIPNet(&u.LinkAddress)
	if !ok || prefix.IP().IsLinkLocalUnicast() {
		return
	}
	id, ok := r.store.DataplaneID(u.LinkIndex)
	if !ok {
		return
	}
	if _, ok := r.store.Get(id); !ok {
		return
	}
	if r.consume(addrKey{ifIndex: u.LinkIndex, prefix: prefix, add: u.NewAddr}) {
		return
	}

	kind := dplane.OpIntfAddrDel
	if u.NewAddr {
		kind = dplane.OpIntfAddrAdd
	}
	op, err := r.submitter.Submit(kind, dplane.AddressOperand{IfIndex: u.LinkIndex, Prefix: prefix})
	if err != nil {
		r.logger.Warn("Failed to submit kernel address change", "ifindex", u.LinkIndex, "prefix", prefix.String(), "error", err)
		return
	}
	r.logger.Debug("Kernel address change queued", "op", op.String())
}

func linkNotFound(err error) bool {
	var notFound netlink.LinkNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, unix.ENODEV)
}

// linkName turns a dataplane interface name into a valid kernel name. Names
// that do not fit fall back to one derived from the dataplane id.
func linkName(iface *mirror.Interface) string {
	name := strings.Map(func(c rune) rune {
		switch {
		case c == '/' || c == ':' || c == ' ' || c == '\t':
			return '-'
		case c < 0x21 || c > 0x7e:
			return -1
		default:
			return c
		}
	}, iface.Name)

	if name == "" || name == "." || name == ".." || len(name) > maxNameLen {
		return "dp" + strconv.FormatUint(uint64(iface.ID), 10)
	}
	return name
}
