// Package mock is an in-memory dataplane that records every request made to it.
// Tests script its inventory, inject failures per request and push events.
package mock

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"inet.af/netaddr"
)

const (
	OpSubscribe = "subscribe"
	OpIfaceList = "iface_list"
	OpAddrList  = "addr_list"
	OpAddrAdd   = "addr_add"
	OpAddrDel   = "addr_del"
	OpRouteAdd  = "route_add"
	OpRouteDel  = "route_del"
)

var (
	ErrExists  = errors.New("object exists")
	ErrMissing = errors.New("no such object")
)

type Request struct {
	Op      string
	Session string
	Family  dataplane.Family
	Addr    dataplane.AddressRecord
	Route   dataplane.Route
	Flags   dataplane.RequestFlags
}

type routeKey struct {
	vrf  uint32
	dest netaddr.IPPrefix
}

type failure struct {
	err    error
	sticky bool
}

type Dataplane struct {
	mu       sync.Mutex
	ifaces   map[uint32]dataplane.InterfaceRecord
	addrs    map[dataplane.AddressRecord]struct{}
	routes   map[routeKey]dataplane.Route
	requests []Request
	failures map[string]failure
	openErr  error
	opens    int
	current  *Session
}

func New() *Dataplane {
	return &Dataplane{
		ifaces:   make(map[uint32]dataplane.InterfaceRecord),
		addrs:    make(map[dataplane.AddressRecord]struct{}),
		routes:   make(map[routeKey]dataplane.Route),
		failures: make(map[string]failure),
	}
}

func (d *Dataplane) AddInterface(rec dataplane.InterfaceRecord, prefixes ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ifaces[rec.ID] = rec
	for _, p := range prefixes {
		d.addrs[dataplane.AddressRecord{IfaceID: rec.ID, Prefix: netaddr.MustParseIPPrefix(p)}] = struct{}{}
	}
}

func (d *Dataplane) RemoveInterface(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.ifaces, id)
	for a := range d.addrs {
		if a.IfaceID == id {
			delete(d.addrs, a)
		}
	}
}

func (d *Dataplane) HasAddress(id uint32, prefix string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.addrs[dataplane.AddressRecord{IfaceID: id, Prefix: netaddr.MustParseIPPrefix(prefix)}]
	return ok
}

func (d *Dataplane) Route(vrf uint32, dest string) (dataplane.Route, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.routes[routeKey{vrf: vrf, dest: netaddr.MustParseIPPrefix(dest)}]
	return r, ok
}

// Fail makes the next request of kind op return err.
func (d *Dataplane) Fail(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = failure{err: err}
}

// FailAlways makes every request of kind op return err until ClearFailures.
func (d *Dataplane) FailAlways(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = failure{err: err, sticky: true}
}

func (d *Dataplane) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = make(map[string]failure)
	d.openErr = nil
}

// SetOpenError makes Open fail with err wrapped in dataplane.ErrConnect.
func (d *Dataplane) SetOpenError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

func (d *Dataplane) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

// Count returns how many requests of kind op were made.
func (d *Dataplane) Count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.requests {
		if r.Op == op {
			n++
		}
	}
	return n
}

func (d *Dataplane) ResetRequests() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = nil
}

func (d *Dataplane) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Current returns the most recently opened session.
func (d *Dataplane) Current() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Emit delivers ev on the current session's event side. It reports false when
// no session is open.
func (d *Dataplane) Emit(ev dataplane.Event) bool {
	s := d.Current()
	if s == nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
		return false
	}
}

// Break fails the transport of the current session. Pending and future calls on
// it return transport errors.
func (d *Dataplane) Break() {
	if s := d.Current(); s != nil {
		s.breakOnce.Do(func() { close(s.broken) })
	}
}

func (d *Dataplane) Open(ctx context.Context) (dataplane.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if d.openErr != nil {
		return nil, errors.Join(dataplane.ErrConnect, d.openErr)
	}
	s := &Session{
		dp:     d,
		id:     uuid.NewString(),
		events: make(chan dataplane.Event, 64),
		broken: make(chan struct{}),
		closed: make(chan struct{}),
	}
	d.current = s
	return s, nil
}

func (d *Dataplane) record(s *Session, req Request) error {
	req.Session = s.id
	d.requests = append(d.requests, req)

	if f, ok := d.failures[req.Op]; ok {
		if !f.sticky {
			delete(d.failures, req.Op)
		}
		return f.err
	}
	return nil
}

type Session struct {
	dp        *Dataplane
	id        string
	events    chan dataplane.Event
	broken    chan struct{}
	breakOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) check(op string) error {
	if s.Closed() {
		return dataplane.ErrClosed
	}
	select {
	case <-s.broken:
		return dataplane.NewRequestError(dataplane.Transport, op, errors.New("connection reset"))
	default:
		return nil
	}
}

func (s *Session) Subscribe(ctx context.Context) error {
	if err := s.check(OpSubscribe); err != nil {
		return err
	}
	s.dp.mu.Lock()
	defer s.dp.mu.Unlock()
	return s.dp.record(s, Request{Op: OpSubscribe})
}

func (s *Session) ListInterfaces(ctx context.Context) ([]dataplane.InterfaceRecord, error) {
	if err := s.check(OpIfaceList); err != nil {
		return nil, err
	}
	s.dp.mu.Lock()
	defer s.dp.mu.Unlock()

	if err := s.dp.record(s, Request{Op: OpIfaceList}); err != nil {
		return nil, err
	}
	out := make([]dataplane.InterfaceRecord, 0, len(s.dp.ifaces))
	for _, rec := range s.dp.ifaces {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Session) ListAddresses(ctx context.Context, family dataplane.Family) ([]dataplane.AddressRecord, error) {
	if err := s.check(OpAddrList); err != nil {
		return nil, err
	}
	s.dp.mu.Lock()
	defer s.dp.mu.Unlock()

	if err := s.dp.record(s, Request{Op: OpAddrList, Family: family}); err != nil {
		return nil, err
	}
	var out []dataplane.AddressRecord
	for a := range s.dp.addrs {
		if dataplane.FamilyOf(a.Prefix) == family {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IfaceID != out[j].IfaceID {
			return out[i].IfaceID < out[j].IfaceID
		}
		return out[i].Prefix.String() < out[j].Prefix.String()
	})
	return out, nil
}

func (s *Session) AddAddress(ctx context.Context, addr dataplane.AddressRecord, flags dataplane.RequestFlags) error {
	if err := s.check(OpAddrAdd); err != nil {
		return err
	}
	s.dp.mu.Lock()
	defer s.dp.mu.Unlock()

	if err := s.dp.record(s, Request{Op: OpAddrAdd, Addr: addr, Flags: flags}); err != nil {
		return err
	}
	if _, ok := s.dp.ifaces[addr.IfaceID]; !ok {
		return dataplane.NewRequestError(dataplane.Rejected, OpAddrAdd, ErrMissing)
	}
	if _, ok := s.dp.addrs[addr]; ok && !flags.Has(dataplane.ExistOK) {
		return dataplane.NewRequestError(dataplane.Rejected, OpAddrAdd, ErrExists)
	}
	s.dp.addrs[addr] = struct{}{}
	return nil
}

func (s *Session) DelAddress(ctx context.Context, addr dataplane.AddressRecord, flags dataplane.RequestFlags) error {
	if err := s.check(OpAddrDel); err != nil {
		return err
	}
	s.dp.mu.Lock()
	defer s.dp.mu.Unlock()

	if err := s.dp.record(s, Request{Op: OpAddrDel, Addr: addr, Flags: flags}); err != nil {
		return err
	}
	if _, ok := s.dp.addrs[addr]; !ok {
		if flags.Has(dataplane.MissingOK) {
			return nil
		}
		return dataplane.NewRequestError(dataplane.Rejected, OpAddrDel, ErrMissing)
	}
	delete(s.dp.addrs, addr)
	return nil
}

func (s *Session) AddRoute(ctx context.Context, route dataplane.Route, flags dataplane.RequestFlags) error {
	if err := s.check(OpRouteAdd); err != nil {
		return err
	}
	s.dp.mu.Lock()
	defer s.dp.mu.Unlock()

	if err := s.dp.record(s, Request{Op: OpRouteAdd, Route: route, Flags: flags}); err != nil {
		return err
	}
	key := routeKey{vrf: route.VRF, dest: route.Dest}
	if _, ok := s.dp.routes[key]; ok && !flags.Has(dataplane.ExistOK) {
		return dataplane.NewRequestError(dataplane.Rejected, OpRouteAdd, ErrExists)
	}
	s.dp.routes[key] = route
	return nil
}

func (s *Session) DelRoute(ctx context.Context, route dataplane.Route, flags dataplane.RequestFlags) error {
	if err := s.check(OpRouteDel); err != nil {
		return err
	}
	s.dp.mu.Lock()
	defer s.dp.mu.Unlock()

	if err := s.dp.record(s, Request{Op: OpRouteDel, Route: route, Flags: flags}); err != nil {
		return err
	}
	key := routeKey{vrf: route.VRF, dest: route.Dest}
	if _, ok := s.dp.routes[key]; !ok {
		if flags.Has(dataplane.MissingOK) {
			return nil
		}
		return dataplane.NewRequestError(dataplane.Rejected, OpRouteDel, ErrMissing)
	}
	delete(s.dp.routes, key)
	return nil
}

func (s *Session) NextEvent(ctx context.Context) (dataplane.Event, error) {
	select {
	case <-ctx.Done():
		return dataplane.Event{}, ctx.Err()
	case <-s.closed:
		return dataplane.Event{}, dataplane.ErrClosed
	case <-s.broken:
		return dataplane.Event{}, dataplane.NewRequestError(dataplane.Transport, "event_recv", errors.New("connection reset"))
	case ev := <-s.events:
		return ev, nil
	}
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
