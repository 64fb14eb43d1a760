package fpm

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/veesix-networks/dpsync/pkg/dplane"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
	"inet.af/netaddr"
)

// Values from linux/rtnetlink.h and linux/nexthop.h.
const (
	rtmNewNexthop = 104
	rtmDelNexthop = 105
	rtaNHID       = 30

	sizeofNhmsg = 8
	nhaID       = 1
	nhaOIF      = 5
	nhaGateway  = 6
)

var errShortMessage = errors.New("netlink message too short")

// Message is one decoded operation ready to be submitted.
type Message struct {
	Kind    dplane.OpKind
	Operand dplane.Operand
}

// Decoder turns rtnetlink messages into dataplane operations. It remembers
// next-hop objects so routes that only reference a next-hop id can be
// resolved. A Decoder is not safe for concurrent use.
type Decoder struct {
	nexthops map[uint32]dplane.Nexthop
}

func NewDecoder() *Decoder {
	return &Decoder{nexthops: make(map[uint32]dplane.Nexthop)}
}

// Decode parses every netlink message in payload. Messages of a type the
// bridge does not handle are returned in skipped.
func (d *Decoder) Decode(payload []byte) (msgs []Message, skipped []uint16, err error) {
	nlmsgs, err := syscall.ParseNetlinkMessage(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("parse netlink: %w", err)
	}

	for _, m := range nlmsgs {
		msg, ok, err := d.decodeOne(m)
		if err != nil {
			return msgs, skipped, fmt.Errorf("%s: %w", msgTypeName(m.Header.Type), err)
		}
		if !ok {
			skipped = append(skipped, m.Header.Type)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, skipped, nil
}

func (d *Decoder) decodeOne(m syscall.NetlinkMessage) (Message, bool, error) {
	switch m.Header.Type {
	case unix.RTM_NEWROUTE, unix.RTM_DELROUTE:
		return d.route(m)
	case rtmNewNexthop, rtmDelNexthop:
		return d.nexthop(m)
	case unix.RTM_NEWADDR, unix.RTM_DELADDR:
		return address(m)
	case unix.RTM_NEWLINK, unix.RTM_DELLINK:
		return link(m)
	case unix.RTM_NEWNEIGH, unix.RTM_DELNEIGH:
		return neighbor(m)
	default:
		return Message{}, false, nil
	}
}

func (d *Decoder) route(m syscall.NetlinkMessage) (Message, bool, error) {
	if len(m.Data) < unix.SizeofRtMsg {
		return Message{}, false, errShortMessage
	}
	rtm := nl.DeserializeRtMsg(m.Data)
	attrs, err := nl.ParseRouteAttr(m.Data[unix.SizeofRtMsg:])
	if err != nil {
		return Message{}, false, err
	}

	operand := dplane.RouteOperand{VRF: vrfOf(uint32(rtm.Table))}
	dst := zeroAddr(rtm.Family)
	var nh dplane.Nexthop
	hasNH := false

	for _, a := range attrs {
		switch a.Attr.Type {
		case unix.RTA_DST:
			ip, ok := netaddr.FromStdIP(net.IP(a.Value))
			if !ok {
				return Message{}, false, fmt.Errorf("bad RTA_DST %x", a.Value)
			}
			dst = ip
		case unix.RTA_TABLE:
			operand.VRF = vrfOf(nl.NativeEndian().Uint32(a.Value))
		case unix.RTA_GATEWAY:
			if ip, ok := netaddr.FromStdIP(net.IP(a.Value)); ok {
				nh.Gateway = ip
				hasNH = true
			}
		case unix.RTA_OIF:
			nh.IfIndex = int(nl.NativeEndian().Uint32(a.Value))
			hasNH = true
		case unix.RTA_MULTIPATH:
			if leg, ok := firstLeg(a.Value); ok && !hasNH {
				nh = leg
				hasNH = true
			}
		case rtaNHID:
			id := nl.NativeEndian().Uint32(a.Value)
			if known, ok := d.nexthops[id]; ok {
				nh = known
			} else {
				nh = dplane.Nexthop{ID: id}
			}
			hasNH = true
		}
	}

	operand.Dest = netaddr.IPPrefixFrom(dst, rtm.Dst_len).Masked()
	if hasNH {
		operand.Nexthop = &nh
	}

	kind := dplane.OpRouteInstall
	switch {
	case m.Header.Type == unix.RTM_DELROUTE:
		kind = dplane.OpRouteDelete
	case m.Header.Flags&unix.NLM_F_REPLACE != 0:
		kind = dplane.OpRouteUpdate
	}
	return Message{Kind: kind, Operand: operand}, true, nil
}

// firstLeg returns the first next-hop of an RTA_MULTIPATH payload.
func firstLeg(b []byte) (dplane.Nexthop, bool) {
	if len(b) < unix.SizeofRtNexthop {
		return dplane.Nexthop{}, false
	}
	rtnh := nl.DeserializeRtNexthop(b)
	end := int(rtnh.Len)
	if end < unix.SizeofRtNexthop || end > len(b) {
		return dplane.Nexthop{}, false
	}

	nh := dplane.Nexthop{IfIndex: int(rtnh.Ifindex)}
	attrs, err := nl.ParseRouteAttr(b[unix.SizeofRtNexthop:end])
	if err != nil {
		return nh, true
	}
	for _, a := range attrs {
		if a.Attr.Type == unix.RTA_GATEWAY {
			if ip, ok := netaddr.FromStdIP(net.IP(a.Value)); ok {
				nh.Gateway = ip
			}
		}
	}
	return nh, true
}

func (d *Decoder) nexthop(m syscall.NetlinkMessage) (Message, bool, error) {
	if len(m.Data) < sizeofNhmsg {
		return Message{}, false, errShortMessage
	}
	attrs, err := nl.ParseRouteAttr(m.Data[sizeofNhmsg:])
	if err != nil {
		return Message{}, false, err
	}

	var nh dplane.Nexthop
	for _, a := range attrs {
		switch a.Attr.Type {
		case nhaID:
			nh.ID = nl.NativeEndian().Uint32(a.Value)
		case nhaOIF:
			nh.IfIndex = int(nl.NativeEndian().Uint32(a.Value))
		case nhaGateway:
			if ip, ok := netaddr.FromStdIP(net.IP(a.Value)); ok {
				nh.Gateway = ip
			}
		}
	}
	if nh.ID == 0 {
		return Message{}, false, errors.New("next-hop without id")
	}

	if m.Header.Type == rtmDelNexthop {
		delete(d.nexthops, nh.ID)
		return Message{Kind: dplane.OpNHDelete, Operand: dplane.NexthopOperand{Nexthop: nh}}, true, nil
	}

	kind := dplane.OpNHInstall
	if _, ok := d.nexthops[nh.ID]; ok {
		kind = dplane.OpNHUpdate
	}
	d.nexthops[nh.ID] = nh
	return Message{Kind: kind, Operand: dplane.NexthopOperand{Nexthop: nh}}, true, nil
}

func address(m syscall.NetlinkMessage) (Message, bool, error) {
	if len(m.Data) < unix.SizeofIfAddrmsg {
		return Message{}, false, errShortMessage
	}
	ifa := nl.DeserializeIfAddrmsg(m.Data)
	attrs, err := nl.ParseRouteAttr(m.Data[unix.SizeofIfAddrmsg:])
	if err != nil {
		return Message{}, false, err
	}

	var local, addr netaddr.IP
	for _, a := range attrs {
		switch a.Attr.Type {
		case unix.IFA_LOCAL:
			local, _ = netaddr.FromStdIP(net.IP(a.Value))
		case unix.IFA_ADDRESS:
			addr, _ = netaddr.FromStdIP(net.IP(a.Value))
		}
	}
	if !local.IsZero() {
		addr = local
	}
	if addr.IsZero() {
		return Message{}, false, errors.New("address message without address")
	}

	operand := dplane.AddressOperand{
		IfIndex: int(ifa.Index),
		Prefix:  netaddr.IPPrefixFrom(addr, ifa.Prefixlen),
	}
	kind := dplane.OpAddrInstall
	if m.Header.Type == unix.RTM_DELADDR {
		kind = dplane.OpAddrUninstall
	}
	return Message{Kind: kind, Operand: operand}, true, nil
}

func link(m syscall.NetlinkMessage) (Message, bool, error) {
	if len(m.Data) < unix.SizeofIfInfomsg {
		return Message{}, false, errShortMessage
	}
	hdr := (*unix.NlMsghdr)(&m.Header)
	l, err := netlink.LinkDeserialize(hdr, m.Data)
	if err != nil {
		return Message{}, false, err
	}

	attrs := l.Attrs()
	operand := dplane.InterfaceOperand{
		IfIndex: attrs.Index,
		Name:    attrs.Name,
		MTU:     uint32(attrs.MTU),
	}
	kind := dplane.OpIntfInstall
	if vlan, ok := l.(*netlink.Vlan); ok {
		operand.VlanID = uint16(vlan.VlanId)
		kind = dplane.OpVLANInstall
	}
	if m.Header.Type == unix.RTM_DELLINK {
		kind = dplane.OpIntfDelete
	}
	return Message{Kind: kind, Operand: operand}, true, nil
}

func neighbor(m syscall.NetlinkMessage) (Message, bool, error) {
	n, err := netlink.NeighDeserialize(m.Data)
	if err != nil {
		return Message{}, false, err
	}

	ip, _ := netaddr.FromStdIP(n.IP)
	operand := dplane.NeighborOperand{
		IfIndex: n.LinkIndex,
		IP:      ip,
		MAC:     append(net.HardwareAddr(nil), n.HardwareAddr...),
	}
	kind := dplane.OpNeighInstall
	if m.Header.Type == unix.RTM_DELNEIGH {
		kind = dplane.OpNeighDelete
	}
	return Message{Kind: kind, Operand: operand}, true, nil
}

// vrfOf maps a kernel table id to a dataplane VRF. The main table is the
// default VRF.
func vrfOf(table uint32) uint32 {
	if table == unix.RT_TABLE_MAIN || table == unix.RT_TABLE_UNSPEC {
		return 0
	}
	return table
}

func zeroAddr(family uint8) netaddr.IP {
	if family == unix.AF_INET6 {
		return netaddr.IPv6Unspecified()
	}
	return netaddr.IPv4(0, 0, 0, 0)
}

func msgTypeName(t uint16) string {
	switch t {
	case unix.RTM_NEWROUTE:
		return "RTM_NEWROUTE"
	case unix.RTM_DELROUTE:
		return "RTM_DELROUTE"
	case rtmNewNexthop:
		return "RTM_NEWNEXTHOP"
	case rtmDelNexthop:
		return "RTM_DELNEXTHOP"
	case unix.RTM_NEWADDR:
		return "RTM_NEWADDR"
	case unix.RTM_DELADDR:
		return "RTM_DELADDR"
	case unix.RTM_NEWLINK:
		return "RTM_NEWLINK"
	case unix.RTM_DELLINK:
		return "RTM_DELLINK"
	case unix.RTM_NEWNEIGH:
		return "RTM_NEWNEIGH"
	case unix.RTM_DELNEIGH:
		return "RTM_DELNEIGH"
	default:
		return fmt.Sprintf("type %d", t)
	}
}
