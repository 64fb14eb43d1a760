// Package dataplane defines the control API the synchronization engine consumes
// from a remote dataplane: a request/response session plus an event stream.
package dataplane

import (
	"context"
	"net"

	"inet.af/netaddr"
)

type Family uint8

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// FamilyOf returns the family of a prefix, or 0 when the prefix is unset.
func FamilyOf(p netaddr.IPPrefix) Family {
	switch {
	case p.IP().Is4():
		return FamilyIPv4
	case p.IP().Is6():
		return FamilyIPv6
	default:
		return 0
	}
}

type IfFlags uint8

const (
	IfFlagUp IfFlags = 1 << iota
	IfFlagPromisc
	IfFlagAllMulti
	IfFlagRunning
)

func (f IfFlags) Has(flag IfFlags) bool {
	return f&flag != 0
}

type InterfaceKind uint8

const (
	KindOther InterfaceKind = iota
	KindPort
	KindVLAN
)

func (k InterfaceKind) String() string {
	switch k {
	case KindPort:
		return "port"
	case KindVLAN:
		return "vlan"
	default:
		return "other"
	}
}

type InterfaceRecord struct {
	ID       uint32
	Name     string
	VRF      uint32
	Flags    IfFlags
	MTU      uint32
	MAC      net.HardwareAddr
	Kind     InterfaceKind
	ParentID uint32
	VlanID   uint16
}

type AddressRecord struct {
	IfaceID uint32
	Prefix  netaddr.IPPrefix
}

type Route struct {
	VRF     uint32
	Dest    netaddr.IPPrefix
	Gateway netaddr.IP
	// OutIface is the dataplane id of the outgoing interface, valid when HasOutIface is set.
	OutIface    uint32
	HasOutIface bool
}

type RequestFlags uint8

const (
	// ExistOK makes an add succeed when the object is already present.
	ExistOK RequestFlags = 1 << iota
	// MissingOK makes a delete succeed when the object is already gone.
	MissingOK
)

func (f RequestFlags) Has(flag RequestFlags) bool {
	return f&flag != 0
}

type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventIfaceAdded
	EventIfacePreRemove
	EventIfaceStatusUp
	EventIfaceStatusDown
	EventIfaceReconfigured
	EventIP4AddrAdd
	EventIP4AddrDel
	EventRouteAdd
	EventRouteDel
	EventNexthopNew
	EventNexthopDel
	EventNexthopUpdate
)

var eventKindNames = map[EventKind]string{
	EventIfaceAdded:        "iface-added",
	EventIfacePreRemove:    "iface-pre-remove",
	EventIfaceStatusUp:     "iface-status-up",
	EventIfaceStatusDown:   "iface-status-down",
	EventIfaceReconfigured: "iface-reconfigured",
	EventIP4AddrAdd:        "ip4-addr-add",
	EventIP4AddrDel:        "ip4-addr-del",
	EventRouteAdd:          "route-add",
	EventRouteDel:          "route-del",
	EventNexthopNew:        "nexthop-new",
	EventNexthopDel:        "nexthop-del",
	EventNexthopUpdate:     "nexthop-update",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one notification from the dataplane. Only the payload matching Kind is set.
type Event struct {
	Kind  EventKind
	Iface *InterfaceRecord
	Addr  *AddressRecord
	Route *Route
}

type Dialer interface {
	Open(ctx context.Context) (Session, error)
}

// Session owns the request side and the event side of one dataplane connection.
// Requests are serialized internally. A transport error from any call is fatal to
// the whole session; callers Close it and dial a new one.
type Session interface {
	ID() string
	Subscribe(ctx context.Context) error
	ListInterfaces(ctx context.Context) ([]InterfaceRecord, error)
	ListAddresses(ctx context.Context, family Family) ([]AddressRecord, error)
	AddAddress(ctx context.Context, addr AddressRecord, flags RequestFlags) error
	DelAddress(ctx context.Context, addr AddressRecord, flags RequestFlags) error
	AddRoute(ctx context.Context, route Route, flags RequestFlags) error
	DelRoute(ctx context.Context, route Route, flags RequestFlags) error
	// NextEvent blocks until an event arrives, the transport fails, the session is
	// closed or ctx is done.
	NextEvent(ctx context.Context) (Event, error)
	Close() error
}
