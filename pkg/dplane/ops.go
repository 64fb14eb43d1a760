// Package dplane models the control plane's forwarding-change log as seen by a
// dataplane provider: operations, the queue they arrive on, and the scheduler
// that drives registered providers.
package dplane

import (
	"fmt"
	"net"

	"inet.af/netaddr"
)

type OpKind uint8

const (
	OpNone OpKind = iota

	OpRouteInstall
	OpRouteUpdate
	OpRouteDelete
	OpRouteNotify

	OpNHInstall
	OpNHUpdate
	OpNHDelete

	OpLSPInstall
	OpLSPUpdate
	OpLSPDelete
	OpLSPNotify

	OpPWInstall
	OpPWUninstall

	OpSysRouteAdd
	OpSysRouteDelete

	OpAddrInstall
	OpAddrUninstall

	OpMACInstall
	OpMACDelete

	OpNeighInstall
	OpNeighUpdate
	OpNeighDelete

	OpVTEPAdd
	OpVTEPDelete

	OpRuleAdd
	OpRuleUpdate
	OpRuleDelete

	OpNeighDiscover
	OpBrPortUpdate

	OpIPTableAdd
	OpIPTableDelete
	OpIPSetAdd
	OpIPSetDelete
	OpIPSetEntryAdd
	OpIPSetEntryDelete

	OpNeighIPInstall
	OpNeighIPDelete
	OpNeighTableUpdate

	OpGRESet

	OpIntfAddrAdd
	OpIntfAddrDel
	OpIntfNetconfig

	OpIntfInstall
	OpIntfUpdate
	OpIntfDelete

	OpVLANInstall

	opKindCount
)

// OpKinds returns every defined kind in declaration order.
func OpKinds() []OpKind {
	kinds := make([]OpKind, 0, opKindCount)
	for k := OpNone; k < opKindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

var opKindNames = [...]string{
	OpNone:             "NONE",
	OpRouteInstall:     "ROUTE_INSTALL",
	OpRouteUpdate:      "ROUTE_UPDATE",
	OpRouteDelete:      "ROUTE_DELETE",
	OpRouteNotify:      "ROUTE_NOTIFY",
	OpNHInstall:        "NH_INSTALL",
	OpNHUpdate:         "NH_UPDATE",
	OpNHDelete:         "NH_DELETE",
	OpLSPInstall:       "LSP_INSTALL",
	OpLSPUpdate:        "LSP_UPDATE",
	OpLSPDelete:        "LSP_DELETE",
	OpLSPNotify:        "LSP_NOTIFY",
	OpPWInstall:        "PW_INSTALL",
	OpPWUninstall:      "PW_UNINSTALL",
	OpSysRouteAdd:      "SYS_ROUTE_ADD",
	OpSysRouteDelete:   "SYS_ROUTE_DEL",
	OpAddrInstall:      "ADDR_INSTALL",
	OpAddrUninstall:    "ADDR_UNINSTALL",
	OpMACInstall:       "MAC_INSTALL",
	OpMACDelete:        "MAC_DELETE",
	OpNeighInstall:     "NEIGH_INSTALL",
	OpNeighUpdate:      "NEIGH_UPDATE",
	OpNeighDelete:      "NEIGH_DELETE",
	OpVTEPAdd:          "VTEP_ADD",
	OpVTEPDelete:       "VTEP_DELETE",
	OpRuleAdd:          "RULE_ADD",
	OpRuleUpdate:       "RULE_UPDATE",
	OpRuleDelete:       "RULE_DELETE",
	OpNeighDiscover:    "NEIGH_DISCOVER",
	OpBrPortUpdate:     "BR_PORT_UPDATE",
	OpIPTableAdd:       "IPTABLE_ADD",
	OpIPTableDelete:    "IPTABLE_DELETE",
	OpIPSetAdd:         "IPSET_ADD",
	OpIPSetDelete:      "IPSET_DELETE",
	OpIPSetEntryAdd:    "IPSET_ENTRY_ADD",
	OpIPSetEntryDelete: "IPSET_ENTRY_DELETE",
	OpNeighIPInstall:   "NEIGH_IP_INSTALL",
	OpNeighIPDelete:    "NEIGH_IP_DELETE",
	OpNeighTableUpdate: "NEIGH_TABLE_UPDATE",
	OpGRESet:           "GRE_SET",
	OpIntfAddrAdd:      "INTF_ADDR_ADD",
	OpIntfAddrDel:      "INTF_ADDR_DEL",
	OpIntfNetconfig:    "INTF_NETCONFIG",
	OpIntfInstall:      "INTF_INSTALL",
	OpIntfUpdate:       "INTF_UPDATE",
	OpIntfDelete:       "INTF_DELETE",
	OpVLANInstall:      "VLAN_INSTALL",
}

func (k OpKind) String() string {
	if int(k) < len(opKindNames) && opKindNames[k] != "" {
		return opKindNames[k]
	}
	return fmt.Sprintf("OP_%d", uint8(k))
}

type Status uint8

const (
	StatusQueued Status = iota
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "queued"
	}
}

// Operand is the kind-specific payload of an Operation.
type Operand interface {
	operand()
}

// AddressOperand binds or unbinds Prefix on the control-plane interface IfIndex.
type AddressOperand struct {
	IfIndex int
	Prefix  netaddr.IPPrefix
}

type Nexthop struct {
	ID      uint32
	Gateway netaddr.IP
	IfIndex int
}

// InterfaceOnly reports whether the next-hop names an outgoing interface and
// no gateway.
func (n Nexthop) InterfaceOnly() bool {
	return n.Gateway.IsZero()
}

type RouteOperand struct {
	VRF     uint32
	Dest    netaddr.IPPrefix
	Nexthop *Nexthop
}

type NexthopOperand struct {
	Nexthop Nexthop
}

type InterfaceOperand struct {
	IfIndex int
	Name    string
	MTU     uint32
	VlanID  uint16
}

// NeighborOperand carries a neighbor entry learned by the control plane.
type NeighborOperand struct {
	IfIndex int
	IP      netaddr.IP
	MAC     net.HardwareAddr
}

func (AddressOperand) operand()   {}
func (RouteOperand) operand()     {}
func (NexthopOperand) operand()   {}
func (InterfaceOperand) operand() {}
func (NeighborOperand) operand()  {}

type Operation struct {
	Seq     uint64
	Kind    OpKind
	Operand Operand
	Status  Status
}

func (o *Operation) String() string {
	switch v := o.Operand.(type) {
	case AddressOperand:
		return fmt.Sprintf("%s seq=%d ifindex=%d prefix=%s", o.Kind, o.Seq, v.IfIndex, v.Prefix)
	case RouteOperand:
		if v.Nexthop != nil {
			return fmt.Sprintf("%s seq=%d vrf=%d dest=%s via=%s ifindex=%d", o.Kind, o.Seq, v.VRF, v.Dest, v.Nexthop.Gateway, v.Nexthop.IfIndex)
		}
		return fmt.Sprintf("%s seq=%d vrf=%d dest=%s", o.Kind, o.Seq, v.VRF, v.Dest)
	case NexthopOperand:
		return fmt.Sprintf("%s seq=%d nhid=%d", o.Kind, o.Seq, v.Nexthop.ID)
	case InterfaceOperand:
		return fmt.Sprintf("%s seq=%d ifindex=%d name=%s", o.Kind, o.Seq, v.IfIndex, v.Name)
	case NeighborOperand:
		return fmt.Sprintf("%s seq=%d ifindex=%d ip=%s lladdr=%s", o.Kind, o.Seq, v.IfIndex, v.IP, v.MAC)
	default:
		return fmt.Sprintf("%s seq=%d", o.Kind, o.Seq)
	}
}
