package mirror

import (
	"net"

	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"inet.af/netaddr"
)

type Interface struct {
	ID        uint32
	Name      string
	VRF       uint32
	Flags     dataplane.IfFlags
	MTU       uint32
	MAC       net.HardwareAddr
	Kind      dataplane.InterfaceKind
	ParentID  uint32
	VlanID    uint16
	Addresses []netaddr.IPPrefix
}

func FromRecord(rec dataplane.InterfaceRecord) *Interface {
	iface := &Interface{
		ID:       rec.ID,
		Name:     rec.Name,
		VRF:      rec.VRF,
		Flags:    rec.Flags,
		MTU:      rec.MTU,
		Kind:     rec.Kind,
		ParentID: rec.ParentID,
		VlanID:   rec.VlanID,
	}
	if len(rec.MAC) > 0 {
		iface.MAC = append(net.HardwareAddr(nil), rec.MAC...)
	}
	return iface
}

// Record returns the interface attributes without its addresses.
func (i *Interface) Record() dataplane.InterfaceRecord {
	rec := dataplane.InterfaceRecord{
		ID:       i.ID,
		Name:     i.Name,
		VRF:      i.VRF,
		Flags:    i.Flags,
		MTU:      i.MTU,
		Kind:     i.Kind,
		ParentID: i.ParentID,
		VlanID:   i.VlanID,
	}
	if len(i.MAC) > 0 {
		rec.MAC = append(net.HardwareAddr(nil), i.MAC...)
	}
	return rec
}

func (i *Interface) IsUp() bool {
	return i.Flags.Has(dataplane.IfFlagUp)
}

func (i *Interface) IsRunning() bool {
	return i.Flags.Has(dataplane.IfFlagRunning)
}

func (i *Interface) HasAddress(prefix netaddr.IPPrefix) bool {
	for _, existing := range i.Addresses {
		if existing == prefix {
			return true
		}
	}
	return false
}

func (i *Interface) Clone() *Interface {
	c := *i
	if i.MAC != nil {
		c.MAC = append(net.HardwareAddr(nil), i.MAC...)
	}
	if i.Addresses != nil {
		c.Addresses = append([]netaddr.IPPrefix(nil), i.Addresses...)
	}
	return &c
}

func (i *Interface) sameAttrs(o *Interface) bool {
	return i.Name == o.Name &&
		i.VRF == o.VRF &&
		i.Flags == o.Flags &&
		i.MTU == o.MTU &&
		i.Kind == o.Kind &&
		i.ParentID == o.ParentID &&
		i.VlanID == o.VlanID &&
		i.MAC.String() == o.MAC.String()
}
