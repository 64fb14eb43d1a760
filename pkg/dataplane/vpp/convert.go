package vpp

import (
	"errors"
	"net"
	"strings"

	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"go.fd.io/govpp/api"
	interfaces "go.fd.io/govpp/binapi/interface"
	"go.fd.io/govpp/binapi/interface_types"
	"go.fd.io/govpp/binapi/ip_types"
	"inet.af/netaddr"
)

const (
	retvalNoSuchEntry api.VPPApiError = -6
	retvalValueExist  api.VPPApiError = -56
)

const anyInterface = interface_types.InterfaceIndex(^uint32(0))

func toAddress(ip netaddr.IP) ip_types.Address {
	if ip.Is4() {
		return ip_types.Address{
			Af: ip_types.ADDRESS_IP4,
			Un: ip_types.AddressUnionIP4(ip_types.IP4Address(ip.As4())),
		}
	}
	return ip_types.Address{
		Af: ip_types.ADDRESS_IP6,
		Un: ip_types.AddressUnionIP6(ip_types.IP6Address(ip.As16())),
	}
}

func fromAddress(addr ip_types.Address) netaddr.IP {
	if addr.Af == ip_types.ADDRESS_IP6 {
		return netaddr.IPv6Raw(addr.Un.GetIP6())
	}
	return netaddr.IPFrom4(addr.Un.GetIP4())
}

func toAddressWithPrefix(p netaddr.IPPrefix) ip_types.AddressWithPrefix {
	return ip_types.AddressWithPrefix{
		Address: toAddress(p.IP()),
		Len:     p.Bits(),
	}
}

func toPrefix(p netaddr.IPPrefix) ip_types.Prefix {
	p = p.Masked()
	return ip_types.Prefix{
		Address: toAddress(p.IP()),
		Len:     p.Bits(),
	}
}

func fromAddressWithPrefix(p ip_types.AddressWithPrefix) netaddr.IPPrefix {
	return netaddr.IPPrefixFrom(fromAddress(p.Address), p.Len)
}

func interfaceRecord(d *interfaces.SwInterfaceDetails) dataplane.InterfaceRecord {
	rec := dataplane.InterfaceRecord{
		ID:   uint32(d.SwIfIndex),
		Name: strings.TrimRight(d.InterfaceName, "\x00"),
	}

	if d.Flags&interface_types.IF_STATUS_API_FLAG_ADMIN_UP != 0 {
		rec.Flags |= dataplane.IfFlagUp
	}
	if d.Flags&interface_types.IF_STATUS_API_FLAG_LINK_UP != 0 {
		rec.Flags |= dataplane.IfFlagRunning
	}

	if len(d.Mtu) > 0 && d.Mtu[0] != 0 {
		rec.MTU = d.Mtu[0]
	} else {
		rec.MTU = uint32(d.LinkMtu)
	}

	mac := net.HardwareAddr(d.L2Address[:])
	if !isZeroMAC(mac) {
		rec.MAC = append(net.HardwareAddr(nil), mac...)
	}

	switch d.Type {
	case interface_types.IF_API_TYPE_HARDWARE:
		rec.Kind = dataplane.KindPort
	case interface_types.IF_API_TYPE_SUB:
		rec.Kind = dataplane.KindVLAN
		rec.ParentID = d.SupSwIfIndex
		rec.VlanID = d.SubOuterVlanID
	default:
		rec.Kind = dataplane.KindOther
	}
	return rec
}

func isZeroMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}

// classify sorts a govpp error into the dataplane error kinds. A VPP return
// value is a semantic answer; anything else means the connection is unusable.
func classify(op string, err error) error {
	var vppErr api.VPPApiError
	if errors.As(err, &vppErr) {
		return dataplane.NewRequestError(dataplane.Rejected, op, err)
	}
	if strings.Contains(err.Error(), "timeout") {
		return dataplane.NewRequestError(dataplane.Timeout, op, err)
	}
	return dataplane.NewRequestError(dataplane.Transport, op, err)
}

func isRetval(err error, want api.VPPApiError) bool {
	var vppErr api.VPPApiError
	return errors.As(err, &vppErr) && vppErr == want
}
