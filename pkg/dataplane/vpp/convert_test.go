package vpp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"go.fd.io/govpp/api"
	"go.fd.io/govpp/binapi/fib_types"
	interfaces "go.fd.io/govpp/binapi/interface"
	"go.fd.io/govpp/binapi/interface_types"
	"go.fd.io/govpp/binapi/ip_types"
	"inet.af/netaddr"
)

func TestAddressConversion(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		af     ip_types.AddressFamily
	}{
		{name: "ipv4", prefix: "192.0.2.1/24", af: ip_types.ADDRESS_IP4},
		{name: "ipv6", prefix: "2001:db8::1/64", af: ip_types.ADDRESS_IP6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := netaddr.MustParseIPPrefix(tt.prefix)
			awp := toAddressWithPrefix(p)
			assert.Equal(t, tt.af, awp.Address.Af)
			assert.Equal(t, p.Bits(), awp.Len)
			assert.Equal(t, p, fromAddressWithPrefix(awp))
		})
	}
}

func TestToPrefixMasks(t *testing.T) {
	pfx := toPrefix(netaddr.MustParseIPPrefix("10.1.2.3/16"))
	assert.Equal(t, uint8(16), pfx.Len)
	assert.Equal(t, netaddr.MustParseIP("10.1.0.0"), fromAddress(pfx.Address))
}

func TestInterfaceRecord(t *testing.T) {
	port := &interfaces.SwInterfaceDetails{
		SwIfIndex:     1,
		InterfaceName: "GigabitEthernet0/8/0",
		Flags:         interface_types.IF_STATUS_API_FLAG_ADMIN_UP | interface_types.IF_STATUS_API_FLAG_LINK_UP,
		Type:          interface_types.IF_API_TYPE_HARDWARE,
		LinkMtu:       1500,
		Mtu:           []uint32{9000, 0, 0, 0},
	}
	copy(port.L2Address[:], []byte{0x02, 0, 0, 0, 0, 0x01})

	rec := interfaceRecord(port)
	assert.Equal(t, uint32(1), rec.ID)
	assert.Equal(t, "GigabitEthernet0/8/0", rec.Name)
	assert.True(t, rec.Flags.Has(dataplane.IfFlagUp))
	assert.True(t, rec.Flags.Has(dataplane.IfFlagRunning))
	assert.Equal(t, uint32(9000), rec.MTU)
	assert.Equal(t, "02:00:00:00:00:01", rec.MAC.String())
	assert.Equal(t, dataplane.KindPort, rec.Kind)

	sub := &interfaces.SwInterfaceDetails{
		SwIfIndex:      5,
		SupSwIfIndex:   1,
		InterfaceName:  "GigabitEthernet0/8/0.100",
		Type:           interface_types.IF_API_TYPE_SUB,
		SubOuterVlanID: 100,
		LinkMtu:        1500,
	}

	rec = interfaceRecord(sub)
	assert.Equal(t, dataplane.KindVLAN, rec.Kind)
	assert.Equal(t, uint32(1), rec.ParentID)
	assert.Equal(t, uint16(100), rec.VlanID)
	assert.Equal(t, uint32(1500), rec.MTU)
	assert.Nil(t, rec.MAC)
	assert.False(t, rec.Flags.Has(dataplane.IfFlagUp))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind dataplane.ErrorKind
	}{
		{name: "vpp retval", err: api.VPPApiError(-56), kind: dataplane.Rejected},
		{name: "reply timeout", err: errors.New("no reply received within the timeout period 2s"), kind: dataplane.Timeout},
		{name: "socket", err: errors.New("write: broken pipe"), kind: dataplane.Transport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("addr_add", tt.err)

			var reqErr *dataplane.RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.kind, reqErr.Kind)
			assert.Equal(t, "addr_add", reqErr.Op)
			assert.Equal(t, tt.kind != dataplane.Rejected, dataplane.IsTransport(err))
		})
	}
}

func TestIsRetval(t *testing.T) {
	assert.True(t, isRetval(api.VPPApiError(-56), retvalValueExist))
	assert.False(t, isRetval(api.VPPApiError(-6), retvalValueExist))
	assert.False(t, isRetval(errors.New("other"), retvalNoSuchEntry))
}

func TestRoutePath(t *testing.T) {
	tests := []struct {
		name      string
		route     dataplane.Route
		pathType  fib_types.FibPathType
		swIfIndex uint32
		gateway   string
	}{
		{
			name:      "gateway",
			route:     dataplane.Route{Dest: netaddr.MustParseIPPrefix("10.0.0.0/8"), Gateway: netaddr.MustParseIP("192.0.2.254")},
			pathType:  fib_types.FIB_API_PATH_TYPE_NORMAL,
			swIfIndex: ^uint32(0),
			gateway:   "192.0.2.254",
		},
		{
			name:      "attached",
			route:     dataplane.Route{Dest: netaddr.MustParseIPPrefix("10.0.0.0/8"), OutIface: 3, HasOutIface: true},
			pathType:  fib_types.FIB_API_PATH_TYPE_NORMAL,
			swIfIndex: 3,
			gateway:   "0.0.0.0",
		},
		{
			name:      "no next-hop",
			route:     dataplane.Route{Dest: netaddr.MustParseIPPrefix("10.0.0.0/8")},
			pathType:  fib_types.FIB_API_PATH_TYPE_DROP,
			swIfIndex: ^uint32(0),
			gateway:   "0.0.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := routePath(tt.route)
			assert.Equal(t, tt.pathType, path.Type)
			assert.Equal(t, tt.swIfIndex, path.SwIfIndex)
			assert.Equal(t, fib_types.FIB_API_PATH_NH_PROTO_IP4, path.Proto)
			assert.Equal(t, tt.gateway, netaddr.IPFrom4(path.Nh.Address.GetIP4()).String())
		})
	}
}
