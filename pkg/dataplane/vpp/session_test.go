package vpp

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"go.fd.io/govpp/adapter/mock"
	"go.fd.io/govpp/api"
	interfaces "go.fd.io/govpp/binapi/interface"
	"go.fd.io/govpp/binapi/interface_types"
	"go.fd.io/govpp/binapi/ip"
	"go.fd.io/govpp/core"
	"inet.af/netaddr"
)

// recordingAdapter remembers the name of every request sent to the mock.
type recordingAdapter struct {
	*mock.VppAdapter

	mu   sync.Mutex
	sent []string
}

func (a *recordingAdapter) SendMsg(clientID uint32, data []byte) error {
	if len(data) >= 2 {
		name, _ := a.GetMsgNameByID(binary.BigEndian.Uint16(data[0:2]))
		a.mu.Lock()
		a.sent = append(a.sent, name)
		a.mu.Unlock()
	}
	return a.VppAdapter.SendMsg(clientID, data)
}

func (a *recordingAdapter) requests() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func newMockSession(t *testing.T) (*Session, *recordingAdapter, chan core.ConnectionEvent) {
	t.Helper()

	vpp := &recordingAdapter{VppAdapter: mock.NewVppAdapter()}
	conn, err := core.Connect(vpp)
	require.NoError(t, err)

	events := make(chan core.ConnectionEvent, 1)
	sess, err := newSession(conn, events, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	return sess, vpp, events
}

func TestTranslateEvent(t *testing.T) {
	eth0 := &interfaces.SwInterfaceDetails{
		SwIfIndex:     3,
		InterfaceName: "eth0",
		Type:          interface_types.IF_API_TYPE_HARDWARE,
	}

	tests := []struct {
		name    string
		known   map[uint32]string
		event   *interfaces.SwInterfaceEvent
		details []*interfaces.SwInterfaceDetails
		vrf     uint32
		ok      bool
		kind    dataplane.EventKind
		ifName  string
		sent    []string
	}{
		{
			name:    "unseen index is added",
			known:   map[uint32]string{},
			event:   &interfaces.SwInterfaceEvent{SwIfIndex: 3, Flags: interface_types.IF_STATUS_API_FLAG_LINK_UP},
			details: []*interfaces.SwInterfaceDetails{eth0},
			vrf:     7,
			ok:      true,
			kind:    dataplane.EventIfaceAdded,
			ifName:  "eth0",
			sent:    []string{"sw_interface_dump", "control_ping", "sw_interface_get_table"},
		},
		{
			name:    "seen index with link up",
			known:   map[uint32]string{3: "eth0"},
			event:   &interfaces.SwInterfaceEvent{SwIfIndex: 3, Flags: interface_types.IF_STATUS_API_FLAG_LINK_UP},
			details: []*interfaces.SwInterfaceDetails{eth0},
			vrf:     7,
			ok:      true,
			kind:    dataplane.EventIfaceStatusUp,
			ifName:  "eth0",
			sent:    []string{"sw_interface_dump", "control_ping", "sw_interface_get_table"},
		},
		{
			name:    "seen index with link down",
			known:   map[uint32]string{3: "eth0"},
			event:   &interfaces.SwInterfaceEvent{SwIfIndex: 3, Flags: interface_types.IF_STATUS_API_FLAG_ADMIN_UP},
			details: []*interfaces.SwInterfaceDetails{eth0},
			ok:      true,
			kind:    dataplane.EventIfaceStatusDown,
			ifName:  "eth0",
			sent:    []string{"sw_interface_dump", "control_ping", "sw_interface_get_table"},
		},
		{
			name:   "deleted uses the remembered name",
			known:  map[uint32]string{3: "eth0"},
			event:  &interfaces.SwInterfaceEvent{SwIfIndex: 3, Deleted: true},
			ok:     true,
			kind:   dataplane.EventIfacePreRemove,
			ifName: "eth0",
		},
		{
			name:  "vanished before dump",
			known: map[uint32]string{},
			event: &interfaces.SwInterfaceEvent{SwIfIndex: 3},
			ok:    false,
			sent:  []string{"sw_interface_dump", "control_ping"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, vpp, _ := newMockSession(t)
			sess.known = tt.known

			if !tt.event.Deleted {
				queueInterfaceDump(vpp, tt.details...)
				if len(tt.details) > 0 {
					vpp.MockReply(&interfaces.SwInterfaceGetTableReply{VrfID: tt.vrf})
				}
			}

			ev, ok, err := sess.translateEvent(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.sent, vpp.requests())
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}

			assert.Equal(t, tt.kind, ev.Kind)
			require.NotNil(t, ev.Iface)
			assert.Equal(t, uint32(3), ev.Iface.ID)
			assert.Equal(t, tt.ifName, ev.Iface.Name)

			if tt.event.Deleted {
				assert.NotContains(t, sess.known, uint32(3))
			} else {
				assert.Equal(t, tt.vrf, ev.Iface.VRF)
				assert.Equal(t, "eth0", sess.known[3])
			}
		})
	}
}

func TestAddressPreDump(t *testing.T) {
	addr := dataplane.AddressRecord{IfaceID: 3, Prefix: netaddr.MustParseIPPrefix("192.0.2.1/24")}
	present := &ip.IPAddressDetails{SwIfIndex: 3, Prefix: toAddressWithPrefix(addr.Prefix)}

	const (
		dump    = "ip_address_dump"
		ping    = "control_ping"
		request = "sw_interface_add_del_address"
	)

	tests := []struct {
		name    string
		add     bool
		flags   dataplane.RequestFlags
		current []*ip.IPAddressDetails
		sent    []string
	}{
		{name: "add present with exist-ok", add: true, flags: dataplane.ExistOK, current: []*ip.IPAddressDetails{present}, sent: []string{dump, ping}},
		{name: "add absent with exist-ok", add: true, flags: dataplane.ExistOK, sent: []string{dump, ping, request}},
		{name: "del absent with missing-ok", flags: dataplane.MissingOK, sent: []string{dump, ping}},
		{name: "del present with missing-ok", flags: dataplane.MissingOK, current: []*ip.IPAddressDetails{present}, sent: []string{dump, ping, request}},
		{name: "add without flags", add: true, sent: []string{request}},
		{name: "del without flags", sent: []string{request}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, vpp, _ := newMockSession(t)

			if tt.flags != 0 {
				queueAddressDump(vpp, tt.current...)
			}
			vpp.MockReply(&interfaces.SwInterfaceAddDelAddressReply{})

			var err error
			if tt.add {
				err = sess.AddAddress(context.Background(), addr, tt.flags)
			} else {
				err = sess.DelAddress(context.Background(), addr, tt.flags)
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sent, vpp.requests())
		})
	}
}

func TestRouteRetvalTolerance(t *testing.T) {
	route := dataplane.Route{
		Dest:    netaddr.MustParseIPPrefix("10.0.0.0/8"),
		Gateway: netaddr.MustParseIP("192.0.2.254"),
	}

	tests := []struct {
		name     string
		add      bool
		flags    dataplane.RequestFlags
		retval   int32
		rejected bool
	}{
		{name: "add exists with exist-ok", add: true, flags: dataplane.ExistOK, retval: int32(retvalValueExist)},
		{name: "add exists without flags", add: true, retval: int32(retvalValueExist), rejected: true},
		{name: "add exists with missing-ok", add: true, flags: dataplane.MissingOK, retval: int32(retvalValueExist), rejected: true},
		{name: "add other retval with exist-ok", add: true, flags: dataplane.ExistOK, retval: int32(retvalNoSuchEntry), rejected: true},
		{name: "del missing with missing-ok", flags: dataplane.MissingOK, retval: int32(retvalNoSuchEntry)},
		{name: "del missing without flags", retval: int32(retvalNoSuchEntry), rejected: true},
		{name: "del missing with exist-ok", flags: dataplane.ExistOK, retval: int32(retvalNoSuchEntry), rejected: true},
		{name: "del other retval with missing-ok", flags: dataplane.MissingOK, retval: int32(retvalValueExist), rejected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, vpp, _ := newMockSession(t)
			vpp.MockReply(&ip.IPRouteAddDelReply{Retval: tt.retval})

			var err error
			if tt.add {
				err = sess.AddRoute(context.Background(), route, tt.flags)
			} else {
				err = sess.DelRoute(context.Background(), route, tt.flags)
			}

			if tt.rejected {
				require.Error(t, err)
				assert.True(t, dataplane.IsRejected(err))
				assert.False(t, dataplane.IsTransport(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"ip_route_add_del"}, vpp.requests())
		})
	}
}

func TestNextEventConnectionLoss(t *testing.T) {
	tests := []struct {
		name  string
		state core.ConnectionState
	}{
		{name: "disconnected", state: core.Disconnected},
		{name: "failed", state: core.Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, _, events := newMockSession(t)
			events <- core.ConnectionEvent{Timestamp: time.Now(), State: tt.state, Error: errors.New("socket closed")}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			_, err := sess.NextEvent(ctx)
			require.Error(t, err)
			assert.True(t, dataplane.IsTransport(err))

			var reqErr *dataplane.RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, dataplane.Transport, reqErr.Kind)
			assert.Equal(t, "event_recv", reqErr.Op)
		})
	}
}

func TestNextEventSkipsConnectedState(t *testing.T) {
	sess, _, events := newMockSession(t)
	sess.known[4] = "eth1"

	events <- core.ConnectionEvent{Timestamp: time.Now(), State: core.Connected}
	sess.notif <- &interfaces.SwInterfaceEvent{SwIfIndex: 4, Deleted: true}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, err := sess.NextEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, dataplane.EventIfacePreRemove, ev.Kind)
	require.NotNil(t, ev.Iface)
	assert.Equal(t, "eth1", ev.Iface.Name)
}

func TestNextEventClosedStream(t *testing.T) {
	sess, _, events := newMockSession(t)
	close(events)

	_, err := sess.NextEvent(context.Background())
	require.Error(t, err)
	assert.True(t, dataplane.IsTransport(err))
}

func queueInterfaceDump(vpp *recordingAdapter, details ...*interfaces.SwInterfaceDetails) {
	msgs := make([]api.Message, 0, len(details))
	for _, d := range details {
		msgs = append(msgs, d)
	}
	vpp.MockReply(msgs...)
	vpp.MockReply(&core.ControlPingReply{})
}

func queueAddressDump(vpp *recordingAdapter, details ...*ip.IPAddressDetails) {
	msgs := make([]api.Message, 0, len(details))
	for _, d := range details {
		msgs = append(msgs, d)
	}
	vpp.MockReply(msgs...)
	vpp.MockReply(&core.ControlPingReply{})
}
