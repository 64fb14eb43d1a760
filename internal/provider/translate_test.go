package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/dataplane/mock"
	"github.com/veesix-networks/dpsync/pkg/dplane"
	"github.com/veesix-networks/dpsync/pkg/mirror"
	"inet.af/netaddr"
)

func newTranslatorFixture(t *testing.T) (*Translator, *staticConn, *mirror.Store, *mock.Dataplane) {
	t.Helper()
	store := mirror.New(1000)
	dp := mock.New()
	dp.AddInterface(portRecord(1, "p0"))
	dp.AddInterface(portRecord(2, "p1"))

	sess := openSession(t, dp)
	require.NoError(t, NewSynchronizer(store, nil, nil).FullSync(context.Background(), sess))
	dp.ResetRequests()

	conn := &staticConn{sess: sess}
	return NewTranslator(conn, store, nil), conn, store, dp
}

func addrOp(kind dplane.OpKind, ifIndex int, prefix string) *dplane.Operation {
	return &dplane.Operation{
		Kind:    kind,
		Operand: dplane.AddressOperand{IfIndex: ifIndex, Prefix: netaddr.MustParseIPPrefix(prefix)},
	}
}

func routeOp(kind dplane.OpKind, dest string, nh *dplane.Nexthop) *dplane.Operation {
	return &dplane.Operation{
		Kind:    kind,
		Operand: dplane.RouteOperand{Dest: netaddr.MustParseIPPrefix(dest), Nexthop: nh},
	}
}

func TestAddressInstallIdempotent(t *testing.T) {
	ctx := context.Background()
	tr, _, store, dp := newTranslatorFixture(t)

	for i := 0; i < 2; i++ {
		assert.Equal(t, dplane.StatusSuccess, tr.Translate(ctx, addrOp(dplane.OpAddrInstall, 1001, "10.0.0.1/24")))
	}
	iface, _ := store.Get(1)
	assert.Equal(t, []netaddr.IPPrefix{netaddr.MustParseIPPrefix("10.0.0.1/24")}, iface.Addresses)
	assert.True(t, dp.HasAddress(1, "10.0.0.1/24"))

	for i := 0; i < 2; i++ {
		assert.Equal(t, dplane.StatusSuccess, tr.Translate(ctx, addrOp(dplane.OpIntfAddrDel, 1001, "10.0.0.1/24")))
	}
	iface, _ = store.Get(1)
	assert.Empty(t, iface.Addresses)
	assert.False(t, dp.HasAddress(1, "10.0.0.1/24"))

	for _, req := range dp.Requests() {
		switch req.Op {
		case mock.OpAddrAdd:
			assert.True(t, req.Flags.Has(dataplane.ExistOK))
		case mock.OpAddrDel:
			assert.True(t, req.Flags.Has(dataplane.MissingOK))
		}
	}
}

func TestAddressIPv6(t *testing.T) {
	tr, _, store, _ := newTranslatorFixture(t)

	status := tr.Translate(context.Background(), addrOp(dplane.OpAddrInstall, 1002, "2001:db8::1/64"))
	assert.Equal(t, dplane.StatusSuccess, status)

	iface, _ := store.Get(2)
	assert.True(t, iface.HasAddress(netaddr.MustParseIPPrefix("2001:db8::1/64")))
}

func TestAddressFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		op   *dplane.Operation
	}{
		{name: "native interface", op: addrOp(dplane.OpAddrInstall, 3, "10.0.0.1/24")},
		{name: "unknown dataplane interface", op: addrOp(dplane.OpAddrInstall, 1099, "10.0.0.1/24")},
		{name: "unset prefix", op: &dplane.Operation{Kind: dplane.OpAddrInstall, Operand: dplane.AddressOperand{IfIndex: 1001}}},
		{name: "wrong operand", op: &dplane.Operation{Kind: dplane.OpAddrUninstall, Operand: dplane.NexthopOperand{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, _, dp := newTranslatorFixture(t)
			assert.Equal(t, dplane.StatusFailure, tr.Translate(ctx, tt.op))
			assert.Empty(t, dp.Requests())
		})
	}
}

func TestAddressRejectedLeavesStore(t *testing.T) {
	tr, conn, store, dp := newTranslatorFixture(t)
	dp.Fail(mock.OpAddrAdd, dataplane.NewRequestError(dataplane.Rejected, mock.OpAddrAdd, errors.New("invalid")))

	status := tr.Translate(context.Background(), addrOp(dplane.OpAddrInstall, 1001, "10.0.0.1/24"))
	assert.Equal(t, dplane.StatusFailure, status)

	iface, _ := store.Get(1)
	assert.Empty(t, iface.Addresses)
	assert.Empty(t, conn.failed, "rejections keep the session")
}

func TestRouteInstallAndDelete(t *testing.T) {
	ctx := context.Background()
	tr, _, _, dp := newTranslatorFixture(t)

	gw := &dplane.Nexthop{Gateway: netaddr.MustParseIP("10.0.0.254"), IfIndex: 1001}
	require.Equal(t, dplane.StatusSuccess, tr.Translate(ctx, routeOp(dplane.OpRouteInstall, "192.0.2.0/24", gw)))
	require.Equal(t, dplane.StatusSuccess, tr.Translate(ctx, routeOp(dplane.OpRouteUpdate, "192.0.2.0/24", gw)))

	r, ok := dp.Route(0, "192.0.2.0/24")
	require.True(t, ok)
	assert.Equal(t, netaddr.MustParseIP("10.0.0.254"), r.Gateway)
	assert.False(t, r.HasOutIface)

	dev := &dplane.Nexthop{IfIndex: 1002}
	require.Equal(t, dplane.StatusSuccess, tr.Translate(ctx, routeOp(dplane.OpRouteInstall, "198.51.100.0/24", dev)))
	r, ok = dp.Route(0, "198.51.100.0/24")
	require.True(t, ok)
	assert.True(t, r.HasOutIface)
	assert.Equal(t, uint32(2), r.OutIface)
	assert.True(t, r.Gateway.IsZero())

	require.Equal(t, dplane.StatusSuccess, tr.Translate(ctx, routeOp(dplane.OpRouteDelete, "192.0.2.0/24", nil)))
	require.Equal(t, dplane.StatusSuccess, tr.Translate(ctx, routeOp(dplane.OpRouteDelete, "192.0.2.0/24", nil)))
	_, ok = dp.Route(0, "192.0.2.0/24")
	assert.False(t, ok)
}

func TestRouteNonIPv4IssuesNoRequest(t *testing.T) {
	ctx := context.Background()
	tr, _, _, dp := newTranslatorFixture(t)

	ops := []*dplane.Operation{
		routeOp(dplane.OpRouteInstall, "2001:db8::/32", nil),
		routeOp(dplane.OpRouteDelete, "2001:db8::/32", nil),
		routeOp(dplane.OpRouteInstall, "192.0.2.0/24", &dplane.Nexthop{Gateway: netaddr.MustParseIP("fe80::1")}),
		routeOp(dplane.OpRouteInstall, "192.0.2.0/24", &dplane.Nexthop{IfIndex: 4}),
	}
	for _, op := range ops {
		assert.Equal(t, dplane.StatusFailure, tr.Translate(ctx, op), op.String())
	}
	assert.Empty(t, dp.Requests())
}

func TestTranslateWithoutSession(t *testing.T) {
	ctx := context.Background()
	tr, conn, _, dp := newTranslatorFixture(t)
	conn.sess = nil

	assert.Equal(t, dplane.StatusFailure, tr.Translate(ctx, addrOp(dplane.OpAddrInstall, 1001, "10.0.0.1/24")))
	assert.Equal(t, dplane.StatusFailure, tr.Translate(ctx, routeOp(dplane.OpRouteInstall, "192.0.2.0/24", nil)))
	assert.Equal(t, dplane.StatusSuccess, tr.Translate(ctx, &dplane.Operation{Kind: dplane.OpNHInstall}))
	assert.Empty(t, dp.Requests())
}

func TestTransportErrorTearsDownSession(t *testing.T) {
	ctx := context.Background()
	tr, conn, _, dp := newTranslatorFixture(t)
	sess := conn.sess
	dp.Break()

	assert.Equal(t, dplane.StatusFailure, tr.Translate(ctx, routeOp(dplane.OpRouteInstall, "192.0.2.0/24", nil)))
	require.Len(t, conn.failed, 1)
	assert.True(t, dataplane.IsTransport(conn.failed[0]))
	assert.True(t, sess.(*mock.Session).Closed())

	assert.Equal(t, dplane.StatusFailure, tr.Translate(ctx, routeOp(dplane.OpRouteInstall, "192.0.2.0/24", nil)))
	assert.Len(t, conn.failed, 1)
}

func TestEveryKindHasAVerdict(t *testing.T) {
	ctx := context.Background()

	succeed := map[dplane.OpKind]bool{
		dplane.OpNone:          true,
		dplane.OpNHInstall:     true,
		dplane.OpNHUpdate:      true,
		dplane.OpNHDelete:      true,
		dplane.OpIntfInstall:   true,
		dplane.OpIntfUpdate:    true,
		dplane.OpIntfDelete:    true,
		dplane.OpIntfNetconfig: true,
		dplane.OpVLANInstall:   true,
	}
	withRequest := map[dplane.OpKind]*dplane.Operation{
		dplane.OpAddrInstall:   addrOp(dplane.OpAddrInstall, 1001, "10.0.0.1/24"),
		dplane.OpAddrUninstall: addrOp(dplane.OpAddrUninstall, 1001, "10.0.0.1/24"),
		dplane.OpIntfAddrAdd:   addrOp(dplane.OpIntfAddrAdd, 1001, "10.0.0.1/24"),
		dplane.OpIntfAddrDel:   addrOp(dplane.OpIntfAddrDel, 1001, "10.0.0.1/24"),
		dplane.OpRouteInstall:  routeOp(dplane.OpRouteInstall, "192.0.2.0/24", nil),
		dplane.OpRouteUpdate:   routeOp(dplane.OpRouteUpdate, "192.0.2.0/24", nil),
		dplane.OpRouteDelete:   routeOp(dplane.OpRouteDelete, "192.0.2.0/24", nil),
	}

	for _, kind := range dplane.OpKinds() {
		t.Run(kind.String(), func(t *testing.T) {
			tr, _, _, dp := newTranslatorFixture(t)

			op, ok := withRequest[kind]
			if ok {
				assert.Equal(t, dplane.StatusSuccess, tr.Translate(ctx, op))
				assert.Len(t, dp.Requests(), 1)
				return
			}

			want := dplane.StatusFailure
			if succeed[kind] {
				want = dplane.StatusSuccess
			}
			assert.Equal(t, want, tr.Translate(ctx, &dplane.Operation{Kind: kind}))
			assert.Empty(t, dp.Requests(), "kind %s must not reach the dataplane", kind)
		})
	}
}
