package vpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"go.fd.io/govpp/api"
	"go.fd.io/govpp/binapi/fib_types"
	interfaces "go.fd.io/govpp/binapi/interface"
	"go.fd.io/govpp/binapi/interface_types"
	"go.fd.io/govpp/binapi/ip"
	"go.fd.io/govpp/core"
	"inet.af/netaddr"
)

const notificationBuffer = 256

// Session holds one VPP connection with a request channel and a notification
// channel. Requests are serialized by mu.
type Session struct {
	id     string
	conn   *core.Connection
	logger *slog.Logger

	connEvents chan core.ConnectionEvent
	notif      chan api.Message
	sub        api.SubscriptionCtx
	evCh       api.Channel

	mu    sync.Mutex
	reqCh api.Channel
	// names of interfaces seen so far, keyed by sw_if_index
	known map[uint32]string

	closed    chan struct{}
	closeOnce sync.Once
}

var _ dataplane.Session = (*Session)(nil)

func newSession(conn *core.Connection, connEvents chan core.ConnectionEvent, timeout time.Duration) (*Session, error) {
	reqCh, err := conn.NewAPIChannel()
	if err != nil {
		return nil, fmt.Errorf("create request channel: %w", err)
	}
	reqCh.SetReplyTimeout(timeout)

	evCh, err := conn.NewAPIChannel()
	if err != nil {
		reqCh.Close()
		return nil, fmt.Errorf("create event channel: %w", err)
	}

	notif := make(chan api.Message, notificationBuffer)
	sub, err := evCh.SubscribeNotification(notif, &interfaces.SwInterfaceEvent{})
	if err != nil {
		evCh.Close()
		reqCh.Close()
		return nil, fmt.Errorf("subscribe interface events: %w", err)
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		conn:       conn,
		logger:     logger.WithSession(logger.Get(logger.Dataplane), id),
		connEvents: connEvents,
		notif:      notif,
		sub:        sub,
		evCh:       evCh,
		reqCh:      reqCh,
		known:      make(map[uint32]string),
		closed:     make(chan struct{}),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Debug("Failed to unsubscribe interface events", "error", err)
		}
		s.evCh.Close()
		s.reqCh.Close()
		s.conn.Disconnect()
		s.logger.Debug("VPP session closed")
	})
	return nil
}

// begin takes the request lock. It fails when the session is closed or ctx is
// already done.
func (s *Session) begin(ctx context.Context) error {
	select {
	case <-s.closed:
		return dataplane.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return dataplane.ErrClosed
	default:
	}
	return nil
}

func (s *Session) Subscribe(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	req := &interfaces.WantInterfaceEvents{
		EnableDisable: 1,
		PID:           uint32(os.Getpid()),
	}
	reply := &interfaces.WantInterfaceEventsReply{}
	if err := s.reqCh.SendRequest(req).ReceiveReply(reply); err != nil {
		return classify("want_interface_events", err)
	}
	return nil
}

func (s *Session) ListInterfaces(ctx context.Context) ([]dataplane.InterfaceRecord, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	recs, err := s.dumpInterfaces(anyInterface)
	if err != nil {
		return nil, err
	}

	for i := range recs {
		vrf, err := s.interfaceTable(recs[i].ID)
		if err != nil {
			return nil, err
		}
		recs[i].VRF = vrf
	}

	s.known = make(map[uint32]string, len(recs))
	for _, rec := range recs {
		s.known[rec.ID] = rec.Name
	}

	s.logger.Debug("Dumped interfaces", "count", len(recs))
	return recs, nil
}

func (s *Session) ListAddresses(ctx context.Context, family dataplane.Family) ([]dataplane.AddressRecord, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	recs, err := s.dumpInterfaces(anyInterface)
	if err != nil {
		return nil, err
	}

	var out []dataplane.AddressRecord
	for _, rec := range recs {
		prefixes, err := s.dumpAddresses(rec.ID, family)
		if err != nil {
			return nil, err
		}
		for _, p := range prefixes {
			out = append(out, dataplane.AddressRecord{IfaceID: rec.ID, Prefix: p})
		}
	}
	return out, nil
}

func (s *Session) AddAddress(ctx context.Context, addr dataplane.AddressRecord, flags dataplane.RequestFlags) error {
	return s.addDelAddress(ctx, addr, true, flags.Has(dataplane.ExistOK))
}

func (s *Session) DelAddress(ctx context.Context, addr dataplane.AddressRecord, flags dataplane.RequestFlags) error {
	return s.addDelAddress(ctx, addr, false, flags.Has(dataplane.MissingOK))
}

func (s *Session) addDelAddress(ctx context.Context, addr dataplane.AddressRecord, add, tolerate bool) error {
	op := "addr_del"
	if add {
		op = "addr_add"
	}
	family := dataplane.FamilyOf(addr.Prefix)
	if family == 0 {
		return dataplane.NewRequestError(dataplane.Rejected, op, dataplane.ErrUnsupported)
	}

	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if tolerate {
		current, err := s.dumpAddresses(addr.IfaceID, family)
		if err != nil {
			return err
		}
		present := false
		for _, p := range current {
			if p == addr.Prefix {
				present = true
				break
			}
		}
		if present == add {
			s.logger.Debug("Address already in requested state", "sw_if_index", addr.IfaceID, "prefix", addr.Prefix.String(), "add", add)
			return nil
		}
	}

	req := &interfaces.SwInterfaceAddDelAddress{
		SwIfIndex: interface_types.InterfaceIndex(addr.IfaceID),
		IsAdd:     add,
		Prefix:    toAddressWithPrefix(addr.Prefix),
	}
	reply := &interfaces.SwInterfaceAddDelAddressReply{}
	if err := s.reqCh.SendRequest(req).ReceiveReply(reply); err != nil {
		return classify(op, err)
	}

	s.logger.Debug("Interface address updated", "sw_if_index", addr.IfaceID, "prefix", addr.Prefix.String(), "add", add)
	return nil
}

func (s *Session) AddRoute(ctx context.Context, route dataplane.Route, flags dataplane.RequestFlags) error {
	return s.addDelRoute(ctx, route, true, flags)
}

func (s *Session) DelRoute(ctx context.Context, route dataplane.Route, flags dataplane.RequestFlags) error {
	return s.addDelRoute(ctx, route, false, flags)
}

func (s *Session) addDelRoute(ctx context.Context, route dataplane.Route, add bool, flags dataplane.RequestFlags) error {
	op := "route_del"
	if add {
		op = "route_add"
	}
	if dataplane.FamilyOf(route.Dest) != dataplane.FamilyIPv4 {
		return dataplane.NewRequestError(dataplane.Rejected, op, dataplane.ErrUnsupported)
	}

	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	req := &ip.IPRouteAddDel{
		IsAdd: add,
		Route: ip.IPRoute{
			TableID: route.VRF,
			Prefix:  toPrefix(route.Dest),
		},
	}
	if add {
		req.Route.Paths = []fib_types.FibPath{routePath(route)}
		req.Route.NPaths = 1
	}

	reply := &ip.IPRouteAddDelReply{}
	err := s.reqCh.SendRequest(req).ReceiveReply(reply)
	switch {
	case err == nil:
	case add && flags.Has(dataplane.ExistOK) && isRetval(err, retvalValueExist):
	case !add && flags.Has(dataplane.MissingOK) && isRetval(err, retvalNoSuchEntry):
	default:
		return classify(op, err)
	}

	s.logger.Debug("Route updated", "table", route.VRF, "prefix", route.Dest.String(), "add", add)
	return nil
}

func routePath(route dataplane.Route) fib_types.FibPath {
	path := fib_types.FibPath{
		SwIfIndex: ^uint32(0),
		Proto:     fib_types.FIB_API_PATH_NH_PROTO_IP4,
		Type:      fib_types.FIB_API_PATH_TYPE_NORMAL,
	}
	if route.HasOutIface {
		path.SwIfIndex = route.OutIface
	}
	switch {
	case !route.Gateway.IsZero():
		path.Nh.Address = toAddress(route.Gateway).Un
	case !route.HasOutIface:
		path.Type = fib_types.FIB_API_PATH_TYPE_DROP
	}
	return path
}

func (s *Session) NextEvent(ctx context.Context) (dataplane.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return dataplane.Event{}, ctx.Err()
		case <-s.closed:
			return dataplane.Event{}, dataplane.ErrClosed
		case ev, ok := <-s.connEvents:
			if !ok {
				return dataplane.Event{}, dataplane.NewRequestError(dataplane.Transport, "event_recv", errors.New("connection event stream closed"))
			}
			switch ev.State {
			case core.Disconnected, core.Failed:
				return dataplane.Event{}, dataplane.NewRequestError(dataplane.Transport, "event_recv", fmt.Errorf("vpp %s: %v", ev.State, ev.Error))
			default:
				s.logger.Debug("VPP connection event", "state", ev.State.String())
			}
		case msg := <-s.notif:
			e, ok := msg.(*interfaces.SwInterfaceEvent)
			if !ok {
				continue
			}
			ev, ok, err := s.translateEvent(ctx, e)
			if err != nil {
				return dataplane.Event{}, err
			}
			if ok {
				return ev, nil
			}
		}
	}
}

func (s *Session) translateEvent(ctx context.Context, e *interfaces.SwInterfaceEvent) (dataplane.Event, bool, error) {
	id := uint32(e.SwIfIndex)

	if e.Deleted {
		if err := s.begin(ctx); err != nil {
			return dataplane.Event{}, false, err
		}
		name := s.known[id]
		delete(s.known, id)
		s.mu.Unlock()

		return dataplane.Event{
			Kind:  dataplane.EventIfacePreRemove,
			Iface: &dataplane.InterfaceRecord{ID: id, Name: name},
		}, true, nil
	}

	if err := s.begin(ctx); err != nil {
		return dataplane.Event{}, false, err
	}
	defer s.mu.Unlock()

	recs, err := s.dumpInterfaces(e.SwIfIndex)
	if err != nil {
		return dataplane.Event{}, false, err
	}
	if len(recs) == 0 {
		s.logger.Debug("Interface vanished before it could be dumped", "sw_if_index", id)
		return dataplane.Event{}, false, nil
	}
	rec := recs[0]
	if vrf, err := s.interfaceTable(id); err == nil {
		rec.VRF = vrf
	} else if dataplane.IsTransport(err) {
		return dataplane.Event{}, false, err
	}

	kind := dataplane.EventIfaceStatusDown
	if _, seen := s.known[id]; !seen {
		kind = dataplane.EventIfaceAdded
	} else if e.Flags&interface_types.IF_STATUS_API_FLAG_LINK_UP != 0 {
		kind = dataplane.EventIfaceStatusUp
	}
	s.known[id] = rec.Name

	return dataplane.Event{Kind: kind, Iface: &rec}, true, nil
}

func (s *Session) dumpInterfaces(index interface_types.InterfaceIndex) ([]dataplane.InterfaceRecord, error) {
	req := &interfaces.SwInterfaceDump{SwIfIndex: index}
	stream := s.reqCh.SendMultiRequest(req)

	var recs []dataplane.InterfaceRecord
	for {
		reply := &interfaces.SwInterfaceDetails{}
		stop, err := stream.ReceiveReply(reply)
		if stop {
			break
		}
		if err != nil {
			return nil, classify("iface_list", err)
		}
		recs = append(recs, interfaceRecord(reply))
	}
	return recs, nil
}

func (s *Session) dumpAddresses(id uint32, family dataplane.Family) ([]netaddr.IPPrefix, error) {
	req := &ip.IPAddressDump{
		SwIfIndex: interface_types.InterfaceIndex(id),
		IsIPv6:    family == dataplane.FamilyIPv6,
	}
	stream := s.reqCh.SendMultiRequest(req)

	var out []netaddr.IPPrefix
	for {
		reply := &ip.IPAddressDetails{}
		stop, err := stream.ReceiveReply(reply)
		if stop {
			break
		}
		if err != nil {
			return nil, classify("addr_list", err)
		}
		out = append(out, fromAddressWithPrefix(reply.Prefix))
	}
	return out, nil
}

func (s *Session) interfaceTable(id uint32) (uint32, error) {
	req := &interfaces.SwInterfaceGetTable{SwIfIndex: interface_types.InterfaceIndex(id)}
	reply := &interfaces.SwInterfaceGetTableReply{}
	if err := s.reqCh.SendRequest(req).ReceiveReply(reply); err != nil {
		return 0, classify("iface_get_table", err)
	}
	return reply.VrfID, nil
}
