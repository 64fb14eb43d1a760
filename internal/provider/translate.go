package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/dplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"github.com/veesix-networks/dpsync/pkg/metrics"
	"github.com/veesix-networks/dpsync/pkg/mirror"
)

var errNoNexthop = errors.New("route has no usable next-hop")

type sessionSource interface {
	Session() (dataplane.Session, bool)
	Fail(sess dataplane.Session, err error)
}

// Translator maps each forwarding operation onto at most one dataplane request.
type Translator struct {
	conn    sessionSource
	store   *mirror.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewTranslator(conn sessionSource, store *mirror.Store, m *metrics.Metrics) *Translator {
	return &Translator{
		conn:    conn,
		store:   store,
		metrics: m,
		logger:  logger.Get(logger.ProviderTranslate),
	}
}

func (t *Translator) Translate(ctx context.Context, op *dplane.Operation) dplane.Status {
	err := t.translate(ctx, op)
	t.metrics.Operation(op.Kind.String(), err == nil)
	if err != nil {
		t.logger.Debug("Operation failed", "op", op.String(), "error", err)
		return dplane.StatusFailure
	}
	t.logger.Debug("Operation applied", "op", op.String())
	return dplane.StatusSuccess
}

func (t *Translator) translate(ctx context.Context, op *dplane.Operation) error {
	switch op.Kind {
	case dplane.OpNone:
		return nil

	case dplane.OpAddrInstall, dplane.OpIntfAddrAdd:
		return t.address(ctx, op, true)
	case dplane.OpAddrUninstall, dplane.OpIntfAddrDel:
		return t.address(ctx, op, false)

	case dplane.OpRouteInstall, dplane.OpRouteUpdate:
		return t.route(ctx, op, true)
	case dplane.OpRouteDelete:
		return t.route(ctx, op, false)

	// The dataplane derives next-hops from the routes that use them.
	case dplane.OpNHInstall, dplane.OpNHUpdate, dplane.OpNHDelete:
		return nil

	// Interfaces are owned by the dataplane.
	case dplane.OpIntfInstall, dplane.OpIntfUpdate, dplane.OpIntfDelete,
		dplane.OpIntfNetconfig, dplane.OpVLANInstall:
		return nil

	case dplane.OpRouteNotify,
		dplane.OpLSPInstall, dplane.OpLSPUpdate, dplane.OpLSPDelete, dplane.OpLSPNotify,
		dplane.OpPWInstall, dplane.OpPWUninstall,
		dplane.OpSysRouteAdd, dplane.OpSysRouteDelete,
		dplane.OpMACInstall, dplane.OpMACDelete,
		dplane.OpNeighInstall, dplane.OpNeighUpdate, dplane.OpNeighDelete,
		dplane.OpVTEPAdd, dplane.OpVTEPDelete,
		dplane.OpRuleAdd, dplane.OpRuleUpdate, dplane.OpRuleDelete,
		dplane.OpNeighDiscover, dplane.OpBrPortUpdate,
		dplane.OpIPTableAdd, dplane.OpIPTableDelete,
		dplane.OpIPSetAdd, dplane.OpIPSetDelete,
		dplane.OpIPSetEntryAdd, dplane.OpIPSetEntryDelete,
		dplane.OpNeighIPInstall, dplane.OpNeighIPDelete, dplane.OpNeighTableUpdate,
		dplane.OpGRESet:
		return fmt.Errorf("%s: %w", op.Kind, dataplane.ErrUnsupported)

	default:
		return fmt.Errorf("%s: %w", op.Kind, dataplane.ErrUnsupported)
	}
}

func (t *Translator) address(ctx context.Context, op *dplane.Operation, add bool) error {
	operand, ok := op.Operand.(dplane.AddressOperand)
	if !ok {
		return fmt.Errorf("%s: unexpected operand %T", op.Kind, op.Operand)
	}
	if dataplane.FamilyOf(operand.Prefix) == 0 {
		return fmt.Errorf("address %s: %w", operand.Prefix, dataplane.ErrUnsupported)
	}

	sess, ok := t.conn.Session()
	if !ok {
		return dataplane.ErrNotConnected
	}

	iface, ok := t.store.GetByIfIndex(operand.IfIndex)
	if !ok {
		return fmt.Errorf("no dataplane interface with ifindex %d", operand.IfIndex)
	}

	rec := dataplane.AddressRecord{IfaceID: iface.ID, Prefix: operand.Prefix}
	var err error
	if add {
		err = sess.AddAddress(ctx, rec, dataplane.ExistOK)
	} else {
		err = sess.DelAddress(ctx, rec, dataplane.MissingOK)
	}
	if err != nil {
		return t.requestFailed(sess, err)
	}

	if add {
		t.store.AddAddress(iface.ID, operand.Prefix)
	} else {
		t.store.RemoveAddress(iface.ID, operand.Prefix)
	}
	return nil
}

func (t *Translator) route(ctx context.Context, op *dplane.Operation, add bool) error {
	operand, ok := op.Operand.(dplane.RouteOperand)
	if !ok {
		return fmt.Errorf("%s: unexpected operand %T", op.Kind, op.Operand)
	}
	if dataplane.FamilyOf(operand.Dest) != dataplane.FamilyIPv4 {
		return fmt.Errorf("route %s: %w", operand.Dest, dataplane.ErrUnsupported)
	}

	r := dataplane.Route{VRF: operand.VRF, Dest: operand.Dest}
	if nh := operand.Nexthop; nh != nil {
		if !nh.InterfaceOnly() {
			if !nh.Gateway.Is4() {
				return fmt.Errorf("route %s via %s: %w", operand.Dest, nh.Gateway, dataplane.ErrUnsupported)
			}
			r.Gateway = nh.Gateway
		} else if iface, ok := t.store.GetByIfIndex(nh.IfIndex); ok {
			r.OutIface = iface.ID
			r.HasOutIface = true
		} else if add {
			// A path with neither gateway nor interface is installed as a drop route.
			return fmt.Errorf("route %s dev ifindex %d: %w", operand.Dest, nh.IfIndex, errNoNexthop)
		}
	}

	sess, ok := t.conn.Session()
	if !ok {
		return dataplane.ErrNotConnected
	}

	var err error
	if add {
		err = sess.AddRoute(ctx, r, dataplane.ExistOK)
	} else {
		err = sess.DelRoute(ctx, r, dataplane.MissingOK)
	}
	if err != nil {
		return t.requestFailed(sess, err)
	}
	return nil
}

func (t *Translator) requestFailed(sess dataplane.Session, err error) error {
	if dataplane.IsTransport(err) {
		t.conn.Fail(sess, err)
	}
	return err
}
