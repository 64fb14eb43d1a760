package provider

import (
	"context"
	"log/slog"

	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"github.com/veesix-networks/dpsync/pkg/metrics"
	"github.com/veesix-networks/dpsync/pkg/mirror"
)

// EventLoop applies dataplane notifications to the mirror.
type EventLoop struct {
	store   *mirror.Store
	sync    *Synchronizer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewEventLoop(store *mirror.Store, sync *Synchronizer, m *metrics.Metrics) *EventLoop {
	return &EventLoop{
		store:   store,
		sync:    sync,
		metrics: m,
		logger:  logger.Get(logger.ProviderEvents),
	}
}

// Run blocks on the session's event side until receiving fails and returns
// that error.
func (l *EventLoop) Run(ctx context.Context, sess dataplane.Session) error {
	for {
		ev, err := sess.NextEvent(ctx)
		if err != nil {
			return err
		}
		if err := l.Dispatch(ctx, sess, ev); err != nil {
			return err
		}
	}
}

// Dispatch applies a single event. Only transport failures are returned.
func (l *EventLoop) Dispatch(ctx context.Context, sess dataplane.Session, ev dataplane.Event) error {
	l.metrics.Event(ev.Kind.String())

	switch ev.Kind {
	case dataplane.EventIfaceAdded,
		dataplane.EventIfaceStatusUp,
		dataplane.EventIfaceStatusDown,
		dataplane.EventIfaceReconfigured:
		if ev.Iface == nil {
			l.logger.Warn("Interface event without interface", "event", ev.Kind.String())
			return nil
		}
		l.logger.Debug("Interface event", "event", ev.Kind.String(), "id", ev.Iface.ID, "name", ev.Iface.Name)
		return l.snapshot(ctx, sess, *ev.Iface)

	case dataplane.EventIfacePreRemove:
		if ev.Iface == nil {
			l.logger.Warn("Interface event without interface", "event", ev.Kind.String())
			return nil
		}
		removed := ev.Iface.Name != "" && l.store.RemoveByName(ev.Iface.Name)
		if !removed {
			removed = l.store.Remove(ev.Iface.ID)
		}
		l.logger.Debug("Interface removed", "id", ev.Iface.ID, "name", ev.Iface.Name, "known", removed)

	case dataplane.EventIP4AddrAdd, dataplane.EventIP4AddrDel:
		if ev.Addr == nil {
			l.logger.Warn("Address event without address", "event", ev.Kind.String())
			return nil
		}
		iface, ok := l.store.GetByIfIndex(l.store.IfIndex(ev.Addr.IfaceID))
		if !ok {
			l.logger.Debug("Address event for unknown interface", "id", ev.Addr.IfaceID, "prefix", ev.Addr.Prefix.String())
			return nil
		}
		// The event names one prefix, but the dataplane's full address list is
		// what gets mirrored.
		l.logger.Debug("Address event", "event", ev.Kind.String(), "id", iface.ID, "prefix", ev.Addr.Prefix.String())
		return l.snapshot(ctx, sess, iface.Record())

	case dataplane.EventRouteAdd,
		dataplane.EventRouteDel,
		dataplane.EventNexthopNew,
		dataplane.EventNexthopDel,
		dataplane.EventNexthopUpdate:
		l.logger.Debug("Ignoring dataplane event", "event", ev.Kind.String())

	default:
		l.logger.Warn("Unknown dataplane event", "event", ev.Kind.String())
	}
	return nil
}

func (l *EventLoop) snapshot(ctx context.Context, sess dataplane.Session, rec dataplane.InterfaceRecord) error {
	err := l.sync.ApplyInterfaceSnapshot(ctx, sess, rec)
	if err == nil {
		return nil
	}
	if dataplane.IsTransport(err) {
		return err
	}
	l.logger.Warn("Failed to apply interface snapshot", "id", rec.ID, "error", err)
	return nil
}
