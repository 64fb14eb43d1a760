package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"github.com/veesix-networks/dpsync/pkg/metrics"
	"github.com/veesix-networks/dpsync/pkg/mirror"
	"k8s.io/utils/clock"
)

// Synchronizer rebuilds the mirror from what the dataplane reports.
type Synchronizer struct {
	store   *mirror.Store
	clock   clock.PassiveClock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSynchronizer(store *mirror.Store, clk clock.PassiveClock, m *metrics.Metrics) *Synchronizer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Synchronizer{
		store:   store,
		clock:   clk,
		metrics: m,
		logger:  logger.Get(logger.Provider),
	}
}

// FullSync replaces the mirror with the dataplane's complete inventory. The
// mirror is only touched once every listing succeeded. An empty interface list
// leaves it as it is.
func (s *Synchronizer) FullSync(ctx context.Context, sess dataplane.Session) error {
	start := s.clock.Now()

	recs, err := sess.ListInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	if len(recs) == 0 {
		s.logger.Debug("Dataplane reported no interfaces, mirror left unchanged")
		return nil
	}

	addrs, err := listAllAddresses(ctx, sess)
	if err != nil {
		return err
	}

	byID := make(map[uint32]*mirror.Interface, len(recs))
	ifaces := make([]*mirror.Interface, 0, len(recs))
	for _, rec := range recs {
		iface := mirror.FromRecord(rec)
		byID[rec.ID] = iface
		ifaces = append(ifaces, iface)
	}
	bound := 0
	for _, a := range addrs {
		if iface, ok := byID[a.IfaceID]; ok {
			iface.Addresses = append(iface.Addresses, a.Prefix)
			bound++
		}
	}

	s.store.Replace(ifaces)

	elapsed := s.clock.Since(start)
	s.metrics.FullSync(elapsed.Seconds())
	s.logger.Info("Full sync complete", "interfaces", len(ifaces), "addresses", bound, "duration", elapsed)
	return nil
}

// ApplyInterfaceSnapshot upserts one interface together with the addresses the
// dataplane currently reports for it.
func (s *Synchronizer) ApplyInterfaceSnapshot(ctx context.Context, sess dataplane.Session, rec dataplane.InterfaceRecord) error {
	addrs, err := listAllAddresses(ctx, sess)
	if err != nil {
		return err
	}

	iface := mirror.FromRecord(rec)
	for _, a := range addrs {
		if a.IfaceID == rec.ID {
			iface.Addresses = append(iface.Addresses, a.Prefix)
		}
	}
	s.store.Upsert(iface)
	return nil
}

func listAllAddresses(ctx context.Context, sess dataplane.Session) ([]dataplane.AddressRecord, error) {
	v4, err := sess.ListAddresses(ctx, dataplane.FamilyIPv4)
	if err != nil {
		return nil, fmt.Errorf("list ipv4 addresses: %w", err)
	}
	v6, err := sess.ListAddresses(ctx, dataplane.FamilyIPv6)
	if err != nil {
		return nil, fmt.Errorf("list ipv6 addresses: %w", err)
	}
	return append(v4, v6...), nil
}
