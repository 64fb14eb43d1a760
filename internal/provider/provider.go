// Package provider plugs a remote dataplane into the forwarding-operation
// pipeline. It keeps a session to the dataplane alive, mirrors the dataplane's
// interfaces and translates queued operations into dataplane requests.
package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/dplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"github.com/veesix-networks/dpsync/pkg/metrics"
	"github.com/veesix-networks/dpsync/pkg/mirror"
	"k8s.io/utils/clock"
)

const DefaultName = "dplane_vpp"

var errNotStarted = errors.New("provider not started")

type Config struct {
	Name          string
	Priority      dplane.Priority
	RetryInterval time.Duration
	Clock         clock.Clock
}

type Provider struct {
	cfg     Config
	dialer  dataplane.Dialer
	store   *mirror.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu         sync.RWMutex
	conn       *ConnectionManager
	translator *Translator
}

func New(cfg Config, dialer dataplane.Dialer, store *mirror.Store, m *metrics.Metrics) *Provider {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	return &Provider{
		cfg:     cfg,
		dialer:  dialer,
		store:   store,
		metrics: m,
		logger:  logger.Get(logger.Provider),
	}
}

func (p *Provider) Name() string {
	return p.cfg.Name
}

func (p *Provider) Priority() dplane.Priority {
	return p.cfg.Priority
}

func (p *Provider) Store() *mirror.Store {
	return p.store
}

// State reports the connection state, or disconnected before Start.
func (p *Provider) State() ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.conn == nil {
		return StateDisconnected
	}
	return p.conn.State()
}

func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return errors.New("provider already started")
	}

	syncer := NewSynchronizer(p.store, p.cfg.Clock, p.metrics)
	p.conn = NewConnectionManager(ConnectionConfig{
		Dialer:        p.dialer,
		Synchronizer:  syncer,
		Events:        NewEventLoop(p.store, syncer, p.metrics),
		Clock:         p.cfg.Clock,
		RetryInterval: p.cfg.RetryInterval,
		Metrics:       p.metrics,
	})
	p.translator = NewTranslator(p.conn, p.store, p.metrics)

	p.logger.Info("Starting dataplane provider", "name", p.cfg.Name, "priority", p.cfg.Priority.String())
	p.conn.Start(ctx)
	return nil
}

// Process drains at most host.WorkLimit() operations, writing a verdict on each
// and handing it back. Stopping at the limit with work left asks the host to
// schedule another run.
func (p *Provider) Process(ctx context.Context, host dplane.Host) error {
	p.mu.RLock()
	translator := p.translator
	p.mu.RUnlock()

	if translator == nil {
		return errNotStarted
	}

	limit := host.WorkLimit()
	n := 0
	for ; n < limit; n++ {
		op, ok := host.Dequeue()
		if !ok {
			break
		}
		op.Status = translator.Translate(ctx, op)
		host.Enqueue(op)
	}

	if n >= limit && host.Len() > 0 {
		host.SignalWork()
	}
	return nil
}

func (p *Provider) Finish(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.translator = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	p.logger.Info("Stopping dataplane provider", "name", p.cfg.Name)
	conn.Stop()
	return nil
}
