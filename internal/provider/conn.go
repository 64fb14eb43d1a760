package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"github.com/veesix-networks/dpsync/pkg/metrics"
	"k8s.io/utils/clock"
)

const DefaultRetryInterval = time.Second

// ConnectionManager owns the dataplane session. Its goroutine is the only one
// that opens sessions or changes the connection state; it keeps reconnecting on
// a fixed interval until stopped.
type ConnectionManager struct {
	dialer  dataplane.Dialer
	sync    *Synchronizer
	events  *EventLoop
	clock   clock.Clock
	retry   time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	state    atomicState
	attempts int

	mu   sync.Mutex
	sess dataplane.Session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ConnectionConfig struct {
	Dialer        dataplane.Dialer
	Synchronizer  *Synchronizer
	Events        *EventLoop
	Clock         clock.Clock
	RetryInterval time.Duration
	Metrics       *metrics.Metrics
}

func NewConnectionManager(cfg ConnectionConfig) *ConnectionManager {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	m := &ConnectionManager{
		dialer:  cfg.Dialer,
		sync:    cfg.Synchronizer,
		events:  cfg.Events,
		clock:   clk,
		retry:   retry,
		metrics: cfg.Metrics,
		logger:  logger.Get(logger.ProviderConn),
	}
	m.setState(StateDisconnected)
	return m
}

func (m *ConnectionManager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

func (m *ConnectionManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
	m.wg.Wait()
}

func (m *ConnectionManager) State() ConnectionState {
	return m.state.Load()
}

// Session returns the live session once events are subscribed. Callers must not
// block waiting for one.
func (m *ConnectionManager) Session() (dataplane.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, false
	}
	return m.sess, true
}

// Fail tears down sess after a request on it hit a transport error. The event
// loop wakes up on the closed session and the supervisor reconnects.
func (m *ConnectionManager) Fail(sess dataplane.Session, err error) {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.mu.Unlock()

	logger.WithSession(m.logger, sess.ID()).Warn("Dataplane request failed, closing session", "error", err)
	sess.Close()
}

func (m *ConnectionManager) run(ctx context.Context) {
	for {
		m.connect(ctx)

		if ctx.Err() != nil {
			return
		}
		m.logger.Debug("Waiting before reconnect", "interval", m.retry)
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.retry):
		}
	}
}

// connect runs one session from dial to teardown.
func (m *ConnectionManager) connect(ctx context.Context) {
	if m.attempts > 0 {
		m.metrics.Reconnect()
	}
	m.attempts++

	m.setState(StateConnecting)
	sess, err := m.dialer.Open(ctx)
	if err != nil {
		m.logger.Warn("Dataplane connect failed", "attempt", m.attempts, "error", err)
		m.setState(StateDisconnected)
		return
	}
	log := logger.WithSession(m.logger, sess.ID())
	log.Info("Dataplane session opened", "attempt", m.attempts)

	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()
	m.setState(StateEventSubscribed)
	defer m.teardown(sess)

	if err := sess.Subscribe(ctx); err != nil {
		log.Warn("Dataplane event subscription failed", "error", err)
		return
	}

	if err := m.sync.FullSync(ctx, sess); err != nil {
		log.Warn("Dataplane full sync failed", "error", err)
		return
	}
	m.setState(StateSynchronized)
	log.Info("Dataplane synchronized")

	err = m.events.Run(ctx, sess)
	if ctx.Err() == nil {
		log.Warn("Dataplane event stream ended", "error", err)
	}
}

func (m *ConnectionManager) teardown(sess dataplane.Session) {
	m.mu.Lock()
	if m.sess == sess {
		m.sess = nil
	}
	m.mu.Unlock()

	sess.Close()
	m.setState(StateDisconnected)
	logger.WithSession(m.logger, sess.ID()).Info("Dataplane session closed")
}

func (m *ConnectionManager) setState(state ConnectionState) {
	m.state.Store(state)
	m.metrics.ConnectionState(int(state))
}
