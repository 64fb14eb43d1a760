// Package metrics exposes the synchronizer's counters and gauges. Every method
// is safe on a nil *Metrics so callers can run without an exporter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dpsync"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	events       *prometheus.CounterVec
	reconnects   prometheus.Counter
	connState    prometheus.Gauge
	syncDuration prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Forwarding operations processed, by kind and verdict.",
		}, []string{"kind", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Dataplane events received, by kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Dataplane connection attempts after the first.",
		}),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 event subscribed, 3 synchronized.",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "full_sync_duration_seconds",
			Help:      "Time spent pulling the full dataplane inventory.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	m.registry.MustRegister(m.operations, m.events, m.reconnects, m.connState, m.syncDuration)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WatchMirror publishes the mirror size, sampled on every scrape.
func (m *Metrics) WatchMirror(size func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mirror_interfaces",
		Help:      "Interfaces currently held in the mirror.",
	}, func() float64 { return float64(size()) }))
}

func (m *Metrics) Operation(kind string, ok bool) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	m.operations.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) ConnectionState(state int) {
	if m == nil {
		return
	}
	m.connState.Set(float64(state))
}

func (m *Metrics) FullSync(seconds float64) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(seconds)
}
