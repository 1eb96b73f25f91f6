package console

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the console bridge.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	lagged    *prometheus.CounterVec
	diverted  prometheus.Counter
	chunks    prometheus.Counter
	epochs    prometheus.Counter
	failures  prometheus.Counter
	connected prometheus.Gauge
}

// MustNewMetrics registers the console collectors with reg and panics on
// duplicate registration, mirroring promauto.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		lagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "console",
			Name:      "subscriber_lagged_total",
			Help:      "Chunks dropped from a subscriber queue because it was full.",
		}, []string{"subscriber"}),
		diverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "console",
			Name:      "diverted_chunks_total",
			Help:      "Chunks handed to reply waiters instead of subscribers.",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "console",
			Name:      "chunks_read_total",
			Help:      "Output chunks read from the console transport.",
		}),
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "console",
			Name:      "epochs_total",
			Help:      "Successful transport connections.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "console",
			Name:      "connect_failures_total",
			Help:      "Failed attempts to acquire a transport.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "panel",
			Subsystem: "console",
			Name:      "connected",
			Help:      "1 while a console transport is live.",
		}),
	}
	reg.MustRegister(m.lagged, m.diverted, m.chunks, m.epochs, m.failures, m.connected)
	return m
}

func (m *Metrics) lag(subscriber string) {
	if m == nil {
		return
	}
	m.lagged.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) divert() {
	if m == nil {
		return
	}
	m.diverted.Inc()
}

func (m *Metrics) chunk() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}

func (m *Metrics) connect() {
	if m == nil {
		return
	}
	m.epochs.Inc()
	m.connected.Set(1)
}

func (m *Metrics) disconnect() {
	if m == nil {
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) connectFailed() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
