package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts relay flushes and deliveries. A nil *Metrics records nothing.
type Metrics struct {
	flushes   prometheus.Counter
	delivered prometheus.Counter
	failed    prometheus.Counter
	dropped   prometheus.Counter
	forwarded *prometheus.CounterVec
}

// MustNewMetrics registers the relay metrics with reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "relay",
			Name:      "flushes_total",
			Help:      "Batches flushed to the chat sink.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "relay",
			Name:      "messages_delivered_total",
			Help:      "Messages the chat sink accepted.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "relay",
			Name:      "messages_failed_total",
			Help:      "Messages the chat sink rejected.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the delivery queue was full.",
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "relay",
			Name:      "inbound_commands_total",
			Help:      "Chat platform lines forwarded into the game, by channel.",
		}, []string{"channel"}),
	}
	reg.MustRegister(m.flushes, m.delivered, m.failed, m.dropped, m.forwarded)
	return m
}

func (m *Metrics) flush() {
	if m != nil {
		m.flushes.Inc()
	}
}

func (m *Metrics) deliver(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.failed.Inc()
		return
	}
	m.delivered.Inc()
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) forward(channel string) {
	if m != nil {
		m.forwarded.WithLabelValues(channel).Inc()
	}
}
