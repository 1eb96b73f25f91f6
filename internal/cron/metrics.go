package cron

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts job runs by outcome. A nil *Metrics records nothing.
type Metrics struct {
	runs *prometheus.CounterVec
}

// MustNewMetrics registers the scheduler metrics with reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Scheduled command runs, by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.runs)
	return m
}

func (m *Metrics) run(status string) {
	if m != nil {
		m.runs.WithLabelValues(status).Inc()
	}
}
