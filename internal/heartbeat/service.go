// Package heartbeat periodically sends the game console a command and
// records when it last answered.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bend-n/panel/internal/console"
)

// Issuer issues a command and waits for the output that follows it.
type Issuer interface {
	IssueAndAwaitNext(ctx context.Context, command string) (string, error)
}

// Status is a snapshot of the heartbeat history.
type Status struct {
	LastReply  time.Time
	LastOutput string
	Failures   int // consecutive unanswered checks
}

// Service runs the heartbeat loop.
type Service struct {
	issuer   Issuer
	command  string
	interval time.Duration
	metrics  *Metrics

	mu     sync.Mutex
	status Status
}

// NewService creates a heartbeat Service.
// interval defaults to 5 minutes if zero.
func NewService(p Issuer, command string, interval time.Duration, m *Metrics) *Service {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Service{issuer: p, command: command, interval: interval, metrics: m}
}

// Start runs the heartbeat loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("heartbeat: started", "interval", s.interval, "command", s.command)

	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-ctx.Done():
			slog.Info("heartbeat: stopped")
			return ctx.Err()
		}
	}
}

// Status returns the latest heartbeat results.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) check(ctx context.Context) {
	out, err := s.issuer.IssueAndAwaitNext(ctx, s.command)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.status.Failures++
		s.metrics.fail()
		level := slog.LevelWarn
		if errors.Is(err, console.ErrNotConnected) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "heartbeat: no reply",
			"command", s.command, "failures", s.status.Failures, "last_reply", s.status.LastReply, "err", err)
		return
	}
	now := time.Now()
	if s.status.Failures > 0 {
		slog.Info("heartbeat: console answering again", "after_failures", s.status.Failures)
	}
	s.status = Status{LastReply: now, LastOutput: out}
	s.metrics.reply(now)
	slog.Debug("heartbeat: reply", "command", s.command, "output", out)
}

// Metrics tracks heartbeat outcomes. A nil *Metrics records nothing.
type Metrics struct {
	lastReply prometheus.Gauge
	failures  prometheus.Counter
}

// MustNewMetrics registers the heartbeat metrics with reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		lastReply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "panel",
			Subsystem: "heartbeat",
			Name:      "last_reply_timestamp_seconds",
			Help:      "Unix time of the last heartbeat the console answered.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "heartbeat",
			Name:      "failures_total",
			Help:      "Heartbeats that got no reply.",
		}),
	}
	reg.MustRegister(m.lastReply, m.failures)
	return m
}

func (m *Metrics) reply(at time.Time) {
	if m != nil {
		m.lastReply.Set(float64(at.Unix()))
	}
}

func (m *Metrics) fail() {
	if m != nil {
		m.failures.Inc()
	}
}
