package console

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SupervisorConfig controls reconnection backoff.
type SupervisorConfig struct {
	// BackoffBase is the first wait after a failure.
	BackoffBase time.Duration
	// BackoffMax caps the wait; zero leaves it uncapped.
	BackoffMax time.Duration
	// HealthyAfter is how long an epoch must last for the backoff to reset.
	HealthyAfter time.Duration
}

// DefaultSupervisorConfig returns the backoff schedule used when none is configured.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		BackoffBase:  time.Second,
		BackoffMax:   time.Minute,
		HealthyAfter: 30 * time.Second,
	}
}

// EpochFunc runs one connection epoch and returns when the transport dies.
type EpochFunc func(ctx context.Context, epoch string, t Transport) error

// Supervisor keeps a transport alive: it dials, runs an epoch, and on any
// failure waits with exponential backoff before dialing again.
type Supervisor struct {
	dialer  Dialer
	serve   EpochFunc
	cfg     SupervisorConfig
	metrics *Metrics

	// Replaceable in tests.
	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
}

// NewSupervisor creates a Supervisor that hands each acquired transport to serve.
func NewSupervisor(d Dialer, serve EpochFunc, cfg SupervisorConfig, m *Metrics) *Supervisor {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultSupervisorConfig().BackoffBase
	}
	return &Supervisor{
		dialer:  d,
		serve:   serve,
		cfg:     cfg,
		metrics: m,
		wait:    sleepContext,
		now:     time.Now,
	}
}

// Run supervises the transport until ctx is cancelled. It never returns for
// any other reason.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.cfg.BackoffBase
	for {
		t, err := s.dialer.Dial(ctx)
		if ctx.Err() != nil {
			if t != nil {
				_ = t.Close()
			}
			return ctx.Err()
		}
		if err != nil {
			s.metrics.connectFailed()
			slog.Warn("console: connect failed", "err", err, "retry_in", backoff)
		} else {
			epoch := uuid.NewString()
			started := s.now()
			s.metrics.connect()
			slog.Info("console: connected", "epoch", epoch)

			err = s.serve(ctx, epoch, t)
			_ = t.Close()
			s.metrics.disconnect()

			if ctx.Err() != nil {
				return ctx.Err()
			}
			lived := s.now().Sub(started)
			if lived >= s.cfg.HealthyAfter {
				backoff = s.cfg.BackoffBase
			}
			slog.Warn("console: disconnected", "epoch", epoch, "err", err, "lived", lived, "retry_in", backoff)
		}

		if err := s.wait(ctx, backoff); err != nil {
			return err
		}
		backoff = s.next(backoff)
	}
}

func (s *Supervisor) next(d time.Duration) time.Duration {
	d *= 2
	if s.cfg.BackoffMax > 0 && d > s.cfg.BackoffMax {
		d = s.cfg.BackoffMax
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
