package cron

import (
	"fmt"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// Schedule kinds.
const (
	KindEvery = "every"
	KindCron  = "cron"
	KindAt    = "at"
)

// Job sources. Config jobs are re-seeded from the config file on startup.
const (
	SourceConfig = "config"
	SourceCLI    = "cli"
)

type Schedule struct {
	Kind    string  `json:"kind"`              // "every" | "cron" | "at"
	AtMs    *int64  `json:"atMs,omitempty"`    // one-time
	EveryMs *int64  `json:"everyMs,omitempty"` // interval
	Expr    *string `json:"expr,omitempty"`    // cron expression
	TZ      *string `json:"tz,omitempty"`      // IANA timezone
}

type JobState struct {
	NextRunAtMs *int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs *int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  *string `json:"lastStatus,omitempty"`
	LastError   *string `json:"lastError,omitempty"`
}

// Job is a console command run on a schedule.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Command        string   `json:"command"`
	Source         string   `json:"source,omitempty"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun"`
}

// NewJob describes a job to add. Exactly one of Every, Cron and At is set.
type NewJob struct {
	Name           string
	Command        string
	Every          time.Duration
	Cron           string
	TZ             string
	At             time.Time
	DeleteAfterRun bool
	Source         string
}

func (n NewJob) schedule() (Schedule, error) {
	set := 0
	var s Schedule
	if n.Every != 0 {
		if n.Every < 0 {
			return s, fmt.Errorf("every must be positive, got %s", n.Every)
		}
		ms := n.Every.Milliseconds()
		s = Schedule{Kind: KindEvery, EveryMs: &ms}
		set++
	}
	if n.Cron != "" {
		if _, err := parseCron(n.Cron); err != nil {
			return s, fmt.Errorf("invalid cron expression %q: %w", n.Cron, err)
		}
		expr := n.Cron
		s = Schedule{Kind: KindCron, Expr: &expr}
		if n.TZ != "" {
			if _, err := time.LoadLocation(n.TZ); err != nil {
				return s, fmt.Errorf("invalid timezone %q: %w", n.TZ, err)
			}
			tz := n.TZ
			s.TZ = &tz
		}
		set++
	}
	if !n.At.IsZero() {
		at := n.At.UnixMilli()
		s = Schedule{Kind: KindAt, AtMs: &at}
		set++
	}
	if set != 1 {
		return Schedule{}, fmt.Errorf("set exactly one of every, cron and at")
	}
	return s, nil
}

var cronParser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
)

func parseCron(expr string) (robfigcron.Schedule, error) {
	return cronParser.Parse(expr)
}

func (s Schedule) location() *time.Location {
	if s.TZ != nil && *s.TZ != "" {
		if l, err := time.LoadLocation(*s.TZ); err == nil {
			return l
		}
	}
	return time.Local
}

// Describe renders the schedule for listings.
func (s Schedule) Describe() string {
	switch s.Kind {
	case KindEvery:
		if s.EveryMs != nil {
			return "every " + (time.Duration(*s.EveryMs) * time.Millisecond).String()
		}
	case KindCron:
		if s.Expr != nil {
			if s.TZ != nil {
				return *s.Expr + " (" + *s.TZ + ")"
			}
			return *s.Expr
		}
	case KindAt:
		if s.AtMs != nil {
			return "at " + time.UnixMilli(*s.AtMs).Format(time.RFC3339)
		}
	}
	return s.Kind
}

func computeNextRun(sched Schedule, nowMs int64) *int64 {
	switch sched.Kind {
	case KindAt:
		if sched.AtMs != nil && *sched.AtMs > nowMs {
			v := *sched.AtMs
			return &v
		}
	case KindEvery:
		if sched.EveryMs != nil && *sched.EveryMs > 0 {
			v := nowMs + *sched.EveryMs
			return &v
		}
	case KindCron:
		if sched.Expr != nil {
			parsed, err := parseCron(*sched.Expr)
			if err == nil {
				v := parsed.Next(time.UnixMilli(nowMs).In(sched.location())).UnixMilli()
				return &v
			}
		}
	}
	return nil
}

// locSchedule evaluates a robfig schedule in a fixed location.
type locSchedule struct {
	inner robfigcron.Schedule
	loc   *time.Location
}

func (l locSchedule) Next(t time.Time) time.Time {
	return l.inner.Next(t.In(l.loc))
}
