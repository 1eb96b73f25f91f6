// Package cron runs console commands on a schedule.
//
// Jobs persist to a JSON store:
//
//	{ "version": 1, "jobs": [ { "id":"…", "name":"autosave", "enabled":true,
//	    "schedule":{"kind":"every","everyMs":600000},
//	    "command":"save 0", "source":"config",
//	    "state":{"nextRunAtMs":…,"lastRunAtMs":…,"lastStatus":"ok"},
//	    "createdAtMs":…, "updatedAtMs":…, "deleteAfterRun":false } ] }
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	robfigcron "github.com/robfig/cron/v3"

	"github.com/bend-n/panel/internal/config/bridge"
)

type store struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// OnJobFunc is called when a job fires.
type OnJobFunc func(ctx context.Context, job Job) error

// Issuer writes a command to the game console.
type Issuer interface {
	Issue(command string) error
}

// IssueWith returns an OnJobFunc that writes each job's command to i.
func IssueWith(i Issuer) OnJobFunc {
	return func(_ context.Context, job Job) error {
		return i.Issue(job.Command)
	}
}

// Service manages scheduled jobs.
type Service struct {
	storePath string
	onJob     OnJobFunc
	metrics   *Metrics

	mu     sync.Mutex
	store  store
	loaded bool
	runCtx context.Context // set while Start is running

	inflight sync.WaitGroup

	// Active timers / cron entries keyed by job ID.
	timers    map[string]*time.Timer
	robfig    *robfigcron.Cron
	robfigIDs map[string]robfigcron.EntryID
}

// NewService creates a Service persisting to storePath
// (e.g. ~/.panel/cron/jobs.json).
func NewService(storePath string, m *Metrics) *Service {
	return &Service{
		storePath: storePath,
		metrics:   m,
		timers:    make(map[string]*time.Timer),
		robfig:    robfigcron.New(),
		robfigIDs: make(map[string]robfigcron.EntryID),
	}
}

// SetOnJob registers the callback executed when a job fires.
// Must be set before Start().
func (s *Service) SetOnJob(fn OnJobFunc) { s.onJob = fn }

// Start loads jobs from disk, (re)computes next-run times, and arms all timers.
// Blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.loadLocked(); err != nil {
		slog.Warn("cron: load failed, starting empty", "err", err)
	}
	s.runCtx = ctx
	s.recomputeNextRunsLocked()
	s.saveLocked()
	s.armAllLocked()
	n := len(s.store.Jobs)
	s.mu.Unlock()

	s.robfig.Start()
	slog.Info("cron: started", "jobs", n)

	<-ctx.Done()
	<-s.robfig.Stop().Done()

	s.mu.Lock()
	for id := range s.timers {
		s.cancelTimerLocked(id)
	}
	s.runCtx = nil
	s.mu.Unlock()
	s.inflight.Wait()
	return ctx.Err()
}

// AddJob validates, saves and arms a new job.
func (s *Service) AddJob(n NewJob) (Job, error) {
	if err := validateCommand(n.Command); err != nil {
		return Job{}, err
	}
	sched, err := n.schedule()
	if err != nil {
		return Job{}, err
	}
	if n.Source == "" {
		n.Source = SourceCLI
	}
	now := nowMs()
	job := Job{
		ID:             shortID(),
		Name:           n.Name,
		Enabled:        true,
		Schedule:       sched,
		Command:        n.Command,
		Source:         n.Source,
		State:          JobState{NextRunAtMs: computeNextRun(sched, now)},
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		DeleteAfterRun: n.DeleteAfterRun,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return Job{}, fmt.Errorf("load jobs: %w", err)
	}
	s.store.Jobs = append(s.store.Jobs, job)
	s.saveLocked()
	s.armJobLocked(job)
	slog.Info("cron: added job", "name", job.Name, "id", job.ID, "kind", sched.Kind)
	return job, nil
}

// Seed reconciles config-declared jobs with the store: new names are added,
// changed ones are updated in place, and config jobs no longer declared are
// removed. Jobs added from the CLI are left alone.
func (s *Service) Seed(jobs []bridge.JobConfig) error {
	declared := make(map[string]bool, len(jobs))
	var errs []error
	for _, jc := range jobs {
		declared[jc.Name] = true
		want := NewJob{Name: jc.Name, Command: jc.Command, Every: jc.Every.Std(), Cron: jc.Cron, TZ: jc.TZ, Source: SourceConfig}
		if err := s.seedOne(want); err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", jc.Name, err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()
	kept := s.store.Jobs[:0]
	removed := false
	for _, j := range s.store.Jobs {
		if j.Source == SourceConfig && !declared[j.Name] {
			s.cancelTimerLocked(j.ID)
			slog.Info("cron: removed job no longer in config", "name", j.Name, "id", j.ID)
			removed = true
			continue
		}
		kept = append(kept, j)
	}
	s.store.Jobs = kept
	if removed {
		s.saveLocked()
	}
	return errors.Join(errs...)
}

func (s *Service) seedOne(want NewJob) error {
	if err := validateCommand(want.Command); err != nil {
		return err
	}
	sched, err := want.schedule()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.loadLocked(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load jobs: %w", err)
	}
	for i := range s.store.Jobs {
		j := &s.store.Jobs[i]
		if j.Name != want.Name || j.Source != SourceConfig {
			continue
		}
		if j.Command == want.Command && j.Schedule.Describe() == sched.Describe() {
			s.mu.Unlock()
			return nil
		}
		j.Command = want.Command
		j.Schedule = sched
		j.UpdatedAtMs = nowMs()
		if j.Enabled {
			j.State.NextRunAtMs = computeNextRun(sched, nowMs())
			s.armJobLocked(*j)
		}
		s.saveLocked()
		s.mu.Unlock()
		slog.Info("cron: updated job from config", "name", want.Name)
		return nil
	}
	s.mu.Unlock()

	_, err = s.AddJob(want)
	return err
}

// ListJobs returns jobs ordered by next run; includeDisabled controls visibility.
func (s *Service) ListJobs(includeDisabled bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		slog.Warn("cron: load failed", "err", err)
	}
	var jobs []Job
	for _, j := range s.store.Jobs {
		if includeDisabled || j.Enabled {
			jobs = append(jobs, j)
		}
	}
	sort.SliceStable(jobs, func(i, k int) bool {
		return nextRunKey(jobs[i]) < nextRunKey(jobs[k])
	})
	return jobs
}

func nextRunKey(j Job) int64 {
	if j.State.NextRunAtMs == nil {
		return int64(^uint64(0) >> 1)
	}
	return *j.State.NextRunAtMs
}

// RemoveJob removes a job by ID and returns true if found.
func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()
	before := len(s.store.Jobs)
	filtered := s.store.Jobs[:0]
	for _, j := range s.store.Jobs {
		if j.ID != id {
			filtered = append(filtered, j)
		}
	}
	s.store.Jobs = filtered
	if len(filtered) < before {
		s.cancelTimerLocked(id)
		s.saveLocked()
		return true
	}
	return false
}

// EnableJob enables or disables a job.
func (s *Service) EnableJob(id string, enabled bool) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()
	for i := range s.store.Jobs {
		j := &s.store.Jobs[i]
		if j.ID != id {
			continue
		}
		j.Enabled = enabled
		j.UpdatedAtMs = nowMs()
		if enabled {
			j.State.NextRunAtMs = computeNextRun(j.Schedule, nowMs())
			s.armJobLocked(*j)
		} else {
			j.State.NextRunAtMs = nil
			s.cancelTimerLocked(id)
		}
		s.saveLocked()
		return *j, true
	}
	return Job{}, false
}

// RunJob executes a job immediately (force=true ignores the disabled flag).
func (s *Service) RunJob(ctx context.Context, id string, force bool) bool {
	s.mu.Lock()
	_ = s.loadLocked()
	var job *Job
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID == id {
			job = &s.store.Jobs[i]
			break
		}
	}
	if job == nil || (!force && !job.Enabled) {
		s.mu.Unlock()
		return false
	}
	jobCopy := *job
	s.mu.Unlock()

	s.executeJob(ctx, jobCopy)
	return true
}

// --------------------------------------------------------------------------
// Scheduling
// --------------------------------------------------------------------------

func (s *Service) recomputeNextRunsLocked() {
	now := nowMs()
	for i := range s.store.Jobs {
		if s.store.Jobs[i].Enabled {
			s.store.Jobs[i].State.NextRunAtMs = computeNextRun(s.store.Jobs[i].Schedule, now)
		}
	}
}

func (s *Service) armAllLocked() {
	for _, j := range s.store.Jobs {
		if j.Enabled {
			s.armJobLocked(j)
		}
	}
}

// armJobLocked schedules job; it does nothing until Start is running.
func (s *Service) armJobLocked(job Job) {
	ctx := s.runCtx
	if ctx == nil {
		return
	}
	s.cancelTimerLocked(job.ID)

	switch job.Schedule.Kind {
	case KindEvery:
		if job.Schedule.EveryMs == nil || *job.Schedule.EveryMs <= 0 {
			return
		}
		d := time.Duration(*job.Schedule.EveryMs) * time.Millisecond
		s.timers[job.ID] = time.AfterFunc(d, func() {
			if !s.fire(ctx, job) {
				return
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.runCtx == nil {
				return
			}
			for _, j := range s.store.Jobs {
				if j.ID == job.ID && j.Enabled {
					s.armJobLocked(j)
					break
				}
			}
		})
	case KindAt:
		if job.Schedule.AtMs == nil {
			return
		}
		delay := time.Until(time.UnixMilli(*job.Schedule.AtMs))
		if delay < 0 {
			return
		}
		s.timers[job.ID] = time.AfterFunc(delay, func() { s.fire(ctx, job) })
	case KindCron:
		if job.Schedule.Expr == nil {
			return
		}
		sched, err := parseCron(*job.Schedule.Expr)
		if err != nil {
			slog.Warn("cron: invalid cron expression", "job", job.ID, "expr", *job.Schedule.Expr, "err", err)
			return
		}
		s.robfigIDs[job.ID] = s.robfig.Schedule(
			locSchedule{inner: sched, loc: job.Schedule.location()},
			robfigcron.FuncJob(func() { s.fire(ctx, job) }),
		)
	}
}

func (s *Service) cancelTimerLocked(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if eid, ok := s.robfigIDs[id]; ok {
		s.robfig.Remove(eid)
		delete(s.robfigIDs, id)
	}
}

// fire runs a scheduled execution unless the service is stopping.
func (s *Service) fire(ctx context.Context, job Job) bool {
	s.inflight.Add(1)
	defer s.inflight.Done()
	if ctx.Err() != nil {
		return false
	}
	s.executeJob(ctx, job)
	return true
}

func (s *Service) executeJob(ctx context.Context, job Job) {
	startMs := nowMs()
	slog.Info("cron: executing job", "name", job.Name, "id", job.ID, "command", job.Command)

	lastStatus := "ok"
	var lastErr *string
	if s.onJob != nil {
		if err := s.onJob(ctx, job); err != nil {
			lastStatus = "error"
			e := err.Error()
			lastErr = &e
			slog.Error("cron: job failed", "name", job.Name, "err", err)
		}
	}
	s.metrics.run(lastStatus)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID != job.ID {
			continue
		}
		j := &s.store.Jobs[i]
		now := nowMs()
		j.State.LastRunAtMs = &startMs
		j.State.LastStatus = &lastStatus
		j.State.LastError = lastErr
		j.UpdatedAtMs = now

		if job.Schedule.Kind == KindAt {
			if job.DeleteAfterRun {
				s.store.Jobs = append(s.store.Jobs[:i], s.store.Jobs[i+1:]...)
				delete(s.timers, job.ID)
			} else {
				j.Enabled = false
				j.State.NextRunAtMs = nil
			}
		} else {
			j.State.NextRunAtMs = computeNextRun(job.Schedule, now)
		}
		break
	}
	s.saveLocked()
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func (s *Service) loadLocked() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.storePath)
	if os.IsNotExist(err) {
		s.store = store{Version: 1}
		s.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	var st store
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if st.Version == 0 {
		st.Version = 1
	}
	s.store = st
	s.loaded = true
	return nil
}

func (s *Service) saveLocked() {
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		slog.Warn("cron: mkdir failed", "err", err)
		return
	}
	if s.store.Version == 0 {
		s.store.Version = 1
	}
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		slog.Warn("cron: marshal failed", "err", err)
		return
	}
	if err := os.WriteFile(s.storePath, data, 0o644); err != nil {
		slog.Warn("cron: write failed", "err", err)
	}
}

// --------------------------------------------------------------------------
// Utility
// --------------------------------------------------------------------------

func validateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("command is required")
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return fmt.Errorf("command must be a single line")
	}
	return nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

func shortID() string { return uuid.NewString()[:8] }
