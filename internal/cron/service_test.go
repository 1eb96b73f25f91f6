package cron

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bend-n/panel/internal/config/bridge"
)

// newTestService creates a Service backed by a temp file.
func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cron", "jobs.json")
	return NewService(path, nil), path
}

// startService runs s in the background until the test ends.
func startService(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.runCtx != nil
	}, time.Second, time.Millisecond)
}

func every(name, cmd string, d time.Duration) NewJob {
	return NewJob{Name: name, Command: cmd, Every: d}
}

type countingIssuer struct {
	n   atomic.Int32
	err error
	got atomic.Value
}

func (c *countingIssuer) Issue(cmd string) error {
	c.n.Add(1)
	c.got.Store(cmd)
	return c.err
}

// ─── AddJob ────────────────────────────────────────────────────────────────

func TestAddJob_Every(t *testing.T) {
	s, _ := newTestService(t)
	job, err := s.AddJob(every("autosave", "save 0", 5*time.Second))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, SourceCLI, job.Source)

	jobs := s.ListJobs(false)
	require.Len(t, jobs, 1)
	assert.Equal(t, KindEvery, jobs[0].Schedule.Kind)
	require.NotNil(t, jobs[0].Schedule.EveryMs)
	assert.Equal(t, int64(5000), *jobs[0].Schedule.EveryMs)
	assert.Equal(t, "save 0", jobs[0].Command)
}

func TestAddJob_At(t *testing.T) {
	s, _ := newTestService(t)
	at := time.Now().Add(time.Hour)
	job, err := s.AddJob(NewJob{Name: "restart", Command: "stop", At: at, DeleteAfterRun: true})
	require.NoError(t, err)
	assert.True(t, job.DeleteAfterRun)
	require.NotNil(t, job.State.NextRunAtMs)
	assert.Equal(t, at.UnixMilli(), *job.State.NextRunAtMs)
}

func TestAddJob_Cron(t *testing.T) {
	s, _ := newTestService(t)
	job, err := s.AddJob(NewJob{Name: "nightly", Command: "save 1", Cron: "0 4 * * *", TZ: "UTC"})
	require.NoError(t, err)
	assert.Equal(t, "0 4 * * * (UTC)", job.Schedule.Describe())
	require.NotNil(t, job.State.NextRunAtMs)
	assert.Greater(t, *job.State.NextRunAtMs, time.Now().UnixMilli())
}

func TestAddJob_Rejects(t *testing.T) {
	cases := map[string]NewJob{
		"no schedule":    {Name: "x", Command: "save"},
		"two schedules":  {Name: "x", Command: "save", Every: time.Second, Cron: "@hourly"},
		"bad cron":       {Name: "x", Command: "save", Cron: "not a cron"},
		"bad tz":         {Name: "x", Command: "save", Cron: "@daily", TZ: "Mars/Olympus"},
		"empty command":  {Name: "x", Every: time.Second},
		"multiline":      {Name: "x", Command: "save\nstop", Every: time.Second},
		"negative every": {Name: "x", Command: "save", Every: -time.Second},
	}
	for name, n := range cases {
		t.Run(name, func(t *testing.T) {
			s, _ := newTestService(t)
			_, err := s.AddJob(n)
			assert.Error(t, err)
			assert.Empty(t, s.ListJobs(true))
		})
	}
}

// ─── RemoveJob / EnableJob ─────────────────────────────────────────────────

func TestRemoveJob(t *testing.T) {
	s, _ := newTestService(t)
	job, _ := s.AddJob(every("j", "save", time.Second))
	assert.False(t, s.RemoveJob("nonexistent"))
	assert.True(t, s.RemoveJob(job.ID))
	assert.Empty(t, s.ListJobs(true))
}

func TestEnableJob_ToggleDisableEnable(t *testing.T) {
	s, _ := newTestService(t)
	job, _ := s.AddJob(every("j", "save", time.Second))

	got, ok := s.EnableJob(job.ID, false)
	require.True(t, ok)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.State.NextRunAtMs)
	assert.Empty(t, s.ListJobs(false))
	assert.Len(t, s.ListJobs(true), 1)

	got, ok = s.EnableJob(job.ID, true)
	require.True(t, ok)
	assert.True(t, got.Enabled)
	assert.NotNil(t, got.State.NextRunAtMs)

	_, ok = s.EnableJob("ghost", true)
	assert.False(t, ok)
}

func TestListJobs_SortedByNextRun(t *testing.T) {
	s, _ := newTestService(t)
	_, _ = s.AddJob(every("slow", "save", time.Minute))
	_, _ = s.AddJob(every("fast", "status", time.Second))

	jobs := s.ListJobs(false)
	require.Len(t, jobs, 2)
	assert.Equal(t, "fast", jobs[0].Name)
}

// ─── Seed ──────────────────────────────────────────────────────────────────

func TestSeed_AddsUpdatesAndRemovesConfigJobs(t *testing.T) {
	s, _ := newTestService(t)
	cli, err := s.AddJob(every("manual", "status", time.Minute))
	require.NoError(t, err)

	require.NoError(t, s.Seed([]bridge.JobConfig{
		{Name: "autosave", Command: "save 0", Every: bridge.Duration(10 * time.Minute)},
		{Name: "nightly", Command: "gameover", Cron: "0 4 * * *"},
	}))
	assert.Len(t, s.ListJobs(true), 3)

	// reseeding the same config is a no-op
	before := s.ListJobs(true)
	require.NoError(t, s.Seed([]bridge.JobConfig{
		{Name: "autosave", Command: "save 0", Every: bridge.Duration(10 * time.Minute)},
		{Name: "nightly", Command: "gameover", Cron: "0 4 * * *"},
	}))
	assert.Equal(t, before, s.ListJobs(true))

	// changed command is updated in place, dropped job is removed
	require.NoError(t, s.Seed([]bridge.JobConfig{
		{Name: "autosave", Command: "save 1", Every: bridge.Duration(10 * time.Minute)},
	}))
	jobs := s.ListJobs(true)
	require.Len(t, jobs, 2)
	names := map[string]Job{}
	for _, j := range jobs {
		names[j.Name] = j
	}
	assert.Equal(t, "save 1", names["autosave"].Command)
	assert.Equal(t, SourceConfig, names["autosave"].Source)
	assert.Equal(t, cli.ID, names["manual"].ID)
}

func TestSeed_ReportsInvalidJobs(t *testing.T) {
	s, _ := newTestService(t)
	err := s.Seed([]bridge.JobConfig{
		{Name: "ok", Command: "save", Every: bridge.Duration(time.Minute)},
		{Name: "broken", Command: "save", Cron: "every tuesday"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `job "broken"`)
	assert.Len(t, s.ListJobs(true), 1)
}

// ─── Persistence ───────────────────────────────────────────────────────────

func TestPersistence_RoundTrip(t *testing.T) {
	s, path := newTestService(t)
	job, err := s.AddJob(every("persist", "save", 5*time.Second))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st store
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, 1, st.Version)
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, job.ID, st.Jobs[0].ID)

	reopened := NewService(path, nil)
	assert.Equal(t, s.ListJobs(true), reopened.ListJobs(true))
}

func TestPersistence_LoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	existing := `{"version":1,"jobs":[{"id":"aabbccdd","name":"loaded","enabled":true,
		"schedule":{"kind":"every","everyMs":3000},"command":"save",
		"state":{},"createdAtMs":1000,"updatedAtMs":1000,"deleteAfterRun":false}]}`
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o644))

	jobs := NewService(path, nil).ListJobs(false)
	require.Len(t, jobs, 1)
	assert.Equal(t, "loaded", jobs[0].Name)
	assert.Equal(t, "save", jobs[0].Command)
}

func TestPersistence_MissingFile(t *testing.T) {
	s, _ := newTestService(t)
	assert.Empty(t, s.ListJobs(true))
}

// ─── computeNextRun ────────────────────────────────────────────────────────

func TestComputeNextRun(t *testing.T) {
	now := time.Now().UnixMilli()
	everyMs := int64(5000)
	zero := int64(0)
	future := time.Now().Add(time.Hour).UnixMilli()
	past := time.Now().Add(-time.Hour).UnixMilli()
	expr, bad, tz := "0 12 * * *", "not a cron", "UTC"

	got := computeNextRun(Schedule{Kind: KindEvery, EveryMs: &everyMs}, now)
	require.NotNil(t, got)
	assert.Equal(t, now+everyMs, *got)

	assert.Nil(t, computeNextRun(Schedule{Kind: KindEvery, EveryMs: &zero}, now))

	got = computeNextRun(Schedule{Kind: KindAt, AtMs: &future}, now)
	require.NotNil(t, got)
	assert.Equal(t, future, *got)
	assert.Nil(t, computeNextRun(Schedule{Kind: KindAt, AtMs: &past}, now))

	got = computeNextRun(Schedule{Kind: KindCron, Expr: &expr, TZ: &tz}, now)
	require.NotNil(t, got)
	assert.Greater(t, *got, now)
	assert.Equal(t, 12, time.UnixMilli(*got).UTC().Hour())
	assert.Nil(t, computeNextRun(Schedule{Kind: KindCron, Expr: &bad}, now))
}

// ─── Execution ─────────────────────────────────────────────────────────────

func TestRunJob_IssuesCommand(t *testing.T) {
	s, _ := newTestService(t)
	issuer := &countingIssuer{}
	s.SetOnJob(IssueWith(issuer))
	job, _ := s.AddJob(every("run", "save 0", time.Hour))

	require.True(t, s.RunJob(context.Background(), job.ID, true))
	assert.Equal(t, int32(1), issuer.n.Load())
	assert.Equal(t, "save 0", issuer.got.Load())

	jobs := s.ListJobs(false)
	require.Len(t, jobs, 1)
	assert.NotNil(t, jobs[0].State.LastRunAtMs)
	require.NotNil(t, jobs[0].State.LastStatus)
	assert.Equal(t, "ok", *jobs[0].State.LastStatus)
}

func TestRunJob_RecordsFailure(t *testing.T) {
	s, path := newTestService(t)
	reg := prometheus.NewRegistry()
	s = NewService(path, MustNewMetrics(reg))
	s.SetOnJob(IssueWith(&countingIssuer{err: errors.New("console: not connected")}))
	job, _ := s.AddJob(every("run", "save", time.Hour))

	require.True(t, s.RunJob(context.Background(), job.ID, true))
	got := s.ListJobs(false)[0]
	require.NotNil(t, got.State.LastError)
	assert.Equal(t, "console: not connected", *got.State.LastError)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.runs.WithLabelValues("error")))
}

func TestRunJob_DisabledOrMissing(t *testing.T) {
	s, _ := newTestService(t)
	job, _ := s.AddJob(every("j", "save", time.Hour))
	s.EnableJob(job.ID, false)

	assert.False(t, s.RunJob(context.Background(), job.ID, false))
	assert.True(t, s.RunJob(context.Background(), job.ID, true))
	assert.False(t, s.RunJob(context.Background(), "ghost", true))
}

func TestRunJob_AtDeleteAfterRun(t *testing.T) {
	s, _ := newTestService(t)
	job, _ := s.AddJob(NewJob{Name: "once", Command: "stop", At: time.Now().Add(time.Hour), DeleteAfterRun: true})
	require.True(t, s.RunJob(context.Background(), job.ID, true))
	assert.Empty(t, s.ListJobs(true))
}

// ─── Timer firing ──────────────────────────────────────────────────────────

func TestEveryJob_FiresAfterInterval(t *testing.T) {
	s, _ := newTestService(t)
	issuer := &countingIssuer{}
	s.SetOnJob(IssueWith(issuer))
	_, _ = s.AddJob(every("fast", "status", 40*time.Millisecond))
	startService(t, s)

	require.Eventually(t, func() bool { return issuer.n.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestAddJob_ArmsWhileRunning(t *testing.T) {
	s, _ := newTestService(t)
	issuer := &countingIssuer{}
	s.SetOnJob(IssueWith(issuer))
	startService(t, s)

	_, err := s.AddJob(NewJob{Name: "soon", Command: "save", At: time.Now().Add(30 * time.Millisecond)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return issuer.n.Load() == 1 }, time.Second, 5*time.Millisecond)

	// a one-shot job that is kept is disabled after it fires
	require.Eventually(t, func() bool { return len(s.ListJobs(false)) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), issuer.n.Load())
}
