package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/charlesng35/csrnotify/internal/monitoring"
	"github.com/charlesng35/csrnotify/internal/realtime"
	"github.com/charlesng35/csrnotify/internal/services"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeEngine struct {
	mu          sync.Mutex
	dueLimit    int
	horizon     time.Time
	digestTypes []string
	processErr  error
	statsErr    error
}

func (f *fakeEngine) ProcessDue(_ context.Context, limit int) (*services.ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dueLimit = limit
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &services.ProcessResult{TotalFound: 2, Processed: 2}, nil
}

func (f *fakeEngine) GenerateInstances(_ context.Context, horizon time.Time) (*services.GenerationReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.horizon = horizon
	return &services.GenerationReport{Horizon: horizon}, nil
}

func (f *fakeEngine) GenerateAndSendDigests(_ context.Context, digestType string, _ []string) (*services.DigestRunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digestTypes = append(f.digestTypes, digestType)
	return &services.DigestRunResult{DigestType: digestType}, nil
}

func (f *fakeEngine) GetSchedulingStats(context.Context) (*services.SchedulingStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &services.SchedulingStats{DueNow: 3, DueNextHour: 1, DueNext24h: 5, Overdue: 2, ActiveRecurringSeries: 4, StaleClaims: 1, GeneratedAt: fixedNow}, nil
}

type jobRun struct {
	job, result, message string
}

type fakeRecorder struct {
	mu       sync.Mutex
	runs     []jobRun
	buckets  map[string]int64
	recorded time.Time
}

func (r *fakeRecorder) RecordJobRun(job, result, message string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, jobRun{job: job, result: result, message: message})
}

func (r *fakeRecorder) RecordSchedule(buckets map[string]int64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = buckets
	r.recorded = at
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Envelope
	stream []string
}

func (b *fakeBroadcaster) Broadcast(stream string, env realtime.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, stream)
	b.events = append(b.events, env)
}

func newTestScheduler(t *testing.T, engine *fakeEngine, cfg Config) (*Scheduler, *fakeRecorder, *fakeBroadcaster) {
	t.Helper()
	recorder := &fakeRecorder{}
	broadcaster := &fakeBroadcaster{}
	s, err := New(engine, cfg,
		WithNow(func() time.Time { return fixedNow }),
		WithRecorder(recorder),
		WithBroadcaster(broadcaster),
	)
	require.NoError(t, err)
	return s, recorder, broadcaster
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(nil, Config{})
	require.Error(t, err)
}

func TestSchedulerRegistersConfiguredJobs(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fakeEngine{}, Config{
		StatsSpec: "@every 1m",
		Digests:   map[string]string{"weekly": "0 8 * * 1", "daily": "0 8 * * *", "hourly": ""},
	})

	require.Equal(t, []string{
		JobProcessDue,
		JobGenerateInstances,
		JobRefreshStats,
		"digest_daily",
		"digest_weekly",
	}, s.Jobs())
}

func TestSchedulerRunOnceExecutesEveryJob(t *testing.T) {
	engine := &fakeEngine{}
	s, recorder, broadcaster := newTestScheduler(t, engine, Config{
		ProcessDueLimit:   25,
		GenerationHorizon: 48 * time.Hour,
		StatsSpec:         "@every 1m",
		Digests:           map[string]string{"daily": "0 8 * * *"},
	})

	require.NoError(t, s.RunOnce(context.Background()))

	require.Equal(t, 25, engine.dueLimit)
	require.Equal(t, fixedNow.Add(48*time.Hour), engine.horizon)
	require.Equal(t, []string{"daily"}, engine.digestTypes)

	require.Len(t, recorder.runs, 4)
	for _, run := range recorder.runs {
		require.Equal(t, "success", run.result, run.job)
	}
	require.Equal(t, int64(3), recorder.buckets[monitoring.BucketDueNow])
	require.Equal(t, int64(2), recorder.buckets[monitoring.BucketOverdue])
	require.Equal(t, int64(4), recorder.buckets[monitoring.BucketActiveSeries])
	require.Equal(t, int64(1), recorder.buckets[monitoring.BucketStaleClaims])
	require.Equal(t, fixedNow, recorder.recorded)

	require.Len(t, broadcaster.events, 4)
	for i, env := range broadcaster.events {
		require.Equal(t, realtime.StreamScheduling, broadcaster.stream[i])
		require.Equal(t, "job.success", env.Event)
	}
	event, ok := broadcaster.events[0].Data.(jobEvent)
	require.True(t, ok)
	require.Equal(t, JobProcessDue, event.Job)
	result, ok := event.Summary.(*services.ProcessResult)
	require.True(t, ok)
	require.Equal(t, 2, result.Processed)
}

func TestSchedulerDefaultsApply(t *testing.T) {
	engine := &fakeEngine{}
	s, _, _ := newTestScheduler(t, engine, Config{})

	require.Equal(t, []string{JobProcessDue, JobGenerateInstances}, s.Jobs())
	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, services.DefaultDueLimit, engine.dueLimit)
	require.Equal(t, fixedNow.Add(7*24*time.Hour), engine.horizon)
}

func TestSchedulerRunOnceAggregatesFailures(t *testing.T) {
	engine := &fakeEngine{
		processErr: errors.New("database unavailable"),
		statsErr:   errors.New("stats unavailable"),
	}
	s, recorder, broadcaster := newTestScheduler(t, engine, Config{StatsSpec: "@every 1m"})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorContains(t, err, "process_due")
	require.ErrorContains(t, err, "refresh_stats")

	require.Equal(t, jobRun{job: JobProcessDue, result: "failure", message: "database unavailable"}, recorder.runs[0])
	require.Equal(t, "success", recorder.runs[1].result)
	require.Equal(t, "failure", recorder.runs[2].result)
	require.Nil(t, recorder.buckets)

	require.Equal(t, "job.failure", broadcaster.events[0].Event)
	event := broadcaster.events[0].Data.(jobEvent)
	require.Equal(t, "database unavailable", event.Error)
}

func TestSchedulerRunJob(t *testing.T) {
	engine := &fakeEngine{}
	s, recorder, _ := newTestScheduler(t, engine, Config{Digests: map[string]string{"monthly": "0 8 1 * *"}})

	require.NoError(t, s.RunJob(context.Background(), "digest_monthly"))
	require.Equal(t, []string{"monthly"}, engine.digestTypes)
	require.Len(t, recorder.runs, 1)

	require.Error(t, s.RunJob(context.Background(), "digest_yearly"))
}

func TestSchedulerStartRejectsInvalidSpec(t *testing.T) {
	c := cron.New()
	s, err := New(&fakeEngine{}, Config{StatsSpec: "not a spec"}, WithCron(c))
	require.NoError(t, err)

	err = s.Start()
	require.Error(t, err)
	require.ErrorContains(t, err, "refresh_stats")
	require.Empty(t, c.Entries())
}

func TestSchedulerStartStop(t *testing.T) {
	c := cron.New()
	s, err := New(&fakeEngine{}, Config{}, WithCron(c))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Len(t, c.Entries(), 2)
	require.NoError(t, s.Start())
	require.Len(t, c.Entries(), 2)

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected scheduler to stop")
	}
	require.Empty(t, c.Entries())

	require.NoError(t, s.Start())
	require.Len(t, c.Entries(), 2)
	<-s.Stop().Done()
	require.Empty(t, c.Entries())
}
