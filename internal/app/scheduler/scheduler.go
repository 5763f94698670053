package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/monitoring"
	"github.com/charlesng35/csrnotify/internal/realtime"
	"github.com/charlesng35/csrnotify/internal/services"
	"github.com/charlesng35/csrnotify/pkg/logger"
)

// Job names reported to monitoring and on the scheduling stream.
const (
	JobProcessDue        = "process_due"
	JobGenerateInstances = "generate_instances"
	JobRefreshStats      = "refresh_stats"
	jobDigestPrefix      = "digest_"
)

const (
	defaultProcessDueSpec = "@every 1m"
	defaultGenerationSpec = "@every 15m"
	defaultHorizon        = 7 * 24 * time.Hour
	defaultJobTimeout     = 10 * time.Minute
)

// Engine is the part of the scheduling engine the scheduler drives.
type Engine interface {
	ProcessDue(ctx context.Context, limit int) (*services.ProcessResult, error)
	GenerateInstances(ctx context.Context, horizon time.Time) (*services.GenerationReport, error)
	GenerateAndSendDigests(ctx context.Context, digestType string, userIDs []string) (*services.DigestRunResult, error)
	GetSchedulingStats(ctx context.Context) (*services.SchedulingStats, error)
}

// Recorder receives job outcomes and schedule snapshots.
type Recorder interface {
	RecordJobRun(job, result, message string, duration time.Duration)
	RecordSchedule(buckets map[string]int64, at time.Time)
}

// Broadcaster publishes job summaries to realtime subscribers.
type Broadcaster interface {
	Broadcast(stream string, env realtime.Envelope)
}

// Config selects the cron spec of every job. An empty spec disables the job, except for
// process-due and generation which fall back to their defaults.
type Config struct {
	ProcessDueSpec    string
	ProcessDueLimit   int
	GenerationSpec    string
	GenerationHorizon time.Duration
	StatsSpec         string
	// Digests maps a digest type (daily, weekly, ...) to its cron spec.
	Digests map[string]string
	// JobTimeout bounds a single run.
	JobTimeout time.Duration
}

// Scheduler runs the engine batches on cron schedules. Each job is wrapped with
// cron.SkipIfStillRunning so a slow batch never overlaps itself.
type Scheduler struct {
	engine      Engine
	recorder    Recorder
	broadcaster Broadcaster
	cron        *cron.Cron
	now         func() time.Time
	log         *zap.Logger
	cfg         Config
	jobs        []job

	mu      sync.Mutex
	started bool
	entries []cron.EntryID
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) (any, error)
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used to compute generation horizons.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRecorder reports job runs and schedule snapshots, typically to the monitoring module.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithBroadcaster publishes job summaries on the scheduling stream.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Scheduler) {
		s.broadcaster = b
	}
}

// WithLogger overrides the scheduler logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// New constructs a Scheduler for engine.
func New(engine Engine, cfg Config, opts ...Option) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("scheduler: engine is required")
	}
	cfg.ProcessDueSpec = defaultSpec(cfg.ProcessDueSpec, defaultProcessDueSpec)
	cfg.GenerationSpec = defaultSpec(cfg.GenerationSpec, defaultGenerationSpec)
	if cfg.ProcessDueLimit <= 0 {
		cfg.ProcessDueLimit = services.DefaultDueLimit
	}
	if cfg.GenerationHorizon <= 0 {
		cfg.GenerationHorizon = defaultHorizon
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	s := &Scheduler{
		engine: engine,
		now:    time.Now,
		log:    logger.WithModule("scheduler"),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{log: s.log}))
	}
	s.jobs = s.buildJobs()
	return s, nil
}

func (s *Scheduler) buildJobs() []job {
	jobs := []job{
		{name: JobProcessDue, spec: s.cfg.ProcessDueSpec, run: func(ctx context.Context) (any, error) {
			return s.engine.ProcessDue(ctx, s.cfg.ProcessDueLimit)
		}},
		{name: JobGenerateInstances, spec: s.cfg.GenerationSpec, run: func(ctx context.Context) (any, error) {
			return s.engine.GenerateInstances(ctx, s.now().UTC().Add(s.cfg.GenerationHorizon))
		}},
	}
	if spec := strings.TrimSpace(s.cfg.StatsSpec); spec != "" {
		jobs = append(jobs, job{name: JobRefreshStats, spec: spec, run: s.refreshStats})
	}

	digestTypes := make([]string, 0, len(s.cfg.Digests))
	for digestType, spec := range s.cfg.Digests {
		if strings.TrimSpace(spec) != "" {
			digestTypes = append(digestTypes, digestType)
		}
	}
	sort.Strings(digestTypes)
	for _, digestType := range digestTypes {
		jobs = append(jobs, job{
			name: jobDigestPrefix + digestType,
			spec: strings.TrimSpace(s.cfg.Digests[digestType]),
			run: func(ctx context.Context) (any, error) {
				return s.engine.GenerateAndSendDigests(ctx, digestType, nil)
			},
		})
	}
	return jobs
}

func (s *Scheduler) refreshStats(ctx context.Context) (any, error) {
	stats, err := s.engine.GetSchedulingStats(ctx)
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.RecordSchedule(map[string]int64{
			monitoring.BucketDueNow:       stats.DueNow,
			monitoring.BucketNextHour:     stats.DueNextHour,
			monitoring.BucketNext24h:      stats.DueNext24h,
			monitoring.BucketOverdue:      stats.Overdue,
			monitoring.BucketActiveSeries: stats.ActiveRecurringSeries,
			monitoring.BucketStaleClaims:  stats.StaleClaims,
		}, stats.GeneratedAt)
	}
	return stats, nil
}

// Jobs lists the registered job names in execution order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

// Start registers every job with cron and launches it. Invalid specs are reported together and
// leave nothing registered.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	chain := cron.NewChain(cron.Recover(cronLogger{log: s.log}), cron.SkipIfStillRunning(cronLogger{log: s.log}))
	var errs error
	for _, j := range s.jobs {
		wrapped := chain.Then(cron.FuncJob(func() {
			_ = s.run(context.Background(), j)
		}))
		id, err := s.cron.AddJob(j.spec, wrapped)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("scheduler: job %s: invalid spec %q: %w", j.name, j.spec, err))
			continue
		}
		s.entries = append(s.entries, id)
	}
	if errs != nil {
		s.removeEntries()
		return errs
	}

	s.cron.Start()
	s.started = true
	s.log.Info("scheduler started", zap.Strings("jobs", s.Jobs()))
	return nil
}

// Stop halts the cron scheduler and unregisters its jobs so a later Start registers them once.
// The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	ctx := s.cron.Stop()
	s.removeEntries()
	return ctx
}

func (s *Scheduler) removeEntries() {
	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = nil
}

// RunOnce executes every job sequentially and returns the combined errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs error
	for _, j := range s.jobs {
		errs = multierr.Append(errs, s.run(ctx, j))
	}
	return errs
}

// RunJob executes a single job by name.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name == name {
			if ctx == nil {
				ctx = context.Background()
			}
			return s.run(ctx, j)
		}
	}
	return fmt.Errorf("scheduler: unknown job %q", name)
}

func (s *Scheduler) run(ctx context.Context, j job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	started := time.Now()
	var summary any
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		summary, err = j.run(ctx)
	}()
	elapsed := time.Since(started)

	result, message := "success", ""
	if err != nil {
		result, message = "failure", err.Error()
		err = fmt.Errorf("scheduler: %s: %w", j.name, err)
		s.log.Warn("scheduler job failed", zap.String("job", j.name), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		s.log.Debug("scheduler job finished", zap.String("job", j.name), zap.Duration("elapsed", elapsed))
	}
	if s.recorder != nil {
		s.recorder.RecordJobRun(j.name, result, message, elapsed)
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(realtime.StreamScheduling, realtime.Envelope{
			Event: "job." + result,
			Data:  jobEvent{Job: j.name, Result: result, Error: message, Duration: elapsed, Summary: summary},
		})
	}
	return err
}

type jobEvent struct {
	Job      string        `json:"job"`
	Result   string        `json:"result"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Summary  any           `json:"summary,omitempty"`
}

func defaultSpec(spec, fallback string) string {
	if spec = strings.TrimSpace(spec); spec != "" {
		return spec
	}
	return fallback
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
