package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"cronguard/internal/logging"
)

// DefaultTick evaluates every job once a minute, the finest interval a job
// can be configured with.
const DefaultTick = "* * * * *"

var tickParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseTick validates the cron expression driving the scheduler loop.
func ParseTick(expr string) (cron.Schedule, error) {
	schedule, err := tickParser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid tick expression %q", expr)
	}
	return schedule, nil
}

// JobStore is the persistence used by the scheduler.
type JobStore interface {
	Store
	ListJobs(ctx context.Context, activeOnly bool) ([]*Job, error)
}

// ResultHook observes every run that got past the due and lock checks.
type ResultHook func(ctx context.Context, res *Result)

// Scheduler triggers guard runs on a cron tick and on demand.
type Scheduler struct {
	store    JobStore
	guard    *Guard
	registry *Registry
	logger   *slog.Logger
	tickSpec string
	hooks    []ResultHook

	cron     *cron.Cron
	running  sync.Map // jobID -> struct{}{}
	inflight sync.WaitGroup

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store JobStore, guard *Guard, registry *Registry, logger *slog.Logger, tickSpec string, hooks ...ResultHook) (*Scheduler, error) {
	if logger == nil {
		logger = logging.New("info", "text")
	}
	if tickSpec == "" {
		tickSpec = DefaultTick
	}
	if _, err := ParseTick(tickSpec); err != nil {
		return nil, err
	}
	c := cron.New(
		cron.WithParser(tickParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{logger}),
	)
	return &Scheduler{
		store:    store,
		guard:    guard,
		registry: registry,
		logger:   logger,
		tickSpec: tickSpec,
		hooks:    hooks,
		cron:     c,
	}, nil
}

// Start begins the tick loop. ctx is used for the runs started by ticks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.cron.AddFunc(s.tickSpec, func() { s.dispatch(s.ctxOrBackground()) }); err != nil {
		return errors.Wrap(err, "register tick")
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "tick", s.tickSpec, "owner", s.guard.Owner())
	return nil
}

// Stop stops the tick loop; the returned context is done once every run
// started by a tick has finished.
func (s *Scheduler) Stop() context.Context {
	cronDone := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.inflight.Wait()
		cancel()
	}()
	return ctx
}

// dispatch starts a run for every active job without waiting for them, so
// a long run never holds back the next tick. Jobs still running in this
// process are skipped.
func (s *Scheduler) dispatch(ctx context.Context) {
	jobs, err := s.store.ListJobs(ctx, true)
	if err != nil {
		s.logger.Error("list cron jobs", "err", err)
		return
	}
	for _, job := range jobs {
		if s.IsRunning(job.ID) {
			continue
		}
		s.inflight.Add(1)
		go func(job *Job) {
			defer s.inflight.Done()
			s.runJob(ctx, job, false)
		}(job)
	}
}

// Tick evaluates every active job once, running due jobs concurrently, and
// waits for their results.
func (s *Scheduler) Tick(ctx context.Context) []*Result {
	jobs, err := s.store.ListJobs(ctx, true)
	if err != nil {
		s.logger.Error("list cron jobs", "err", err)
		return nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]*Result, 0, len(jobs))
	)
	for _, job := range jobs {
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			res := s.runJob(ctx, job, false)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(job)
	}
	wg.Wait()
	return results
}

// RunJob runs a single job now. Without force it behaves like a tick for
// that job; inactive jobs only run when forced.
func (s *Scheduler) RunJob(ctx context.Context, jobID string, force bool) (*Result, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Active && !force {
		return &Result{JobID: job.ID, JobName: job.Name, Outcome: OutcomeSkipped, Reason: SkipInactive}, nil
	}
	return s.runJob(ctx, job, force), nil
}

func (s *Scheduler) runJob(ctx context.Context, job *Job, force bool) *Result {
	if _, loaded := s.running.LoadOrStore(job.ID, struct{}{}); loaded {
		s.logger.Debug("skipping run because job is already running in this process", "job_id", job.ID)
		return &Result{JobID: job.ID, JobName: job.Name, Forced: force, Outcome: OutcomeSkipped, Reason: SkipRunning}
	}
	defer s.running.Delete(job.ID)

	body, err := s.registry.Build(job)
	if err != nil {
		// Run anyway so the failure is recorded and the schedule advances.
		buildErr := err
		body = BodyFunc(func(context.Context, *Env) error { return buildErr })
	}

	res := s.guard.Run(ctx, job.ID, body, force)
	if res.Outcome != OutcomeSkipped {
		for _, hook := range s.hooks {
			hook(ctx, res)
		}
	}
	return res
}

// IsRunning reports whether this process is currently running jobID.
func (s *Scheduler) IsRunning(jobID string) bool {
	_, ok := s.running.Load(jobID)
	return ok
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// cronLogger adapts slog to the robfig/cron logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
