package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"cronguard/internal/logging"
)

// ErrPersistence marks failures to read or lock the job record.
var ErrPersistence = errors.New("persistence failure")

// persistenceError carries a store failure. It matches ErrPersistence for
// both the standard and the cockroachdb errors.Is.
type persistenceError struct {
	cause error
}

func (e *persistenceError) Error() string        { return e.cause.Error() }
func (e *persistenceError) Unwrap() error        { return e.cause }
func (e *persistenceError) Is(target error) bool { return target == ErrPersistence }

// Store is the persistence the guard needs. UpdateJob returns the number of
// rows affected; the where predicates make it a conditional update.
type Store interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, id string, fields Fields, where ...Predicate) (int64, error)
}

// Guard runs one job at most once at a time across every process sharing
// the store. The lock column of the job row is the only coordination point.
type Guard struct {
	store        Store
	clock        Clock
	logger       *slog.Logger
	failureLevel Severity
	owner        string
	pid          int
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock replaces the wall clock.
func WithClock(clock Clock) GuardOption {
	return func(g *Guard) { g.clock = clock }
}

// WithOwner sets the identity written to locked_by.
func WithOwner(owner string) GuardOption {
	return func(g *Guard) { g.owner = owner }
}

// WithPID overrides the process id reported in log messages.
func WithPID(pid int) GuardOption {
	return func(g *Guard) { g.pid = pid }
}

// WithFailureLevel sets which diagnostic severities fail a run.
func WithFailureLevel(level Severity) GuardOption {
	return func(g *Guard) { g.failureLevel = level }
}

// NewGuard creates a guard over store.
func NewGuard(store Store, logger *slog.Logger, opts ...GuardOption) *Guard {
	if logger == nil {
		logger = logging.New("info", "text")
	}
	g := &Guard{
		store:        store,
		clock:        SystemClock{},
		logger:       logger,
		failureLevel: DefaultFailureLevel,
		pid:          os.Getpid(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.owner == "" {
		g.owner = DefaultOwner()
	}
	return g
}

// Owner returns the lock owner identity of this guard.
func (g *Guard) Owner() string {
	return g.owner
}

// Run performs one run attempt of jobID. Unless force is set the job only
// runs when due; forced runs never touch the planned execution time. Every
// failure, including a panicking body, ends in a Result and a released lock.
func (g *Guard) Run(ctx context.Context, jobID string, body Body, force bool) *Result {
	res := &Result{JobID: jobID, Forced: force}
	now := g.clock.Now().UTC()

	job, err := g.store.GetJob(ctx, jobID)
	if err != nil {
		return g.persistenceFailure(res, errors.Wrapf(err, "read cron job %s", jobID))
	}
	res.JobName = job.Name

	schedule, err := ScheduleFor(job)
	if err != nil {
		return g.persistenceFailure(res, errors.Wrapf(err, "cron job %q", job.Name))
	}

	if !force && !RequiresExecution(schedule, now) {
		return g.skip(res, SkipNotDue)
	}

	release, reason, err := g.acquire(ctx, job, schedule, now)
	if err != nil {
		return g.persistenceFailure(res, err)
	}
	if release == nil {
		return g.skip(res, reason)
	}
	defer release()

	started := fmt.Sprintf("Cronjob %q started. [pid: %d]", job.Name, g.pid)
	g.logger.Info(started, g.jobAttrs(job, force)...)

	res.StartedAt = g.clock.Now().UTC()
	planned := g.stampStart(ctx, job, schedule, res.StartedAt, force)

	env := newEnv(*job, g.failureLevel, g.clock)
	runErr := g.execute(ctx, body, env)
	res.EndedAt = g.clock.Now().UTC()
	res.Messages = append([]string{started}, env.Messages()...)

	g.stampCompletion(ctx, job, planned, res.EndedAt, force)
	release()

	g.report(ctx, res, job, runErr)
	return res
}

func (g *Guard) acquire(ctx context.Context, job *Job, schedule Schedule, now time.Time) (func(), SkipReason, error) {
	where := []Predicate{Eq(FieldLocked, false)}
	if schedule.Locked() {
		if !LockIsStale(schedule, now) {
			return nil, SkipLocked, nil
		}
		// Compare-and-swap on the observed lock so only one recoverer wins.
		where = []Predicate{Eq(FieldLocked, true)}
		if job.LockedAt != nil {
			where = append(where, Eq(FieldLockedAt, *job.LockedAt))
		} else {
			where = append(where, IsNull(FieldLockedAt))
		}
		lockedAt, _ := schedule.LockedAt()
		g.logger.Warn("recovering stale cron job lock",
			"job_id", job.ID,
			"job_name", job.Name,
			"locked_by", derefString(job.LockedBy),
			"lock_age", now.Sub(lockedAt).Round(time.Second),
			"stale_after_minutes", schedule.StaleLockTimeoutMinutes(),
		)
	}

	n, err := g.store.UpdateJob(ctx, job.ID, Fields{
		FieldLocked:   true,
		FieldLockedAt: now,
		FieldLockedBy: g.owner,
	}, where...)
	if err != nil {
		return nil, "", errors.Wrapf(err, "lock cron job %q", job.Name)
	}
	if n != 1 {
		return nil, SkipLockContended, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() { g.unlock(ctx, job) })
	}
	return release, "", nil
}

func (g *Guard) unlock(ctx context.Context, job *Job) {
	ctx = context.WithoutCancel(ctx)
	n, err := g.store.UpdateJob(ctx, job.ID, Fields{
		FieldLocked:   false,
		FieldLockedAt: nil,
		FieldLockedBy: nil,
	}, Eq(FieldLockedBy, g.owner))
	if err != nil {
		g.logger.Error("unlock cron job", "job_id", job.ID, "job_name", job.Name, "err", err)
		return
	}
	if n == 0 {
		g.logger.Warn("cron job lock was taken over before unlock", "job_id", job.ID, "job_name", job.Name)
	}
}

// stampStart records the real start and, for scheduled runs, the planned
// execution before the body runs so a crash still advances the schedule. It
// returns the schedule the completion stamp is computed from.
func (g *Guard) stampStart(ctx context.Context, job *Job, schedule Schedule, start time.Time, force bool) Schedule {
	fields := Fields{FieldRealLastExecutionStart: start}
	if !force {
		planned := CurrentPlannedExecution(schedule, start)
		fields[FieldLastPlannedExecution] = planned
		schedule = schedule.withLastPlanned(planned)
	}
	if _, err := g.store.UpdateJob(context.WithoutCancel(ctx), job.ID, fields, Eq(FieldLockedBy, g.owner)); err != nil {
		g.logger.Error("stamp cron job start", "job_id", job.ID, "job_name", job.Name, "err", err)
	}
	return schedule
}

func (g *Guard) stampCompletion(ctx context.Context, job *Job, schedule Schedule, end time.Time, force bool) {
	fields := Fields{FieldRealLastExecutionEnd: end}
	if !force {
		fields[FieldLastPlannedExecution] = CurrentPlannedExecution(schedule, end)
	}
	if _, err := g.store.UpdateJob(context.WithoutCancel(ctx), job.ID, fields, Eq(FieldLockedBy, g.owner)); err != nil {
		g.logger.Error("stamp cron job completion", "job_id", job.ID, "job_name", job.Name, "err", err)
	}
}

func (g *Guard) execute(ctx context.Context, body Body, env *Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.Wrap(e, "job body panicked")
			} else {
				err = errors.Newf("job body panicked: %v", r)
			}
		}
	}()
	if body == nil {
		return errors.New("no job body")
	}
	if err := body.Execute(ctx, env); err != nil {
		return errors.WithStack(err)
	}
	if escalated := env.Escalated(); len(escalated) > 0 {
		return errors.WithStack(&EscalationError{Diagnostic: escalated[0]})
	}
	return nil
}

func (g *Guard) report(ctx context.Context, res *Result, job *Job, runErr error) {
	attrs := g.jobAttrs(job, res.Forced)
	attrs = append(attrs, "duration", res.Duration())
	if runErr == nil {
		res.Outcome = OutcomeSucceeded
		msg := fmt.Sprintf("Cronjob %q completed. [pid: %d]", job.Name, g.pid)
		g.logger.Info(msg, attrs...)
		res.addMessage(msg)
		return
	}

	res.Outcome = OutcomeFailed
	res.Err = runErr
	res.Detail = runErr.Error()
	res.Trace = fmt.Sprintf("%+v", runErr)
	msg := fmt.Sprintf("Cronjob %q failed with error: %s [pid: %d]", job.Name, res.Detail, g.pid)
	attrs = append(attrs, "full_message", res.Detail, "trace", res.Trace)
	logging.Critical(ctx, g.logger, msg, attrs...)
	res.addMessage(msg)
}

func (g *Guard) skip(res *Result, reason SkipReason) *Result {
	res.Outcome = OutcomeSkipped
	res.Reason = reason
	g.logger.Debug("cron job skipped", "job_id", res.JobID, "job_name", res.JobName, "reason", reason)
	return res
}

func (g *Guard) persistenceFailure(res *Result, err error) *Result {
	res.Outcome = OutcomeFailed
	res.Err = &persistenceError{cause: err}
	res.Detail = err.Error()
	res.Trace = fmt.Sprintf("%+v", err)
	msg := fmt.Sprintf("Cronjob %s could not be started: %s [pid: %d]", res.JobID, res.Detail, g.pid)
	g.logger.Error(msg, "job_id", res.JobID, "job_name", res.JobName, "owner", g.owner, "err", err)
	res.addMessage(msg)
	return res
}

func (g *Guard) jobAttrs(job *Job, force bool) []any {
	return []any{
		"job_id", job.ID,
		"job_name", job.Name,
		"handler", job.Handler,
		"owner", g.owner,
		"forced", force,
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
