package core

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidSchedule is returned when a schedule carries negative minute values.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Schedule is a read-only snapshot of the scheduling columns of a job.
type Schedule struct {
	intervalMinutes         int
	staleLockTimeoutMinutes int
	locked                  bool
	lockedAt                time.Time
	hasLockedAt             bool
	lastPlanned             time.Time
	hasLastPlanned          bool
}

// NewSchedule builds a schedule snapshot. Times are normalized to UTC; nil
// lastPlanned means the job never ran.
func NewSchedule(intervalMinutes, staleLockTimeoutMinutes int, locked bool, lockedAt, lastPlanned *time.Time) (Schedule, error) {
	if intervalMinutes < 0 {
		return Schedule{}, errors.Wrapf(ErrInvalidSchedule, "interval must be non-negative, got %d", intervalMinutes)
	}
	if staleLockTimeoutMinutes < 0 {
		return Schedule{}, errors.Wrapf(ErrInvalidSchedule, "stale lock timeout must be non-negative, got %d", staleLockTimeoutMinutes)
	}
	s := Schedule{
		intervalMinutes:         intervalMinutes,
		staleLockTimeoutMinutes: staleLockTimeoutMinutes,
		locked:                  locked,
	}
	if lockedAt != nil {
		s.lockedAt = lockedAt.UTC()
		s.hasLockedAt = true
	}
	if lastPlanned != nil {
		s.lastPlanned = lastPlanned.UTC()
		s.hasLastPlanned = true
	}
	return s, nil
}

// ScheduleFor snapshots the scheduling state of a job. When the lock
// timestamp is missing the lock age falls back to the real start of the last
// run, then to the last planned execution.
func ScheduleFor(job *Job) (Schedule, error) {
	lockedAt := job.LockedAt
	if lockedAt == nil {
		lockedAt = job.RealLastExecutionStart
	}
	if lockedAt == nil {
		lockedAt = job.LastPlannedExecution
	}
	return NewSchedule(job.IntervalMinutes, job.StaleLockTimeoutMinutes, job.Locked, lockedAt, job.LastPlannedExecution)
}

func (s Schedule) IntervalMinutes() int         { return s.intervalMinutes }
func (s Schedule) StaleLockTimeoutMinutes() int { return s.staleLockTimeoutMinutes }
func (s Schedule) Locked() bool                 { return s.locked }

// LockedAt returns the lock age reference, if known.
func (s Schedule) LockedAt() (time.Time, bool) {
	return s.lockedAt, s.hasLockedAt
}

// LastPlannedExecution returns the previous planned run instant, if any.
func (s Schedule) LastPlannedExecution() (time.Time, bool) {
	return s.lastPlanned, s.hasLastPlanned
}

// withLastPlanned returns a copy anchored at t.
func (s Schedule) withLastPlanned(t time.Time) Schedule {
	s.lastPlanned = t.UTC()
	s.hasLastPlanned = true
	return s
}

func (s Schedule) interval() time.Duration {
	return time.Duration(s.intervalMinutes) * time.Minute
}

// NextPlannedExecution is the instant the job becomes due: now when the job
// never ran, otherwise the last planned execution plus the interval.
func NextPlannedExecution(s Schedule, now time.Time) time.Time {
	if !s.hasLastPlanned {
		return now.UTC()
	}
	return s.lastPlanned.Add(s.interval())
}

// RequiresExecution reports time due-ness only. Lock state is the guard's
// concern.
func RequiresExecution(s Schedule, now time.Time) bool {
	return !now.UTC().Before(NextPlannedExecution(s, now))
}

// CurrentPlannedExecution returns the latest grid instant not after now. The
// grid is anchored at the last planned execution so late runs do not shift
// later ones.
func CurrentPlannedExecution(s Schedule, now time.Time) time.Time {
	now = now.UTC()
	if !s.hasLastPlanned || s.intervalMinutes == 0 {
		return now
	}
	if now.Before(s.lastPlanned) {
		return s.lastPlanned
	}
	step := s.interval()
	elapsed := now.Sub(s.lastPlanned)
	return s.lastPlanned.Add((elapsed / step) * step)
}

// PlannedExecutions lists up to n upcoming due instants. An overdue job is
// reported as due now, followed by the grid instants after it.
func PlannedExecutions(s Schedule, now time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	now = now.UTC()
	if s.intervalMinutes == 0 {
		return []time.Time{now}
	}
	times := make([]time.Time, 0, n)
	next := NextPlannedExecution(s, now)
	if next.Before(now) {
		times = append(times, now)
		next = CurrentPlannedExecution(s, now).Add(s.interval())
	}
	for len(times) < n {
		times = append(times, next)
		next = next.Add(s.interval())
	}
	return times
}

// LockIsStale reports whether a held lock is older than the stale lock
// timeout. A zero timeout disables recovery.
func LockIsStale(s Schedule, now time.Time) bool {
	if !s.locked || s.staleLockTimeoutMinutes == 0 || !s.hasLockedAt {
		return false
	}
	timeout := time.Duration(s.staleLockTimeoutMinutes) * time.Minute
	return now.UTC().Sub(s.lockedAt) > timeout
}
