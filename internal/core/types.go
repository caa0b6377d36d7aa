package core

import (
	"time"
)

// Outcome is the terminal state of a single run attempt.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// SkipReason explains why a run attempt ended without executing the body.
type SkipReason string

const (
	SkipNotDue        SkipReason = "not_due"
	SkipLocked        SkipReason = "locked"
	SkipLockContended SkipReason = "lock_contended"
	SkipInactive      SkipReason = "inactive"
	SkipRunning       SkipReason = "running"
)

// Job is the persisted cron job record.
type Job struct {
	ID             string
	Name           string
	Handler        string
	Command        *string
	WorkingDir     *string
	TimeoutSeconds *int

	IntervalMinutes         int
	StaleLockTimeoutMinutes int
	Active                  bool

	Locked   bool
	LockedAt *time.Time
	LockedBy *string

	LastPlannedExecution   *time.Time
	RealLastExecutionStart *time.Time
	RealLastExecutionEnd   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Field names a mutable column of a job record.
type Field string

const (
	FieldLocked                 Field = "locked"
	FieldLockedAt               Field = "locked_at"
	FieldLockedBy               Field = "locked_by"
	FieldLastPlannedExecution   Field = "last_planned_execution"
	FieldRealLastExecutionStart Field = "real_last_execution_start"
	FieldRealLastExecutionEnd   Field = "real_last_execution_end"
	FieldActive                 Field = "active"
	FieldIntervalMinutes        Field = "interval_minutes"
	FieldStaleLockTimeout       Field = "stale_lock_timeout_minutes"
)

// Fields is a set of column changes applied to one job record. A nil value
// clears the column.
type Fields map[Field]any

// Predicate restricts an update to a row whose current column value matches.
// A nil Value matches NULL.
type Predicate struct {
	Field Field
	Value any
}

// Eq builds an equality predicate.
func Eq(field Field, value any) Predicate {
	return Predicate{Field: field, Value: value}
}

// IsNull builds a predicate matching a NULL column.
func IsNull(field Field) Predicate {
	return Predicate{Field: field}
}

// Result reports what happened during one Guard.Run call.
type Result struct {
	JobID   string
	JobName string
	Forced  bool
	Outcome Outcome
	Reason  SkipReason

	// Err is set for failed outcomes. Detail and Trace are its flattened
	// message and stack representation.
	Err    error
	Detail string
	Trace  string

	StartedAt time.Time
	EndedAt   time.Time

	Messages []string
}

// Duration is the wall-clock time spent executing the body.
func (r *Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// MessageOutput joins the run narrative, one line per message.
func (r *Result) MessageOutput() string {
	out := ""
	for _, msg := range r.Messages {
		out += msg + "\n"
	}
	return out
}

func (r *Result) addMessage(msg string) {
	r.Messages = append(r.Messages, msg)
}
