package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Body performs the actual work of a cron job.
type Body interface {
	Execute(ctx context.Context, env *Env) error
}

// BodyFunc adapts a function to the Body interface.
type BodyFunc func(ctx context.Context, env *Env) error

func (f BodyFunc) Execute(ctx context.Context, env *Env) error {
	return f(ctx, env)
}

// Env is handed to a body for the duration of one run. It collects message
// output and diagnostics; it is safe for concurrent use.
type Env struct {
	job   Job
	level Severity
	clock Clock

	mu        sync.Mutex
	messages  []string
	escalated []Diagnostic
}

func newEnv(job Job, level Severity, clock Clock) *Env {
	return &Env{job: job, level: level, clock: clock}
}

// NewEnv builds an Env outside of a guard run, mostly for exercising bodies
// directly.
func NewEnv(job Job, level Severity) *Env {
	return newEnv(job, level, SystemClock{})
}

// Job returns a copy of the record being executed.
func (e *Env) Job() Job {
	return e.job
}

// Printf appends a line to the run's message output.
func (e *Env) Printf(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, fmt.Sprintf(format, args...))
}

// Report records a diagnostic. If the configured failure level escalates
// the severity, the diagnostic fails the run and an *EscalationError is
// returned; otherwise it is written to the message output and nil is
// returned.
func (e *Env) Report(sev Severity, format string, args ...any) error {
	d := Diagnostic{Severity: sev, Message: fmt.Sprintf(format, args...), At: e.clock.Now().UTC()}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, d.String())
	if !Escalates(e.level, sev) {
		return nil
	}
	e.escalated = append(e.escalated, d)
	return &EscalationError{Diagnostic: d}
}

// Messages returns the message output collected so far.
func (e *Env) Messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.messages))
	copy(out, e.messages)
	return out
}

// Escalated returns the diagnostics that failed the run.
func (e *Env) Escalated() []Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Diagnostic, len(e.escalated))
	copy(out, e.escalated)
	return out
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
