package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory Store that honours update predicates.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job

	getErr    error
	updateErr error
	// beforeUpdate runs under the lock ahead of every update.
	beforeUpdate func(job *Job)
	updates      []Fields
}

func newMemStore(jobs ...*Job) *memStore {
	s := &memStore{jobs: make(map[string]*Job)}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *memStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) ListJobs(_ context.Context, activeOnly bool) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if activeOnly && !job.Active {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpdateJob(_ context.Context, id string, fields Fields, where ...Predicate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	job, ok := s.jobs[id]
	if !ok {
		return 0, nil
	}
	if s.beforeUpdate != nil {
		s.beforeUpdate(job)
	}
	for _, p := range where {
		if !matches(fieldValue(job, p.Field), p.Value) {
			return 0, nil
		}
	}
	for f, v := range fields {
		applyField(job, f, v)
	}
	s.updates = append(s.updates, fields)
	return 1, nil
}

func (s *memStore) job(id string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func fieldValue(job *Job, f Field) any {
	switch f {
	case FieldLocked:
		return job.Locked
	case FieldLockedAt:
		return timeOrNil(job.LockedAt)
	case FieldLockedBy:
		if job.LockedBy == nil {
			return nil
		}
		return *job.LockedBy
	case FieldLastPlannedExecution:
		return timeOrNil(job.LastPlannedExecution)
	case FieldRealLastExecutionStart:
		return timeOrNil(job.RealLastExecutionStart)
	case FieldRealLastExecutionEnd:
		return timeOrNil(job.RealLastExecutionEnd)
	case FieldActive:
		return job.Active
	case FieldIntervalMinutes:
		return job.IntervalMinutes
	case FieldStaleLockTimeout:
		return job.StaleLockTimeoutMinutes
	}
	panic(fmt.Sprintf("unknown field %q", f))
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func matches(current, want any) bool {
	if want == nil || current == nil {
		return want == nil && current == nil
	}
	if wt, ok := want.(time.Time); ok {
		ct, ok := current.(time.Time)
		return ok && ct.Equal(wt)
	}
	return current == want
}

func applyField(job *Job, f Field, v any) {
	timePtr := func() *time.Time {
		if v == nil {
			return nil
		}
		t := v.(time.Time)
		return &t
	}
	switch f {
	case FieldLocked:
		job.Locked = v.(bool)
	case FieldLockedAt:
		job.LockedAt = timePtr()
	case FieldLockedBy:
		if v == nil {
			job.LockedBy = nil
		} else {
			owner := v.(string)
			job.LockedBy = &owner
		}
	case FieldLastPlannedExecution:
		job.LastPlannedExecution = timePtr()
	case FieldRealLastExecutionStart:
		job.RealLastExecutionStart = timePtr()
	case FieldRealLastExecutionEnd:
		job.RealLastExecutionEnd = timePtr()
	case FieldActive:
		job.Active = v.(bool)
	case FieldIntervalMinutes:
		job.IntervalMinutes = v.(int)
	case FieldStaleLockTimeout:
		job.StaleLockTimeoutMinutes = v.(int)
	default:
		panic(fmt.Sprintf("unknown field %q", f))
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now.UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func at(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2024-03-01 "+hhmm)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
