package core

import "time"

// JobStatus is the scheduling view of a job at a given instant.
type JobStatus struct {
	Job                  *Job
	NextPlannedExecution time.Time
	Due                  bool
	LockStale            bool
}

// Describe evaluates the schedule of job at now.
func Describe(job *Job, now time.Time) (JobStatus, error) {
	s, err := ScheduleFor(job)
	if err != nil {
		return JobStatus{}, err
	}
	return JobStatus{
		Job:                  job,
		NextPlannedExecution: NextPlannedExecution(s, now),
		Due:                  RequiresExecution(s, now),
		LockStale:            LockIsStale(s, now),
	}, nil
}

// Preview lists up to n upcoming due instants of job.
func Preview(job *Job, now time.Time, n int) ([]time.Time, error) {
	s, err := ScheduleFor(job)
	if err != nil {
		return nil, err
	}
	return PlannedExecutions(s, now, n), nil
}
