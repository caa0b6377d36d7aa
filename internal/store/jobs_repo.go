package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cronguard/internal/core"
)

var ErrJobNotFound = errors.New("cron job not found")

const jobSelectColumns = `id, name, handler, command, working_dir, timeout_seconds,
		interval_minutes, stale_lock_timeout_minutes, active,
		locked, locked_at, locked_by,
		last_planned_execution, real_last_execution_start, real_last_execution_end,
		created_at, updated_at`

// updatableColumns whitelists the fields UpdateJob may touch or filter on.
var updatableColumns = map[core.Field]string{
	core.FieldLocked:                 "locked",
	core.FieldLockedAt:               "locked_at",
	core.FieldLockedBy:               "locked_by",
	core.FieldLastPlannedExecution:   "last_planned_execution",
	core.FieldRealLastExecutionStart: "real_last_execution_start",
	core.FieldRealLastExecutionEnd:   "real_last_execution_end",
	core.FieldActive:                 "active",
	core.FieldIntervalMinutes:        "interval_minutes",
	core.FieldStaleLockTimeout:       "stale_lock_timeout_minutes",
}

// UpsertJob inserts a job definition or updates the definition columns of
// the job with the same name. Lock and execution columns are never touched.
// job.ID is set to the stored id.
func (s *Store) UpsertJob(ctx context.Context, job *core.Job) error {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = core.NewID()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cron_jobs (id, name, handler, command, working_dir, timeout_seconds,
			interval_minutes, stale_lock_timeout_minutes, active, locked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			handler = excluded.handler,
			command = excluded.command,
			working_dir = excluded.working_dir,
			timeout_seconds = excluded.timeout_seconds,
			interval_minutes = excluded.interval_minutes,
			stale_lock_timeout_minutes = excluded.stale_lock_timeout_minutes,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, job.ID, job.Name, job.Handler, nullableString(job.Command), nullableString(job.WorkingDir),
		nullableInt(job.TimeoutSeconds), job.IntervalMinutes, job.StaleLockTimeoutMinutes, boolInt(job.Active),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT id FROM cron_jobs WHERE name = ?`, job.Name).Scan(&job.ID); err != nil {
		return fmt.Errorf("read upserted job id: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*core.Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobSelectColumns+` FROM cron_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// GetJobByName looks a job up by its unique name.
func (s *Store) GetJobByName(ctx context.Context, name string) (*core.Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobSelectColumns+` FROM cron_jobs WHERE name = ?`, name)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, activeOnly bool) ([]*core.Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM cron_jobs`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name ASC`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	var jobs []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJob applies fields to the job row, restricted by the where
// predicates, and returns the number of rows affected. Zero rows means the
// job does not exist or a predicate did not hold.
func (s *Store) UpdateJob(ctx context.Context, id string, fields core.Fields, where ...core.Predicate) (int64, error) {
	if len(fields) == 0 {
		return 0, errors.New("update job: no fields")
	}
	keys := make([]core.Field, 0, len(fields))
	for f := range fields {
		keys = append(keys, f)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+len(where)+2)
	for _, f := range keys {
		col, ok := updatableColumns[f]
		if !ok {
			return 0, fmt.Errorf("update job: field %q is not updatable", f)
		}
		sets = append(sets, col+" = ?")
		args = append(args, sqlValue(fields[f]))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))

	conds := []string{"id = ?"}
	args = append(args, id)
	for _, p := range where {
		col, ok := updatableColumns[p.Field]
		if !ok {
			return 0, fmt.Errorf("update job: cannot filter on %q", p.Field)
		}
		value := sqlValue(p.Value)
		if value == nil {
			conds = append(conds, col+" IS NULL")
			continue
		}
		conds = append(conds, col+" = ?")
		args = append(args, value)
	}

	query := fmt.Sprintf(`UPDATE cron_jobs SET %s WHERE %s`, strings.Join(sets, ", "), strings.Join(conds, " AND "))
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update job rows: %w", err)
	}
	return rows, nil
}

// ForceUnlock clears the lock of a job regardless of its owner.
func (s *Store) ForceUnlock(ctx context.Context, id string) error {
	rows, err := s.UpdateJob(ctx, id, core.Fields{
		core.FieldLocked:   false,
		core.FieldLockedAt: nil,
		core.FieldLockedBy: nil,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

func scanJob(scanner interface {
	Scan(dest ...any) error
}) (*core.Job, error) {
	var (
		id           string
		name         string
		handler      string
		command      sql.NullString
		workingDir   sql.NullString
		timeout      sql.NullInt64
		interval     int
		staleTimeout int
		active       int
		locked       int
		lockedAt     sql.NullString
		lockedBy     sql.NullString
		lastPlanned  sql.NullString
		realStart    sql.NullString
		realEnd      sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := scanner.Scan(&id, &name, &handler, &command, &workingDir, &timeout,
		&interval, &staleTimeout, &active,
		&locked, &lockedAt, &lockedBy,
		&lastPlanned, &realStart, &realEnd,
		&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job := &core.Job{
		ID:                      id,
		Name:                    name,
		Handler:                 handler,
		IntervalMinutes:         interval,
		StaleLockTimeoutMinutes: staleTimeout,
		Active:                  active != 0,
		Locked:                  locked != 0,
		LockedAt:                parseNullTime(lockedAt),
		LastPlannedExecution:    parseNullTime(lastPlanned),
		RealLastExecutionStart:  parseNullTime(realStart),
		RealLastExecutionEnd:    parseNullTime(realEnd),
	}
	if command.Valid {
		job.Command = &command.String
	}
	if workingDir.Valid {
		job.WorkingDir = &workingDir.String
	}
	if timeout.Valid {
		val := int(timeout.Int64)
		job.TimeoutSeconds = &val
	}
	if lockedBy.Valid {
		job.LockedBy = &lockedBy.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		job.UpdatedAt = t
	}
	return job, nil
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil
	}
	return &t
}

// sqlValue converts a field value to its column representation.
func sqlValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		return boolInt(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		return nullableTime(v)
	case *string:
		return nullableString(v)
	case *int:
		return nullableInt(v)
	default:
		return v
	}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
