package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cronguard/internal/core"
	"cronguard/internal/store"
)

type updateJobRequest struct {
	Active                  *bool `json:"active"`
	IntervalMinutes         *int  `json:"interval_minutes"`
	StaleLockTimeoutMinutes *int  `json:"stale_lock_timeout_minutes"`
}

type jobResponse struct {
	ID                      string  `json:"id"`
	Name                    string  `json:"name"`
	Handler                 string  `json:"handler"`
	Command                 *string `json:"command,omitempty"`
	WorkingDir              *string `json:"working_dir,omitempty"`
	TimeoutSecs             *int    `json:"timeout_s,omitempty"`
	IntervalMinutes         int     `json:"interval_minutes"`
	StaleLockTimeoutMinutes int     `json:"stale_lock_timeout_minutes"`
	Active                  bool    `json:"active"`
	Locked                  bool    `json:"locked"`
	LockedAt                *string `json:"locked_at,omitempty"`
	LockedBy                *string `json:"locked_by,omitempty"`
	LockStale               bool    `json:"lock_stale"`
	LastPlannedExecution    *string `json:"last_planned_execution,omitempty"`
	RealLastExecutionStart  *string `json:"real_last_execution_start,omitempty"`
	RealLastExecutionEnd    *string `json:"real_last_execution_end,omitempty"`
	NextPlannedExecution    string  `json:"next_planned_execution"`
	Due                     bool    `json:"due"`
	Running                 bool    `json:"running"`
	CreatedAt               string  `json:"created_at"`
	UpdatedAt               string  `json:"updated_at"`
}

type resultResponse struct {
	JobID      string   `json:"job_id"`
	JobName    string   `json:"job_name,omitempty"`
	Forced     bool     `json:"forced"`
	Outcome    string   `json:"outcome"`
	Reason     string   `json:"reason,omitempty"`
	Error      string   `json:"error,omitempty"`
	StartedAt  *string  `json:"started_at,omitempty"`
	EndedAt    *string  `json:"ended_at,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	Messages   []string `json:"messages,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := strings.TrimSpace(r.URL.Query().Get("active")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "active must be a boolean")
			return
		}
		activeOnly = parsed
	}
	jobs, err := s.store.ListJobs(r.Context(), activeOnly)
	if err != nil {
		s.logger.Error("list jobs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}
	now := s.clock.Now()
	res := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		res = append(res, s.jobToResponse(job, now))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.jobToResponse(job, s.clock.Now()))
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	fields := core.Fields{}
	if req.Active != nil {
		fields[core.FieldActive] = *req.Active
	}
	if req.IntervalMinutes != nil {
		if *req.IntervalMinutes < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "interval_minutes must be non-negative")
			return
		}
		fields[core.FieldIntervalMinutes] = *req.IntervalMinutes
	}
	if req.StaleLockTimeoutMinutes != nil {
		if *req.StaleLockTimeoutMinutes < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "stale_lock_timeout_minutes must be non-negative")
			return
		}
		fields[core.FieldStaleLockTimeout] = *req.StaleLockTimeoutMinutes
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "nothing to update")
		return
	}

	if _, err := s.store.UpdateJob(r.Context(), job.ID, fields); err != nil {
		s.logger.Error("update job", "job_id", job.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update job")
		return
	}
	updated, err := s.store.GetJob(r.Context(), job.ID)
	if err != nil {
		s.logger.Error("reload job", "job_id", job.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, s.jobToResponse(updated, s.clock.Now()))
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	force := parseBoolDefault(r.URL.Query().Get("force"), false)
	res, err := s.scheduler.RunJob(r.Context(), jobID, force)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		s.logger.Error("run job", "job_id", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to run job")
		return
	}
	status := http.StatusOK
	if res.Outcome == core.OutcomeSkipped && (res.Reason == core.SkipLocked || res.Reason == core.SkipLockContended || res.Reason == core.SkipRunning) {
		status = http.StatusConflict
	}
	writeJSON(w, status, resultToResponse(res))
}

func (s *Server) handleUnlockJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if s.scheduler.IsRunning(jobID) {
		writeError(w, http.StatusConflict, "conflict", "job is running in this process")
		return
	}
	if err := s.store.ForceUnlock(r.Context(), jobID); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		s.logger.Error("unlock job", "job_id", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to unlock job")
		return
	}
	s.logger.Warn("cron job lock released manually", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	count := parseIntDefault(r.URL.Query().Get("count"), 5)
	if count <= 0 || count > 50 {
		count = 5
	}
	times, err := core.Preview(job, s.clock.Now(), count)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_schedule", err.Error())
		return
	}
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID, "next_times": formatted})
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	content, err := s.store.LatestRunLog(job.ID)
	if err != nil {
		if errors.Is(err, store.ErrRunLogNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no run log yet")
			return
		}
		s.logger.Error("read run log", "job_id", job.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read run log")
		return
	}
	tail := parseIntDefault(r.URL.Query().Get("tail"), 0)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(store.TailLines(content, tail)))
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*core.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
		} else {
			s.logger.Error("get job", "job_id", jobID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load job")
		}
		return nil, false
	}
	return job, true
}

func (s *Server) jobToResponse(job *core.Job, now time.Time) jobResponse {
	res := jobResponse{
		ID:                      job.ID,
		Name:                    job.Name,
		Handler:                 job.Handler,
		Command:                 job.Command,
		WorkingDir:              job.WorkingDir,
		TimeoutSecs:             job.TimeoutSeconds,
		IntervalMinutes:         job.IntervalMinutes,
		StaleLockTimeoutMinutes: job.StaleLockTimeoutMinutes,
		Active:                  job.Active,
		Locked:                  job.Locked,
		LockedAt:                formatTime(job.LockedAt),
		LockedBy:                job.LockedBy,
		LastPlannedExecution:    formatTime(job.LastPlannedExecution),
		RealLastExecutionStart:  formatTime(job.RealLastExecutionStart),
		RealLastExecutionEnd:    formatTime(job.RealLastExecutionEnd),
		Running:                 s.scheduler.IsRunning(job.ID),
		CreatedAt:               job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:               job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if status, err := core.Describe(job, now); err == nil {
		res.NextPlannedExecution = status.NextPlannedExecution.UTC().Format(time.RFC3339)
		res.Due = status.Due
		res.LockStale = status.LockStale
	}
	return res
}

func resultToResponse(res *core.Result) resultResponse {
	out := resultResponse{
		JobID:      res.JobID,
		JobName:    res.JobName,
		Forced:     res.Forced,
		Outcome:    string(res.Outcome),
		Reason:     string(res.Reason),
		Error:      res.Detail,
		DurationMs: res.Duration().Milliseconds(),
		Messages:   res.Messages,
	}
	if !res.StartedAt.IsZero() {
		out.StartedAt = formatTime(&res.StartedAt)
	}
	if !res.EndedAt.IsZero() {
		out.EndedAt = formatTime(&res.EndedAt)
	}
	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseBoolDefault(value string, def bool) bool {
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
