// Package jobs holds the built-in job bodies and the result hooks that
// persist run output.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"cronguard/internal/core"
)

// Deps are the collaborators of the built-in bodies.
type Deps struct {
	Logger *slog.Logger
	Pruner RunLogPruner
}

// Register adds the built-in handlers to reg.
func Register(reg *core.Registry, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := reg.Register(HandlerShell, func(job *core.Job) (core.Body, error) {
		return newShellBody(job, logger)
	}); err != nil {
		return err
	}
	if deps.Pruner != nil {
		if err := reg.Register(HandlerRunLogPrune, func(*core.Job) (core.Body, error) {
			return pruneBody(deps.Pruner), nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// RunLogWriter persists the message output of a run.
type RunLogWriter interface {
	WriteRunLog(jobID string, at time.Time, content string) (string, error)
	PruneRunLogs(jobID string) (int, error)
}

// RunLogHook writes the message output of every executed run and applies
// the retention limit of that job.
func RunLogHook(w RunLogWriter, logger *slog.Logger) core.ResultHook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, res *core.Result) {
		at := res.StartedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := w.WriteRunLog(res.JobID, at, res.MessageOutput()); err != nil {
			logger.Warn("write run log", "job_id", res.JobID, "err", err)
			return
		}
		if _, err := w.PruneRunLogs(res.JobID); err != nil {
			logger.Warn("prune run logs", "job_id", res.JobID, "err", err)
		}
	}
}
