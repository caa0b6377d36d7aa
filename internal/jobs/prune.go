package jobs

import (
	"context"

	"cronguard/internal/core"
)

// HandlerRunLogPrune trims the run log directories of every job.
const HandlerRunLogPrune = "runlog.prune"

// RunLogPruner removes run logs beyond the configured retention.
type RunLogPruner interface {
	PruneAllRunLogs() (int, error)
}

func pruneBody(pruner RunLogPruner) core.Body {
	return core.BodyFunc(func(ctx context.Context, env *core.Env) error {
		removed, err := pruner.PruneAllRunLogs()
		if err != nil {
			return err
		}
		env.Printf("removed %d run log(s)", removed)
		return nil
	})
}
