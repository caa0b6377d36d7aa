package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronguard/internal/core"
)

type fakePruner struct {
	removed int
	err     error
}

func (p *fakePruner) PruneAllRunLogs() (int, error) {
	return p.removed, p.err
}

func TestRunLogPruneBody(t *testing.T) {
	reg := core.NewRegistry()
	require.NoError(t, Register(reg, Deps{Pruner: &fakePruner{removed: 4}}))

	body, err := reg.Build(&core.Job{Name: "prune", Handler: HandlerRunLogPrune})
	require.NoError(t, err)
	env := core.NewEnv(core.Job{}, core.SeverityNone)
	require.NoError(t, body.Execute(context.Background(), env))
	assert.Equal(t, []string{"removed 4 run log(s)"}, env.Messages())

	reg = core.NewRegistry()
	require.NoError(t, Register(reg, Deps{Pruner: &fakePruner{err: errors.New("permission denied")}}))
	body, err = reg.Build(&core.Job{Name: "prune", Handler: HandlerRunLogPrune})
	require.NoError(t, err)
	require.Error(t, body.Execute(context.Background(), env))
}

type fakeRunLogWriter struct {
	jobID   string
	at      time.Time
	content string
	pruned  []string
}

func (w *fakeRunLogWriter) WriteRunLog(jobID string, at time.Time, content string) (string, error) {
	w.jobID, w.at, w.content = jobID, at, content
	return "/tmp/x.log", nil
}

func (w *fakeRunLogWriter) PruneRunLogs(jobID string) (int, error) {
	w.pruned = append(w.pruned, jobID)
	return 0, nil
}

func TestRunLogHook(t *testing.T) {
	w := &fakeRunLogWriter{}
	started := time.Date(2024, 3, 1, 9, 10, 0, 0, time.UTC)
	hook := RunLogHook(w, nil)

	hook(context.Background(), &core.Result{
		JobID:     "job-1",
		Outcome:   core.OutcomeSucceeded,
		StartedAt: started,
		Messages:  []string{"started", "done"},
	})
	assert.Equal(t, "job-1", w.jobID)
	assert.Equal(t, started, w.at)
	assert.Equal(t, "started\ndone\n", w.content)
	assert.Equal(t, []string{"job-1"}, w.pruned)
}
