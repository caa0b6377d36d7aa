package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"

	"cronguard/internal/core"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier combines multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier and combines their errors.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var combined error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}

// NoOpNotifier does nothing.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Send(ctx context.Context, title, body string) error {
	return nil
}

// FailureHook returns a result hook sending one notification per failed run.
func FailureHook(n Notifier, logger *slog.Logger) core.ResultHook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, res *core.Result) {
		if res == nil || res.Outcome != core.OutcomeFailed {
			return
		}
		title := fmt.Sprintf("Cronjob %s failed", displayName(res))
		body := res.Detail
		if res.Forced {
			body = "[forced] " + body
		}
		if err := n.Send(context.WithoutCancel(ctx), title, body); err != nil {
			logger.Warn("send failure notification", "job_id", res.JobID, "err", err)
		}
	}
}

func displayName(res *core.Result) string {
	if res.JobName != "" {
		return res.JobName
	}
	return res.JobID
}
