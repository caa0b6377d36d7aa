package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cronguard/internal/core"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run [job-id...]",
	Short: "Run the given jobs once, or every due job when none are given",
	Long: `Run performs a single scheduler pass from the command line, which makes it
usable from a system crontab. Without --force only due jobs execute.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		var results []*core.Result
		if len(args) == 0 {
			if runForce {
				return fmt.Errorf("--force needs at least one job id")
			}
			results = a.scheduler.Tick(ctx)
		} else {
			for _, id := range args {
				res, err := a.scheduler.RunJob(ctx, id, runForce)
				if err != nil {
					return fmt.Errorf("job %s: %w", id, err)
				}
				results = append(results, res)
			}
		}

		failed := 0
		out := cmd.OutOrStdout()
		for _, res := range results {
			line := fmt.Sprintf("%-36s %-24s %s", res.JobID, res.JobName, res.Outcome)
			if res.Reason != "" {
				line += " (" + string(res.Reason) + ")"
			}
			if res.Outcome == core.OutcomeFailed {
				failed++
				line += ": " + res.Detail
			}
			fmt.Fprintln(out, line)
		}
		if failed > 0 {
			return fmt.Errorf("%d job(s) failed", failed)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "Run even when not due; the planned execution time is left untouched")
}
