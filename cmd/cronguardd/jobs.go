package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cronguard/internal/core"
	"cronguard/internal/jobfile"
)

var importCmd = &cobra.Command{
	Use:   "import <jobs.yaml>",
	Short: "Create or update jobs from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := jobfile.Load(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, def := range f.Jobs {
			if !a.registry.Has(def.Handler) {
				a.logger.Warn("job uses an unknown handler and will fail when run", "job_name", def.Name, "handler", def.Handler)
			}
		}
		n, err := f.Import(cmd.Context(), a.store)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d job(s)\n", n)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs with their schedule and lock state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		jobList, err := a.store.ListJobs(cmd.Context(), false)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tHANDLER\tEVERY\tACTIVE\tLOCKED\tNEXT")
		for _, job := range jobList {
			next := "-"
			locked := fmt.Sprintf("%t", job.Locked)
			if status, err := core.Describe(job, now); err == nil {
				next = status.NextPlannedExecution.Format(time.RFC3339)
				if status.LockStale {
					locked = "stale"
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%dm\t%t\t%s\t%s\n",
				job.ID, job.Name, job.Handler, job.IntervalMinutes, job.Active, locked, next)
		}
		return tw.Flush()
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <job-id>",
	Short: "Release the lock of a job left behind by a crashed run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.ForceUnlock(cmd.Context(), args[0]); err != nil {
			return err
		}
		a.logger.Warn("cron job lock released manually", "job_id", args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", args[0])
		return nil
	},
}
