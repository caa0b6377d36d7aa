package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"cronguard/internal/config"
	"cronguard/internal/core"
	"cronguard/internal/jobfile"
	"cronguard/internal/jobs"
	"cronguard/internal/logging"
	"cronguard/internal/notify"
	"cronguard/internal/store"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cronguardd",
	Short: "cronguard - interval cron jobs guarded by a shared lock",
	Long: `cronguard runs interval based cron jobs so that each job executes at most
once at a time across every process sharing the state directory.

Examples:
  cronguardd serve                    # Run the scheduler and the admin API
  cronguardd serve --mode mcp         # Serve MCP tools on stdio
  cronguardd run --force <job-id>     # Run one job now
  cronguardd import jobs.yaml         # Load job definitions
  cronguardd list                     # Show jobs and their schedule`,
	SilenceUsage: true,
	Version:      version,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(unlockCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the components every command works with.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	guard     *core.Guard
	registry  *core.Registry
	scheduler *core.Scheduler
}

// newApp loads the configuration and wires store, guard, registry and
// scheduler. Logs go to stderr when stdout carries the MCP protocol.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logOut := os.Stdout
	if cmd.Name() == "serve" && cfg.Server.Mode != "http" {
		logOut = os.Stderr
	}
	logger := logging.NewWithWriter(logOut, cfg.Log.Level, cfg.Log.Format)

	st, err := store.Open(ctx, cfg.StateDir, cfg.Log.Retention)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	opts := []core.GuardOption{core.WithFailureLevel(cfg.Scheduler.FailureErrorLevel)}
	if cfg.Scheduler.Owner != "" {
		opts = append(opts, core.WithOwner(cfg.Scheduler.Owner))
	}
	guard := core.NewGuard(st, logger, opts...)

	registry := core.NewRegistry()
	if err := jobs.Register(registry, jobs.Deps{Logger: logger, Pruner: st}); err != nil {
		st.Close()
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	hooks := []core.ResultHook{jobs.RunLogHook(st, logger)}
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("bark notifier: %w", err)
		}
		hooks = append(hooks, notify.FailureHook(bark, logger))
	}

	scheduler, err := core.NewScheduler(st, guard, registry, logger, cfg.Scheduler.Tick, hooks...)
	if err != nil {
		st.Close()
		return nil, err
	}

	if cfg.Scheduler.JobsFile != "" {
		f, err := jobfile.Load(cfg.Scheduler.JobsFile)
		if err != nil {
			st.Close()
			return nil, err
		}
		n, err := f.Import(ctx, st)
		if err != nil {
			st.Close()
			return nil, err
		}
		logger.Info("imported job definitions", "file", cfg.Scheduler.JobsFile, "count", n)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		guard:     guard,
		registry:  registry,
		scheduler: scheduler,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "err", err)
	}
}
