package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cronguard/internal/api"
	cronguardmcp "cronguard/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler with the admin API and/or MCP tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.serve(ctx)
	},
}

func (a *app) serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	mcpServer := cronguardmcp.NewMCPServer(a.store, a.scheduler, a.logger, version)
	errs := make(chan error, 2)

	var server *api.Server
	if a.cfg.Server.Mode == "http" || a.cfg.Server.Mode == "both" {
		server = api.NewServer(a.cfg.Server.Addr, a.cfg.Server.AuthToken, a.store, a.scheduler, mcpServer.HTTPHandler(), a.logger)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}
	if a.cfg.Server.Mode == "mcp" || a.cfg.Server.Mode == "both" {
		go func() {
			// Stdin closing ends the session like a signal would.
			errs <- mcpServer.Run()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received signal, shutting down")
	case runErr = <-errs:
		if runErr != nil {
			a.logger.Error("server error", "err", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGrace)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown", "err", err)
		}
	}

	stopCtx := a.scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(a.cfg.ShutdownGrace):
		a.logger.Warn("scheduler stop timed out, running jobs keep their lock until it goes stale")
	}
	a.logger.Info("shutdown complete")
	return runErr
}
