package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"cronguard/internal/core"
	"cronguard/internal/store"
)

// MCPServer exposes the cron jobs as MCP tools.
type MCPServer struct {
	store     *store.Store
	scheduler *core.Scheduler
	logger    *slog.Logger
	clock     core.Clock
	server    *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(store *store.Store, scheduler *core.Scheduler, logger *slog.Logger, version string) *MCPServer {
	s := &MCPServer{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
		clock:     core.SystemClock{},
	}
	s.server = server.NewMCPServer(
		"cronguard",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.server)
	return s
}

// Run serves the MCP protocol on stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// HTTPHandler returns the streamable HTTP transport for mounting on /mcp.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("cron_list_jobs",
		mcp.WithDescription("List cron jobs with their schedule and lock state"),
		mcp.WithBoolean("active_only",
			mcp.Description("Only list active jobs"),
		),
	), s.handleListJobs)

	mcpServer.AddTool(mcp.NewTool("cron_get_job",
		mcp.WithDescription("Show one cron job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID"),
		),
	), s.handleGetJob)

	mcpServer.AddTool(mcp.NewTool("cron_run_job",
		mcp.WithDescription("Run a cron job now and wait for the outcome. Without force the job only runs when due"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Run even when not due; the planned execution time is left untouched"),
		),
	), s.handleRunJob)

	mcpServer.AddTool(mcp.NewTool("cron_unlock_job",
		mcp.WithDescription("Release the lock of a cron job, e.g. after a crashed run"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID"),
		),
	), s.handleUnlockJob)

	mcpServer.AddTool(mcp.NewTool("cron_set_job_active",
		mcp.WithDescription("Activate or deactivate a cron job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID"),
		),
		mcp.WithBoolean("active",
			mcp.Required(),
			mcp.Description("Whether the scheduler should run the job"),
		),
	), s.handleSetJobActive)

	mcpServer.AddTool(mcp.NewTool("cron_preview_schedule",
		mcp.WithDescription("Preview the upcoming planned executions of a cron job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of instants to return, default 5"),
			mcp.Min(1),
			mcp.Max(50),
		),
	), s.handlePreview)

	mcpServer.AddTool(mcp.NewTool("cron_get_run_log",
		mcp.WithDescription("Show the message output of the latest run of a cron job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID"),
		),
		mcp.WithNumber("tail",
			mcp.Description("Return only the last N lines, default all"),
			mcp.Min(0),
		),
	), s.handleGetRunLog)

	s.logger.Debug("MCP tools registered", "count", 7)
}

func (s *MCPServer) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	activeOnly := mcp.ParseBoolean(request, "active_only", false)
	jobs, err := s.store.ListJobs(ctx, activeOnly)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list jobs: %v", err)), nil
	}
	if len(jobs) == 0 {
		return mcp.NewToolResultText("No cron jobs defined"), nil
	}

	now := s.clock.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(&b, "[%s] %s (%s)\n", jobIcon(job, s.scheduler.IsRunning(job.ID)), job.Name, job.ID)
		fmt.Fprintf(&b, "    handler: %s, every %d min\n", job.Handler, job.IntervalMinutes)
		if status, err := core.Describe(job, now); err == nil {
			fmt.Fprintf(&b, "    next: %s\n", formatTime(&status.NextPlannedExecution))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	job, errResult := s.loadJob(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	return mcp.NewToolResultText(s.describeJob(job)), nil
}

func (s *MCPServer) handleRunJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	force := mcp.ParseBoolean(request, "force", false)

	res, err := s.scheduler.RunJob(ctx, jobID, force)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("job not found: %s", jobID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to run job: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Outcome: %s\n", res.Outcome)
	if res.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", res.Reason)
	}
	if res.Outcome != core.OutcomeSkipped {
		fmt.Fprintf(&b, "Duration: %s\n", res.Duration().Round(time.Millisecond))
	}
	if out := res.MessageOutput(); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	if res.Outcome == core.OutcomeFailed {
		return mcp.NewToolResultError(b.String()), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleUnlockJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	if s.scheduler.IsRunning(jobID) {
		return mcp.NewToolResultError("job is running in this process"), nil
	}
	if err := s.store.ForceUnlock(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("job not found: %s", jobID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to unlock job: %v", err)), nil
	}
	s.logger.Warn("cron job lock released manually", "job_id", jobID)
	return mcp.NewToolResultText(fmt.Sprintf("Job unlocked: %s", jobID)), nil
}

func (s *MCPServer) handleSetJobActive(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	active := mcp.ParseBoolean(request, "active", true)
	n, err := s.store.UpdateJob(ctx, jobID, core.Fields{core.FieldActive: active})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update job: %v", err)), nil
	}
	if n == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("job not found: %s", jobID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Job %s active: %t", jobID, active)), nil
}

func (s *MCPServer) handlePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	job, errResult := s.loadJob(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 50 {
		count = 5
	}
	times, err := core.Preview(job, s.clock.Now(), count)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid schedule: %v", err)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Job: %s, every %d min (UTC)\n\nUpcoming planned executions:\n", job.Name, job.IntervalMinutes)
	for i, t := range times {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, formatTime(&t))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetRunLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	content, err := s.store.LatestRunLog(jobID)
	if err != nil {
		if errors.Is(err, store.ErrRunLogNotFound) {
			return mcp.NewToolResultText("No run log yet"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to read run log: %v", err)), nil
	}
	tail := int(mcp.ParseFloat64(request, "tail", 0))
	return mcp.NewToolResultText(store.TailLines(content, tail)), nil
}

func (s *MCPServer) loadJob(ctx context.Context, request mcp.CallToolRequest) (*core.Job, *mcp.CallToolResult) {
	jobID := mcp.ParseString(request, "job_id", "")
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil, mcp.NewToolResultError(fmt.Sprintf("job not found: %s", jobID))
		}
		return nil, mcp.NewToolResultError(fmt.Sprintf("failed to load job: %v", err))
	}
	return job, nil
}

func (s *MCPServer) describeJob(job *core.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID: %s\n", job.ID)
	fmt.Fprintf(&b, "Name: %s\n", job.Name)
	fmt.Fprintf(&b, "Handler: %s\n", job.Handler)
	if job.Command != nil {
		fmt.Fprintf(&b, "Command: %s\n", *job.Command)
	}
	fmt.Fprintf(&b, "Interval: %d min\n", job.IntervalMinutes)
	fmt.Fprintf(&b, "Stale lock timeout: %d min\n", job.StaleLockTimeoutMinutes)
	fmt.Fprintf(&b, "Active: %t\n", job.Active)
	fmt.Fprintf(&b, "Locked: %t", job.Locked)
	if job.LockedBy != nil {
		fmt.Fprintf(&b, " by %s since %s", *job.LockedBy, formatTime(job.LockedAt))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Last planned: %s\n", formatTime(job.LastPlannedExecution))
	fmt.Fprintf(&b, "Last start: %s\n", formatTime(job.RealLastExecutionStart))
	fmt.Fprintf(&b, "Last end: %s\n", formatTime(job.RealLastExecutionEnd))
	if status, err := core.Describe(job, s.clock.Now()); err == nil {
		fmt.Fprintf(&b, "Next planned: %s (due: %t, stale lock: %t)\n",
			formatTime(&status.NextPlannedExecution), status.Due, status.LockStale)
	}
	return b.String()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func jobIcon(job *core.Job, running bool) string {
	switch {
	case running:
		return "▶️"
	case job.Locked:
		return "🔒"
	case !job.Active:
		return "⏸️"
	default:
		return "✅"
	}
}
