package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"cronguard/internal/core"
)

// HandlerShell runs the job's command through the platform shell.
const HandlerShell = "shell"

// killGrace is how long a timed out command gets between SIGTERM and kill.
var killGrace = 5 * time.Second

var killProcess = func(p *os.Process) error { return p.Kill() }

// ShellBody executes a shell command. Stdout lines become message output,
// stderr lines are reported as warnings and a non-zero exit fails the run.
type ShellBody struct {
	Command    string
	WorkingDir string
	Timeout    time.Duration
	logger     *slog.Logger
}

func newShellBody(job *core.Job, logger *slog.Logger) (core.Body, error) {
	if job.Command == nil || strings.TrimSpace(*job.Command) == "" {
		return nil, errors.New("shell job requires a command")
	}
	body := &ShellBody{Command: *job.Command, logger: logger}
	if job.WorkingDir != nil {
		body.WorkingDir = *job.WorkingDir
	}
	if job.TimeoutSeconds != nil && *job.TimeoutSeconds > 0 {
		body.Timeout = time.Duration(*job.TimeoutSeconds) * time.Second
	}
	return body, nil
}

func (b *ShellBody) Execute(ctx context.Context, env *core.Env) error {
	stdout := &lineWriter{emit: func(line string) { env.Printf("%s", line) }}
	stderr := &lineWriter{emit: func(line string) {
		// Escalation is collected by the env; the command keeps running.
		_ = env.Report(core.SeverityWarning, "%s", line)
	}}

	cmd := commandFor(ctx, b.Command)
	cmd.Dir = b.WorkingDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = killGrace

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	exited := make(chan struct{})
	var timedOut atomic.Bool
	var watchdog *time.Timer
	if b.Timeout > 0 {
		process := cmd.Process
		watchdog = time.AfterFunc(b.Timeout, func() {
			timedOut.Store(true)
			b.logger.Warn("job command exceeded timeout, sending termination",
				"job_id", env.Job().ID, "timeout", b.Timeout)
			sendTermination(process)
			select {
			case <-exited:
			case <-time.After(killGrace):
				_ = killProcess(process)
			}
		})
	}

	waitErr := cmd.Wait()
	close(exited)
	if watchdog != nil {
		watchdog.Stop()
	}
	stdout.Flush()
	stderr.Flush()

	if timedOut.Load() {
		return fmt.Errorf("command timed out after %s", b.Timeout)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("command exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("wait command: %w", waitErr)
	}
	return nil
}

func commandFor(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command) // #nosec G204
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command) // #nosec G204
}

func sendTermination(process *os.Process) {
	if process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = process.Kill()
		return
	}
	_ = process.Signal(syscall.SIGTERM)
}

// lineWriter splits written bytes into lines and emits each complete one.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(line string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf.Next(idx + 1))
		w.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits a trailing line without newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
}
