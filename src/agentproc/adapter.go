package agentproc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const (
	// maxLineSize bounds a single stream-json line. Tool results can embed
	// whole files, so this is generous.
	maxLineSize = 4 * 1024 * 1024

	// killGrace is how long a terminated subprocess gets between SIGTERM
	// and SIGKILL.
	killGrace = 5 * time.Second
)

// Sink receives normalized events as they are parsed. Returning an error
// stops the stream and terminates the subprocess.
type Sink func(Event) error

// Request describes one agent invocation.
type Request struct {
	Message      string
	SessionID    string
	WorkingDir   string
	AllowedTools []string
	Timeout      time.Duration
}

// Streamer is the adapter interface the endpoint consumes.
type Streamer interface {
	Stream(ctx context.Context, req Request, sink Sink) error
}

// Options configures a Runner.
type Options struct {
	// ExecPath is the agent CLI executable.
	ExecPath string

	// SkipPermissions passes the agent's unrestricted-execution flag. The
	// subprocess then inherits the operator's environment with no
	// sandboxing at all; this is the intended trust model for a
	// single-operator workstation and must be an explicit opt-in.
	SkipPermissions bool

	// ExtraPath is prepended to PATH for the subprocess, so an agent
	// installed under ~/.local/bin resolves its own helpers.
	ExtraPath string

	Logger *slog.Logger
}

// Runner spawns the agent CLI as a child process per request and relays its
// stream-json output as normalized events.
type Runner struct {
	execPath        string
	skipPermissions bool
	extraPath       string
	logger          *slog.Logger
}

var _ Streamer = (*Runner)(nil)

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		execPath:        opts.ExecPath,
		skipPermissions: opts.SkipPermissions,
		extraPath:       opts.ExtraPath,
		logger:          logger.With("component", "agentproc"),
	}
}

// Stream runs the agent for one request and forwards every parsed event to
// sink in arrival order. It returns nil once a terminal event (real or
// synthesized) has been delivered, ctx.Err() if the caller cancelled, or the
// sink's error if the sink failed.
func (r *Runner) Stream(ctx context.Context, req Request, sink Sink) error {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := r.buildArgs(req, "stream-json")
	cmd := r.command(ctx, req.WorkingDir, args)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger := r.logger.With("working_dir", req.WorkingDir, "resume", req.SessionID != "")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.startupError(logger, req, sink, err)
	}

	logger.Info("starting agent subprocess")

	if err := cmd.Start(); err != nil {
		return r.startupError(logger, req, sink, err)
	}

	sawTerminal := false
	var sinkErr error

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		events := parseLine(scanner.Text())
		if events == nil {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				logger.Debug("skipping unparseable agent output", "line", truncate(line, 200))
			}
			continue
		}
		for _, ev := range events {
			if ev.Terminal() {
				sawTerminal = true
			}
			if err := sink(ev); err != nil {
				sinkErr = err
				break
			}
		}
		if sinkErr != nil {
			break
		}
	}

	if sinkErr != nil {
		// Downstream is gone; reap the subprocess and report.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		_ = cmd.Wait()
		return sinkErr
	}

	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		logger.Info("agent subprocess cancelled")
		return ctxErr
	}

	if sawTerminal {
		return nil
	}

	// The process died (or timed out) without a terminal event. Synthesize
	// one so callers never have to special-case a silent death.
	ev := Event{Type: EventError, SessionID: req.SessionID}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		ev.Error = fmt.Sprintf("agent timed out after %s", req.Timeout)
	case waitErr != nil:
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = waitErr.Error()
		}
		ev.Error = "agent exited unexpectedly: " + truncate(detail, 2000)
	default:
		ev.Error = "agent exited without producing a result"
	}
	logger.Warn("synthesizing terminal error event", "error", ev.Error)
	return sink(ev)
}

// startupError turns a spawn failure into a terminal error event. The
// subprocess never ran, but downstream still sees a terminal event rather
// than a stream that just stops.
func (r *Runner) startupError(logger *slog.Logger, req Request, sink Sink, err error) error {
	ev := Event{
		Type:      EventError,
		SessionID: req.SessionID,
		Error:     fmt.Sprintf("failed to start agent: %v", err),
	}
	logger.Warn("synthesizing terminal error event", "error", ev.Error)
	return sink(ev)
}

// RunOnce runs the agent in one-shot JSON mode and returns the parsed result.
// Used by the synchronous chat endpoint and the session-naming helper.
func (r *Runner) RunOnce(ctx context.Context, req Request) (*Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := r.buildArgs(req, "json")
	cmd := r.command(ctx, req.WorkingDir, args)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("agent did not finish: %w", ctxErr)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return &Result{
			Result:  "Error: " + truncate(detail, 2000),
			IsError: true,
		}, nil
	}

	var raw rawLine
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		// Not stream-json; surface stdout verbatim like the agent's plain
		// text mode would.
		return &Result{Result: stdout.String()}, nil
	}

	return &Result{
		Result:     raw.Result,
		SessionID:  raw.SessionID,
		DurationMS: raw.DurationMS,
		CostUSD:    raw.TotalCostUSD,
		IsError:    raw.IsError,
	}, nil
}

// Version probes the agent executable. An error means the agent is not
// installed or not runnable.
func (r *Runner) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := r.command(ctx, "", []string{"--version"})
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("agent not available: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *Runner) buildArgs(req Request, format string) []string {
	args := []string{"-p", req.Message, "--output-format", format}
	if format == "stream-json" {
		args = append(args, "--verbose")
	}
	if r.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	return args
}

func (r *Runner) command(ctx context.Context, dir string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.execPath, args...)
	cmd.Dir = dir
	cmd.Env = r.environ()
	// The agent forks freely; signal the whole process group so nothing is
	// left holding the stdout pipe after a cancel or timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace
	return cmd
}

// environ returns the operator's environment, optionally with ExtraPath
// prepended to PATH. The subprocess deliberately inherits everything.
func (r *Runner) environ() []string {
	env := os.Environ()
	if r.extraPath == "" {
		return env
	}
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + r.extraPath + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+r.extraPath)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
