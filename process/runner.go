package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-conformance/metrics"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// DefaultKillGrace is how long drainers are given to reach end-of-stream
// after the process group was killed, before their pipes are closed.
const DefaultKillGrace = 2 * time.Second

// Command describes one external process invocation.
type Command struct {
	Args        []string
	Dir         string
	Env         []string // appended to the current environment; nil inherits it
	Description string
	Timeout     time.Duration // zero means no deadline besides ctx
}

// String returns the command line for logging.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// ProcessRunner launches external commands and captures their output.
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command) (*types.CapturedProcessResult, error)
}

var _ ProcessRunner = (*Runner)(nil)

// Config holds configuration for creating a new Runner
type Config struct {
	Log             log.Logger
	MaxCaptureBytes int           // per stream; zero selects the default
	KillGrace       time.Duration // zero selects DefaultKillGrace
	// ShowStderr logs the stderr capture of every process at info level.
	ShowStderr bool
}

// Runner runs commands as child processes, draining stdout and stderr
// concurrently.
type Runner struct {
	log             log.Logger
	maxCaptureBytes int
	killGrace       time.Duration
	showStderr      bool
	tracer          trace.Tracer
}

// NewRunner creates a new process runner
func NewRunner(cfg Config) *Runner {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &Runner{
		log:             cfg.Log.New("component", "process-runner"),
		maxCaptureBytes: cfg.MaxCaptureBytes,
		killGrace:       cfg.KillGrace,
		showStderr:      cfg.ShowStderr,
		tracer:          otel.Tracer("process runner"),
	}
}

// Run starts the command in its working directory and blocks until it has
// exited and both output streams have been read to the end.
//
// A non-zero exit code is not an error: the result carries the code and a
// failure marker is appended to the stderr capture. Errors are returned only
// when the process could not be launched (*LaunchError) or was killed after
// its deadline (*TimeoutError, together with the partial capture).
func (r *Runner) Run(ctx context.Context, c Command) (*types.CapturedProcessResult, error) {
	if len(c.Args) == 0 {
		return nil, &LaunchError{Description: c.Description, Err: errors.New("empty command")}
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("process %s", c.Description))
	defer span.End()
	span.SetAttributes(
		attribute.String("command", c.Args[0]),
		attribute.String("dir", c.Dir),
	)

	r.log.Debug("Running command", "description", c.Description, "command", c.String(), "dir", c.Dir)

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	setProcessGroup(cmd)

	// The read ends belong to the drainers; the write ends are handed to the
	// child and closed in the parent right after start so that EOF arrives
	// when the child (and anything it spawned) exits.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, r.launchFailed(span, c, fmt.Errorf("failed to create stdout pipe: %w", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, r.launchFailed(span, c, fmt.Errorf("failed to create stderr pipe: %w", err))
	}
	defer func() {
		_ = stdoutR.Close()
		_ = stderrR.Close()
	}()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	stdout := NewDrainer(stdoutR, r.maxCaptureBytes)
	stderr := NewDrainer(stderrR, r.maxCaptureBytes)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, r.launchFailed(span, c, err)
	}
	_ = stdoutW.Close()
	_ = stderrW.Close()

	// Both drainers run before we block on the process.
	var drainers errgroup.Group
	drainers.Go(stdout.Run)
	drainers.Go(stderr.Run)
	drained := make(chan error, 1)
	go func() {
		drained <- drainers.Wait()
	}()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	timedOut := false
	select {
	case <-exited:
	case <-runCtx.Done():
		timedOut = true
		r.kill(cmd, c)
		<-exited
	}

	// Join the drainers. A grandchild that inherited the pipes can keep
	// them open after the direct child exited, so the join has a deadline too.
	select {
	case err := <-drained:
		if err != nil {
			r.log.Debug("Output stream ended with error", "description", c.Description, "err", err)
		}
	case <-runCtx.Done():
		if !timedOut {
			timedOut = true
			r.kill(cmd, c)
		}
		r.joinAfterKill(drained, stdoutR, stderrR)
	}
	duration := time.Since(start)

	result := &types.CapturedProcessResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
		TimedOut: timedOut,
	}
	if stdout.Truncated() || stderr.Truncated() {
		r.log.Warn("Process output truncated", "description", c.Description,
			"stdoutBytes", stdout.TotalBytes(), "stderrBytes", stderr.TotalBytes())
	}

	if timedOut {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// The caller cancelled; this is not a deadline on the command.
			result.Stderr += fmt.Sprintf("execution of '%s' cancelled", c.Description)
			metrics.RecordProcessRun(c.Description, metrics.OutcomeTimeout, duration)
			span.SetStatus(codes.Error, "cancelled")
			return result, fmt.Errorf("execution of '%s' cancelled: %w", c.Description, ctx.Err())
		}
		timeout := c.Timeout
		if timeout == 0 {
			timeout = duration.Round(time.Millisecond)
		}
		terr := &TimeoutError{Description: c.Description, Timeout: timeout}
		result.Stderr += terr.Error()
		r.log.Warn("Command timed out", "description", c.Description, "timeout", timeout)
		metrics.RecordProcessRun(c.Description, metrics.OutcomeTimeout, duration)
		span.RecordError(terr)
		span.SetStatus(codes.Error, "timeout")
		return result, terr
	}

	if result.ExitCode != 0 {
		result.Stderr += FailureMessage(c.Description, result.ExitCode)
		metrics.RecordProcessRun(c.Description, metrics.OutcomeExitCode, duration)
		span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
		span.SetStatus(codes.Error, "non-zero exit")
		r.log.Debug("Command failed", "description", c.Description, "exitCode", result.ExitCode, "duration", duration)
	} else {
		metrics.RecordProcessRun(c.Description, metrics.OutcomeSuccess, duration)
		r.log.Debug("Command finished", "description", c.Description, "duration", duration)
	}

	if r.showStderr && result.Stderr != "" {
		r.log.Info("Command stderr", "description", c.Description, "stderr", result.Stderr)
	}

	return result, nil
}

func (r *Runner) launchFailed(span trace.Span, c Command, err error) error {
	lerr := &LaunchError{Description: c.Description, Args: c.Args, Err: err}
	r.log.Error("Failed to launch command", "description", c.Description, "command", c.String(), "err", err)
	metrics.RecordProcessRun(c.Description, metrics.OutcomeLaunch, 0)
	span.RecordError(lerr)
	span.SetStatus(codes.Error, "launch failure")
	return lerr
}

func (r *Runner) kill(cmd *exec.Cmd, c Command) {
	if err := killProcessGroup(cmd); err != nil {
		r.log.Debug("Failed to kill process group", "description", c.Description, "err", err)
	}
}

// joinAfterKill waits a bounded time for the drainers after a kill, then
// closes the read ends to force them to stop. Partial content is kept.
func (r *Runner) joinAfterKill(drained <-chan error, pipes ...*os.File) {
	timer := time.NewTimer(r.killGrace)
	defer timer.Stop()
	select {
	case <-drained:
		return
	case <-timer.C:
	}
	for _, p := range pipes {
		_ = p.Close()
	}
	<-drained
}
