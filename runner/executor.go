package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-conformance/driver"
	"github.com/ethereum-optimism/infra/op-conformance/metrics"
	"github.com/ethereum-optimism/infra/op-conformance/process"
	"github.com/ethereum-optimism/infra/op-conformance/toolchain"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// BuildGate makes sure the runtime is built before anything links against it.
type BuildGate interface {
	EnsureBuilt(ctx context.Context) error
}

// ExecutionRequest is everything one execution needs. WorkDir is owned by
// the execution for its whole duration.
type ExecutionRequest struct {
	Driver  types.TestDriverSpec
	WorkDir string
	Input   string
}

// ExecutorConfig holds configuration for creating a new Executor
type ExecutorConfig struct {
	Gate      BuildGate
	Runner    process.ProcessRunner
	Toolchain toolchain.Toolchain
	// CommandTimeout bounds each external command; zero selects DefaultCommandTimeout.
	CommandTimeout time.Duration
	Log            log.Logger
}

// Executor runs the build, link and run stages of one execution at a time.
// It holds no per-execution state and is safe for concurrent use.
type Executor struct {
	gate      BuildGate
	runner    process.ProcessRunner
	toolchain toolchain.Toolchain
	timeout   time.Duration
	log       log.Logger
	tracer    trace.Tracer
}

// NewExecutor creates a new executor
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Gate == nil {
		return nil, fmt.Errorf("build gate cannot be nil")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("process runner cannot be nil")
	}
	if cfg.Toolchain.RuntimeDir == "" {
		return nil, fmt.Errorf("runtime directory cannot be empty")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Executor{
		gate:      cfg.Gate,
		runner:    cfg.Runner,
		toolchain: cfg.Toolchain.WithDefaults(),
		timeout:   cfg.CommandTimeout,
		log:       cfg.Log.New("component", "executor"),
		tracer:    otel.Tracer("executor"),
	}, nil
}

// Execute runs one execution and always returns an outcome. Stage failures
// end up in the outcome: Output is nil and Diagnostic says what went wrong.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) *types.ExecutionOutcome {
	ctx, span := e.tracer.Start(ctx, "execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("workDir", req.WorkDir),
		attribute.Bool("lexerOnly", req.Driver.IsLexerOnly),
	)

	outcome := e.execute(ctx, req)
	if outcome.FailedStage != "" {
		span.SetStatus(codes.Error, fmt.Sprintf("%s failed", outcome.FailedStage))
	}
	return outcome
}

func (e *Executor) execute(ctx context.Context, req ExecutionRequest) *types.ExecutionOutcome {
	// Runtime build, shared by every execution.
	if err := e.gate.EnsureBuilt(ctx); err != nil {
		e.log.Debug("Skipping execution, runtime is not available", "err", err)
		metrics.RecordStage(types.StageRuntimeBuild, false)
		return failed(types.StageRuntimeBuild, DiagnosticRuntimeBuildFailed)
	}
	metrics.RecordStage(types.StageRuntimeBuild, true)

	if e.toolchain.NeedsSymlink() {
		res, err := e.runStage(ctx, types.StageSymlink, e.toolchain.SymlinkCommand(req.WorkDir))
		if err != nil || !res.Success() {
			return stageFailed(types.StageSymlink, res, err)
		}
	}

	if err := e.prepare(req); err != nil {
		e.log.Error("Failed to prepare execution", "workDir", req.WorkDir, "err", err)
		metrics.RecordStage(types.StagePrepare, false)
		return failed(types.StagePrepare, err.Error())
	}
	metrics.RecordStage(types.StagePrepare, true)

	sources := append([]string{driver.FileName}, req.Driver.Modules()...)
	res, err := e.runStage(ctx, types.StageCompile, e.toolchain.CompileLinkCommand(req.WorkDir, sources))
	if err != nil || !res.Success() {
		return stageFailed(types.StageCompile, res, err)
	}
	if res.Stderr != "" {
		// Warnings are not carried past this point; the run stage reports its own.
		e.log.Debug("Compiler warnings", "workDir", req.WorkDir, "stderr", res.Stderr)
	}

	runCmd := e.toolchain.RunCommand(req.WorkDir)
	runCmd.Env = telemetry.InstrumentEnvironment(ctx, runCmd.Env)
	res, err = e.runStage(ctx, types.StageRun, runCmd)
	if err != nil {
		return stageFailed(types.StageRun, res, err)
	}

	outcome := &types.ExecutionOutcome{
		Output:     types.StringPtr(res.Stdout),
		Diagnostic: types.StringPtr(res.Stderr),
	}
	if res.ExitCode != 0 {
		outcome.FailedStage = types.StageRun
	}
	return outcome
}

// prepare writes the input and the synthesized driver into the work directory.
func (e *Executor) prepare(req ExecutionRequest) error {
	src, err := driver.Synthesize(req.Driver)
	if err != nil {
		return fmt.Errorf("failed to synthesize driver: %w", err)
	}
	if err := os.WriteFile(filepath.Join(req.WorkDir, toolchain.InputFileName), []byte(req.Input), 0o644); err != nil {
		return fmt.Errorf("failed to write input: %w", err)
	}
	if err := os.WriteFile(filepath.Join(req.WorkDir, driver.FileName), []byte(src), 0o644); err != nil {
		return fmt.Errorf("failed to write driver: %w", err)
	}
	return nil
}

func (e *Executor) runStage(ctx context.Context, stage types.Stage, cmd process.Command) (*types.CapturedProcessResult, error) {
	ctx, span := e.tracer.Start(ctx, string(stage))
	defer span.End()

	cmd.Timeout = e.timeout
	res, err := e.runner.Run(ctx, cmd)
	ok := err == nil && res.Success()
	metrics.RecordStage(stage, ok)
	if !ok {
		span.SetStatus(codes.Error, "stage failed")
		e.log.Debug("Stage failed", "stage", stage, "dir", cmd.Dir, "err", err)
	}
	return res, err
}

// stageDiagnostic prefers the captured stderr, which already carries the
// failure or timeout marker, and falls back to the error for launch failures.
func stageDiagnostic(res *types.CapturedProcessResult, err error) string {
	if res != nil && res.Stderr != "" {
		return res.Stderr
	}
	if err != nil {
		return err.Error()
	}
	if res != nil {
		return fmt.Sprintf("exit code %d", res.ExitCode)
	}
	return "unknown failure"
}

func stageFailed(stage types.Stage, res *types.CapturedProcessResult, err error) *types.ExecutionOutcome {
	outcome := failed(stage, stageDiagnostic(res, err))
	outcome.Interrupted = err != nil
	return outcome
}

func failed(stage types.Stage, diagnostic string) *types.ExecutionOutcome {
	return &types.ExecutionOutcome{
		Diagnostic:  types.StringPtr(diagnostic),
		FailedStage: stage,
	}
}
