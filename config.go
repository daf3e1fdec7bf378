package conformance

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-conformance/flags"
	"github.com/ethereum-optimism/infra/op-conformance/generator"
	"github.com/ethereum-optimism/infra/op-conformance/toolchain"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultWorkDirName is the work directory created under the system temp
// dir when --work-dir is not set.
const DefaultWorkDirName = "op-conformance"

// Config holds the application configuration
type Config struct {
	Catalogue      string              // Path to the case catalogue
	Suites         []string            // Suites to run; empty runs every suite
	Toolchain      toolchain.Toolchain // Compiler, package tool and runtime checkout
	GrammarTool    []string            // Command line of the grammar tool
	WorkDir        string              // Parent of the per-case work directories
	LogDir         string              // Directory to store case logs
	CaseTimeout    time.Duration       // Default timeout of one case
	CommandTimeout time.Duration       // Timeout of each external command
	BuildTimeout   time.Duration       // Timeout of the runtime build
	Concurrency    int                 // Number of concurrent cases (0 = auto-determine)
	Serial         bool                // Whether to run cases one at a time
	Repeat         int                 // Times each case is run
	KeepWorkDirs   bool                // Keep work directories after the run
	ShowStderr     bool                // Log the stderr of every command
	HealthzAddr    string              // Healthz listen address, empty disables
	MetricsConfig  opmetrics.CLIConfig
	// Out receives the results table and summary; nil selects stdout.
	Out io.Writer
	Log log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	catalogue, err := filepath.Abs(ctx.String(flags.Tests.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for catalogue '%s': %w", ctx.String(flags.Tests.Name), err)
	}
	if _, err := os.Stat(catalogue); err != nil {
		return nil, NewRuntimeError(CauseCatalogue, fmt.Errorf("cannot read catalogue: %w", err))
	}

	runtimeDir, err := toolchain.LocateRuntime(ctx.String(flags.Runtime.Name))
	if err != nil {
		return nil, NewRuntimeError(CauseRuntime, err)
	}

	tool := generator.ToolCommand(ctx.String(flags.GrammarTool.Name))
	if len(tool) == 0 {
		return nil, errors.New("grammar tool is required")
	}

	workDir := ctx.String(flags.WorkDir.Name)
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), DefaultWorkDirName)
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for work directory '%s': %w", workDir, err)
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	repeat := ctx.Int(flags.Repeat.Name)
	if repeat < 1 {
		return nil, fmt.Errorf("repeat must be at least 1, got %d", repeat)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &Config{
		Catalogue: catalogue,
		Suites:    ctx.StringSlice(flags.Suite.Name),
		Toolchain: toolchain.Toolchain{
			Compiler:     ctx.String(flags.Compiler.Name),
			PackageTool:  ctx.String(flags.PackageTool.Name),
			BuildProfile: ctx.String(flags.BuildProfile.Name),
			RuntimeDir:   runtimeDir,
			GOOS:         runtime.GOOS,
		}.WithDefaults(),
		GrammarTool:    tool,
		WorkDir:        workDir,
		LogDir:         logDir,
		CaseTimeout:    ctx.Duration(flags.Timeout.Name),
		CommandTimeout: ctx.Duration(flags.CommandTimeout.Name),
		BuildTimeout:   ctx.Duration(flags.BuildTimeout.Name),
		Concurrency:    ctx.Int(flags.Concurrency.Name),
		Serial:         ctx.Bool(flags.Serial.Name),
		Repeat:         repeat,
		KeepWorkDirs:   ctx.Bool(flags.KeepWorkDirs.Name),
		ShowStderr:     ctx.Bool(flags.ShowStderr.Name),
		HealthzAddr:    ctx.String(flags.Healthz.Name),
		MetricsConfig:  metricsCfg,
		Log:            log,
	}, nil
}
