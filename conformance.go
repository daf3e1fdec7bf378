// Package conformance wires the conformance harness into a cliapp lifecycle:
// it loads the catalogue, builds the toolchain pipeline, runs every case
// once and reports the results.
package conformance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-conformance/buildgate"
	"github.com/ethereum-optimism/infra/op-conformance/exitcodes"
	"github.com/ethereum-optimism/infra/op-conformance/generator"
	"github.com/ethereum-optimism/infra/op-conformance/logging"
	"github.com/ethereum-optimism/infra/op-conformance/metrics"
	"github.com/ethereum-optimism/infra/op-conformance/process"
	"github.com/ethereum-optimism/infra/op-conformance/registry"
	"github.com/ethereum-optimism/infra/op-conformance/reporting"
	"github.com/ethereum-optimism/infra/op-conformance/runner"
	"github.com/ethereum-optimism/infra/op-conformance/service"
	"github.com/ethereum-optimism/infra/op-conformance/toolchain"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// Conformance implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Conformance{}

// Conformance runs a catalogue of conformance cases once per Start.
type Conformance struct {
	config   *Config
	version  string
	registry *registry.Registry
	gate     *buildgate.Gate
	executor *runner.Executor
	gen      generator.Generator
	service  *service.Service
	out      io.Writer
	result   *types.RunResult

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(config *Config, version string, shutdownCallback func(error)) (*Conformance, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("logger is required")
	}

	config.Log.Debug("Creating conformance runner with config",
		"catalogue", config.Catalogue,
		"runtime", config.Toolchain.RuntimeDir,
		"suites", config.Suites,
		"repeat", config.Repeat)

	reg, err := registry.NewRegistry(registry.Config{
		Log:            config.Log,
		CatalogueFile:  config.Catalogue,
		DefaultTimeout: config.CaseTimeout,
	})
	if err != nil {
		return nil, NewRuntimeError(CauseCatalogue, fmt.Errorf("failed to create registry: %w", err))
	}

	procRunner := process.NewRunner(process.Config{
		Log:        config.Log,
		ShowStderr: config.ShowStderr,
	})
	builder, err := toolchain.NewRuntimeBuilder(toolchain.RuntimeBuilderConfig{
		Toolchain: config.Toolchain,
		Runner:    procRunner,
		Log:       config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime builder: %w", err)
	}
	gate, err := buildgate.New(buildgate.Config{
		Builder: builder,
		Timeout: config.BuildTimeout,
		Log:     config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create build gate: %w", err)
	}
	executor, err := runner.NewExecutor(runner.ExecutorConfig{
		Gate:           gate,
		Runner:         procRunner,
		Toolchain:      config.Toolchain,
		CommandTimeout: config.CommandTimeout,
		Log:            config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	gen, err := generator.NewToolGenerator(generator.Config{
		Command: config.GrammarTool,
		Runner:  procRunner,
		Timeout: config.CommandTimeout,
		Log:     config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	svc, err := service.New(service.Config{
		HealthzAddr: config.HealthzAddr,
		Metrics:     config.MetricsConfig,
		BuildState:  gate.State,
		Log:         config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	out := config.Out
	if out == nil {
		out = os.Stdout
	}
	config.Log.Info("conformance.New: created registry, build gate and executor")

	return &Conformance{
		config:           config,
		version:          version,
		registry:         reg,
		gate:             gate,
		executor:         executor,
		gen:              gen,
		service:          svc,
		out:              out,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs every selected case once and reports the results.
// Start implements the cliapp.Lifecycle interface.
func (c *Conformance) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			c.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	c.running.Store(true)
	c.config.Log.Info("Starting op-conformance", "version", c.version)

	if err := c.service.Start(ctx); err != nil {
		return NewRuntimeError(CauseService, err)
	}

	if err := c.runCases(ctx); err != nil {
		c.config.Log.Error("Runtime error running cases", "error", err)
		return err
	}

	if gateErr := c.gate.Err(); gateErr != nil {
		c.config.Log.Error("Runtime build failed, every case depending on it errored", "err", gateErr)
		return NewRuntimeError(CauseRuntimeBuild, fmt.Errorf("%d of %d cases could not run: %w",
			c.result.Stats.Errored, c.result.Stats.Total, gateErr))
	}

	if failed := c.result.Failed(); len(failed) > 0 {
		c.config.Log.Warn("Run completed with failures, returning exit code 1", "failed", len(failed))
		return NewTestFailureError(c.result.Stats)
	}

	c.config.Log.Info("Cases completed, exiting")
	if c.shutdownCallback != nil {
		go func() {
			c.shutdownCallback(nil)
		}()
	}
	return nil
}

// runCases runs the selected cases and prints the results
func (c *Conformance) runCases(ctx context.Context) error {
	cases, err := c.selectCases()
	if err != nil {
		return NewRuntimeError(CauseCatalogue, err)
	}

	runID := uuid.New().String()
	fileLogger, err := logging.NewFileLogger(c.config.LogDir, runID)
	if err != nil {
		return NewRuntimeError(CauseRun, fmt.Errorf("failed to create file logger: %w", err))
	}
	htmlSink, err := reporting.NewHTMLSink(fileLogger.LogDir(), fileLogger.CaseDir)
	if err != nil {
		return NewRuntimeError(CauseRun, err)
	}
	fileLogger.AddSink(htmlSink)

	suiteRunner, err := runner.NewSuiteRunner(runner.SuiteRunnerConfig{
		Cases:        cases,
		Executor:     c.executor,
		Generator:    c.gen,
		WorkDir:      c.config.WorkDir,
		Concurrency:  c.config.Concurrency,
		Serial:       c.config.Serial,
		Repeat:       c.config.Repeat,
		KeepWorkDirs: c.config.KeepWorkDirs,
		CaseTimeout:  c.config.CaseTimeout,
		FileLogger:   fileLogger,
		RunID:        runID,
		Log:          c.config.Log,
	})
	if err != nil {
		return NewRuntimeError(CauseRun, fmt.Errorf("failed to create suite runner: %w", err))
	}

	result, err := suiteRunner.RunAll(ctx)
	if err != nil {
		metrics.RecordErrorDetails("run cancelled", err)
		return NewRuntimeError(CauseRun, err)
	}
	c.result = result

	reporting.NewTableFormatter(c.out, c.out == os.Stdout).Format(result)
	fmt.Fprintln(c.out, reporting.Summary(result))
	c.config.Log.Info("Run completed", "run_id", result.RunID, "status", result.Status, "logs", fileLogger.LogDir())
	return nil
}

// selectCases returns the cases of the configured suites, in catalogue order.
func (c *Conformance) selectCases() ([]types.TestCase, error) {
	if len(c.config.Suites) == 0 {
		return c.registry.Cases(), nil
	}
	var cases []types.TestCase
	for _, suite := range c.config.Suites {
		suiteCases := c.registry.CasesBySuite(suite)
		if len(suiteCases) == 0 {
			return nil, fmt.Errorf("unknown or empty suite %q, known suites: %v", suite, c.registry.Suites())
		}
		cases = append(cases, suiteCases...)
	}
	return cases, nil
}

// Result returns the result of the last run, or nil.
func (c *Conformance) Result() *types.RunResult {
	return c.result
}

// Stop stops the side servers.
// Stop implements the cliapp.Lifecycle interface.
func (c *Conformance) Stop(ctx context.Context) error {
	if !c.running.Load() {
		c.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	c.config.Log.Info("Stopping op-conformance")
	c.running.Store(false)
	return c.service.Stop(ctx)
}

// Stopped returns true if op-conformance is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (c *Conformance) Stopped() bool {
	return !c.running.Load()
}
