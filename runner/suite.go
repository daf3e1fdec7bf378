package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-conformance/driver"
	"github.com/ethereum-optimism/infra/op-conformance/generator"
	"github.com/ethereum-optimism/infra/op-conformance/logging"
	"github.com/ethereum-optimism/infra/op-conformance/metrics"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// SuiteRunnerConfig holds configuration for creating a new SuiteRunner
type SuiteRunnerConfig struct {
	Cases     []types.TestCase
	Executor  *Executor
	Generator generator.Generator
	// WorkDir is the parent of the per-case work directories.
	WorkDir string
	// Concurrency is the number of cases run at once; zero picks a value
	// from the number of CPUs.
	Concurrency int
	Serial      bool
	// Repeat runs every case this many times and fails it when the
	// attempts disagree.
	Repeat       int
	KeepWorkDirs bool
	CaseTimeout  time.Duration
	FileLogger   *logging.FileLogger
	RunID        string
	Log          log.Logger
}

// SuiteRunner runs cases through a Harness each and compares what they
// printed against expectations.
type SuiteRunner struct {
	cases        []types.TestCase
	executor     *Executor
	generator    generator.Generator
	workDir      string
	concurrency  int
	serial       bool
	repeat       int
	keepWorkDirs bool
	caseTimeout  time.Duration
	fileLogger   *logging.FileLogger
	runID        string
	log          log.Logger
	tracer       trace.Tracer
}

// NewSuiteRunner creates a new suite runner
func NewSuiteRunner(cfg SuiteRunnerConfig) (*SuiteRunner, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if len(cfg.Cases) == 0 {
		return nil, fmt.Errorf("no test cases found")
	}
	if cfg.Repeat < 1 {
		cfg.Repeat = 1
	}
	if cfg.CaseTimeout <= 0 {
		cfg.CaseTimeout = DefaultCaseTimeout
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &SuiteRunner{
		cases:        cfg.Cases,
		executor:     cfg.Executor,
		generator:    cfg.Generator,
		workDir:      cfg.WorkDir,
		concurrency:  cfg.Concurrency,
		serial:       cfg.Serial,
		repeat:       cfg.Repeat,
		keepWorkDirs: cfg.KeepWorkDirs,
		caseTimeout:  cfg.CaseTimeout,
		fileLogger:   cfg.FileLogger,
		runID:        cfg.RunID,
		log:          cfg.Log.New("component", "suite-runner"),
		tracer:       otel.Tracer("suite runner"),
	}, nil
}

// RunID returns the identifier of this run.
func (s *SuiteRunner) RunID() string {
	return s.runID
}

// RunAll runs every case and returns the results in catalogue order. The
// returned error is only set when ctx was cancelled.
func (s *SuiteRunner) RunAll(ctx context.Context) (*types.RunResult, error) {
	ctx, span := s.tracer.Start(ctx, "run all cases")
	defer span.End()
	span.SetAttributes(attribute.String("runID", s.runID), attribute.Int("cases", len(s.cases)))

	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	start := time.Now()
	concurrency := s.determineConcurrency(len(s.cases))
	s.log.Info("Running conformance cases", "runID", s.runID, "cases", len(s.cases), "concurrency", concurrency, "repeat", s.repeat)

	results := make([]*types.TestResult, len(s.cases))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, tc := range s.cases {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = &types.TestResult{Case: tc, Status: types.TestStatusError, Error: ctx.Err()}
				return nil
			}
			results[i] = s.RunCase(ctx, tc)
			return nil
		})
	}
	_ = g.Wait()

	run := &types.RunResult{
		RunID:    s.runID,
		Results:  results,
		Duration: time.Since(start),
		Stats:    types.ResultStats{StartTime: start, EndTime: time.Now()},
	}
	for _, res := range results {
		run.Stats.Add(res.Status)
	}
	run.Status = overallStatus(run.Stats)
	metrics.RecordRun(s.runID, run.Duration)

	if s.fileLogger != nil {
		if err := s.fileLogger.Complete(run); err != nil {
			s.log.Error("Failed to write run summary", "err", err)
		}
	}
	return run, ctx.Err()
}

// RunCase runs one case, repeating it when configured, and evaluates it.
func (s *SuiteRunner) RunCase(ctx context.Context, tc types.TestCase) *types.TestResult {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("case %s", tc.ID))
	defer span.End()

	result := &types.TestResult{Case: tc}
	if tc.Skip != "" {
		result.Status = types.TestStatusSkip
		s.finish(result)
		return result
	}

	start := time.Now()
	var first *attempt
	for i := 1; i <= s.repeat; i++ {
		att, err := s.runAttempt(ctx, tc)
		result.Attempts = i
		if err != nil {
			result.Status = types.TestStatusError
			result.Error = err
			break
		}
		if first == nil {
			first = att
			result.Output = att.outcome.Output
			result.Diagnostic = att.outcome.Diagnostic
			result.Driver = att.driver
			result.Status, result.Error = evaluate(tc, att.outcome)
			continue
		}
		if !sameOutcome(first.outcome, att.outcome) {
			result.Status = types.TestStatusFail
			result.Error = fmt.Errorf("attempt %d differs from attempt 1: got %s, want %s",
				i, quote(att.outcome.Output), quote(first.outcome.Output))
			break
		}
	}
	result.Duration = time.Since(start)

	s.finish(result)
	return result
}

type attempt struct {
	outcome *types.ExecutionOutcome
	driver  string
}

func (s *SuiteRunner) runAttempt(ctx context.Context, tc types.TestCase) (*attempt, error) {
	timeout := s.caseTimeout
	if tc.Timeout != nil && *tc.Timeout > 0 {
		timeout = *tc.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := os.MkdirTemp(s.workDir, WorkDirPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	if s.keepWorkDirs {
		s.log.Debug("Keeping work directory", "case", tc.ID, "dir", dir)
	} else {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				s.log.Warn("Failed to remove work directory", "dir", dir, "err", err)
			}
		}()
	}

	h, err := NewHarness(HarnessConfig{
		WorkDir:   dir,
		Executor:  s.executor,
		Generator: s.generator,
		Log:       s.log.New("case", tc.ID),
	})
	if err != nil {
		return nil, err
	}

	if tc.IsLexerOnly() {
		h.ExecLexer(ctx, LexerInvocation{
			GrammarFile: tc.GrammarFile,
			Grammar:     tc.Grammar,
			LexerName:   tc.Lexer,
			Input:       tc.Input,
			ShowDFA:     tc.Diagnostics,
			Options:     tc.Options,
		})
	} else {
		h.ExecParser(ctx, ParserInvocation{
			GrammarFile: tc.GrammarFile,
			Grammar:     tc.Grammar,
			ParserName:  tc.Parser,
			LexerName:   tc.Lexer,
			EntryPoint:  tc.EntryPoint,
			Input:       tc.Input,
			Diagnostics: tc.Diagnostics,
			Trace:       tc.Trace,
			Options:     tc.Options,
		})
	}

	src, err := os.ReadFile(filepath.Join(dir, driver.FileName))
	if err != nil && !os.IsNotExist(err) {
		s.log.Debug("Failed to read driver source", "case", tc.ID, "err", err)
	}
	return &attempt{outcome: h.LastOutcome(), driver: string(src)}, nil
}

func (s *SuiteRunner) finish(result *types.TestResult) {
	metrics.RecordTestResult(s.runID, result.Case.Suite, result.Status)
	if result.Status == types.TestStatusPass || result.Status == types.TestStatusSkip {
		s.log.Debug("Case finished", "case", result.Case.ID, "status", result.Status, "duration", result.Duration)
	} else {
		s.log.Warn("Case did not pass", "case", result.Case.ID, "status", result.Status, "err", result.Error)
	}
	if s.fileLogger != nil {
		if err := s.fileLogger.LogCaseResult(result); err != nil {
			s.log.Error("Failed to log case result", "case", result.Case.ID, "err", err)
		}
	}
}

// determineConcurrency returns the number of cases to run at once.
func (s *SuiteRunner) determineConcurrency(numWorkItems int) int {
	if numWorkItems < 1 {
		return 1
	}
	if s.serial {
		return 1
	}
	concurrency := s.concurrency
	if concurrency <= 0 {
		concurrency = min(runtime.NumCPU(), MaxReasonableConcurrency)
	}
	return max(1, min(concurrency, numWorkItems))
}

// evaluate compares an outcome against the case expectations. Failures
// before the driver ran, and drivers that never finished, are errors of the
// harness or toolchain rather than of the recognizer under test.
func evaluate(tc types.TestCase, outcome *types.ExecutionOutcome) (types.TestStatus, error) {
	if outcome == nil {
		return types.TestStatusError, fmt.Errorf("no outcome recorded")
	}
	if outcome.FailedStage != "" && (outcome.FailedStage != types.StageRun || outcome.Interrupted) {
		return types.TestStatusError, fmt.Errorf("%s stage failed: %s", outcome.FailedStage, firstLine(outcome.DiagnosticString()))
	}
	if !equalPtr(outcome.Output, tc.Output) {
		return types.TestStatusFail, fmt.Errorf("output mismatch: got %s, want %s", quote(outcome.Output), quote(tc.Output))
	}
	if !equalPtr(outcome.Diagnostic, types.StringPtr(tc.Errors)) {
		return types.TestStatusFail, fmt.Errorf("diagnostic mismatch: got %s, want %s", quote(outcome.Diagnostic), quote(types.StringPtr(tc.Errors)))
	}
	return types.TestStatusPass, nil
}

func overallStatus(stats types.ResultStats) types.TestStatus {
	switch {
	case stats.Errored > 0:
		return types.TestStatusError
	case stats.Failed > 0:
		return types.TestStatusFail
	case stats.Total > 0 && stats.Skipped == stats.Total:
		return types.TestStatusSkip
	default:
		return types.TestStatusPass
	}
}

func sameOutcome(a, b *types.ExecutionOutcome) bool {
	return a.FailedStage == b.FailedStage && equalPtr(a.Output, b.Output) && equalPtr(a.Diagnostic, b.Diagnostic)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func quote(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return strconv.Quote(*s)
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
