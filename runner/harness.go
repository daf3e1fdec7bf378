package runner

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-conformance/generator"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// LexerInvocation runs a lexer grammar over an input.
type LexerInvocation struct {
	GrammarFile string
	Grammar     string
	LexerName   string
	Input       string
	ShowDFA     bool
	Options     []string
}

// ParserInvocation runs a combined or parser grammar over an input from an entry point.
type ParserInvocation struct {
	GrammarFile string
	Grammar     string
	ParserName  string
	LexerName   string
	EntryPoint  types.EntryPoint
	Input       string
	Diagnostics bool
	Trace       bool
	Options     []string
}

// HarnessConfig holds configuration for creating a new Harness
type HarnessConfig struct {
	WorkDir   string
	Executor  *Executor
	Generator generator.Generator
	Log       log.Logger
}

// Harness is the test-case facing side of an execution. It owns one work
// directory; run one invocation at a time per Harness.
type Harness struct {
	workDir   string
	executor  *Executor
	generator generator.Generator
	log       log.Logger

	mu          sync.Mutex
	lastOutcome *types.ExecutionOutcome
}

// NewHarness creates a new harness
func NewHarness(cfg HarnessConfig) (*Harness, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory cannot be empty")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Harness{
		workDir:   cfg.WorkDir,
		executor:  cfg.Executor,
		generator: cfg.Generator,
		log:       cfg.Log,
	}, nil
}

// ExecLexer generates the lexer, runs it over the input and returns the token
// dump, or nil when nothing was printed or a stage failed.
func (h *Harness) ExecLexer(ctx context.Context, inv LexerInvocation) *string {
	modules, ok := h.generate(ctx, generator.GenerateRequest{
		GrammarFile: inv.GrammarFile,
		Grammar:     inv.Grammar,
		LexerName:   inv.LexerName,
		Options:     withOption(inv.Options, generator.OptionNoListener),
	})
	if !ok {
		return nil
	}
	return h.execute(ctx, ExecutionRequest{
		Driver: types.TestDriverSpec{
			LexerName:          inv.LexerName,
			IsLexerOnly:        true,
			DiagnosticsEnabled: inv.ShowDFA,
			GeneratedModules:   modules,
		},
		WorkDir: h.workDir,
		Input:   inv.Input,
	})
}

// ExecParser generates lexer and parser, parses the input from the entry
// point and returns what the driver printed, or nil.
func (h *Harness) ExecParser(ctx context.Context, inv ParserInvocation) *string {
	modules, ok := h.generate(ctx, generator.GenerateRequest{
		GrammarFile: inv.GrammarFile,
		Grammar:     inv.Grammar,
		LexerName:   inv.LexerName,
		ParserName:  inv.ParserName,
		Options:     withOption(inv.Options, generator.OptionVisitor),
	})
	if !ok {
		return nil
	}
	return h.execute(ctx, ExecutionRequest{
		Driver: types.TestDriverSpec{
			LexerName:          inv.LexerName,
			ParserName:         inv.ParserName,
			EntryPoint:         inv.EntryPoint,
			DiagnosticsEnabled: inv.Diagnostics,
			TraceEnabled:       inv.Trace,
			GeneratedModules:   modules,
		},
		WorkDir: h.workDir,
		Input:   inv.Input,
	})
}

// LastDiagnostic returns the stderr capture of the most recent invocation.
func (h *Harness) LastDiagnostic() *string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastOutcome == nil {
		return nil
	}
	return h.lastOutcome.Diagnostic
}

// LastOutcome returns the full outcome of the most recent invocation.
func (h *Harness) LastOutcome() *types.ExecutionOutcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastOutcome
}

// FirstLineOfDiagnostic returns the first line of the last diagnostic, or
// nil. For an uncaught exception only its message is returned.
func (h *Harness) FirstLineOfDiagnostic() *string {
	diag := h.LastDiagnostic()
	if diag == nil {
		return nil
	}
	line, _, _ := strings.Cut(*diag, "\n")
	line = uncaughtExceptionRegex.ReplaceAllString(line, "")
	return &line
}

// Matches the location prefix of an uncaught exception, e.g.
// "object.Exception@Test.d(29): ".
var uncaughtExceptionRegex = regexp.MustCompile(`^[A-Za-z_][\w.]*(?:Exception|Error)@[^:]*:\s*`)

func (h *Harness) generate(ctx context.Context, req generator.GenerateRequest) ([]string, bool) {
	modules, err := h.generator.Generate(ctx, h.workDir, req)
	if err != nil {
		h.log.Debug("Recognizer generation failed", "grammar", req.GrammarFile, "err", err)
		h.setOutcome(&types.ExecutionOutcome{
			Diagnostic:  types.StringPtr(err.Error()),
			FailedStage: types.StageGenerate,
		})
		return nil, false
	}
	return modules, true
}

func (h *Harness) execute(ctx context.Context, req ExecutionRequest) *string {
	outcome := h.executor.Execute(ctx, req)
	h.setOutcome(outcome)
	return outcome.Output
}

func (h *Harness) setOutcome(o *types.ExecutionOutcome) {
	h.mu.Lock()
	h.lastOutcome = o
	h.mu.Unlock()
}

func withOption(opts []string, opt string) []string {
	if slices.Contains(opts, opt) {
		return opts
	}
	return append(slices.Clone(opts), opt)
}
