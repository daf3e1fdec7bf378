// Package generator runs the grammar compiler that turns a grammar into D
// recognizer sources.
package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-conformance/driver"
	"github.com/ethereum-optimism/infra/op-conformance/process"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

const (
	// TargetLanguage is passed to the grammar tool.
	TargetLanguage = "D"

	OptionNoListener = "-no-listener"
	OptionVisitor    = "-visitor"

	descGenerate = "generating recognizer"
)

// GenerateRequest describes one grammar to compile.
type GenerateRequest struct {
	GrammarFile string // file name, e.g. "T.g4"
	Grammar     string // grammar source text
	LexerName   string
	ParserName  string // empty for lexer grammars
	Options     []string
}

// GrammarName returns the grammar file name without extension.
func (r GenerateRequest) GrammarName() string {
	return types.TestCase{GrammarFile: r.GrammarFile}.GrammarName()
}

// Generator produces recognizer sources in dir and returns the generated
// module file names, relative to dir, in compile order.
type Generator interface {
	Generate(ctx context.Context, dir string, req GenerateRequest) ([]string, error)
}

// GenerationError is returned when the grammar tool reported errors.
type GenerationError struct {
	GrammarFile string
	ExitCode    int
	Messages    []string
}

func (e *GenerationError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("grammar %s failed to generate (exit code %d)", e.GrammarFile, e.ExitCode)
	}
	return fmt.Sprintf("grammar %s failed to generate: %s", e.GrammarFile, strings.Join(e.Messages, "; "))
}

// IsGenerationError checks if the error is or wraps a GenerationError
func IsGenerationError(err error) bool {
	var genErr *GenerationError
	return err != nil && errors.As(err, &genErr)
}

// Config holds configuration for creating a new ToolGenerator
type Config struct {
	// Command invokes the grammar tool, e.g. ["java", "-jar", "antlr4-complete.jar"].
	Command []string
	Runner  process.ProcessRunner
	Timeout time.Duration
	Log     log.Logger
}

// ToolGenerator runs the grammar tool as an external command.
type ToolGenerator struct {
	command []string
	runner  process.ProcessRunner
	timeout time.Duration
	log     log.Logger
}

var _ Generator = (*ToolGenerator)(nil)

// NewToolGenerator creates a new generator
func NewToolGenerator(cfg Config) (*ToolGenerator, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("grammar tool command cannot be empty")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("process runner cannot be nil")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &ToolGenerator{
		command: slices.Clone(cfg.Command),
		runner:  cfg.Runner,
		timeout: cfg.Timeout,
		log:     cfg.Log.New("component", "generator"),
	}, nil
}

// ToolCommand turns the --grammar-tool setting into a command line. A path
// to a jar runs through java; anything else is split on whitespace.
func ToolCommand(tool string) []string {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return nil
	}
	if strings.HasSuffix(tool, ".jar") {
		return []string{"java", "-jar", tool}
	}
	return strings.Fields(tool)
}

// Generate writes the grammar into dir and runs the grammar tool on it.
func (g *ToolGenerator) Generate(ctx context.Context, dir string, req GenerateRequest) ([]string, error) {
	if req.GrammarFile == "" {
		return nil, fmt.Errorf("grammar file name cannot be empty")
	}
	if err := os.WriteFile(filepath.Join(dir, req.GrammarFile), []byte(req.Grammar), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write grammar: %w", err)
	}

	args := slices.Clone(g.command)
	args = append(args, "-Dlanguage="+TargetLanguage, "-o", dir)
	args = append(args, req.Options...)
	args = append(args, req.GrammarFile)

	res, err := g.runner.Run(ctx, process.Command{
		Args:        args,
		Dir:         dir,
		Description: descGenerate,
		Timeout:     g.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run grammar tool: %w", err)
	}

	if msgs := errorMessages(res.Stderr); len(msgs) > 0 || res.ExitCode != 0 {
		g.log.Debug("Grammar tool reported errors", "grammar", req.GrammarFile, "stderr", res.Stderr)
		return nil, &GenerationError{GrammarFile: req.GrammarFile, ExitCode: res.ExitCode, Messages: msgs}
	}
	if res.Stderr != "" {
		g.log.Debug("Grammar tool warnings", "grammar", req.GrammarFile, "stderr", res.Stderr)
	}
	return EmittedModules(dir, req)
}

// EmittedModules returns the modules expected for req followed, in name
// order, by every other D source found in dir. The driver source is never
// included.
func EmittedModules(dir string, req GenerateRequest) ([]string, error) {
	modules := GeneratedModules(req)
	found, err := filepath.Glob(filepath.Join(dir, "*.d"))
	if err != nil {
		return nil, fmt.Errorf("failed to list generated modules: %w", err)
	}
	var extra []string
	for _, path := range found {
		name := filepath.Base(path)
		if name == driver.FileName || slices.Contains(modules, name) {
			continue
		}
		extra = append(extra, name)
	}
	slices.Sort(extra)
	return append(modules, extra...), nil
}

// GeneratedModules returns the source files the grammar tool emits for req.
func GeneratedModules(req GenerateRequest) []string {
	var files []string
	if req.LexerName != "" {
		files = append(files, req.LexerName+".d")
	}
	if req.ParserName != "" {
		files = append(files, req.ParserName+".d")
		if !slices.Contains(req.Options, OptionNoListener) {
			files = append(files, req.GrammarName()+"Listener.d")
		}
		if slices.Contains(req.Options, OptionVisitor) {
			files = append(files, req.GrammarName()+"Visitor.d")
		}
	}
	return files
}

// errorMessages picks the error lines out of the grammar tool's stderr.
func errorMessages(stderr string) []string {
	var msgs []string
	for _, line := range strings.Split(stderr, "\n") {
		if strings.Contains(line, "error(") {
			msgs = append(msgs, strings.TrimSpace(line))
		}
	}
	return msgs
}
