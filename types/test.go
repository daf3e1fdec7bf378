package types

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// TestStatus represents the possible states of a conformance case
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusSkip  TestStatus = "skip"
	TestStatusError TestStatus = "error"
)

// TestCase is one conformance case: a grammar, an input and what the
// generated recognizer is expected to print for it.
type TestCase struct {
	Name        string         `yaml:"name" toml:"name"`
	GrammarFile string         `yaml:"grammar_file" toml:"grammar_file"`
	Grammar     string         `yaml:"grammar" toml:"grammar"`
	Lexer       string         `yaml:"lexer" toml:"lexer"`
	Parser      string         `yaml:"parser,omitempty" toml:"parser"`
	EntryPoint  EntryPoint     `yaml:"entry_point,omitempty" toml:"entry_point"`
	Input       string         `yaml:"input" toml:"input"`
	Output      *string        `yaml:"output,omitempty" toml:"output"`
	Errors      string         `yaml:"errors,omitempty" toml:"errors"`
	Diagnostics bool           `yaml:"diagnostics,omitempty" toml:"diagnostics"`
	Trace       bool           `yaml:"trace,omitempty" toml:"trace"`
	Options     []string       `yaml:"options,omitempty" toml:"options"`
	Timeout     *time.Duration `yaml:"timeout,omitempty" toml:"timeout"`
	Skip        string         `yaml:"skip,omitempty" toml:"skip"`

	// Set by the registry.
	ID    string `yaml:"-" toml:"-"`
	Suite string `yaml:"-" toml:"-"`
}

// IsLexerOnly reports whether the case exercises a lexer without a parser.
func (c TestCase) IsLexerOnly() bool {
	return c.Parser == ""
}

// GrammarName returns the grammar file name without extension.
func (c TestCase) GrammarName() string {
	base := path.Base(c.GrammarFile)
	return strings.TrimSuffix(base, path.Ext(base))
}

// SuiteConfig groups cases.
type SuiteConfig struct {
	ID          string     `yaml:"id" toml:"id"`
	Description string     `yaml:"description,omitempty" toml:"description"`
	Cases       []TestCase `yaml:"cases" toml:"cases"`
}

// CatalogueConfig is the top level of a test-case file.
type CatalogueConfig struct {
	Suites []SuiteConfig `yaml:"suites" toml:"suites"`
}

// TestResult captures the outcome of a single case
type TestResult struct {
	Case       TestCase
	Status     TestStatus
	Error      error
	Duration   time.Duration
	Output     *string
	Diagnostic *string
	Driver     string // synthesized driver source, for logs
	Attempts   int
}

// String returns a one-line description of the result.
func (r *TestResult) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: %s (%v)", r.Case.ID, r.Status, r.Error)
	}
	return fmt.Sprintf("%s: %s", r.Case.ID, r.Status)
}
