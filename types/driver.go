package types

import "strings"

// EntryPoint names the parser rule a driver invokes. Rules generated for
// left-recursive alternatives take a precedence level argument, which the
// test-case layer declares up front instead of it being discovered at runtime.
type EntryPoint struct {
	Name            string `yaml:"name" toml:"name"`
	TakesPrecedence bool   `yaml:"takes_precedence,omitempty" toml:"takes_precedence"`
}

// Invocation returns the textual call expression used in a driver, e.g. "prog()"
// or "expr(0)". A name that already ends with ')' is used as is.
func (e EntryPoint) Invocation() string {
	name := strings.TrimSpace(e.Name)
	if strings.HasSuffix(name, ")") {
		return name
	}
	if e.TakesPrecedence {
		return name + "(0)"
	}
	return name + "()"
}

// TestDriverSpec describes the driver program synthesized for one execution.
// It is built once per invocation and never modified afterwards.
type TestDriverSpec struct {
	LexerName          string
	ParserName         string // empty for lexer-only drivers
	EntryPoint         EntryPoint
	IsLexerOnly        bool
	DiagnosticsEnabled bool
	TraceEnabled       bool
	// GeneratedModules are the generated source files, relative to the work
	// directory, compiled together with the driver.
	GeneratedModules []string
}

// Modules returns a copy of the generated module list.
func (s TestDriverSpec) Modules() []string {
	out := make([]string, len(s.GeneratedModules))
	copy(out, s.GeneratedModules)
	return out
}
