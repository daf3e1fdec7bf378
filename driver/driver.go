// Package driver renders the small programs that exercise a generated
// recognizer: a lexer driver that dumps tokens, and a parser driver that
// invokes an entry rule and walks the resulting tree with a shape check.
//
// Rendering is a pure function of its inputs.
package driver

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/ethereum-optimism/infra/op-conformance/types"
)

const (
	// FileName is the name the driver source is written under.
	FileName = "Test.d"
	// SourceExtension is the extension of generated and driver sources.
	SourceExtension = ".d"
)

//go:embed templates/*.d.tmpl
var templateFS embed.FS

var (
	templates = template.Must(template.New("drivers").Option("missingkey=error").ParseFS(templateFS, "templates/*.d.tmpl"))

	identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	entryPointRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\(\d*\))?$`)
)

type lexerData struct {
	LexerName           string
	ShowDiagnosticsDump bool
}

type parserData struct {
	LexerName   string
	ParserName  string
	Invocation  string
	Diagnostics bool
	Trace       bool
}

// ParserDriverOptions selects what the parser driver does.
type ParserDriverOptions struct {
	ParserName  string
	LexerName   string
	EntryPoint  types.EntryPoint
	Diagnostics bool // attach a DiagnosticErrorListener before invoking the entry point
	Trace       bool // enable parser tracing before invoking the entry point
}

// SynthesizeLexerDriver renders a driver that prints every token the lexer
// produces for the input file. With showDiagnosticsDump it also prints the
// lexer DFA of the default mode.
func SynthesizeLexerDriver(lexerName string, showDiagnosticsDump bool) (string, error) {
	if err := validateIdentifier("lexer", lexerName); err != nil {
		return "", err
	}
	return render("lexer.d.tmpl", lexerData{
		LexerName:           lexerName,
		ShowDiagnosticsDump: showDiagnosticsDump,
	})
}

// SynthesizeParserDriver renders a driver that parses the input file from
// the given entry point and validates the shape of the parse tree.
func SynthesizeParserDriver(opts ParserDriverOptions) (string, error) {
	if err := validateIdentifier("lexer", opts.LexerName); err != nil {
		return "", err
	}
	if err := validateIdentifier("parser", opts.ParserName); err != nil {
		return "", err
	}
	if !entryPointRegex.MatchString(strings.TrimSpace(opts.EntryPoint.Name)) {
		return "", fmt.Errorf("invalid entry point %q", opts.EntryPoint.Name)
	}
	return render("parser.d.tmpl", parserData{
		LexerName:   opts.LexerName,
		ParserName:  opts.ParserName,
		Invocation:  opts.EntryPoint.Invocation(),
		Diagnostics: opts.Diagnostics,
		Trace:       opts.Trace,
	})
}

// Synthesize renders the driver described by spec.
func Synthesize(spec types.TestDriverSpec) (string, error) {
	if spec.IsLexerOnly {
		return SynthesizeLexerDriver(spec.LexerName, spec.DiagnosticsEnabled)
	}
	return SynthesizeParserDriver(ParserDriverOptions{
		ParserName:  spec.ParserName,
		LexerName:   spec.LexerName,
		EntryPoint:  spec.EntryPoint,
		Diagnostics: spec.DiagnosticsEnabled,
		Trace:       spec.TraceEnabled,
	})
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

func validateIdentifier(kind, name string) error {
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("invalid %s module name %q", kind, name)
	}
	return nil
}
