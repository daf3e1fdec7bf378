package reporting

import (
	"embed"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// HTMLFilename is the name of the report written into the run directory.
const HTMLFilename = "results.html"

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// htmlRow is one case of the report.
type htmlRow struct {
	Suite    string
	Name     string
	Status   types.TestStatus
	Duration string
	Attempts int
	Error    string
	LogPath  string
}

type htmlReport struct {
	RunID    string
	Status   types.TestStatus
	Duration string
	Stats    types.ResultStats
	Rows     []htmlRow
}

// HTMLSink renders a static results page when the run completes.
type HTMLSink struct {
	dir     string
	tmpl    *template.Template
	caseDir func(types.TestCase) string
}

// NewHTMLSink creates a sink writing results.html into dir. caseDir maps a
// case to its log directory; links in the report are relative to dir.
func NewHTMLSink(dir string, caseDir func(types.TestCase) string) (*HTMLSink, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/results.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}
	return &HTMLSink{dir: dir, tmpl: tmpl, caseDir: caseDir}, nil
}

// Consume is a no-op, the report is rendered from the complete run.
func (s *HTMLSink) Consume(*types.TestResult) error {
	return nil
}

// Complete writes the report.
func (s *HTMLSink) Complete(run *types.RunResult) error {
	report := htmlReport{
		RunID:    run.RunID,
		Status:   run.Status,
		Duration: FormatDuration(run.Duration),
		Stats:    run.Stats,
	}
	for _, res := range run.Results {
		row := htmlRow{
			Suite:    res.Case.Suite,
			Name:     res.Case.Name,
			Status:   res.Status,
			Duration: FormatDuration(res.Duration),
			Attempts: res.Attempts,
			LogPath:  s.logPath(res.Case),
		}
		if res.Error != nil {
			row.Error = CleanDiagnostic(res.Error.Error())
		} else if res.Status == types.TestStatusSkip {
			row.Error = res.Case.Skip
		}
		report.Rows = append(report.Rows, row)
	}

	f, err := os.Create(filepath.Join(s.dir, HTMLFilename))
	if err != nil {
		return fmt.Errorf("failed to create HTML report: %w", err)
	}
	defer f.Close()
	if err := s.tmpl.Execute(f, report); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	return nil
}

func (s *HTMLSink) logPath(tc types.TestCase) string {
	if s.caseDir == nil {
		return ""
	}
	rel, err := filepath.Rel(s.dir, s.caseDir(tc))
	if err != nil {
		return ""
	}
	return path.Clean(filepath.ToSlash(rel)) + "/"
}
