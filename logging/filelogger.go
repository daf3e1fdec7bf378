// Package logging stores run results on disk, one directory per case.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/ethereum-optimism/infra/op-conformance/reporting"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

const (
	DriverFilename  = "Test.d"
	StdoutFilename  = "stdout.txt"
	StderrFilename  = "stderr.txt"
	ResultFilename  = "result.txt"
	SummaryFilename = "summary.txt"
	AllLogsFilename = "all.log"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ResultSink is an interface for different ways of consuming case results
type ResultSink interface {
	// Consume processes a single case result
	Consume(result *types.TestResult) error
	// Complete is called when all results have been consumed
	Complete(run *types.RunResult) error
}

// FileLogger writes case results under <baseDir>/<runID>.
type FileLogger struct {
	baseDir string
	logDir  string
	runID   string
	mu      sync.Mutex
	sinks   []ResultSink
}

// NewFileLogger creates the run directory and the default sinks.
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", logDir, err)
	}

	runLog, err := NewRunLog(filepath.Join(logDir, AllLogsFilename), runID)
	if err != nil {
		return nil, err
	}

	l := &FileLogger{
		baseDir: baseDir,
		logDir:  logDir,
		runID:   runID,
	}
	l.sinks = []ResultSink{
		&PerCaseFileSink{logger: l},
		runLog,
		&SummaryFileSink{logger: l},
	}
	return l, nil
}

// AddSink registers an additional sink after the default ones.
func (l *FileLogger) AddSink(sink ResultSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// LogDir returns the directory of this run.
func (l *FileLogger) LogDir() string {
	return l.logDir
}

// RunID returns the run this logger writes for.
func (l *FileLogger) RunID() string {
	return l.runID
}

// CaseDir returns the directory holding the files of one case.
func (l *FileLogger) CaseDir(tc types.TestCase) string {
	suite := tc.Suite
	if suite == "" {
		suite = "default"
	}
	return filepath.Join(l.logDir, safeName(suite), safeName(tc.Name))
}

// LogCaseResult hands a result to every sink.
func (l *FileLogger) LogCaseResult(result *types.TestResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sink := range l.sinks {
		if err := sink.Consume(result); err != nil {
			return fmt.Errorf("failed to log result for %s: %w", result.Case.ID, err)
		}
	}
	return nil
}

// Complete finishes every sink and closes open files.
func (l *FileLogger) Complete(run *types.RunResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, sink := range l.sinks {
		if err := sink.Complete(run); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PerCaseFileSink writes the driver, the captured streams and the verdict
// of each case into its own directory.
type PerCaseFileSink struct {
	logger *FileLogger
}

func (s *PerCaseFileSink) Consume(result *types.TestResult) error {
	dir := s.logger.CaseDir(result.Case)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	files := map[string]string{
		StdoutFilename: deref(result.Output),
		StderrFilename: reporting.CleanDiagnostic(deref(result.Diagnostic)),
		ResultFilename: resultText(result),
	}
	if result.Driver != "" {
		files[DriverFilename] = result.Driver
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

func (s *PerCaseFileSink) Complete(*types.RunResult) error {
	return nil
}

// SummaryFileSink writes the run summary and table when the run completes.
type SummaryFileSink struct {
	logger *FileLogger
}

func (s *SummaryFileSink) Consume(*types.TestResult) error {
	return nil
}

func (s *SummaryFileSink) Complete(run *types.RunResult) error {
	f, err := os.Create(filepath.Join(s.logger.logDir, SummaryFilename))
	if err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(reporting.Summary(run) + "\n"); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	reporting.NewTableFormatter(f, false).Format(run)
	return nil
}

func resultText(result *types.TestResult) string {
	text := fmt.Sprintf("case: %s\nstatus: %s\nattempts: %d\nduration: %s\n",
		result.Case.ID, result.Status, result.Attempts, reporting.FormatDuration(result.Duration))
	if result.Error != nil {
		text += fmt.Sprintf("error: %s\n", reporting.CleanDiagnostic(result.Error.Error()))
	}
	return text
}

func safeName(s string) string {
	name := unsafePathChars.ReplaceAllString(s, "_")
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
