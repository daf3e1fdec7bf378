package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-conformance/reporting"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

const runLogQueueSize = 64

// RunLog streams one entry per finished case into all.log. Entries are
// written on a background goroutine so workers never wait on the disk.
type RunLog struct {
	file    *os.File
	entries chan string
	done    chan struct{}

	mu     sync.Mutex
	closed bool

	// Owned by the writer goroutine until done is closed.
	err error
}

// NewRunLog creates path and writes the run header.
func NewRunLog(path string, runID string) (*RunLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}
	l := &RunLog{
		file:    file,
		entries: make(chan string, runLogQueueSize),
		done:    make(chan struct{}),
	}
	go l.writeLoop()
	l.enqueue(fmt.Sprintf("# run %s started %s\n", runID, time.Now().UTC().Format(time.RFC3339)))
	return l, nil
}

// Consume queues the entry of one case: its status line and, when the case
// printed anything on stderr, the first line of it.
func (l *RunLog) Consume(result *types.TestResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (%s)\n", result.Status, reporting.CleanDiagnostic(result.String()), reporting.FormatDuration(result.Duration))
	if result.Diagnostic != nil {
		if first := firstLine(reporting.CleanDiagnostic(*result.Diagnostic)); first != "" {
			fmt.Fprintf(&b, "    stderr: %s\n", first)
		}
	}
	if !l.enqueue(b.String()) {
		return fmt.Errorf("run log is closed, dropped %s", result.Case.ID)
	}
	return nil
}

// Complete writes the footer, flushes the queue and closes the file. It
// returns the first write error. Later calls are no-ops.
func (l *RunLog) Complete(run *types.RunResult) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.entries <- fmt.Sprintf("# %s\n", firstLine(reporting.Summary(run)))
	l.closed = true
	close(l.entries)
	l.mu.Unlock()

	<-l.done
	if err := l.file.Close(); err != nil && l.err == nil {
		l.err = err
	}
	return l.err
}

func (l *RunLog) enqueue(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.entries <- entry
	return true
}

func (l *RunLog) writeLoop() {
	defer close(l.done)
	for entry := range l.entries {
		if l.err != nil {
			continue
		}
		if _, err := l.file.WriteString(entry); err != nil {
			l.err = fmt.Errorf("failed to write run log: %w", err)
		}
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
