package logging

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-conformance/types"
)

func strPtr(s string) *string { return &s }

func TestNewFileLoggerValidation(t *testing.T) {
	_, err := NewFileLogger(t.TempDir(), "")
	assert.Error(t, err)

	_, err = NewFileLogger("", "run")
	assert.Error(t, err)
}

func TestFileLoggerWritesCaseFiles(t *testing.T) {
	base := t.TempDir()
	l, err := NewFileLogger(base, "run-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "run-1"), l.LogDir())

	result := &types.TestResult{
		Case:       types.TestCase{ID: "lexer/Ints", Name: "Ints", Suite: "lexer"},
		Status:     types.TestStatusFail,
		Error:      errors.New("output mismatch"),
		Duration:   1500 * time.Millisecond,
		Output:     strPtr("[@0,0:0='1',<1>,1:0]\n"),
		Diagnostic: strPtr("\x1b[33mwarning\x1b[0m: deprecated\n"),
		Driver:     "int main() {}\n",
		Attempts:   1,
	}
	require.NoError(t, l.LogCaseResult(result))

	dir := filepath.Join(base, "run-1", "lexer", "Ints")
	read := func(name string) string {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "[@0,0:0='1',<1>,1:0]\n", read(StdoutFilename))
	assert.Equal(t, "warning: deprecated", read(StderrFilename))
	assert.Equal(t, "int main() {}\n", read(DriverFilename))
	assert.Contains(t, read(ResultFilename), "status: fail")
	assert.Contains(t, read(ResultFilename), "error: output mismatch")

	run := &types.RunResult{RunID: "run-1", Status: types.TestStatusFail, Results: []*types.TestResult{result}}
	run.Stats.Add(result.Status)
	require.NoError(t, l.Complete(run))

	summary, err := os.ReadFile(filepath.Join(base, "run-1", SummaryFilename))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Run run-1: FAIL")
	assert.Contains(t, string(summary), "Ints")

	all, err := os.ReadFile(filepath.Join(base, "run-1", AllLogsFilename))
	require.NoError(t, err)
	assert.Contains(t, string(all), "[fail] lexer/Ints: fail (output mismatch) (1.5s)\n    stderr: warning: deprecated\n")
}

func TestFileLoggerConcurrentResults(t *testing.T) {
	base := t.TempDir()
	l, err := NewFileLogger(base, "run-2")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			assert.NoError(t, l.LogCaseResult(&types.TestResult{
				Case:   types.TestCase{ID: "s/" + name, Name: name, Suite: "s"},
				Status: types.TestStatusPass,
			}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Complete(&types.RunResult{RunID: "run-2", Status: types.TestStatusPass}))

	entries, err := os.ReadDir(filepath.Join(base, "run-2", "s"))
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestCaseDirSanitizesNames(t *testing.T) {
	l, err := NewFileLogger(t.TempDir(), "run")
	require.NoError(t, err)
	defer func() { _ = l.Complete(&types.RunResult{}) }()

	dir := l.CaseDir(types.TestCase{Name: "../../etc/passwd", Suite: ""})
	assert.Equal(t, filepath.Join(l.LogDir(), "default", ".._.._etc_passwd"), dir)

	dir = l.CaseDir(types.TestCase{Name: "..", Suite: "a b"})
	assert.Equal(t, filepath.Join(l.LogDir(), "a_b", "_"), dir)
}

type countingSink struct {
	consumed  int
	completed int
}

func (s *countingSink) Consume(*types.TestResult) error {
	s.consumed++
	return nil
}

func (s *countingSink) Complete(*types.RunResult) error {
	s.completed++
	return nil
}

func TestFileLoggerAddSink(t *testing.T) {
	l, err := NewFileLogger(t.TempDir(), "run-sink")
	require.NoError(t, err)
	sink := &countingSink{}
	l.AddSink(sink)

	result := &types.TestResult{Case: types.TestCase{ID: "s/A", Name: "A", Suite: "s"}, Status: types.TestStatusPass}
	require.NoError(t, l.LogCaseResult(result))
	require.NoError(t, l.Complete(&types.RunResult{RunID: "run-sink", Results: []*types.TestResult{result}}))
	assert.Equal(t, 1, sink.consumed)
	assert.Equal(t, 1, sink.completed)
}
