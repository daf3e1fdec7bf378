package conformance

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-conformance/buildgate"
	"github.com/ethereum-optimism/infra/op-conformance/logging"
	"github.com/ethereum-optimism/infra/op-conformance/reporting"
	"github.com/ethereum-optimism/infra/op-conformance/toolchain"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// fakeCompiler answers the version query and otherwise "links" a driver
// binary that echoes its input file.
const fakeCompiler = `
if [ "$1" = "--version" ]; then
  echo "LDC - the LLVM D compiler (1.32.0):"
  exit 0
fi
printf '#!/bin/sh\ncat "$1"\n' > test
chmod +x test
`

const catalogue = `suites:
  - id: echo
    cases:
      - name: Hello
        grammar_file: L.g4
        grammar: "lexer grammar L;\nA : 'a' ;\n"
        lexer: L
        input: hello
        output: hello
      - name: Empty
        grammar_file: L.g4
        grammar: "lexer grammar L;\nA : 'a' ;\n"
        lexer: L
        input: ""
  - id: broken
    cases:
      - name: WrongOutput
        grammar_file: L.g4
        grammar: "lexer grammar L;\nA : 'a' ;\n"
        lexer: L
        input: x
        output: "y"
`

type fakeToolchain struct {
	dir         string
	runtimeDir  string
	compiler    string
	packageTool string
	grammarTool string
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newFakeToolchain(t *testing.T, buildExit string) *fakeToolchain {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain needs /bin/sh")
	}
	dir := t.TempDir()
	rt := filepath.Join(dir, "runtime")
	require.NoError(t, os.MkdirAll(filepath.Join(rt, "source"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(rt, "lib"), 0o755))
	return &fakeToolchain{
		dir:         dir,
		runtimeDir:  rt,
		compiler:    writeScript(t, dir, "ldc2", fakeCompiler),
		packageTool: writeScript(t, dir, "dub", "exit "+buildExit+"\n"),
		grammarTool: writeScript(t, dir, "antlr", "exit 0\n"),
	}
}

func newTestConfig(t *testing.T, ft *fakeToolchain, out *bytes.Buffer) *Config {
	t.Helper()
	cataloguePath := filepath.Join(ft.dir, "catalogue.yaml")
	require.NoError(t, os.WriteFile(cataloguePath, []byte(catalogue), 0o644))
	return &Config{
		Catalogue: cataloguePath,
		Toolchain: toolchain.Toolchain{
			Compiler:    ft.compiler,
			PackageTool: ft.packageTool,
			RuntimeDir:  ft.runtimeDir,
			GOOS:        runtime.GOOS,
		}.WithDefaults(),
		GrammarTool:    []string{ft.grammarTool},
		WorkDir:        filepath.Join(ft.dir, "work"),
		LogDir:         filepath.Join(ft.dir, "logs"),
		CaseTimeout:    time.Minute,
		CommandTimeout: 30 * time.Second,
		BuildTimeout:   time.Minute,
		Serial:         true,
		Repeat:         1,
		Out:            out,
		Log:            log.NewLogger(log.DiscardHandler()),
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, "test", nil)
	assert.Error(t, err)

	_, err = New(&Config{}, "test", nil)
	assert.Error(t, err)

	_, err = New(&Config{Catalogue: "/does/not/exist.yaml", Log: log.NewLogger(log.DiscardHandler())}, "test", nil)
	require.Error(t, err)
	cause, _ := RuntimeCauseOf(err)
	assert.Equal(t, CauseCatalogue, cause)
}

func TestStartPassingSuite(t *testing.T) {
	ft := newFakeToolchain(t, "0")
	var out bytes.Buffer
	cfg := newTestConfig(t, ft, &out)
	cfg.Suites = []string{"echo"}

	shutdown := make(chan error, 1)
	c, err := New(cfg, "test", func(err error) { shutdown <- err })
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback was not called")
	}
	assert.False(t, c.Stopped())
	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, c.Stopped())

	result := c.Result()
	require.NotNil(t, result)
	assert.Equal(t, types.TestStatusPass, result.Status)
	assert.Equal(t, 2, result.Stats.Passed)
	require.NotNil(t, result.Results[0].Output)
	assert.Equal(t, "hello", *result.Results[0].Output)
	assert.Nil(t, result.Results[1].Output)

	assert.Contains(t, out.String(), "Hello")
	assert.Contains(t, out.String(), "Passed: 2")

	summary := filepath.Join(cfg.LogDir, result.RunID, logging.SummaryFilename)
	assert.FileExists(t, summary)
	assert.FileExists(t, filepath.Join(cfg.LogDir, result.RunID, reporting.HTMLFilename))

	entries, err := os.ReadDir(cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "work directories should be removed")
}

func TestStartFailingSuite(t *testing.T) {
	ft := newFakeToolchain(t, "0")
	cfg := newTestConfig(t, ft, &bytes.Buffer{})

	c, err := New(cfg, "test", func(error) { t.Error("shutdown callback must not be called on failure") })
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "1 of 3 cases did not pass (1 failed, 0 errored)")
	assert.Equal(t, types.TestStatusFail, c.Result().Status)
}

func TestStartRuntimeBuildFailure(t *testing.T) {
	ft := newFakeToolchain(t, "1")
	cfg := newTestConfig(t, ft, &bytes.Buffer{})
	cfg.Suites = []string{"echo"}

	c, err := New(cfg, "test", nil)
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.False(t, IsTestFailureError(err))
	assert.ErrorIs(t, err, buildgate.ErrRuntimeBuildFailed)
	cause, ok := RuntimeCauseOf(err)
	require.True(t, ok)
	assert.Equal(t, CauseRuntimeBuild, cause)
	assert.Contains(t, err.Error(), "2 of 2 cases could not run")

	result := c.Result()
	require.NotNil(t, result)
	assert.Equal(t, types.TestStatusError, result.Status)
	assert.Equal(t, 2, result.Stats.Errored)
	for _, res := range result.Results {
		require.NotNil(t, res.Diagnostic)
		assert.Equal(t, "runtime build failed", *res.Diagnostic)
	}
	assert.Equal(t, types.BuildStateFailed, c.gate.State())
	assert.Equal(t, 1, c.gate.Attempts())
}

func TestStartUnknownSuite(t *testing.T) {
	ft := newFakeToolchain(t, "0")
	cfg := newTestConfig(t, ft, &bytes.Buffer{})
	cfg.Suites = []string{"nope"}

	c, err := New(cfg, "test", nil)
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), `unknown or empty suite "nope"`)
	cause, _ := RuntimeCauseOf(err)
	assert.Equal(t, CauseCatalogue, cause)
}

func TestStopBeforeStart(t *testing.T) {
	ft := newFakeToolchain(t, "0")
	c, err := New(newTestConfig(t, ft, &bytes.Buffer{}), "test", nil)
	require.NoError(t, err)
	assert.True(t, c.Stopped())
	assert.NoError(t, c.Stop(context.Background()))
}
