package conformance

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-conformance/flags"
)

func newCLIContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags.Flags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func newRuntimeDir(t *testing.T) string {
	t.Helper()
	rt := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rt, "source"), 0o755))
	return rt
}

func newCatalogue(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogue.yaml")
	require.NoError(t, os.WriteFile(path, []byte("suites: []\n"), 0o644))
	return path
}

func TestNewConfig(t *testing.T) {
	rt := newRuntimeDir(t)
	cat := newCatalogue(t)
	workDir := t.TempDir()

	ctx := newCLIContext(t,
		"--tests", cat,
		"--runtime", rt,
		"--grammar-tool", "/opt/antlr-complete.jar",
		"--suite", "lexer",
		"--suite", "parser",
		"--work-dir", workDir,
		"--timeout", "2m",
		"--repeat", "3",
		"--serial",
		"--keep-work-dirs",
	)
	cfg, err := NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)

	assert.Equal(t, cat, cfg.Catalogue)
	assert.Equal(t, []string{"lexer", "parser"}, cfg.Suites)
	assert.Equal(t, []string{"java", "-jar", "/opt/antlr-complete.jar"}, cfg.GrammarTool)
	assert.Equal(t, rt, cfg.Toolchain.RuntimeDir)
	assert.Equal(t, "ldc2", cfg.Toolchain.Compiler)
	assert.Equal(t, "dub", cfg.Toolchain.PackageTool)
	assert.Equal(t, "release", cfg.Toolchain.BuildProfile)
	assert.Equal(t, workDir, cfg.WorkDir)
	assert.True(t, filepath.IsAbs(cfg.LogDir))
	assert.Equal(t, 2*time.Minute, cfg.CaseTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, 30*time.Minute, cfg.BuildTimeout)
	assert.Equal(t, 3, cfg.Repeat)
	assert.True(t, cfg.Serial)
	assert.True(t, cfg.KeepWorkDirs)
	assert.False(t, cfg.MetricsConfig.Enabled)
	assert.Empty(t, cfg.HealthzAddr)
}

func TestNewConfigDefaultWorkDir(t *testing.T) {
	ctx := newCLIContext(t,
		"--tests", newCatalogue(t),
		"--runtime", newRuntimeDir(t),
		"--grammar-tool", "antlr4",
	)
	cfg, err := NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkDirName, filepath.Base(cfg.WorkDir))
	assert.Equal(t, []string{"antlr4"}, cfg.GrammarTool)
}

func TestNewConfigErrors(t *testing.T) {
	rt := newRuntimeDir(t)
	cat := newCatalogue(t)

	tests := []struct {
		name      string
		args      []string
		wantErr   string
		wantCause RuntimeCause
	}{
		{
			name:    "missing grammar tool",
			args:    []string{"--tests", cat, "--runtime", rt},
			wantErr: "missing required flags",
		},
		{
			name:    "missing catalogue",
			args:    []string{"--tests", filepath.Join(rt, "nope.yaml"), "--runtime", rt, "--grammar-tool", "antlr4"},
			wantErr:   "cannot read catalogue",
			wantCause: CauseCatalogue,
		},
		{
			name:    "runtime without sources",
			args:    []string{"--tests", cat, "--runtime", t.TempDir(), "--grammar-tool", "antlr4"},
			wantErr:   "has no source directory",
			wantCause: CauseRuntime,
		},
		{
			name:    "blank grammar tool",
			args:    []string{"--tests", cat, "--runtime", rt, "--grammar-tool", "  "},
			wantErr: "grammar tool is required",
		},
		{
			name:    "repeat below one",
			args:    []string{"--tests", cat, "--runtime", rt, "--grammar-tool", "antlr4", "--repeat", "0"},
			wantErr: "repeat must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(newCLIContext(t, tt.args...), log.NewLogger(log.DiscardHandler()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			cause, _ := RuntimeCauseOf(err)
			assert.Equal(t, tt.wantCause, cause)
		})
	}
}
