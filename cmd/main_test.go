package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	conformance "github.com/ethereum-optimism/infra/op-conformance"
	"github.com/ethereum-optimism/infra/op-conformance/exitcodes"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

func TestExitCoder(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "runtime error",
			err:  fmt.Errorf("failed to setup: %w", conformance.NewRuntimeError(conformance.CauseConfig, errors.New("bad config"))),
			want: exitcodes.RuntimeErr,
		},
		{
			name: "case failures",
			err:  errors.Join(fmt.Errorf("failed to start: %w", conformance.NewTestFailureError(types.ResultStats{Total: 2, Failed: 1}))),
			want: exitcodes.TestFailure,
		},
		{
			name: "unclassified error",
			err:  errors.New("boom"),
			want: exitcodes.TestFailure,
		},
		{
			name: "explicit exit code",
			err:  cli.Exit("custom", 7),
			want: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitCoder(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ExitCode())
		})
	}

	assert.Nil(t, exitCoder(nil))
}

func TestNewApp(t *testing.T) {
	app := newApp()
	assert.Equal(t, "op-conformance", app.Name)
	assert.Contains(t, app.Version, Version)
	assert.NotNil(t, app.Action)
	assert.NotNil(t, app.ExitErrHandler)

	names := make(map[string]bool)
	for _, f := range app.Flags {
		names[f.Names()[0]] = true
	}
	for _, name := range []string{"tests", "runtime", "grammar-tool", "suite", "repeat", "log.level", "metrics.enabled"} {
		assert.True(t, names[name], "missing flag %s", name)
	}
}
