package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner() *Runner {
	return NewRunner(Config{Log: log.NewLogger(log.DiscardHandler()), KillGrace: 200 * time.Millisecond})
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestRunCapturesBothStreams(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	result, err := r.Run(context.Background(), Command{
		Args:        sh("echo out; echo err >&2"),
		Description: "both streams",
		Timeout:     30 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.False(t, result.TimedOut)
	assert.True(t, result.Success())
}

func TestRunNonZeroExitAppendsMarker(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	result, err := r.Run(context.Background(), Command{
		Args:        sh("echo partial; echo oops >&2; exit 3"),
		Description: "building test binary",
		Timeout:     30 * time.Second,
	})
	require.NoError(t, err, "a non-zero exit is reported in the result, not as an error")
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "partial\n", result.Stdout)
	assert.Equal(t, "oops\nexecution of 'building test binary' failed with error code: 3", result.Stderr)
	assert.False(t, result.Success())
}

func TestRunNonZeroExitWithoutStderr(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	result, err := r.Run(context.Background(), Command{
		Args:        sh("exit 1"),
		Description: "quiet failure",
	})
	require.NoError(t, err)
	assert.Equal(t, "execution of 'quiet failure' failed with error code: 1", result.Stderr)
}

func TestRunLargeOutputDoesNotDeadlock(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	const size = 1024 * 1024
	tests := []struct {
		name   string
		script string
		stdout int
		stderr int
	}{
		{
			name:   "1MB on stderr",
			script: "head -c 1048576 /dev/zero | tr '\\000' x >&2",
			stderr: size,
		},
		{
			name:   "1MB on stdout",
			script: "head -c 1048576 /dev/zero | tr '\\000' x",
			stdout: size,
		},
		{
			name:   "1MB on both",
			script: "head -c 1048576 /dev/zero | tr '\\000' x >&2; head -c 1048576 /dev/zero | tr '\\000' y",
			stdout: size,
			stderr: size,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.Run(context.Background(), Command{
				Args:        sh(tt.script),
				Description: tt.name,
				Timeout:     60 * time.Second,
			})
			require.NoError(t, err)
			assert.Equal(t, 0, result.ExitCode)
			assert.Len(t, result.Stdout, tt.stdout)
			assert.Len(t, result.Stderr, tt.stderr)
		})
	}
}

func TestRunLaunchFailure(t *testing.T) {
	r := newTestRunner()

	result, err := r.Run(context.Background(), Command{
		Args:        []string{filepath.Join(t.TempDir(), "does-not-exist")},
		Description: "missing binary",
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsLaunchError(err))
	assert.Contains(t, err.Error(), "missing binary")
}

func TestRunEmptyCommand(t *testing.T) {
	r := newTestRunner()

	_, err := r.Run(context.Background(), Command{Description: "nothing"})
	require.Error(t, err)
	assert.True(t, IsLaunchError(err))
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	start := time.Now()
	result, err := r.Run(context.Background(), Command{
		Args:        sh("echo before; sleep 30"),
		Description: "hanging test binary",
		Timeout:     300 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, IsTimeoutError(err))
	assert.Less(t, time.Since(start), 10*time.Second)

	require.NotNil(t, result)
	assert.True(t, result.TimedOut)
	assert.Equal(t, "before\n", result.Stdout)
	assert.Contains(t, result.Stderr, "execution of 'hanging test binary' timed out after 300ms")
}

func TestRunTimeoutWhenGrandchildHoldsPipe(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	// The shell exits at once but the background sleep keeps stdout open.
	start := time.Now()
	result, err := r.Run(context.Background(), Command{
		Args:        sh("sleep 30 & echo started"),
		Description: "leaky child",
		Timeout:     300 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, IsTimeoutError(err))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, "started\n", result.Stdout)
}

func TestRunCancelledContext(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	result, err := r.Run(ctx, Command{
		Args:        sh("sleep 30"),
		Description: "cancelled",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeoutError(err))
	assert.True(t, result.TimedOut)
}

func TestRunUsesDirAndEnv(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	result, err := r.Run(context.Background(), Command{
		Args:        sh("pwd; echo $CONFORMANCE_TEST_VAR"),
		Dir:         dir,
		Env:         []string{"CONFORMANCE_TEST_VAR=runtime/lib"},
		Description: "env",
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	require.Len(t, lines, 2)
	got, err := filepath.EvalSymlinks(lines[0])
	require.NoError(t, err)
	assert.Equal(t, resolved, got)
	assert.Equal(t, "runtime/lib", lines[1])
}

func TestCommandString(t *testing.T) {
	c := Command{Args: []string{"ldc2", "-of", "test", "Test.d"}}
	assert.Equal(t, "ldc2 -of test Test.d", c.String())
}
