package runner

import "time"

const (
	// DefaultCommandTimeout bounds each compile, link and run command.
	DefaultCommandTimeout = 5 * time.Minute

	// DefaultCaseTimeout bounds one case, generation included.
	DefaultCaseTimeout = 10 * time.Minute

	// MaxReasonableConcurrency caps auto-determined concurrency to avoid resource exhaustion
	MaxReasonableConcurrency = 32

	// DiagnosticRuntimeBuildFailed is the diagnostic of every execution
	// that depends on a failed runtime build.
	DiagnosticRuntimeBuildFailed = "runtime build failed"

	// WorkDirPattern names per-case work directories.
	WorkDirPattern = "case-*"
)
