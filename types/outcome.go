package types

// Stage identifies one step of an execution.
type Stage string

const (
	StageGenerate     Stage = "generate"
	StageRuntimeBuild Stage = "runtime-build"
	StageSymlink      Stage = "symlink"
	StagePrepare      Stage = "prepare"
	StageCompile      Stage = "compile"
	StageRun          Stage = "run"
)

// ExecutionOutcome is the single result of one top-level execution.
//
// Output is nil when any stage failed or when the driver printed nothing;
// callers test for nil, not for the empty string. Diagnostic holds the most
// recent stderr capture even when the execution succeeded, since toolchains
// print warnings on a zero exit.
type ExecutionOutcome struct {
	Output     *string
	Diagnostic *string
	// FailedStage is empty when every stage ran and the driver exited
	// with status zero.
	FailedStage Stage
	// Interrupted is set when the command of the failed stage never ran to
	// completion, for instance because it hit its deadline.
	Interrupted bool
}

// HasOutput reports whether the execution produced output.
func (o *ExecutionOutcome) HasOutput() bool {
	return o != nil && o.Output != nil
}

// OutputString returns the output or "" when there is none.
func (o *ExecutionOutcome) OutputString() string {
	if o == nil || o.Output == nil {
		return ""
	}
	return *o.Output
}

// DiagnosticString returns the diagnostic or "" when there is none.
func (o *ExecutionOutcome) DiagnosticString() string {
	if o == nil || o.Diagnostic == nil {
		return ""
	}
	return *o.Diagnostic
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
