package conformance

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// RuntimeCause says which part of the harness could not do its job.
type RuntimeCause string

const (
	CauseConfig       RuntimeCause = "config"        // invalid flags or settings
	CauseCatalogue    RuntimeCause = "catalogue"     // catalogue missing, unreadable or invalid
	CauseRuntime      RuntimeCause = "runtime"       // runtime checkout missing or malformed
	CauseRuntimeBuild RuntimeCause = "runtime-build" // the shared runtime build failed
	CauseService      RuntimeCause = "service"       // healthz or metrics server
	CauseRun          RuntimeCause = "run"           // the run was cancelled or could not be set up
)

// RuntimeError is a harness failure, as opposed to cases that did not pass.
// It exits with code 2.
type RuntimeError struct {
	Cause RuntimeCause
	Err   error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error (%s): %v", e.Cause, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(cause RuntimeCause, err error) *RuntimeError {
	return &RuntimeError{Cause: cause, Err: err}
}

// AsRuntimeError returns err unchanged when it already carries a cause and
// wraps it with cause otherwise.
func AsRuntimeError(cause RuntimeCause, err error) error {
	if err == nil || IsRuntimeError(err) {
		return err
	}
	return NewRuntimeError(cause, err)
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// RuntimeCauseOf returns the cause of the outermost RuntimeError in err.
func RuntimeCauseOf(err error) (RuntimeCause, bool) {
	var runtimeErr *RuntimeError
	if err == nil || !errors.As(err, &runtimeErr) {
		return "", false
	}
	return runtimeErr.Cause, true
}

// TestFailureError reports cases that failed or errored (exit code 1).
type TestFailureError struct {
	Failed  int
	Errored int
	Total   int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %d of %d cases did not pass (%d failed, %d errored)",
		e.Failed+e.Errored, e.Total, e.Failed, e.Errored)
}

// NewTestFailureError creates a TestFailureError from the stats of a run.
func NewTestFailureError(stats types.ResultStats) *TestFailureError {
	return &TestFailureError{Failed: stats.Failed, Errored: stats.Errored, Total: stats.Total}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
