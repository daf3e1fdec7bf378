package process

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LaunchError is returned when a command could not be started at all, for
// example because the executable does not exist.
type LaunchError struct {
	Description string
	Args        []string
	Err         error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch '%s' (%s): %v", e.Description, strings.Join(e.Args, " "), e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsLaunchError checks if the error is or wraps a LaunchError
func IsLaunchError(err error) bool {
	var launchErr *LaunchError
	return err != nil && errors.As(err, &launchErr)
}

// TimeoutError is returned when a command exceeded its deadline and was killed.
type TimeoutError struct {
	Description string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	return TimeoutMessage(e.Description, e.Timeout)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError
func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return err != nil && errors.As(err, &timeoutErr)
}

// FailureMessage is appended to the stderr capture of a process that exited
// with a non-zero code.
func FailureMessage(description string, exitCode int) string {
	return fmt.Sprintf("execution of '%s' failed with error code: %d", description, exitCode)
}

// TimeoutMessage is appended to the stderr capture of a process that was
// killed after its deadline.
func TimeoutMessage(description string, timeout time.Duration) string {
	return fmt.Sprintf("execution of '%s' timed out after %s", description, timeout)
}
