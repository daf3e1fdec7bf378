package types

import "time"

// CapturedProcessResult is what one external process produced.
type CapturedProcessResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Success reports whether the process exited with status zero and did not time out.
func (r *CapturedProcessResult) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}
