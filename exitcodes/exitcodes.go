// Package exitcodes defines the exit codes of op-conformance.
package exitcodes

// * Success (0): every case passed or was skipped
// * TestFailure (1): one or more cases failed or errored
// * RuntimeErr (2): the harness itself could not run: bad configuration,
// a missing runtime or catalogue, a failed runtime build, panics
const (
	Success     = 0 // All cases pass
	TestFailure = 1 // Case failures
	RuntimeErr  = 2 // Runtime errors
)
