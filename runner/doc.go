// Package runner turns generated recognizer sources into an executed,
// observed result.
//
// The main components are:
//   - Executor: builds the runtime once, compiles and links a synthesized
//     driver against it, runs the binary and folds the stages into an
//     ExecutionOutcome
//   - Harness: the test-case facing API; runs the grammar generator and then
//     the Executor inside one work directory
//   - SuiteRunner: runs catalogued cases concurrently and compares what they
//     printed against expectations
package runner
