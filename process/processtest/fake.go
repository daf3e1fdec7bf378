// Package processtest provides a scripted process.ProcessRunner for tests.
package processtest

import (
	"context"
	"sync"

	"github.com/ethereum-optimism/infra/op-conformance/process"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// Response is what the fake returns for one command.
type Response struct {
	Result *types.CapturedProcessResult
	Err    error
	// Hook runs before the response is returned, e.g. to create files the
	// real command would have produced.
	Hook func(cmd process.Command)
}

// Runner answers commands by description. Commands without a scripted
// response succeed with empty output. It records every command it saw.
type Runner struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []process.Command
}

var _ process.ProcessRunner = (*Runner)(nil)

// NewRunner creates a fake runner.
func NewRunner() *Runner {
	return &Runner{responses: make(map[string]Response)}
}

// On scripts the response for commands with the given description.
func (r *Runner) On(description string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[description] = resp
	return r
}

// OnResult scripts a completed process with the given exit code and output.
// A non-zero exit gets the same failure marker the real runner appends.
func (r *Runner) OnResult(description string, exitCode int, stdout, stderr string) *Runner {
	if exitCode != 0 {
		stderr += process.FailureMessage(description, exitCode)
	}
	return r.On(description, Response{Result: &types.CapturedProcessResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}})
}

func (r *Runner) Run(ctx context.Context, cmd process.Command) (*types.CapturedProcessResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	resp, ok := r.responses[cmd.Description]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp.Hook != nil {
		resp.Hook(cmd)
	}
	if !ok || (resp.Result == nil && resp.Err == nil) {
		return &types.CapturedProcessResult{}, nil
	}
	if resp.Result == nil {
		return nil, resp.Err
	}
	res := *resp.Result
	return &res, resp.Err
}

// Calls returns the commands run so far, in order.
func (r *Runner) Calls() []process.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]process.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Descriptions returns the descriptions of the commands run so far, in order.
func (r *Runner) Descriptions() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Description
	}
	return out
}

// Find returns the last command run with the given description.
func (r *Runner) Find(description string) (process.Command, bool) {
	calls := r.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Description == description {
			return calls[i], true
		}
	}
	return process.Command{}, false
}
