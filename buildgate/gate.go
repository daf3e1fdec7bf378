// Package buildgate makes sure the shared native runtime is compiled at most
// once per process, no matter how many executions ask for it concurrently.
package buildgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-conformance/metrics"
	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// DefaultBuildTimeout bounds the one-time runtime build.
const DefaultBuildTimeout = 30 * time.Minute

// ErrRuntimeBuildFailed is wrapped by every error EnsureBuilt returns after
// the build failed.
var ErrRuntimeBuildFailed = errors.New("runtime build failed")

// Builder performs the actual runtime build.
type Builder interface {
	Build(ctx context.Context) error
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context) error

func (f BuilderFunc) Build(ctx context.Context) error {
	return f(ctx)
}

// Gate coordinates the shared runtime build. The zero value is not usable;
// create one with New and share it between all executions.
type Gate struct {
	builder Builder
	timeout time.Duration
	log     log.Logger

	// buildMu is held across the whole check-and-build sequence.
	buildMu sync.Mutex

	stateMu  sync.RWMutex
	state    types.BuildState
	buildErr error
	attempts int
}

// Config holds configuration for creating a new Gate
type Config struct {
	Builder Builder
	Timeout time.Duration // zero selects DefaultBuildTimeout
	Log     log.Logger
}

// New creates a gate in the unbuilt state.
func New(cfg Config) (*Gate, error) {
	if cfg.Builder == nil {
		return nil, fmt.Errorf("builder cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBuildTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	metrics.RecordBuildState(types.BuildStateUnbuilt)
	return &Gate{
		builder: cfg.Builder,
		timeout: cfg.Timeout,
		log:     cfg.Log.New("component", "build-gate"),
		state:   types.BuildStateUnbuilt,
	}, nil
}

// EnsureBuilt builds the runtime if nobody has done so yet and reports the
// outcome. The first caller runs the build while holding the gate; all other
// callers wait for it and then observe the recorded outcome. A failed build
// is never retried: every later call returns the same failure.
//
// The build runs detached from the first caller's cancellation, bounded by
// the gate's own timeout, because its outcome is shared by every execution.
func (g *Gate) EnsureBuilt(ctx context.Context) error {
	g.buildMu.Lock()
	defer g.buildMu.Unlock()

	if state, err := g.outcome(); state.Final() {
		return err
	}

	g.setState(types.BuildStateBuilding, nil)
	g.log.Info("Building runtime")

	buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	start := time.Now()
	err := g.build(buildCtx)
	duration := time.Since(start)
	metrics.RecordBuildDuration(duration)

	if err != nil {
		g.log.Error("Runtime build failed", "duration", duration, "err", err)
		metrics.RecordErrorDetails("runtime build", err)
		g.setState(types.BuildStateFailed, fmt.Errorf("%w: %w", ErrRuntimeBuildFailed, err))
	} else {
		g.log.Info("Runtime build succeeded", "duration", duration)
		g.setState(types.BuildStateSucceeded, nil)
	}

	_, recorded := g.outcome()
	return recorded
}

// build runs the builder, turning a panic into a failed build.
func (g *Gate) build(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("runtime build panicked: %v", rec)
		}
	}()
	g.stateMu.Lock()
	g.attempts++
	g.stateMu.Unlock()
	return g.builder.Build(ctx)
}

// State returns the current build state without waiting for an in-flight build.
func (g *Gate) State() types.BuildState {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.state
}

// Err returns the recorded build failure, or nil.
func (g *Gate) Err() error {
	_, err := g.outcome()
	return err
}

// Attempts returns how many times the builder was invoked. It never exceeds one.
func (g *Gate) Attempts() int {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.attempts
}

func (g *Gate) outcome() (types.BuildState, error) {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.state, g.buildErr
}

func (g *Gate) setState(state types.BuildState, err error) {
	g.stateMu.Lock()
	g.state = state
	g.buildErr = err
	g.stateMu.Unlock()
	metrics.RecordBuildState(state)
}
