package toolchain

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-conformance/buildgate"
	"github.com/ethereum-optimism/infra/op-conformance/process"
)

var _ buildgate.Builder = (*RuntimeBuilder)(nil)

// RuntimeBuilderConfig holds configuration for creating a new RuntimeBuilder
type RuntimeBuilderConfig struct {
	Toolchain Toolchain
	Runner    process.ProcessRunner
	Log       log.Logger
}

// RuntimeBuilder builds the runtime with the package tool. It is meant to
// sit behind a buildgate.Gate, which makes sure it runs once.
type RuntimeBuilder struct {
	toolchain Toolchain
	runner    process.ProcessRunner
	log       log.Logger
}

// NewRuntimeBuilder creates a new runtime builder
func NewRuntimeBuilder(cfg RuntimeBuilderConfig) (*RuntimeBuilder, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("process runner cannot be nil")
	}
	if cfg.Toolchain.RuntimeDir == "" {
		return nil, fmt.Errorf("runtime directory cannot be empty")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &RuntimeBuilder{
		toolchain: cfg.Toolchain.WithDefaults(),
		runner:    cfg.Runner,
		log:       cfg.Log.New("component", "runtime-builder"),
	}, nil
}

// Build reports the compiler version, then builds the runtime. When the
// build fails the library folder is listed into the log.
func (b *RuntimeBuilder) Build(ctx context.Context) error {
	b.logCompilerVersion(ctx)

	b.log.Info("Building D runtime", "dir", b.toolchain.RuntimeDir, "profile", b.toolchain.BuildProfile)
	start := time.Now()
	res, err := b.runner.Run(ctx, b.toolchain.RuntimeBuildCommand())
	if err == nil && !res.Success() {
		err = fmt.Errorf("%s", lastLine(res.Stderr))
	}
	if err != nil {
		b.log.Error("Can't compile D runtime", "err", err)
		if res != nil && res.Stderr != "" {
			b.log.Debug("Runtime build stderr", "stderr", res.Stderr)
		}
		b.listLibrary(ctx)
		return fmt.Errorf("failed to build runtime at %s: %w", b.toolchain.RuntimeDir, err)
	}

	if _, err := os.Stat(b.toolchain.SharedLibraryPath()); err != nil {
		b.log.Warn("Shared runtime library not found after build", "path", b.toolchain.SharedLibraryPath())
	}
	b.log.Info("D runtime build succeeded", "duration", time.Since(start))
	return nil
}

func (b *RuntimeBuilder) logCompilerVersion(ctx context.Context) {
	res, err := b.runner.Run(ctx, b.toolchain.VersionCommand(b.toolchain.RuntimeDir))
	if err != nil || !res.Success() {
		b.log.Warn("Can't get compiler version", "compiler", b.toolchain.Compiler, "err", err)
		return
	}
	version, err := ParseCompilerVersion(res.Stdout)
	if err != nil {
		b.log.Warn("Can't parse compiler version", "err", err)
		return
	}
	b.log.Info("Compiler version", "compiler", b.toolchain.Compiler, "version", version)
	if err := CheckMinimumVersion(version, MinCompilerVersion); err != nil {
		b.log.Warn("Compiler may be too old for the runtime", "err", err)
	}
}

func (b *RuntimeBuilder) listLibrary(ctx context.Context) {
	res, err := b.runner.Run(ctx, b.toolchain.ListLibraryCommand())
	if err != nil {
		b.log.Error("Can't even list folder content", "dir", b.toolchain.LibDir(), "err", err)
		return
	}
	b.log.Info("Runtime library folder", "dir", b.toolchain.LibDir(), "content", res.Stdout)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}
