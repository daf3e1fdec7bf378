package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	conformance "github.com/ethereum-optimism/infra/op-conformance"
	"github.com/ethereum-optimism/infra/op-conformance/exitcodes"
	"github.com/ethereum-optimism/infra/op-conformance/flags"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-conformance"
	app.Usage = "Recognizer conformance harness for the D target"
	app.Description = "op-conformance generates recognizers for a catalogue of grammars, links them against the D runtime and compares what they print"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = exitErrHandler
	return app
}

func exitErrHandler(_ *cli.Context, err error) {
	cli.HandleExitCoder(exitCoder(err))
}

// exitCoder maps an application error to the process exit code.
func exitCoder(err error) cli.ExitCoder {
	if err == nil {
		return nil
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if conformance.IsRuntimeError(err) {
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}
	// Case failures and anything unclassified exit with 1.
	return cli.Exit(err.Error(), exitcodes.TestFailure)
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := conformance.NewConfig(ctx, log)
	if err != nil {
		// Exit with code 2, keeping a more specific cause when there is one
		return nil, conformance.AsRuntimeError(conformance.CauseConfig, fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	svc, err := conformance.New(cfg, Version, closeApp)
	if err != nil {
		return nil, conformance.AsRuntimeError(conformance.CauseConfig, fmt.Errorf("failed to create conformance runner: %w", err))
	}
	return svc, nil
}
