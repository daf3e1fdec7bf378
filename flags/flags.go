package flags

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_CONFORMANCE"

// BuildProfiles are the dub build types accepted for the runtime build.
var BuildProfiles = []string{"release", "debug", "plain", "release-debug", "release-nobounds"}

var (
	Tests = &cli.StringFlag{
		Name:     "tests",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "TESTS"),
		Usage:    "Path to the case catalogue (eg. 'conformance.yaml' or 'conformance.toml')",
	}
	Runtime = &cli.StringFlag{
		Name:     "runtime",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "RUNTIME"),
		Usage:    "Path to the D runtime checkout the drivers link against",
	}
	GrammarTool = &cli.StringFlag{
		Name:     "grammar-tool",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "GRAMMAR_TOOL"),
		Usage:    "Grammar tool used to generate recognizers: a path to the tool jar or a command line",
	}
	Suite = &cli.StringSliceFlag{
		Name:    "suite",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUITE"),
		Usage:   "Only run cases of these suites. May be repeated. Empty runs every suite.",
	}
	Compiler = &cli.StringFlag{
		Name:    "compiler",
		Value:   "ldc2",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMPILER"),
		Usage:   "D compiler used to build the runtime and link the drivers",
	}
	PackageTool = &cli.StringFlag{
		Name:    "package-tool",
		Value:   "dub",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PACKAGE_TOOL"),
		Usage:   "Package tool used to build the runtime",
	}
	BuildProfile = &cli.StringFlag{
		Name:    "build-profile",
		Value:   "release",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILD_PROFILE"),
		Usage:   fmt.Sprintf("Build profile of the runtime. One of: %s", strings.Join(BuildProfiles, ", ")),
		Action: func(_ *cli.Context, v string) error {
			return validateBuildProfile(v)
		},
	}
	WorkDir = &cli.StringFlag{
		Name:    "work-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORK_DIR"),
		Usage:   "Parent directory of the per-case work directories. Defaults to a directory under the system temp dir.",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory to store per-case logs and the run summary",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   10 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Default timeout of a single case, generation included. Cases may override it.",
	}
	CommandTimeout = &cli.DurationFlag{
		Name:    "command-timeout",
		Value:   5 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMMAND_TIMEOUT"),
		Usage:   "Timeout of each external command (generate, compile and link, run)",
	}
	BuildTimeout = &cli.DurationFlag{
		Name:    "build-timeout",
		Value:   30 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILD_TIMEOUT"),
		Usage:   "Timeout of the one-time runtime build",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of cases run at once (0 = number of CPUs, capped at 32)",
	}
	Serial = &cli.BoolFlag{
		Name:    "serial",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERIAL"),
		Usage:   "Run cases one at a time",
	}
	Repeat = &cli.IntFlag{
		Name:    "repeat",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPEAT"),
		Usage:   "Run every case this many times and fail cases whose attempts disagree",
		Action: func(_ *cli.Context, v int) error {
			if v < 1 {
				return fmt.Errorf("repeat must be at least 1, got %d", v)
			}
			return nil
		},
	}
	KeepWorkDirs = &cli.BoolFlag{
		Name:    "keep-work-dirs",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "KEEP_WORK_DIRS"),
		Usage:   "Keep the per-case work directories for inspection",
	}
	ShowStderr = &cli.BoolFlag{
		Name:    "show-stderr",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_STDERR"),
		Usage:   "Log the stderr capture of every external command",
	}
	Healthz = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the healthz server (eg. '0.0.0.0:8080'). Empty disables it.",
	}
)

var requiredFlags = []cli.Flag{
	Tests,
	Runtime,
	GrammarTool,
}

var optionalFlags = []cli.Flag{
	Suite,
	Compiler,
	PackageTool,
	BuildProfile,
	WorkDir,
	LogDir,
	Timeout,
	CommandTimeout,
	BuildTimeout,
	Concurrency,
	Serial,
	Repeat,
	KeepWorkDirs,
	ShowStderr,
	Healthz,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}

func validateBuildProfile(v string) error {
	if !slices.Contains(BuildProfiles, v) {
		return fmt.Errorf("build-profile must be one of: %s", strings.Join(BuildProfiles, ", "))
	}
	return nil
}
