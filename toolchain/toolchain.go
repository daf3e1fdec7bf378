// Package toolchain knows how to invoke the D toolchain: the compiler, the
// package tool that builds the runtime, and the binaries they produce.
package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"golang.org/x/mod/semver"

	"github.com/ethereum-optimism/infra/op-conformance/process"
)

const (
	DefaultCompiler       = "ldc2"
	DefaultPackageTool    = "dub"
	DefaultBuildProfile   = "release"
	DefaultRuntimeLibrary = "antlr-d"

	// MinCompilerVersion is the oldest compiler the runtime is known to build with.
	MinCompilerVersion = "v1.20.0"

	// BinaryName is the name of the linked driver binary.
	BinaryName = "test"
	// InputFileName is the name of the file holding the literal test input.
	InputFileName = "input"
)

// Descriptions used for process runs; they end up in failure markers.
const (
	DescVersion      = "printing compiler version"
	DescRuntimeBuild = "compiling D runtime"
	DescListLibrary  = "printing library folder content"
	DescSymlink      = "sym linking D runtime"
	DescCompileLink  = "building test binary"
	DescRun          = "running test binary"
)

var versionRegex = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)(-[0-9A-Za-z.-]+)?`)

// Toolchain describes the compiler and runtime used for every execution.
type Toolchain struct {
	Compiler       string
	PackageTool    string
	BuildProfile   string
	RuntimeLibrary string
	// RuntimeDir is the absolute path of the runtime checkout. It contains
	// source/ and, once built, lib/.
	RuntimeDir string
	// GOOS selects platform specific behaviour; empty means runtime.GOOS.
	GOOS string
}

// WithDefaults fills unset fields.
func (t Toolchain) WithDefaults() Toolchain {
	if t.Compiler == "" {
		t.Compiler = DefaultCompiler
	}
	if t.PackageTool == "" {
		t.PackageTool = DefaultPackageTool
	}
	if t.BuildProfile == "" {
		t.BuildProfile = DefaultBuildProfile
	}
	if t.RuntimeLibrary == "" {
		t.RuntimeLibrary = DefaultRuntimeLibrary
	}
	if t.GOOS == "" {
		t.GOOS = runtime.GOOS
	}
	return t
}

// IncludeDir is where the runtime's module sources live.
func (t Toolchain) IncludeDir() string {
	return filepath.Join(t.RuntimeDir, "source")
}

// LibDir is where the built runtime library ends up.
func (t Toolchain) LibDir() string {
	return filepath.Join(t.RuntimeDir, "lib")
}

// SharedLibraryPath is the path of the built shared runtime library.
func (t Toolchain) SharedLibraryPath() string {
	return filepath.Join(t.LibDir(), fmt.Sprintf("lib%s.%s", t.RuntimeLibrary, SharedLibraryExtension(t.GOOS)))
}

// NeedsSymlink reports whether the shared library has to be linked into the
// work directory to be found at load time.
func (t Toolchain) NeedsSymlink() bool {
	return t.GOOS == "darwin"
}

// VersionCommand queries the compiler version.
func (t Toolchain) VersionCommand(workDir string) process.Command {
	return process.Command{
		Args:        []string{t.Compiler, "--version"},
		Dir:         workDir,
		Description: DescVersion,
	}
}

// RuntimeBuildCommand builds the runtime in its source tree.
func (t Toolchain) RuntimeBuildCommand() process.Command {
	return process.Command{
		Args:        []string{t.PackageTool, "--build=" + t.BuildProfile, "--compiler=" + t.Compiler},
		Dir:         t.RuntimeDir,
		Description: DescRuntimeBuild,
	}
}

// ListLibraryCommand lists the runtime library folder.
func (t Toolchain) ListLibraryCommand() process.Command {
	return process.Command{
		Args:        []string{"ls", "-la"},
		Dir:         t.LibDir(),
		Description: DescListLibrary,
	}
}

// SymlinkCommand links the shared runtime library into workDir.
func (t Toolchain) SymlinkCommand(workDir string) process.Command {
	return process.Command{
		Args:        []string{"ln", "-s", t.SharedLibraryPath()},
		Dir:         workDir,
		Description: DescSymlink,
	}
}

// CompileLinkCommand compiles sources, relative to workDir, into the driver
// binary linked against the runtime.
func (t Toolchain) CompileLinkCommand(workDir string, sources []string) process.Command {
	args := []string{
		t.Compiler,
		"-link-defaultlib-shared",
		"-I", t.IncludeDir(),
		"-L-L" + t.LibDir(),
		"-L-l" + t.RuntimeLibrary,
		"-of", BinaryName,
	}
	for _, src := range sources {
		args = append(args, filepath.Join(workDir, src))
	}
	return process.Command{
		Args:        args,
		Dir:         workDir,
		Description: DescCompileLink,
	}
}

// RunCommand runs the linked binary on the input file.
func (t Toolchain) RunCommand(workDir string) process.Command {
	return process.Command{
		Args: []string{
			filepath.Join(workDir, BinaryName),
			filepath.Join(workDir, InputFileName),
			"-v",
		},
		Dir:         workDir,
		Env:         t.LibraryPathEnv(),
		Description: DescRun,
	}
}

// LibraryPathEnv points the dynamic loader at the runtime library.
func (t Toolchain) LibraryPathEnv() []string {
	env := []string{"LD_LIBRARY_PATH=" + t.LibDir()}
	if t.GOOS == "darwin" {
		env = append(env, "DYLD_LIBRARY_PATH="+t.LibDir())
	}
	return env
}

// SharedLibraryExtension returns the shared library extension for goos.
func SharedLibraryExtension(goos string) string {
	switch goos {
	case "darwin":
		return "dylib"
	case "windows":
		return "dll"
	default:
		return "so"
	}
}

// ParseCompilerVersion extracts the first semantic version from a compiler
// version banner, e.g. "LDC - the LLVM D compiler (1.32.0):" gives "v1.32.0".
func ParseCompilerVersion(banner string) (string, error) {
	m := versionRegex.FindString(banner)
	if m == "" {
		return "", fmt.Errorf("no version found in compiler banner")
	}
	v := "v" + m
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid compiler version %q", m)
	}
	return v, nil
}

// CheckMinimumVersion returns an error when version is older than minimum.
func CheckMinimumVersion(version, minimum string) error {
	if !semver.IsValid(version) {
		return fmt.Errorf("invalid version %q", version)
	}
	if !semver.IsValid(minimum) {
		return fmt.Errorf("invalid minimum version %q", minimum)
	}
	if semver.Compare(version, minimum) < 0 {
		return fmt.Errorf("compiler version %s is older than %s", version, minimum)
	}
	return nil
}

// LocateRuntime validates a runtime checkout and returns its absolute path.
func LocateRuntime(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("runtime path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve runtime path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot find runtime: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("runtime path %s is not a directory", abs)
	}
	src, err := os.Stat(filepath.Join(abs, "source"))
	if err != nil || !src.IsDir() {
		return "", fmt.Errorf("runtime at %s has no source directory", abs)
	}
	return abs, nil
}
