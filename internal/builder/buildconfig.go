package builder

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/qobs-build/qembed/internal/flags"
	"github.com/qobs-build/qembed/internal/platform"
	"github.com/qobs-build/qembed/internal/source"
)

// Build targets given on the command line
const (
	TargetNoBuild   = "nobuild"
	TargetIDEData   = "idedata"
	TargetCompileDB = "compiledb"
	TargetSize      = "checkprogsize"
	TargetDebug     = "debug"
)

var knownTargets = []string{TargetNoBuild, TargetIDEData, TargetCompileDB, TargetSize, TargetDebug}

// BuildConfig is the state of one environment while it moves through the
// build pipeline
type BuildConfig struct {
	ProjectDir string
	Project    ProjectSection
	EnvName    string
	Env        *EnvSection

	// absolute project directories
	SrcDir, IncludeDir, TestDir string
	// BuildDir is the build directory of this environment
	BuildDir string

	Platform     *platform.Platform
	Board        *platform.Board
	Toolchain    Toolchain
	CompilerType string

	// Flags is the active environment, every source group compiles with
	// its final state
	Flags  flags.Set
	Groups []*SourceGroup

	LDScript  string
	ProgName  string
	Targets   []string
	TestMode  bool
	BindMode  source.BindMode
	LinkGroup bool

	coreDir      string
	out          io.Writer
	debugUnflags []string
}

// SourceGroup is a set of collected sources compiled together, either into
// a static library or straight into the program
type SourceGroup struct {
	Name       string
	SrcDir     string
	VariantDir string
	Files      []source.File
	Library    bool
	// Project groups hold the sources of the project itself
	Project bool
	// Extra flags are applied on top of the active environment
	Extra flags.Batch
}

// HasTarget reports whether name was requested on the command line
func (cfg *BuildConfig) HasTarget(name string) bool {
	return slices.Contains(cfg.Targets, name)
}

// IsDebug reports whether debug information is requested
func (cfg *BuildConfig) IsDebug() bool {
	return cfg.Env.BuildType == BuildTypeDebug || cfg.HasTarget(TargetDebug)
}

// ProgramPath is the path of the linked program
func (cfg *BuildConfig) ProgramPath() string {
	return filepath.Join(cfg.BuildDir, cfg.ProgName)
}

// ScriptEnv returns the expression environment for templates of this build
func (cfg *BuildConfig) ScriptEnv() *ScriptEnv {
	return newScriptEnv(cfg.EnvName, cfg.Env.BuildType, cfg.Platform, cfg.Board)
}

// parser resolves relative paths against the project directory
func (cfg *BuildConfig) parser() flags.Parser {
	return flags.Parser{BaseDir: cfg.ProjectDir}
}

// BuildSources collects srcDir into variantDir and registers the result as
// a source group
func (cfg *BuildConfig) BuildSources(name, variantDir, srcDir string, filter source.Filter, extra flags.Batch, library bool) (*SourceGroup, error) {
	c, err := source.Collect(variantDir, srcDir, filter, cfg.BindMode)
	if err != nil {
		return nil, err
	}
	g := &SourceGroup{
		Name:       name,
		SrcDir:     srcDir,
		VariantDir: variantDir,
		Files:      c.Files,
		Library:    library,
		Extra:      extra,
	}
	cfg.Groups = append(cfg.Groups, g)
	return g, nil
}

// GroupFlags returns the flags a group compiles with
func (cfg *BuildConfig) GroupFlags(g *SourceGroup) flags.Set {
	s := cfg.Flags.Clone()
	s.ProcessFlags(g.Extra)
	return s
}

// ProjectFiles counts the sources of project groups
func (cfg *BuildConfig) ProjectFiles() int {
	n := 0
	for _, g := range cfg.Groups {
		if g.Project {
			n += len(g.Files)
		}
	}
	return n
}

type language int

const (
	langC language = iota
	langCXX
	langASM
)

func languageOf(path string) language {
	switch {
	case source.HasExt(path, []string{"cc", "cpp"}):
		return langCXX
	case source.HasExt(path, []string{"c"}):
		return langC
	default:
		return langASM
	}
}

// CompileArgs renders the compiler arguments of a source file, without the
// input and output
func CompileArgs(set *flags.Set, path string) []string {
	var args []string
	switch languageOf(path) {
	case langC:
		args = set.Args(flags.CFlags, flags.CCFlags, flags.CPPFlags)
	case langCXX:
		args = set.Args(flags.CXXFlags, flags.CCFlags, flags.CPPFlags)
	default:
		args = set.Args(flags.ASFlags, flags.CPPFlags)
	}
	args = append(args, set.DefineArgs()...)
	return append(args, set.IncludeArgs()...)
}

// compilerFor returns the driver compiling path, assembly goes through CC
func (cfg *BuildConfig) compilerFor(path string) (string, bool) {
	if languageOf(path) == langCXX {
		return cfg.Toolchain.CXX, true
	}
	return cfg.Toolchain.CC, false
}

// LinkArgs are the link flags placed before the objects
func (cfg *BuildConfig) LinkArgs() []string {
	return cfg.Flags.Args(flags.LinkFlags)
}

// LibArgs are the library paths and libraries placed after the objects.
// With LinkGroup the libraries are wrapped so that the linker resolves
// circular references between them.
func (cfg *BuildConfig) LibArgs() []string {
	var lib flags.Set
	lib.Batch[flags.Libs] = cfg.Flags.Batch[flags.Libs]
	libs := lib.LibArgs()

	args := make([]string, 0, len(cfg.Flags.Batch[flags.LibPaths])+len(libs)+2)
	for _, p := range cfg.Flags.Batch[flags.LibPaths] {
		args = append(args, "-L"+p.Key)
	}
	if cfg.LinkGroup && len(libs) > 0 {
		args = append(args, "-Wl,--start-group")
		args = append(args, libs...)
		return append(args, "-Wl,--end-group")
	}
	return append(args, libs...)
}

func programName(p *platform.Platform) string {
	if p.Name == "native" {
		if runtime.GOOS == "windows" {
			return "program.exe"
		}
		return "program"
	}
	return "firmware.elf"
}

func validateTargets(targets []string) error {
	for _, t := range targets {
		if !slices.Contains(knownTargets, t) {
			return fmt.Errorf("unknown target %q, known targets: %s", t, strings.Join(knownTargets, ", "))
		}
	}
	return nil
}
