package builder

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qobs-build/qembed/internal/flags"
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/qobs-build/qembed/internal/platform"
	"github.com/qobs-build/qembed/internal/source"
	"github.com/qobs-build/qembed/internal/version"
)

var ErrNothingToBuild = errors.New("nothing to build")

// Stage is one step of the build pipeline
type Stage func(*BuildConfig) (*BuildConfig, error)

// pipeline lists the configuration stages in order
var pipeline = []Stage{
	loadPlatform,
	appendMacros,
	printConfiguration,
	processDebug,
	processBoardFlags,
	processUserFlags,
	buildFrameworks,
	appendMacros, // frameworks may replace defines
	processUnflags,
	collectSources,
	prepareLink,
}

func runPipeline(cfg *BuildConfig, stages []Stage) (*BuildConfig, error) {
	var err error
	for _, stage := range stages {
		if cfg, err = stage(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func loadPlatform(cfg *BuildConfig) (*BuildConfig, error) {
	p, err := platform.Load(cfg.coreDir, cfg.Env.Platform)
	if err != nil {
		return nil, err
	}
	cfg.Platform = p
	if missing := p.MissingPackages(); len(missing) > 0 {
		msg.Warn("platform %q is missing packages: %s (run `qembed platform install %s`)",
			p.Name, strings.Join(missing, ", "), p.Name)
	}

	if cfg.Env.Board != "" {
		board, err := p.LoadBoard(cfg.Env.Board)
		if err != nil {
			return nil, err
		}
		for _, key := range slices.Sorted(maps.Keys(cfg.Env.BoardOverrides)) {
			board.Update(key, cfg.Env.BoardOverrides[key])
		}
		cfg.Board = board
		cfg.LDScript = board.GetString("build.ldscript")
	}

	cfg.Toolchain = resolveToolchain(p, p.ToolPaths())
	cfg.ProgName = programName(p)

	if dir := p.LDScriptsDir(); dir != "" {
		cfg.Flags.Batch[flags.LibPaths] = append([]flags.Flag{flags.Scalar(dir)}, cfg.Flags.Batch[flags.LibPaths]...)
	}

	env := cfg.ScriptEnv()
	parser := flags.Parser{BaseDir: p.Dir}

	base, err := evaluateStrings(p.Build.Flags, env)
	if err != nil {
		return nil, fmt.Errorf("platform %q flags: %w", p.Name, err)
	}
	cfg.Flags.ProcessFlags(parser.Parse(base...))

	link, err := evaluateStrings(p.Build.LinkFlags, env)
	if err != nil {
		return nil, fmt.Errorf("platform %q link flags: %w", p.Name, err)
	}
	for _, s := range link {
		for _, arg := range strings.Fields(s) {
			cfg.Flags.Append(flags.LinkFlags, flags.Scalar(arg))
		}
	}

	unflags, err := evaluateStrings(p.Build.Unflags, env)
	if err != nil {
		return nil, fmt.Errorf("platform %q unflags: %w", p.Name, err)
	}
	cfg.Flags.ProcessUnFlags(parser.Parse(unflags...))

	return cfg, nil
}

func appendMacros(cfg *BuildConfig) (*BuildConfig, error) {
	cfg.Flags.AppendUnique(flags.Defines, flags.Pair("QEMBED", int64(version.Macro(version.Version))))
	return cfg, nil
}

func printConfiguration(cfg *BuildConfig) (*BuildConfig, error) {
	if cfg.out != nil {
		platform.Summary(cfg.out, cfg.Platform, cfg.Board, cfg.Env.DebugTool)
	}
	return cfg, nil
}

func isOptimizationFlag(f flags.Flag) bool {
	return !f.IsPair() && (strings.HasPrefix(f.Key, "-O") || strings.HasPrefix(f.Key, "-g"))
}

func processDebug(cfg *BuildConfig) (*BuildConfig, error) {
	if !cfg.IsDebug() {
		return cfg, nil
	}

	cfg.Flags.Remove(flags.CCFlags, isOptimizationFlag)
	cfg.Flags.Remove(flags.LinkFlags, isOptimizationFlag)

	debug := cfg.parser().Parse(cfg.Env.DebugBuildFlags...)
	cfg.Flags.ProcessFlags(debug)
	cfg.Flags.Append(flags.LinkFlags, debug.Get(flags.CCFlags)...)
	cfg.Flags.AppendUnique(flags.Defines, flags.Scalar("__QEMBED_BUILD_DEBUG__"))

	// optimization levels added later by the board, the user or a
	// framework are dropped again by processUnflags
	cfg.debugUnflags = nil
	if !slices.Contains(cfg.Env.DebugBuildFlags, "-Os") {
		cfg.debugUnflags = append(cfg.debugUnflags, "-Os")
	}
	for level := range 4 {
		for _, f := range []string{"-O", "-g", "-ggdb"} {
			flag := fmt.Sprintf("%s%d", f, level)
			if !slices.Contains(cfg.Env.DebugBuildFlags, flag) {
				cfg.debugUnflags = append(cfg.debugUnflags, flag)
			}
		}
	}
	return cfg, nil
}

func processBoardFlags(cfg *BuildConfig) (*BuildConfig, error) {
	if cfg.Board == nil {
		return cfg, nil
	}
	extra := cfg.Board.GetString("build.extra_flags")
	if extra == "" {
		return cfg, nil
	}
	extra, err := evaluateString(extra, cfg.ScriptEnv())
	if err != nil {
		return nil, fmt.Errorf("board %q extra flags: %w", cfg.Board.ID, err)
	}
	cfg.Flags.ProcessFlags(cfg.parser().Parse(extra))
	return cfg, nil
}

func processUserFlags(cfg *BuildConfig) (*BuildConfig, error) {
	cfg.Flags.ProcessFlags(cfg.parser().Parse(cfg.Env.BuildFlags...))
	return cfg, nil
}

func buildFrameworks(cfg *BuildConfig) (*BuildConfig, error) {
	frameworks := cfg.Env.Framework
	if len(frameworks) == 0 {
		return cfg, nil
	}

	if cfg.Board == nil {
		return nil, fmt.Errorf("%w: please specify `board` in env %q to use with %s framework",
			ErrBoardRequired, cfg.EnvName, strings.Join(frameworks, ", "))
	}

	boardFrameworks := cfg.Board.Frameworks
	if len(frameworks) == 1 && frameworks[0] == DefaultFramework {
		if len(boardFrameworks) == 0 {
			return nil, fmt.Errorf("%w: board %q has no default framework", ErrBoardRequired, cfg.Board.ID)
		}
		frameworks = boardFrameworks[:1]
	}

	registry, err := NewFrameworkRegistry(cfg.Platform)
	if err != nil {
		return nil, err
	}

	for _, name := range frameworks {
		name = strings.ToLower(strings.TrimSpace(name))
		if !slices.Contains(boardFrameworks, name) {
			return nil, fmt.Errorf("%w: board %q does not support %q framework", ErrUnsupportedFramework, cfg.Board.ID, name)
		}
		fw, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("%w: platform %q has no build script for %q", ErrUnsupportedFramework, cfg.Platform.Name, name)
		}
		if err := fw.Build(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func processUnflags(cfg *BuildConfig) (*BuildConfig, error) {
	unflags := append(slices.Clone(cfg.Env.BuildUnflags), cfg.debugUnflags...)
	cfg.Flags.ProcessUnFlags(cfg.parser().Parse(unflags...))
	return cfg, nil
}

func collectSources(cfg *BuildConfig) (*BuildConfig, error) {
	p := cfg.parser()
	extra := p.Parse(cfg.Env.SrcBuildFlags...)
	if dirExists(cfg.IncludeDir) {
		extra.Append(flags.IncludePaths, flags.Scalar(cfg.IncludeDir))
	}
	extra.Append(flags.IncludePaths, flags.Scalar(cfg.SrcDir))

	if cfg.TestMode {
		testExtra := extra.Clone()
		testExtra.Append(flags.IncludePaths, flags.Scalar(cfg.TestDir))
		g, err := cfg.BuildSources("test", filepath.Join(cfg.BuildDir, "test"), cfg.TestDir,
			source.ParseFilter(cfg.Env.TestFilter...), testExtra, false)
		if err != nil {
			return nil, err
		}
		g.Project = true
	}

	if !cfg.TestMode || cfg.Env.TestBuildProjectSrc {
		g, err := cfg.BuildSources("src", filepath.Join(cfg.BuildDir, "src"), cfg.SrcDir,
			source.ParseFilter(cfg.Env.SrcFilter...), extra, false)
		if err != nil {
			return nil, err
		}
		g.Project = true
	}

	if cfg.ProjectFiles() == 0 && len(cfg.Targets) == 0 {
		dir := cfg.SrcDir
		if cfg.TestMode {
			dir = cfg.TestDir
		}
		return nil, fmt.Errorf("%w, please put your source code files to %q folder", ErrNothingToBuild, dir)
	}
	return cfg, nil
}

func prepareLink(cfg *BuildConfig) (*BuildConfig, error) {
	cfg.CompilerType = cfg.Toolchain.CompilerType()

	if cfg.LDScript != "" {
		custom := slices.ContainsFunc(cfg.Flags.Batch[flags.LinkFlags], func(f flags.Flag) bool {
			return strings.HasPrefix(f.Key, "-Wl,-T")
		})
		if !custom {
			cfg.Flags.Batch[flags.LinkFlags] = append([]flags.Flag{flags.Pair("-T", cfg.LDScript)}, cfg.Flags.Batch[flags.LinkFlags]...)
		}
	}

	cfg.LinkGroup = cfg.CompilerType == CompilerGCC
	return cfg, nil
}

func dirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
