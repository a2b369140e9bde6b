// Package builder drives a project build: it reads qembed.toml, runs every
// selected environment through the configuration pipeline and compiles the
// result with a generator.
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/qobs-build/qembed/internal/builder/gen"
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/qobs-build/qembed/internal/platform"
	"github.com/qobs-build/qembed/internal/source"
)

var errCantRunCross = errors.New("only programs of the native platform can be run")

const (
	GeneratorNinja  = "ninja"
	GeneratorQembed = "qembed"
)

// Options control a build
type Options struct {
	// Envs selects environments, empty means default_envs or all
	Envs      []string
	Targets   []string
	Generator string
	Jobs      int
	Verbose   bool
	// TestMode builds test_dir instead of src_dir
	TestMode bool
	// CompilerMacros adds the compiler built-in macros to IDE data
	CompilerMacros bool
	BindMode       source.BindMode
}

type Builder struct {
	cfg     *Config
	basedir string
	coreDir string
	// Out receives command output: configuration summaries, IDE data, sizes
	Out io.Writer
}

func NewBuilderInDirectory(path string) (*Builder, error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfigFromFile(filepath.Join(path, ConfigFilename), NewConfigEnv())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("not a qembed project, %s not found in %s", ConfigFilename, path)
		}
		return nil, err
	}

	coreDir, err := platform.CoreDir(cfg.Project.CoreDir)
	if err != nil {
		return nil, err
	}

	return &Builder{cfg: cfg, basedir: path, coreDir: coreDir, Out: os.Stdout}, nil
}

func (b *Builder) Config() *Config { return b.cfg }

func (b *Builder) Dir() string { return b.basedir }

func (b *Builder) CoreDir() string { return b.coreDir }

func (b *Builder) projectPath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(b.basedir, p)
}

// EnvBuildDir is the build directory of an environment
func (b *Builder) EnvBuildDir(env string) string {
	return filepath.Join(b.projectPath(b.cfg.Project.BuildDir), env)
}

// Configure runs the configuration pipeline of one environment
func (b *Builder) Configure(envName string, opts Options) (*BuildConfig, error) {
	env, ok := b.cfg.Env[envName]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", envName)
	}
	if err := validateTargets(opts.Targets); err != nil {
		return nil, err
	}

	cfg := &BuildConfig{
		ProjectDir: b.basedir,
		Project:    b.cfg.Project,
		EnvName:    envName,
		Env:        env,
		SrcDir:     b.projectPath(b.cfg.Project.SrcDir),
		IncludeDir: b.projectPath(b.cfg.Project.IncludeDir),
		TestDir:    b.projectPath(b.cfg.Project.TestDir),
		BuildDir:   b.EnvBuildDir(envName),
		Targets:    opts.Targets,
		TestMode:   opts.TestMode,
		BindMode:   opts.BindMode,
		coreDir:    b.coreDir,
		out:        b.Out,
	}

	return runPipeline(cfg, pipeline)
}

// Build configures and builds every selected environment
func (b *Builder) Build(ctx context.Context, opts Options) error {
	_, err := b.build(ctx, opts)
	return err
}

func (b *Builder) build(ctx context.Context, opts Options) ([]*BuildConfig, error) {
	if err := validateTargets(opts.Targets); err != nil {
		return nil, err
	}
	envs, err := b.cfg.EnvNames(opts.Envs)
	if err != nil {
		return nil, err
	}

	var built []*BuildConfig
	for _, name := range envs {
		cfg, err := b.buildEnv(ctx, name, opts)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", name, err)
		}
		built = append(built, cfg)
	}
	return built, nil
}

func (b *Builder) buildEnv(ctx context.Context, name string, opts Options) (*BuildConfig, error) {
	lock, err := lockDir(b.EnvBuildDir(name))
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	env := b.cfg.Env[name]
	details := []string{"platform: " + env.Platform}
	if env.Board != "" {
		details = append(details, "board: "+env.Board)
	}
	if len(env.Framework) > 0 {
		details = append(details, "framework: "+strings.Join(env.Framework, ", "))
	}
	msg.Step("Processing", "%s (%s)", name, strings.Join(details, "; "))

	cfg, err := b.Configure(name, opts)
	if err != nil {
		return nil, err
	}

	configureOnly := false
	if cfg.HasTarget(TargetIDEData) {
		configureOnly = true
		enc := json.NewEncoder(b.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg.DumpIDEData(opts.CompilerMacros)); err != nil {
			return nil, err
		}
	}
	if cfg.HasTarget(TargetCompileDB) {
		configureOnly = true
		path, err := cfg.WriteCompileDB()
		if err != nil {
			return nil, err
		}
		msg.Info("wrote %s", path)
	}
	if configureOnly || cfg.HasTarget(TargetNoBuild) {
		return cfg, nil
	}

	if err := b.compile(ctx, cfg, opts); err != nil {
		return nil, err
	}
	if cfg.Platform.Name != "native" || cfg.HasTarget(TargetSize) {
		if err := cfg.CheckProgramSize(ctx, b.Out); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func createGenerator(generator string, jobs int, verbose bool) (gen.Generator, error) {
	switch generator {
	case GeneratorNinja:
		return gen.NewNinjaGen(jobs, verbose), nil
	case GeneratorQembed, "":
		return gen.NewQembedBuilder(jobs, verbose), nil
	default:
		return nil, fmt.Errorf("unknown generator %q", generator)
	}
}

// Objects lists the compilations of a source group, objects sit next to
// the sources in the variant directory
func (cfg *BuildConfig) Objects(g *SourceGroup) []gen.Object {
	set := cfg.GroupFlags(g)
	objs := make([]gen.Object, 0, len(g.Files))
	for _, f := range g.Files {
		compiler, cxx := cfg.compilerFor(f.Path)
		objs = append(objs, gen.Object{
			Src:      f.Path,
			Obj:      f.Path + ".o",
			Compiler: compiler,
			Args:     CompileArgs(&set, f.Path),
			Cxx:      cxx,
		})
	}
	return objs
}

// compile hands the configured groups to the generator: library groups
// become static libraries, the others are linked into the program
func (b *Builder) compile(ctx context.Context, cfg *BuildConfig, opts Options) error {
	g, err := createGenerator(opts.Generator, opts.Jobs, opts.Verbose)
	if err != nil {
		return err
	}

	tc := cfg.Toolchain
	resolve := func(program string) string {
		if p := tc.LookPath(program); p != "" {
			return p
		}
		return program
	}
	g.SetToolchain(gen.Toolchain{
		CC:       resolve(tc.CC),
		CXX:      resolve(tc.CXX),
		AR:       resolve(tc.AR),
		Env:      tc.Environ(),
		DepFiles: cfg.CompilerType != CompilerUnknown,
	})

	var libs []string
	var objects []gen.Object
	for _, group := range cfg.Groups {
		objs := cfg.Objects(group)
		for i := range objs {
			objs[i].Compiler = resolve(objs[i].Compiler)
		}
		if group.Library {
			name := "lib" + group.Name + ".a"
			g.AddTarget(gen.Target{Name: name, IsLib: true, Objects: objs})
			libs = append(libs, name)
		} else {
			objects = append(objects, objs...)
		}
	}
	g.AddTarget(gen.Target{
		Name:     cfg.ProgName,
		Objects:  objects,
		Deps:     libs,
		LinkArgs: cfg.LinkArgs(),
		LibArgs:  cfg.LibArgs(),
	})

	out := g.Generate()
	if out != "" {
		buildFile := filepath.Join(cfg.BuildDir, g.BuildFile())
		if err := os.WriteFile(buildFile, []byte(out), 0o644); err != nil {
			return err
		}
	}

	return g.Invoke(ctx, cfg.BuildDir)
}

// IDEData configures an environment without building and returns its IDE
// data
func (b *Builder) IDEData(envName string, withMacros bool) (*IDEData, error) {
	lock, err := lockDir(b.EnvBuildDir(envName))
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	cfg, err := b.Configure(envName, Options{Targets: []string{TargetIDEData}})
	if err != nil {
		return nil, err
	}
	return cfg.DumpIDEData(withMacros), nil
}

// BuildAndRun builds the selected environments in test mode and runs their
// programs with args
func (b *Builder) BuildAndRun(ctx context.Context, args []string, opts Options) error {
	opts.TestMode = true
	built, err := b.build(ctx, opts)
	if err != nil {
		return err
	}

	var failed []string
	for _, cfg := range built {
		if cfg.Platform.Name != "native" {
			return fmt.Errorf("env %s: %w", cfg.EnvName, errCantRunCross)
		}
		msg.Step("Testing", "%s", cfg.EnvName)
		cmd := exec.CommandContext(ctx, cfg.ProgramPath(), args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin
		if err := cmd.Run(); err != nil {
			msg.Error("env %s: %v", cfg.EnvName, err)
			failed = append(failed, cfg.EnvName)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("tests failed in: %s", strings.Join(failed, ", "))
	}
	return nil
}
