package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
	"github.com/qobs-build/qembed/internal/flags"
	"github.com/qobs-build/qembed/internal/platform"
	"github.com/qobs-build/qembed/internal/source"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultFramework expands to the first framework of the board
const DefaultFramework = "default"

var (
	ErrBoardRequired        = errors.New("board is required")
	ErrUnsupportedFramework = errors.New("unsupported framework")
)

// Framework contributes flags, include dirs and source groups to a build
type Framework interface {
	Name() string
	Build(cfg *BuildConfig) error
}

// FrameworkRegistry maps framework names to their builders
type FrameworkRegistry map[string]Framework

// NewFrameworkRegistry registers every framework script of the platform
func NewFrameworkRegistry(p *platform.Platform) (FrameworkRegistry, error) {
	reg := make(FrameworkRegistry, len(p.Frameworks))
	for name := range p.Frameworks {
		script, err := p.FrameworkScript(name)
		if err != nil {
			return nil, err
		}
		reg[name] = &scriptFramework{name: name, script: script, dir: p.FrameworkDir(name)}
	}
	return reg, nil
}

// FrameworkScript is a framework build description. Strings are templated
// with {{ }} expressions over ScriptEnv.
type FrameworkScript struct {
	Name           string          `toml:"name"`
	ReplaceDefines bool            `toml:"replace_defines"`
	BuildFlags     []string        `toml:"build_flags"`
	BuildUnflags   []string        `toml:"build_unflags"`
	IncludeDirs    []string        `toml:"include_dirs"`
	LDScript       string          `toml:"ldscript"`
	Build          string          `toml:"build"`
	Libraries      []ScriptSources `toml:"library" validate:"dive"`
	Sources        []ScriptSources `toml:"sources" validate:"dive"`
}

// ScriptSources is a source group of a framework script
type ScriptSources struct {
	Name      string   `toml:"name" validate:"required"`
	SrcDir    string   `toml:"src_dir" validate:"required"`
	SrcFilter []string `toml:"src_filter"`
	// BuildFlags only apply to this group
	BuildFlags []string `toml:"build_flags"`
}

// ParseFrameworkScript reads and templates a framework script
func ParseFrameworkScript(path string, env *ScriptEnv) (*FrameworkScript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := decodeRaw(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	processed, err := processExpressions(raw, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	script := new(FrameworkScript)
	if err := toml.Unmarshal([]byte(mustMarshal(processed)), script); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := validate.Struct(script); err != nil {
		return nil, fmt.Errorf("invalid framework script %s: %w", path, err)
	}
	return script, nil
}

type scriptFramework struct {
	name   string
	script string
	dir    string
}

func (f *scriptFramework) Name() string { return f.name }

func (f *scriptFramework) Build(cfg *BuildConfig) error {
	env := cfg.ScriptEnv()
	env.Framework = f.name
	env.FrameworkDir = f.dir
	env.basedir = f.dir

	script, err := ParseFrameworkScript(f.script, env)
	if err != nil {
		return err
	}

	if err := env.run(script.Build); err != nil {
		return fmt.Errorf("framework %q: %w", f.name, err)
	}

	if script.ReplaceDefines {
		cfg.Flags.Batch[flags.Defines] = nil
	}

	parser := flags.Parser{BaseDir: f.dir}
	cfg.Flags.ProcessFlags(parser.Parse(script.BuildFlags...))
	for _, dir := range script.IncludeDirs {
		cfg.Flags.AppendUnique(flags.IncludePaths, flags.Scalar(f.path(dir)))
	}
	cfg.Flags.ProcessUnFlags(parser.Parse(script.BuildUnflags...))

	if script.LDScript != "" {
		cfg.LDScript = script.LDScript
		if p := f.path(script.LDScript); fileExists(p) {
			cfg.LDScript = p
		}
	}

	for _, group := range script.Libraries {
		if err := f.addGroup(cfg, parser, group, true); err != nil {
			return err
		}
	}
	for _, group := range script.Sources {
		if err := f.addGroup(cfg, parser, group, false); err != nil {
			return err
		}
	}
	return nil
}

func (f *scriptFramework) addGroup(cfg *BuildConfig, parser flags.Parser, group ScriptSources, library bool) error {
	variant := filepath.Join(cfg.BuildDir, "framework", f.name, group.Name)
	_, err := cfg.BuildSources(group.Name, variant, f.path(group.SrcDir),
		source.ParseFilter(group.SrcFilter...), parser.Parse(group.BuildFlags...), library)
	if err != nil {
		return fmt.Errorf("framework %q: %w", f.name, err)
	}
	return nil
}

func (f *scriptFramework) path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(f.dir, p)
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// ScriptEnv is the expression environment of platform flags and framework
// scripts
type ScriptEnv struct {
	TargetOS     string            `expr:"target_os"`
	TargetArch   string            `expr:"target_arch"`
	Environ      map[string]string `expr:"environ"`
	Env          string            `expr:"env"`
	Platform     string            `expr:"platform"`
	PlatformDir  string            `expr:"platform_dir"`
	Board        map[string]any    `expr:"board"`
	BuildType    string            `expr:"build_type"`
	Framework    string            `expr:"framework"`
	FrameworkDir string            `expr:"framework_dir"`
	basedir      string
}

// run evaluates a build expression, it has to return true
func (env *ScriptEnv) run(code string) error {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return fmt.Errorf("failed to compile build script: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("failed to run build script: %w", err)
	}
	if result, ok := result.(bool); !ok || !result {
		return fmt.Errorf("build script returned false\n%s", code)
	}
	return nil
}

// Patch applies a diff-match-patch patch to a file of the framework, it
// returns false when no hunk applied (e.g. the file is already patched)
func (env *ScriptEnv) Patch(path, patchText string) bool {
	fullPath := env.resolve(path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}
	origText := string(data)

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		panic(err)
	}
	patchedText, results := dmp.PatchApply(patches, origText)
	for _, ok := range results {
		if ok {
			goto applied
		}
	}
	return false // nothing was applied, nothing to write

applied:
	err = os.WriteFile(fullPath, []byte(patchedText), 0o644)
	if err != nil {
		panic(err)
	}

	return true
}

func (env *ScriptEnv) ReadFile(path string) string {
	data, err := os.ReadFile(env.resolve(path))
	if err != nil {
		panic(err)
	}
	return string(data)
}

func (env *ScriptEnv) resolve(path string) string {
	fullPath := filepath.Join(env.basedir, path)
	rel, err := filepath.Rel(env.basedir, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		panic(fmt.Sprintf("path %q is outside of framework directory %q", path, env.basedir))
	}
	return fullPath
}

func newScriptEnv(envName, buildType string, p *platform.Platform, board *platform.Board) *ScriptEnv {
	env := &ScriptEnv{
		TargetOS:   runtime.GOOS,
		TargetArch: runtime.GOARCH,
		Environ:    environMap(),
		Env:        envName,
		BuildType:  buildType,
		Board:      map[string]any{},
	}
	if p != nil {
		env.Platform = p.Name
		env.PlatformDir = p.Dir
		env.basedir = p.Dir
	}
	if board != nil {
		env.Board = board.Raw()
	}
	return env
}
