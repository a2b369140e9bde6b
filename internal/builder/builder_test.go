package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/qobs-build/qembed/internal/flags"
	"github.com/qobs-build/qembed/internal/platform"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

const fakePlatform = `{
  "name": "fake",
  "title": "Fake MCU",
  "version": "1.0.0",
  "toolchain": {"prefix": "fake-"},
  "frameworks": {"simple": {"script": "frameworks/simple.toml"}},
  "build": {
    "flags": ["-mmcu={{ board.build?.mcu }}", "-DF_CPU={{ board.build?.f_cpu }}"],
    "link_flags": ["-Wl,--gc-sections -mmcu={{ board.build?.mcu }}"]
  }
}`

const fakeFramework = `
name = "simple"
build_flags = ["-DSIMPLE=1", "-Os"]
include_dirs = ["cores/{{ board.build.mcu }}"]

[[library]]
name = "core"
src_dir = "cores/{{ board.build.mcu }}"

[[sources]]
name = "variant"
src_dir = "variants/std"
build_flags = ["-DVARIANT"]
`

// newFakeCore installs a platform with two boards and a framework script
func newFakeCore(t *testing.T) string {
	t.Helper()
	core := t.TempDir()
	writeFiles(t, filepath.Join(core, "platforms", "fake"), map[string]string{
		"platform.json": fakePlatform,
		"boards/uno.json": `{"name": "Fake Uno", "frameworks": ["simple"],
			"build": {"mcu": "atmega328p", "f_cpu": "16000000L", "extra_flags": "-DBOARD_UNO", "ldscript": "uno.ld"},
			"upload": {"maximum_size": 32256, "maximum_ram_size": 2048}}`,
		"boards/bare.json":              `{"name": "Bare", "build": {"mcu": "none"}}`,
		"frameworks/simple.toml":        fakeFramework,
		"cores/atmega328p/core.c":       "int core(void) { return 0; }\n",
		"cores/atmega328p/core.h":       "int core(void);\n",
		"variants/std/pins.c":           "int pins;\n",
		"ldscripts/placeholder.x":       "",
		"cores/atmega328p/sub/extra.S":  "",
		"cores/atmega328p/sub/ignore.t": "",
	})
	t.Setenv(platform.CoreDirEnv, core)
	return core
}

func newProject(t *testing.T, config string, files map[string]string) *Builder {
	t.Helper()
	dir := t.TempDir()
	all := map[string]string{ConfigFilename: config}
	for k, v := range files {
		all[k] = v
	}
	writeFiles(t, dir, all)

	b, err := NewBuilderInDirectory(dir)
	require.NoError(t, err)
	b.Out = &bytes.Buffer{}
	return b
}

func defineKeys(set *flags.Set) []string {
	var keys []string
	for _, d := range set.Batch[flags.Defines] {
		keys = append(keys, d.Key)
	}
	return keys
}

func TestParseConfig(t *testing.T) {
	const cfgText = `
[project]
name = "blink"

[env.uno]
platform = "atmelavr"
build_flags = ["-DA"]

[env.uno."target_os == 'windows'"]
build_flags = ["-DWINDOWS"]

[env.uno."target_os == 'linux'"]
build_flags = ["-DLINUX"]

[env.native]
platform = "native"
build_type = "debug"
src_filter = ["+<{{ target_arch }}/>"]
`
	cfg, err := ParseConfig(strings.NewReader(cfgText), ConfigEnv{TargetOS: "windows", TargetArch: "arm64"})
	require.NoError(t, err)

	assert.Equal(t, "src", cfg.Project.SrcDir)
	assert.Equal(t, ".qembed/build", cfg.Project.BuildDir)
	assert.Equal(t, []string{"native", "uno"}, cfg.EnvList())

	uno := cfg.Env["uno"]
	assert.Equal(t, []string{"-DA", "-DWINDOWS"}, uno.BuildFlags)
	assert.Equal(t, BuildTypeRelease, uno.BuildType)
	assert.Equal(t, defaultDebugBuildFlags, uno.DebugBuildFlags)

	native := cfg.Env["native"]
	assert.Equal(t, BuildTypeDebug, native.BuildType)
	assert.Equal(t, []string{"+<arm64/>"}, native.SrcFilter)
}

func TestParseConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  string
	}{
		{"missing platform", "[env.a]\nboard = \"uno\"\n"},
		{"bad build type", "[env.a]\nplatform = \"x\"\nbuild_type = \"fast\"\n"},
		{"bad rts", "[env.a]\nplatform = \"x\"\nmonitor_rts = 2\n"},
		{"env not a table", "env = 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(tt.cfg), NewConfigEnv())
			assert.Error(t, err)
		})
	}
}

func TestEnvNames(t *testing.T) {
	cfg := &Config{Env: map[string]*EnvSection{"b": {}, "a": {}, "c": {}}}

	names, err := cfg.EnvNames(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	cfg.Project.DefaultEnvs = []string{"c"}
	names, err = cfg.EnvNames(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, names)

	names, err = cfg.EnvNames([]string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, names)

	_, err = cfg.EnvNames([]string{"nope"})
	assert.ErrorContains(t, err, "unknown environment")

	_, err = (&Config{}).EnvNames(nil)
	assert.Error(t, err)
}

func TestEvaluateString(t *testing.T) {
	env := map[string]any{"board": map[string]any{"mcu": "stm32"}, "n": 2}

	s, err := evaluateString("-mcpu={{ board.mcu }} x{{ n * 2 }}", env)
	require.NoError(t, err)
	assert.Equal(t, "-mcpu=stm32 x4", s)

	s, err = evaluateString("{{ board.missing }}-end", env)
	require.NoError(t, err)
	assert.Equal(t, "-end", s)

	s, err = evaluateString("plain", env)
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	_, err = evaluateString("{{ ) }}", env)
	assert.Error(t, err)
}

const unoConfig = `
[env.uno]
platform = "fake"
board = "uno"
framework = ["simple"]
build_flags = ["-DLED=13", "-Wextra"]
build_unflags = ["-Os"]
src_build_flags = ["-Wall"]
board_overrides = { "build.f_cpu" = "8000000L" }
`

func TestConfigurePipeline(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, unoConfig, map[string]string{
		"src/main.c":        "int main(void) { return 0; }\n",
		"src/util/util.cpp": "int util() { return 1; }\n",
		"include/app.h":     "",
	})

	cfg, err := b.Configure("uno", Options{})
	require.NoError(t, err)

	// platform, board, user and framework flags in that order, the version
	// macro only once
	assert.Equal(t, []string{"F_CPU", "QEMBED", "BOARD_UNO", "LED", "SIMPLE"}, defineKeys(&cfg.Flags))
	assert.True(t, cfg.Flags.HasDefine("F_CPU"))
	assert.Equal(t, "8000000L", cfg.Flags.Batch[flags.Defines][0].Value)

	cc := cfg.Flags.Strings(flags.CCFlags)
	assert.Contains(t, cc, "-mmcu=atmega328p")
	assert.Contains(t, cc, "-Wextra")
	assert.NotContains(t, cc, "-Os", "unflags apply after frameworks")
	assert.NotContains(t, cc, "-Wall", "src_build_flags only apply to project sources")

	link := cfg.LinkArgs()
	require.GreaterOrEqual(t, len(link), 2)
	assert.Equal(t, []string{"-T", "uno.ld"}, link[:2])
	assert.Contains(t, link, "-Wl,--gc-sections")

	assert.Equal(t, "firmware.elf", cfg.ProgName)
	assert.Equal(t, "fake-gcc", cfg.Toolchain.CC)
	assert.Equal(t, "fake-g++", cfg.Toolchain.CXX)
	assert.Equal(t, "fake-ar", cfg.Toolchain.AR)

	coreDir := filepath.Join(cfg.Platform.Dir, "cores", "atmega328p")
	assert.Contains(t, cfg.Flags.Strings(flags.IncludePaths), coreDir)
	assert.Equal(t, filepath.Join(cfg.Platform.Dir, "ldscripts"), cfg.Flags.Batch[flags.LibPaths][0].Key)

	require.Len(t, cfg.Groups, 3)
	assert.Equal(t, "core", cfg.Groups[0].Name)
	assert.True(t, cfg.Groups[0].Library)
	assert.Len(t, cfg.Groups[0].Files, 2)
	assert.Equal(t, "variant", cfg.Groups[1].Name)
	assert.False(t, cfg.Groups[1].Library)
	assert.Equal(t, "src", cfg.Groups[2].Name)
	assert.True(t, cfg.Groups[2].Project)
	assert.Equal(t, 2, cfg.ProjectFiles())

	src := cfg.GroupFlags(cfg.Groups[2])
	assert.Contains(t, src.Strings(flags.CCFlags), "-Wall")
	assert.Contains(t, src.Strings(flags.IncludePaths), cfg.IncludeDir)
	assert.Contains(t, src.Strings(flags.IncludePaths), cfg.SrcDir)

	variant := cfg.GroupFlags(cfg.Groups[1])
	assert.True(t, variant.HasDefine("VARIANT"))
	assert.False(t, cfg.Flags.HasDefine("VARIANT"))

	for _, f := range cfg.Groups[2].Files {
		assert.True(t, strings.HasPrefix(f.Path, filepath.Join(cfg.BuildDir, "src")), f.Path)
	}
	assert.Contains(t, b.Out.(*bytes.Buffer).String(), "PLATFORM: Fake MCU 1.0.0 > Fake Uno")
}

func TestConfigureDebug(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, `
[env.dbg]
platform = "fake"
board = "uno"
framework = ["simple"]
build_type = "debug"
build_flags = ["-O2", "-g3"]
`, map[string]string{"src/main.c": ""})

	cfg, err := b.Configure("dbg", Options{})
	require.NoError(t, err)

	cc := cfg.Flags.Strings(flags.CCFlags)
	for _, f := range []string{"-Og", "-g2", "-ggdb2"} {
		assert.Contains(t, cc, f)
		assert.Contains(t, cfg.Flags.Strings(flags.LinkFlags), f)
	}
	for _, f := range []string{"-O2", "-g3", "-Os"} {
		assert.NotContains(t, cc, f)
	}
	assert.True(t, cfg.Flags.HasDefine("__QEMBED_BUILD_DEBUG__"))
}

func TestConfigureDebugCustomFlags(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, `
[env.dbg]
platform = "fake"
board = "uno"
framework = ["simple"]
build_type = "debug"
debug_build_flags = ["-O0", "-g"]
`, map[string]string{"src/main.c": ""})

	cfg, err := b.Configure("dbg", Options{})
	require.NoError(t, err)

	cc := cfg.Flags.Strings(flags.CCFlags)
	link := cfg.Flags.Strings(flags.LinkFlags)
	for _, f := range []string{"-O0", "-g"} {
		assert.Contains(t, cc, f)
		assert.Contains(t, link, f)
	}
	assert.NotContains(t, cc, "-Os", "framework optimization is dropped")
	assert.NotContains(t, cc, "-Og")
}

func TestConfigureDebugKeepsOs(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, `
[env.dbg]
platform = "fake"
board = "uno"
framework = ["simple"]
build_type = "debug"
debug_build_flags = ["-Os", "-ggdb3"]
`, map[string]string{"src/main.c": ""})

	cfg, err := b.Configure("dbg", Options{})
	require.NoError(t, err)
	assert.Contains(t, cfg.Flags.Strings(flags.CCFlags), "-Os")
	assert.Contains(t, cfg.Flags.Strings(flags.CCFlags), "-ggdb3")
}

func TestConfigureDebugTarget(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, "[env.bare]\nplatform = \"fake\"\nboard = \"bare\"\n", map[string]string{"src/main.c": ""})

	cfg, err := b.Configure("bare", Options{Targets: []string{TargetDebug}})
	require.NoError(t, err)
	assert.True(t, cfg.IsDebug())
	assert.True(t, cfg.Flags.HasDefine("__QEMBED_BUILD_DEBUG__"))

	_, err = b.Configure("bare", Options{Targets: []string{"flash"}})
	assert.ErrorContains(t, err, "unknown target")
}

func TestConfigureFrameworkErrors(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, `
[env.noboard]
platform = "fake"
framework = ["simple"]

[env.nodefault]
platform = "fake"
board = "bare"
framework = ["default"]

[env.unsupported]
platform = "fake"
board = "uno"
framework = ["mbed"]

[env.default]
platform = "fake"
board = "uno"
framework = ["default"]
`, map[string]string{"src/main.c": ""})

	_, err := b.Configure("noboard", Options{})
	assert.ErrorIs(t, err, ErrBoardRequired)

	_, err = b.Configure("nodefault", Options{})
	assert.ErrorIs(t, err, ErrBoardRequired)

	_, err = b.Configure("unsupported", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFramework)

	cfg, err := b.Configure("default", Options{})
	require.NoError(t, err)
	assert.True(t, cfg.Flags.HasDefine("SIMPLE"))

	_, err = b.Configure("missing", Options{})
	assert.Error(t, err)
}

func TestConfigureUnknownPlatform(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, "[env.x]\nplatform = \"nope\"\n", nil)
	_, err := b.Configure("x", Options{})
	assert.ErrorIs(t, err, platform.ErrUnknownPlatform)
}

func TestNothingToBuild(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, "[env.bare]\nplatform = \"fake\"\nboard = \"bare\"\n", map[string]string{"src/README": "docs"})

	_, err := b.Configure("bare", Options{})
	assert.ErrorIs(t, err, ErrNothingToBuild)
	assert.ErrorContains(t, err, "src")

	_, err = b.Configure("bare", Options{Targets: []string{TargetNoBuild}})
	assert.NoError(t, err)
}

func TestConfigureTestMode(t *testing.T) {
	newFakeCore(t)
	files := map[string]string{
		"src/main.c":       "",
		"test/test_main.c": "",
	}

	b := newProject(t, "[env.bare]\nplatform = \"fake\"\nboard = \"bare\"\n", files)
	cfg, err := b.Configure("bare", Options{TestMode: true})
	require.NoError(t, err)
	require.Len(t, cfg.Groups, 1)
	assert.Equal(t, "test", cfg.Groups[0].Name)
	set := cfg.GroupFlags(cfg.Groups[0])
	assert.Contains(t, set.Strings(flags.IncludePaths), cfg.TestDir)

	b = newProject(t, "[env.bare]\nplatform = \"fake\"\nboard = \"bare\"\ntest_build_project_src = true\n", files)
	cfg, err = b.Configure("bare", Options{TestMode: true})
	require.NoError(t, err)
	require.Len(t, cfg.Groups, 2)
	assert.Equal(t, "test", cfg.Groups[0].Name)
	assert.Equal(t, "src", cfg.Groups[1].Name)
}

func TestConfigureCustomLinkerScript(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, `
[env.uno]
platform = "fake"
board = "uno"
build_flags = ["-Wl,-Tcustom.ld"]
`, map[string]string{"src/main.c": ""})

	cfg, err := b.Configure("uno", Options{})
	require.NoError(t, err)
	assert.NotContains(t, cfg.LinkArgs(), "-T")
	assert.Contains(t, cfg.LinkArgs(), "-Wl,-Tcustom.ld")
}

func TestCompileArgs(t *testing.T) {
	var set flags.Set
	set.ProcessFlags(flags.Parse("-std=c11 -std=c++17 -Wall -Wp,-MD -Wa,-a -DX=1 -Iinc"))

	c := CompileArgs(&set, "main.c")
	assert.Contains(t, c, "-std=c11")
	assert.NotContains(t, c, "-std=c++17")
	assert.Equal(t, []string{"-DX=1", "-Iinc"}, c[len(c)-2:])

	cxx := CompileArgs(&set, "main.cpp")
	assert.Contains(t, cxx, "-std=c++17")
	assert.NotContains(t, cxx, "-std=c11")
	assert.Contains(t, cxx, "-Wall")

	asm := CompileArgs(&set, "start.S")
	assert.Contains(t, asm, "-Wa,-a")
	assert.Contains(t, asm, "-Wp,-MD")
	assert.NotContains(t, asm, "-Wall")
	assert.Contains(t, asm, "-DX=1")
}

func TestLibArgs(t *testing.T) {
	cfg := &BuildConfig{}
	cfg.Flags.ProcessFlags(flags.Parse("-Lmissing/lib -lm -lc"))

	assert.Equal(t, []string{"-Lmissing/lib", "-lm", "-lc"}, cfg.LibArgs())

	cfg.LinkGroup = true
	assert.Equal(t, []string{"-Lmissing/lib", "-Wl,--start-group", "-lm", "-lc", "-Wl,--end-group"}, cfg.LibArgs())

	cfg.Flags.Batch[flags.Libs] = nil
	assert.Equal(t, []string{"-Lmissing/lib"}, cfg.LibArgs())
}

func TestIDEData(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, unoConfig, map[string]string{"src/main.c": "", "include/a.h": ""})

	data, err := b.IDEData("uno", false)
	require.NoError(t, err)

	assert.Equal(t, "uno", data.EnvName)
	assert.Contains(t, data.Defines, "LED=13")
	assert.Contains(t, data.Defines, "F_CPU=8000000L")
	assert.Contains(t, data.Includes, filepath.Join(b.Dir(), "src"))
	assert.Contains(t, data.Includes, filepath.Join(b.Dir(), "include"))
	for _, inc := range data.Includes {
		assert.True(t, filepath.IsAbs(inc), inc)
	}
	assert.Len(t, data.LibSourceDirs, 1)
	assert.Contains(t, data.CCFlags, "-mmcu=atmega328p")
	assert.NotContains(t, data.CCFlags, "-DLED")
	assert.True(t, strings.HasSuffix(data.ProgPath, "firmware.elf"))
	assert.NotNil(t, data.FlashExtraImages)
	assert.Nil(t, data.CompilerMacros)

	out, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"libsource_dirs"`)
	assert.NotContains(t, string(out), `"compiler_macros"`)

	// a framework define cancelled by an earlier -U is not reported
	b = newProject(t, `
[env.uno]
platform = "fake"
board = "uno"
framework = ["simple"]
build_flags = ["-USIMPLE"]
`, map[string]string{"src/main.c": ""})
	cfg, err := b.Configure("uno", Options{})
	require.NoError(t, err)
	assert.Contains(t, cfg.Flags.DefineArgs(), "-USIMPLE")

	data, err = b.IDEData("uno", false)
	require.NoError(t, err)
	assert.NotContains(t, data.Defines, "SIMPLE=1")
	assert.Contains(t, data.Defines, "BOARD_UNO")
}

func TestIDEDefinesAVR(t *testing.T) {
	board, err := platform.LoadBoardFile(filepath.Join(newFakeCore(t), "platforms", "fake", "boards", "uno.json"))
	require.NoError(t, err)
	cfg := &BuildConfig{Platform: &platform.Platform{Manifest: platform.Manifest{Name: "atmelavr"}}, Board: board}
	cfg.Flags.ProcessFlags(flags.Parse(`-DMSG=\"hi\"`))

	assert.Equal(t, []string{`MSG="hi"`, "__AVR_ATmega328P__"}, cfg.ideDefines())
}

func TestLintString(t *testing.T) {
	assert.Equal(t, `-DA="x\ y" -Wall`, lintString([]string{`-DA=\"x y\"`, "-Wall"}))
	assert.Equal(t, `-DMSG=a\ b -O2`, lintString([]string{"-DMSG=a b", "-O2"}))
}

func TestCompileDB(t *testing.T) {
	newFakeCore(t)
	b := newProject(t, unoConfig, map[string]string{"src/main.c": "", "src/app.cpp": ""})

	cfg, err := b.Configure("uno", Options{Targets: []string{TargetCompileDB}})
	require.NoError(t, err)

	path, err := cfg.WriteCompileDB()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Dir(), "compile_commands.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries []CompileCommand
	require.NoError(t, json.Unmarshal(data, &entries))

	// core.c, extra.S, pins.c and the two project sources
	require.Len(t, entries, 5)
	var files []string
	for _, e := range entries {
		files = append(files, e.File)
		assert.Equal(t, b.Dir(), e.Directory)
		assert.Equal(t, e.File, e.Arguments[len(e.Arguments)-3])
		assert.True(t, strings.HasSuffix(e.Output, ".o"))
	}
	assert.Contains(t, files, filepath.Join(b.Dir(), "src", "main.c"))
	assert.Contains(t, files, filepath.Join(b.Dir(), "src", "app.cpp"))
}

func TestParseSizeOutput(t *testing.T) {
	size, err := parseSizeOutput("   text    data     bss     dec     hex filename\n    924      10       9     943     3af firmware.elf\n")
	require.NoError(t, err)
	assert.Equal(t, ProgramSize{Flash: 934, RAM: 19}, size)

	_, err = parseSizeOutput("garbage")
	assert.Error(t, err)
	_, err = parseSizeOutput("text data bss\nx y z")
	assert.Error(t, err)
}

func TestUsageLine(t *testing.T) {
	assert.Equal(t, "RAM:   [=         ]  12.3% (used 252 bytes from 2048 bytes)", usageLine("RAM", 252, 2048))
	assert.Equal(t, "Flash: [==========] 200.0% (used 200 bytes from 100 bytes)", usageLine("Flash", 200, 100))
}

func TestLockDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "build", "env")

	l, err := lockDir(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, lockFilename))
	require.NoError(t, l.Unlock())

	l, err = lockDir(dir)
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
}

func TestScriptEnvFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"wiring.c": "int pin = LED_BUILTIN_PIN_NUMBER;\n"})
	env := newScriptEnv("uno", BuildTypeRelease, nil, nil)
	env.basedir = dir

	require.NoError(t, env.run(`ReadFile("wiring.c") contains "LED_BUILTIN"`))
	assert.Error(t, env.run(`ReadFile("wiring.c") contains "nothing"`))
	assert.Error(t, env.run(`ReadFile("../outside.c") != ""`))
	assert.NoError(t, env.run(""))

	dmp := diffmatchpatch.New()
	patch := dmp.PatchToText(dmp.PatchMake("int pin = LED_BUILTIN_PIN_NUMBER;\n", "int pin = 13;\n"))
	assert.True(t, env.Patch("wiring.c", patch))
	assert.Equal(t, "int pin = 13;\n", env.ReadFile("wiring.c"))
}

func TestBuildNative(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("native build test uses a unix toolchain")
	}
	if _, err := exec.LookPath("cc"); err != nil {
		t.Skip("no C compiler available")
	}
	core := t.TempDir()
	writeFiles(t, filepath.Join(core, "platforms", "native"), map[string]string{
		"platform.json": `{"name": "native", "version": "1.0.0"}`,
	})
	t.Setenv(platform.CoreDirEnv, core)
	t.Setenv("CC", "cc")

	b := newProject(t, "[env.native]\nplatform = \"native\"\nbuild_flags = [\"-DGREETING=7\"]\n", map[string]string{
		"src/main.c":       "#include \"lib.h\"\nint main(void) { return value() == GREETING ? 0 : 1; }\n",
		"src/lib.c":        "#include \"lib.h\"\nint value(void) { return GREETING; }\n",
		"include/lib.h":    "int value(void);\n",
		"test/test_main.c": "int main(void) { return 0; }\n",
	})

	require.NoError(t, b.Build(context.Background(), Options{Generator: GeneratorQembed, Jobs: 2}))

	prog := filepath.Join(b.EnvBuildDir("native"), "program")
	assert.FileExists(t, prog)
	require.NoError(t, exec.Command(prog).Run())

	// test mode relinks the program from test_dir only
	require.NoError(t, b.BuildAndRun(context.Background(), nil, Options{}))
}
