package gen

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalSort(t *testing.T) {
	t.Parallel()

	targets := map[string]Target{
		"prog":    {Name: "prog", Deps: []string{"libb.a", "liba.a"}},
		"liba.a":  {Name: "liba.a", IsLib: true},
		"libb.a":  {Name: "libb.a", IsLib: true, Deps: []string{"liba.a"}},
		"other.a": {Name: "other.a", IsLib: true},
	}
	sorted, err := topologicalSort([]string{"prog", "libb.a", "liba.a", "other.a"}, targets)
	require.NoError(t, err)
	assert.Equal(t, []string{"liba.a", "other.a", "libb.a", "prog"}, sorted)

	targets["liba.a"] = Target{Name: "liba.a", Deps: []string{"prog"}}
	_, err = topologicalSort([]string{"prog", "libb.a", "liba.a"}, targets)
	assert.ErrorContains(t, err, "dependency cycle")

	_, err = topologicalSort([]string{"x"}, map[string]Target{"x": {Name: "x", Deps: []string{"y"}}})
	assert.ErrorContains(t, err, "non-existent dependency")
}

func TestLinker(t *testing.T) {
	t.Parallel()

	tc := Toolchain{CC: "gcc", CXX: "g++"}
	targets := map[string]Target{
		"libcpp.a": {Name: "libcpp.a", IsLib: true, Objects: []Object{{Src: "a.cpp", Cxx: true}}},
		"prog":     {Name: "prog", Objects: []Object{{Src: "main.c"}}},
	}
	assert.Equal(t, "gcc", linker(tc, targets["prog"], targets))

	prog := targets["prog"]
	prog.Deps = []string{"libcpp.a"}
	assert.Equal(t, "g++", linker(tc, prog, targets))
}

func TestShortenArgs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	short := []string{"-c", "main.c"}
	out, err := shortenArgs(dir, short)
	require.NoError(t, err)
	assert.Equal(t, short, out)

	var long []string
	for range 400 {
		long = append(long, `-IC:\some path\include`)
	}
	out, err = shortenArgs(dir, long)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, strings.HasPrefix(out[0], "@"+filepath.Join(dir, "longcmd-")))

	data, err := os.ReadFile(out[0][1:])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `"-IC:\\some path\\include" `))

	again, err := shortenArgs(dir, long)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestParseDepFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "main.c.o.d")
	require.NoError(t, os.WriteFile(path, []byte("/b/main.c.o: /b/main.c /b/inc/a.h \\\n /b/my\\ dir/b.h\n"), 0o644))
	deps, err := parseDepFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/b/main.c", "/b/inc/a.h", "/b/my dir/b.h"}, deps)
}

func TestNinjaGenerate(t *testing.T) {
	t.Parallel()

	g := NewNinjaGen(0, false)
	g.SetToolchain(Toolchain{CC: "avr-gcc", CXX: "avr-g++", AR: "avr-ar", DepFiles: true})
	g.AddTarget(Target{
		Name:    "libcore.a",
		IsLib:   true,
		Objects: []Object{{Src: "/b/core/wiring.c", Obj: "/b/core/wiring.c.o", Compiler: "avr-gcc", Args: []string{"-Os"}}},
	})
	g.AddTarget(Target{
		Name:     "firmware.elf",
		Objects:  []Object{{Src: "/b/src/main.cpp", Obj: "/b/src/main.cpp.o", Compiler: "avr-g++", Args: []string{"-DMSG=hello world"}, Cxx: true}},
		Deps:     []string{"libcore.a"},
		LinkArgs: []string{"-Os"},
		LibArgs:  []string{"-lm"},
	})

	out := g.Generate()
	assert.Contains(t, out, "  depfile = $out.d\n  deps = gcc\n")
	assert.Contains(t, out, "build /b/core/wiring.c.o: cc /b/core/wiring.c\n  cc = avr-gcc\n  args = -Os\n")
	if runtime.GOOS != "windows" {
		assert.Contains(t, out, "  args = '-DMSG=hello world'\n")
	}
	assert.Contains(t, out, "build libcore.a: ar /b/core/wiring.c.o\n")
	assert.Contains(t, out, "build firmware.elf: link /b/src/main.cpp.o libcore.a\n  ld = avr-g++\n  linkargs = -Os\n  libargs = -lm\n")
	assert.Less(t, strings.Index(out, "build libcore.a"), strings.Index(out, "build firmware.elf"))
	assert.Equal(t, "build.ninja", g.BuildFile())
}

const fakeCompiler = `#!/bin/sh
echo "cc $*" >> "$LOG"
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
: > "$out"
`

const fakeArchiver = `#!/bin/sh
echo "ar $*" >> "$LOG"
: > "$2"
`

func writeScript(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
}

func logLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestQembedBuilderIncremental(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses shell scripts as tools")
	}
	t.Parallel()

	dir := t.TempDir()
	tools := filepath.Join(dir, "tools")
	require.NoError(t, os.MkdirAll(tools, 0o755))
	cc := filepath.Join(tools, "cc")
	ar := filepath.Join(tools, "ar")
	writeScript(t, cc, fakeCompiler)
	writeScript(t, ar, fakeArchiver)
	logFile := filepath.Join(dir, "log")

	buildDir := filepath.Join(dir, "build")
	src := filepath.Join(buildDir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.c"), []byte("int main(void) { return 0; }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "util.c"), []byte("int util;\n"), 0o644))

	run := func(args ...string) []string {
		os.Remove(logFile)
		g := NewQembedBuilder(2, false)
		g.out = &strings.Builder{}
		g.SetToolchain(Toolchain{CC: cc, CXX: cc, AR: ar, Env: append(os.Environ(), "LOG="+logFile)})
		g.AddTarget(Target{
			Name:    "libutil.a",
			IsLib:   true,
			Objects: []Object{{Src: filepath.Join(src, "util.c"), Obj: filepath.Join(src, "util.c.o"), Compiler: cc, Args: args}},
		})
		g.AddTarget(Target{
			Name:    "program",
			Objects: []Object{{Src: filepath.Join(src, "main.c"), Obj: filepath.Join(src, "main.c.o"), Compiler: cc, Args: args}},
			Deps:    []string{"libutil.a"},
		})
		require.NoError(t, g.Invoke(context.Background(), buildDir))
		return logLines(t, logFile)
	}

	first := run("-Os")
	assert.Len(t, first, 4)
	assert.FileExists(t, filepath.Join(buildDir, "program"))
	assert.FileExists(t, filepath.Join(buildDir, "libutil.a"))
	assert.FileExists(t, filepath.Join(buildDir, StateFilename))

	assert.Empty(t, run("-Os"), "nothing changed")

	require.NoError(t, os.WriteFile(filepath.Join(src, "main.c"), []byte("int main(void) { return 1; }\n"), 0o644))
	second := run("-Os")
	require.Len(t, second, 2)
	assert.Contains(t, second[0], "main.c")
	assert.True(t, strings.HasPrefix(second[1], "cc -o "+filepath.Join(buildDir, "program")))

	assert.Len(t, run("-O2"), 4, "changed arguments rebuild everything")
}
