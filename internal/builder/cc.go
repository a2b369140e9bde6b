package builder

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/qobs-build/qembed/internal/platform"
)

const (
	CompilerGCC     = "gcc"
	CompilerClang   = "clang"
	CompilerUnknown = ""
)

// TODO: zig cc
var (
	commonCCompilers   = []string{"clang", "gcc", "icx", "icc", "tcc", "cl"}
	commonCxxCompilers = []string{"clang++", "g++", "clang", "gcc", "icpx", "icx", "icpc", "icc", "cl"}
)

// Toolchain holds the resolved tool programs of an environment
type Toolchain struct {
	CC, CXX, AR, Size, GDB string
	// Path is prepended to PATH for every tool invocation
	Path []string
}

// findCompiler attempts to find a suitable C or C++ compiler on the system
func findCompiler(needCxx bool) string {
	cc := os.Getenv("CC")
	cxx := os.Getenv("CXX")

	if needCxx && cxx != "" {
		return cxx
	}
	if !needCxx && cc != "" {
		return cc
	}

	if cxx != "" {
		return cxx
	}
	if cc != "" {
		return cc
	}

	var compilersToTry []string
	if needCxx {
		compilersToTry = commonCxxCompilers
	} else {
		compilersToTry = commonCCompilers
	}

	for _, compiler := range compilersToTry {
		path, err := exec.LookPath(compiler)
		if err == nil {
			return path
		}
	}

	return ""
}

// resolveToolchain names the tools from the platform manifest. A platform
// without a toolchain prefix or compiler names builds for the host and falls
// back to $CC/$CXX and common compilers.
func resolveToolchain(p *platform.Platform, path []string) Toolchain {
	tc := p.Toolchain
	name := func(tool, def string) string {
		if tool == "" {
			tool = def
		}
		return tc.Prefix + tool
	}

	t := Toolchain{Path: path}
	if tc.Prefix == "" && tc.CC == "" {
		t.CC = findCompiler(false)
		t.CXX = findCompiler(true)
		if t.CC == "" {
			t.CC = "cc"
		}
		if t.CXX == "" {
			t.CXX = "c++"
		}
	} else {
		t.CC = name(tc.CC, "gcc")
		t.CXX = name(tc.CXX, "g++")
	}
	t.AR = name(tc.AR, "ar")
	t.Size = name(tc.Size, "size")
	t.GDB = name(tc.GDB, "gdb")
	return t
}

// Environ returns the process environment with the toolchain dirs in front
// of PATH
func (t Toolchain) Environ() []string {
	env := os.Environ()
	if len(t.Path) == 0 {
		return env
	}
	newPath := strings.Join(t.Path, string(os.PathListSeparator))
	for i, e := range env {
		k, v, _ := strings.Cut(e, "=")
		if k == "PATH" || (runtime.GOOS == "windows" && strings.EqualFold(k, "PATH")) {
			env[i] = k + "=" + newPath + string(os.PathListSeparator) + v
			return env
		}
	}
	return append(env, "PATH="+newPath)
}

// LookPath resolves a tool in the toolchain dirs, then in PATH. It returns
// "" when the program cannot be found.
func (t Toolchain) LookPath(program string) string {
	if program == "" {
		return ""
	}
	if filepath.IsAbs(program) {
		if _, err := os.Stat(program); err == nil {
			return program
		}
		return ""
	}
	for _, dir := range t.Path {
		for _, candidate := range executableNames(program) {
			p := filepath.Join(dir, candidate)
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				return p
			}
		}
	}
	if p, err := exec.LookPath(program); err == nil {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return ""
}

func executableNames(program string) []string {
	if runtime.GOOS != "windows" || filepath.Ext(program) != "" {
		return []string{program}
	}
	return []string{program + ".exe", program + ".cmd", program + ".bat", program}
}

// command prepares a toolchain tool with the toolchain environment
func (t Toolchain) command(ctx context.Context, program string, args ...string) *exec.Cmd {
	if p := t.LookPath(program); p != "" {
		program = p
	}
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Env = t.Environ()
	return cmd
}

// CompilerType probes the C compiler with -v, failures report unknown
func (t Toolchain) CompilerType() string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := t.command(ctx, t.CC, "-v").CombinedOutput()
	if err != nil {
		return CompilerUnknown
	}
	text := string(out)
	switch {
	case strings.Contains(text, "clang version"):
		return CompilerClang
	case strings.Contains(text, "gcc version") || strings.Contains(text, "GCC"):
		return CompilerGCC
	default:
		return CompilerUnknown
	}
}

// CompilerMacros returns the built-in macros of the C compiler as
// NAME or NAME=VALUE, nil when the compiler cannot be run
func (t Toolchain) CompilerMacros() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := t.command(ctx, t.CC, "-dM", "-E", "-")
	cmd.Stdin = strings.NewReader("")
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	var items []string
	for _, line := range strings.Split(string(out), "\n") {
		tokens := strings.SplitN(strings.TrimSpace(line), " ", 3)
		if len(tokens) < 2 || tokens[0] != "#define" {
			continue
		}
		if len(tokens) > 2 {
			items = append(items, tokens[1]+"="+tokens[2])
		} else {
			items = append(items, tokens[1])
		}
	}
	return items
}
