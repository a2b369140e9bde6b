package gen

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

type NinjaGen struct {
	tc      Toolchain
	order   []string
	targets map[string]Target
	jobs    int
	verbose bool
}

func NewNinjaGen(jobs int, verbose bool) *NinjaGen {
	return &NinjaGen{targets: make(map[string]Target), jobs: jobs, verbose: verbose}
}

func (g *NinjaGen) SetToolchain(tc Toolchain) { g.tc = tc }

func (g *NinjaGen) BuildFile() string { return "build.ninja" }

var ninjaPathEscaper = strings.NewReplacer("$", "$$", ":", "$:", " ", "$ ", "\n", "$\n")

func quote(s string) string { return ninjaPathEscaper.Replace(s) }

// ninjaArgs renders a shell command line as a ninja variable value
func ninjaArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = strings.ReplaceAll(shellQuote(a), "$", "$$")
	}
	return strings.Join(quoted, " ")
}

// AddTarget adds a library or the program to the build graph
func (g *NinjaGen) AddTarget(t Target) {
	if g.targets == nil {
		g.targets = make(map[string]Target)
	}
	if _, ok := g.targets[t.Name]; !ok {
		g.order = append(g.order, t.Name)
	}
	g.targets[t.Name] = t
}

func (g *NinjaGen) Generate() string {
	var sb strings.Builder

	writeln(&sb, "ninja_required_version = 1.3")
	writeln(&sb, "ar = ", ninjaArgs([]string{g.tc.AR}))
	writeln(&sb)

	// gen rules
	write(&sb,
		`rule cc
  command = $cc $args -c $in -o $out
  description = CC $out
`)
	if g.tc.DepFiles {
		write(&sb,
			`  depfile = $out.d
  deps = gcc
`)
	}
	write(&sb,
		`rule link
  command = $ld -o $out $linkargs $in $libargs
  description = LINK $out
`)
	write(&sb,
		`rule ar
  command = $ar rcs $out $in
  description = AR $out
`)
	writeln(&sb)

	// build object files
	for _, name := range g.order {
		for _, o := range g.targets[name].Objects {
			writeln(&sb, "build ", quote(o.Obj), ": cc ", quote(o.Src))
			writeln(&sb, "  cc = ", ninjaArgs([]string{o.Compiler}))
			writeln(&sb, "  args = ", ninjaArgs(o.Args))
		}
	}
	writeln(&sb)

	// ar/link
	for _, name := range g.order {
		target := g.targets[name]
		write(&sb, "build ", quote(target.Name), ": ")
		if target.IsLib {
			write(&sb, "ar")
		} else {
			write(&sb, "link")
		}

		// add the object files and dependencies of this target
		for _, o := range target.Objects {
			write(&sb, " ", quote(o.Obj))
		}
		for _, dep := range target.Deps {
			write(&sb, " ", quote(dep))
		}
		writeln(&sb)

		if !target.IsLib {
			writeln(&sb, "  ld = ", ninjaArgs([]string{linker(g.tc, target, g.targets)}))
			writeln(&sb, "  linkargs = ", ninjaArgs(target.LinkArgs))
			writeln(&sb, "  libargs = ", ninjaArgs(target.LibArgs))
		}
	}

	return sb.String()
}

func (g *NinjaGen) Invoke(ctx context.Context, buildDir string) error {
	args := []string{"-C", buildDir}
	if g.jobs > 0 {
		args = append(args, "-j", strconv.Itoa(g.jobs))
	}
	if g.verbose {
		args = append(args, "-v")
	}
	cmd := exec.CommandContext(ctx, "ninja", args...)
	cmd.Env = g.tc.Env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
