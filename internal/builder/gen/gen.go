// Package gen turns a set of compile and link targets into a build: either
// directly with the native incremental builder or through a ninja file.
package gen

import "context"

// Object is one compilation unit, Src compiled into Obj
type Object struct {
	Src      string
	Obj      string
	Compiler string
	Args     []string
	Cxx      bool
}

// Target is a static library (IsLib) or the linked program. The output is
// written to <buildDir>/<Name>.
type Target struct {
	Name    string
	IsLib   bool
	Objects []Object
	// Deps are names of library targets linked into this one
	Deps []string
	// LinkArgs go before the objects, LibArgs after them
	LinkArgs []string
	LibArgs  []string
}

type Toolchain struct {
	CC, CXX, AR string
	// Env is the environment of every spawned tool, nil inherits ours
	Env []string
	// DepFiles makes compilers emit make-style dependency files (-MMD)
	DepFiles bool
}

type Generator interface {
	SetToolchain(tc Toolchain)
	AddTarget(t Target)
	Generate() string
	BuildFile() string
	Invoke(ctx context.Context, buildDir string) error
}

// linker returns the driver used to link t: the C++ driver when t or any of
// its library deps has C++ objects
func linker(tc Toolchain, t Target, targets map[string]Target) string {
	if hasCxx(t, targets, map[string]bool{}) {
		return tc.CXX
	}
	return tc.CC
}

func hasCxx(t Target, targets map[string]Target, seen map[string]bool) bool {
	if seen[t.Name] {
		return false
	}
	seen[t.Name] = true
	for _, o := range t.Objects {
		if o.Cxx {
			return true
		}
	}
	for _, dep := range t.Deps {
		if d, ok := targets[dep]; ok && hasCxx(d, targets, seen) {
			return true
		}
	}
	return false
}

func compileArgs(o Object, depFiles bool) []string {
	args := make([]string, 0, len(o.Args)+7)
	args = append(args, o.Args...)
	if depFiles {
		args = append(args, "-MMD", "-MF", o.Obj+".d")
	}
	return append(args, "-c", o.Src, "-o", o.Obj)
}
