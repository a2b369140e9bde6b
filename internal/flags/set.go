package flags

import (
	"slices"
	"strings"
)

// Set is the active flag set of a build environment: a batch plus the list
// of macros suppressed with -U, rendered after every define.
type Set struct {
	Batch
	Undefines []string
}

// Clone returns a deep copy of the set
func (s *Set) Clone() Set {
	return Set{
		Batch:     s.Batch.Clone(),
		Undefines: slices.Clone(s.Undefines),
	}
}

// AppendUnique appends flags that are not already present (exact equality)
func (s *Set) AppendUnique(c Category, fs ...Flag) {
	for _, f := range fs {
		if !slices.ContainsFunc(s.Batch[c], f.Equal) {
			s.Batch[c] = append(s.Batch[c], f)
		}
	}
}

// Remove drops every flag of category c for which drop returns true
func (s *Set) Remove(c Category, drop func(Flag) bool) {
	s.Batch[c] = slices.DeleteFunc(s.Batch[c], drop)
	if len(s.Batch[c]) == 0 {
		s.Batch[c] = nil
	}
}

// HasDefine reports whether a define with the given name is active
func (s *Set) HasDefine(name string) bool {
	return slices.ContainsFunc(s.Batch[Defines], func(f Flag) bool { return f.Key == name })
}

// ProcessFlags merges a parsed batch into the set. Every -UNAME compiler flag
// is moved out of CCFlags into the suppression list and removes all active
// definitions of NAME, whatever their value. Suppressions stay in effect:
// a later -DNAME is still cancelled by the trailing -UNAME.
func (s *Set) ProcessFlags(b Batch) {
	s.Batch.Concat(b)

	var undefines []string
	s.Remove(CCFlags, func(f Flag) bool {
		if f.IsPair() || !strings.HasPrefix(f.Key, "-U") || len(f.Key) == 2 {
			return false
		}
		undefines = append(undefines, f.Key[2:])
		return true
	})

	for _, name := range undefines {
		s.Remove(Defines, func(f Flag) bool { return f.Key == name })
		if !slices.Contains(s.Undefines, name) {
			s.Undefines = append(s.Undefines, name)
		}
	}
}

// ProcessUnFlags removes from the set every flag matching the batch. Values of
// all flag-like categories are pooled, so "-Os" given to remove also clears
// it from CFlags or LinkFlags. A scalar matches a scalar with the same key,
// any flag matches a pair with the same key: removing FOO also removes FOO=1.
func (s *Set) ProcessUnFlags(b Batch) {
	var pooled []Flag
	for _, c := range Categories() {
		if c.IsFlagLike() {
			pooled = append(pooled, b[c]...)
		}
	}
	for _, c := range Categories() {
		if c.IsFlagLike() {
			b[c] = pooled
		}
	}

	for _, c := range Categories() {
		for _, unflag := range b[c] {
			s.Remove(c, func(cur Flag) bool { return unflagMatches(unflag, cur) })

			if c == CCFlags && !unflag.IsPair() && strings.HasPrefix(unflag.Key, "-U") {
				name := unflag.Key[2:]
				s.Undefines = slices.DeleteFunc(s.Undefines, func(u string) bool { return u == name })
			}
		}
	}
}

func unflagMatches(unflag, cur Flag) bool {
	if cur.IsPair() {
		return unflag.Key == cur.Key
	}
	return !unflag.IsPair() && unflag.Key == cur.Key
}

// DefineArgs renders defines then undefines as separate argv elements, with
// escaped quotes restored since no shell is involved
func (s *Set) DefineArgs() []string {
	args := make([]string, 0, len(s.Batch[Defines])+len(s.Undefines))
	for _, d := range s.Batch[Defines] {
		args = append(args, "-D"+strings.ReplaceAll(d.DefineString(), `\"`, `"`))
	}
	for _, u := range s.Undefines {
		args = append(args, "-U"+u)
	}
	return args
}

// DefineString renders the define flags as a single shell string. Escaped
// quotes are kept and elements containing spaces are double quoted so that
// they stay one word.
func (s *Set) DefineString() string {
	parts := make([]string, 0, len(s.Batch[Defines])+len(s.Undefines))
	for _, d := range s.Batch[Defines] {
		parts = append(parts, shellWord("-D"+d.DefineString()))
	}
	for _, u := range s.Undefines {
		parts = append(parts, shellWord("-U"+u))
	}
	return strings.Join(parts, " ")
}

func shellWord(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

// IncludeArgs renders include paths as -I arguments
func (s *Set) IncludeArgs() []string {
	return prefixed("-I", s.Batch[IncludePaths])
}

// LibArgs renders library paths and libraries as -L and -l arguments. A Libs
// entry that looks like a path is passed as is.
func (s *Set) LibArgs() []string {
	args := prefixed("-L", s.Batch[LibPaths])
	for _, l := range s.Batch[Libs] {
		if strings.ContainsAny(l.Key, `/\`) || strings.HasSuffix(l.Key, ".a") {
			args = append(args, l.Key)
		} else {
			args = append(args, "-l"+l.Key)
		}
	}
	return args
}

// Args renders flag-like categories as argv elements
func (s *Set) Args(cats ...Category) []string {
	var args []string
	for _, c := range cats {
		for _, f := range s.Batch[c] {
			args = append(args, f.Args()...)
		}
	}
	return args
}

func prefixed(prefix string, fs []Flag) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, prefix+f.Key)
	}
	return out
}
