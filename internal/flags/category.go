// Package flags parses raw compiler flag strings into categorized batches and
// maintains the active flag set of a build environment.
package flags

import (
	"fmt"
	"strings"
)

// Category is a closed set of flag kinds
type Category int

const (
	Defines Category = iota
	IncludePaths
	LibPaths
	Libs
	CCFlags
	CFlags
	CXXFlags
	CPPFlags
	ASFlags
	LinkFlags

	numCategories
)

var categoryNames = [numCategories]string{
	Defines:      "defines",
	IncludePaths: "include_paths",
	LibPaths:     "lib_paths",
	Libs:         "libs",
	CCFlags:      "cc_flags",
	CFlags:       "c_flags",
	CXXFlags:     "cxx_flags",
	CPPFlags:     "cpp_flags",
	ASFlags:      "as_flags",
	LinkFlags:    "link_flags",
}

// Categories lists every category in declaration order
func Categories() []Category {
	cats := make([]Category, numCategories)
	for i := range cats {
		cats[i] = Category(i)
	}
	return cats
}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// IsFlagLike reports whether the category holds plain command-line flags
// (as opposed to defines, paths and libraries)
func (c Category) IsFlagLike() bool {
	switch c {
	case CCFlags, CFlags, CXXFlags, CPPFlags, ASFlags, LinkFlags:
		return true
	}
	return false
}

// Batch is a categorized set of flags. Every category is always present.
type Batch [numCategories][]Flag

func (b *Batch) Get(c Category) []Flag { return b[c] }

func (b *Batch) Append(c Category, fs ...Flag) {
	b[c] = append(b[c], fs...)
}

// Concat appends every category of other to b, in order
func (b *Batch) Concat(other Batch) {
	for c := range other {
		b[c] = append(b[c], other[c]...)
	}
}

// Empty reports whether no category holds any flag
func (b *Batch) Empty() bool {
	for _, fs := range b {
		if len(fs) > 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the batch
func (b Batch) Clone() Batch {
	var out Batch
	for c, fs := range b {
		if fs != nil {
			out[c] = append([]Flag(nil), fs...)
		}
	}
	return out
}

// Strings renders one category as plain strings, pairs become "key value"
func (b *Batch) Strings(c Category) []string {
	out := make([]string, 0, len(b[c]))
	for _, f := range b[c] {
		if c == Defines {
			out = append(out, f.DefineString())
		} else {
			out = append(out, f.String())
		}
	}
	return out
}

// Render turns the batch back into argv elements, one category after
// another. Parsing the result yields the same batch as long as no flag was
// filed under two categories (-Wa, -pthread and friends).
func (b *Batch) Render() []string {
	var args []string
	for c, fs := range b {
		for _, f := range fs {
			switch Category(c) {
			case Defines:
				args = append(args, "-D"+strings.ReplaceAll(f.DefineString(), `\"`, `"`))
			case IncludePaths:
				args = append(args, "-I"+f.Key)
			case LibPaths:
				args = append(args, "-L"+f.Key)
			case Libs:
				args = append(args, "-l"+f.Key)
			default:
				args = append(args, f.Args()...)
			}
		}
	}
	return args
}
