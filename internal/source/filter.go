// Package source selects build inputs from a source tree with signed glob
// rules and maps them into per-directory build variants.
package source

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile is an optional gitignore-style file at the source root listing
// paths that never take part in a build
const IgnoreFile = ".qembedignore"

var (
	HeaderExts = []string{"h", "hpp"}
	CExts      = []string{"c", "cc", "cpp"}
	BuildExts  = append(slices.Clone(CExts), "S", "spp", "SPP", "sx", "s", "asm", "ASM")
	LintExts   = append(slices.Clone(BuildExts), HeaderExts...)
)

// Rule is a signed glob pattern relative to the source root
type Rule struct {
	Include bool
	Pattern string
	dirOnly bool
}

func (r Rule) String() string {
	sign := "-"
	if r.Include {
		sign = "+"
	}
	pat := r.Pattern
	if r.dirOnly {
		pat += "/"
	}
	return sign + "<" + pat + ">"
}

// Filter is an ordered list of rules, later rules override earlier ones
type Filter []Rule

var ruleRegex = regexp.MustCompile(`(\+|-)<([^>]+)>`)

// DefaultFilter includes everything but version control metadata
var DefaultFilter = ParseFilter("+<*> -<.git/> -<.svn/>")

// ParseFilter extracts every +<glob> and -<glob> rule from the given strings.
// Text outside of rules is ignored. Backslashes are accepted as separators.
func ParseFilter(rules ...string) Filter {
	var f Filter
	joined := strings.ReplaceAll(strings.Join(rules, " "), `\`, "/")
	for _, m := range ruleRegex.FindAllStringSubmatch(joined, -1) {
		pat := strings.TrimSpace(m[2])
		r := Rule{Include: m[1] == "+"}
		if strings.HasSuffix(pat, "/") {
			r.dirOnly = true
			pat = strings.TrimRight(pat, "/")
		}
		pat = strings.TrimPrefix(path.Clean("/"+pat), "/")
		if pat == "" {
			pat = "**"
		}
		r.Pattern = pat
		f = append(f, r)
	}
	return f
}

// matches reports whether the rule selects rel (a slash separated file path)
// either directly or through one of its ancestor directories
func (r Rule) matches(rel string) bool {
	if !r.dirOnly {
		if ok, _ := doublestar.Match(r.Pattern, rel); ok {
			return true
		}
	}
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if ok, _ := doublestar.Match(r.Pattern, dir); ok {
			return true
		}
	}
	return false
}

// Includes evaluates the filter for one path: the last matching rule decides,
// a path no rule matches is excluded
func (f Filter) Includes(rel string) bool {
	rel = filepath.ToSlash(rel)
	included := false
	for _, r := range f {
		if r.matches(rel) {
			included = r.Include
		}
	}
	return included
}

// HasExt reports whether name ends with one of exts (case sensitive)
func HasExt(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, "."+ext) {
			return true
		}
	}
	return false
}

// Match walks root and returns the sorted slash separated paths, relative to
// root, selected by the filter and carrying one of exts. An empty filter
// means DefaultFilter, nil exts accepts any file.
func Match(root string, filter Filter, exts []string) ([]string, error) {
	if len(filter) == 0 {
		filter = DefaultFilter
	}

	var gi *ignore.GitIgnore
	if _, err := os.Stat(filepath.Join(root, IgnoreFile)); err == nil {
		gi, err = ignore.CompileIgnoreFile(filepath.Join(root, IgnoreFile))
		if err != nil {
			return nil, err
		}
	}

	var matched []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if rel == IgnoreFile || (gi != nil && gi.MatchesPath(rel)) {
			return nil
		}
		if exts != nil && !HasExt(rel, exts) {
			return nil
		}
		if filter.Includes(rel) {
			matched = append(matched, rel)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	slices.Sort(matched)
	return matched, nil
}
