package flags

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// Parser turns raw flag strings into batches. Relative paths are resolved
// against BaseDir (the project directory); an empty BaseDir means the
// working directory.
type Parser struct {
	BaseDir string
}

// options that take the next token as their argument and form a CCFlags pair
var ccPairOptions = map[string]bool{
	"-isystem":     true,
	"-iquote":      true,
	"-idirafter":   true,
	"-iprefix":     true,
	"-iwithprefix": true,
}

// options whose argument is a file made absolute
var ccFilePairOptions = map[string]bool{
	"-include": true,
	"-imacros": true,
}

// options that go to both compile and link lines
var ccLinkPairOptions = map[string]bool{
	"-isysroot": true,
	"-arch":     true,
}

var ccLinkFlags = map[string]bool{
	"-pthread":    true,
	"-fopenmp":    true,
	"-mno-cygwin": true,
}

var linkOnlyFlags = map[string]bool{
	"-mwindows": true,
	"-rdynamic": true,
}

// Parse parses every raw string independently and concatenates the results
// in input order. It never fails: unknown or malformed tokens end up in
// CCFlags unchanged.
func (p Parser) Parse(raw ...string) Batch {
	var out Batch
	for _, s := range raw {
		out.Concat(p.parseOne(s))
	}
	return out
}

// Parse is a shorthand for Parser{}.Parse
func Parse(raw ...string) Batch {
	return Parser{}.Parse(raw...)
}

func splitArgs(s string) []string {
	tokens, err := shlex.Split(s)
	if err != nil {
		return strings.Fields(s)
	}
	return tokens
}

func (p Parser) parseOne(s string) Batch {
	var b Batch
	tokens := splitArgs(s)

	// next returns the argument of an option at tokens[i], if any
	next := func(i int) (string, bool) {
		if i+1 < len(tokens) {
			return tokens[i+1], true
		}
		return "", false
	}

	for i := 0; i < len(tokens); i++ {
		arg := tokens[i]

		switch {
		case arg == "":
			continue

		case ccFilePairOptions[arg]:
			val, ok := next(i)
			if !ok {
				b.Append(CCFlags, Scalar(arg))
				continue
			}
			i++
			b.Append(CCFlags, Pair(arg, p.realpath(val)))

		case ccPairOptions[arg]:
			val, ok := next(i)
			if !ok {
				b.Append(CCFlags, Scalar(arg))
				continue
			}
			i++
			b.Append(CCFlags, Pair(arg, val))

		case ccLinkPairOptions[arg]:
			val, ok := next(i)
			if !ok {
				b.Append(CCFlags, Scalar(arg))
				continue
			}
			i++
			b.Append(CCFlags, Pair(arg, val))
			b.Append(LinkFlags, Pair(arg, val))

		case arg == "-Xlinker":
			val, ok := next(i)
			if !ok {
				b.Append(CCFlags, Scalar(arg))
				continue
			}
			i++
			b.Append(LinkFlags, Pair(arg, val))

		case arg == "-U":
			val, ok := next(i)
			if !ok {
				b.Append(CCFlags, Scalar(arg))
				continue
			}
			i++
			b.Append(CCFlags, Scalar(arg+val))

		case arg == "-D" || arg == "-I" || arg == "-L" || arg == "-l":
			val, ok := next(i)
			if !ok {
				b.Append(CCFlags, Scalar(arg))
				continue
			}
			i++
			p.appendPrefixed(&b, arg, val)

		case strings.HasPrefix(arg, "-D"), strings.HasPrefix(arg, "-I"),
			strings.HasPrefix(arg, "-L"), strings.HasPrefix(arg, "-l"):
			p.appendPrefixed(&b, arg[:2], arg[2:])

		case strings.HasPrefix(arg, "-Wl,"):
			b.Append(LinkFlags, Scalar(arg))
		case strings.HasPrefix(arg, "-Wa,"):
			b.Append(ASFlags, Scalar(arg))
			b.Append(CCFlags, Scalar(arg))
		case strings.HasPrefix(arg, "-Wp,"):
			b.Append(CPPFlags, Scalar(arg))

		case strings.HasPrefix(arg, "-std="):
			if strings.Contains(arg, "++") {
				b.Append(CXXFlags, Scalar(arg))
			} else {
				b.Append(CFlags, Scalar(arg))
			}

		case ccLinkFlags[arg], strings.HasPrefix(arg, "+"):
			b.Append(CCFlags, Scalar(arg))
			b.Append(LinkFlags, Scalar(arg))
		case linkOnlyFlags[arg]:
			b.Append(LinkFlags, Scalar(arg))

		case !strings.HasPrefix(arg, "-"):
			b.Append(Libs, Scalar(arg))

		default:
			b.Append(CCFlags, Scalar(arg))
		}
	}

	return b
}

// appendPrefixed handles -D, -I, -L and -l with their argument split off
func (p Parser) appendPrefixed(b *Batch, opt, val string) {
	if val == "" {
		b.Append(CCFlags, Scalar(opt))
		return
	}
	switch opt {
	case "-D":
		name, value, hasValue := strings.Cut(val, "=")
		if name == "" {
			b.Append(CCFlags, Scalar(opt+val))
			return
		}
		if hasValue {
			b.Append(Defines, Pair(name, normalizeDefineValue(value)))
		} else {
			b.Append(Defines, Scalar(name))
		}
	case "-I":
		b.Append(IncludePaths, Scalar(p.dirpath(val)))
	case "-L":
		b.Append(LibPaths, Scalar(p.dirpath(val)))
	case "-l":
		b.Append(Libs, Scalar(val))
	}
}

func (p Parser) abs(path string) string {
	if !filepath.IsAbs(path) && p.BaseDir != "" {
		path = filepath.Join(p.BaseDir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

// dirpath canonicalizes path when it names an existing directory, otherwise
// it is returned unchanged
func (p Parser) dirpath(path string) string {
	full := p.abs(path)
	if st, err := os.Stat(full); err != nil || !st.IsDir() {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		return resolved
	}
	return full
}

// realpath makes path absolute, resolving symlinks when it exists
func (p Parser) realpath(path string) string {
	full := p.abs(path)
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		return resolved
	}
	return full
}
