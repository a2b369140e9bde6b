package source

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// BindMode controls how sources are placed into variant directories
type BindMode int

const (
	// Symlink links every file into the variant dir, copying when the
	// filesystem refuses symlinks
	Symlink BindMode = iota
	// Copy always copies the files
	Copy
)

// Variant maps a source directory to its isolated output directory
type Variant struct {
	SrcDir     string
	VariantDir string
}

// File is a buildable source. Path lives inside a variant dir and is what
// the compiler is given, Source is the original file.
type File struct {
	Source string
	Path   string
}

// Collection is the result of collecting one source root
type Collection struct {
	Files    []File
	Variants []Variant
	// Lint holds every matched file including headers, relative to the root
	Lint []string
}

// Collect matches srcRoot with filter and mirrors srcRoot into variantRoot,
// every file included, so that quoted includes of excluded headers and
// non-source files still resolve next to the compiled path. Only the matched
// files with build extensions are returned as buildable.
func Collect(variantRoot, srcRoot string, filter Filter, mode BindMode) (*Collection, error) {
	items, err := Match(srcRoot, filter, LintExts)
	if err != nil {
		return nil, fmt.Errorf("failed to match sources in %s: %w", srcRoot, err)
	}

	c := &Collection{Lint: items}
	if len(items) == 0 {
		return c, nil
	}
	if err := mirror(variantRoot, srcRoot, mode); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, rel := range items {
		relDir := filepath.Dir(filepath.FromSlash(rel))
		if !seen[relDir] {
			seen[relDir] = true
			c.Variants = append(c.Variants, Variant{
				SrcDir:     filepath.Join(srcRoot, relDir),
				VariantDir: filepath.Join(variantRoot, relDir),
			})
		}
		if HasExt(rel, BuildExts) {
			c.Files = append(c.Files, File{
				Source: filepath.Join(srcRoot, filepath.FromSlash(rel)),
				Path:   filepath.Join(variantRoot, filepath.FromSlash(rel)),
			})
		}
	}

	return c, nil
}

// mirror binds every file below srcRoot into the same relative path below
// variantRoot. VCS dirs and the dirs holding a variantRoot nested in srcRoot
// are skipped.
func mirror(variantRoot, srcRoot string, mode BindMode) error {
	absVariant, err := filepath.Abs(variantRoot)
	if err != nil {
		return err
	}
	return filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(variantRoot, rel)

		if d.IsDir() {
			if name := d.Name(); rel != "." && (name == ".git" || name == ".svn") {
				return filepath.SkipDir
			}
			if abs, err := filepath.Abs(path); err == nil && rel != "." &&
				(abs == absVariant || strings.HasPrefix(absVariant, abs+string(filepath.Separator))) {
				return filepath.SkipDir
			}
			return os.MkdirAll(dst, 0o755)
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if err := bind(path, dst, mode); err != nil {
			return fmt.Errorf("failed to place %s into %s: %w", filepath.ToSlash(rel), variantRoot, err)
		}
		return nil
	})
}

// bind makes dst refer to src. An existing symlink to the same file is kept,
// anything else at dst is replaced.
func bind(src, dst string, mode BindMode) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return err
	}

	if mode == Symlink {
		if target, err := os.Readlink(dst); err == nil && target == abs {
			return nil
		}
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}

	if mode == Symlink {
		if err := os.Symlink(abs, dst); err == nil {
			return nil
		}
	}
	return copyFile(abs, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, st.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
