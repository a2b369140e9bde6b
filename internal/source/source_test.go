package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestParseFilter(t *testing.T) {
	t.Parallel()

	f := ParseFilter("+<*> -<legacy/>", `-<old\*.c>`, "garbage +<sub/**/*.c>")
	require.Len(t, f, 4)
	assert.Equal(t, "+<*>", f[0].String())
	assert.Equal(t, "-<legacy/>", f[1].String())
	assert.Equal(t, "-<old/*.c>", f[2].String())
	assert.Equal(t, "+<sub/**/*.c>", f[3].String())
}

func TestDefaultFilterTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.c", "")
	writeFile(t, root, "b.h", "")
	writeFile(t, root, ".git/x.c", "")

	build, err := Match(root, nil, BuildExts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.c"}, build)

	lint, err := Match(root, nil, LintExts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.c", "b.h"}, lint)
}

func TestFilterLastRuleWins(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "main.c", "")
	writeFile(t, root, "legacy/old.c", "")
	writeFile(t, root, "legacy/keep.c", "")
	writeFile(t, root, "drivers/uart/uart.c", "")
	writeFile(t, root, "drivers/spi/spi.S", "")

	got, err := Match(root, ParseFilter("+<*>", "-<legacy/>", "+<legacy/keep.c>", "-<drivers/**/*.S>"), BuildExts)
	require.NoError(t, err)
	assert.Equal(t, []string{"drivers/uart/uart.c", "legacy/keep.c", "main.c"}, got)
}

func TestFilterNoMatchExcluded(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.c", "")
	writeFile(t, root, "b.cpp", "")

	got, err := Match(root, ParseFilter("+<*.cpp>"), BuildExts)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.cpp"}, got)

	got, err = Match(root, ParseFilter("-<*>"), BuildExts)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtensionsAreCaseSensitive(t *testing.T) {
	t.Parallel()

	assert.True(t, HasExt("start.S", BuildExts))
	assert.True(t, HasExt("start.s", BuildExts))
	assert.False(t, HasExt("main.C", BuildExts))
	assert.False(t, HasExt("notes.txt", LintExts))
	assert.True(t, HasExt("x.hpp", LintExts))
}

func TestMatchHonorsIgnoreFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.c", "")
	writeFile(t, root, "gen/out.c", "")
	writeFile(t, root, IgnoreFile, "gen/\n")

	got, err := Match(root, nil, BuildExts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.c"}, got)
}

func TestMatchMissingRoot(t *testing.T) {
	t.Parallel()

	got, err := Match(filepath.Join(t.TempDir(), "nope"), nil, BuildExts)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCollectVariants(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, src, "main.c", "int main(void){return 0;}")
	writeFile(t, src, "util/util.c", "")
	writeFile(t, src, "util/util.h", "")
	writeFile(t, src, "other/util.c", "")

	variantRoot := filepath.Join(root, "build", "src")
	c, err := Collect(variantRoot, src, nil, Symlink)
	require.NoError(t, err)

	assert.Equal(t, []File{
		{Source: filepath.Join(src, "main.c"), Path: filepath.Join(variantRoot, "main.c")},
		{Source: filepath.Join(src, "other", "util.c"), Path: filepath.Join(variantRoot, "other", "util.c")},
		{Source: filepath.Join(src, "util", "util.c"), Path: filepath.Join(variantRoot, "util", "util.c")},
	}, c.Files)

	assert.Equal(t, []Variant{
		{SrcDir: filepath.Join(src, "."), VariantDir: filepath.Join(variantRoot, ".")},
		{SrcDir: filepath.Join(src, "other"), VariantDir: filepath.Join(variantRoot, "other")},
		{SrcDir: filepath.Join(src, "util"), VariantDir: filepath.Join(variantRoot, "util")},
	}, c.Variants)
	assert.Contains(t, c.Lint, "util/util.h")

	// headers are bound too so quoted includes resolve from the variant dir
	data, err := os.ReadFile(filepath.Join(variantRoot, "main.c"))
	require.NoError(t, err)
	assert.Equal(t, "int main(void){return 0;}", string(data))
	_, err = os.Stat(filepath.Join(variantRoot, "util", "util.h"))
	assert.NoError(t, err)

	// collecting again is idempotent
	_, err = Collect(variantRoot, src, nil, Symlink)
	require.NoError(t, err)
}

func TestCollectMirrorsWholeTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, src, "a.c", `#include "tbl.inc"`)
	writeFile(t, src, "tbl.inc", "1, 2, 3")
	writeFile(t, src, "sub/b.c", `#include "tbl.inc"`)
	writeFile(t, src, "sub/tbl.inc", "4")
	writeFile(t, src, "legacy/old.h", "")
	writeFile(t, src, "legacy/old.c", "")

	variantRoot := filepath.Join(root, "build", "src")
	for _, mode := range []BindMode{Symlink, Copy} {
		c, err := Collect(variantRoot, src, ParseFilter("+<*> -<legacy/>"), mode)
		require.NoError(t, err)

		assert.Equal(t, []File{
			{Source: filepath.Join(src, "a.c"), Path: filepath.Join(variantRoot, "a.c")},
			{Source: filepath.Join(src, "sub", "b.c"), Path: filepath.Join(variantRoot, "sub", "b.c")},
		}, c.Files)

		for _, rel := range []string{"tbl.inc", "sub/tbl.inc", "legacy/old.h"} {
			_, err := os.Stat(filepath.Join(variantRoot, filepath.FromSlash(rel)))
			assert.NoError(t, err, rel)
		}
	}
}

func TestCollectNestedVariantRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "main.c", "")
	writeFile(t, root, ".qembed/other/stale.c", "")

	variantRoot := filepath.Join(root, ".qembed", "build", "src")
	c, err := Collect(variantRoot, root, ParseFilter("+<*.c>"), Symlink)
	require.NoError(t, err)
	require.Len(t, c.Files, 1)
	assert.Equal(t, filepath.Join(variantRoot, "main.c"), c.Files[0].Path)

	_, err = os.Stat(filepath.Join(variantRoot, ".qembed"))
	assert.True(t, os.IsNotExist(err))
}

func TestCollectCopy(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, src, "main.c", "v1")

	variantRoot := filepath.Join(root, "build")
	c, err := Collect(variantRoot, src, nil, Copy)
	require.NoError(t, err)
	require.Len(t, c.Files, 1)

	st, err := os.Lstat(c.Files[0].Path)
	require.NoError(t, err)
	assert.Zero(t, st.Mode()&os.ModeSymlink)

	writeFile(t, src, "main.c", "v2")
	_, err = Collect(variantRoot, src, nil, Copy)
	require.NoError(t, err)
	data, err := os.ReadFile(c.Files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestCollectEmpty(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/readme.txt", "")
	c, err := Collect(filepath.Join(root, "build"), filepath.Join(root, "src"), nil, Symlink)
	require.NoError(t, err)
	assert.Empty(t, c.Files)
}
