package index

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndSave(t *testing.T) {
	t.Parallel()

	idx, err := ParseIndex(strings.NewReader(`{"atmelavr": "gh:qembed/platform-atmelavr", "native": "platforms/native"}`), "/cache")
	require.NoError(t, err)
	assert.True(t, idx.HasPlatform("atmelavr"))

	dir := t.TempDir()
	idx.SetPlatform("ststm32", "https://example.org/ststm32.tar.gz")
	require.NoError(t, idx.Save(dir))

	again, err := ParseIndexInPath(dir)
	require.NoError(t, err)
	assert.Equal(t, idx.Platforms, again.Platforms)

	assert.True(t, again.RemovePlatform("ststm32"))
	assert.False(t, again.RemovePlatform("ststm32"))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	idx := &Index{basePath: "/cache", Platforms: map[string]string{
		"atmelavr": "gh:qembed/platform-atmelavr",
		"native":   "platforms/native",
	}}

	src, err := idx.Resolve("atmelavr")
	require.NoError(t, err)
	assert.Equal(t, "gh:qembed/platform-atmelavr", src)

	src, err = idx.Resolve("native")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/cache", "platforms", "native"), src)

	_, err = idx.Resolve("missing")
	assert.ErrorIs(t, err, errNotInIndex)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	idx := &Index{Platforms: map[string]string{
		"atmelavr": "gh:qembed/platform-atmelavr",
		"atmelsam": "gh:qembed/platform-atmelsam",
		"native":   "platforms/native",
	}}
	assert.Equal(t, []string{"atmelavr", "atmelsam"}, idx.Search("ATMEL"))
	assert.Empty(t, idx.Search("riscv"))
}
