package flags

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategories(t *testing.T) {
	t.Parallel()

	b := Parse("-DFOO -DBAR=1 -DPI=3.14 -DNAME=value -Os -Wall -Wl,--gc-sections -lm -std=gnu11 -std=gnu++17 -Wa,-mthumb")

	assert.Equal(t, []Flag{
		Scalar("FOO"),
		Pair("BAR", int64(1)),
		Pair("PI", 3.14),
		Pair("NAME", "value"),
	}, b.Get(Defines))
	assert.Equal(t, []Flag{Scalar("-Os"), Scalar("-Wall"), Scalar("-Wa,-mthumb")}, b.Get(CCFlags))
	assert.Equal(t, []Flag{Scalar("-Wl,--gc-sections")}, b.Get(LinkFlags))
	assert.Equal(t, []Flag{Scalar("m")}, b.Get(Libs))
	assert.Equal(t, []Flag{Scalar("-std=gnu11")}, b.Get(CFlags))
	assert.Equal(t, []Flag{Scalar("-std=gnu++17")}, b.Get(CXXFlags))
	assert.Equal(t, []Flag{Scalar("-Wa,-mthumb")}, b.Get(ASFlags))
}

func TestParseDefineValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Flag
	}{
		{"-DA=42", Pair("A", int64(42))},
		{"-DA=007", Pair("A", int64(7))},
		{"-DA=1.", Pair("A", 1.0)},
		{"-DA=.5", Pair("A", 0.5)},
		{"-DA=1.2.3", Pair("A", "1.2.3")},
		{"-DA=0x10", Pair("A", "0x10")},
		{"-DA=", Pair("A", "")},
		{"-DA=99999999999999999999", Pair("A", "99999999999999999999")},
		{`-DA='"str"'`, Pair("A", `\"str\"`)},
		{"-D A=2", Pair("A", int64(2))},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			b := Parse(tt.raw)
			require.Len(t, b.Get(Defines), 1)
			assert.Equal(t, tt.want, b.Get(Defines)[0])
		})
	}
}

func TestParseQuotedDefineKeepsSpaces(t *testing.T) {
	t.Parallel()

	b := Parse(`-DGREETING='"hello world"'`)
	require.Len(t, b.Get(Defines), 1)
	assert.Equal(t, Pair("GREETING", `\"hello world\"`), b.Get(Defines)[0])

	var s Set
	s.ProcessFlags(b)
	assert.Equal(t, []string{`-DGREETING="hello world"`}, s.DefineArgs())
	assert.Equal(t, `"-DGREETING=\"hello world\""`, s.DefineString())
}

func TestParsePaths(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "include"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "lib"), 0o755))

	realBase, err := filepath.EvalSymlinks(base)
	require.NoError(t, err)

	p := Parser{BaseDir: base}
	b := p.Parse("-Iinclude -I missing -L lib -include config.h")

	assert.Equal(t, []Flag{
		Scalar(filepath.Join(realBase, "include")),
		Scalar("missing"),
	}, b.Get(IncludePaths))
	assert.Equal(t, []Flag{Scalar(filepath.Join(realBase, "lib"))}, b.Get(LibPaths))

	require.Len(t, b.Get(CCFlags), 1)
	inc := b.Get(CCFlags)[0]
	assert.Equal(t, "-include", inc.Key)
	assert.True(t, filepath.IsAbs(inc.ValueString()))
	assert.True(t, strings.HasSuffix(inc.ValueString(), "config.h"))
}

func TestParseMalformedPassesThrough(t *testing.T) {
	t.Parallel()

	b := Parse(`-include`, `-D`, `-D=1`, `-U`, `-fno-"unterminated`, `--weird`)
	assert.Equal(t, []Flag{
		Scalar("-include"),
		Scalar("-D"),
		Scalar("-D=1"),
		Scalar("-U"),
		Scalar(`-fno-"unterminated`),
		Scalar("--weird"),
	}, b.Get(CCFlags))
	assert.Empty(t, b.Get(Defines))
}

func TestParseConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	b := Parse("-DA -Os", "-DB -Os", "-DA")
	assert.Equal(t, []Flag{Scalar("A"), Scalar("B"), Scalar("A")}, b.Get(Defines))
	assert.Equal(t, []Flag{Scalar("-Os"), Scalar("-Os")}, b.Get(CCFlags))
}

func TestRenderRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"-DFOO -DBAR=1 -DPI=1.5 -DNAME=value -Iinc -Llib -lm -Os -Wl,-Map,out.map -std=c99",
		`-DGREETING='"hello world"' -DEMPTY= -isystem sys -Xlinker --no-undefined`,
		"-DF=1.0 -ffunction-sections -fdata-sections",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			b := Parse(in)
			var quoted []string
			for _, arg := range b.Render() {
				quoted = append(quoted, "'"+arg+"'")
			}
			assert.Equal(t, b, Parse(strings.Join(quoted, " ")))
		})
	}
}

func TestFlagRendering(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "FOO", Scalar("FOO").DefineString())
	assert.Equal(t, "F=1.0", Pair("F", 1.0).DefineString())
	assert.Equal(t, "F=2.5", Pair("F", 2.5).DefineString())
	assert.Equal(t, "N=10", Pair("N", int64(10)).DefineString())
	assert.Equal(t, "-include /x.h", Pair("-include", "/x.h").String())
	assert.Equal(t, []string{"-include", "/x.h"}, Pair("-include", "/x.h").Args())
}
