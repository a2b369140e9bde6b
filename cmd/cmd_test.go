package cmd

import (
	"strings"
	"testing"

	"github.com/qobs-build/qembed/internal/builder"
	"github.com/qobs-build/qembed/internal/device"
	"github.com/qobs-build/qembed/internal/source"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectConfig(t *testing.T) {
	data, err := projectConfig("blink", "atmelavr", "uno", "arduino")
	require.NoError(t, err)

	cfg, err := builder.ParseConfig(strings.NewReader(data), builder.NewConfigEnv())
	require.NoError(t, err)
	assert.Equal(t, "blink", cfg.Project.Name)
	assert.Equal(t, []string{"uno"}, cfg.Project.DefaultEnvs)
	require.Contains(t, cfg.Env, "uno")
	assert.Equal(t, "atmelavr", cfg.Env["uno"].Platform)
	assert.Equal(t, []string{"arduino"}, cfg.Env["uno"].Framework)

	data, err = projectConfig("hello", "", "", "")
	require.NoError(t, err)
	cfg, err = builder.ParseConfig(strings.NewReader(data), builder.NewConfigEnv())
	require.NoError(t, err)
	assert.Equal(t, "native", cfg.Env["native"].Platform)
	assert.Empty(t, cfg.Env["native"].Board)
}

func newMonitorFlags(t *testing.T, args ...string) (*pflag.FlagSet, *device.Options, *int, *int) {
	t.Helper()
	opts := device.DefaultOptions()
	var rts, dtr int
	fs := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	addMonitorFlags(fs, &opts, &rts, &dtr)
	require.NoError(t, fs.Parse(args))
	return fs, &opts, &rts, &dtr
}

func TestApplyEnvMonitorOptions(t *testing.T) {
	zero := 0
	env := &builder.EnvSection{
		MonitorPort:  "/dev/ttyUSB*",
		MonitorSpeed: 115200,
		MonitorDTR:   &zero,
		MonitorFlags: []string{"--echo", "--filter", "colorize", "--eol", "LF", "--parity", "E"},
	}

	fs, opts, _, _ := newMonitorFlags(t, "--baud", "57600", "-f", "time", "--parity", "O")
	require.NoError(t, applyEnvMonitorOptions(fs, env, opts))

	assert.Equal(t, "/dev/ttyUSB*", opts.Port)
	assert.Equal(t, 57600, opts.Baud)
	assert.True(t, opts.Echo)
	assert.Equal(t, "LF", opts.EOL)
	assert.Equal(t, "O", opts.Parity)
	assert.Equal(t, []string{"time"}, opts.Filters)
	assert.Nil(t, opts.RTS)
	require.NotNil(t, opts.DTR)
	assert.Equal(t, 0, *opts.DTR)
}

func TestApplyEnvMonitorOptionsCommandLineWins(t *testing.T) {
	one := 1
	env := &builder.EnvSection{MonitorPort: "COM3", MonitorRTS: &one, MonitorFlags: []string{"--rts", "0"}}

	fs, opts, rts, _ := newMonitorFlags(t, "-p", "/dev/ttyACM0")
	require.NoError(t, applyEnvMonitorOptions(fs, env, opts))
	assert.Equal(t, "/dev/ttyACM0", opts.Port)
	assert.True(t, fs.Changed("rts"))
	assert.Equal(t, 0, *rts)

	fs, opts, _, _ = newMonitorFlags(t)
	err := applyEnvMonitorOptions(fs, &builder.EnvSection{MonitorFlags: []string{"--bogus"}}, opts)
	assert.Error(t, err)
}

func TestChoice(t *testing.T) {
	var mode source.BindMode
	c := newChoice(&mode, "copy",
		option("symlink", source.Symlink, "link"),
		option("copy", source.Copy, ""),
	)
	assert.Equal(t, source.Copy, mode)
	assert.Equal(t, "copy", c.String())

	require.NoError(t, c.Set("SYMLINK"))
	assert.Equal(t, source.Symlink, mode)
	assert.Equal(t, "symlink", c.String())
	assert.ErrorContains(t, c.Set("hardlink"), "symlink, copy")

	items, directive := c.complete(nil, nil, "")
	assert.Equal(t, []string{"symlink\tlink", "copy"}, items)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	assert.Panics(t, func() { newChoice(&mode, "move", option("copy", source.Copy, "")) })
}

func TestMonitorChoiceFlags(t *testing.T) {
	fs, opts, _, _ := newMonitorFlags(t, "--eol", "lf", "--parity", "e")
	assert.Equal(t, "LF", opts.EOL)
	assert.Equal(t, "E", opts.Parity)

	fs = pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	defaults := device.DefaultOptions()
	var rts, dtr int
	addMonitorFlags(fs, &defaults, &rts, &dtr)
	assert.Error(t, fs.Parse([]string{"--parity", "X"}))
	assert.Equal(t, device.EOLCRLF, defaults.EOL)
}
