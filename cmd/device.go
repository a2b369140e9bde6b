// qembed device list, qembed device monitor
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/qobs-build/qembed/internal/builder"
	"github.com/qobs-build/qembed/internal/device"
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	listSerial bool
	listJSON   bool

	monitorOpts       = device.DefaultOptions()
	monitorRTS        int
	monitorDTR        int
	monitorProjectDir string
	monitorEnv        string
)

func doDeviceList() {
	ports, err := device.ListSerialPorts()
	if err != nil {
		msg.Fatal("%v", err)
	}

	if listJSON {
		if ports == nil {
			ports = []device.SerialPort{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ports); err != nil {
			msg.Fatal("%v", err)
		}
		return
	}

	for _, p := range ports {
		fmt.Println(color.HiCyanString(p.Port))
		fmt.Println(strings.Repeat("-", len(p.Port)))
		fmt.Printf("Hardware ID: %s\nDescription: %s\n\n", p.HWID, p.Description)
	}
}

// mergeFlags parses extra arguments into fs without overriding the flags
// that were already given on the command line
func mergeFlags(fs *pflag.FlagSet, extra []string) error {
	if len(extra) == 0 {
		return nil
	}

	given := make(map[string][]string)
	fs.Visit(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			given[f.Name] = sv.GetSlice()
		} else {
			given[f.Name] = []string{f.Value.String()}
		}
	})

	if err := fs.Parse(extra); err != nil {
		return fmt.Errorf("invalid monitor_flags: %w", err)
	}

	for name, values := range given {
		f := fs.Lookup(name)
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			if err := sv.Replace(values); err != nil {
				return err
			}
			continue
		}
		if err := f.Value.Set(values[0]); err != nil {
			return err
		}
	}
	return nil
}

// applyEnvMonitorOptions fills the options missing on the command line from
// the monitor_* settings of a project environment
func applyEnvMonitorOptions(fs *pflag.FlagSet, env *builder.EnvSection, opts *device.Options) error {
	if err := mergeFlags(fs, env.MonitorFlags); err != nil {
		return err
	}
	if !fs.Changed("port") && env.MonitorPort != "" {
		opts.Port = env.MonitorPort
	}
	if !fs.Changed("baud") && env.MonitorSpeed != 0 {
		opts.Baud = env.MonitorSpeed
	}
	if !fs.Changed("rts") && env.MonitorRTS != nil {
		opts.RTS = env.MonitorRTS
	}
	if !fs.Changed("dtr") && env.MonitorDTR != nil {
		opts.DTR = env.MonitorDTR
	}
	return nil
}

// projectEnv finds the environment whose monitor_* options apply, nil when
// dir is not a project
func projectEnv(dir, name string) (*builder.EnvSection, error) {
	if _, err := os.Stat(filepath.Join(dir, builder.ConfigFilename)); err != nil {
		if name != "" {
			return nil, fmt.Errorf("environment %q given but %s is not a qembed project", name, dir)
		}
		return nil, nil
	}
	b, err := builder.NewBuilderInDirectory(dir)
	if err != nil {
		return nil, err
	}
	var selected []string
	if name != "" {
		selected = []string{name}
	}
	names, err := b.Config().EnvNames(selected)
	if err != nil {
		return nil, err
	}
	return b.Config().Env[names[0]], nil
}

func doDeviceMonitor(cmd *cobra.Command) {
	fs := cmd.Flags()
	env, err := projectEnv(monitorProjectDir, monitorEnv)
	if err != nil {
		msg.Fatal("%v", err)
	}
	if env != nil {
		if err := applyEnvMonitorOptions(fs, env, &monitorOpts); err != nil {
			msg.Fatal("%v", err)
		}
	}
	if fs.Changed("rts") {
		monitorOpts.RTS = &monitorRTS
	}
	if fs.Changed("dtr") {
		monitorOpts.DTR = &monitorDTR
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := device.Monitor(ctx, monitorOpts); err != nil {
		msg.Fatal("%v", err)
	}
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List serial ports",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		doDeviceList()
	},
}

var deviceMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Open a serial monitor",
	Long:  `Open a serial monitor. Options not given on the command line come from the monitor_* settings of the project environment.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		doDeviceMonitor(cmd)
	},
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Serial devices",
}

func addMonitorFlags(fs *pflag.FlagSet, opts *device.Options, rts, dtr *int) {
	fs.StringVarP(&opts.Port, "port", "p", opts.Port, "Port name or glob pattern, e.g. /dev/ttyUSB*")
	fs.IntVarP(&opts.Baud, "baud", "b", opts.Baud, "Baud rate")
	newChoice(&opts.Parity, opts.Parity,
		option("N", "N", "none"), option("E", "E", "even"), option("O", "O", "odd"),
		option("S", "S", "space"), option("M", "M", "mark"),
	).addTo(fs, "parity", "", "Parity")
	fs.BoolVar(&opts.RTSCTS, "rtscts", opts.RTSCTS, "Enable RTS/CTS flow control")
	fs.BoolVar(&opts.XonXoff, "xonxoff", opts.XonXoff, "Enable software flow control")
	fs.IntVar(rts, "rts", 1, "Initial RTS line state, 0 or 1")
	fs.IntVar(dtr, "dtr", 1, "Initial DTR line state, 0 or 1")
	fs.BoolVar(&opts.Echo, "echo", opts.Echo, "Enable local echo")
	fs.StringVar(&opts.Encoding, "encoding", opts.Encoding, "Encoding: UTF-8, Latin1, hexlify")
	fs.StringSliceVarP(&opts.Filters, "filter", "f", opts.Filters, "Text filters: "+strings.Join(device.Filters, ", "))
	newChoice(&opts.EOL, opts.EOL,
		option(device.EOLCR, device.EOLCR, ""),
		option(device.EOLLF, device.EOLLF, ""),
		option(device.EOLCRLF, device.EOLCRLF, ""),
	).addTo(fs, "eol", "", "End of line mode")
	fs.BoolVar(&opts.Raw, "raw", opts.Raw, "Do not apply any encodings or filters")
	fs.IntVar(&opts.ExitChar, "exit-char", opts.ExitChar, "ASCII code of the exit character (default Ctrl+C)")
	fs.IntVar(&opts.MenuChar, "menu-char", opts.MenuChar, "ASCII code of the menu character (default Ctrl+T)")
	fs.BoolVarP(&opts.Quiet, "quiet", "q", opts.Quiet, "Do not print status messages")
}

func init() {
	// qembed device subcommand
	deviceListCmd.Flags().BoolVar(&listSerial, "serial", true, "List serial ports")
	deviceListCmd.Flags().BoolVar(&listJSON, "json-output", false, "Print the list as JSON")

	addMonitorFlags(deviceMonitorCmd.Flags(), &monitorOpts, &monitorRTS, &monitorDTR)
	deviceMonitorCmd.Flags().StringVarP(&monitorProjectDir, "project-dir", "d", ".", "Project directory for the monitor_* settings")
	deviceMonitorCmd.Flags().StringVarP(&monitorEnv, "environment", "e", "", "Environment for the monitor_* settings")

	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceMonitorCmd)
	rootCmd.AddCommand(deviceCmd)
}
