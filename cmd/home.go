// qembed home
package cmd

import (
	"path/filepath"

	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/qobs-build/qembed/internal/home"
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/spf13/cobra"
)

var (
	homeOpts   = home.Options{Host: home.DefaultHost, Port: home.DefaultPort, LogLevel: "info"}
	homeNoOpen bool
)

func openBrowser(url string) {
	if homeNoOpen {
		return
	}
	if err := browser.OpenURL(url); err != nil {
		msg.Warn("could not open a browser: %v", err)
	}
}

func doHome() {
	url := home.URL(homeOpts.Host, homeOpts.Port)
	if home.AlreadyRunning(homeOpts.Host, homeOpts.Port) {
		msg.Info("home server is already running at %s", url)
		openBrowser(url)
		return
	}

	if homeOpts.CacheDir == "" {
		homeOpts.CacheDir = filepath.Join(coreDir(), ".cache", "home")
	}
	srv, err := home.NewServer(homeOpts)
	if err != nil {
		msg.Fatal("%v", err)
	}
	defer srv.Close()

	ctx, cancel := signalContext()
	defer cancel()

	msg.Info("home server at %s, press %s to quit", color.HiCyanString(url), "Ctrl+C")
	openBrowser(url)
	if err := srv.ListenAndServe(ctx); err != nil {
		msg.Fatal("%v", err)
	}
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Start the home server for IDE integrations",
	Long:  `Start a local HTTP server exposing a JSON-RPC 2.0 WebSocket endpoint at /wsrpc.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		doHome()
	},
}

func init() {
	// qembed home subcommand
	homeCmd.Flags().StringVar(&homeOpts.Host, "host", homeOpts.Host, "Host to listen on")
	homeCmd.Flags().IntVar(&homeOpts.Port, "port", homeOpts.Port, "Port to listen on")
	homeCmd.Flags().StringVar(&homeOpts.WWW, "www", "", "Directory of static files to serve at /")
	homeCmd.Flags().StringVar(&homeOpts.LogLevel, "log-level", homeOpts.LogLevel, "Log level: debug, info, warn, error")
	homeCmd.Flags().StringVar(&homeOpts.CacheDir, "cache-dir", "", "Content cache directory (default: <core dir>/.cache/home)")
	homeCmd.Flags().StringVar(&flagCoreDir, "core-dir", "", "Core directory")
	homeCmd.Flags().BoolVar(&homeNoOpen, "no-open", false, "Do not open a browser")
	rootCmd.AddCommand(homeCmd)
}
