// qembed platform list|show|install|uninstall|update|search
package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/qobs-build/qembed/internal/index"
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/qobs-build/qembed/internal/platform"
	"github.com/spf13/cobra"
)

var (
	flagCoreDir      string
	flagWithOptional bool
)

func coreDir() string {
	dir, err := platform.CoreDir(flagCoreDir)
	if err != nil {
		msg.Fatal("could not find the core directory: %v", err)
	}
	return dir
}

// resolveSource turns an install argument into a fetch source: explicit
// sources and existing paths are used as is, other names go through the index
func resolveSource(arg string) string {
	if strings.Contains(arg, ":") {
		return arg
	}
	if _, err := os.Stat(arg); err == nil {
		return arg
	}
	idx, err := index.GetIndexAnyhow()
	if err != nil {
		msg.Fatal("failed to load global index: %v", err)
	}
	src, err := idx.Resolve(arg)
	if err != nil {
		msg.Fatal("%v", err)
	}
	return src
}

func printPlatformLine(p *platform.Platform) {
	frameworks := slices.Sorted(maps.Keys(p.Frameworks))
	fmt.Printf("%s %s (%s)\n", color.HiCyanString(p.Name), p.Version, p.DisplayTitle())
	if len(frameworks) > 0 {
		fmt.Printf("    frameworks: %s\n", strings.Join(frameworks, ", "))
	}
}

func doPlatformList() {
	platforms, err := platform.List(coreDir())
	if err != nil {
		msg.Fatal("%v", err)
	}
	if len(platforms) == 0 {
		msg.Info("no platforms installed in %s", platform.PlatformsDir(coreDir()))
		return
	}
	for _, p := range platforms {
		printPlatformLine(p)
	}
}

func doPlatformShow(name string) {
	p, err := platform.Load(coreDir(), name)
	if err != nil {
		msg.Fatal("%v", err)
	}
	printPlatformLine(p)
	if p.Description != "" {
		fmt.Printf("    %s\n", p.Description)
	}
	if p.Homepage != "" {
		fmt.Printf("    homepage: %s\n", p.Homepage)
	}

	fmt.Println(color.HiGreenString("Packages"))
	for _, pkg := range p.InstalledPackages() {
		fmt.Printf("    %s %s (%s)\n", pkg.Name, platform.OriginalVersion(pkg.Version), pkg.Type)
	}
	for _, name := range p.MissingPackages() {
		fmt.Printf("    %s %s\n", name, color.YellowString("not installed"))
	}

	boards, err := p.Boards()
	if err != nil {
		msg.Fatal("%v", err)
	}
	fmt.Println(color.HiGreenString("Boards"))
	for _, b := range boards {
		fmt.Printf("    %-24s %s", b.ID, b.Name)
		if b.Vendor != "" {
			fmt.Printf(" (%s)", b.Vendor)
		}
		fmt.Println()
	}
}

func doPlatformInstall(arg string) {
	p, err := platform.Install(coreDir(), resolveSource(arg))
	if err != nil {
		msg.Fatal("%v", err)
	}
	if flagWithOptional {
		if err := p.InstallPackages(true); err != nil {
			msg.Fatal("%v", err)
		}
	}
	msg.Info("installed platform %s %s", p.Name, p.Version)
}

func doPlatformUninstall(name string) {
	if err := platform.Uninstall(coreDir(), name); err != nil {
		msg.Fatal("%v", err)
	}
	msg.Info("uninstalled platform %s", name)
}

func doPlatformUpdate(name string) {
	p, err := platform.Update(coreDir(), name)
	if err != nil {
		msg.Fatal("%v", err)
	}
	msg.Info("updated platform %s to %s", p.Name, p.Version)
}

func doPlatformSearch(term string) {
	idx, err := index.GetIndexAnyhow()
	if err != nil {
		msg.Fatal("failed to load global index: %v", err)
	}

	matches := idx.Search(term)
	for i, name := range matches {
		fmt.Printf("%d. %s -> %s\n", i+1, name, idx.Platforms[name])
	}
	if len(matches) == 0 {
		msg.Warn("no matches found for %q", term)
	} else {
		msg.Info("found %d matches for %q", len(matches), term)
	}
}

var platformListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed platforms",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		doPlatformList()
	},
}

var platformShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show an installed platform, its packages and boards",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doPlatformShow(args[0])
	},
}

var platformInstallCmd = &cobra.Command{
	Use:   "install <name|source>",
	Short: "Install a platform from the index, a git repository, an archive or a local path",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doPlatformInstall(args[0])
	},
}

var platformUninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "Remove an installed platform",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doPlatformUninstall(args[0])
	},
}

var platformUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update a platform installed from git",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doPlatformUpdate(args[0])
	},
}

var platformSearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search the global index for platforms",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doPlatformSearch(args[0])
	},
}

var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Manage development platforms",
}

func init() {
	// qembed platform subcommand
	platformCmd.PersistentFlags().StringVar(&flagCoreDir, "core-dir", "", "Core directory (default: $"+platform.CoreDirEnv+" or ~/.qembed)")
	platformInstallCmd.Flags().BoolVar(&flagWithOptional, "with-optional", false, "Also install optional packages")
	platformCmd.AddCommand(platformListCmd)
	platformCmd.AddCommand(platformShowCmd)
	platformCmd.AddCommand(platformInstallCmd)
	platformCmd.AddCommand(platformUninstallCmd)
	platformCmd.AddCommand(platformUpdateCmd)
	platformCmd.AddCommand(platformSearchCmd)
	rootCmd.AddCommand(platformCmd)
}
