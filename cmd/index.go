// qembed platform index
package cmd

import (
	"os"
	"path/filepath"

	"github.com/qobs-build/qembed/internal/index"
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/spf13/cobra"
)

// ensureLocalIndex loads qembed_index.json from cwd or fails
func ensureLocalIndex() (*index.Index, string) {
	cwd, err := os.Getwd()
	if err != nil {
		msg.Fatal("could not get current directory: %v", err)
	}
	indexPath := filepath.Join(cwd, index.IndexFilename)
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		msg.Fatal("no %s found in current directory (must run inside the qembed index; create it if you need a new index)", index.IndexFilename)
	}

	idx, err := index.ParseIndexInPath(cwd)
	if err != nil {
		msg.Fatal("failed to parse index: %v", err)
	}
	return idx, cwd
}

func doIndexAdd(name, source string) {
	idx, cwd := ensureLocalIndex()

	if idx.HasPlatform(name) {
		msg.Warn("overwriting existing platform %s", name)
	}
	idx.SetPlatform(name, source)

	if err := idx.Save(cwd); err != nil {
		msg.Fatal("failed to save index: %v", err)
	}
	msg.Info("added platform %s -> %s", name, source)
}

func doIndexRemove(name string) {
	idx, cwd := ensureLocalIndex()

	if !idx.RemovePlatform(name) {
		msg.Warn("platform %s not found", name)
	} else {
		msg.Info("removed platform %s", name)
	}

	if err := idx.Save(cwd); err != nil {
		msg.Fatal("failed to save index: %v", err)
	}
}

func doIndexUpdate() {
	idx, err := index.UpdateGlobalIndex()
	if err != nil {
		msg.Fatal("failed to update global index: %v", err)
	}
	msg.Info("updated global index successfully, %d platforms", len(idx.Platforms))
}

var indexAddCmd = &cobra.Command{
	Use:   "add <name> <source>",
	Short: "Add a platform to the local index",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		doIndexAdd(args[0], args[1])
	},
}

var indexRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a platform from the local index",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doIndexRemove(args[0])
	},
}

var indexUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the global cached index",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		doIndexUpdate()
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the platform index",
}

func init() {
	// qembed platform index subcommand
	indexCmd.AddCommand(indexUpdateCmd)
	indexCmd.AddCommand(indexAddCmd)
	indexCmd.AddCommand(indexRemoveCmd)
	platformCmd.AddCommand(indexCmd)
}
