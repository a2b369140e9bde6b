// qembed test [project dir] [-- program args]
package cmd

import (
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/spf13/cobra"
)

func doTest(cmd *cobra.Command, args []string) {
	var projectArgs, programArgs []string
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		projectArgs, programArgs = args[:at], args[at:]
	} else {
		projectArgs = args
	}
	if len(projectArgs) > 1 {
		msg.Fatal("expected at most one project dir, pass program arguments after --")
	}

	b := openProject(projectArgs)
	ctx, cancel := signalContext()
	defer cancel()
	if err := b.BuildAndRun(ctx, programArgs, buildOptions()); err != nil {
		msg.Fatal("%v", err)
	}
}

var testCmd = &cobra.Command{
	Use:     "test [project dir] [-- args]",
	Aliases: []string{"run"},
	Short:   "Build the test sources and run them",
	Long:    `Build test_dir of the selected native environments and run the resulting programs. If no project dir is given, uses "."`,
	Args:    cobra.ArbitraryArgs,
	Run:     doTest,
}

func init() {
	// qembed test subcommand
	rootCmd.AddCommand(testCmd)
	addBuildFlags(testCmd)
}
