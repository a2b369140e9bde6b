// qembed [project dir], qembed build [project dir]
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/qobs-build/qembed/internal/builder"
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/qobs-build/qembed/internal/source"
	"github.com/qobs-build/qembed/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagEnvs      []string
	flagTargets   []string
	flagJobs      int
	flagVerbose   bool
	flagMacros    bool
	flagGenerator string
	flagBindMode  source.BindMode

	generatorChoice = newChoice(&flagGenerator, builder.GeneratorQembed,
		option(builder.GeneratorQembed, builder.GeneratorQembed, "Use qembed's builder"),
		option(builder.GeneratorNinja, builder.GeneratorNinja, "Generate a build.ninja file and run ninja"),
	)
	bindChoice = newChoice(&flagBindMode, "symlink",
		option("symlink", source.Symlink, "Link sources into the build directory"),
		option("copy", source.Copy, "Copy sources into the build directory"),
	)
)

func buildOptions() builder.Options {
	return builder.Options{
		Envs:           flagEnvs,
		Targets:        flagTargets,
		Generator:      flagGenerator,
		Jobs:           flagJobs,
		Verbose:        flagVerbose,
		CompilerMacros: flagMacros,
		BindMode:       flagBindMode,
	}
}

// signalContext is cancelled on interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func openProject(args []string) *builder.Builder {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	b, err := builder.NewBuilderInDirectory(target)
	if err != nil {
		msg.Fatal("%v", err)
	}
	return b
}

func doBuild(cmd *cobra.Command, args []string) {
	b := openProject(args)
	ctx, cancel := signalContext()
	defer cancel()
	if err := b.Build(ctx, buildOptions()); err != nil {
		msg.Fatal("%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:     "qembed [project dir]",
	Short:   "Embedded build tool",
	Long:    `qembed builds embedded C/C++ projects described by qembed.toml for the platforms, boards and frameworks installed in the core directory.`,
	Version: version.Version,
	Args:    cobra.MaximumNArgs(1),
	Run:     doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [project dir]",
	Short: "Build the project",
	Long:  `Build the selected environments of the project. If no project dir is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	addBuildFlags(rootCmd)

	// qembed build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&flagEnvs, "environment", "e", nil, "Process the given environments (default: default_envs or all)")
	cmd.Flags().StringSliceVarP(&flagTargets, "target", "t", nil, "Build targets: nobuild, idedata, compiledb, checkprogsize, debug")
	generatorChoice.register(cmd, "gen", "g", "Generator to build with")
	bindChoice.register(cmd, "bind", "", "How sources are placed into the build directory")
	cmd.Flags().IntVarP(&flagJobs, "jobs", "j", runtime.NumCPU(), "Number of parallel compile jobs")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print every command")
	cmd.Flags().BoolVar(&flagMacros, "compiler-macros", false, "Include the compiler built-in macros in idedata")
	cmd.RegisterFlagCompletionFunc("target", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{builder.TargetNoBuild, builder.TargetIDEData, builder.TargetCompileDB, builder.TargetSize, builder.TargetDebug}, cobra.ShellCompDirectiveNoFileComp
	})
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
