// qembed init [name], qembed new [path]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pelletier/go-toml/v2"
	"github.com/qobs-build/qembed/internal/builder"
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/spf13/cobra"
)

var (
	initBoard     string
	initPlatform  string
	initFramework string
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
	}
}

func mkdir(elem ...string) {
	path := filepath.Join(elem...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", path, err)
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "qembed"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

type projectFile struct {
	Project struct {
		Name        string   `toml:"name"`
		DefaultEnvs []string `toml:"default_envs"`
	} `toml:"project"`
	Env map[string]envFile `toml:"env"`
}

type envFile struct {
	Platform  string   `toml:"platform"`
	Board     string   `toml:"board,omitempty"`
	Framework []string `toml:"framework,omitempty"`
}

// projectConfig renders qembed.toml with one environment named after the
// board, or "native" without one
func projectConfig(name, platformName, board, framework string) (string, error) {
	envName := board
	if envName == "" {
		envName = "native"
	}
	if platformName == "" {
		platformName = "native"
	}

	var cfg projectFile
	cfg.Project.Name = name
	cfg.Project.DefaultEnvs = []string{envName}
	env := envFile{Platform: platformName, Board: board}
	if framework != "" {
		env.Framework = []string{framework}
	}
	cfg.Env = map[string]envFile{envName: env}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const mainC = `#include <stdio.h>

int main(void) {
    puts("Hello, World!");
    return 0;
}
`

const mainCpp = `#include <Arduino.h>

void setup() {
}

void loop() {
}
`

const includeReadme = `Header files of the project go here. This directory is added to the
include path of every environment.
`

// initIn initializes a project in an existing directory
func initIn(dir, name string) {
	config, err := projectConfig(name, initPlatform, initBoard, initFramework)
	if err != nil {
		msg.Fatal("render %s: %v", builder.ConfigFilename, err)
	}
	writefile(config, dir, builder.ConfigFilename)

	mkdir(dir, "src")
	if initFramework != "" {
		writefile(mainCpp, dir, "src", "main.cpp")
	} else {
		writefile(mainC, dir, "src", "main.c")
	}

	mkdir(dir, "include")
	writefile(includeReadme, dir, "include", "README")

	writefile(".qembed/\n", dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("You can now do %s to build, or %s to build and run the tests.\n",
		color.HiCyanString(programName+" "+dir), color.HiCyanString(programName+" test "+dir))
}

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new project in the current directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(".", args[0])
	},
}

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a new project in a new directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mkdir(args[0])
		initIn(args[0], filepath.Base(args[0]))
	},
}

func addInitFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&initBoard, "board", "b", "", "Board ID of the first environment")
	cmd.Flags().StringVarP(&initPlatform, "platform", "p", "", "Platform of the first environment (default: native)")
	cmd.Flags().StringVarP(&initFramework, "framework", "f", "", "Framework of the first environment")
}

func init() {
	// qembed init subcommand
	rootCmd.AddCommand(initCmd)
	addInitFlags(initCmd)

	// qembed new subcommand
	rootCmd.AddCommand(newCmd)
	addInitFlags(newCmd)
}
