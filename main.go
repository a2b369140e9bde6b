package main

import "github.com/qobs-build/qembed/cmd"

func main() {
	cmd.Execute()
}
