// Package main is the entry point for warden.
package main

import (
	"fmt"
	"os"

	"warden/cmd"
)

// main is the entry point.
func main() {
	root := cmd.NewRootCmd()

	// With no subcommand, run as a server
	if len(os.Args) == 1 {
		root.SetArgs([]string{"serve"})
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
