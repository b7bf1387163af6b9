// Package main is the entry point for the distexd node binary, a thin CLI
// wrapper around the command-graph serializer and worker job engine used
// to exercise them against in-memory collaborators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/distex-rt/distex/cmd/distexd/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "distexd",
		Short: "distex node runtime: command graph serializer and worker job engine",
		Long: `distexd drives the distributed-execution runtime's scheduler core:
the command graph serializer (which turns a flushed task into an ordered
stream of commands per node) and the worker job engine (which turns that
stream into progress on a device queue and a buffer-transfer manager).

Commands:
  run       Run a task-graph fixture through the serializer and engine
  simulate  Run a built-in two-node push/await_push scenario
  options   List recognized configuration options
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewSimulateCommand())
	rootCmd.AddCommand(commands.NewOptionsCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
