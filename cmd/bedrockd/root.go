// Package main is the bedrockd daemon entrypoint: a cobra root command
// with serve and version subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "bedrockd",
	Short: "replicated command execution node",
	Long: fmt.Sprintf(`bedrockd (v%s)

A replicated SQL command execution node: peek/process pipeline, a nine-state
cluster membership state machine, and a replicated write path with ASYNC or
QUORUM consistency.`, version),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of bedrockd",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bedrockd v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
