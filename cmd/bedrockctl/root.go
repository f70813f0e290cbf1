// Package main is bedrockctl: a thin client that frames one command per
// invocation and sends it to a running bedrockd node over TCP, using
// this project's single wire codec (internal/envelope) directly instead
// of a pluggable serializer/transport layer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piula/bedrock/cmd/internal/cliutil"
)

var rootCmd = &cobra.Command{
	Use:   "bedrockctl",
	Short: "send commands to a bedrockd node",
}

func init() {
	cobra.OnInitialize(cliutil.InitClientConfig)
	cliutil.SetupClientFlags(rootCmd)

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
