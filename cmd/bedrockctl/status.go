package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piula/bedrock/cmd/internal/cliutil"
	"github.com/piula/bedrock/internal/envelope"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a bedrockd node's cluster status as JSON",
	RunE:  runStatus,
}

func init() {
	_ = cliutil.BindCommandFlags(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg := cliutil.GetClientConfig()

	resp, err := sendFramed(cfg, "STATUS", envelope.Headers{}, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("status request failed: %s", resp.StatusLine)
	}

	var pretty map[string]any
	if err := json.Unmarshal(resp.Body, &pretty); err != nil {
		fmt.Println(string(resp.Body))
		return nil
	}

	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
