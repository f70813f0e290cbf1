package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/piula/bedrock/cmd/internal/cliutil"
	"github.com/piula/bedrock/internal/envelope"
)

var sendCmd = &cobra.Command{
	Use:   "send <METHOD LINE>",
	Short: "Send one framed command to a bedrockd node",
	Long:  `Send one framed command, e.g. bedrockctl send "IDCOLLISION" --header response=756`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

var (
	sendHeaders []string
	sendBody    string
)

func init() {
	sendCmd.Flags().StringArrayVar(&sendHeaders, "header", nil, "A key=value header to attach; may be repeated")
	sendCmd.Flags().StringVar(&sendBody, "body", "", "The request body")
	_ = cliutil.BindCommandFlags(sendCmd)
}

func runSend(_ *cobra.Command, args []string) error {
	cfg := cliutil.GetClientConfig()

	var h envelope.Headers
	for _, kv := range sendHeaders {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --header %q (expected key=value)", kv)
		}
		h.Set(key, value)
	}

	resp, err := sendFramed(cfg, args[0], h, []byte(sendBody))
	if err != nil {
		return err
	}

	fmt.Println(resp.StatusLine)
	if len(resp.Body) > 0 {
		fmt.Println(string(resp.Body))
	}
	return nil
}
