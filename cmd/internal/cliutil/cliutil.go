// Package cliutil holds flag and config plumbing shared by bedrockd and
// bedrockctl: flag-help wrapping and viper-backed client config, fixed
// to this project's single TCP wire format rather than a pluggable
// transport/serializer selection.
package cliutil

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Wrap is the number of characters to wrap help text at.
const Wrap int = 50

// WrapString wraps text at Wrap characters, word by word.
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// ClientConfig holds the parameters bedrockctl needs to reach a node.
type ClientConfig struct {
	Endpoint     string
	TimeoutSec   int
	Consistency  string
	ForgetSocket bool
}

// SetupClientFlags adds the flags bedrockctl commands share.
func SetupClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("endpoint", "localhost:8945", WrapString("The host:port of the bedrock node to send commands to"))
	cmd.PersistentFlags().Int("timeout", 10, WrapString("The timeout in seconds to wait for a response"))
	cmd.PersistentFlags().String("consistency", "ASYNC", WrapString("The write consistency to request: ASYNC or QUORUM"))
	cmd.PersistentFlags().Bool("forget", false, WrapString("Send the command with Connection: forget, so the node replies 202 Accepted right away instead of waiting for the command to finish"))
}

// InitClientConfig loads .env files and enables BEDROCK_-prefixed
// environment variable overrides for client flags.
func InitClientConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("bedrock")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// GetClientConfig reads the bound client flags from viper.
func GetClientConfig() *ClientConfig {
	return &ClientConfig{
		Endpoint:     viper.GetString("endpoint"),
		TimeoutSec:   viper.GetInt("timeout"),
		Consistency:  viper.GetString("consistency"),
		ForgetSocket: viper.GetBool("forget"),
	}
}

// BindCommandFlags binds a command's flags to viper so environment
// variables and flags both resolve through GetClientConfig.
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
