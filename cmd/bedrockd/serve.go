package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/piula/bedrock/cmd/internal/cliutil"
	"github.com/piula/bedrock/internal/config"
	"github.com/piula/bedrock/internal/logging"
	"github.com/piula/bedrock/internal/plugin"
	"github.com/piula/bedrock/internal/server"
	"github.com/piula/bedrock/internal/testutil"
	"github.com/piula/bedrock/internal/tss"
)

var serveCfg = &config.ServerConfig{}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start a bedrockd cluster node",
	Long:    `Start a bedrockd cluster node. Configuration can be set via command-line flags or BEDROCKD_<flag> environment variables (e.g. BEDROCKD_RTT_MILLISECOND=50).`,
	PreRunE: processServeConfig,
	RunE:    runServe,
}

func init() {
	cobra.OnInitialize(initServeConfig)

	key := "node-id"
	serveCmd.PersistentFlags().Uint64(key, 0, cliutil.WrapString("The unique numeric id of this node within the cluster; leave unset to derive one from --node-name"))

	key = "node-name"
	serveCmd.PersistentFlags().String(key, "", cliutil.WrapString("A human-readable name for this node, used in logs and Status output, and hashed into --node-id when that flag is left unset"))

	key = "priority"
	serveCmd.PersistentFlags().Int(key, 100, cliutil.WrapString("This node's election priority; the highest-priority connected node wins a standup, ties broken by the lowest node id"))

	key = "peers"
	serveCmd.PersistentFlags().String(key, "", cliutil.WrapString("Comma-separated list of other cluster members. Format: id=name=host:port=priority"))

	key = "rtt-millisecond"
	serveCmd.PersistentFlags().Int(key, 100, cliutil.WrapString("The tick interval, in milliseconds, at which this node re-evaluates election and failover timers"))

	key = "recv-timeout-millisecond"
	serveCmd.PersistentFlags().Int(key, 2000, cliutil.WrapString("How long, in milliseconds, a FOLLOWING node waits without hearing from its leader before re-entering WAITING"))

	key = "reconnect-min-millisecond"
	serveCmd.PersistentFlags().Int(key, 100, cliutil.WrapString("The minimum backoff, in milliseconds, between reconnect attempts to a disconnected peer"))

	key = "reconnect-max-millisecond"
	serveCmd.PersistentFlags().Int(key, 10000, cliutil.WrapString("The maximum backoff, in milliseconds, between reconnect attempts to a disconnected peer"))

	key = "data-dir"
	serveCmd.PersistentFlags().String(key, "data", cliutil.WrapString("A data directory recorded in this node's configuration; the built-in LocalSurface keeps its data in memory and does not read or write it"))

	key = "endpoint"
	serveCmd.PersistentFlags().String(key, "0.0.0.0:8945", cliutil.WrapString("The address on which this node accepts client commands"))

	key = "peer-listen-address"
	serveCmd.PersistentFlags().String(key, "0.0.0.0:8946", cliutil.WrapString("The address on which this node accepts connections from other cluster peers"))

	key = "default-consistency"
	serveCmd.PersistentFlags().String(key, "ASYNC", cliutil.WrapString("The write consistency applied to a command that doesn't specify writeConsistency: ASYNC or QUORUM"))

	key = "log-level"
	serveCmd.PersistentFlags().String(key, "info", cliutil.WrapString("The minimum log level to emit: debug, info, warn, error, alert"))
}

// processServeConfig reads the bound flags and environment variables into serveCfg.
func processServeConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCfg.NodeID = viper.GetUint64("node-id")
	serveCfg.NodeName = viper.GetString("node-name")
	if serveCfg.NodeID == 0 {
		if serveCfg.NodeName == "" {
			return fmt.Errorf("one of --node-id or --node-name must be set")
		}
		serveCfg.NodeID = config.HashNodeID(serveCfg.NodeName)
	}
	if serveCfg.NodeName == "" {
		serveCfg.NodeName = fmt.Sprintf("node-%d", serveCfg.NodeID)
	}
	serveCfg.Priority = viper.GetInt("priority")
	serveCfg.RTT = time.Duration(viper.GetInt("rtt-millisecond")) * time.Millisecond
	serveCfg.RecvTimeout = time.Duration(viper.GetInt("recv-timeout-millisecond")) * time.Millisecond
	serveCfg.ReconnectMin = time.Duration(viper.GetInt("reconnect-min-millisecond")) * time.Millisecond
	serveCfg.ReconnectMax = time.Duration(viper.GetInt("reconnect-max-millisecond")) * time.Millisecond
	serveCfg.DataDir = viper.GetString("data-dir")
	serveCfg.Endpoint = viper.GetString("endpoint")
	serveCfg.PeerListenAddr = viper.GetString("peer-listen-address")
	serveCfg.LogLevel = viper.GetString("log-level")

	switch strings.ToUpper(viper.GetString("default-consistency")) {
	case "QUORUM":
		serveCfg.DefaultConsistency = "QUORUM"
	default:
		serveCfg.DefaultConsistency = "ASYNC"
	}

	serveCfg.Peers = make(map[uint64]config.PeerConfig)
	if peersFlag := viper.GetString("peers"); peersFlag != "" {
		for _, entry := range strings.Split(peersFlag, ",") {
			parts := strings.Split(entry, "=")
			if len(parts) != 4 {
				return fmt.Errorf("invalid peer format: %s (expected id=name=host:port=priority)", entry)
			}

			id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid peer id %s: %v", parts[0], err)
			}
			priority, err := strconv.Atoi(strings.TrimSpace(parts[3]))
			if err != nil {
				return fmt.Errorf("invalid peer priority %s: %v", parts[3], err)
			}

			serveCfg.Peers[id] = config.PeerConfig{
				ID:       id,
				Name:     strings.TrimSpace(parts[1]),
				Host:     strings.TrimSpace(parts[2]),
				Priority: priority,
			}
		}
	}

	if _, ok := serveCfg.Peers[serveCfg.NodeID]; ok {
		return fmt.Errorf("node-id %d must not also appear in --peers", serveCfg.NodeID)
	}

	return nil
}

// runServe starts the node and blocks until SIGINT/SIGTERM.
func runServe(_ *cobra.Command, _ []string) error {
	logging.SetDefaultLevel(logging.ParseLevel(serveCfg.LogLevel))
	log := logging.GetLogger("bedrockd")
	log.Infof("starting node %d\n%s", serveCfg.NodeID, serveCfg.String())

	plugins := []plugin.Plugin{
		testutil.EchoPlugin{},
		testutil.SleepPlugin{},
		testutil.IDCollisionPlugin{},
	}

	srv := server.New(serveCfg, func() tss.Surface { return tss.NewLocalSurface() }, plugins)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("received shutdown signal, draining in-flight commands")
		cancel()
	}()

	return srv.Start(ctx)
}

// initServeConfig loads .env files and enables BEDROCKD_-prefixed
// environment variable overrides for serve flags.
func initServeConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("bedrockd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
