// Package config holds the node's cluster configuration, which
// cmd/bedrockd fills from command-line flags and BEDROCKD_-prefixed
// environment variables, grounded on the
// teacher's cobra/viper wiring (cmd/serve/root.go) and its ServerConfig
// formatting discipline (rpc/common/config.go), generalized from
// Dragonboat's raft parameters to this engine's own SEARCHING/SYNCHRONIZING/
// .../FOLLOWING timing.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PeerConfig describes one other node in the cluster as seen from this node's configuration.
type PeerConfig struct {
	ID       uint64
	Name     string
	Host     string
	Priority int
}

// ServerConfig holds all configuration parameters for one cluster node.
type ServerConfig struct {
	// Node identity
	NodeID   uint64
	NodeName string
	Priority int

	// Cluster membership, keyed by peer id (does not include this node)
	Peers map[uint64]PeerConfig

	// Timing
	RTT          time.Duration
	RecvTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Storage
	DataDir string

	// Client-facing listen endpoint
	Endpoint string

	// Peer-facing listen endpoint, dialed by every other node's peerlink.Link
	PeerListenAddr string

	// Default write consistency for commands that don't specify one
	DefaultConsistency string

	// Logging
	LogLevel string
}

// QuorumSize returns the number of peers (including this node) required for
// a strict majority of the configured cluster.
func (c *ServerConfig) QuorumSize() int {
	total := len(c.Peers) + 1
	return total/2 + 1
}

// String renders a human-readable dump of the configuration using a
// simple addSection/addField layout.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(strings.ToUpper(title))
		sb.WriteString("\n")
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Node Identity")
	addField("Node ID", strconv.FormatUint(c.NodeID, 10))
	addField("Node Name", c.NodeName)
	addField("Priority", strconv.Itoa(c.Priority))

	addSection("Client Endpoint")
	addField("Endpoint", c.Endpoint)
	addField("Peer Listen Address", c.PeerListenAddr)
	addField("Default Consistency", c.DefaultConsistency)

	addSection("Timing")
	addField("RTT", c.RTT.String())
	addField("Recv Timeout", c.RecvTimeout.String())
	addField("Reconnect Backoff", fmt.Sprintf("%s..%s", c.ReconnectMin, c.ReconnectMax))

	addSection("Storage")
	addField("Data Directory", c.DataDir)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Cluster Peers")
	var ids []uint64
	for id := range c.Peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p := c.Peers[id]
		addField(p.Name, fmt.Sprintf("%s (id=%d, priority=%d)", p.Host, p.ID, p.Priority))
	}

	return sb.String()
}
