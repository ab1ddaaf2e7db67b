// Package node wires the chunk store, the sync engine, and the HTTP
// serving layer into one process, using a priority-ordered lifecycle
// manager to start and stop them. Config/Validate/ResolvePath follow the
// teacher's node.Config convention, generalized from an Ethereum client's
// p2p/rpc/engine ports to this module's single HTTP API port plus a
// peer-protocol listen address.
package node

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Config holds the top-level configuration for a weave sync node.
type Config struct {
	// DataDir is the root directory for the chunk store and the sidecar
	// term file.
	DataDir string

	// Name is a human-readable node identifier used in logs.
	Name string

	// HTTPPort serves get_chunk/get_tx_data/get_tx_offset/get_sync_record.
	HTTPPort int

	// PeerPort is the peer-protocol port reported by PeerAddr. No listener
	// is bound to it; other nodes fetch chunks and sync records from the
	// HTTP serving layer on HTTPPort.
	PeerPort int

	// MaxPeers bounds PickPeersOutOfRandomN's candidate pool size.
	MaxPeers int

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string

	// BlacklistPath optionally names a line-separated base64url tx-id
	// file to load at startup (spec.md section 4.8).
	BlacklistPath string

	// LegacyChunkDir is the pre-migration per-hash chunk file store, if
	// the store_data_in_v2_index migration has not yet completed.
	LegacyChunkDir string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:  "weave-data",
		Name:     "weave-sync-node",
		HTTPPort: 1984,
		PeerPort: 1985,
		MaxPeers: 50,
		LogLevel: "info",
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: invalid http port: %d", c.HTTPPort)
	}
	if c.PeerPort < 0 || c.PeerPort > 65535 {
		return fmt.Errorf("config: invalid peer port: %d", c.PeerPort)
	}
	if c.MaxPeers < 0 {
		return fmt.Errorf("config: invalid max peers: %d", c.MaxPeers)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// HTTPAddr returns the HTTP serving layer's listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// PeerAddr returns this node's peer-protocol listen address.
func (c *Config) PeerAddr() string {
	return fmt.Sprintf(":%d", c.PeerPort)
}
