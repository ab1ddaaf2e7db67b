// Command datasyncd runs a weave sync node: the chunk store, the sync
// engine, and the HTTP serving layer, until it receives a shutdown signal.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ecolog/arweave/internal/node"
	"github.com/ecolog/arweave/internal/peer"
)

func main() {
	cfg := node.DefaultConfig()

	flag.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory for the chunk store and sidecar term file")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "human-readable node name used in logs")
	flag.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "HTTP serving layer listening port")
	flag.IntVar(&cfg.PeerPort, "peer-port", cfg.PeerPort, "peer protocol listening port")
	flag.IntVar(&cfg.MaxPeers, "maxpeers", cfg.MaxPeers, "maximum number of candidate peers sampled for sync")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log verbosity (debug, info, warn, error)")
	flag.StringVar(&cfg.BlacklistPath, "blacklist", cfg.BlacklistPath, "optional path to a line-separated base64url tx-id blacklist source")
	flag.StringVar(&cfg.LegacyChunkDir, "legacy-chunk-dir", cfg.LegacyChunkDir, "optional pre-migration per-hash chunk file store")
	var peerAddrs stringList
	flag.Var(&peerAddrs, "peer", "a peer host:port to sync from; may be repeated")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ids := make([]peer.ID, len(peerAddrs))
	for i, addr := range peerAddrs {
		ids[i] = peer.ID(addr)
	}
	pool := peer.NewPool(ids)
	client := peer.NewHTTPClient()

	// The Merkle path verifier is the external tree-math collaborator
	// named in spec.md section 1; production deployments plug in the
	// node's real path-validation library here.
	n, err := node.New(&cfg, nil, client, pool)
	if err != nil {
		log.Fatalf("failed to create node: %v", err)
	}

	if err := n.Start(); err != nil {
		log.Fatalf("failed to start node: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("received shutdown signal")
	if err := n.Stop(); err != nil {
		log.Fatalf("failed to stop node: %v", err)
	}
}

// stringList collects repeated -peer flags into a slice.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
