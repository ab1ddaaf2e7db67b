package node

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/ecolog/arweave/internal/blacklist"
	"github.com/ecolog/arweave/internal/config"
	"github.com/ecolog/arweave/internal/engine"
	"github.com/ecolog/arweave/internal/httpapi"
	"github.com/ecolog/arweave/internal/merkle"
	"github.com/ecolog/arweave/internal/peer"
	"github.com/ecolog/arweave/internal/storage"
	"github.com/ecolog/arweave/internal/tables"
	"github.com/ecolog/arweave/log"
)

// Node is the top-level weave sync node: the chunk store, the engine, and
// the HTTP serving layer, started and stopped together.
type Node struct {
	cfg    *Config
	engCfg *config.Engine
	logger *log.Logger

	kv  storage.KV
	eng *engine.Engine
	api *httpapi.Server

	lifecycle *Lifecycle
	rootCtx   context.Context
	cancel    context.CancelFunc
}

// New constructs a Node. It opens the chunk store and builds the engine
// but starts no network services until Start is called.
func New(cfg *Config, v merkle.Verifier, peerClient peer.Client, peers *peer.Pool) (*Node, error) {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid node configuration")
	}

	logger := log.New(log.LevelFromString(cfg.LogLevel).Slog()).Module("node")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}

	kv, err := storage.Open(storage.DefaultOptions(filepath.Join(cfg.DataDir, "chunkstore")))
	if err != nil {
		return nil, errors.Wrap(err, "opening chunk store")
	}

	bl := blacklist.NewStaticClient(nil)
	if cfg.BlacklistPath != "" {
		if err := seedBlacklist(cfg.BlacklistPath, kv, bl, logger); err != nil {
			return nil, errors.Wrap(err, "loading blacklist source")
		}
	}

	engCfg := config.DefaultEngine()
	if cfg.MaxPeers > 0 {
		engCfg.PickPeersOutOfRandomN = cfg.MaxPeers
	}
	validator := merkle.NewValidator(v, engCfg.MaxChunkBytes)

	eng := engine.New(engine.Deps{
		Config:      engCfg,
		KV:          kv,
		Logger:      logger,
		Validator:   validator,
		PeerClient:  peerClient,
		Peers:       peers,
		Blacklist:   bl,
		PersistPath: filepath.Join(cfg.DataDir, "sync_state.term"),
		LegacyDir:   cfg.LegacyChunkDir,
	})

	api := httpapi.NewServer(cfg.HTTPAddr(), eng, logger)

	n := &Node{
		cfg:       cfg,
		engCfg:    engCfg,
		logger:    logger,
		kv:        kv,
		eng:       eng,
		api:       api,
		lifecycle: NewLifecycle(),
	}
	n.rootCtx, n.cancel = context.WithCancel(context.Background())

	if err := n.lifecycle.Register(engineService{eng, n.rootCtx}, 0); err != nil {
		return nil, err
	}
	if err := n.lifecycle.Register(httpService{api}, 10); err != nil {
		return nil, err
	}
	return n, nil
}

// Start brings every subsystem up in priority order.
func (n *Node) Start() error {
	n.logger.Info("starting weave sync node", "name", n.cfg.Name, "data_dir", n.cfg.DataDir)
	if errs := n.lifecycle.StartAll(); len(errs) > 0 {
		return errors.Wrapf(errs[0], "node: %d subsystem(s) failed to start", len(errs))
	}
	n.logger.Info("weave sync node started", "http_addr", n.cfg.HTTPAddr())
	return nil
}

// Stop brings every subsystem down in reverse priority order.
func (n *Node) Stop() error {
	n.logger.Info("stopping weave sync node")
	n.cancel()
	var firstErr error
	if errs := n.lifecycle.StopAll(); len(errs) > 0 {
		firstErr = errs[0]
	}
	if err := n.kv.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	n.logger.Info("weave sync node stopped")
	return firstErr
}

// Engine returns the node's sync engine.
func (n *Node) Engine() *engine.Engine { return n.eng }

// seedBlacklist loads a line-separated base64url tx-id file and, for each
// tx-id already present in tx_index, resolves its confirmed byte range and
// blacklists it immediately (spec.md section 4.8). Tx-ids not yet synced
// are skipped here; a later request_tx_data_removal call handles them once
// their data arrives.
func seedBlacklist(path string, kv storage.KV, bl *blacklist.StaticClient, logger *log.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	ids, err := blacklist.ParseSource(f, logger)
	if err != nil {
		return err
	}
	for txID := range ids {
		v, err := kv.Get(tables.TxIndex, tables.TxIndexKey(txID))
		if err != nil {
			continue
		}
		rec, err := tables.DecodeTxRecord(v)
		if err != nil {
			continue
		}
		bl.BlacklistRange(rec.AbsTxEndOffset-rec.TxSize, rec.AbsTxEndOffset)
	}
	return nil
}

// engineService adapts *engine.Engine to the Lifecycle's Service interface.
type engineService struct {
	eng *engine.Engine
	ctx context.Context
}

func (s engineService) Start() error { s.eng.Start(s.ctx); return nil }
func (s engineService) Stop() error  { s.eng.Stop(); return nil }
func (s engineService) Name() string { return "engine" }

// httpService adapts *httpapi.Server to the Lifecycle's Service interface.
type httpService struct {
	api *httpapi.Server
}

func (s httpService) Start() error { return s.api.Start() }
func (s httpService) Stop() error  { return s.api.Stop() }
func (s httpService) Name() string { return "httpapi" }
