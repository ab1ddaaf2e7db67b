// Package engine implements the single-owner weave sync engine described
// in spec.md section 4: one goroutine owns all mutable in-memory state
// (the sync record, the disk pool, the retained block index) and every
// other caller reaches it only through casts (fire-and-forget) or calls
// (deadline-bound request/response), mirroring the correlation-id request
// bookkeeping the teacher uses for its P2P message router
// (internal/teacherp2p/message_router.go) but narrowed down to a single
// internal mailbox instead of a multiplexed wire protocol.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ecolog/arweave/internal/blacklist"
	"github.com/ecolog/arweave/internal/config"
	"github.com/ecolog/arweave/internal/diskpool"
	"github.com/ecolog/arweave/internal/intervals"
	"github.com/ecolog/arweave/internal/merkle"
	"github.com/ecolog/arweave/internal/migration"
	"github.com/ecolog/arweave/internal/peer"
	"github.com/ecolog/arweave/internal/persist"
	"github.com/ecolog/arweave/internal/registry"
	"github.com/ecolog/arweave/internal/scheduler"
	"github.com/ecolog/arweave/internal/storage"
	"github.com/ecolog/arweave/log"
	"github.com/ecolog/arweave/metrics"
)

// ErrClosed is returned by Call/Cast once the engine has stopped.
var ErrClosed = errors.New("engine: closed")

// ErrNoSuchValidator is returned by AddChunk and AddPoolChunk when the
// engine was built without a merkle validator in Deps.
var ErrNoSuchValidator = errors.New("engine: no merkle validator configured")

// mailboxMsg is either a cast (fn, no reply) or a call (fn posts to a
// reply channel it closes over).
type mailboxMsg func(*Engine)

// Engine is the single-owner actor over the weave's mutable state.
type Engine struct {
	cfg    *config.Engine
	kv     storage.KV
	logger *log.Logger
	rng    *rand.Rand

	persistPath string
	migration   *migration.Worker
	validator   *merkle.Validator

	peerClient peer.Client
	peerPool   *peer.Pool

	mailbox chan mailboxMsg
	done    chan struct{}
	stopWg  sync.WaitGroup
	closed  bool
	mu      sync.Mutex // guards closed/Start-Stop lifecycle only

	// Owned exclusively by the run loop goroutine once Start has been
	// called — never touched from any other goroutine.
	syncRecord    *intervals.Set
	blockIndex    []persist.BlockIndexEntry
	diskPool      *diskpool.Pool
	blacklistImpl *blacklist.StaticClient
	peerRecords   map[peer.ID]*intervals.Set
	state         scheduler.State
	weaveSize     uint64
	compactedSize uint64
	missingCursor uint64
	excludedPeers map[peer.ID]bool
	diskPoolShard uint8
}

// Deps bundles the Engine's external collaborators.
type Deps struct {
	Config      *config.Engine
	KV          storage.KV
	Logger      *log.Logger
	Validator   *merkle.Validator
	PeerClient  peer.Client
	Peers       *peer.Pool
	Blacklist   *blacklist.StaticClient
	PersistPath string
	LegacyDir   string
}

// New constructs an Engine. Call Start to begin processing.
func New(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.Module("engine")

	e := &Engine{
		cfg:           d.Config,
		kv:            d.KV,
		logger:        logger,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		validator:     d.Validator,
		peerClient:    d.PeerClient,
		peerPool:      d.Peers,
		blacklistImpl: d.Blacklist,
		persistPath:   d.PersistPath,
		mailbox:       make(chan mailboxMsg, 256),
		done:          make(chan struct{}),
		syncRecord:    intervals.New(),
		diskPool:      diskpool.New(),
		peerRecords:   make(map[peer.ID]*intervals.Set),
		excludedPeers: make(map[peer.ID]bool),
		state:         scheduler.IdleForSpace,
	}
	if d.LegacyDir != "" {
		e.migration = migration.NewWorker(d.KV, &migration.LegacyStore{Dir: d.LegacyDir}, d.Config.MigrationRetryDelay)
	}
	return e
}

// cast enqueues fn to run on the owner goroutine without waiting for it to
// run. It never blocks the caller beyond the mailbox being full.
func (e *Engine) cast(fn func(*Engine)) error {
	select {
	case e.mailbox <- fn:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

// call runs fn on the owner goroutine and waits (up to ctx) for its result.
func call[T any](ctx context.Context, e *Engine, fn func(*Engine) (T, error)) (T, error) {
	var zero T
	type result struct {
		v   T
		err error
	}
	replyCh := make(chan result, 1)
	msg := func(eng *Engine) {
		v, err := fn(eng)
		replyCh <- result{v, err}
	}
	select {
	case e.mailbox <- msg:
	case <-e.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-replyCh:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		return zero, ErrClosed
	}
}

// Start begins the owner goroutine plus the background cast sources
// (sync scheduler ticks, disk pool sweeps, periodic persistence). Start
// must be called exactly once.
func (e *Engine) Start(ctx context.Context) {
	e.loadPersisted()
	registry.Global().Publish(tablesChunkDataIndexName, e.kv)
	registry.Global().Publish(tablesTxIndexName, e.kv)

	e.stopWg.Add(1)
	go e.run(ctx)

	if e.migration != nil && !migration.Complete() {
		e.stopWg.Add(1)
		go func() {
			defer e.stopWg.Done()
			e.migration.Run(ctx)
		}()
	}

	e.stopWg.Add(1)
	go e.schedulerLoop(ctx)

	e.stopWg.Add(1)
	go e.diskPoolSweepLoop(ctx)

	e.stopWg.Add(1)
	go e.persistLoop(ctx)
}

// Stop closes the mailbox and waits for all owned goroutines to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.done)
	e.mu.Unlock()
	e.stopWg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.stopWg.Done()
	for {
		select {
		case msg := <-e.mailbox:
			msg(e)
		case <-e.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) loadPersisted() {
	if e.persistPath == "" {
		return
	}
	st, err := persist.Load(e.persistPath)
	if err != nil {
		e.logger.Info("no prior sidecar term file found, starting fresh", "path", e.persistPath, "error", err)
		return
	}
	for _, iv := range st.SyncRecord {
		e.syncRecord.Add(iv.Start, iv.End)
	}
	e.blockIndex = st.BlockIndex
	if len(st.BlockIndex) > 0 {
		e.weaveSize = st.BlockIndex[len(st.BlockIndex)-1].WeaveSize
	}
	e.compactedSize = st.CompactedSize
	for _, r := range st.DiskPoolRoots {
		if r.Confirmed {
			continue // confirmed roots are re-derived from the weave itself, not restaged
		}
		txIDs := make(map[[32]byte]struct{}, len(r.TxIDs))
		for _, id := range r.TxIDs {
			txIDs[id] = struct{}{}
		}
		e.diskPool.Reseed(r.Key, txIDs, r.FirstSeenTS)
	}
	metrics.SyncRecordBytes.Set(int64(e.syncRecord.Sum()))
	metrics.SyncRecordIntervals.Set(int64(e.syncRecord.Count()))
	metrics.WeaveSize.Set(int64(e.weaveSize))
	metrics.CompactedBytes.Set(int64(e.compactedSize))
	e.logger.Info("loaded sidecar term file", "sync_intervals", e.syncRecord.Count(), "weave_size", e.weaveSize)
}

func (e *Engine) persistLoop(ctx context.Context) {
	defer e.stopWg.Done()
	if e.persistPath == "" {
		return
	}
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = e.cast(func(eng *Engine) { eng.persistNow() })
		case <-ctx.Done():
			return
		case <-e.done:
			return
		}
	}
}

// persistNow must only be called from the owner goroutine.
func (e *Engine) persistNow() {
	if e.persistPath == "" {
		return
	}
	exported := e.diskPool.Export()
	roots := make([]persist.DiskPoolRoot, len(exported))
	for i, r := range exported {
		roots[i] = persist.DiskPoolRoot{
			Key:         r.Key,
			TotalBytes:  r.TotalBytes,
			FirstSeenTS: r.FirstSeenTS,
			Confirmed:   r.Confirmed,
			TxIDs:       r.TxIDs,
		}
	}
	st := persist.State{
		SyncRecord:    e.syncRecord.Items(),
		BlockIndex:    e.blockIndex,
		DiskPoolRoots: roots,
		DiskPoolSize:  e.diskPool.SizeBytes(),
		CompactedSize: e.compactedSize,
	}
	if err := persist.Save(e.persistPath, st); err != nil {
		e.logger.Warn("failed to persist sidecar term file", "error", err)
	}
}

const (
	tablesChunkDataIndexName = "chunk_data_index"
	tablesTxIndexName        = "tx_index"
)
