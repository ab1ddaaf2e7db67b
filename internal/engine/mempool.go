// Mempool-facing disk-pool operations (spec.md section 4.2, 4.5):
// add_chunk's pending-root branch, add_data_root_to_disk_pool and
// maybe_drop_data_root_from_disk_pool. The cyclic disk-pool processor that
// promotes or expires staged chunks is in diskpool_loop.go. Grounded on the teacher's
// txpool admission path (internal/teachersync/txpool_reference.go.txt:
// validate, stage under a content key, then later promote into the
// canonical index once confirmed), generalized from an account-nonce
// pool to a data-root-keyed chunk pool.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/ecolog/arweave/internal/merkle"
	"github.com/ecolog/arweave/internal/tables"
	"github.com/ecolog/arweave/metrics"
)

// Sentinel errors for AddPoolChunk, matching spec.md section 4.2's result
// set (timeout is expressed through ctx, not a sentinel).
var (
	ErrDataRootNotFound       = errors.New("engine: data_root_not_found")
	ErrExceedsDiskPoolLimit   = errors.New("engine: exceeds_disk_pool_size_limit")
	ErrDiskFull               = errors.New("engine: disk_full")
)

// AddRootToPool registers a pending data root ahead of its chunks arriving
// (spec.md section 4.1: add_data_root_to_disk_pool). Fire-and-forget, used
// by the mempool when a new pending transaction is seen.
func (e *Engine) AddRootToPool(dataRoot [32]byte, txSize uint64, txID [32]byte) error {
	return e.cast(func(eng *Engine) {
		key := tables.NewDataRootKey(dataRoot, txSize)
		eng.diskPool.AddRoot(poolKey(key), txID, time.Now())
		metrics.DiskPoolRootsSeen.Inc()
	})
}

// DropRootFromPool releases one tx-id's claim on a pending root (spec.md
// section 4.1: maybe_drop_data_root_from_disk_pool), used when a pending
// transaction is dropped from the mempool before confirmation.
func (e *Engine) DropRootFromPool(dataRoot [32]byte, txSize uint64, txID [32]byte) error {
	return e.cast(func(eng *Engine) {
		key := tables.NewDataRootKey(dataRoot, txSize)
		eng.diskPool.MaybeDropRoot(poolKey(key), txID)
	})
}

// PoolChunkRequest is the payload for AddPoolChunk (spec.md section 4.2).
type PoolChunkRequest struct {
	DataRoot           [32]byte
	TxSize             uint64
	DataPath           []byte
	Chunk              []byte
	OffsetInTx         uint64
	WritePastDiskLimit bool
}

// AddPoolChunk implements add_chunk's pending-root branch: admits a chunk
// into the disk pool against an already-announced data root, enforcing
// per-root and pool-wide byte limits and validating the data path.
func (e *Engine) AddPoolChunk(ctx context.Context, req PoolChunkRequest) error {
	_, err := call(ctx, e, func(eng *Engine) (struct{}, error) {
		return struct{}{}, eng.doAddPoolChunk(req)
	})
	return err
}

func (e *Engine) doAddPoolChunk(req PoolChunkRequest) error {
	rootKey := tables.NewDataRootKey(req.DataRoot, req.TxSize)
	key := poolKey(rootKey)

	if !e.diskPool.Contains(key) {
		metrics.ChunkStoreRejected.Inc()
		return ErrDataRootNotFound
	}

	if !req.WritePastDiskLimit && e.cfg.MaxDiskPoolBufferMB > 0 {
		limitBytes := uint64(e.cfg.MaxDiskPoolBufferMB) * 1 << 20
		rootLimitBytes := uint64(e.cfg.MaxDiskPoolDataRootBufferMB) * 1 << 20
		if !e.diskPool.AddBytes(key, uint64(len(req.Chunk)), rootLimitBytes, limitBytes) {
			metrics.ChunkStoreRejected.Inc()
			return ErrExceedsDiskPoolLimit
		}
	}

	if e.validator == nil {
		return ErrNoSuchValidator
	}
	if _, err := e.validator.ValidateDataPath(req.DataRoot, req.TxSize, req.OffsetInTx, req.DataPath, req.Chunk); err != nil {
		metrics.ChunkStoreRejected.Inc()
		return errors.Wrap(err, "invalid_proof")
	}

	dataPathHash := merkle.DataPathHash(req.DataPath)
	poolRowKey := tables.NewDiskPoolChunkKey(poolTimestamp(key, e), dataPathHash)
	if _, err := e.kv.Get(tables.DiskPoolChunksIndex, poolRowKey.Bytes()); err == nil {
		return nil // idempotent: already staged
	}

	batch := e.kv.NewBatch()
	batch.Put(tables.ChunkDataIndex, tables.ChunkDataIndexKey(dataPathHash), tables.EncodeChunkData(req.Chunk, req.DataPath))
	batch.Put(tables.DiskPoolChunksIndex, poolRowKey.Bytes(), tables.EncodeDiskPoolChunkRecord(tables.DiskPoolChunkRecord{
		ChunkOffsetInTx: req.OffsetInTx,
		ChunkSize:       uint64(len(req.Chunk)),
		DataRoot:        req.DataRoot,
		TxSize:          req.TxSize,
	}))
	if err := batch.Commit(); err != nil {
		return errors.Wrap(err, "staging disk pool chunk")
	}
	metrics.DiskPoolBytes.Set(int64(e.diskPool.SizeBytes()))
	return nil
}

// poolTimestamp recovers the FirstSeenTS the root was registered under, so
// every chunk for the same root sorts together in disk_pool_chunks_index's
// cyclic iteration order (spec.md section 2 invariant 4).
func poolTimestamp(key [40]byte, e *Engine) *uint256.Int {
	rs, ok := e.diskPool.Get(key)
	ts := time.Now()
	if ok {
		ts = rs.FirstSeenTS
	}
	return uint256.NewInt(uint64(ts.UnixNano()))
}

func poolKey(k tables.DataRootKey) [40]byte {
	var out [40]byte
	copy(out[:], k[:])
	return out
}

