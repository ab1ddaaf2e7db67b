// Store-chunk and read-path operations (spec.md sections 4.2, 4.3, and the
// get_chunk/get_tx_root/get_tx_data/get_tx_offset/get_sync_record calls of
// section 4.1). Every exported method here is a thin Call wrapper; the
// actual logic runs on the owner goroutine via the unexported do* methods,
// following the same "public method posts to the actor, private method
// does the work" split the teacher uses for its ChainDb accessors
// (internal/rawdb/chaindb.go).
package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ecolog/arweave/internal/merkle"
	"github.com/ecolog/arweave/internal/migration"
	"github.com/ecolog/arweave/internal/tables"
	"github.com/ecolog/arweave/metrics"
)

// ErrChunkRejected is returned when a chunk's absolute offset is
// blacklisted. Proof validation failures are returned as wrapped merkle
// errors instead.
var ErrChunkRejected = errors.New("engine: chunk rejected")

// StoreChunkRequest is the payload for AddChunk (spec.md section 4.2/4.3).
type StoreChunkRequest struct {
	Proof        merkle.Proof
	AbsEndOffset uint64
}

// AddChunk validates and stores one chunk (spec.md section 4.2: store_chunk).
func (e *Engine) AddChunk(ctx context.Context, req StoreChunkRequest) error {
	_, err := call(ctx, e, func(eng *Engine) (struct{}, error) {
		return struct{}{}, eng.doAddChunk(req)
	})
	return err
}

// doAddChunk implements add_chunk's known-root/direct branches (spec.md
// section 4.2 items 1 and 3). If the chunk's data root already has
// recorded placements in data_root_index, every placement is indexed
// (the chunk body written once, the rest index-only); otherwise it falls
// back to a single direct placement at the caller-supplied offset.
func (e *Engine) doAddChunk(req StoreChunkRequest) error {
	if e.validator == nil {
		return ErrNoSuchValidator
	}

	rootKey := tables.NewDataRootKey(req.Proof.DataRoot, req.Proof.TxSize)
	placements, err := e.loadPlacements(rootKey)
	if err != nil {
		return errors.Wrap(err, "reading data_root_index")
	}
	if len(placements) == 0 {
		return e.doStoreChunk(req, false)
	}

	if _, err := e.validator.ValidateDataPath(req.Proof.DataRoot, req.Proof.TxSize, req.Proof.OffsetInTx, req.Proof.DataPath, req.Proof.Chunk); err != nil {
		metrics.ChunkStoreRejected.Inc()
		return errors.Wrap(err, "invalid_proof")
	}

	dataPathHash := merkle.DataPathHash(req.Proof.DataPath)
	chunkSize := uint64(len(req.Proof.Chunk))
	var firstErr error
	for i, pl := range placements {
		err := e.storeChunkRow(chunkPlacement{
			AbsOffset:       pl.AbsTxStart + req.Proof.OffsetInTx,
			ChunkOffsetInTx: req.Proof.OffsetInTx,
			ChunkSize:       chunkSize,
			DataPathHash:    dataPathHash,
			TxRoot:          pl.TxRoot,
			DataRoot:        req.Proof.DataRoot,
			TxPath:          pl.TxPath,
			TxSize:          req.Proof.TxSize,
		}, req.Proof.Chunk, req.Proof.DataPath, i > 0)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// doStoreChunk validates a full two-level proof and stores it at its
// caller-supplied absolute offset (used for fresh direct submissions and
// fetched chunks, where no placement is yet on record).
func (e *Engine) doStoreChunk(req StoreChunkRequest, indexOnly bool) error {
	if e.validator == nil {
		return ErrNoSuchValidator
	}
	if _, _, err := e.validator.Validate(req.Proof); err != nil {
		metrics.ChunkStoreRejected.Inc()
		return errors.Wrap(err, "merkle validation failed")
	}

	dataPathHash := merkle.DataPathHash(req.Proof.DataPath)
	return e.storeChunkRow(chunkPlacement{
		AbsOffset:       req.AbsEndOffset,
		ChunkOffsetInTx: req.Proof.OffsetInTx,
		ChunkSize:       uint64(len(req.Proof.Chunk)),
		DataPathHash:    dataPathHash,
		TxRoot:          req.Proof.TxRoot,
		DataRoot:        req.Proof.DataRoot,
		TxPath:          req.Proof.TxPath,
		TxSize:          req.Proof.TxSize,
	}, req.Proof.Chunk, req.Proof.DataPath, indexOnly)
}

// chunkPlacement is one authenticated location of a chunk within the
// weave: the material storeChunkRow needs to write chunks_index and, if
// not index-only, chunk_data_index.
type chunkPlacement struct {
	AbsOffset       uint64
	ChunkOffsetInTx uint64
	ChunkSize       uint64
	DataPathHash    [32]byte
	TxRoot          [32]byte
	DataRoot        [32]byte
	TxPath          []byte
	TxSize          uint64
}

// storeChunkRow is the store-chunk primitive (spec.md section 4.3),
// applied once the caller has already authenticated the placement.
// Validation is the caller's job (doStoreChunk validates a fresh proof;
// doAddChunk's known-root branch and the disk-pool promoter reuse
// placements already proven when a block was confirmed).
func (e *Engine) storeChunkRow(p chunkPlacement, chunk, dataPath []byte, indexOnly bool) error {
	if e.blacklistImpl != nil && e.blacklistImpl.IsByteBlacklisted(p.AbsOffset) {
		metrics.ChunkStoreRejected.Inc()
		return errors.Wrap(ErrChunkRejected, "offset is blacklisted")
	}

	alreadyPresent := e.syncRecord.IsInside(p.AbsOffset - 1)
	if alreadyPresent {
		if _, err := e.kv.Get(tables.ChunksIndex, tables.ChunksIndexKey(p.AbsOffset)); err == nil {
			return nil // not_updated: already indexed at this offset
		}
	}

	if !indexOnly {
		if err := e.kv.Put(tables.ChunkDataIndex, tables.ChunkDataIndexKey(p.DataPathHash), tables.EncodeChunkData(chunk, dataPath)); err != nil {
			return errors.Wrap(err, "writing chunk_data_index")
		}
	}

	rec := tables.ChunkRecord{
		DataPathHash:    p.DataPathHash,
		TxRoot:          p.TxRoot,
		DataRoot:        p.DataRoot,
		TxPath:          p.TxPath,
		ChunkOffsetInTx: p.ChunkOffsetInTx,
		ChunkSize:       p.ChunkSize,
	}
	if err := e.kv.Put(tables.ChunksIndex, tables.ChunksIndexKey(p.AbsOffset), tables.EncodeChunkRecord(rec)); err != nil {
		return errors.Wrap(err, "writing chunks_index")
	}

	// If this chunk's data root is still staged in the disk pool, re-publish
	// it under the root's timestamp (spec.md section 4.3 item 5) so the
	// disk-pool processor's cyclic scan still finds it.
	rootKey := poolKey(tables.NewDataRootKey(p.DataRoot, p.TxSize))
	if e.diskPool.Contains(rootKey) {
		poolRowKey := tables.NewDiskPoolChunkKey(poolTimestamp(rootKey, e), p.DataPathHash)
		_ = e.kv.Put(tables.DiskPoolChunksIndex, poolRowKey.Bytes(), tables.EncodeDiskPoolChunkRecord(tables.DiskPoolChunkRecord{
			ChunkOffsetInTx: p.ChunkOffsetInTx,
			ChunkSize:       p.ChunkSize,
			DataRoot:        p.DataRoot,
			TxSize:          p.TxSize,
		}))
	}

	start := p.AbsOffset - p.ChunkSize
	e.syncRecord.Add(start, p.AbsOffset)
	if alreadyPresent && e.compactedSize >= p.ChunkSize {
		e.compactedSize -= p.ChunkSize
	}
	metrics.ChunksStored.Inc()
	metrics.SyncRecordBytes.Set(int64(e.syncRecord.Sum()))
	metrics.SyncRecordIntervals.Set(int64(e.syncRecord.Count()))
	metrics.CompactedBytes.Set(int64(e.compactedSize))

	if e.syncRecord.Count() > e.cfg.MaxSharedSyncedIntervalsCount+e.cfg.ExtraIntervalsBeforeCompaction {
		_ = e.cast(func(eng *Engine) { _ = eng.doCompactIntervals() })
	}
	return nil
}

// GetChunk returns the raw chunk bytes stored under a chunk's data-path
// hash (spec.md section 4.1: get_chunk).
func (e *Engine) GetChunk(ctx context.Context, dataPathHash [32]byte) ([]byte, error) {
	return call(ctx, e, func(eng *Engine) ([]byte, error) {
		v, err := eng.kv.Get(tables.ChunkDataIndex, tables.ChunkDataIndexKey(dataPathHash))
		if err != nil {
			return nil, err
		}
		chunk, _, err := tables.DecodeChunkData(v)
		return chunk, err
	})
}

// IntervalView is the wire-agnostic view of one sync record interval.
type IntervalView struct {
	Start uint64
	End   uint64
}

// SyncRecordSnapshot returns a copy of the sync record's intervals
// (spec.md section 4.1: get_sync_record). Wire encoding (ETF|JSON) is the
// serving layer's concern.
func (e *Engine) SyncRecordSnapshot(ctx context.Context) ([]IntervalView, error) {
	return call(ctx, e, func(eng *Engine) ([]IntervalView, error) {
		items := eng.syncRecord.Items()
		out := make([]IntervalView, len(items))
		for i, iv := range items {
			out[i] = IntervalView{Start: iv.Start, End: iv.End}
		}
		return out, nil
	})
}

// GetTxOffset returns the absolute end offset and declared size of a
// transaction (spec.md section 4.1: get_tx_offset).
func (e *Engine) GetTxOffset(ctx context.Context, txID [32]byte) (tables.TxRecord, error) {
	return call(ctx, e, func(eng *Engine) (tables.TxRecord, error) {
		v, err := eng.kv.Get(tables.TxIndex, tables.TxIndexKey(txID))
		if err != nil {
			return tables.TxRecord{}, err
		}
		return tables.DecodeTxRecord(v)
	})
}

// GetTxRoot returns the data root a transaction committed to, along with
// its declared size, by reading tx_index and then the chunks_index entry
// at the transaction's end offset (spec.md section 4.1: get_tx_root).
func (e *Engine) GetTxRoot(ctx context.Context, txID [32]byte) ([32]byte, uint64, error) {
	type result struct {
		root [32]byte
		size uint64
	}
	r, err := call(ctx, e, func(eng *Engine) (result, error) {
		v, err := eng.kv.Get(tables.TxIndex, tables.TxIndexKey(txID))
		if err != nil {
			return result{}, err
		}
		rec, err := tables.DecodeTxRecord(v)
		if err != nil {
			return result{}, err
		}
		chunkKey := tables.ChunksIndexKey(rec.AbsTxEndOffset)
		chunkVal, err := eng.kv.Get(tables.ChunksIndex, chunkKey)
		if err != nil {
			return result{}, err
		}
		chunkRec, err := tables.DecodeChunkRecord(chunkVal)
		if err != nil {
			return result{}, err
		}
		return result{root: chunkRec.DataRoot, size: rec.TxSize}, nil
	})
	return r.root, r.size, err
}

// GetTxData reassembles the full byte range of a transaction by walking
// chunks_index backward from its end offset (spec.md section 4.1:
// get_tx_data). Callers should prefer streaming in production; this
// collects the whole transaction in memory and refuses any transaction
// larger than config.Engine.MaxServedTxDataSize.
func (e *Engine) GetTxData(ctx context.Context, txID [32]byte) ([]byte, error) {
	rec, err := e.GetTxOffset(ctx, txID)
	if err != nil {
		return nil, err
	}
	if rec.TxSize > e.cfg.MaxServedTxDataSize {
		return nil, errors.New("engine: tx_data_too_big")
	}
	return call(ctx, e, func(eng *Engine) ([]byte, error) {
		out := make([]byte, 0, rec.TxSize)
		end := rec.AbsTxEndOffset
		start := end - rec.TxSize
		for end > start {
			chunkVal, err := eng.kv.Get(tables.ChunksIndex, tables.ChunksIndexKey(end))
			if err != nil {
				return nil, errors.Wrap(err, "reassembling tx data: missing chunk")
			}
			chunkRec, err := tables.DecodeChunkRecord(chunkVal)
			if err != nil {
				return nil, err
			}
			data, err := eng.kv.Get(tables.ChunkDataIndex, tables.ChunkDataIndexKey(chunkRec.DataPathHash))
			if err != nil {
				return nil, err
			}
			chunk, _, err := tables.DecodeChunkData(data)
			if err != nil {
				return nil, err
			}
			out = append(chunk, out...)
			end -= chunkRec.ChunkSize
		}
		return out, nil
	})
}

// Health is a snapshot of engine state for operational reporting.
type Health struct {
	State          string
	WeaveSize      uint64
	SyncedBytes    uint64
	SyncIntervals  int
	DiskPoolBytes  uint64
	PeersTracked   int
	MigrationDone  bool
	CompactedBytes uint64
}

// Health returns a point-in-time snapshot of the engine.
func (e *Engine) Health(ctx context.Context) (Health, error) {
	return call(ctx, e, func(eng *Engine) (Health, error) {
		return Health{
			State:          eng.state.String(),
			WeaveSize:      eng.weaveSize,
			SyncedBytes:    eng.syncRecord.Sum(),
			SyncIntervals:  eng.syncRecord.Count(),
			DiskPoolBytes:  eng.diskPool.SizeBytes(),
			PeersTracked:   len(eng.peerRecords),
			MigrationDone:  migration.Complete(),
			CompactedBytes: eng.compactedSize,
		}, nil
	})
}
