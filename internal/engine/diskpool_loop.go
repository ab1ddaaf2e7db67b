// Disk pool admission and expiry background processing (spec.md sections
// 4.1 and 4.5). AddRootToPool/DropRootFromPool (mempool.go) are called by
// the mempool-facing ingress path (outside this module's scope); this file
// owns the periodic sweep that expires stale pending roots and frees their
// staged bytes, and the cyclic disk-pool scan (processDiskPoolCycle) that
// promotes staged chunks.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ecolog/arweave/internal/diskpool"
	"github.com/ecolog/arweave/internal/tables"
	"github.com/ecolog/arweave/metrics"
)

func (e *Engine) diskPoolSweepLoop(ctx context.Context) {
	defer e.stopWg.Done()
	expireT := time.NewTicker(e.cfg.RemoveExpiredDataRootsFrequency)
	defer expireT.Stop()
	scanT := time.NewTicker(e.cfg.DiskPoolScanFrequency)
	defer scanT.Stop()
	for {
		select {
		case <-expireT.C:
			_ = e.cast(func(eng *Engine) { eng.sweepExpiredRoots() })
		case <-scanT.C:
			_ = e.cast(func(eng *Engine) { eng.processDiskPoolCycle() })
		case <-ctx.Done():
			return
		case <-e.done:
			return
		}
	}
}

// processDiskPoolCycle is the disk-pool processor (spec.md section 4.5): a
// cyclic walk of disk_pool_chunks_index, promoting chunks whose data root
// has since been confirmed (present in data_root_index) and dropping
// chunks whose root expired without confirmation (present in neither
// index). Each tick only visits rows whose data path hash falls in the
// current shard (diskpool.ShardOf), cycling through all shards once every
// ShardCount ticks, so a large pool is scanned incrementally rather than
// in full on every tick.
func (e *Engine) processDiskPoolCycle() {
	shard := e.diskPoolShard
	e.diskPoolShard = (e.diskPoolShard + 1) % diskpool.ShardCount

	hi := make([]byte, 64)
	for i := range hi {
		hi[i] = 0xFF
	}
	rows, err := e.kv.GetRange(tables.DiskPoolChunksIndex, []byte{}, hi)
	if err != nil {
		e.logger.Warn("failed to scan disk_pool_chunks_index", "error", err)
		return
	}

	batch := e.kv.NewBatch()
	promoted, dropped := 0, 0
	for _, row := range rows {
		var key tables.DiskPoolChunkKey
		copy(key[:], row.Key)
		if diskpool.ShardOf(key.DataPathHash()) != shard {
			continue
		}
		rec, err := tables.DecodeDiskPoolChunkRecord(row.Value)
		if err != nil {
			continue
		}
		rootKey := tables.NewDataRootKey(rec.DataRoot, rec.TxSize)
		placementBytes, getErr := e.kv.Get(tables.DataRootIndex, tables.DataRootIndexKey(rootKey))
		rootPoolKey := poolKey(rootKey)
		inPool := e.diskPool.Contains(rootPoolKey)

		switch {
		case getErr == nil:
			// root confirmed: index the staged chunk under every placement
			// recorded for its data root (spec.md section 4.5, the (IDR, _)
			// case), then clear it from the staging table.
			placements, decErr := tables.DecodeDataRootIndexValue(placementBytes)
			if decErr != nil {
				e.logger.Warn("corrupt data_root_index entry", "error", decErr)
				batch.Delete(tables.DiskPoolChunksIndex, row.Key)
				dropped++
				continue
			}
			if err := e.promoteStagedChunk(key.DataPathHash(), rec, placements); err != nil {
				e.logger.Warn("failed to promote staged chunk", "error", err)
				continue
			}
			batch.Delete(tables.DiskPoolChunksIndex, row.Key)
			promoted++
			if !inPool {
				e.diskPool.Remove(rootPoolKey)
			}
		case !inPool:
			// neither confirmed nor pending: expired between ticks.
			batch.Delete(tables.DiskPoolChunksIndex, row.Key)
			dropped++
		default:
			// still pending, leave it staged.
		}
	}
	if promoted+dropped > 0 {
		if err := batch.Commit(); err != nil {
			e.logger.Warn("failed to apply disk pool cycle", "error", err)
			return
		}
		metrics.DiskPoolRootsPromoted.Add(int64(promoted))
		metrics.DiskPoolBytes.Set(int64(e.diskPool.SizeBytes()))
	}
}

// sweepExpiredRoots runs update_disk_pool_data_roots (spec.md section 4.5):
// drops expired roots from the in-memory pool, then walks
// disk_pool_chunks_index (keyed by arrival timestamp, not by root) to
// erase every staged chunk row whose DataRoot matches one of the roots
// that just expired.
func (e *Engine) sweepExpiredRoots() {
	cutoff := time.Now().Add(-e.cfg.DiskPoolDataRootExpiration)
	expired := e.diskPool.ExpireOlderThan(cutoff)
	if len(expired) == 0 {
		return
	}
	expiredRoots := make(map[[32]byte]bool, len(expired))
	for _, key := range expired {
		var root [32]byte
		copy(root[:], key[:32])
		expiredRoots[root] = true
	}

	hi := make([]byte, 64)
	for i := range hi {
		hi[i] = 0xFF
	}
	rows, err := e.kv.GetRange(tables.DiskPoolChunksIndex, []byte{}, hi)
	if err != nil {
		e.logger.Warn("failed to scan disk_pool_chunks_index for expiry sweep", "error", err)
		return
	}
	batch := e.kv.NewBatch()
	removed := 0
	for _, row := range rows {
		rec, err := tables.DecodeDiskPoolChunkRecord(row.Value)
		if err != nil {
			continue
		}
		if expiredRoots[rec.DataRoot] {
			batch.Delete(tables.DiskPoolChunksIndex, row.Key)
			removed++
		}
	}
	if removed > 0 {
		if err := batch.Commit(); err != nil {
			e.logger.Warn("failed to erase expired disk pool chunk rows", "error", err)
		}
	}
	for range expired {
		metrics.DiskPoolRootsExpired.Inc()
	}
	metrics.DiskPoolBytes.Set(int64(e.diskPool.SizeBytes()))
}

// promoteStagedChunk indexes one already-staged chunk under every
// placement recorded for its data root (spec.md section 4.5: "for each
// placement in the data root's tx-path map, call [the store-chunk
// primitive] as index-only"). The chunk body is already on disk in
// chunk_data_index under dataPathHash from when AddPoolChunk staged it,
// so every placement here is index-only.
func (e *Engine) promoteStagedChunk(dataPathHash [32]byte, rec tables.DiskPoolChunkRecord, placements []tables.TxPlacement) error {
	raw, err := e.kv.Get(tables.ChunkDataIndex, tables.ChunkDataIndexKey(dataPathHash))
	if err != nil {
		return errors.Wrap(err, "reading staged chunk body")
	}
	chunk, dataPath, err := tables.DecodeChunkData(raw)
	if err != nil {
		return errors.Wrap(err, "decoding staged chunk body")
	}

	var firstErr error
	for _, pl := range placements {
		err := e.storeChunkRow(chunkPlacement{
			AbsOffset:       pl.AbsTxStart + rec.ChunkOffsetInTx,
			ChunkOffsetInTx: rec.ChunkOffsetInTx,
			ChunkSize:       rec.ChunkSize,
			DataPathHash:    dataPathHash,
			TxRoot:          pl.TxRoot,
			DataRoot:        rec.DataRoot,
			TxPath:          pl.TxPath,
			TxSize:          rec.TxSize,
		}, chunk, dataPath, true)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
