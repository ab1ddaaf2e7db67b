// Sync record compaction and blacklisted erasure (spec.md sections 4.7,
// 4.8). Both primitives trade exact sync-record precision for bounded
// memory: compaction merges the closest neighbouring intervals once the
// record grows past its shared-with-peers cap, and erasure intentionally
// punches holes in an otherwise contiguous range to satisfy a takedown
// request.
package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ecolog/arweave/internal/tables"
	"github.com/ecolog/arweave/metrics"
)

// CompactIntervals runs compact_intervals (spec.md section 4.7): merges
// the sync record down to MaxSharedSyncedIntervalsCount entries and
// records the swallowed ranges in missing_chunks_index.
func (e *Engine) CompactIntervals(ctx context.Context) error {
	_, err := call(ctx, e, func(eng *Engine) (struct{}, error) {
		return struct{}{}, eng.doCompactIntervals()
	})
	return err
}

func (e *Engine) doCompactIntervals() error {
	swallowed := e.syncRecord.Compact(e.cfg.MaxSharedSyncedIntervalsCount)
	if len(swallowed) == 0 {
		return nil
	}

	batch := e.kv.NewBatch()
	var largestStart, largestSpan uint64
	for _, iv := range swallowed {
		batch.Put(tables.MissingChunksIndex, tables.MissingChunksIndexKey(iv.End), tables.EncodeMissingChunksValue(iv.Start))
		span := iv.End - iv.Start
		e.compactedSize += span
		if span > largestSpan {
			largestSpan = span
			largestStart = iv.Start
		}
	}
	if err := batch.Commit(); err != nil {
		return errors.Wrap(err, "persisting compacted intervals")
	}

	e.missingCursor = largestStart + 1
	metrics.CompactedBytes.Set(int64(e.compactedSize))
	metrics.SyncRecordIntervals.Set(int64(e.syncRecord.Count()))
	return nil
}

// RequestTxDataRemoval runs request_tx_data_removal (spec.md section 4.8):
// erases every chunk of a blacklisted transaction and punches the
// corresponding hole in the sync record, then notifies the blacklist
// service.
func (e *Engine) RequestTxDataRemoval(ctx context.Context, txID [32]byte) error {
	_, err := call(ctx, e, func(eng *Engine) (struct{}, error) {
		return struct{}{}, eng.doRequestTxDataRemoval(txID)
	})
	return err
}

func (e *Engine) doRequestTxDataRemoval(txID [32]byte) error {
	v, err := e.kv.Get(tables.TxIndex, tables.TxIndexKey(txID))
	if err != nil {
		return errors.Wrap(err, "tx not found")
	}
	rec, err := tables.DecodeTxRecord(v)
	if err != nil {
		return err
	}
	start := rec.AbsTxEndOffset - rec.TxSize

	lo := tables.ChunksIndexKey(start + 1)
	hi := tables.ChunksIndexKey(rec.AbsTxEndOffset + 1)
	rows, err := e.kv.GetRange(tables.ChunksIndex, lo, hi)
	if err != nil {
		return errors.Wrap(err, "scanning tx chunk range")
	}

	batch := e.kv.NewBatch()
	for _, row := range rows {
		chunkRec, err := tables.DecodeChunkRecord(row.Value)
		if err != nil {
			continue
		}
		end, err := tables.DecodeChunksIndexKey(row.Key)
		if err != nil {
			continue
		}
		batch.Delete(tables.ChunksIndex, row.Key)
		batch.Delete(tables.ChunkDataIndex, tables.ChunkDataIndexKey(chunkRec.DataPathHash))
		e.syncRecord.Delete(end-chunkRec.ChunkSize, end)
	}
	if err := batch.Commit(); err != nil {
		return errors.Wrap(err, "erasing blacklisted tx chunks")
	}

	metrics.TxDataRemovals.Inc()
	metrics.SyncRecordBytes.Set(int64(e.syncRecord.Sum()))
	if e.blacklistImpl != nil {
		e.blacklistImpl.NotifyAboutRemovedTxData(txID)
	}
	return nil
}
