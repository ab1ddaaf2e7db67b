// Block tracking and reorg rollback (spec.md section 4.6): AddTipBlock
// extends the retained block index and, on a reorg, rolls back every
// table to the fork point via remove_orphaned_data, re-seeding any
// orphaned pending data roots back into the disk pool. Grounded on the
// teacher's chain-reorg bookkeeping pattern in
// internal/rawdb/chain_iterator.go (walk-back-to-common-ancestor plus
// delete-forward), generalized from block headers to weave byte ranges.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ecolog/arweave/internal/persist"
	"github.com/ecolog/arweave/internal/storage"
	"github.com/ecolog/arweave/internal/tables"
	"github.com/ecolog/arweave/metrics"
)

// ErrUnknownParent is returned when a block extends an index the engine
// hasn't retained (its tip is too far behind TrackConfirmations).
var ErrUnknownParent = errors.New("engine: block does not extend a tracked parent")

// TxEntry is one confirmed transaction carried by a BlockSubmission, with
// the tx-path placement data_root_index needs to locate it (spec.md
// section 4.6: "for each missing block's size_tagged_txs, add block data
// roots and update tx_index/tx_offset_index").
type TxEntry struct {
	TxID       [32]byte
	DataRoot   [32]byte
	TxSize     uint64
	AbsTxStart uint64
	TxPath     []byte
}

// BlockSubmission is the payload for AddTipBlock (spec.md section 4.6).
type BlockSubmission struct {
	BlockHash  [32]byte
	ParentHash [32]byte
	WeaveSize  uint64
	TxRoot     [32]byte
	// Txs lists every transaction this block confirms, used to populate
	// tx_index/tx_offset_index/data_root_index/data_root_offset_index and
	// to promote matching disk-pool entries out of the pending pool.
	Txs []TxEntry
}

// orphanedRoot is a data_root_index key that the reorg primitive removed
// entirely, paired with the mempool tx ids that had placed it, so
// add_tip_block can re-seed the disk pool with a fresh timestamp.
type orphanedRoot struct {
	key   tables.DataRootKey
	txIDs map[[32]byte]struct{}
}

// AddTipBlock extends the retained block index with a new tip, performing
// a reorg rollback first if ParentHash does not match the current tip.
func (e *Engine) AddTipBlock(ctx context.Context, b BlockSubmission) error {
	_, err := call(ctx, e, func(eng *Engine) (struct{}, error) {
		return struct{}{}, eng.doAddTipBlock(b)
	})
	return err
}

func (e *Engine) doAddTipBlock(b BlockSubmission) error {
	blockStart := e.weaveSize
	if len(e.blockIndex) > 0 {
		tip := e.blockIndex[len(e.blockIndex)-1]
		if tip.BlockHash != b.ParentHash {
			orphaned, err := e.rollbackToAncestor(b.ParentHash)
			if err != nil {
				return errors.Wrap(err, "reorg rollback failed")
			}
			for _, o := range orphaned {
				e.reseedOrphanedRoot(o)
			}
			metrics.ReorgsHandled.Inc()
			blockStart = e.weaveSize
		}
	}

	e.blockIndex = append(e.blockIndex, persist.BlockIndexEntry{
		BlockHash: b.BlockHash,
		WeaveSize: b.WeaveSize,
		TxRoot:    b.TxRoot,
	})
	e.weaveSize = b.WeaveSize
	metrics.WeaveSize.Set(int64(e.weaveSize))

	if keep := e.cfg.TrackConfirmations; keep > 0 && len(e.blockIndex) > keep {
		e.blockIndex = e.blockIndex[len(e.blockIndex)-keep:]
	}

	if err := e.indexBlockTxs(blockStart, b); err != nil {
		return errors.Wrap(err, "indexing confirmed block")
	}

	for _, tx := range b.Txs {
		rootKey := poolKey(tables.NewDataRootKey(tx.DataRoot, tx.TxSize))
		e.diskPool.MarkConfirmed(rootKey)
		metrics.DiskPoolRootsPromoted.Inc()
	}
	return nil
}

// indexBlockTxs populates data_root_index, data_root_offset_index,
// tx_index, and tx_offset_index for a newly confirmed block (spec.md
// section 4.6: add_tip_block). Every data root a tx places is appended to
// its data_root_index placement map (a root re-uploaded across multiple
// blocks accumulates one placement per block, per spec.md section 4.4's
// tie-break note), and the block's full root set is recorded once under
// data_root_offset_index so a later reorg can find every root it touched.
func (e *Engine) indexBlockTxs(blockStart uint64, b BlockSubmission) error {
	if len(b.Txs) == 0 {
		return nil
	}

	batch := e.kv.NewBatch()
	roots := make([]tables.DataRootKey, 0, len(b.Txs))
	for _, tx := range b.Txs {
		absEnd := tx.AbsTxStart + tx.TxSize
		batch.Put(tables.TxIndex, tables.TxIndexKey(tx.TxID), tables.EncodeTxRecord(tables.TxRecord{
			AbsTxEndOffset: absEnd,
			TxSize:         tx.TxSize,
		}))
		batch.Put(tables.TxOffsetIndex, tables.TxOffsetIndexKey(tx.AbsTxStart), tables.EncodeTxID(tx.TxID))

		rootKey := tables.NewDataRootKey(tx.DataRoot, tx.TxSize)
		placements, err := e.loadPlacements(rootKey)
		if err != nil {
			return errors.Wrap(err, "reading data_root_index")
		}
		placements = append(placements, tables.TxPlacement{
			TxRoot:     b.TxRoot,
			AbsTxStart: tx.AbsTxStart,
			TxPath:     tx.TxPath,
		})
		batch.Put(tables.DataRootIndex, tables.DataRootIndexKey(rootKey), tables.EncodeDataRootIndexValue(placements))
		roots = append(roots, rootKey)
	}

	batch.Put(tables.DataRootOffsetIndex, tables.DataRootOffsetIndexKey(blockStart), tables.EncodeBlockRootsEntry(tables.BlockRootsEntry{
		TxRoot:    b.TxRoot,
		BlockSize: b.WeaveSize - blockStart,
		Roots:     roots,
	}))
	return batch.Commit()
}

// loadPlacements returns the existing placement list for a data_root_index
// key, or nil if the key has never been written.
func (e *Engine) loadPlacements(key tables.DataRootKey) ([]tables.TxPlacement, error) {
	v, err := e.kv.Get(tables.DataRootIndex, tables.DataRootIndexKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return tables.DecodeDataRootIndexValue(v)
}

// rollbackToAncestor walks the retained block index backward until it
// finds parentHash, then erases every table entry whose absolute offset
// lies at or beyond that ancestor's weave size (remove_orphaned_data,
// spec.md section 4.6), and truncates the in-memory block index and sync
// record to match.
func (e *Engine) rollbackToAncestor(parentHash [32]byte) ([]orphanedRoot, error) {
	idx := -1
	for i := len(e.blockIndex) - 1; i >= 0; i-- {
		if e.blockIndex[i].BlockHash == parentHash {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, errors.Wrap(ErrUnknownParent, "parent not found in retained block index")
	}

	ancestorSize := e.blockIndex[idx].WeaveSize
	orphaned, err := e.removeOrphanedData(ancestorSize, e.weaveSize)
	if err != nil {
		return nil, err
	}

	e.blockIndex = e.blockIndex[:idx+1]
	e.syncRecord.Cut(ancestorSize)
	e.weaveSize = ancestorSize
	return orphaned, nil
}

// removeOrphanedData is the reorg primitive (spec.md section 4.6,
// remove_orphaned_data): it deletes every chunks_index/chunk_data_index/
// tx_index/tx_offset_index entry at or beyond fromOffset (steps 1-2),
// trims data_root_index placement maps and erases data_root_offset_index
// for the orphaned range (steps 3-4), and returns every data_root_index
// key that was removed in full (step 5) so the caller can re-seed the
// disk pool.
func (e *Engine) removeOrphanedData(fromOffset, weaveSize uint64) ([]orphanedRoot, error) {
	lo := tables.ChunksIndexKey(fromOffset)
	hi := tables.ChunksIndexKey(^uint64(0))
	rows, err := e.kv.GetRange(tables.ChunksIndex, lo, hi)
	if err != nil {
		return nil, errors.Wrap(err, "scanning orphaned chunks_index range")
	}

	batch := e.kv.NewBatch()
	for _, row := range rows {
		rec, err := tables.DecodeChunkRecord(row.Value)
		if err != nil {
			continue
		}
		batch.Delete(tables.ChunkDataIndex, tables.ChunkDataIndexKey(rec.DataPathHash))
		batch.Delete(tables.ChunksIndex, row.Key)
	}

	txLo := tables.TxOffsetIndexKey(fromOffset)
	txHi := tables.TxOffsetIndexKey(^uint64(0))
	txRows, err := e.kv.GetRange(tables.TxOffsetIndex, txLo, txHi)
	if err != nil {
		return nil, errors.Wrap(err, "scanning orphaned tx_offset_index range")
	}
	txIDByStart := make(map[uint64][32]byte, len(txRows))
	for _, row := range txRows {
		txID, err := tables.DecodeTxID(row.Value)
		if err != nil {
			continue
		}
		start, err := tables.DecodeTxOffsetIndexKey(row.Key)
		if err != nil {
			continue
		}
		txIDByStart[start] = txID
		batch.Delete(tables.TxIndex, tables.TxIndexKey(txID))
		batch.Delete(tables.TxOffsetIndex, row.Key)
	}

	offLo := tables.DataRootOffsetIndexKey(fromOffset)
	offHi := tables.DataRootOffsetIndexKey(weaveSize + 1)
	offRows, err := e.kv.GetRange(tables.DataRootOffsetIndex, offLo, offHi)
	if err != nil {
		return nil, errors.Wrap(err, "scanning orphaned data_root_offset_index range")
	}

	var removed []orphanedRoot
	seen := make(map[tables.DataRootKey]bool)
	for _, row := range offRows {
		entry, err := tables.DecodeBlockRootsEntry(row.Value)
		if err != nil {
			continue
		}
		for _, key := range entry.Roots {
			if seen[key] {
				continue
			}
			seen[key] = true
			orphan, fullyRemoved, err := e.trimDataRootPlacements(batch, key, fromOffset, txIDByStart)
			if err != nil {
				e.logger.Warn("failed to trim data_root_index entry", "error", err)
				continue
			}
			if fullyRemoved {
				removed = append(removed, orphan)
			}
		}
	}
	batch.DeleteRange(tables.DataRootOffsetIndex, offLo, offHi)

	if err := batch.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

// trimDataRootPlacements removes every placement of key whose tx start
// offset is at or beyond fromOffset (spec.md section 4.6 step 3),
// deleting the data_root_index entry entirely if nothing survives.
func (e *Engine) trimDataRootPlacements(batch storage.Batch, key tables.DataRootKey, fromOffset uint64, txIDByStart map[uint64][32]byte) (orphanedRoot, bool, error) {
	placements, err := e.loadPlacements(key)
	if err != nil {
		return orphanedRoot{}, false, err
	}
	if len(placements) == 0 {
		return orphanedRoot{}, false, nil
	}

	kept := make([]tables.TxPlacement, 0, len(placements))
	txIDs := make(map[[32]byte]struct{})
	for _, pl := range placements {
		if pl.AbsTxStart >= fromOffset {
			if id, ok := txIDByStart[pl.AbsTxStart]; ok {
				txIDs[id] = struct{}{}
			}
			continue
		}
		kept = append(kept, pl)
	}

	if len(kept) == len(placements) {
		return orphanedRoot{}, false, nil
	}
	if len(kept) == 0 {
		batch.Delete(tables.DataRootIndex, tables.DataRootIndexKey(key))
		return orphanedRoot{key: key, txIDs: txIDs}, true, nil
	}
	batch.Put(tables.DataRootIndex, tables.DataRootIndexKey(key), tables.EncodeDataRootIndexValue(kept))
	return orphanedRoot{}, false, nil
}

func (e *Engine) reseedOrphanedRoot(o orphanedRoot) {
	e.diskPool.Reseed(poolKey(o.key), o.txIDs, time.Now())
}
