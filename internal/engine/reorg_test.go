package engine

import (
	"testing"

	"github.com/ecolog/arweave/internal/tables"
)

func TestAddTipBlockPopulatesIndexes(t *testing.T) {
	e, kv := newTestEngine(t, 10)

	dataRoot := [32]byte{20}
	txID := [32]byte{21}
	txRoot := [32]byte{22}
	blockHash := [32]byte{23}

	ctx, cancel := callCtx()
	defer cancel()
	err := e.AddTipBlock(ctx, BlockSubmission{
		BlockHash: blockHash,
		WeaveSize: 100,
		TxRoot:    txRoot,
		Txs: []TxEntry{{
			TxID:       txID,
			DataRoot:   dataRoot,
			TxSize:     100,
			AbsTxStart: 0,
			TxPath:     []byte("tx-path"),
		}},
	})
	if err != nil {
		t.Fatalf("AddTipBlock() error = %v", err)
	}

	txRec, err := kv.Get(tables.TxIndex, tables.TxIndexKey(txID))
	if err != nil {
		t.Fatalf("expected tx_index entry: %v", err)
	}
	rec, err := tables.DecodeTxRecord(txRec)
	if err != nil || rec.AbsTxEndOffset != 100 {
		t.Fatalf("tx_index record = %+v, err %v, want AbsTxEndOffset=100", rec, err)
	}

	gotTxID, err := kv.Get(tables.TxOffsetIndex, tables.TxOffsetIndexKey(0))
	if err != nil {
		t.Fatalf("expected tx_offset_index entry: %v", err)
	}
	decoded, err := tables.DecodeTxID(gotTxID)
	if err != nil || decoded != txID {
		t.Fatalf("tx_offset_index decoded = %x, err %v, want %x", decoded, err, txID)
	}

	rootKey := tables.NewDataRootKey(dataRoot, 100)
	placements, err := e.loadPlacements(rootKey)
	if err != nil {
		t.Fatalf("loadPlacements() error = %v", err)
	}
	if len(placements) != 1 || placements[0].AbsTxStart != 0 || placements[0].TxRoot != txRoot {
		t.Fatalf("data_root_index placements = %+v, want one placement at AbsTxStart=0", placements)
	}

	offVal, err := kv.Get(tables.DataRootOffsetIndex, tables.DataRootOffsetIndexKey(0))
	if err != nil {
		t.Fatalf("expected data_root_offset_index entry: %v", err)
	}
	entry, err := tables.DecodeBlockRootsEntry(offVal)
	if err != nil || entry.BlockSize != 100 || len(entry.Roots) != 1 || entry.Roots[0] != rootKey {
		t.Fatalf("data_root_offset_index entry = %+v, err %v, want BlockSize=100 roots=[%v]", entry, err, rootKey)
	}
}

func TestAddTipBlockReorgTrimsOrphanedDataAndReseeds(t *testing.T) {
	e, kv := newTestEngine(t, 10)
	ctx, cancel := callCtx()
	defer cancel()

	h1 := [32]byte{30}
	if err := e.AddTipBlock(ctx, BlockSubmission{
		BlockHash: h1,
		WeaveSize: 100,
		TxRoot:    [32]byte{31},
		Txs: []TxEntry{{
			TxID:       [32]byte{32},
			DataRoot:   [32]byte{33},
			TxSize:     100,
			AbsTxStart: 0,
			TxPath:     []byte("p1"),
		}},
	}); err != nil {
		t.Fatalf("AddTipBlock(h1) error = %v", err)
	}

	dataRoot2 := [32]byte{40}
	tx2 := [32]byte{41}
	h2 := [32]byte{34}
	if err := e.AddTipBlock(ctx, BlockSubmission{
		BlockHash:  h2,
		ParentHash: h1,
		WeaveSize:  200,
		TxRoot:     [32]byte{35},
		Txs: []TxEntry{{
			TxID:       tx2,
			DataRoot:   dataRoot2,
			TxSize:     100,
			AbsTxStart: 100,
			TxPath:     []byte("p2"),
		}},
	}); err != nil {
		t.Fatalf("AddTipBlock(h2) error = %v", err)
	}

	rootKey2 := tables.NewDataRootKey(dataRoot2, 100)
	if placements, _ := e.loadPlacements(rootKey2); len(placements) != 1 {
		t.Fatalf("expected one placement for dataRoot2 before reorg, got %d", len(placements))
	}

	// h3 reorgs back onto h1, orphaning h2's block and everything it indexed.
	h3 := [32]byte{36}
	if err := e.AddTipBlock(ctx, BlockSubmission{
		BlockHash:  h3,
		ParentHash: h1,
		WeaveSize:  150,
		TxRoot:     [32]byte{37},
		Txs: []TxEntry{{
			TxID:       [32]byte{42},
			DataRoot:   [32]byte{43},
			TxSize:     50,
			AbsTxStart: 100,
			TxPath:     []byte("p3"),
		}},
	}); err != nil {
		t.Fatalf("AddTipBlock(h3) reorg error = %v", err)
	}

	if placements, err := e.loadPlacements(rootKey2); err != nil || len(placements) != 0 {
		t.Fatalf("data_root_index for orphaned root = %+v, err %v, want empty", placements, err)
	}
	if _, err := kv.Get(tables.TxIndex, tables.TxIndexKey(tx2)); err == nil {
		t.Fatal("expected orphaned tx2's tx_index entry to be removed")
	}

	// h3 occupies the same byte range h2 did, so data_root_offset_index[100]
	// now holds h3's tx root rather than being absent.
	offVal, err := kv.Get(tables.DataRootOffsetIndex, tables.DataRootOffsetIndexKey(100))
	if err != nil {
		t.Fatalf("expected data_root_offset_index[100] to hold h3's entry: %v", err)
	}
	entry, err := tables.DecodeBlockRootsEntry(offVal)
	if err != nil || entry.TxRoot != [32]byte{37} {
		t.Fatalf("data_root_offset_index[100] = %+v, err %v, want h3's TxRoot", entry, err)
	}

	poolKey2 := poolKey(rootKey2)
	if !e.diskPool.Contains(poolKey2) {
		t.Fatal("expected orphaned data root to be reseeded into the disk pool")
	}
	rs, ok := e.diskPool.Get(poolKey2)
	if !ok {
		t.Fatal("diskPool.Get() on reseeded root returned ok = false")
	}
	if len(rs.TxIDs) != 1 {
		t.Fatalf("reseeded root TxIDs = %+v, want exactly tx2", rs.TxIDs)
	}
	if _, has := rs.TxIDs[tx2]; !has {
		t.Fatalf("reseeded root TxIDs = %+v, want %x present", rs.TxIDs, tx2)
	}
}
