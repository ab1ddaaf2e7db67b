package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ecolog/arweave/internal/config"
	"github.com/ecolog/arweave/internal/merkle"
	"github.com/ecolog/arweave/internal/storage"
	"github.com/ecolog/arweave/internal/tables"
)

// widthVerifier is a hand-rolled merkle.Verifier: every ValidatePath call
// succeeds and returns a leaf spanning exactly [offset-width, offset), so
// tests control chunk size by setting width before calling into the engine.
type widthVerifier struct {
	width uint64
}

func (v *widthVerifier) ValidatePath(root [32]byte, offset, size uint64, path []byte) (merkle.ValidatedLeaf, error) {
	return merkle.ValidatedLeaf{Start: offset - v.width, End: offset}, nil
}

func newTestEngine(t *testing.T, width uint64) (*Engine, storage.KV) {
	t.Helper()
	kv, err := storage.Open(storage.DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	v := &widthVerifier{width: width}
	e := New(Deps{
		Config:    config.DefaultEngine(),
		KV:        kv,
		Validator: merkle.NewValidator(v, config.MaxChunkBytes),
	})
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	t.Cleanup(func() {
		cancel()
		e.Stop()
	})
	return e, kv
}

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func TestAddChunkThenGetChunkRoundTrips(t *testing.T) {
	chunk := []byte("the quick brown fox jumps over the lazy dog")
	e, _ := newTestEngine(t, uint64(len(chunk)))

	ctx, cancel := callCtx()
	defer cancel()
	req := StoreChunkRequest{
		Proof: merkle.Proof{
			Chunk:      chunk,
			DataPath:   []byte("data-path-bytes"),
			TxPath:     []byte("tx-path-bytes"),
			DataRoot:   [32]byte{1},
			TxRoot:     [32]byte{2},
			TxSize:     uint64(len(chunk)),
			OffsetInTx: uint64(len(chunk)),
		},
		AbsEndOffset: uint64(len(chunk)),
	}
	if err := e.AddChunk(ctx, req); err != nil {
		t.Fatalf("AddChunk() error = %v", err)
	}

	hash := merkle.DataPathHash(req.Proof.DataPath)
	got, err := e.GetChunk(ctx, hash)
	if err != nil {
		t.Fatalf("GetChunk() error = %v", err)
	}
	if string(got) != string(chunk) {
		t.Fatalf("GetChunk() = %q, want %q", got, chunk)
	}

	items, err := e.SyncRecordSnapshot(ctx)
	if err != nil {
		t.Fatalf("SyncRecordSnapshot() error = %v", err)
	}
	if len(items) != 1 || items[0].Start != 0 || items[0].End != uint64(len(chunk)) {
		t.Fatalf("sync record = %+v, want [{0 %d}]", items, len(chunk))
	}
}

func TestAddChunkIsIdempotentAtSameOffset(t *testing.T) {
	chunk := []byte("idempotent chunk body")
	e, kv := newTestEngine(t, uint64(len(chunk)))

	ctx, cancel := callCtx()
	defer cancel()
	req := StoreChunkRequest{
		Proof: merkle.Proof{
			Chunk:      chunk,
			DataPath:   []byte("path"),
			DataRoot:   [32]byte{3},
			TxSize:     uint64(len(chunk)),
			OffsetInTx: uint64(len(chunk)),
		},
		AbsEndOffset: uint64(len(chunk)),
	}
	if err := e.AddChunk(ctx, req); err != nil {
		t.Fatalf("first AddChunk() error = %v", err)
	}
	if err := e.AddChunk(ctx, req); err != nil {
		t.Fatalf("second AddChunk() error = %v", err)
	}

	rows, err := kv.GetRange(tables.ChunksIndex, []byte{}, tables.ChunksIndexKey(^uint64(0)))
	if err != nil {
		t.Fatalf("GetRange() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("chunks_index has %d rows after duplicate AddChunk, want 1", len(rows))
	}
}

func TestAddChunkRejectsBadProof(t *testing.T) {
	e, _ := newTestEngine(t, 100) // verifier expects a different width than what's submitted

	ctx, cancel := callCtx()
	defer cancel()
	req := StoreChunkRequest{
		Proof: merkle.Proof{
			Chunk:      []byte("short"),
			DataPath:   []byte("path"),
			DataRoot:   [32]byte{4},
			TxSize:     100,
			OffsetInTx: 100,
		},
		AbsEndOffset: 100,
	}
	if err := e.AddChunk(ctx, req); err == nil {
		t.Fatal("expected AddChunk to reject a chunk shorter than the validated leaf width")
	}
}

func TestGetChunkAtByteFindsCoveringChunk(t *testing.T) {
	chunk := []byte("probe target chunk bytes")
	e, _ := newTestEngine(t, uint64(len(chunk)))

	ctx, cancel := callCtx()
	defer cancel()
	req := StoreChunkRequest{
		Proof: merkle.Proof{
			Chunk:      chunk,
			DataPath:   []byte("path"),
			TxPath:     []byte("tx-path"),
			DataRoot:   [32]byte{5},
			TxRoot:     [32]byte{6},
			TxSize:     uint64(len(chunk)),
			OffsetInTx: uint64(len(chunk)),
		},
		AbsEndOffset: 1000,
	}
	if err := e.AddChunk(ctx, req); err != nil {
		t.Fatalf("AddChunk() error = %v", err)
	}

	probe := uint64(1000 - len(chunk)/2) // inside the stored chunk's range
	at, err := e.GetChunkAtByte(ctx, probe)
	if err != nil {
		t.Fatalf("GetChunkAtByte() error = %v", err)
	}
	if string(at.Bytes) != string(chunk) {
		t.Fatalf("GetChunkAtByte().Bytes = %q, want %q", at.Bytes, chunk)
	}
	if at.AbsEndOffset != 1000 {
		t.Fatalf("AbsEndOffset = %d, want 1000", at.AbsEndOffset)
	}
}

func TestGetChunkAtByteNotCoveredReturnsError(t *testing.T) {
	e, _ := newTestEngine(t, 10)
	ctx, cancel := callCtx()
	defer cancel()
	if _, err := e.GetChunkAtByte(ctx, 12345); err == nil {
		t.Fatal("expected an error probing an empty chunk store")
	}
}

func TestAddPoolChunkRequiresKnownRoot(t *testing.T) {
	e, _ := newTestEngine(t, 5)
	ctx, cancel := callCtx()
	defer cancel()

	err := e.AddPoolChunk(ctx, PoolChunkRequest{
		DataRoot:   [32]byte{7},
		TxSize:     5,
		DataPath:   []byte("path"),
		Chunk:      []byte("chunk"),
		OffsetInTx: 5,
	})
	if err != ErrDataRootNotFound {
		t.Fatalf("err = %v, want ErrDataRootNotFound", err)
	}
}

func TestAddPoolChunkStagesChunkAfterRootAdded(t *testing.T) {
	chunk := []byte("chunk")
	e, kv := newTestEngine(t, uint64(len(chunk)))
	dataRoot := [32]byte{8}
	txID := [32]byte{9}

	if err := e.AddRootToPool(dataRoot, uint64(len(chunk)), txID); err != nil {
		t.Fatalf("AddRootToPool() error = %v", err)
	}

	ctx, cancel := callCtx()
	defer cancel()
	req := PoolChunkRequest{
		DataRoot:   dataRoot,
		TxSize:     uint64(len(chunk)),
		DataPath:   []byte("path"),
		Chunk:      chunk,
		OffsetInTx: uint64(len(chunk)),
	}
	if err := e.AddPoolChunk(ctx, req); err != nil {
		t.Fatalf("AddPoolChunk() error = %v", err)
	}

	hash := merkle.DataPathHash(req.DataPath)
	got, err := kv.Get(tables.ChunkDataIndex, tables.ChunkDataIndexKey(hash))
	if err != nil {
		t.Fatalf("expected staged chunk body in chunk_data_index: %v", err)
	}
	storedChunk, _, err := tables.DecodeChunkData(got)
	if err != nil || string(storedChunk) != string(chunk) {
		t.Fatalf("staged chunk = %q, err %v, want %q", storedChunk, err, chunk)
	}

	rows, err := kv.GetRange(tables.DiskPoolChunksIndex, []byte{}, bytesOfAllFF(64))
	if err != nil {
		t.Fatalf("GetRange(disk_pool_chunks_index) error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("disk_pool_chunks_index has %d rows, want 1", len(rows))
	}
}

func TestAddPoolChunkRejectsInvalidProof(t *testing.T) {
	e, _ := newTestEngine(t, 100) // verifier width mismatches the chunk below
	dataRoot := [32]byte{10}
	if err := e.AddRootToPool(dataRoot, 5, [32]byte{11}); err != nil {
		t.Fatalf("AddRootToPool() error = %v", err)
	}

	ctx, cancel := callCtx()
	defer cancel()
	err := e.AddPoolChunk(ctx, PoolChunkRequest{
		DataRoot:   dataRoot,
		TxSize:     5,
		DataPath:   []byte("path"),
		Chunk:      []byte("chunk"),
		OffsetInTx: 5,
	})
	if err == nil {
		t.Fatal("expected AddPoolChunk to reject an invalid data path proof")
	}
}

func TestHealthReportsSyncedBytesAndDiskPool(t *testing.T) {
	chunk := []byte("healthy chunk body")
	e, _ := newTestEngine(t, uint64(len(chunk)))
	ctx, cancel := callCtx()
	defer cancel()

	req := StoreChunkRequest{
		Proof: merkle.Proof{
			Chunk:      chunk,
			DataPath:   []byte("path"),
			DataRoot:   [32]byte{12},
			TxSize:     uint64(len(chunk)),
			OffsetInTx: uint64(len(chunk)),
		},
		AbsEndOffset: uint64(len(chunk)),
	}
	if err := e.AddChunk(ctx, req); err != nil {
		t.Fatalf("AddChunk() error = %v", err)
	}

	h, err := e.Health(ctx)
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.SyncedBytes != uint64(len(chunk)) {
		t.Fatalf("SyncedBytes = %d, want %d", h.SyncedBytes, len(chunk))
	}
	if h.SyncIntervals != 1 {
		t.Fatalf("SyncIntervals = %d, want 1", h.SyncIntervals)
	}
}

func TestGetTxDataReassemblesFromChunks(t *testing.T) {
	partA := []byte("first half of the transaction ")
	partB := []byte("second half of the transaction")
	width := uint64(len(partA))
	e, kv := newTestEngine(t, width)

	ctx, cancel := callCtx()
	defer cancel()
	dataRoot := [32]byte{13}
	if err := e.AddChunk(ctx, StoreChunkRequest{
		Proof: merkle.Proof{
			Chunk:      partA,
			DataPath:   []byte("path-a"),
			DataRoot:   dataRoot,
			TxSize:     uint64(len(partA) + len(partB)),
			OffsetInTx: width,
		},
		AbsEndOffset: width,
	}); err != nil {
		t.Fatalf("AddChunk(partA) error = %v", err)
	}

	// Second chunk has a different width; use a fresh verifier call through
	// a second engine would be overkill, so submit it with matching width by
	// keeping both halves equal length.
	if len(partB) != len(partA) {
		t.Fatalf("test fixture requires equal-length halves, got %d and %d", len(partA), len(partB))
	}
	if err := e.AddChunk(ctx, StoreChunkRequest{
		Proof: merkle.Proof{
			Chunk:      partB,
			DataPath:   []byte("path-b"),
			DataRoot:   dataRoot,
			TxSize:     uint64(len(partA) + len(partB)),
			OffsetInTx: uint64(len(partA) + len(partB)),
		},
		AbsEndOffset: uint64(len(partA) + len(partB)),
	}); err != nil {
		t.Fatalf("AddChunk(partB) error = %v", err)
	}

	txID := [32]byte{14}
	txRec := tables.TxRecord{AbsTxEndOffset: uint64(len(partA) + len(partB)), TxSize: uint64(len(partA) + len(partB))}
	if err := kv.Put(tables.TxIndex, tables.TxIndexKey(txID), tables.EncodeTxRecord(txRec)); err != nil {
		t.Fatalf("seeding tx_index: %v", err)
	}

	data, err := e.GetTxData(ctx, txID)
	if err != nil {
		t.Fatalf("GetTxData() error = %v", err)
	}
	want := append(append([]byte(nil), partA...), partB...)
	if string(data) != string(want) {
		t.Fatalf("GetTxData() = %q, want %q", data, want)
	}
}

func bytesOfAllFF(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}
