package tables

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
)

func TestChunkRecordRoundTrip(t *testing.T) {
	rec := ChunkRecord{
		DataPathHash:    [32]byte{1, 2, 3},
		TxRoot:          [32]byte{4, 5, 6},
		DataRoot:        [32]byte{7, 8, 9},
		TxPath:          []byte("some variable-length tx path bytes"),
		ChunkOffsetInTx: 12345,
		ChunkSize:       256 * 1024,
	}
	got, err := DecodeChunkRecord(EncodeChunkRecord(rec))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.DataPathHash != rec.DataPathHash || got.TxRoot != rec.TxRoot || got.DataRoot != rec.DataRoot {
		t.Fatalf("decoded fixed fields mismatch: %+v", got)
	}
	if !bytes.Equal(got.TxPath, rec.TxPath) {
		t.Fatalf("TxPath = %q, want %q", got.TxPath, rec.TxPath)
	}
	if got.ChunkOffsetInTx != rec.ChunkOffsetInTx || got.ChunkSize != rec.ChunkSize {
		t.Fatalf("offset/size mismatch: %+v", got)
	}
}

func TestChunkRecordEmptyTxPath(t *testing.T) {
	rec := ChunkRecord{ChunkSize: 10}
	got, err := DecodeChunkRecord(EncodeChunkRecord(rec))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(got.TxPath) != 0 {
		t.Fatalf("TxPath = %v, want empty", got.TxPath)
	}
}

func TestDecodeChunkRecordRejectsTruncatedInput(t *testing.T) {
	rec := ChunkRecord{TxPath: []byte("abc"), ChunkSize: 1}
	full := EncodeChunkRecord(rec)
	if _, err := DecodeChunkRecord(full[:len(full)-1]); err != ErrShortValue {
		t.Fatalf("err = %v, want ErrShortValue", err)
	}
}

func TestChunksIndexKeyRoundTrip(t *testing.T) {
	k := ChunksIndexKey(1 << 40)
	got, err := DecodeChunksIndexKey(k)
	if err != nil || got != 1<<40 {
		t.Fatalf("got %d, err %v, want %d", got, err, 1<<40)
	}
}

func TestChunkDataRoundTrip(t *testing.T) {
	chunk := []byte("chunk body bytes")
	dataPath := []byte("data path bytes")
	gotChunk, gotPath, err := DecodeChunkData(EncodeChunkData(chunk, dataPath))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(gotChunk, chunk) || !bytes.Equal(gotPath, dataPath) {
		t.Fatalf("got (%q, %q), want (%q, %q)", gotChunk, gotPath, chunk, dataPath)
	}
}

func TestDataRootKeyAccessors(t *testing.T) {
	root := [32]byte{1, 2, 3}
	k := NewDataRootKey(root, 9999)
	if k.DataRoot() != root {
		t.Errorf("DataRoot() = %x, want %x", k.DataRoot(), root)
	}
	if k.TxSize() != 9999 {
		t.Errorf("TxSize() = %d, want 9999", k.TxSize())
	}
}

func TestDataRootIndexValueRoundTrip(t *testing.T) {
	placements := []TxPlacement{
		{TxRoot: [32]byte{1}, AbsTxStart: 100, TxPath: []byte("path one")},
		{TxRoot: [32]byte{2}, AbsTxStart: 200, TxPath: []byte("path two is longer")},
	}
	got, err := DecodeDataRootIndexValue(EncodeDataRootIndexValue(placements))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(got) != len(placements) {
		t.Fatalf("len = %d, want %d", len(got), len(placements))
	}
	for i := range placements {
		if got[i].TxRoot != placements[i].TxRoot || got[i].AbsTxStart != placements[i].AbsTxStart {
			t.Fatalf("placement %d mismatch: %+v vs %+v", i, got[i], placements[i])
		}
		if !bytes.Equal(got[i].TxPath, placements[i].TxPath) {
			t.Fatalf("placement %d TxPath mismatch: %q vs %q", i, got[i].TxPath, placements[i].TxPath)
		}
	}
}

func TestDataRootIndexValueEmpty(t *testing.T) {
	got, err := DecodeDataRootIndexValue(EncodeDataRootIndexValue(nil))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestBlockRootsEntryRoundTrip(t *testing.T) {
	entry := BlockRootsEntry{
		TxRoot:    [32]byte{9},
		BlockSize: 5_000_000,
		Roots: []DataRootKey{
			NewDataRootKey([32]byte{1}, 100),
			NewDataRootKey([32]byte{2}, 200),
		},
	}
	got, err := DecodeBlockRootsEntry(EncodeBlockRootsEntry(entry))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.TxRoot != entry.TxRoot || got.BlockSize != entry.BlockSize {
		t.Fatalf("got %+v, want %+v", got, entry)
	}
	if len(got.Roots) != 2 || got.Roots[0] != entry.Roots[0] || got.Roots[1] != entry.Roots[1] {
		t.Fatalf("Roots = %v, want %v", got.Roots, entry.Roots)
	}
}

func TestTxRecordRoundTrip(t *testing.T) {
	rec := TxRecord{AbsTxEndOffset: 123456789, TxSize: 4096}
	got, err := DecodeTxRecord(EncodeTxRecord(rec))
	if err != nil || got != rec {
		t.Fatalf("got %+v, err %v, want %+v", got, err, rec)
	}
}

func TestTxIDRoundTrip(t *testing.T) {
	id := [32]byte{1, 2, 3, 4, 5}
	got, err := DecodeTxID(EncodeTxID(id))
	if err != nil || got != id {
		t.Fatalf("got %x, err %v, want %x", got, err, id)
	}
}

func TestDiskPoolChunkKeyAccessors(t *testing.T) {
	ts := uint256.NewInt(1_700_000_000)
	hash := [32]byte{1, 2, 3}
	k := NewDiskPoolChunkKey(ts, hash)
	if k.Timestamp().Cmp(ts) != 0 {
		t.Errorf("Timestamp() = %v, want %v", k.Timestamp(), ts)
	}
	if k.DataPathHash() != hash {
		t.Errorf("DataPathHash() = %x, want %x", k.DataPathHash(), hash)
	}
}

func TestDiskPoolChunkRecordRoundTrip(t *testing.T) {
	rec := DiskPoolChunkRecord{
		ChunkOffsetInTx: 42,
		ChunkSize:       1024,
		DataRoot:        [32]byte{7},
		TxSize:          2048,
	}
	got, err := DecodeDiskPoolChunkRecord(EncodeDiskPoolChunkRecord(rec))
	if err != nil || got != rec {
		t.Fatalf("got %+v, err %v, want %+v", got, err, rec)
	}
}

func TestMissingChunksRoundTrip(t *testing.T) {
	k := MissingChunksIndexKey(500)
	gotKey, err := DecodeMissingChunksIndexKey(k)
	if err != nil || gotKey != 500 {
		t.Fatalf("key got %d, err %v, want 500", gotKey, err)
	}
	gotVal, err := DecodeMissingChunksValue(EncodeMissingChunksValue(100))
	if err != nil || gotVal != 100 {
		t.Fatalf("value got %d, err %v, want 100", gotVal, err)
	}
}

func TestMigrationsIndexKeyIsNameBytes(t *testing.T) {
	if !bytes.Equal(MigrationsIndexKey("v2-chunk-store"), []byte("v2-chunk-store")) {
		t.Fatal("MigrationsIndexKey did not return the raw name bytes")
	}
}
