// Package tables defines the nine column families of the chunk store and
// the key/value encodings used within each, mirroring the teacher's
// schema.go convention of a single-byte prefix plus fixed-width
// big-endian key components (see internal/rawdb/schema.go). Every
// accessor here is a pure encode/decode function; the actual reads and
// writes go through the KV interface in internal/storage.
package tables

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
)

// Table name prefixes. One byte each, matching the teacher's
// single-letter prefix convention (schema.go: "h", "b", "r", "l", ...).
var (
	ChunksIndex          = []byte("c")
	ChunkDataIndex       = []byte("d")
	DataRootIndex        = []byte("R")
	DataRootOffsetIndex  = []byte("O")
	TxIndex              = []byte("t")
	TxOffsetIndex        = []byte("o")
	DiskPoolChunksIndex  = []byte("p")
	MissingChunksIndex   = []byte("m")
	MigrationsIndex      = []byte("g")
)

var ErrShortValue = errors.New("tables: value too short to decode")

func putU64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getU64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }

// --- chunks_index: key u64 AbsoluteEndOffset -> ChunkRecord ---

// ChunkRecord is the value stored at chunks_index[abs_end_offset].
type ChunkRecord struct {
	DataPathHash    [32]byte
	TxRoot          [32]byte
	DataRoot        [32]byte
	TxPath          []byte
	ChunkOffsetInTx uint64
	ChunkSize       uint64
}

// ChunksIndexKey encodes the chunks_index key for an absolute end offset.
func ChunksIndexKey(absEnd uint64) []byte {
	k := make([]byte, 8)
	putU64(k, absEnd)
	return k
}

// DecodeChunksIndexKey recovers the absolute end offset from a raw key.
func DecodeChunksIndexKey(k []byte) (uint64, error) {
	if len(k) != 8 {
		return 0, ErrShortValue
	}
	return getU64(k), nil
}

// EncodeChunkRecord serializes a ChunkRecord.
func EncodeChunkRecord(r ChunkRecord) []byte {
	buf := make([]byte, 32+32+32+4+len(r.TxPath)+8+8)
	off := 0
	copy(buf[off:], r.DataPathHash[:])
	off += 32
	copy(buf[off:], r.TxRoot[:])
	off += 32
	copy(buf[off:], r.DataRoot[:])
	off += 32
	binary.BigEndian.PutUint32(buf[off:], uint32(len(r.TxPath)))
	off += 4
	copy(buf[off:], r.TxPath)
	off += len(r.TxPath)
	putU64(buf[off:], r.ChunkOffsetInTx)
	off += 8
	putU64(buf[off:], r.ChunkSize)
	return buf
}

// DecodeChunkRecord parses a serialized ChunkRecord.
func DecodeChunkRecord(b []byte) (ChunkRecord, error) {
	if len(b) < 32+32+32+4 {
		return ChunkRecord{}, ErrShortValue
	}
	var r ChunkRecord
	off := 0
	copy(r.DataPathHash[:], b[off:off+32])
	off += 32
	copy(r.TxRoot[:], b[off:off+32])
	off += 32
	copy(r.DataRoot[:], b[off:off+32])
	off += 32
	pathLen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+pathLen+16 {
		return ChunkRecord{}, ErrShortValue
	}
	r.TxPath = append([]byte(nil), b[off:off+pathLen]...)
	off += pathLen
	r.ChunkOffsetInTx = getU64(b[off:])
	off += 8
	r.ChunkSize = getU64(b[off:])
	return r, nil
}

// --- chunk_data_index: key data_path_hash -> (chunk bytes, data path bytes) ---

func ChunkDataIndexKey(dataPathHash [32]byte) []byte {
	k := make([]byte, 32)
	copy(k, dataPathHash[:])
	return k
}

// EncodeChunkData serializes the chunk body and its data path together.
func EncodeChunkData(chunk, dataPath []byte) []byte {
	buf := make([]byte, 4+len(chunk)+len(dataPath))
	binary.BigEndian.PutUint32(buf, uint32(len(chunk)))
	copy(buf[4:], chunk)
	copy(buf[4+len(chunk):], dataPath)
	return buf
}

// DecodeChunkData splits the stored value back into chunk bytes and path.
func DecodeChunkData(b []byte) (chunk, dataPath []byte, err error) {
	if len(b) < 4 {
		return nil, nil, ErrShortValue
	}
	n := int(binary.BigEndian.Uint32(b))
	if len(b) < 4+n {
		return nil, nil, ErrShortValue
	}
	return b[4 : 4+n], b[4+n:], nil
}

// --- data_root_index: key data_root || u64 tx_size -> {tx_root -> {abs_tx_start -> tx_path}} ---

// DataRootKey is the 40-byte composite key identifying a pending or
// confirmed data root at a specific declared tx size.
type DataRootKey [40]byte

// NewDataRootKey builds a DataRootKey from a data root and tx size.
func NewDataRootKey(dataRoot [32]byte, txSize uint64) DataRootKey {
	var k DataRootKey
	copy(k[:32], dataRoot[:])
	putU64(k[32:], txSize)
	return k
}

// DataRoot returns the root portion of the key.
func (k DataRootKey) DataRoot() [32]byte {
	var r [32]byte
	copy(r[:], k[:32])
	return r
}

// TxSize returns the tx-size portion of the key.
func (k DataRootKey) TxSize() uint64 { return getU64(k[32:]) }

// Bytes returns the raw key bytes for KV storage.
func (k DataRootKey) Bytes() []byte { return k[:] }

// DataRootIndexKey encodes the data_root_index key.
func DataRootIndexKey(k DataRootKey) []byte {
	return append([]byte(nil), k[:]...)
}

// TxPlacement is one (tx_root -> abs_tx_start -> tx_path) placement of a
// data root within a confirmed block.
type TxPlacement struct {
	TxRoot      [32]byte
	AbsTxStart  uint64
	TxPath      []byte
}

// EncodeDataRootIndexValue serializes the full placement map for one data
// root key.
func EncodeDataRootIndexValue(placements []TxPlacement) []byte {
	var size int
	size += 4
	for _, p := range placements {
		size += 32 + 8 + 4 + len(p.TxPath)
	}
	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(len(placements)))
	off += 4
	for _, p := range placements {
		copy(buf[off:], p.TxRoot[:])
		off += 32
		putU64(buf[off:], p.AbsTxStart)
		off += 8
		binary.BigEndian.PutUint32(buf[off:], uint32(len(p.TxPath)))
		off += 4
		copy(buf[off:], p.TxPath)
		off += len(p.TxPath)
	}
	return buf
}

// DecodeDataRootIndexValue parses the placement map.
func DecodeDataRootIndexValue(b []byte) ([]TxPlacement, error) {
	if len(b) < 4 {
		return nil, ErrShortValue
	}
	n := int(binary.BigEndian.Uint32(b))
	off := 4
	out := make([]TxPlacement, 0, n)
	for i := 0; i < n; i++ {
		if len(b) < off+32+8+4 {
			return nil, ErrShortValue
		}
		var p TxPlacement
		copy(p.TxRoot[:], b[off:off+32])
		off += 32
		p.AbsTxStart = getU64(b[off:])
		off += 8
		pl := int(binary.BigEndian.Uint32(b[off:]))
		off += 4
		if len(b) < off+pl {
			return nil, ErrShortValue
		}
		p.TxPath = append([]byte(nil), b[off:off+pl]...)
		off += pl
		out = append(out, p)
	}
	return out, nil
}

// --- data_root_offset_index: key u64 block_start_offset -> (tx_root, block_size, set<DataRootKey>) ---

func DataRootOffsetIndexKey(blockStart uint64) []byte {
	k := make([]byte, 8)
	putU64(k, blockStart)
	return k
}

func DecodeDataRootOffsetIndexKey(k []byte) (uint64, error) {
	if len(k) != 8 {
		return 0, ErrShortValue
	}
	return getU64(k), nil
}

// BlockRootsEntry is the value at a data_root_offset_index key.
type BlockRootsEntry struct {
	TxRoot    [32]byte
	BlockSize uint64
	Roots     []DataRootKey
}

func EncodeBlockRootsEntry(e BlockRootsEntry) []byte {
	buf := make([]byte, 32+8+4+len(e.Roots)*40)
	off := 0
	copy(buf[off:], e.TxRoot[:])
	off += 32
	putU64(buf[off:], e.BlockSize)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(e.Roots)))
	off += 4
	for _, r := range e.Roots {
		copy(buf[off:], r[:])
		off += 40
	}
	return buf
}

func DecodeBlockRootsEntry(b []byte) (BlockRootsEntry, error) {
	if len(b) < 32+8+4 {
		return BlockRootsEntry{}, ErrShortValue
	}
	var e BlockRootsEntry
	off := 0
	copy(e.TxRoot[:], b[off:off+32])
	off += 32
	e.BlockSize = getU64(b[off:])
	off += 8
	n := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+n*40 {
		return BlockRootsEntry{}, ErrShortValue
	}
	e.Roots = make([]DataRootKey, n)
	for i := 0; i < n; i++ {
		copy(e.Roots[i][:], b[off:off+40])
		off += 40
	}
	return e, nil
}

// --- tx_index: key tx_id (32 bytes) -> (abs_tx_end_offset, tx_size) ---

func TxIndexKey(txID [32]byte) []byte {
	k := make([]byte, 32)
	copy(k, txID[:])
	return k
}

type TxRecord struct {
	AbsTxEndOffset uint64
	TxSize         uint64
}

func EncodeTxRecord(r TxRecord) []byte {
	buf := make([]byte, 16)
	putU64(buf, r.AbsTxEndOffset)
	putU64(buf[8:], r.TxSize)
	return buf
}

func DecodeTxRecord(b []byte) (TxRecord, error) {
	if len(b) != 16 {
		return TxRecord{}, ErrShortValue
	}
	return TxRecord{AbsTxEndOffset: getU64(b), TxSize: getU64(b[8:])}, nil
}

// --- tx_offset_index: key u64 abs_tx_start_offset -> tx_id ---

func TxOffsetIndexKey(absTxStart uint64) []byte {
	k := make([]byte, 8)
	putU64(k, absTxStart)
	return k
}

func DecodeTxOffsetIndexKey(k []byte) (uint64, error) {
	if len(k) != 8 {
		return 0, ErrShortValue
	}
	return getU64(k), nil
}

func EncodeTxID(txID [32]byte) []byte {
	b := make([]byte, 32)
	copy(b, txID[:])
	return b
}

func DecodeTxID(b []byte) ([32]byte, error) {
	var id [32]byte
	if len(b) != 32 {
		return id, ErrShortValue
	}
	copy(id[:], b)
	return id, nil
}

// --- disk_pool_chunks_index: key u256 timestamp || data_path_hash -> record ---

// DiskPoolChunkKey is the 64-byte composite key: a 256-bit timestamp (so
// the same scheme used for tx/data roots) followed by the chunk's content
// hash, giving the disk-pool scanner a natural cyclic-iteration order by
// arrival time.
type DiskPoolChunkKey [64]byte

func NewDiskPoolChunkKey(ts *uint256.Int, dataPathHash [32]byte) DiskPoolChunkKey {
	var k DiskPoolChunkKey
	tsBytes := ts.Bytes32()
	copy(k[:32], tsBytes[:])
	copy(k[32:], dataPathHash[:])
	return k
}

func (k DiskPoolChunkKey) Timestamp() *uint256.Int {
	return new(uint256.Int).SetBytes(k[:32])
}

func (k DiskPoolChunkKey) DataPathHash() [32]byte {
	var h [32]byte
	copy(h[:], k[32:])
	return h
}

func (k DiskPoolChunkKey) Bytes() []byte { return k[:] }

// DiskPoolChunkRecord is the value at a disk_pool_chunks_index key.
type DiskPoolChunkRecord struct {
	ChunkOffsetInTx uint64
	ChunkSize       uint64
	DataRoot        [32]byte
	TxSize          uint64
}

func EncodeDiskPoolChunkRecord(r DiskPoolChunkRecord) []byte {
	buf := make([]byte, 8+8+32+8)
	putU64(buf, r.ChunkOffsetInTx)
	putU64(buf[8:], r.ChunkSize)
	copy(buf[16:], r.DataRoot[:])
	putU64(buf[48:], r.TxSize)
	return buf
}

func DecodeDiskPoolChunkRecord(b []byte) (DiskPoolChunkRecord, error) {
	if len(b) != 56 {
		return DiskPoolChunkRecord{}, ErrShortValue
	}
	var r DiskPoolChunkRecord
	r.ChunkOffsetInTx = getU64(b)
	r.ChunkSize = getU64(b[8:])
	copy(r.DataRoot[:], b[16:48])
	r.TxSize = getU64(b[48:])
	return r, nil
}

// --- missing_chunks_index: key u64 interval_end -> u64 interval_start ---

func MissingChunksIndexKey(intervalEnd uint64) []byte {
	k := make([]byte, 8)
	putU64(k, intervalEnd)
	return k
}

func DecodeMissingChunksIndexKey(k []byte) (uint64, error) {
	if len(k) != 8 {
		return 0, ErrShortValue
	}
	return getU64(k), nil
}

func EncodeMissingChunksValue(intervalStart uint64) []byte {
	buf := make([]byte, 8)
	putU64(buf, intervalStart)
	return buf
}

func DecodeMissingChunksValue(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, ErrShortValue
	}
	return getU64(b), nil
}

// --- migrations_index: key migration-name -> opaque progress marker ---

func MigrationsIndexKey(name string) []byte {
	return []byte(name)
}
