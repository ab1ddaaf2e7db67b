// Package persist implements the sidecar term file described in spec.md
// section 6: the tuple (sync_record, block_index, disk_pool_data_roots,
// disk_pool_size, compacted_size), persisted after every join/add_tip_block
// and loaded on startup. A legacy 4-tuple without compacted_size must be
// accepted, with the missing field treated as zero.
//
// Encoding is a small versioned binary format (version tag byte + sections),
// following the same "version byte first" discipline as the teacher's
// ancient-store segment format (internal/rawdb/freezer.go). Files above a
// size threshold are zstd-compressed, using klauspost/compress/zstd as
// listed in SPEC_FULL.md's domain stack.
package persist

import (
	"bytes"
	"encoding/binary"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"

	"github.com/ecolog/arweave/internal/intervals"
)

// versionLegacy is the 4-tuple format (no compacted_size field).
const versionLegacy = 0

// versionCurrent is the 5-tuple format including compacted_size.
const versionCurrent = 1

// zstdMagic marks a zstd-compressed payload following the version byte.
const zstdMagic = 0xFE

// compressThreshold is the raw size above which State is written
// zstd-compressed.
const compressThreshold = 1 << 20 // 1 MiB

// BlockIndexEntry is one entry of the engine's retained block_index.
type BlockIndexEntry struct {
	BlockHash [32]byte
	WeaveSize uint64
	TxRoot    [32]byte
}

// DiskPoolRoot is one persisted disk_pool_data_roots entry. Confirmed is
// true when TxIDs is nil in memory (the root must never expire).
type DiskPoolRoot struct {
	Key         [40]byte
	TotalBytes  uint64
	FirstSeenTS time.Time
	Confirmed   bool
	TxIDs       [][32]byte
}

// State is the full persisted tuple.
type State struct {
	SyncRecord     []intervals.Interval
	BlockIndex     []BlockIndexEntry
	DiskPoolRoots  []DiskPoolRoot
	DiskPoolSize   uint64
	CompactedSize  uint64
}

// Save writes state to path, compressing when it exceeds compressThreshold.
func Save(path string, s State) error {
	raw := encode(s)
	payload := raw
	marker := byte(versionCurrent)
	if len(raw) > compressThreshold {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return errors.Wrap(err, "persist: creating zstd encoder")
		}
		payload = enc.EncodeAll(raw, nil)
		enc.Close()
		marker = zstdMagic
	}
	out := append([]byte{marker}, payload...)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return errors.Wrap(err, "persist: writing sidecar term file")
	}
	return os.Rename(tmp, path)
}

// Load reads and decodes the sidecar term file at path, accepting the
// legacy 4-tuple (compacted_size defaults to zero) and transparently
// decompressing zstd-marked payloads.
func Load(path string) (State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	if len(raw) == 0 {
		return State{}, errors.New("persist: empty sidecar file")
	}
	marker, body := raw[0], raw[1:]
	if marker == zstdMagic {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return State{}, errors.Wrap(err, "persist: creating zstd decoder")
		}
		defer dec.Close()
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return State{}, errors.Wrap(err, "persist: decompressing sidecar file")
		}
		// A compressed payload was always written at versionCurrent.
		return decode(body, versionCurrent)
	}
	return decode(body, marker)
}

func encode(s State) []byte {
	var buf bytes.Buffer

	writeU32(&buf, uint32(len(s.SyncRecord)))
	for _, iv := range s.SyncRecord {
		writeU64(&buf, iv.Start)
		writeU64(&buf, iv.End)
	}

	writeU32(&buf, uint32(len(s.BlockIndex)))
	for _, e := range s.BlockIndex {
		buf.Write(e.BlockHash[:])
		writeU64(&buf, e.WeaveSize)
		buf.Write(e.TxRoot[:])
	}

	writeU32(&buf, uint32(len(s.DiskPoolRoots)))
	for _, r := range s.DiskPoolRoots {
		buf.Write(r.Key[:])
		writeU64(&buf, r.TotalBytes)
		writeU64(&buf, uint64(r.FirstSeenTS.UnixMicro()))
		if r.Confirmed {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeU32(&buf, uint32(len(r.TxIDs)))
		for _, id := range r.TxIDs {
			buf.Write(id[:])
		}
	}

	writeU64(&buf, s.DiskPoolSize)
	writeU64(&buf, s.CompactedSize) // omitted entirely by legacy readers

	return buf.Bytes()
}

func decode(b []byte, version byte) (State, error) {
	r := bytes.NewReader(b)
	var s State

	n, err := readU32(r)
	if err != nil {
		return s, err
	}
	s.SyncRecord = make([]intervals.Interval, n)
	for i := range s.SyncRecord {
		start, err := readU64(r)
		if err != nil {
			return s, err
		}
		end, err := readU64(r)
		if err != nil {
			return s, err
		}
		s.SyncRecord[i] = intervals.Interval{Start: start, End: end}
	}

	n, err = readU32(r)
	if err != nil {
		return s, err
	}
	s.BlockIndex = make([]BlockIndexEntry, n)
	for i := range s.BlockIndex {
		if _, err := readFull(r, s.BlockIndex[i].BlockHash[:]); err != nil {
			return s, err
		}
		ws, err := readU64(r)
		if err != nil {
			return s, err
		}
		s.BlockIndex[i].WeaveSize = ws
		if _, err := readFull(r, s.BlockIndex[i].TxRoot[:]); err != nil {
			return s, err
		}
	}

	n, err = readU32(r)
	if err != nil {
		return s, err
	}
	s.DiskPoolRoots = make([]DiskPoolRoot, n)
	for i := range s.DiskPoolRoots {
		root := &s.DiskPoolRoots[i]
		if _, err := readFull(r, root.Key[:]); err != nil {
			return s, err
		}
		tb, err := readU64(r)
		if err != nil {
			return s, err
		}
		root.TotalBytes = tb
		ts, err := readU64(r)
		if err != nil {
			return s, err
		}
		root.FirstSeenTS = time.UnixMicro(int64(ts))
		confirmedByte, err := readByte(r)
		if err != nil {
			return s, err
		}
		root.Confirmed = confirmedByte == 1
		txCount, err := readU32(r)
		if err != nil {
			return s, err
		}
		root.TxIDs = make([][32]byte, txCount)
		for j := range root.TxIDs {
			if _, err := readFull(r, root.TxIDs[j][:]); err != nil {
				return s, err
			}
		}
	}

	diskPoolSize, err := readU64(r)
	if err != nil {
		return s, err
	}
	s.DiskPoolSize = diskPoolSize

	if version >= versionCurrent {
		compacted, err := readU64(r)
		if err == nil {
			s.CompactedSize = compacted
		}
		// A short legacy-shaped tail (EOF here) just means compacted_size
		// is absent; treat it as zero per spec.md section 6.
	}

	return s, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readByte(r *bytes.Reader) (byte, error) {
	return r.ReadByte()
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if n == len(buf) {
		return n, nil
	}
	if err == nil {
		err = errors.New("persist: short read decoding sidecar file")
	}
	return n, err
}
