// Package storage implements the ordered binary-key/binary-value store (KV)
// described in spec.md section 2 item 1, backed by Pebble. Column families
// are modeled as single-byte key prefixes over one physical Pebble
// instance, the same namespacing trick as the teacher's Table wrapper
// (internal/rawdb/table.go), generalized from "one Table per prefix" to
// "one named table per declared column family constant".
package storage

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

// ErrNotFound mirrors pebble.ErrNotFound at the KV interface boundary so
// callers never need to import pebble directly.
var ErrNotFound = errors.New("storage: key not found")

// KVPair is one entry returned by GetRange.
type KVPair struct {
	Key   []byte
	Value []byte
}

// KV is the ordered key/value store contract every index in the engine is
// built on: get/put/delete/delete_range, get_next/get_prev for ordered
// neighbour lookups, get_range for bounded scans, and a cyclic iterator
// used by the disk-pool and missing-chunk scanners.
type KV interface {
	Get(table, key []byte) ([]byte, error)
	Put(table, key, value []byte) error
	Delete(table, key []byte) error
	DeleteRange(table, lo, hi []byte) error
	GetNext(table, key []byte) (k, v []byte, err error)
	GetPrev(table, key []byte) (k, v []byte, err error)
	GetRange(table, lo, hi []byte) ([]KVPair, error)
	IterFrom(table, cursor []byte) (k, v, next []byte, ok bool, err error)
	NewBatch() Batch
	FreeSpaceBytes() (uint64, error)
	Close() error
}

// Batch groups writes across one or more tables into a single atomic
// Pebble commit, the mechanism the open question in spec.md section 9
// asks for ("run step as a single atomic batch").
type Batch interface {
	Put(table, key, value []byte)
	Delete(table, key []byte)
	DeleteRange(table, lo, hi []byte)
	Commit() error
}

// pebbleKV is the production KV backed by a single Pebble instance. Column
// family isolation is key-prefix based, following internal/rawdb/table.go's
// NewTable(db, prefix) pattern but generalized to arbitrary table name
// bytes supplied by callers (see internal/tables for the nine constants).
type pebbleKV struct {
	db  *pebble.DB
	dir string
}

// Options configures the on-disk Pebble store per spec.md section 6's
// recommendations: ~1% FPR prefix bloom filters, a 28-byte prefix
// extractor for hash-keyed families, ~640MiB target SST size and a
// ~6400MiB level base.
type Options struct {
	Dir              string
	TargetFileSizeMB int64
	LBaseMaxBytesMB  int64
	BloomBitsPerKey  int
}

// DefaultOptions returns the recommended Pebble tuning from spec.md section 6.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:              dir,
		TargetFileSizeMB: 640,
		LBaseMaxBytesMB:  6400,
		BloomBitsPerKey:  10, // ~1% false positive rate
	}
}

// prefixSplit implements a 28-byte (or shorter, if the key is shorter)
// prefix extractor, matching the hash-keyed-family recommendation in
// spec.md section 6. Offset-keyed families (8/16-byte keys) simply use
// their whole key as the "prefix", which is harmless for those tables.
func prefixSplit(key []byte) int {
	if len(key) > 28 {
		return 28
	}
	return len(key)
}

// Open creates or opens a Pebble-backed KV at opts.Dir.
func Open(opts Options) (KV, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "storage: creating data directory")
	}
	lvl := pebble.LevelOptions{
		BlockSize:    32 * 1024,
		FilterPolicy: bloom.FilterPolicy(opts.BloomBitsPerKey),
		FilterType:   pebble.TableFilter,
		TargetFileSize: opts.TargetFileSizeMB * 1024 * 1024,
	}
	popts := &pebble.Options{
		Levels:        []pebble.LevelOptions{lvl},
		LBaseMaxBytes: opts.LBaseMaxBytesMB * 1024 * 1024,
		Comparer:      prefixComparer(),
	}
	popts.Levels[0].EnsureDefaults()
	db, err := pebble.Open(opts.Dir, popts)
	if err != nil {
		return nil, errors.Wrap(err, "storage: opening pebble store")
	}
	return &pebbleKV{db: db, dir: opts.Dir}, nil
}

// prefixComparer returns a comparer equivalent to pebble's default byte
// ordering, but with Split wired to prefixSplit so prefix bloom filters
// can be derived per spec.md section 6.
func prefixComparer() *pebble.Comparer {
	cmp := *pebble.DefaultComparer
	cmp.Split = prefixSplit
	return &cmp
}

func fullKey(table, key []byte) []byte {
	out := make([]byte, len(table)+len(key))
	copy(out, table)
	copy(out[len(table):], key)
	return out
}

// tableUpperBound returns the smallest key strictly greater than every key
// prefixed with table, used to bound range scans and DeleteRange calls to
// a single column family.
func tableUpperBound(table []byte) []byte {
	ub := append([]byte(nil), table...)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] != 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	// table is all 0xff bytes; there is no finite upper bound, so use a
	// key one byte longer than any real key in this column family.
	return append(ub, 0xff)
}

func (s *pebbleKV) Get(table, key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(fullKey(table, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

func (s *pebbleKV) Put(table, key, value []byte) error {
	return s.db.Set(fullKey(table, key), value, pebble.Sync)
}

func (s *pebbleKV) Delete(table, key []byte) error {
	return s.db.Delete(fullKey(table, key), pebble.Sync)
}

func (s *pebbleKV) DeleteRange(table, lo, hi []byte) error {
	return s.db.DeleteRange(fullKey(table, lo), fullKey(table, hi), pebble.Sync)
}

func (s *pebbleKV) newTableIter(table []byte) (*pebble.Iterator, error) {
	return s.db.NewIter(&pebble.IterOptions{
		LowerBound: table,
		UpperBound: tableUpperBound(table),
	})
}

func (s *pebbleKV) GetNext(table, key []byte) (k, v []byte, err error) {
	it, err := s.newTableIter(table)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()
	if !it.SeekGE(fullKey(table, key)) {
		return nil, nil, ErrNotFound
	}
	return stripTable(table, it.Key()), copyBytes(it.Value()), nil
}

func (s *pebbleKV) GetPrev(table, key []byte) (k, v []byte, err error) {
	it, err := s.newTableIter(table)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()
	// SeekLT finds the last key strictly less than the target; to emulate
	// "<=" we first probe for an exact match, falling back to SeekLT.
	target := fullKey(table, key)
	if it.SeekGE(target) && bytes.Equal(it.Key(), target) {
		return stripTable(table, it.Key()), copyBytes(it.Value()), nil
	}
	if !it.SeekLT(target) {
		return nil, nil, ErrNotFound
	}
	return stripTable(table, it.Key()), copyBytes(it.Value()), nil
}

func (s *pebbleKV) GetRange(table, lo, hi []byte) ([]KVPair, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: fullKey(table, lo),
		UpperBound: fullKey(table, hi),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []KVPair
	for it.First(); it.Valid(); it.Next() {
		out = append(out, KVPair{
			Key:   stripTable(table, it.Key()),
			Value: copyBytes(it.Value()),
		})
	}
	return out, it.Error()
}

// IterFrom returns the next entry at or after cursor within table, cyclic:
// if cursor runs off the end of the table's keyspace, iteration wraps to
// the table's first key. next is the cursor to pass on the following call.
func (s *pebbleKV) IterFrom(table, cursor []byte) (k, v, next []byte, ok bool, err error) {
	it, err := s.newTableIter(table)
	if err != nil {
		return nil, nil, nil, false, err
	}
	defer it.Close()

	found := it.SeekGE(fullKey(table, cursor))
	if !found {
		if !it.First() {
			return nil, nil, nil, false, nil // empty table
		}
	}
	key := stripTable(table, it.Key())
	val := copyBytes(it.Value())
	if it.Next() {
		next = stripTable(table, it.Key())
	} else {
		// Wrap: the next cursor is the smallest key in the table.
		if it.First() {
			next = stripTable(table, it.Key())
		} else {
			next = nil
		}
	}
	return key, val, next, true, it.Error()
}

func (s *pebbleKV) FreeSpaceBytes() (uint64, error) {
	var stat statResult
	if err := statfs(s.dir, &stat); err != nil {
		return 0, err
	}
	return stat.freeBytes, nil
}

func (s *pebbleKV) Close() error {
	return s.db.Close()
}

func (s *pebbleKV) NewBatch() Batch {
	return &pebbleBatch{b: s.db.NewBatch()}
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (pb *pebbleBatch) Put(table, key, value []byte) {
	_ = pb.b.Set(fullKey(table, key), value, nil)
}

func (pb *pebbleBatch) Delete(table, key []byte) {
	_ = pb.b.Delete(fullKey(table, key), nil)
}

func (pb *pebbleBatch) DeleteRange(table, lo, hi []byte) {
	_ = pb.b.DeleteRange(fullKey(table, lo), fullKey(table, hi), nil)
}

func (pb *pebbleBatch) Commit() error {
	return pb.b.Commit(pebble.Sync)
}

func stripTable(table, full []byte) []byte {
	return append([]byte(nil), full[len(table):]...)
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
