// Package migration implements the store_data_in_v2_index background
// migration described in spec.md section 4.9: moving chunk bytes out of a
// legacy per-hash file store and into the chunk_data_index column family,
// one chunks_index entry at a time, with the cursor (or a "complete"
// marker) persisted after every step and indefinite retry on error.
//
// The legacy-store wrapper and cyclic migration loop follow the shape of
// the teacher's AncientStore migration helpers (internal/rawdb/ancient_store.go),
// adapted from "freeze live DB rows into ancient storage" to "drain a
// legacy per-hash file store into the KV". Legacy files are read as
// snappy-framed streams (golang/snappy, SPEC_FULL.md domain stack), matching
// the teacher's preference for framed, compressible ancient-data encodings.
package migration

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"

	"github.com/ecolog/arweave/internal/tables"
	"github.com/ecolog/arweave/log"
)

// Name is the migrations_index key for this migration.
const Name = "store_data_in_v2_index"

const completeMarker = "complete"

// completeFlag is a process-wide atomic flag mirroring spec.md section 9's
// "global completion flag lives as a shared atomic boolean" guidance.
var completeFlag atomic.Bool

// Complete reports whether the migration has finished.
func Complete() bool { return completeFlag.Load() }

// KV is the subset of storage.KV the migration needs.
type KV interface {
	Get(table, key []byte) ([]byte, error)
	Put(table, key, value []byte) error
	IterFrom(table, cursor []byte) (k, v, next []byte, ok bool, err error)
}

// LegacyStore is the pre-v2 per-hash file store the migration drains.
type LegacyStore struct {
	Dir string
}

func (ls *LegacyStore) path(hash [32]byte) string {
	return filepath.Join(ls.Dir, hashHex(hash))
}

// Read loads and un-frames a legacy chunk file.
func (ls *LegacyStore) Read(hash [32]byte) ([]byte, error) {
	raw, err := os.ReadFile(ls.path(hash))
	if err != nil {
		return nil, err
	}
	return snappy.Decode(nil, raw)
}

// Delete removes a legacy chunk file; a missing file is not an error
// (the migration may be retried after a partial prior attempt).
func (ls *LegacyStore) Delete(hash [32]byte) error {
	err := os.Remove(ls.path(hash))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func hashHex(h [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// Worker runs the cyclic migration described in spec.md section 4.9.
type Worker struct {
	kv     KV
	legacy *LegacyStore
	logger *log.Logger
	retry  time.Duration
}

// NewWorker returns a migration Worker. It inspects migrations_index on
// construction and sets completeFlag if the migration already finished. A
// missing marker simply means the migration has not started yet.
func NewWorker(kv KV, legacy *LegacyStore, retryDelay time.Duration) *Worker {
	w := &Worker{kv: kv, legacy: legacy, logger: log.Default().Module("migration"), retry: retryDelay}
	if marker, err := kv.Get(tables.MigrationsIndex, tables.MigrationsIndexKey(Name)); err == nil && string(marker) == completeMarker {
		completeFlag.Store(true)
	}
	return w
}

// Run drives the migration to completion, retrying after w.retry on any
// error, until the context is cancelled or the migration completes.
func (w *Worker) Run(ctx context.Context) {
	if completeFlag.Load() {
		return
	}
	cursor := []byte{}
	var firstKey []byte
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		k, next, empty, err := w.step(cursor)
		if err != nil {
			w.logger.Warn("migration step failed, retrying", "error", err)
			select {
			case <-time.After(w.retry):
			case <-ctx.Done():
				return
			}
			continue
		}
		if empty || (firstKey != nil && string(k) == string(firstKey)) {
			if err := w.kv.Put(tables.MigrationsIndex, tables.MigrationsIndexKey(Name), []byte(completeMarker)); err != nil {
				w.logger.Warn("migration: failed to persist completion marker", "error", err)
				continue
			}
			completeFlag.Store(true)
			return
		}
		if firstKey == nil {
			firstKey = k
		}
		cursor = next
		if err := w.kv.Put(tables.MigrationsIndex, tables.MigrationsIndexKey(Name), cursor); err != nil {
			w.logger.Warn("migration: failed to persist cursor", "error", err)
		}
	}
}

// step migrates the chunks_index entry at cursor. empty is true if
// chunks_index has no entries at all.
func (w *Worker) step(cursor []byte) (key, next []byte, empty bool, err error) {
	k, v, nextCursor, ok, err := w.kv.IterFrom(tables.ChunksIndex, cursor)
	if err != nil {
		return nil, nil, false, err
	}
	if !ok {
		return nil, nil, true, nil
	}
	rec, err := tables.DecodeChunkRecord(v)
	if err != nil {
		return nil, nil, false, err
	}

	if _, err := w.kv.Get(tables.ChunkDataIndex, tables.ChunkDataIndexKey(rec.DataPathHash)); err == nil {
		// Already migrated (idempotent retry); just advance and clean up
		// any stray legacy file.
		_ = w.legacy.Delete(rec.DataPathHash)
		return k, nextCursor, false, nil
	}

	chunk, err := w.legacy.Read(rec.DataPathHash)
	if err != nil {
		return nil, nil, false, err
	}
	value := tables.EncodeChunkData(chunk, nil)
	if err := w.kv.Put(tables.ChunkDataIndex, tables.ChunkDataIndexKey(rec.DataPathHash), value); err != nil {
		return nil, nil, false, err
	}
	if err := w.legacy.Delete(rec.DataPathHash); err != nil {
		return nil, nil, false, err
	}
	return k, nextCursor, false, nil
}
