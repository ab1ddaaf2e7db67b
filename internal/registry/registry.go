// Package registry publishes read-only KV handles keyed by table name so
// read-only callers (get_chunk, get_tx_data, get_tx_offset, and the HTTP
// serving layer above this module) can query the store directly without a
// round trip through the engine's mailbox, per spec.md section 4.1's
// concurrency note and section 5's "published registry" requirement. This
// mirrors the teacher's composition of KeyValueIterator/Batcher table
// handles in internal/rawdb/table.go, generalized into a process-wide
// lookup-by-name map.
package registry

import (
	"sync"

	"github.com/ecolog/arweave/internal/storage"
)

// Reader is the read-only subset of storage.KV a serving-layer caller needs.
type Reader interface {
	Get(table, key []byte) ([]byte, error)
	GetNext(table, key []byte) (k, v []byte, err error)
	GetPrev(table, key []byte) (k, v []byte, err error)
	GetRange(table, lo, hi []byte) ([]storage.KVPair, error)
}

// Registry is a process-wide map from table name to a read handle.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]Reader
}

var global = &Registry{readers: make(map[string]Reader)}

// Global returns the process-wide registry.
func Global() *Registry { return global }

// Publish registers r as the read handle for table.
func (reg *Registry) Publish(table string, r Reader) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.readers[table] = r
}

// Lookup returns the read handle published for table, if any.
func (reg *Registry) Lookup(table string) (Reader, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.readers[table]
	return r, ok
}
