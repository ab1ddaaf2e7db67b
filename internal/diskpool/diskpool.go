// Package diskpool implements the bounded staging area for chunks of
// unconfirmed (mempool) transactions described in spec.md sections 3-4.5.
// It tracks, per pending data root, the total bytes staged, the first-seen
// timestamp, and (while unconfirmed) the set of transaction ids that may
// yet claim the root. The map-of-struct-plus-mutex shape and the
// expire-by-wall-clock policy are grounded on the teacher's
// das.SparseBlobPool (internal/teachersync/sparse_blobpool.go), generalized
// from "keep a sampled fraction of blobs" to "keep every root until
// confirmation or expiry".
package diskpool

import (
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// ShardCount is the number of disk-pool processing shards. The disk-pool
// processor visits one shard per tick (see engine.processDiskPoolCycle),
// spreading its scan of disk_pool_chunks_index over ShardCount ticks
// instead of walking the whole table every time.
const ShardCount = 16

// ShardOf derives the processing shard for a staged chunk from its data
// path hash, the way the teacher's das package derives column/shard ids
// from a keyed digest rather than a raw modulus of the key itself (see
// teacher's sampling_scheduler.go).
func ShardOf(dataPathHash [32]byte) uint8 {
	h := sha3.Sum256(dataPathHash[:])
	return h[0] % ShardCount
}

// RootState is the in-memory entry for one pending data root, mirroring
// the disk_pool_data_roots map in spec.md section 3. A nil TxIDs set means
// the root has been confirmed at least once and must never expire.
type RootState struct {
	TotalBytes  uint64
	FirstSeenTS time.Time
	TxIDs       map[[32]byte]struct{} // nil once confirmed
}

// Pool is the engine's disk_pool_data_roots map plus the running
// disk_pool_size byte counter it needs to enforce admission limits.
type Pool struct {
	mu sync.Mutex

	roots map[[40]byte]*RootState

	sizeBytes uint64 // disk_pool_size
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{roots: make(map[[40]byte]*RootState)}
}

// AddRoot registers a new pending data root if it isn't already known.
// Mirrors add_data_root_to_disk_pool (spec.md section 4.1).
func (p *Pool) AddRoot(key [40]byte, txID [32]byte, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.roots[key]
	if !ok {
		p.roots[key] = &RootState{
			FirstSeenTS: now,
			TxIDs:       map[[32]byte]struct{}{txID: {}},
		}
		return
	}
	if rs.TxIDs != nil {
		rs.TxIDs[txID] = struct{}{}
	}
}

// MaybeDropRoot removes one tx-id's claim on a root, and drops the root
// entirely if no txids remain and it has never been confirmed. Mirrors
// maybe_drop_data_root_from_disk_pool (spec.md section 4.1).
func (p *Pool) MaybeDropRoot(key [40]byte, txID [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.roots[key]
	if !ok || rs.TxIDs == nil {
		return
	}
	delete(rs.TxIDs, txID)
	if len(rs.TxIDs) == 0 {
		p.sizeBytes -= rs.TotalBytes
		delete(p.roots, key)
	}
}

// Contains reports whether key is a known pending (or confirmed-but-not-yet-
// promoted) root.
func (p *Pool) Contains(key [40]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.roots[key]
	return ok
}

// Get returns a copy of the root state, if known.
func (p *Pool) Get(key [40]byte) (RootState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.roots[key]
	if !ok {
		return RootState{}, false
	}
	cp := *rs
	if rs.TxIDs != nil {
		cp.TxIDs = make(map[[32]byte]struct{}, len(rs.TxIDs))
		for id := range rs.TxIDs {
			cp.TxIDs[id] = struct{}{}
		}
	}
	return cp, true
}

// AddBytes accounts chunkSize bytes against key's running total and the
// pool-wide size counter, enforcing per-root and global caps.
func (p *Pool) AddBytes(key [40]byte, chunkSize, perRootLimit, globalLimit uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.roots[key]
	if !ok {
		return false
	}
	if rs.TotalBytes+chunkSize > perRootLimit {
		return false
	}
	if p.sizeBytes+chunkSize > globalLimit {
		return false
	}
	rs.TotalBytes += chunkSize
	p.sizeBytes += chunkSize
	return true
}

// MarkConfirmed sets the root's TxIDs to nil, meaning it must never expire,
// preserving whatever TxIDs it had (the caller passes them through so a
// reorg can re-seed them later with a fresh timestamp).
func (p *Pool) MarkConfirmed(key [40]byte) (priorTxIDs map[[32]byte]struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.roots[key]
	if !ok {
		return nil
	}
	priorTxIDs = rs.TxIDs
	rs.TxIDs = nil
	return priorTxIDs
}

// Reseed re-adds a root with a fresh timestamp and a preserved TxID set,
// used when add_tip_block re-admits orphaned data roots (spec.md section 4.6).
func (p *Pool) Reseed(key [40]byte, txIDs map[[32]byte]struct{}, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roots[key] = &RootState{FirstSeenTS: now, TxIDs: txIDs}
}

// Remove deletes a root entirely, adjusting the size counter.
func (p *Pool) Remove(key [40]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.roots[key]
	if !ok {
		return
	}
	p.sizeBytes -= rs.TotalBytes
	delete(p.roots, key)
}

// ExpireOlderThan drops every unconfirmed root whose FirstSeenTS is older
// than the cutoff, recomputing disk_pool_size from the survivors. Returns
// the removed keys so the caller can also delete their disk-pool chunk
// rows and staged bytes. Mirrors update_disk_pool_data_roots
// (spec.md section 4.5).
func (p *Pool) ExpireOlderThan(cutoff time.Time) [][40]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired [][40]byte
	var total uint64
	for key, rs := range p.roots {
		if rs.TxIDs != nil && rs.FirstSeenTS.Before(cutoff) {
			expired = append(expired, key)
			delete(p.roots, key)
			continue
		}
		total += rs.TotalBytes
	}
	p.sizeBytes = total
	return expired
}

// SizeBytes returns the current disk_pool_size.
func (p *Pool) SizeBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizeBytes
}

// ExportedRoot is a flattened snapshot of one RootState for persistence.
type ExportedRoot struct {
	Key         [40]byte
	TotalBytes  uint64
	FirstSeenTS time.Time
	Confirmed   bool
	TxIDs       [][32]byte
}

// Export snapshots every tracked root for the sidecar term file.
func (p *Pool) Export() []ExportedRoot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ExportedRoot, 0, len(p.roots))
	for key, rs := range p.roots {
		e := ExportedRoot{Key: key, TotalBytes: rs.TotalBytes, FirstSeenTS: rs.FirstSeenTS, Confirmed: rs.TxIDs == nil}
		for id := range rs.TxIDs {
			e.TxIDs = append(e.TxIDs, id)
		}
		out = append(out, e)
	}
	return out
}
