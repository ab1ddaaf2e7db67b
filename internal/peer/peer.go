// Package peer defines the P2P HTTP client boundary (spec.md section 1,
// "PeerClient") the sync scheduler uses to fetch sync records and chunks
// from remote nodes. The request/response-with-deadline shape mirrors the
// teacher's MessageRouter pending-request bookkeeping
// (internal/teacherp2p/message_router.go), simplified from a full
// multiplexed protocol down to the two RPCs the scheduler needs.
package peer

import (
	"context"

	"github.com/ecolog/arweave/internal/intervals"
)

// ID identifies a remote peer (e.g. a host:port or node id string).
type ID string

// Chunk is a fetched, not-yet-validated chunk plus the authentication
// material the caller needs to run it through merkle.Validator.
type Chunk struct {
	Bytes        []byte
	DataPath     []byte
	TxPath       []byte
	DataRoot     [32]byte
	TxRoot       [32]byte
	TxSize       uint64
	BlockSize    uint64
	OffsetInTx   uint64
	OffsetInBk   uint64
	AbsEndOffset uint64 // absolute weave offset this chunk's bytes end at
}

// Client is the external P2P collaborator (spec.md section 1/2 item "PeerClient").
type Client interface {
	// GetSyncRecord fetches peer's published sync record.
	GetSyncRecord(ctx context.Context, p ID) (*intervals.Set, error)
	// GetChunk fetches the chunk covering the weave byte at probeByte.
	GetChunk(ctx context.Context, p ID, probeByte uint64) (Chunk, error)
}

// Pool tracks a small fresh sample of peers and their most recently
// published sync records (spec.md section 3's peer_sync_records map).
type Pool struct {
	peers []ID
}

// NewPool returns a Pool over the given candidate peer ids.
func NewPool(peers []ID) *Pool {
	return &Pool{peers: peers}
}

// Peers returns the full candidate set.
func (p *Pool) Peers() []ID { return p.peers }
