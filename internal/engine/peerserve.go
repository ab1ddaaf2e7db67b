// Peer-facing chunk lookup (spec.md section 4.4's chunks_index.get_next(probe)
// primitive), exposed so the HTTP serving layer can answer another node's
// sync_chunk fetch without that node needing to replay the full missing-
// chunk search itself.
package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ecolog/arweave/internal/tables"
)

// ErrProbeNotCovered is returned when no stored chunk covers the requested
// probe byte.
var ErrProbeNotCovered = errors.New("engine: probe byte not covered by any stored chunk")

// ChunkAtByte is the wire-agnostic view of the chunk covering one weave
// byte, carrying everything a remote peer needs to re-validate it via
// merkle.Validator before storing it locally.
type ChunkAtByte struct {
	Bytes        []byte
	DataPath     []byte
	TxPath       []byte
	DataRoot     [32]byte
	TxRoot       [32]byte
	TxSize       uint64
	OffsetInTx   uint64
	AbsEndOffset uint64
}

// GetChunkAtByte returns the chunk whose stored range covers probeByte, the
// server side of a peer's sync_chunk fetch (spec.md section 4.4).
func (e *Engine) GetChunkAtByte(ctx context.Context, probeByte uint64) (ChunkAtByte, error) {
	return call(ctx, e, func(eng *Engine) (ChunkAtByte, error) {
		k, v, err := eng.kv.GetNext(tables.ChunksIndex, tables.ChunksIndexKey(probeByte+1))
		if err != nil {
			return ChunkAtByte{}, err
		}
		absEnd, err := tables.DecodeChunksIndexKey(k)
		if err != nil {
			return ChunkAtByte{}, err
		}
		rec, err := tables.DecodeChunkRecord(v)
		if err != nil {
			return ChunkAtByte{}, err
		}
		if absEnd < rec.ChunkSize || absEnd-rec.ChunkSize > probeByte {
			return ChunkAtByte{}, ErrProbeNotCovered
		}
		data, err := eng.kv.Get(tables.ChunkDataIndex, tables.ChunkDataIndexKey(rec.DataPathHash))
		if err != nil {
			return ChunkAtByte{}, err
		}
		chunk, dataPath, err := tables.DecodeChunkData(data)
		if err != nil {
			return ChunkAtByte{}, err
		}
		return ChunkAtByte{
			Bytes:        chunk,
			DataPath:     dataPath,
			TxPath:       rec.TxPath,
			DataRoot:     rec.DataRoot,
			TxRoot:       rec.TxRoot,
			OffsetInTx:   rec.ChunkOffsetInTx,
			AbsEndOffset: absEnd,
		}, nil
	})
}
