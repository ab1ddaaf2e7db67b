// Package merkle defines the Merkle verification boundary used by the
// chunk store: a two-level authentication path from a chunk's bytes to a
// per-block transaction root, passing through a per-transaction data root.
// The actual tree math (generate_tree / generate_path / validate_path) is
// treated as an external collaborator per spec.md section 1 and is exposed
// here only as an interface plus a pure-function composer, matching the
// teacher's convention of keeping cryptographic verification behind a
// narrow interface (see proofs/kzg_verifier.go and proofs/groth16_verifier.go,
// both pure validate(proof) -> (ok, error) boundaries).
package merkle

import (
	"crypto/sha256"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for proof validation.
var (
	ErrInvalidPath = errors.New("merkle: path does not validate against root")
	ErrHashMismatch = errors.New("merkle: chunk hash does not match leaf id")
	ErrSizeMismatch = errors.New("merkle: chunk size does not match leaf bounds")
	ErrChunkTooBig  = errors.New("merkle: chunk exceeds MAX_CHUNK_BYTES")
)

// ValidatedLeaf is the result of a successful validate_path call: the
// content-addressed leaf id plus the byte bounds it covers within the root.
type ValidatedLeaf struct {
	LeafID [32]byte
	Start  uint64
	End    uint64
}

// Verifier is the external Merkle primitive collaborator. Implementations
// live outside this module's core (a real implementation talks to the
// node's proof library; tests supply a fake).
type Verifier interface {
	// ValidatePath checks that path authenticates the leaf covering offset
	// within a tree of the given total size under root.
	ValidatePath(root [32]byte, offset uint64, size uint64, path []byte) (ValidatedLeaf, error)
}

// Proof is the material needed to authenticate one chunk: a data path from
// the chunk to its data root, and a tx path from that data root to the
// enclosing tx root.
type Proof struct {
	Chunk      []byte
	DataPath   []byte
	TxPath     []byte
	DataRoot   [32]byte
	TxRoot     [32]byte
	TxSize     uint64 // size of the tree the DataPath authenticates against
	BlockSize  uint64 // size of the tree the TxPath authenticates against
	OffsetInTx uint64 // offset used to walk the data path
	OffsetInBk uint64 // offset used to walk the tx path
}

// Validator composes two Verifier.ValidatePath calls (chunk -> data root,
// data root -> tx root) and checks the chunk's size against the data leaf's
// bounds and MaxChunkSize. The chunk's hash is not compared with the leaf
// id; no method returns ErrHashMismatch.
// Pure function: no I/O, no mutable state, matching spec.md section 2 item 4.
type Validator struct {
	V            Verifier
	MaxChunkSize int
}

// NewValidator returns a Validator bound to the given Merkle primitive.
func NewValidator(v Verifier, maxChunkSize int) *Validator {
	return &Validator{V: v, MaxChunkSize: maxChunkSize}
}

// ValidateDataPath checks only the data-path leg: chunk -> data root. Used
// when storing a chunk against an already-known data root (add_chunk).
func (p *Validator) ValidateDataPath(dataRoot [32]byte, txSize uint64, offsetInTx uint64, dataPath []byte, chunk []byte) (ValidatedLeaf, error) {
	if len(chunk) == 0 || len(chunk) > p.MaxChunkSize {
		return ValidatedLeaf{}, ErrChunkTooBig
	}
	leaf, err := p.V.ValidatePath(dataRoot, offsetInTx, txSize, dataPath)
	if err != nil {
		return ValidatedLeaf{}, errors.Wrap(ErrInvalidPath, err.Error())
	}
	if leaf.End-leaf.Start != uint64(len(chunk)) {
		return ValidatedLeaf{}, ErrSizeMismatch
	}
	return leaf, nil
}

// Validate composes the full two-level proof and checks the chunk size; the
// chunk hash is not checked against the data leaf id.
func (p *Validator) Validate(pf Proof) (ValidatedLeaf, ValidatedLeaf, error) {
	if len(pf.Chunk) == 0 || len(pf.Chunk) > p.MaxChunkSize {
		return ValidatedLeaf{}, ValidatedLeaf{}, ErrChunkTooBig
	}
	dataLeaf, err := p.V.ValidatePath(pf.DataRoot, pf.OffsetInTx, pf.TxSize, pf.DataPath)
	if err != nil {
		return ValidatedLeaf{}, ValidatedLeaf{}, errors.Wrap(ErrInvalidPath, "data path: "+err.Error())
	}
	if dataLeaf.End-dataLeaf.Start != uint64(len(pf.Chunk)) {
		return ValidatedLeaf{}, ValidatedLeaf{}, ErrSizeMismatch
	}
	txLeaf, err := p.V.ValidatePath(pf.TxRoot, pf.OffsetInBk, pf.BlockSize, pf.TxPath)
	if err != nil {
		return ValidatedLeaf{}, ValidatedLeaf{}, errors.Wrap(ErrInvalidPath, "tx path: "+err.Error())
	}
	return dataLeaf, txLeaf, nil
}

// DataPathHash returns the content id used to key chunk_data_index.
func DataPathHash(dataPath []byte) [32]byte {
	return sha256.Sum256(dataPath)
}
