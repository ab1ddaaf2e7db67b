package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ecolog/arweave/internal/intervals"
)

// HTTPClient is the default Client implementation: it speaks the same
// HTTP serving layer every node exposes (internal/httpapi), so any two
// nodes running this module can sync from each other directly.
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient returns an HTTPClient with a sane request timeout.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{httpClient: &http.Client{Timeout: 20 * time.Second}}
}

type syncRecordWire struct {
	Start uint64 `json:"Start"`
	End   uint64 `json:"End"`
}

// GetSyncRecord fetches peer's published sync record over GET /sync_record.
func (c *HTTPClient) GetSyncRecord(ctx context.Context, p ID) (*intervals.Set, error) {
	url := fmt.Sprintf("http://%s/sync_record", p)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching peer sync record")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("peer %s returned status %d for sync record", p, resp.StatusCode)
	}
	var items []syncRecordWire
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, errors.Wrap(err, "decoding peer sync record")
	}
	set := intervals.New()
	for _, iv := range items {
		set.Add(iv.Start, iv.End)
	}
	return set, nil
}

type chunkAtByteWire struct {
	Bytes        []byte
	DataPath     []byte
	TxPath       []byte
	DataRoot     [32]byte
	TxRoot       [32]byte
	TxSize       uint64
	OffsetInTx   uint64
	AbsEndOffset uint64
}

// GetChunk fetches the chunk covering probeByte from peer p over
// GET /peer/chunk_at/{probeByte}.
func (c *HTTPClient) GetChunk(ctx context.Context, p ID, probeByte uint64) (Chunk, error) {
	url := fmt.Sprintf("http://%s/peer/chunk_at/%d", p, probeByte)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Chunk{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Chunk{}, errors.Wrap(err, "fetching chunk from peer")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Chunk{}, errors.Newf("peer %s returned status %d for chunk fetch", p, resp.StatusCode)
	}
	var w chunkAtByteWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return Chunk{}, errors.Wrap(err, "decoding peer chunk response")
	}
	return Chunk{
		Bytes:        w.Bytes,
		DataPath:     w.DataPath,
		TxPath:       w.TxPath,
		DataRoot:     w.DataRoot,
		TxRoot:       w.TxRoot,
		TxSize:       w.TxSize,
		OffsetInTx:   w.OffsetInTx,
		AbsEndOffset: w.AbsEndOffset,
	}, nil
}
