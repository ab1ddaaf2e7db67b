package peer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func hostID(t *testing.T, srv *httptest.Server) ID {
	t.Helper()
	return ID(strings.TrimPrefix(srv.URL, "http://"))
}

func TestGetSyncRecordDecodesIntervals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync_record" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode([]syncRecordWire{
			{Start: 0, End: 100},
			{Start: 200, End: 300},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient()
	set, err := c.GetSyncRecord(context.Background(), hostID(t, srv))
	if err != nil {
		t.Fatalf("GetSyncRecord() error = %v", err)
	}
	if set.Sum() != 200 {
		t.Fatalf("Sum() = %d, want 200", set.Sum())
	}
	if !set.IsInside(50) || !set.IsInside(250) {
		t.Fatal("decoded set missing an expected interval")
	}
}

func TestGetSyncRecordNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient()
	if _, err := c.GetSyncRecord(context.Background(), hostID(t, srv)); err == nil {
		t.Fatal("GetSyncRecord() error = nil, want an error for a 500 response")
	}
}

func TestGetChunkDecodesChunkFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/peer/chunk_at/12345" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(chunkAtByteWire{
			Bytes:        []byte("payload"),
			DataPath:     []byte("path"),
			TxRoot:       [32]byte{1},
			DataRoot:     [32]byte{2},
			TxSize:       4096,
			OffsetInTx:   100,
			AbsEndOffset: 12345,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient()
	chunk, err := c.GetChunk(context.Background(), hostID(t, srv), 12345)
	if err != nil {
		t.Fatalf("GetChunk() error = %v", err)
	}
	if string(chunk.Bytes) != "payload" || chunk.TxSize != 4096 || chunk.AbsEndOffset != 12345 {
		t.Fatalf("GetChunk() = %+v, unexpected fields", chunk)
	}
}

func TestGetChunkNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewHTTPClient()
	if _, err := c.GetChunk(context.Background(), hostID(t, srv), 1); err == nil {
		t.Fatal("GetChunk() error = nil, want an error for a 404 response")
	}
}
