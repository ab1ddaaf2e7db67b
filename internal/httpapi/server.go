// Package httpapi is the read-mostly HTTP serving layer described in
// spec.md section 4.1: get_chunk, get_tx_data, get_tx_offset, and
// get_sync_record (with a choice of JSON or a minimal ETF-compatible
// encoding, spec.md section 6). Routing and graceful shutdown follow the
// teacher's http.Server-plus-mux convention (internal/teachernode/node.go's
// RPC server wiring), generalized from JSON-RPC method dispatch to a
// small fixed set of REST-ish routes. /metrics serves the engine's
// counters/gauges in Prometheus exposition format via metrics.
// PrometheusExporter, reading from the same metrics.DefaultRegistry the
// engine's own operations publish to.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ecolog/arweave/internal/engine"
	"github.com/ecolog/arweave/log"
	"github.com/ecolog/arweave/metrics"
)

// Server serves the engine's read paths over HTTP.
type Server struct {
	addr   string
	eng    *engine.Engine
	logger *log.Logger
	srv    *http.Server
}

// NewServer returns a Server bound to addr, serving reads from eng.
func NewServer(addr string, eng *engine.Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{addr: addr, eng: eng, logger: logger.Module("httpapi")}
}

// Start begins serving in the background. It returns once the listener is
// set up; serve errors after that point are logged, not returned, mirroring
// the teacher's fire-and-forget http.Server.ListenAndServe goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/chunk/", s.handleGetChunk)
	mux.HandleFunc("/tx_data/", s.handleGetTxData)
	mux.HandleFunc("/tx_offset/", s.handleGetTxOffset)
	mux.HandleFunc("/sync_record", s.handleGetSyncRecord)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/peer/chunk_at/", s.handleGetChunkAtByte)
	exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())
	mux.Handle("/metrics", exporter.Handler())

	s.srv = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		s.logger.Info("http serving layer listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("http serving layer stopped with error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	hashHex := strings.TrimPrefix(r.URL.Path, "/chunk/")
	raw, err := hex.DecodeString(hashHex)
	if err != nil || len(raw) != 32 {
		http.Error(w, "bad data path hash", http.StatusBadRequest)
		return
	}
	var hash [32]byte
	copy(hash[:], raw)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	chunk, err := s.eng.GetChunk(ctx, hash)
	if err != nil {
		http.Error(w, "not_found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(chunk)
}

func (s *Server) handleGetTxData(w http.ResponseWriter, r *http.Request) {
	txID, ok := parseTxID(w, r, "/tx_data/")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	data, err := s.eng.GetTxData(ctx, txID)
	if err != nil {
		http.Error(w, "not_found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleGetTxOffset(w http.ResponseWriter, r *http.Request) {
	txID, ok := parseTxID(w, r, "/tx_offset/")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rec, err := s.eng.GetTxOffset(ctx, txID)
	if err != nil {
		http.Error(w, "not_found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]uint64{"offset": rec.AbsTxEndOffset, "size": rec.TxSize})
}

func (s *Server) handleGetSyncRecord(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	items, err := s.eng.SyncRecordSnapshot(ctx)
	if err != nil {
		http.Error(w, "not_joined", http.StatusServiceUnavailable)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "etf") {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(encodeETFIntervals(items))
		return
	}
	writeJSON(w, items)
}

func (s *Server) handleGetChunkAtByte(w http.ResponseWriter, r *http.Request) {
	probeStr := strings.TrimPrefix(r.URL.Path, "/peer/chunk_at/")
	probe, err := strconv.ParseUint(probeStr, 10, 64)
	if err != nil {
		http.Error(w, "bad probe byte", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	chunk, err := s.eng.GetChunkAtByte(ctx, probe)
	if err != nil {
		http.Error(w, "not_found", http.StatusNotFound)
		return
	}
	writeJSON(w, chunk)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	h, err := s.eng.Health(ctx)
	if err != nil {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, h)
}

func parseTxID(w http.ResponseWriter, r *http.Request, prefix string) ([32]byte, bool) {
	idStr := strings.TrimPrefix(r.URL.Path, prefix)
	raw, err := base64.RawURLEncoding.DecodeString(idStr)
	if err != nil || len(raw) != 32 {
		raw, err = hex.DecodeString(idStr)
	}
	if err != nil || len(raw) != 32 {
		http.Error(w, "bad tx id", http.StatusBadRequest)
		return [32]byte{}, false
	}
	var id [32]byte
	copy(id[:], raw)
	return id, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// encodeETFIntervals renders the sync record as a minimal Erlang External
// Term Format list of {Start, End} tuples of small/big integers, the wire
// shape peers on the reference network expect. Only the subset of ETF
// needed for this one shape is implemented; general term encoding is out
// of scope (see DESIGN.md).
func encodeETFIntervals(items []engine.IntervalView) []byte {
	var buf []byte
	buf = append(buf, 131) // ETF version tag
	buf = appendListHeader(buf, len(items))
	for _, iv := range items {
		buf = append(buf, 104, 2) // SMALL_TUPLE_EXT, arity 2
		buf = appendUint(buf, iv.Start)
		buf = appendUint(buf, iv.End)
	}
	if len(items) == 0 {
		buf = append(buf, 106) // NIL_EXT
	} else {
		buf = append(buf, 106) // NIL_EXT terminates the proper list
	}
	return buf
}

func appendListHeader(buf []byte, n int) []byte {
	buf = append(buf, 108) // LIST_EXT
	var lenBytes [4]byte
	lenBytes[0] = byte(n >> 24)
	lenBytes[1] = byte(n >> 16)
	lenBytes[2] = byte(n >> 8)
	lenBytes[3] = byte(n)
	return append(buf, lenBytes[:]...)
}

// appendUint writes v as SMALL_BIG_EXT: digit count, sign byte, then the
// magnitude as little-endian bytes (zero has no digit bytes).
func appendUint(buf []byte, v uint64) []byte {
	var mag []byte
	for ; v > 0; v >>= 8 {
		mag = append(mag, byte(v))
	}
	buf = append(buf, 110, byte(len(mag)), 0) // SMALL_BIG_EXT, n, sign (non-negative)
	return append(buf, mag...)
}
