// Package blacklist defines the BlacklistClient boundary (spec.md section
//2 item 6) and the parser for the blacklist source format described in
// spec.md section 6: a byte stream of line-separated base64url-encoded
// 32-byte tx-ids, CR/LF/CRLF tolerant, invalid lines skipped with a
// warning, empty file valid.
//
// The parser is plain stdlib (bufio.Scanner + encoding/base64): this is a
// small line-oriented text format with no framing or compression need, and
// nothing in the teacher's or the wider pack's dependency set offers a
// narrower fit than the standard library's own line scanner, so no
// third-party dependency is wired here (see DESIGN.md).
package blacklist

import (
	"bufio"
	"encoding/base64"
	"io"

	"github.com/ecolog/arweave/log"
)

// Client is the external blacklist collaborator (spec.md section 2 item 6).
type Client interface {
	IsByteBlacklisted(offset uint64) bool
	NotifyAboutRemovedTxData(txID [32]byte)
}

// ParseSource reads r as a blacklist source file and returns the set of
// blacklisted tx-ids. Invalid lines are logged and skipped; an empty
// stream yields an empty, non-nil set.
func ParseSource(r io.Reader, logger *log.Logger) (map[[32]byte]struct{}, error) {
	if logger == nil {
		logger = log.Default()
	}
	out := make(map[[32]byte]struct{})
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := trimCRLF(sc.Text())
		if line == "" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(line)
		if err != nil {
			// Some producers pad base64url; retry with the padded decoder
			// before giving up on the line.
			raw, err = base64.URLEncoding.DecodeString(line)
		}
		if err != nil || len(raw) != 32 {
			logger.Warn("blacklist: skipping invalid line", "line", lineNo)
			continue
		}
		var id [32]byte
		copy(id[:], raw)
		out[id] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\r' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	return s
}

// StaticClient is a BlacklistClient backed by a fixed set of blacklisted
// tx-ids and byte offsets, suitable for tests and for a process that
// reloads its blacklist from disk on a timer.
type StaticClient struct {
	byteRanges []offsetRange
	removed    func(txID [32]byte)
}

type offsetRange struct{ start, end uint64 }

// NewStaticClient builds a StaticClient. removedHook is invoked by
// NotifyAboutRemovedTxData and may be nil.
func NewStaticClient(removedHook func(txID [32]byte)) *StaticClient {
	return &StaticClient{removed: removedHook}
}

// BlacklistRange marks [start, end) as blacklisted.
func (c *StaticClient) BlacklistRange(start, end uint64) {
	c.byteRanges = append(c.byteRanges, offsetRange{start, end})
}

func (c *StaticClient) IsByteBlacklisted(offset uint64) bool {
	for _, r := range c.byteRanges {
		if offset >= r.start && offset < r.end {
			return true
		}
	}
	return false
}

func (c *StaticClient) NotifyAboutRemovedTxData(txID [32]byte) {
	if c.removed != nil {
		c.removed(txID)
	}
}
