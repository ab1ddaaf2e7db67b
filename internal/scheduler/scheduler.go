// Package scheduler implements the pure decision logic of the sync
// scheduler state machine described in spec.md section 4.4: picking a
// peer and byte range to fetch next from the engine's sync record and the
// most recently sampled peer sync records. It deliberately contains no
// I/O and no mutable engine state — the engine casts these decisions to
// background workers, the same "decide here, execute there" split the
// teacher uses between SchedulerConfig/SamplingRound (pure state) and the
// network code that actually performs a sampling round
// (internal/teachersync/sampling_scheduler.go).
package scheduler

import (
	"math/rand"

	"github.com/ecolog/arweave/internal/intervals"
	"github.com/ecolog/arweave/internal/peer"
)

// State is the engine-level sync state machine (spec.md section 4.4).
type State int

const (
	IdleForSpace State = iota
	Hunting
	Fetching
	IdleForPeer
)

func (s State) String() string {
	switch s {
	case IdleForSpace:
		return "idle_for_space"
	case Hunting:
		return "hunting"
	case Fetching:
		return "fetching"
	case IdleForPeer:
		return "idle_for_peer"
	default:
		return "unknown"
	}
}

// Config mirrors the tunables the scheduler needs from config.Engine,
// duplicated here (rather than importing config) to keep this package's
// decision functions free of a dependency on engine wiring.
type Config struct {
	MaxSharedSyncedIntervalsCount int
	MaxChunkBytes                 int
}

// RandomIntervalPick is the outcome of sync_random_interval's peer/byte
// sampling step (spec.md section 4.4 step 2).
type RandomIntervalPick struct {
	Peer  peer.ID
	Left  uint64 // fetch window left bound (>= containing interval's L)
	Right uint64 // fetch window right bound (<= containing interval's R)
	Byte  uint64 // the sampled byte itself
}

// PickRandomInterval computes, for every non-excluded peer, the portion of
// their sync record not already covered by ours, samples a byte uniformly
// from the union of those portions, and derives a bounded fetch window
// around it. ok is false if no peer has anything we're missing.
func PickRandomInterval(rng *rand.Rand, cfg Config, syncRecord *intervals.Set, weaveSize uint64, peerRecords map[peer.ID]*intervals.Set, excluded map[peer.ID]bool) (RandomIntervalPick, bool) {
	type candidate struct {
		p    peer.ID
		ivs  []intervals.Interval
		size uint64
	}
	var cands []candidate
	var total uint64
	for p, rec := range peerRecords {
		if excluded[p] {
			continue
		}
		cut := rec.Clone()
		cut.Cut(weaveSize)
		missing := intervals.OuterJoin(cut, syncRecord)
		if missing.Count() == 0 {
			continue
		}
		cands = append(cands, candidate{p: p, ivs: missing.Items(), size: missing.Sum()})
		total += missing.Sum()
	}
	if total == 0 {
		return RandomIntervalPick{}, false
	}

	target := uint64(rng.Int63n(int64(total)))
	for _, c := range cands {
		if target >= c.size {
			target -= c.size
			continue
		}
		for _, iv := range c.ivs {
			span := iv.End - iv.Start
			if target < span {
				byteSample := iv.Start + target
				left, right := fetchWindow(iv, byteSample, weaveSize, cfg)
				return RandomIntervalPick{Peer: c.p, Left: left, Right: right, Byte: byteSample}, true
			}
			target -= span
		}
	}
	return RandomIntervalPick{}, false
}

// fetchWindow derives [left, right) around byteSample within iv per
// spec.md section 4.4 step 2: SyncSize = max(1, weaveSize/maxIntervals),
// window = [max(L, byte-SyncSize/2), min(R, left+SyncSize)).
func fetchWindow(iv intervals.Interval, byteSample, weaveSize uint64, cfg Config) (left, right uint64) {
	maxIntervals := uint64(cfg.MaxSharedSyncedIntervalsCount)
	if maxIntervals == 0 {
		maxIntervals = 1
	}
	syncSize := weaveSize / maxIntervals
	if syncSize == 0 {
		syncSize = 1
	}
	half := syncSize / 2
	left = iv.Start
	if byteSample > iv.Start+half {
		left = byteSample - half
	}
	right = iv.End
	if left+syncSize < right {
		right = left + syncSize
	}
	return left, right
}

// MissingProbe computes the probe byte for a missing-chunks cursor pass
// (spec.md section 4.4 step 3). fresh indicates the cursor has just moved
// onto this interval (as opposed to resuming mid-interval).
func MissingProbe(rng *rand.Rand, start, end uint64, cursorByte uint64, fresh bool, maxChunkBytes int) uint64 {
	if !fresh && cursorByte >= start && cursorByte <= end {
		return cursorByte
	}
	step := uint64(maxChunkBytes) / 8
	if step == 0 {
		step = 1
	}
	span := end - start
	if span < step {
		step = span
	}
	if step == 0 {
		return start
	}
	return start + 1 + uint64(rng.Int63n(int64(step)))
}

// SyncChunkWindow is the shrinking [leftBound, lByte] .. [rByte, rightBound)
// window sync_chunk walks probe-by-probe (spec.md section 4.4 sync_chunk).
type SyncChunkWindow struct {
	LeftBound  uint64
	LByte      uint64
	RByte      uint64
	RightBound uint64
}

// Done reports whether the window has been fully walked (step 1).
func (w SyncChunkWindow) Done() bool {
	return w.RByte >= w.RightBound && w.LByte < w.LeftBound
}

// NextProbe picks the next probe byte, preferring the right side first
// then the left, per spec.md section 4.4 step 2. ok is false if Done().
func (w SyncChunkWindow) NextProbe() (probe uint64, onRight bool, ok bool) {
	if w.Done() {
		return 0, false, false
	}
	if w.RByte < w.RightBound {
		return w.RByte, true, true
	}
	return w.LByte, false, true
}

// Advance returns the window after consuming a probe on the given side.
func (w SyncChunkWindow) Advance(onRight bool) SyncChunkWindow {
	if onRight {
		w.RByte++
	} else {
		if w.LByte == 0 {
			w.LByte = w.LeftBound // guard against underflow at the origin
			return w
		}
		w.LByte--
	}
	return w
}

// AttractiveRatio is the minimum chunk_size/(1+len(data_path)) ratio a
// fetched chunk must meet to avoid the "unattractive" peer drop in
// store_fetched_chunk (spec.md section 4.4 step 1). A chunk whose proof
// material is disproportionately large relative to its payload is a sign
// of a wasteful or uncooperative peer.
const AttractiveRatio = 16

// IsAttractive reports whether a fetched chunk's size-to-proof ratio
// clears AttractiveRatio.
func IsAttractive(chunkSize, dataPathLen int) bool {
	return chunkSize/(1+dataPathLen) >= AttractiveRatio
}
