// Package intervals implements IntervalSet, an in-memory ordered set of
// disjoint [start, end) ranges over 64-bit offsets. It backs the engine's
// sync record: the set of weave byte ranges for which chunks are held.
//
// The representation is a slice kept sorted by Start, searched with
// sort.Search, matching the teacher's preference for sorted-slice plus
// binary search over a tree (see core/rawdb/key_value_store.go's
// MemoryKVStore.NewKVIterator).
package intervals

import "sort"

// Interval is a half-open byte range [Start, End).
type Interval struct {
	Start uint64
	End   uint64
}

func (iv Interval) size() uint64 { return iv.End - iv.Start }

// Set is a disjoint, sorted set of Intervals. Zero value is an empty set.
type Set struct {
	items []Interval
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Clone returns a deep copy of s.
func (s *Set) Clone() *Set {
	out := &Set{items: make([]Interval, len(s.items))}
	copy(out.items, s.items)
	return out
}

// Items returns the sorted intervals currently in the set. The returned
// slice must not be mutated by the caller.
func (s *Set) Items() []Interval {
	return s.items
}

// Count returns the number of disjoint intervals.
func (s *Set) Count() int { return len(s.items) }

// Sum returns the total number of bytes covered by the set.
func (s *Set) Sum() uint64 {
	var total uint64
	for _, iv := range s.items {
		total += iv.size()
	}
	return total
}

// searchIdx returns the index of the first interval whose Start is > x,
// i.e. the insertion point for an interval beginning at x.
func (s *Set) searchIdx(x uint64) int {
	return sort.Search(len(s.items), func(i int) bool {
		return s.items[i].Start > x
	})
}

// IsInside reports whether x falls within some interval of the set.
func (s *Set) IsInside(x uint64) bool {
	idx := s.searchIdx(x)
	if idx > 0 {
		prev := s.items[idx-1]
		if x >= prev.Start && x < prev.End {
			return true
		}
	}
	return false
}

// Add merges [start, end) into the set, coalescing with any overlapping or
// adjacent neighbours. No-op if start >= end.
func (s *Set) Add(start, end uint64) {
	if start >= end {
		return
	}
	idx := s.searchIdx(start)
	// Walk left once: the interval immediately before idx may still overlap
	// or touch [start, end).
	for idx > 0 && s.items[idx-1].End >= start {
		idx--
	}
	newIv := Interval{Start: start, End: end}
	merged := []Interval{}
	merged = append(merged, s.items[:idx]...)

	i := idx
	for i < len(s.items) && s.items[i].Start <= newIv.End {
		if s.items[i].Start < newIv.Start {
			newIv.Start = s.items[i].Start
		}
		if s.items[i].End > newIv.End {
			newIv.End = s.items[i].End
		}
		i++
	}
	merged = append(merged, newIv)
	merged = append(merged, s.items[i:]...)
	s.items = merged
}

// Delete removes [start, end) from the set, splitting intervals as needed.
func (s *Set) Delete(start, end uint64) {
	if start >= end {
		return
	}
	out := make([]Interval, 0, len(s.items)+1)
	for _, iv := range s.items {
		if iv.End <= start || iv.Start >= end {
			out = append(out, iv)
			continue
		}
		if iv.Start < start {
			out = append(out, Interval{Start: iv.Start, End: start})
		}
		if iv.End > end {
			out = append(out, Interval{Start: end, End: iv.End})
		}
	}
	s.items = out
}

// Cut drops every byte at or above at, truncating an interval that straddles
// the cut point.
func (s *Set) Cut(at uint64) {
	out := make([]Interval, 0, len(s.items))
	for _, iv := range s.items {
		if iv.Start >= at {
			continue
		}
		if iv.End > at {
			iv.End = at
		}
		out = append(out, iv)
	}
	s.items = out
}

// OuterJoin returns the pieces of a not covered by b.
func OuterJoin(a, b *Set) *Set {
	out := New()
	for _, iv := range a.items {
		out.Add(iv.Start, iv.End)
	}
	for _, iv := range b.items {
		out.Delete(iv.Start, iv.End)
	}
	return out
}

// Compact merges the closest-neighbouring intervals until the set has at
// most maxCount intervals, returning the intervals that were swallowed
// (i.e. the gaps between merged neighbours, which become "missing but
// previously known" regions).
func (s *Set) Compact(maxCount int) []Interval {
	if maxCount <= 0 || len(s.items) <= maxCount {
		return nil
	}
	var swallowed []Interval
	for len(s.items) > maxCount {
		// Find the pair of adjacent intervals with the smallest gap.
		bestIdx := -1
		var bestGap uint64
		for i := 0; i+1 < len(s.items); i++ {
			gap := s.items[i+1].Start - s.items[i].End
			if bestIdx == -1 || gap < bestGap {
				bestIdx = i
				bestGap = gap
			}
		}
		if bestIdx == -1 {
			break
		}
		gapStart := s.items[bestIdx].End
		gapEnd := s.items[bestIdx+1].Start
		if gapEnd > gapStart {
			swallowed = append(swallowed, Interval{Start: gapStart, End: gapEnd})
		}
		merged := Interval{Start: s.items[bestIdx].Start, End: s.items[bestIdx+1].End}
		s.items = append(s.items[:bestIdx], append([]Interval{merged}, s.items[bestIdx+2:]...)...)
	}
	return swallowed
}
