// Package chunklist tracks the contiguous byte ranges a CFDP receiver has
// already written, and enumerates the gaps between them for NAK generation.
package chunklist

import "sort"

// Range is a half-open byte interval [Offset, Offset+Length).
type Range struct {
	Offset int64
	Length int64
}

func (r Range) End() int64 { return r.Offset + r.Length }

// ChunkList is an ordered set of disjoint, non-zero-length ranges bounded by
// a compile-time (here: construction-time) MAX_CHUNKS cap per spec §4.1.
//
// On overflow the smallest range is evicted, tie-break earliest offset —
// spec.md Open Question O1 resolved this way: a receiver under heavy
// reordering degrades by losing track of (and re-requesting) its smallest
// fragments first, which tends to be the cheapest re-fetch.
type ChunkList struct {
	ranges []Range
	max    int
}

// New creates an empty ChunkList capped at maxChunks ranges.
func New(maxChunks int) *ChunkList {
	if maxChunks <= 0 {
		maxChunks = 1
	}
	return &ChunkList{max: maxChunks}
}

// Reset clears the list for pool reuse.
func (c *ChunkList) Reset() {
	c.ranges = c.ranges[:0]
}

// Add merges [offset, offset+length) into the set, coalescing with adjacent
// or overlapping ranges. length<=0 is a no-op.
func (c *ChunkList) Add(offset, length int64) {
	if length <= 0 {
		return
	}
	nr := Range{Offset: offset, Length: length}

	i := sort.Search(len(c.ranges), func(i int) bool { return c.ranges[i].Offset >= nr.Offset })

	// Merge with the range immediately before, if touching/overlapping.
	if i > 0 && c.ranges[i-1].End() >= nr.Offset {
		i--
		if nr.Offset < c.ranges[i].Offset {
			c.ranges[i].Offset = nr.Offset
		}
		if nr.End() > c.ranges[i].End() {
			c.ranges[i].Length = nr.End() - c.ranges[i].Offset
		}
		nr = c.ranges[i]
		c.ranges = append(c.ranges[:i], c.ranges[i+1:]...)
	}

	// Re-find insertion point and absorb every overlapping/touching range
	// that follows.
	j := sort.Search(len(c.ranges), func(k int) bool { return c.ranges[k].Offset >= nr.Offset })
	for j < len(c.ranges) && c.ranges[j].Offset <= nr.End() {
		if c.ranges[j].End() > nr.End() {
			nr.Length = c.ranges[j].End() - nr.Offset
		}
		c.ranges = append(c.ranges[:j], c.ranges[j+1:]...)
	}

	c.ranges = append(c.ranges, Range{})
	copy(c.ranges[j+1:], c.ranges[j:])
	c.ranges[j] = nr

	if len(c.ranges) > c.max {
		c.evictSmallest()
	}
}

func (c *ChunkList) evictSmallest() {
	idx := 0
	for i := 1; i < len(c.ranges); i++ {
		if c.ranges[i].Length < c.ranges[idx].Length ||
			(c.ranges[i].Length == c.ranges[idx].Length && c.ranges[i].Offset < c.ranges[idx].Offset) {
			idx = i
		}
	}
	c.ranges = append(c.ranges[:idx], c.ranges[idx+1:]...)
}

// ComputeGaps emits, in ascending order, the unreceived sub-ranges of
// [startOffset, totalLen), stopping after maxGaps callbacks or when the
// range is exhausted.
func (c *ChunkList) ComputeGaps(totalLen, startOffset int64, maxGaps int, cb func(gap Range)) {
	if maxGaps <= 0 || totalLen <= startOffset {
		return
	}
	cursor := startOffset
	emitted := 0
	for _, r := range c.ranges {
		if emitted >= maxGaps {
			return
		}
		if r.Offset >= totalLen {
			break
		}
		if r.End() <= cursor {
			continue
		}
		if r.Offset > cursor {
			gapEnd := r.Offset
			if gapEnd > totalLen {
				gapEnd = totalLen
			}
			cb(Range{Offset: cursor, Length: gapEnd - cursor})
			emitted++
			if emitted >= maxGaps {
				return
			}
		}
		if r.End() > cursor {
			cursor = r.End()
		}
	}
	if cursor < totalLen && emitted < maxGaps {
		cb(Range{Offset: cursor, Length: totalLen - cursor})
	}
}

// TotalBytes returns the sum of all range lengths.
func (c *ChunkList) TotalBytes() int64 {
	var sum int64
	for _, r := range c.ranges {
		sum += r.Length
	}
	return sum
}

// IsCovered reports whether [0, length) is fully contained in a single
// range starting at 0.
func (c *ChunkList) IsCovered(length int64) bool {
	if length <= 0 {
		return true
	}
	if len(c.ranges) == 0 {
		return false
	}
	return c.ranges[0].Offset == 0 && c.ranges[0].End() >= length
}

// Ranges returns a copy of the current range set, for inspection/tests.
func (c *ChunkList) Ranges() []Range {
	out := make([]Range, len(c.ranges))
	copy(out, c.ranges)
	return out
}

// Len is the number of tracked ranges.
func (c *ChunkList) Len() int { return len(c.ranges) }
