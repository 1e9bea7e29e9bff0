package chunklist

import "testing"

func TestChunkList_AddMergesAdjacent(t *testing.T) {
	c := New(16)
	c.Add(0, 5)
	c.Add(5, 5)

	if c.Len() != 1 {
		t.Fatalf("expected 1 merged range, got %d", c.Len())
	}
	if got := c.Ranges()[0]; got != (Range{Offset: 0, Length: 10}) {
		t.Errorf("expected [0,10), got %+v", got)
	}
}

func TestChunkList_AddMergesOverlap(t *testing.T) {
	c := New(16)
	c.Add(0, 6)
	c.Add(4, 6) // overlaps [4,10)

	if c.Len() != 1 {
		t.Fatalf("expected 1 merged range, got %d", c.Len())
	}
	if got := c.Ranges()[0]; got != (Range{Offset: 0, Length: 10}) {
		t.Errorf("expected [0,10), got %+v", got)
	}
}

func TestChunkList_AddKeepsDisjointSorted(t *testing.T) {
	c := New(16)
	c.Add(20, 5)
	c.Add(0, 5)
	c.Add(10, 5)

	ranges := c.Ranges()
	if len(ranges) != 3 {
		t.Fatalf("expected 3 disjoint ranges, got %d", len(ranges))
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i-1].End() >= ranges[i].Offset {
			t.Fatalf("ranges not disjoint/sorted: %+v", ranges)
		}
	}
	if ranges[0].Offset != 0 || ranges[1].Offset != 10 || ranges[2].Offset != 20 {
		t.Errorf("unexpected order: %+v", ranges)
	}
}

func TestChunkList_AddFillsGapBetweenTwoRanges(t *testing.T) {
	c := New(16)
	c.Add(0, 5)
	c.Add(10, 5)
	c.Add(5, 5) // fills the gap, should merge all three into one

	if c.Len() != 1 {
		t.Fatalf("expected fully merged range, got %d: %+v", c.Len(), c.Ranges())
	}
	if got := c.Ranges()[0]; got != (Range{Offset: 0, Length: 15}) {
		t.Errorf("expected [0,15), got %+v", got)
	}
}

func TestChunkList_OverflowEvictsSmallest(t *testing.T) {
	c := New(2)
	c.Add(0, 3)   // smallest of the three
	c.Add(100, 9) // larger
	c.Add(200, 5) // overflow: evicts the smallest range ([0,3))

	ranges := c.Ranges()
	if len(ranges) != 2 {
		t.Fatalf("expected cap of 2 ranges, got %d", len(ranges))
	}
	for _, r := range ranges {
		if r.Offset == 0 {
			t.Errorf("expected smallest range [0,3) to be evicted, still present: %+v", ranges)
		}
	}
}

func TestChunkList_OverflowTieBreaksEarliestOffset(t *testing.T) {
	c := New(2)
	c.Add(100, 5) // same length as next
	c.Add(0, 5)   // same length, earlier offset -> should be evicted on overflow
	c.Add(200, 5) // overflow

	ranges := c.Ranges()
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(ranges))
	}
	for _, r := range ranges {
		if r.Offset == 0 {
			t.Errorf("expected earliest-offset range to be evicted on tie, still present: %+v", ranges)
		}
	}
}

func TestChunkList_ComputeGaps(t *testing.T) {
	c := New(16)
	c.Add(0, 5)
	c.Add(20, 5)

	var gaps []Range
	c.ComputeGaps(30, 0, 10, func(g Range) { gaps = append(gaps, g) })

	want := []Range{{Offset: 5, Length: 15}, {Offset: 25, Length: 5}}
	if len(gaps) != len(want) {
		t.Fatalf("expected %d gaps, got %d: %+v", len(want), len(gaps), gaps)
	}
	for i := range want {
		if gaps[i] != want[i] {
			t.Errorf("gap %d: want %+v got %+v", i, want[i], gaps[i])
		}
	}
}

func TestChunkList_ComputeGapsRespectsMaxGaps(t *testing.T) {
	c := New(16)
	c.Add(0, 1)
	c.Add(2, 1)
	c.Add(4, 1)

	var gaps []Range
	c.ComputeGaps(6, 0, 1, func(g Range) { gaps = append(gaps, g) })

	if len(gaps) != 1 {
		t.Fatalf("expected exactly 1 gap (capped), got %d: %+v", len(gaps), gaps)
	}
	if gaps[0] != (Range{Offset: 1, Length: 1}) {
		t.Errorf("expected first gap [1,2), got %+v", gaps[0])
	}
}

func TestChunkList_IsCoveredAndTotalBytes(t *testing.T) {
	c := New(16)
	if c.IsCovered(1) {
		t.Error("empty list should not cover anything")
	}
	c.Add(0, 10)
	if !c.IsCovered(10) {
		t.Error("expected [0,10) to cover length 10")
	}
	if c.IsCovered(11) {
		t.Error("expected [0,10) to not cover length 11")
	}
	if c.TotalBytes() != 10 {
		t.Errorf("expected total bytes 10, got %d", c.TotalBytes())
	}
}

func TestChunkList_AddIgnoresNonPositiveLength(t *testing.T) {
	c := New(4)
	c.Add(5, 0)
	c.Add(5, -3)
	if c.Len() != 0 {
		t.Errorf("expected no ranges added, got %d", c.Len())
	}
}
