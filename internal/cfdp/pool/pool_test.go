package pool

import (
	"testing"

	"github.com/cfdp-go/engine/internal/cfdp/txn"
)

func TestPool_AllocUpToCapacityThenExhausted(t *testing.T) {
	p := New(3, 16)
	if p.Capacity() != 3 {
		t.Fatalf("expected capacity 3, got %d", p.Capacity())
	}
	var got []*txn.Transaction
	for i := 0; i < 3; i++ {
		tx, err := p.Alloc()
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		got = append(got, tx)
	}
	if p.FreeCount() != 0 {
		t.Fatalf("expected 0 free slots, got %d", p.FreeCount())
	}
	if _, err := p.Alloc(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	for i, tx := range got {
		for j, other := range got {
			if i != j && tx == other {
				t.Fatalf("Alloc returned the same slot twice")
			}
		}
	}
}

func TestPool_FreeReturnsSlotForReuse(t *testing.T) {
	p := New(1, 16)
	tx, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	tx.Key = txn.Key{SourceEID: 1, Seq: 1}
	tx.State = txn.StateActive

	p.Free(tx)
	if p.FreeCount() != 1 {
		t.Fatalf("expected 1 free slot after Free, got %d", p.FreeCount())
	}

	tx2, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc after Free: %v", err)
	}
	if tx2.State != txn.StateFree {
		t.Errorf("expected reallocated slot to start at StateFree, got %v", tx2.State)
	}
	if tx2.Key != (txn.Key{}) {
		t.Errorf("expected reallocated slot's Key cleared, got %+v", tx2.Key)
	}
}

func TestPool_FindLocatesLiveTransactionByKey(t *testing.T) {
	p := New(4, 16)
	tx1, _ := p.Alloc()
	tx1.Key = txn.Key{SourceEID: 10, Seq: 1}
	tx2, _ := p.Alloc()
	tx2.Key = txn.Key{SourceEID: 10, Seq: 2}

	found := p.Find(txn.Key{SourceEID: 10, Seq: 2})
	if found != tx2 {
		t.Errorf("Find returned wrong slot")
	}
	if p.Find(txn.Key{SourceEID: 99, Seq: 99}) != nil {
		t.Error("Find should return nil for an unknown key")
	}
}

func TestPool_ForEachSkipsFreeSlots(t *testing.T) {
	p := New(3, 16)
	tx1, _ := p.Alloc()
	tx1.Key = txn.Key{SourceEID: 1, Seq: 1}
	tx2, _ := p.Alloc()
	tx2.Key = txn.Key{SourceEID: 1, Seq: 2}
	p.Free(tx1)

	var visited []txn.Key
	p.ForEach(func(t *txn.Transaction) {
		visited = append(visited, t.Key)
	})
	if len(visited) != 1 || visited[0] != tx2.Key {
		t.Errorf("expected only the live slot visited, got %+v", visited)
	}
}

func TestPool_AllocZeroesReallocatedSlot(t *testing.T) {
	p := New(1, 16)
	tx, _ := p.Alloc()
	tx.FileSizeReceivedBytes = 12345
	p.Free(tx)

	tx2, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if tx2.FileSizeReceivedBytes != 0 {
		t.Errorf("expected fresh slot to have FileSizeReceivedBytes 0, got %d", tx2.FileSizeReceivedBytes)
	}
}

func TestPool_ChunkListIsEmbeddedAndSurvivesReuse(t *testing.T) {
	p := New(1, 16)
	tx, _ := p.Alloc()
	if tx.Chunks == nil {
		t.Fatal("expected Alloc to hand back a slot with a non-nil embedded ChunkList")
	}
	chunks := tx.Chunks
	tx.Chunks.Add(0, 10)
	p.Free(tx)

	tx2, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if tx2.Chunks != chunks {
		t.Error("expected the same embedded ChunkList instance to be reused, not reallocated")
	}
	if tx2.Chunks.Len() != 0 {
		t.Errorf("expected ChunkList cleared across reuse, got %d ranges", tx2.Chunks.Len())
	}
}
