// Package pool implements the fixed-capacity transaction pool spec.md §9
// calls for: a flat array of txn.Transaction slots plus a freelist of slot
// indices, replacing the teacher's map-based daemon/manager/store.go
// SessionStore (which allocates a *Session per session) with the
// no-heap-growth-after-startup pattern an embedded target requires.
package pool

import (
	"errors"

	"github.com/cfdp-go/engine/internal/cfdp/chunklist"
	"github.com/cfdp-go/engine/internal/cfdp/txn"
)

// ErrExhausted is returned by Alloc when every slot is in use.
var ErrExhausted = errors.New("pool: exhausted, no free transaction slots")

// Pool owns a fixed number of Transaction slots and a freelist of their
// indices. All capacity is allocated once at New; Alloc/Free never grow or
// shrink the backing array.
type Pool struct {
	slots []txn.Transaction
	free  []int // stack of free slot indices, LIFO
}

// New allocates capacity slots up front, each with its own embedded
// ChunkList capped at maxChunksPerTxn — per spec.md §5, "Chunk arrays are
// embedded in the transaction record — no separate allocator", so the
// ChunkList is built once here and reused in place across the slot's whole
// lifetime, never reallocated by Alloc/Free/Reset.
func New(capacity, maxChunksPerTxn int) *Pool {
	p := &Pool{
		slots: make([]txn.Transaction, capacity),
		free:  make([]int, capacity),
	}
	for i := range p.slots {
		p.slots[i].Chunks = chunklist.New(maxChunksPerTxn)
	}
	for i := range p.slots {
		p.free[i] = capacity - 1 - i // fill so index 0 pops first
	}
	return p
}

// Capacity returns the total number of slots.
func (p *Pool) Capacity() int { return len(p.slots) }

// FreeCount returns how many slots are currently unallocated.
func (p *Pool) FreeCount() int { return len(p.free) }

// Alloc reserves a slot and returns a pointer to it, zeroed via
// Transaction.Reset. Returns ErrExhausted if no slots remain (invariant P3:
// the pool never grows past its configured capacity).
func (p *Pool) Alloc() (*txn.Transaction, error) {
	if len(p.free) == 0 {
		return nil, ErrExhausted
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	slot := &p.slots[idx]
	slot.Reset()
	return slot, nil
}

// Free returns a slot to the freelist by index, after resetting it so it
// carries no state into its next allocation.
func (p *Pool) Free(t *txn.Transaction) {
	idx := p.indexOf(t)
	if idx < 0 {
		return
	}
	t.Reset()
	p.free = append(p.free, idx)
}

// indexOf locates t's slot index by pointer arithmetic over the backing
// array. Returns -1 if t is not a slot owned by this pool.
func (p *Pool) indexOf(t *txn.Transaction) int {
	for i := range p.slots {
		if &p.slots[i] == t {
			return i
		}
	}
	return -1
}

// ForEach iterates live (non-free) slots in index order, calling fn for
// each. fn must not call Alloc or Free.
func (p *Pool) ForEach(fn func(*txn.Transaction)) {
	freeSet := make(map[int]bool, len(p.free))
	for _, idx := range p.free {
		freeSet[idx] = true
	}
	for i := range p.slots {
		if freeSet[i] {
			continue
		}
		fn(&p.slots[i])
	}
}

// Find returns the slot matching key among live transactions, or nil.
func (p *Pool) Find(key txn.Key) *txn.Transaction {
	var found *txn.Transaction
	p.ForEach(func(t *txn.Transaction) {
		if found == nil && t.Key == key {
			found = t
		}
	})
	return found
}
