// Package channel implements the per-channel queue set spec.md §4.6
// describes: PB_PEND (priority-ordered pending send), PB_TXA (active
// send), PB_RXA (active receive), and PB_HIST (a bounded completion ring),
// plus the throttle semaphore gating outbound transmission. PB_FREE is the
// pool itself (package pool) — channel-global per spec.md §4.8, not
// duplicated here.
//
// Grounded on the teacher's daemon/manager/store.go SessionStore, which
// kept separate "active" and "completed" session collections; generalized
// here into the five named CFDP queues, with the rotating-cursor fairness
// spec.md §4.7 requires ("transaction iteration rotates the starting
// cursor so every active transaction eventually gets to send each wakeup").
package channel

import (
	"sort"

	"github.com/cfdp-go/engine/internal/cfdp/history"
	"github.com/cfdp-go/engine/internal/cfdp/ports"
	"github.com/cfdp-go/engine/internal/cfdp/txn"
)

// PendingEntry is one PB_PEND slot: a not-yet-active outbound transaction
// plus its transmit priority. Populated by a sender (S) role; receivers
// are never queued here (spec.md §4.6).
type PendingEntry struct {
	Txn      *txn.Transaction
	Priority uint8
}

// Channel owns one input/output message-id pair, its four engine-visible
// queues, and the outbound throttle semaphore.
type Channel struct {
	Index int
	Cfg   ports.ChannelConfig

	Bus      ports.Bus
	Throttle ports.Throttle
	Reporter ports.Reporter

	Enabled bool

	pend []PendingEntry     // PB_PEND
	txa  []*txn.Transaction // PB_TXA
	rxa  []*txn.Transaction // PB_RXA
	hist *history.Ring      // PB_HIST

	rxaCursor int
	txaCursor int

	outbound [][]byte // encoded PDUs awaiting Bus.Send, FIFO across wakeups
}

// New constructs a Channel. A nil throttle defaults to ports.AlwaysAllow
// (e.g. Class 1 channels, or tests that don't exercise throttling).
func New(index int, cfg ports.ChannelConfig, bus ports.Bus, throttle ports.Throttle, reporter ports.Reporter, historyCapacity int) *Channel {
	if throttle == nil {
		throttle = ports.AlwaysAllow{}
	}
	return &Channel{
		Index:    index,
		Cfg:      cfg,
		Bus:      bus,
		Throttle: throttle,
		Reporter: reporter,
		Enabled:  true,
		hist:     history.New(historyCapacity),
	}
}

// EnqueueRXA admits a freshly-allocated receiver transaction into PB_RXA.
func (c *Channel) EnqueueRXA(t *txn.Transaction) {
	c.rxa = append(c.rxa, t)
}

// RemoveRXA removes t from PB_RXA (e.g. once it reaches Complete and is
// about to be reaped into PB_HIST). No-op if t is not present.
func (c *Channel) RemoveRXA(t *txn.Transaction) {
	removeFrom(&c.rxa, &c.rxaCursor, t)
}

// RXAInOrder returns PB_RXA's members starting at the rotating cursor, and
// advances the cursor by one so the next call starts one slot further —
// this is the engine's whole per-wakeup fairness guarantee (spec.md §4.7).
func (c *Channel) RXAInOrder() []*txn.Transaction {
	return rotate(c.rxa, &c.rxaCursor)
}

// RXASnapshot returns PB_RXA's members in underlying storage order, without
// touching the rotation cursor — used for cross-channel accounting (e.g.
// the engine's CRC budget division) that must not perturb send fairness.
func (c *Channel) RXASnapshot() []*txn.Transaction {
	out := make([]*txn.Transaction, len(c.rxa))
	copy(out, c.rxa)
	return out
}

// EnqueuePend admits a sender-role transaction into PB_PEND, ordered by
// descending priority (ties preserve arrival order).
func (c *Channel) EnqueuePend(t *txn.Transaction, priority uint8) {
	c.pend = append(c.pend, PendingEntry{Txn: t, Priority: priority})
	sort.SliceStable(c.pend, func(i, j int) bool { return c.pend[i].Priority > c.pend[j].Priority })
}

// DequeuePend pops PB_PEND's head (highest priority, oldest arrival) into
// PB_TXA. Returns nil if PB_PEND is empty.
func (c *Channel) DequeuePend() *txn.Transaction {
	if len(c.pend) == 0 {
		return nil
	}
	e := c.pend[0]
	c.pend = c.pend[1:]
	c.txa = append(c.txa, e.Txn)
	return e.Txn
}

// TXAInOrder returns PB_TXA's members starting at the rotating cursor, and
// advances the cursor (see RXAInOrder).
func (c *Channel) TXAInOrder() []*txn.Transaction {
	return rotate(c.txa, &c.txaCursor)
}

// RemoveTXA removes t from PB_TXA.
func (c *Channel) RemoveTXA(t *txn.Transaction) {
	removeFrom(&c.txa, &c.txaCursor, t)
}

// Reap records t's completion summary into PB_HIST.
func (c *Channel) Reap(t *txn.Transaction) {
	c.hist.Add(history.Entry{
		Key:      t.Key,
		Status:   t.Status,
		FileSize: t.FileSizeExpected,
		Progress: t.FileSizeReceivedBytes,
	})
}

// History exposes PB_HIST for status/GetParam queries.
func (c *Channel) History() *history.Ring { return c.hist }

// QueueOutbound appends an already-encoded PDU to this channel's outbound
// FIFO. Order within a wakeup follows spec.md §4.7's (a)/(b)/(c)/(d)
// classes — callers append in that order.
func (c *Channel) QueueOutbound(data []byte) {
	c.outbound = append(c.outbound, data)
}

// DrainOutbound sends up to max queued PDUs, one throttle unit each; it
// stops (without dropping the rest) the moment the throttle or Bus.Send
// refuses, leaving the remainder queued for the next wakeup.
func (c *Channel) DrainOutbound(max int) (sent int, err error) {
	for sent < max && len(c.outbound) > 0 {
		if !c.Throttle.Allow(1) {
			return sent, nil
		}
		data := c.outbound[0]
		if sendErr := c.Bus.Send(c.Cfg.OutputMID, data); sendErr != nil {
			return sent, sendErr
		}
		c.outbound = c.outbound[1:]
		sent++
	}
	return sent, nil
}

// OutboundDepth reports how many encoded PDUs are still queued, for
// telemetry/backpressure decisions.
func (c *Channel) OutboundDepth() int { return len(c.outbound) }

// DropAllQueues empties PB_PEND/PB_TXA/PB_RXA and the outbound FIFO,
// resetting both rotation cursors. PB_HIST is untouched. Used by the
// engine's Reset command.
func (c *Channel) DropAllQueues() {
	c.pend = nil
	c.txa = nil
	c.rxa = nil
	c.outbound = nil
	c.rxaCursor = 0
	c.txaCursor = 0
}

func removeFrom(q *[]*txn.Transaction, cursor *int, t *txn.Transaction) {
	s := *q
	for i, e := range s {
		if e == t {
			*q = append(s[:i], s[i+1:]...)
			if *cursor > i {
				*cursor--
			}
			return
		}
	}
}

// rotate returns a copy of q ordered starting at *cursor, then advances
// *cursor by one (mod len(q)).
func rotate(q []*txn.Transaction, cursor *int) []*txn.Transaction {
	n := len(q)
	if n == 0 {
		return nil
	}
	if *cursor >= n {
		*cursor = 0
	}
	out := make([]*txn.Transaction, n)
	for i := 0; i < n; i++ {
		out[i] = q[(*cursor+i)%n]
	}
	*cursor = (*cursor + 1) % n
	return out
}
