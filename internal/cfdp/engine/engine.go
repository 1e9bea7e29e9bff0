// Package engine implements the wakeup scheduler spec.md §4.7 calls the
// heart of the system: on each Wakeup, drain inbound PDUs up to each
// channel's per-wakeup cap, tick every active transaction (dividing the
// CRC budget among eligible R2 transactions round-robin), emit outbound
// PDUs subject to the throttle semaphore, then reap completed
// transactions into history and back to the pool.
//
// Grounded on the teacher's daemon/transport/autotune.go periodic-tick
// driver (a fixed four-phase loop body invoked once per external clock
// signal) generalized from a single QUIC connection's pacing loop to the
// whole engine's receive→tick→transmit→reap cycle.
package engine

import (
	"errors"
	"fmt"

	"github.com/cfdp-go/engine/internal/cfdp/channel"
	"github.com/cfdp-go/engine/internal/cfdp/pdu"
	"github.com/cfdp-go/engine/internal/cfdp/pool"
	"github.com/cfdp-go/engine/internal/cfdp/ports"
	"github.com/cfdp-go/engine/internal/cfdp/rfsm"
	"github.com/cfdp-go/engine/internal/cfdp/txn"
)

var ErrChannelCountMismatch = errors.New("engine: bus/throttle slice length must match cfg.Channels")

// Engine owns the pool (shared across channels, per spec.md §4.8) and the
// per-channel queue sets, and drives both through Wakeup.
type Engine struct {
	Cfg      ports.TopConfig
	Pool     *pool.Pool
	Channels []*channel.Channel
	Reporter ports.Reporter

	files ports.File

	crcCursor int // round-robin starting point among CRC-eligible transactions
}

// New constructs an Engine from validated TopConfig plus one Bus and one
// Throttle per configured channel (nil throttle entries default to
// ports.AlwaysAllow, e.g. for Class 1-only channels).
func New(cfg ports.TopConfig, file ports.File, reporter ports.Reporter, buses []ports.Bus, throttles []ports.Throttle) (*Engine, error) {
	if len(buses) != len(cfg.Channels) || len(throttles) != len(cfg.Channels) {
		return nil, ErrChannelCountMismatch
	}
	if reporter == nil {
		reporter = ports.NopReporter{}
	}
	e := &Engine{
		Cfg:      cfg,
		Pool:     pool.New(cfg.PoolCapacity, cfg.MaxChunksPerTransaction),
		Channels: make([]*channel.Channel, len(cfg.Channels)),
		Reporter: reporter,
		files:    file,
	}
	for i, chCfg := range cfg.Channels {
		e.Channels[i] = channel.New(i, chCfg, buses[i], throttles[i], reporter, cfg.HistoryCapacityPerChan)
	}
	return e, nil
}

func (e *Engine) deps(ch *channel.Channel) rfsm.Deps {
	return rfsm.Deps{
		File:               e.files,
		Reporter:           e.Reporter,
		TmpDir:             e.Cfg.TmpDir,
		LocalEID:           e.Cfg.LocalEID,
		TicksPerSecond:     e.Cfg.TicksPerSecond,
		AckTimerSec:        ch.Cfg.AckTimerSec,
		NakTimerSec:        ch.Cfg.NakTimerSec,
		InactivityTimerSec: ch.Cfg.InactivityTimerSec,
		AckLimit:           ch.Cfg.AckLimit,
		NakLimit:           ch.Cfg.NakLimit,
		MaxNakSegments:     e.Cfg.MaxNakSegments,
	}
}

// Wakeup runs spec.md §4.7's four-step ordering: receive precedes tick
// precedes transmit, then reap. Disabled channels (EnableChannel/
// DisableChannel) are skipped entirely for receive and transmit, but
// already-active transactions on them still tick and can still be reaped —
// disabling a channel pauses new traffic, it does not abandon in-flight
// transfers.
func (e *Engine) Wakeup() {
	for _, ch := range e.Channels {
		if ch.Enabled {
			e.drainInbound(ch)
		}
	}

	e.tickAll()

	for _, ch := range e.Channels {
		if !ch.Enabled {
			continue
		}
		if _, err := ch.DrainOutbound(ch.Cfg.MaxOutgoingMessagesPerWakeup); err != nil {
			e.Reporter.Event("engine.bus_send_failed", ports.SeverityError,
				ports.F("channel", ch.Index), ports.F("err", err.Error()))
		}
	}

	e.reapAll()
}

func (e *Engine) drainInbound(ch *channel.Channel) {
	deps := e.deps(ch)
	for i := 0; i < ch.Cfg.RxMaxMessagesPerWakeup; i++ {
		data, ok, err := ch.Bus.Recv(ch.Cfg.InputMID)
		if err != nil {
			e.Reporter.Event("engine.bus_recv_failed", ports.SeverityError,
				ports.F("channel", ch.Index), ports.F("err", err.Error()))
			return
		}
		if !ok {
			return
		}
		p, err := pdu.Decode(data)
		if err != nil {
			// Per-PDU malformed: drop, event, transaction survives (spec §7).
			e.Reporter.Event("engine.decode_failed", ports.SeverityError,
				ports.F("channel", ch.Index), ports.F("err", err.Error()))
			continue
		}
		e.routeInbound(ch, p, deps)
	}
}

func (e *Engine) routeInbound(ch *channel.Channel, p *pdu.PDU, deps rfsm.Deps) {
	key := txn.Key{SourceEID: p.Header.SourceEID, Seq: p.Header.Seq}
	tx := e.Pool.Find(key)
	if tx == nil {
		if _, ok := ch.History().Find(key); ok {
			// Late duplicate for an already-reaped transaction: spec.md §7
			// asks only that terminal state be recorded in history, not
			// that it be resurrected.
			return
		}
		class := 2
		if p.Header.Mode == pdu.ModeUnacknowledged {
			class = 1
		}
		var err error
		tx, err = e.Pool.Alloc()
		if err != nil {
			e.Reporter.Event("engine.pool_exhausted", ports.SeverityError, ports.F("channel", ch.Index))
			return
		}
		rfsm.Init(tx, key, class, p.Header, deps)
		tx.ChannelIdx = ch.Index
		ch.EnqueueRXA(tx)
	}
	e.enqueueOutbound(ch, rfsm.OnReceive(tx, p, deps))
}

// tickAll runs Tick on every active (PB_RXA) transaction across all
// channels, dividing the top-level CRC byte budget among the R2
// transactions currently eligible to consume it (spec.md §4.5: "divided
// among eligible R2 transactions in round-robin transaction order").
// Per-channel rotation (fairness for send order) and the global CRC
// round-robin are independent cursors — one governs which transactions
// get to emit this wakeup, the other which get CRC bytes.
func (e *Engine) tickAll() {
	type entry struct {
		ch *channel.Channel
		tx *txn.Transaction
	}
	var all []entry
	var eligible []*txn.Transaction
	for _, ch := range e.Channels {
		for _, tx := range ch.RXAInOrder() {
			all = append(all, entry{ch, tx})
			if tx.Class == 2 && (tx.Sub == txn.SubWaitEof || tx.Sub == txn.SubSendNak) {
				eligible = append(eligible, tx)
			}
		}
	}

	budgetFor := e.divideCRCBudget(eligible)

	for _, en := range all {
		out := rfsm.Tick(en.tx, e.deps(en.ch), budgetFor[en.tx])
		e.enqueueOutbound(en.ch, out)
	}
}

// divideCRCBudget splits Cfg.RxCRCCalcBytesPerWakeup evenly across
// eligible, with any remainder handed one byte at a time starting at the
// rotating crcCursor so no transaction is perpetually shorted.
func (e *Engine) divideCRCBudget(eligible []*txn.Transaction) map[*txn.Transaction]int64 {
	out := make(map[*txn.Transaction]int64, len(eligible))
	n := len(eligible)
	if n == 0 {
		return out
	}
	total := e.Cfg.RxCRCCalcBytesPerWakeup
	base := total / int64(n)
	rem := int(total % int64(n))
	for _, tx := range eligible {
		out[tx] = base
	}
	if e.crcCursor >= n {
		e.crcCursor = 0
	}
	for i := 0; i < rem; i++ {
		tx := eligible[(e.crcCursor+i)%n]
		out[tx]++
	}
	e.crcCursor = (e.crcCursor + 1) % n
	return out
}

func (e *Engine) reapAll() {
	for _, ch := range e.Channels {
		for _, tx := range ch.RXASnapshot() {
			if tx.Sub == txn.SubComplete && tx.State == txn.StateFinished {
				ch.Reap(tx)
				ch.RemoveRXA(tx)
				e.Pool.Free(tx)
			}
		}
	}
}

func (e *Engine) enqueueOutbound(ch *channel.Channel, pdus []*pdu.PDU) {
	for _, p := range pdus {
		data, err := pdu.Encode(p)
		if err != nil {
			e.Reporter.Event("engine.encode_failed", ports.SeverityError,
				ports.F("channel", ch.Index), ports.F("err", err.Error()))
			continue
		}
		ch.QueueOutbound(data)
	}
}

// PoolCapacity and PoolUsed expose occupancy for telemetry/health checks
// (internal/observability.PoolUtilizationCheck).
func (e *Engine) PoolCapacity() int { return e.Pool.Capacity() }
func (e *Engine) PoolUsed() int     { return e.Pool.Capacity() - e.Pool.FreeCount() }

func (e *Engine) channelAt(idx int) (*channel.Channel, error) {
	if idx < 0 || idx >= len(e.Channels) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchChannel, idx)
	}
	return e.Channels[idx], nil
}
