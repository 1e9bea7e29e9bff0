// Package rfsm implements the R1/R2 receive state machine (spec.md §4.4,
// §4.5): the per-transaction logic the engine wakeup (C8) drives through
// OnReceive and Tick. Grounded on the teacher's daemon/manager/session.go
// state-transition style (a validated state map) generalized from a
// single network session to the CFDP R-side substates.
package rfsm

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/zeebo/blake3"

	"github.com/cfdp-go/engine/internal/cfdp/chunklist"
	"github.com/cfdp-go/engine/internal/cfdp/pdu"
	"github.com/cfdp-go/engine/internal/cfdp/ports"
	"github.com/cfdp-go/engine/internal/cfdp/txn"
)

// Deps bundles the narrow collaborators and per-channel timer/limit config
// the R-FSM needs. Constructed once per channel by the engine.
type Deps struct {
	File     ports.File
	Reporter ports.Reporter
	TmpDir   string
	LocalEID uint64

	TicksPerSecond     int
	AckTimerSec        int
	NakTimerSec        int
	InactivityTimerSec int
	AckLimit           int
	NakLimit           int
	MaxNakSegments     int
}

// Init allocates a freshly-pooled slot into the WaitMD substate (spec.md
// §4.5: "[Idle] --alloc on first matching PDU--> [WaitMD]"). hdr is the
// header of the PDU that triggered allocation, supplying the wire
// parameters (widths, large-file bit) later replies are built from.
func Init(tx *txn.Transaction, key txn.Key, class int, hdr pdu.Header, deps Deps) {
	tx.Key = key
	tx.Role = txn.RoleReceiver
	tx.Class = class
	tx.PeerEID = hdr.SourceEID
	tx.DestEID = hdr.DestEID
	tx.HeaderTemplate = hdr
	tx.State = txn.StateActive
	tx.Sub = txn.SubWaitMD
	tx.InactivityTimer.InitRelSec(deps.InactivityTimerSec, deps.TicksPerSecond)
}

// OnReceive applies one decoded inbound PDU to tx, returning any PDUs that
// must be sent back immediately (spec.md §5's ordering class (a): "explicit
// responses generated during receive").
func OnReceive(tx *txn.Transaction, p *pdu.PDU, deps Deps) []*pdu.PDU {
	if tx.Sub == txn.SubComplete || tx.State != txn.StateActive {
		return nil
	}
	if tx.Suspended {
		return nil
	}

	// Every received PDU, valid or not, restarts the inactivity timer.
	tx.InactivityTimer.InitRelSec(deps.InactivityTimerSec, deps.TicksPerSecond)

	switch p.Kind {
	case pdu.KindMD:
		return handleMD(tx, p.MD, deps)
	case pdu.KindFileData:
		return handleFD(tx, p.FD, deps)
	case pdu.KindEOF:
		return handleEOF(tx, p.EOF, deps)
	case pdu.KindACK:
		return handleACK(tx, p.ACK, deps)
	case pdu.KindPrompt:
		return handlePrompt(tx, p.Prompt, deps)
	case pdu.KindKeepalive:
		// Supplemented feature: Keepalive only restarts inactivity (done
		// above); R does not reply to it.
		return nil
	case pdu.KindNAK:
		// NAK: receive side generally ignores (this is a receiver).
		return nil
	default:
		deps.Reporter.Event("rfsm.unexpected_pdu", ports.SeverityError, ports.F("kind", p.Kind.String()))
		return nil
	}
}

// Tick advances tx by one wakeup: timers, CRC budget, and substate
// transitions (spec.md §4.5, §4.7 step 2). crcBudget is this tick's share
// of rx_crc_calc_bytes_per_wakeup, already divided among eligible R2
// transactions by the engine's round-robin.
func Tick(tx *txn.Transaction, deps Deps, crcBudget int64) []*pdu.PDU {
	if tx.State != txn.StateActive {
		return nil
	}
	if tx.Suspended {
		// O3: suspend freezes all three timers and produces no PDU effects.
		return nil
	}
	if tx.Flags.Canceled {
		tx.Status = txn.StatusCancelRequested
		finalize(tx, deps)
		return nil
	}

	tx.InactivityTimer.TickOnce()
	if tx.InactivityTimer.Expired() {
		tx.Flags.InactivityFired = true
		tx.Status = txn.StatusInactivityDetected
		deps.Reporter.Event("rfsm.inactivity_timeout", ports.SeverityError, ports.F("txn", tx.Key.String()))
		finalize(tx, deps)
		return nil
	}

	switch tx.Sub {
	case txn.SubRecvFileData:
		// Armed on each FD per spec.md §4.5, but for R its expiry has no
		// action of its own — EOF-ACK is sent immediately on receipt, not
		// retried — so only the countdown is kept ticking here.
		tx.AckTimer.TickOnce()
		return nil

	case txn.SubWaitEof, txn.SubSendNak:
		return evaluateCompletion(tx, deps, crcBudget)

	case txn.SubSendFin:
		out := []*pdu.PDU{buildFIN(tx, deps)}
		tx.Sub = txn.SubWaitFinAck
		tx.AckTimer.InitRelSec(deps.AckTimerSec, deps.TicksPerSecond)
		return out

	case txn.SubWaitFinAck:
		tx.AckTimer.TickOnce()
		if !tx.AckTimer.Expired() {
			return nil
		}
		if tx.Counters.AckRetries >= deps.AckLimit {
			tx.Status = txn.StatusPositiveAckLimitReached
			finalize(tx, deps)
			return nil
		}
		tx.Counters.AckRetries++
		tx.AckTimer.InitRelSec(deps.AckTimerSec, deps.TicksPerSecond)
		return []*pdu.PDU{buildFIN(tx, deps)}
	}
	return nil
}

// Cancel latches a cancel request; the next Tick forces completion.
func Cancel(tx *txn.Transaction) {
	tx.Flags.Canceled = true
}

// Suspend freezes a transaction's timers in place (O3) without discarding
// their remaining countdown.
func Suspend(tx *txn.Transaction) {
	tx.Suspended = true
	tx.AckTimer.Freeze()
	tx.NakTimer.Freeze()
	tx.InactivityTimer.Freeze()
}

// Resume re-arms a suspended transaction's timers from where they froze.
func Resume(tx *txn.Transaction) {
	tx.Suspended = false
	tx.AckTimer.Unfreeze()
	tx.NakTimer.Unfreeze()
	tx.InactivityTimer.Unfreeze()
}

func handleMD(tx *txn.Transaction, md *pdu.MetadataPDU, deps Deps) []*pdu.PDU {
	if tx.Flags.MDRecv {
		return nil // duplicate: already open and receiving, no re-effect
	}
	tx.FileSizeExpected = md.FileSize
	tx.SourceFileName = md.SourceFileName
	tx.DestFileName = md.DestFileName
	tx.Cfg.ChecksumType = md.ChecksumType
	tx.Cfg.ClosureRequested = md.ClosureRequested

	switch {
	case tx.Sub == txn.SubWaitMD:
		h, err := deps.File.OpenWrite(tx.DestFileName)
		if err != nil {
			return failFilestore(tx, deps, err)
		}
		tx.FileHandle = h
		tx.Sub = txn.SubRecvFileData

	case tx.UsingTempFile:
		// FD arrived first (S2a): close the tempfile, move it to the real
		// destination now that we know the name, reopen for continued
		// writes at the next FD's offset.
		if err := deps.File.Close(tx.FileHandle); err != nil {
			return failFilestore(tx, deps, err)
		}
		if err := deps.File.Rename(tx.TempFileName, tx.DestFileName); err != nil {
			return failFilestore(tx, deps, err)
		}
		h, err := deps.File.OpenWrite(tx.DestFileName)
		if err != nil {
			return failFilestore(tx, deps, err)
		}
		tx.FileHandle = h
		tx.UsingTempFile = false
	}

	tx.Flags.MDRecv = true
	return nil
}

func handleFD(tx *txn.Transaction, fd *pdu.FileDataPDU, deps Deps) []*pdu.PDU {
	if tx.Sub == txn.SubWaitMD {
		// MD not yet seen: buffer into a tempfile and ask for MD (S2a).
		h, path, err := deps.File.OpenTemp(deps.TmpDir)
		if err != nil {
			return failFilestore(tx, deps, err)
		}
		tx.FileHandle = h
		tx.TempFileName = path
		tx.UsingTempFile = true
		tx.Sub = txn.SubRecvFileData
	}

	haveFileSize := tx.Flags.MDRecv || tx.Flags.EOFRecv
	if haveFileSize && fd.Offset+uint64(len(fd.Data)) > tx.FileSizeExpected {
		deps.Reporter.Event("rfsm.fd_out_of_bounds", ports.SeverityError, ports.F("txn", tx.Key.String()))
		return nil // malformed PDU: drop, event, transaction survives
	}

	before := tx.Chunks.TotalBytes()
	if _, err := deps.File.Write(tx.FileHandle, int64(fd.Offset), fd.Data); err != nil {
		return failFilestore(tx, deps, err)
	}
	tx.Chunks.Add(int64(fd.Offset), int64(len(fd.Data)))
	after := tx.Chunks.TotalBytes()
	tx.FileSizeReceivedBytes = uint64(after)
	if after > before {
		// O2: coverage-increasing FD resets the NAK retry counter.
		tx.Counters.NakRetries = 0
	}
	if tx.Class == 1 {
		// R1 feeds CRC incrementally as data streams in, rather than the
		// budgeted post-EOF loop R2 uses.
		feedChecksum(tx, fd.Data)
	}
	tx.AckTimer.InitRelSec(deps.AckTimerSec, deps.TicksPerSecond)
	return nil
}

func feedChecksum(tx *txn.Transaction, data []byte) {
	switch tx.Cfg.ChecksumType {
	case pdu.ChecksumCRC32:
		cur, _ := tx.ChecksumState.(uint32)
		tx.ChecksumState = crc32.Update(cur, crc32.IEEETable, data)
	case pdu.ChecksumBLAKE3:
		hasher, _ := tx.ChecksumState.(*blake3.Hasher)
		if hasher == nil {
			hasher = blake3.New()
		}
		hasher.Write(data)
		tx.ChecksumState = hasher
	}
}

func handleEOF(tx *txn.Transaction, e *pdu.EOFPDU, deps Deps) []*pdu.PDU {
	if tx.Flags.MDRecv && tx.FileSizeExpected != e.FileSize {
		tx.Status = txn.StatusFileSizeError
	}
	tx.FileSizeExpected = e.FileSize
	tx.ExpectedChecksum = append([]byte(nil), e.Checksum...)
	tx.Flags.EOFRecv = true

	if tx.Class == 1 {
		// R1: stream CRC was fed incrementally by handleFD; finish now and
		// drop straight to Complete|Dropped, no handshake.
		if tx.Cfg.ChecksumType != pdu.ChecksumCRC32 && tx.Cfg.ChecksumType != pdu.ChecksumBLAKE3 {
			tx.Status = txn.StatusUnsupportedChecksumType
		} else {
			finishChecksum(tx)
			if tx.Status == txn.StatusNoError && !tx.Flags.CRCOk {
				tx.Status = txn.StatusFileChecksumFailure
			}
		}
		finalize(tx, deps)
		return nil
	}

	tx.Sub = txn.SubWaitEof
	// R2 emits ACK for EOF immediately; it does not await an ACK of that ACK.
	ack := &pdu.PDU{
		Header: replyHeader(tx, deps),
		Kind:   pdu.KindACK,
		ACK:    &pdu.AckPDU{Directive: pdu.AckOfEOF, ConditionCode: uint8(tx.Status)},
	}
	return []*pdu.PDU{ack}
}

func handleACK(tx *txn.Transaction, a *pdu.AckPDU, deps Deps) []*pdu.PDU {
	if a.Directive == pdu.AckOfFIN && tx.Sub == txn.SubWaitFinAck {
		finalize(tx, deps)
	}
	return nil
}

func handlePrompt(tx *txn.Transaction, p *pdu.PromptPDU, deps Deps) []*pdu.PDU {
	switch p.ResponseRequired {
	case pdu.PromptForNAK:
		if tx.Sub == txn.SubSendNak || tx.Sub == txn.SubWaitEof {
			return buildNAK(tx, deps)
		}
	case pdu.PromptForKeepalive:
		if tx.Sub == txn.SubRecvFileData {
			return []*pdu.PDU{buildKeepalive(tx, deps)}
		}
	}
	return nil
}

// evaluateCompletion implements spec.md §4.5's completion check: if MD or
// coverage is missing, (re)issue a NAK on the retry cadence; once covered,
// run the chunked checksum and move to SendFin.
func evaluateCompletion(tx *txn.Transaction, deps Deps, crcBudget int64) []*pdu.PDU {
	needNak := !tx.Flags.MDRecv || !tx.Chunks.IsCovered(int64(tx.FileSizeExpected))
	if needNak {
		wasSendNak := tx.Sub == txn.SubSendNak
		tx.Sub = txn.SubSendNak
		tx.Flags.SendNak, tx.Flags.SendFin = true, false
		if !wasSendNak {
			tx.NakTimer.InitRelSec(deps.NakTimerSec, deps.TicksPerSecond)
			return emitNak(tx, deps)
		}
		tx.NakTimer.TickOnce()
		if !tx.NakTimer.Expired() {
			return nil
		}
		if tx.Counters.NakRetries >= deps.NakLimit {
			tx.Status = txn.StatusNakLimitReached
			finalize(tx, deps)
			return nil
		}
		tx.Counters.NakRetries++
		tx.NakTimer.InitRelSec(deps.NakTimerSec, deps.TicksPerSecond)
		return emitNak(tx, deps)
	}

	tx.Sub = txn.SubWaitEof
	tx.Flags.SendNak = false
	if tx.Cfg.ChecksumType != pdu.ChecksumCRC32 && tx.Cfg.ChecksumType != pdu.ChecksumBLAKE3 {
		tx.Status = txn.StatusUnsupportedChecksumType
		tx.Sub = txn.SubSendFin
		tx.Flags.SendFin = true
		return nil
	}
	if !runCRCBudget(tx, deps, crcBudget) {
		return nil
	}
	finishChecksum(tx)
	if !tx.Flags.CRCOk && tx.Status == txn.StatusNoError {
		tx.Status = txn.StatusFileChecksumFailure
	}
	tx.Sub = txn.SubSendFin
	tx.Flags.SendFin = true
	return nil
}

func emitNak(tx *txn.Transaction, deps Deps) []*pdu.PDU {
	if !tx.Flags.MDRecv {
		return buildDegenerateNAK(tx, deps)
	}
	return buildNAK(tx, deps)
}

// runCRCBudget feeds up to budget bytes through the running checksum,
// reading from the open file handle starting at CRCBytesConsumed. Returns
// true once the whole file has been consumed. A zero-byte read with no
// error is treated as "no progress this tick" (ports' partial-progress
// contract), not an error.
func runCRCBudget(tx *txn.Transaction, deps Deps, budget int64) bool {
	if tx.CRCBytesConsumed >= tx.FileSizeExpected {
		return true
	}
	remaining := int64(tx.FileSizeExpected - tx.CRCBytesConsumed)
	n := budget
	if n > remaining {
		n = remaining
	}
	if n <= 0 {
		return false
	}
	buf := make([]byte, n)
	read, err := deps.File.Read(tx.FileHandle, int64(tx.CRCBytesConsumed), buf)
	if err != nil {
		tx.Status = txn.StatusFilestoreRejection
		tx.CRCBytesConsumed = tx.FileSizeExpected
		return true
	}
	if read == 0 {
		return false
	}
	feedChecksum(tx, buf[:read])
	tx.CRCBytesConsumed += uint64(read)
	return tx.CRCBytesConsumed >= tx.FileSizeExpected
}

func finishChecksum(tx *txn.Transaction) {
	switch tx.Cfg.ChecksumType {
	case pdu.ChecksumCRC32:
		cur, _ := tx.ChecksumState.(uint32)
		var want uint32
		if len(tx.ExpectedChecksum) >= 4 {
			want = binary.BigEndian.Uint32(tx.ExpectedChecksum)
		}
		tx.Flags.CRCOk = cur == want
	case pdu.ChecksumBLAKE3:
		hasher, _ := tx.ChecksumState.(*blake3.Hasher)
		var sum []byte
		if hasher != nil {
			sum = hasher.Sum(nil)
		}
		tx.Flags.CRCOk = bytes.Equal(sum, tx.ExpectedChecksum)
	default:
		tx.Flags.CRCOk = false
	}
}

func buildNAK(tx *txn.Transaction, deps Deps) []*pdu.PDU {
	max := deps.MaxNakSegments
	if max <= 0 {
		max = 1
	}
	segs := make([]pdu.SegmentRequest, 0, max)
	tx.Chunks.ComputeGaps(int64(tx.FileSizeExpected), 0, max, func(gap chunklist.Range) {
		segs = append(segs, pdu.SegmentRequest{Start: uint64(gap.Offset), End: uint64(gap.End())})
	})
	nak := &pdu.NakPDU{ScopeStart: 0, ScopeEnd: tx.FileSizeExpected, Segments: segs}
	return []*pdu.PDU{{Header: replyHeader(tx, deps), Kind: pdu.KindNAK, NAK: nak}}
}

// buildDegenerateNAK is the "send me MD" NAK: scope (0,0), no segments.
func buildDegenerateNAK(tx *txn.Transaction, deps Deps) []*pdu.PDU {
	nak := &pdu.NakPDU{ScopeStart: 0, ScopeEnd: 0}
	return []*pdu.PDU{{Header: replyHeader(tx, deps), Kind: pdu.KindNAK, NAK: nak}}
}

func buildFIN(tx *txn.Transaction, deps Deps) *pdu.PDU {
	fin := &pdu.FinishedPDU{
		ConditionCode:    uint8(tx.Status),
		DeliveryComplete: tx.Status == txn.StatusNoError,
		FileStatus:       0,
	}
	return &pdu.PDU{Header: replyHeader(tx, deps), Kind: pdu.KindFIN, FIN: fin}
}

func buildKeepalive(tx *txn.Transaction, deps Deps) *pdu.PDU {
	return &pdu.PDU{
		Header:    replyHeader(tx, deps),
		Kind:      pdu.KindKeepalive,
		KeepAlive: &pdu.KeepAlivePDU{Progress: tx.FileSizeReceivedBytes},
	}
}

func failFilestore(tx *txn.Transaction, deps Deps, err error) []*pdu.PDU {
	tx.Status = txn.StatusFilestoreRejection
	deps.Reporter.Event("rfsm.filestore_rejection", ports.SeverityError,
		ports.F("txn", tx.Key.String()), ports.F("err", err.Error()))
	finalize(tx, deps)
	return nil
}

func finalize(tx *txn.Transaction, deps Deps) {
	if tx.FileHandle != nil {
		if err := deps.File.Close(tx.FileHandle); err != nil {
			deps.Reporter.Event("rfsm.close_failed", ports.SeverityError,
				ports.F("txn", tx.Key.String()), ports.F("err", err.Error()))
		}
		tx.FileHandle = nil
	}
	tx.Sub = txn.SubComplete
	tx.State = txn.StateFinished
	deps.Reporter.Event("rfsm.transaction_complete", ports.SeverityInfo,
		ports.F("txn", tx.Key.String()), ports.F("status", tx.Status.String()))
}

func replyHeader(tx *txn.Transaction, deps Deps) pdu.Header {
	h := tx.HeaderTemplate
	h.Direction = pdu.DirTowardSender
	h.SourceEID = deps.LocalEID
	h.DestEID = tx.PeerEID
	h.Seq = tx.Key.Seq
	return h
}
