// Package txn defines the Transaction record that the pool (C5), the R-FSM
// (C6), and the channel (C7) all operate on — grounded on the teacher's
// daemon/manager/session.go Session record, generalized from a single
// network-transfer session to a pool-resident CFDP transaction slot.
package txn

import (
	"fmt"

	"github.com/cfdp-go/engine/internal/cfdp/chunklist"
	"github.com/cfdp-go/engine/internal/cfdp/pdu"
	"github.com/cfdp-go/engine/internal/cfdp/timer"
)

// Key uniquely identifies a transaction: the source entity plus its
// locally-assigned sequence number (spec.md §2's transaction key).
type Key struct {
	SourceEID uint64
	Seq       uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.SourceEID, k.Seq)
}

// Role distinguishes which end of the transfer this slot represents.
type Role uint8

const (
	RoleReceiver Role = iota
	RoleSender
)

// MajorState is the top-level transaction lifecycle state (§3/§4.5: a
// composite of major and substate). Free is the pool-allocation state; the
// other four are the engine's own {Idle, Active, DropOnError, Finished}.
type MajorState uint8

const (
	StateFree MajorState = iota
	StateIdle
	StateActive
	StateDropOnError
	StateFinished
)

func (s MajorState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateDropOnError:
		return "drop_on_error"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("MajorState(%d)", uint8(s))
	}
}

// Substate is the R-role substate named in spec.md §4.5's transition
// table: WaitMD, RecvFileData, WaitEof, SendNak, SendFin, WaitFinAck,
// Complete.
type Substate uint8

const (
	SubNone Substate = iota
	SubWaitMD
	SubRecvFileData
	SubWaitEof
	SubSendNak
	SubSendFin
	SubWaitFinAck
	SubComplete
)

func (s Substate) String() string {
	switch s {
	case SubNone:
		return "none"
	case SubWaitMD:
		return "wait_md"
	case SubRecvFileData:
		return "recv_file_data"
	case SubWaitEof:
		return "wait_eof"
	case SubSendNak:
		return "send_nak"
	case SubSendFin:
		return "send_fin"
	case SubWaitFinAck:
		return "wait_fin_ack"
	case SubComplete:
		return "complete"
	default:
		return fmt.Sprintf("Substate(%d)", uint8(s))
	}
}

// StatusCode is the closed condition-code taxonomy from spec.md §7.
type StatusCode uint8

const (
	StatusNoError StatusCode = iota
	StatusPositiveAckLimitReached
	StatusKeepAliveLimitReached
	StatusInvalidTransmissionMode
	StatusFilestoreRejection
	StatusFileChecksumFailure
	StatusFileSizeError
	StatusNakLimitReached
	StatusInactivityDetected
	StatusInvalidFileStructure
	StatusCheckLimitReached
	StatusUnsupportedChecksumType
	StatusSuspendRequested
	StatusCancelRequested
)

func (s StatusCode) String() string {
	switch s {
	case StatusNoError:
		return "no_error"
	case StatusPositiveAckLimitReached:
		return "positive_ack_limit_reached"
	case StatusKeepAliveLimitReached:
		return "keep_alive_limit_reached"
	case StatusInvalidTransmissionMode:
		return "invalid_transmission_mode"
	case StatusFilestoreRejection:
		return "filestore_rejection"
	case StatusFileChecksumFailure:
		return "file_checksum_failure"
	case StatusFileSizeError:
		return "file_size_error"
	case StatusNakLimitReached:
		return "nak_limit_reached"
	case StatusInactivityDetected:
		return "inactivity_detected"
	case StatusInvalidFileStructure:
		return "invalid_file_structure"
	case StatusCheckLimitReached:
		return "check_limit_reached"
	case StatusUnsupportedChecksumType:
		return "unsupported_checksum_type"
	case StatusSuspendRequested:
		return "suspend_requested"
	case StatusCancelRequested:
		return "cancel_requested"
	default:
		return fmt.Sprintf("StatusCode(%d)", uint8(s))
	}
}

// Config holds the per-transaction knobs fixed at allocation time.
type Config struct {
	ClosureRequested bool
	LargeFile        bool
	ChecksumType     pdu.ChecksumType
}

// Flags are the single-bit signals spec.md §3 lists on the Transaction
// record: md_recv, eof_recv, crc_ok, send_ack, send_nak, send_fin,
// inactivity_fired, canceled.
type Flags struct {
	MDRecv           bool
	EOFRecv          bool
	CRCOk            bool
	SendAck          bool
	SendNak          bool
	SendFin          bool
	InactivityFired  bool
	Canceled         bool
}

// Counters tracks the retry/limit counters spec.md §4.5/§4.6 reference.
type Counters struct {
	AckRetries int
	NakRetries int
}

// Transaction is one pool slot's full state. Reset zeroes it for reuse by
// the freelist (pool.go), the way session.go's Session is discarded rather
// than reused — here we reuse in place to avoid per-transaction allocation
// on an embedded target.
type Transaction struct {
	Key  Key
	Role Role
	// Class is the CFDP transmission class: 1 (unreliable/streamed) or 2
	// (reliable, NAK-driven). Header.Mode determines it on first sight.
	Class int

	State MajorState
	Sub   Substate

	PeerEID    uint64
	DestEID    uint64
	ChannelIdx int

	SourceFileName string
	DestFileName   string
	TempFileName   string
	UsingTempFile  bool
	FileHandle     interface{} // ports.Handle; opaque to this package

	FileSizeExpected      uint64
	FileSizeReceivedBytes uint64
	ExpectedChecksum      []byte      // raw EOF checksum bytes, width depends on Cfg.ChecksumType
	ChecksumState         interface{} // uint32 (CRC-32) or *blake3.Hasher, opaque to this package
	CRCBytesConsumed      uint64

	// HeaderTemplate carries the wire parameters (EID/seq widths, large-file
	// bit, local/peer entity ids) needed to construct reply PDUs, captured
	// from the first inbound PDU for this transaction.
	HeaderTemplate pdu.Header

	Cfg      Config
	Flags    Flags
	Counters Counters
	Status   StatusCode
	Suspended bool

	Chunks *chunklist.ChunkList

	AckTimer        timer.Timer
	NakTimer        timer.Timer
	InactivityTimer timer.Timer
}

// Reset zeroes a slot back to StateFree so the freelist can hand it to a
// new transaction without a fresh allocation.
func (t *Transaction) Reset() {
	chunks := t.Chunks
	if chunks != nil {
		chunks.Reset()
	}
	*t = Transaction{Chunks: chunks}
}

// IsFree reports whether this slot is available for allocation.
func (t *Transaction) IsFree() bool { return t.State == StateFree }
