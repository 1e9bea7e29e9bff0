package engine

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cfdp-go/engine/internal/cfdp/ports"
	"github.com/cfdp-go/engine/internal/cfdp/rfsm"
	"github.com/cfdp-go/engine/internal/cfdp/txn"
)

// CommandKind enumerates spec.md §6's ground command surface. Parsing the
// wire/CLI representation into a Command is not done in this package; the
// engine only ever sees the decoded form.
type CommandKind int

const (
	CmdNoop CommandKind = iota
	CmdReset
	CmdSetParam
	CmdGetParam
	CmdEnableChannel
	CmdDisableChannel
	CmdCancelTxn
	CmdSuspendTxn
	CmdResumeTxn
	CmdAbandonTxn
	CmdPlaybackDir
	CmdPollDirControl
)

// Command is the decoded form of one ground command.
type Command struct {
	Kind       CommandKind
	ChannelIdx int
	TxnKey     txn.Key
	ParamName  string
	ParamValue string
	PollDirIdx int
	Enabled    bool
}

// CommandResult is every command's uniform reply: success, or a typed
// error (spec.md §6: "each returns success or a typed error").
type CommandResult struct {
	OK    bool
	Value string // populated by GetParam
	Err   error
}

var (
	ErrNoSuchChannel = errors.New("engine: no such channel")
	ErrNoSuchTxn     = errors.New("engine: no such transaction")
	ErrUnknownParam  = errors.New("engine: unknown or invalid parameter")
)

// Dispatch executes one ground command against the engine's current
// state and returns its result. Never blocks — every case either mutates
// in-memory state synchronously or looks up something already held.
func (e *Engine) Dispatch(cmd Command) CommandResult {
	switch cmd.Kind {
	case CmdNoop:
		return CommandResult{OK: true}
	case CmdReset:
		e.reset()
		return CommandResult{OK: true}
	case CmdSetParam:
		return e.setParam(cmd.ParamName, cmd.ParamValue)
	case CmdGetParam:
		return e.getParam(cmd.ParamName)
	case CmdEnableChannel:
		return e.setChannelEnabled(cmd.ChannelIdx, true)
	case CmdDisableChannel:
		return e.setChannelEnabled(cmd.ChannelIdx, false)
	case CmdCancelTxn:
		return e.withTxn(cmd.TxnKey, rfsm.Cancel)
	case CmdSuspendTxn:
		return e.withTxn(cmd.TxnKey, rfsm.Suspend)
	case CmdResumeTxn:
		return e.withTxn(cmd.TxnKey, rfsm.Resume)
	case CmdAbandonTxn:
		return e.abandon(cmd.TxnKey)
	case CmdPlaybackDir:
		return e.playbackDir(cmd.ChannelIdx, cmd.PollDirIdx)
	case CmdPollDirControl:
		return e.pollDirControl(cmd.ChannelIdx, cmd.PollDirIdx, cmd.Enabled)
	default:
		return CommandResult{Err: fmt.Errorf("engine: unrecognized command kind %d", cmd.Kind)}
	}
}

func (e *Engine) setChannelEnabled(idx int, enabled bool) CommandResult {
	ch, err := e.channelAt(idx)
	if err != nil {
		return CommandResult{Err: err}
	}
	ch.Enabled = enabled
	return CommandResult{OK: true}
}

func (e *Engine) withTxn(key txn.Key, fn func(*txn.Transaction)) CommandResult {
	tx := e.Pool.Find(key)
	if tx == nil {
		return CommandResult{Err: fmt.Errorf("%w: %s", ErrNoSuchTxn, key.String())}
	}
	fn(tx)
	return CommandResult{OK: true}
}

// abandon forcibly discards a transaction without the normal FIN/ACK
// completion handshake — distinct from Cancel, which still lets Tick drive
// the transaction to an orderly (if failed) Complete. Abandon is for a
// transaction a human operator wants gone immediately.
func (e *Engine) abandon(key txn.Key) CommandResult {
	tx := e.Pool.Find(key)
	if tx == nil {
		return CommandResult{Err: fmt.Errorf("%w: %s", ErrNoSuchTxn, key.String())}
	}
	if ch, err := e.channelAt(tx.ChannelIdx); err == nil {
		ch.RemoveRXA(tx)
		ch.RemoveTXA(tx)
	}
	if tx.FileHandle != nil {
		if cerr := e.files.Close(tx.FileHandle); cerr != nil {
			e.Reporter.Event("engine.abandon_close_failed", ports.SeverityError,
				ports.F("txn", key.String()), ports.F("err", cerr.Error()))
		}
	}
	e.Pool.Free(tx)
	e.Reporter.Event("engine.txn_abandoned", ports.SeverityInfo, ports.F("txn", key.String()))
	return CommandResult{OK: true}
}

// playbackDir records a one-shot replay request against a configured poll
// directory. The core never touches src_dir/dst_dir itself (spec.md §3);
// an external directory-poller collaborator observes this event and
// performs the actual filesystem walk.
func (e *Engine) playbackDir(chIdx, dirIdx int) CommandResult {
	ch, err := e.channelAt(chIdx)
	if err != nil {
		return CommandResult{Err: err}
	}
	if dirIdx < 0 || dirIdx >= len(ch.Cfg.PollDirs) {
		return CommandResult{Err: fmt.Errorf("engine: no such poll dir %d on channel %d", dirIdx, chIdx)}
	}
	e.Reporter.Event("engine.playback_requested", ports.SeverityInfo,
		ports.F("channel", chIdx), ports.F("poll_dir", dirIdx))
	return CommandResult{OK: true}
}

// pollDirControl toggles whether a configured poll directory is actively
// scanned, without removing its configuration.
func (e *Engine) pollDirControl(chIdx, dirIdx int, enabled bool) CommandResult {
	ch, err := e.channelAt(chIdx)
	if err != nil {
		return CommandResult{Err: err}
	}
	if dirIdx < 0 || dirIdx >= len(ch.Cfg.PollDirs) {
		return CommandResult{Err: fmt.Errorf("engine: no such poll dir %d on channel %d", dirIdx, chIdx)}
	}
	ch.Cfg.PollDirs[dirIdx].Enabled = enabled
	return CommandResult{OK: true}
}

// reset discards all in-flight transactions across every channel (closing
// any open file handle first) and clears the send/receive queues, but
// leaves PB_HIST intact — spec.md §6's Persisted state note ("the engine
// is stateless across process restarts") applies equally to an in-process
// Reset.
func (e *Engine) reset() {
	for _, ch := range e.Channels {
		for _, tx := range ch.RXASnapshot() {
			if tx.FileHandle != nil {
				_ = e.files.Close(tx.FileHandle)
			}
			e.Pool.Free(tx)
		}
		ch.DropAllQueues()
	}
	e.crcCursor = 0
	e.Reporter.Event("engine.reset", ports.SeverityInfo)
}

// setParam/getParam expose a small whitelist of runtime-tunable top-level
// knobs; everything else in TopConfig/ChannelConfig is fixed at Engine
// construction (spec.md §6: "the core reads only" at init).
func (e *Engine) setParam(name, value string) CommandResult {
	switch name {
	case "rx_crc_calc_bytes_per_wakeup":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 || n%1024 != 0 {
			return CommandResult{Err: fmt.Errorf("%w: rx_crc_calc_bytes_per_wakeup must be a positive multiple of 1024", ErrUnknownParam)}
		}
		e.Cfg.RxCRCCalcBytesPerWakeup = n
		return CommandResult{OK: true}
	case "ticks_per_second":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return CommandResult{Err: fmt.Errorf("%w: ticks_per_second must be positive", ErrUnknownParam)}
		}
		e.Cfg.TicksPerSecond = n
		return CommandResult{OK: true}
	default:
		return CommandResult{Err: fmt.Errorf("%w: %s", ErrUnknownParam, name)}
	}
}

func (e *Engine) getParam(name string) CommandResult {
	switch name {
	case "rx_crc_calc_bytes_per_wakeup":
		return CommandResult{OK: true, Value: strconv.FormatInt(e.Cfg.RxCRCCalcBytesPerWakeup, 10)}
	case "ticks_per_second":
		return CommandResult{OK: true, Value: strconv.Itoa(e.Cfg.TicksPerSecond)}
	case "pool_free_count":
		return CommandResult{OK: true, Value: strconv.Itoa(e.Pool.FreeCount())}
	case "pool_capacity":
		return CommandResult{OK: true, Value: strconv.Itoa(e.Pool.Capacity())}
	default:
		return CommandResult{Err: fmt.Errorf("%w: %s", ErrUnknownParam, name)}
	}
}
