package engine

import (
	"hash/crc32"
	"testing"

	"github.com/cfdp-go/engine/internal/cfdp/pdu"
	"github.com/cfdp-go/engine/internal/cfdp/ports"
	"github.com/cfdp-go/engine/internal/cfdp/txn"
)

type fakeFile struct {
	files   map[string][]byte
	tempNum int
}

func newFakeFile() *fakeFile { return &fakeFile{files: map[string][]byte{}} }

func (f *fakeFile) OpenRead(path string) (ports.Handle, error) { return path, nil }
func (f *fakeFile) OpenWrite(path string) (ports.Handle, error) {
	f.files[path] = []byte{}
	return path, nil
}
func (f *fakeFile) OpenTemp(dir string) (ports.Handle, string, error) {
	f.tempNum++
	path := dir + "/tmp-x"
	f.files[path] = []byte{}
	return path, path, nil
}
func (f *fakeFile) Read(h ports.Handle, offset int64, buf []byte) (int, error) {
	data := f.files[h.(string)]
	if offset >= int64(len(data)) {
		return 0, nil
	}
	return copy(buf, data[offset:]), nil
}
func (f *fakeFile) Write(h ports.Handle, offset int64, buf []byte) (int, error) {
	path := h.(string)
	data := f.files[path]
	end := offset + int64(len(buf))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], buf)
	f.files[path] = data
	return len(buf), nil
}
func (f *fakeFile) Close(ports.Handle) error       { return nil }
func (f *fakeFile) Rename(src, dst string) error {
	f.files[dst] = f.files[src]
	delete(f.files, src)
	return nil
}

type recordingReporter struct{ events []string }

func (r *recordingReporter) Event(id string, sev ports.Severity, fields ...ports.Field) {
	r.events = append(r.events, id)
}

type queueBus struct {
	inbox [][]byte
	sent  [][]byte
}

func (b *queueBus) Recv(string) ([]byte, bool, error) {
	if len(b.inbox) == 0 {
		return nil, false, nil
	}
	d := b.inbox[0]
	b.inbox = b.inbox[1:]
	return d, true, nil
}
func (b *queueBus) Send(mid string, data []byte) error {
	b.sent = append(b.sent, data)
	return nil
}

func testCfg() ports.TopConfig {
	return ports.TopConfig{
		TicksPerSecond:          1,
		RxCRCCalcBytesPerWakeup: 1024,
		LocalEID:                1,
		OutgoingFileChunkSize:   4096,
		TmpDir:                  "/tmp",
		MaxChunksPerTransaction: 16,
		MaxNakSegments:          8,
		PoolCapacity:            4,
		HistoryCapacityPerChan:  4,
		Channels: []ports.ChannelConfig{
			{
				MaxOutgoingMessagesPerWakeup: 8,
				RxMaxMessagesPerWakeup:       8,
				AckTimerSec:                  2,
				NakTimerSec:                  2,
				InactivityTimerSec:           5,
				AckLimit:                     2,
				NakLimit:                     2,
				InputMID:                     "in",
				OutputMID:                    "out",
				PollDirs: []ports.PollDirConfig{
					{SrcDir: "/src", DstDir: "/dst"},
				},
			},
		},
	}
}

func crc32Of(s string) []byte {
	v := crc32.ChecksumIEEE([]byte(s))
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func baseHeader() pdu.Header {
	return pdu.Header{
		Direction: pdu.DirTowardReceiver,
		EIDWidth:  1,
		SeqWidth:  1,
		SourceEID: 2,
		DestEID:   1,
		Seq:       7,
	}
}

func mustEncode(t *testing.T, p *pdu.PDU) []byte {
	t.Helper()
	data, err := pdu.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestWakeup_CleanR1TransferEndToEnd(t *testing.T) {
	file := newFakeFile()
	rep := &recordingReporter{}
	bus := &queueBus{}
	e, err := New(testCfg(), file, rep, []ports.Bus{bus}, []ports.Throttle{nil})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hdr := baseHeader()
	hdr.Mode = pdu.ModeUnacknowledged
	md := &pdu.PDU{Header: hdr, Kind: pdu.KindMD, MD: &pdu.MetadataPDU{FileSize: 3, DestFileName: "a", ChecksumType: pdu.ChecksumCRC32}}
	fd := &pdu.PDU{Header: hdr, Kind: pdu.KindFileData, FD: &pdu.FileDataPDU{Offset: 0, Data: []byte("xyz")}}
	eof := &pdu.PDU{Header: hdr, Kind: pdu.KindEOF, EOF: &pdu.EOFPDU{FileSize: 3, Checksum: crc32Of("xyz")}}
	bus.inbox = append(bus.inbox, mustEncode(t, md), mustEncode(t, fd), mustEncode(t, eof))

	e.Wakeup()

	if got := string(file.files["a"]); got != "xyz" {
		t.Fatalf("file content = %q, want xyz", got)
	}
	if e.PoolUsed() != 0 {
		t.Fatalf("pool used = %d, want 0 (transaction should be reaped in one wakeup)", e.PoolUsed())
	}
	entry, ok := e.Channels[0].History().Find(txn.Key{SourceEID: 2, Seq: 7})
	if !ok || entry.Status != txn.StatusNoError {
		t.Fatalf("history entry = %+v, ok=%v, want NoError", entry, ok)
	}
}

func TestWakeup_R2TransferDrivesAckFinAcrossWakeups(t *testing.T) {
	file := newFakeFile()
	rep := &recordingReporter{}
	bus := &queueBus{}
	e, err := New(testCfg(), file, rep, []ports.Bus{bus}, []ports.Throttle{nil})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hdr := baseHeader()
	hdr.Mode = pdu.ModeAcknowledged
	md := &pdu.PDU{Header: hdr, Kind: pdu.KindMD, MD: &pdu.MetadataPDU{FileSize: 3, DestFileName: "b", ChecksumType: pdu.ChecksumCRC32}}
	fd := &pdu.PDU{Header: hdr, Kind: pdu.KindFileData, FD: &pdu.FileDataPDU{Offset: 0, Data: []byte("xyz")}}
	eof := &pdu.PDU{Header: hdr, Kind: pdu.KindEOF, EOF: &pdu.EOFPDU{FileSize: 3, Checksum: crc32Of("xyz")}}
	bus.inbox = append(bus.inbox, mustEncode(t, md), mustEncode(t, fd), mustEncode(t, eof))

	e.Wakeup() // receives MD/FD/EOF, ACKs EOF, CRC-verifies, moves to SendFin
	key := txn.Key{SourceEID: 2, Seq: 7}
	tx := e.Pool.Find(key)
	if tx == nil {
		t.Fatalf("transaction %v not found after first wakeup", key)
	}
	if tx.Sub != txn.SubSendFin {
		t.Fatalf("sub after wakeup 1 = %v, want SendFin", tx.Sub)
	}
	if len(bus.sent) != 1 {
		t.Fatalf("expected 1 outbound PDU (ACK of EOF) after wakeup 1, got %d", len(bus.sent))
	}

	e.Wakeup() // ticks SendFin -> emits FIN, moves to WaitFinAck
	if tx.Sub != txn.SubWaitFinAck {
		t.Fatalf("sub after wakeup 2 = %v, want WaitFinAck", tx.Sub)
	}
	if len(bus.sent) != 2 {
		t.Fatalf("expected 2 outbound PDUs (ACK, FIN) after wakeup 2, got %d", len(bus.sent))
	}

	ack := &pdu.PDU{Header: hdr, Kind: pdu.KindACK, ACK: &pdu.AckPDU{Directive: pdu.AckOfFIN}}
	bus.inbox = append(bus.inbox, mustEncode(t, ack))
	e.Wakeup() // receives ACK of FIN, finalizes, reaps

	if e.PoolUsed() != 0 {
		t.Fatalf("pool used = %d, want 0 after ACK-of-FIN finalization", e.PoolUsed())
	}
	entry, ok := e.Channels[0].History().Find(key)
	if !ok || entry.Status != txn.StatusNoError {
		t.Fatalf("history entry = %+v ok=%v, want NoError", entry, ok)
	}
}

func TestWakeup_PoolExhaustionReportsEventAndDropsInbound(t *testing.T) {
	file := newFakeFile()
	rep := &recordingReporter{}
	bus := &queueBus{}
	cfg := testCfg()
	cfg.PoolCapacity = 1
	e, err := New(cfg, file, rep, []ports.Bus{bus}, []ports.Throttle{nil})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hdr := baseHeader()
	hdr.Mode = pdu.ModeAcknowledged
	md1 := &pdu.PDU{Header: hdr, Kind: pdu.KindMD, MD: &pdu.MetadataPDU{FileSize: 3, DestFileName: "c", ChecksumType: pdu.ChecksumCRC32}}
	hdr2 := hdr
	hdr2.Seq = 8
	md2 := &pdu.PDU{Header: hdr2, Kind: pdu.KindMD, MD: &pdu.MetadataPDU{FileSize: 3, DestFileName: "d", ChecksumType: pdu.ChecksumCRC32}}
	bus.inbox = append(bus.inbox, mustEncode(t, md1), mustEncode(t, md2))

	e.Wakeup()

	if e.PoolUsed() != 1 {
		t.Fatalf("pool used = %d, want 1 (only first transaction allocated)", e.PoolUsed())
	}
	found := false
	for _, ev := range rep.events {
		if ev == "engine.pool_exhausted" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected engine.pool_exhausted event, got %v", rep.events)
	}
}

func TestDispatch_ParamsAndChannelToggle(t *testing.T) {
	e, err := New(testCfg(), newFakeFile(), &recordingReporter{}, []ports.Bus{&queueBus{}}, []ports.Throttle{nil})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if r := e.Dispatch(Command{Kind: CmdSetParam, ParamName: "ticks_per_second", ParamValue: "4"}); !r.OK {
		t.Fatalf("SetParam failed: %v", r.Err)
	}
	if r := e.Dispatch(Command{Kind: CmdGetParam, ParamName: "ticks_per_second"}); r.Value != "4" {
		t.Fatalf("GetParam ticks_per_second = %q, want 4", r.Value)
	}
	if r := e.Dispatch(Command{Kind: CmdSetParam, ParamName: "rx_crc_calc_bytes_per_wakeup", ParamValue: "100"}); r.Err == nil {
		t.Fatalf("expected error setting a non-multiple-of-1024 CRC budget")
	}

	if r := e.Dispatch(Command{Kind: CmdDisableChannel, ChannelIdx: 0}); !r.OK {
		t.Fatalf("DisableChannel failed: %v", r.Err)
	}
	if e.Channels[0].Enabled {
		t.Fatalf("expected channel 0 disabled")
	}
	if r := e.Dispatch(Command{Kind: CmdEnableChannel, ChannelIdx: 5}); r.Err == nil {
		t.Fatalf("expected error enabling an out-of-range channel")
	}

	if r := e.Dispatch(Command{Kind: CmdCancelTxn, TxnKey: txn.Key{SourceEID: 9, Seq: 9}}); r.Err == nil {
		t.Fatalf("expected error cancelling a nonexistent transaction")
	}

	if r := e.Dispatch(Command{Kind: CmdPollDirControl, ChannelIdx: 0, PollDirIdx: 0, Enabled: false}); !r.OK {
		t.Fatalf("PollDirControl failed: %v", r.Err)
	}
	if e.Channels[0].Cfg.PollDirs[0].Enabled {
		t.Fatalf("expected poll dir 0 disabled")
	}
}

func TestDispatch_Reset(t *testing.T) {
	file := newFakeFile()
	bus := &queueBus{}
	e, err := New(testCfg(), file, &recordingReporter{}, []ports.Bus{bus}, []ports.Throttle{nil})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hdr := baseHeader()
	hdr.Mode = pdu.ModeAcknowledged
	md := &pdu.PDU{Header: hdr, Kind: pdu.KindMD, MD: &pdu.MetadataPDU{FileSize: 3, DestFileName: "e", ChecksumType: pdu.ChecksumCRC32}}
	bus.inbox = append(bus.inbox, mustEncode(t, md))
	e.Wakeup()

	if e.PoolUsed() != 1 {
		t.Fatalf("pool used = %d, want 1 before reset", e.PoolUsed())
	}
	if r := e.Dispatch(Command{Kind: CmdReset}); !r.OK {
		t.Fatalf("Reset failed: %v", r.Err)
	}
	if e.PoolUsed() != 0 {
		t.Fatalf("pool used = %d, want 0 after reset", e.PoolUsed())
	}
}
