package ports

// PollDirConfig mirrors spec.md §3 PollDir config. The core never reads
// src_dir/dst_dir itself — directory polling is an external collaborator —
// but the struct travels with ChannelConfig so the TransactionSource port
// can be parameterized from the same config file.
type PollDirConfig struct {
	IntervalSec int
	Priority    uint8
	Class       int // 1 or 2
	DestEID     uint64
	SrcDir      string
	DstDir      string
	Enabled     bool
	Profile     string // domain hint carried from config; not read by the engine
}

// ChannelConfig mirrors spec.md §3 Channel config.
type ChannelConfig struct {
	MaxOutgoingMessagesPerWakeup int
	RxMaxMessagesPerWakeup       int
	AckTimerSec                 int
	NakTimerSec                 int
	InactivityTimerSec          int
	AckLimit                    int
	NakLimit                    int
	InputMID                    string
	OutputMID                   string
	InputPipeDepth              int
	PollDirs                    []PollDirConfig
	ThrottleSemName             string
	DequeueEnabled              bool
	MoveDir                     string
}

// TopConfig mirrors spec.md §3 Top config.
type TopConfig struct {
	TicksPerSecond          int
	RxCRCCalcBytesPerWakeup int64 // must be a positive multiple of 1024
	LocalEID                uint64
	Channels                []ChannelConfig
	OutgoingFileChunkSize   int
	TmpDir                  string
	MaxChunksPerTransaction int // ChunkList cap (MAX_CHUNKS)
	MaxNakSegments          int // MAX_NAK_SEGMENTS
	PoolCapacity            int
	HistoryCapacityPerChan  int
}
