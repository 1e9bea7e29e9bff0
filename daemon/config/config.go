// Package config loads the engine-wide Top/Channel/PollDir configuration
// (spec.md §3) the way the teacher's config.Config/DefaultConfig/LoadConfig
// did: a defaults constructor plus a "simplified" loader that reads a YAML
// file if present, else falls back to defaults.
package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v2"

	"github.com/cfdp-go/engine/internal/cfdp/ports"
	"github.com/cfdp-go/engine/internal/validation"
)

// File is the on-disk YAML shape; field names mirror ports.TopConfig/
// ChannelConfig/PollDirConfig so the loader is a thin unmarshal-then-copy.
type File struct {
	TicksPerSecond          int           `yaml:"ticks_per_second"`
	RxCRCCalcBytesPerWakeup int64         `yaml:"rx_crc_calc_bytes_per_wakeup"`
	LocalEID                uint64        `yaml:"local_eid"`
	OutgoingFileChunkSize   int           `yaml:"outgoing_file_chunk_size"`
	TmpDir                  string        `yaml:"tmp_dir"`
	MaxChunksPerTransaction int           `yaml:"max_chunks_per_transaction"`
	MaxNakSegments          int           `yaml:"max_nak_segments"`
	PoolCapacity            int           `yaml:"pool_capacity"`
	HistoryCapacityPerChan  int           `yaml:"history_capacity_per_channel"`
	Channels                []ChannelFile `yaml:"channels"`
}

type ChannelFile struct {
	MaxOutgoingMessagesPerWakeup int           `yaml:"max_outgoing_messages_per_wakeup"`
	RxMaxMessagesPerWakeup       int           `yaml:"rx_max_messages_per_wakeup"`
	AckTimerSec                  int           `yaml:"ack_timer_sec"`
	NakTimerSec                  int           `yaml:"nak_timer_sec"`
	InactivityTimerSec           int           `yaml:"inactivity_timer_sec"`
	AckLimit                     int           `yaml:"ack_limit"`
	NakLimit                     int           `yaml:"nak_limit"`
	InputMID                     string        `yaml:"input_mid"`
	OutputMID                    string        `yaml:"output_mid"`
	InputPipeDepth               int           `yaml:"input_pipe_depth"`
	ThrottleRatePerSec           float64       `yaml:"throttle_rate_per_sec"`
	ThrottleBurst                int           `yaml:"throttle_burst"`
	DequeueEnabled               bool          `yaml:"dequeue_enabled"`
	MoveDir                      string        `yaml:"move_dir"`
	PollDirs                     []PollDirFile `yaml:"poll_dirs"`
}

type PollDirFile struct {
	IntervalSec int    `yaml:"interval_sec"`
	Priority    uint8  `yaml:"priority"`
	Class       int    `yaml:"class"`
	DestEID     uint64 `yaml:"dest_eid"`
	SrcDir      string `yaml:"src_dir"`
	DstDir      string `yaml:"dst_dir"`
	Enabled     bool   `yaml:"enabled"`
	Profile     string `yaml:"profile"`
}

// DefaultFile returns a single-channel, Class-2, conservative default
// configuration suitable for local testing.
func DefaultFile() *File {
	return &File{
		TicksPerSecond:          1,
		RxCRCCalcBytesPerWakeup: 64 * 1024,
		LocalEID:                1,
		OutgoingFileChunkSize:   4096,
		TmpDir:                  os.TempDir(),
		MaxChunksPerTransaction: 64,
		MaxNakSegments:          16,
		PoolCapacity:            32,
		HistoryCapacityPerChan:  64,
		Channels: []ChannelFile{
			{
				MaxOutgoingMessagesPerWakeup: 16,
				RxMaxMessagesPerWakeup:       16,
				AckTimerSec:                  10,
				NakTimerSec:                  10,
				InactivityTimerSec:           60,
				AckLimit:                     3,
				NakLimit:                     5,
				InputMID:                     "cfdp.in",
				OutputMID:                    "cfdp.out",
				InputPipeDepth:               64,
				ThrottleRatePerSec:           1 << 20,
				ThrottleBurst:                1 << 20,
			},
		},
	}
}

// Load reads path as YAML if it exists, else returns defaults — "simplified"
// in the same sense as the teacher's LoadConfig: no partial-merge, no env
// overlay, just file-or-defaults.
func Load(path string) (*File, error) {
	if path == "" {
		return DefaultFile(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	f := DefaultFile()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return f, nil
}

// ToTopConfig converts the on-disk shape into the ports.TopConfig the
// engine actually consumes, and validates it.
func (f *File) ToTopConfig() (*ports.TopConfig, error) {
	top := &ports.TopConfig{
		TicksPerSecond:          f.TicksPerSecond,
		RxCRCCalcBytesPerWakeup: f.RxCRCCalcBytesPerWakeup,
		LocalEID:                f.LocalEID,
		OutgoingFileChunkSize:   f.OutgoingFileChunkSize,
		TmpDir:                  f.TmpDir,
		MaxChunksPerTransaction: f.MaxChunksPerTransaction,
		MaxNakSegments:          f.MaxNakSegments,
		PoolCapacity:            f.PoolCapacity,
		HistoryCapacityPerChan:  f.HistoryCapacityPerChan,
	}
	for _, ch := range f.Channels {
		cc := ports.ChannelConfig{
			MaxOutgoingMessagesPerWakeup: ch.MaxOutgoingMessagesPerWakeup,
			RxMaxMessagesPerWakeup:       ch.RxMaxMessagesPerWakeup,
			AckTimerSec:                  ch.AckTimerSec,
			NakTimerSec:                  ch.NakTimerSec,
			InactivityTimerSec:           ch.InactivityTimerSec,
			AckLimit:                     ch.AckLimit,
			NakLimit:                     ch.NakLimit,
			InputMID:                     ch.InputMID,
			OutputMID:                    ch.OutputMID,
			InputPipeDepth:               ch.InputPipeDepth,
			ThrottleSemName:              ch.InputMID + ".throttle",
			DequeueEnabled:               ch.DequeueEnabled,
			MoveDir:                      ch.MoveDir,
		}
		for _, pd := range ch.PollDirs {
			cc.PollDirs = append(cc.PollDirs, ports.PollDirConfig{
				IntervalSec: pd.IntervalSec,
				Priority:    pd.Priority,
				Class:       pd.Class,
				DestEID:     pd.DestEID,
				SrcDir:      pd.SrcDir,
				DstDir:      pd.DstDir,
				Enabled:     pd.Enabled,
				Profile:     pd.Profile,
			})
		}
		top.Channels = append(top.Channels, cc)
	}
	if err := validation.ValidateTopConfig(top); err != nil {
		return nil, err
	}
	return top, nil
}
