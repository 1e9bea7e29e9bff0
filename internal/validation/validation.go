// Package validation holds pre-flight checks run once at daemon startup,
// before the engine's wakeup loop begins: malformed config should fail fast
// with a clear error, not surface as a mysterious mid-run engine fault.
package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/cfdp-go/engine/internal/cfdp/ports"
)

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrInvalidAddr   = errors.New("invalid listen address")
	ErrEmptyString   = errors.New("value must not be empty")
	ErrOutOfRange    = errors.New("value out of range")
	ErrBadConfig     = errors.New("invalid engine configuration")
)

func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	if !filepath.IsAbs(p) {
		p = filepath.Clean(p)
	}
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// ValidateTopConfig checks the engine-wide config invariants spec.md §3/§9
// call for before the engine is ever constructed: a CRC budget that is a
// positive multiple of 1024, at least one channel, and non-zero pool sizing.
func ValidateTopConfig(cfg *ports.TopConfig) error {
	if cfg.TicksPerSecond <= 0 {
		return fmt.Errorf("%w: ticks_per_second must be positive", ErrBadConfig)
	}
	if cfg.RxCRCCalcBytesPerWakeup <= 0 || cfg.RxCRCCalcBytesPerWakeup%1024 != 0 {
		return fmt.Errorf("%w: rx_crc_calc_bytes_per_wakeup must be a positive multiple of 1024", ErrBadConfig)
	}
	if cfg.PoolCapacity <= 0 {
		return fmt.Errorf("%w: pool_capacity must be positive", ErrBadConfig)
	}
	if cfg.MaxChunksPerTransaction <= 0 {
		return fmt.Errorf("%w: max_chunks_per_transaction must be positive", ErrBadConfig)
	}
	if cfg.MaxNakSegments <= 0 {
		return fmt.Errorf("%w: max_nak_segments must be positive", ErrBadConfig)
	}
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrBadConfig)
	}
	for i, ch := range cfg.Channels {
		if err := validateChannelConfig(&ch); err != nil {
			return fmt.Errorf("channel[%d]: %w", i, err)
		}
	}
	return nil
}

func validateChannelConfig(ch *ports.ChannelConfig) error {
	if err := ValidateStringNonEmpty(ch.InputMID); err != nil {
		return fmt.Errorf("input_mid: %w", err)
	}
	if err := ValidateStringNonEmpty(ch.OutputMID); err != nil {
		return fmt.Errorf("output_mid: %w", err)
	}
	if ch.AckTimerSec <= 0 || ch.NakTimerSec <= 0 || ch.InactivityTimerSec <= 0 {
		return fmt.Errorf("%w: timer durations must be positive", ErrBadConfig)
	}
	if ch.AckLimit <= 0 || ch.NakLimit <= 0 {
		return fmt.Errorf("%w: retry limits must be positive", ErrBadConfig)
	}
	if ch.MaxOutgoingMessagesPerWakeup <= 0 || ch.RxMaxMessagesPerWakeup <= 0 {
		return fmt.Errorf("%w: per-wakeup message budgets must be positive", ErrBadConfig)
	}
	return nil
}
