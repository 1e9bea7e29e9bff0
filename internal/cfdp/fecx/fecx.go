// Package fecx layers the teacher's Reed-Solomon primitives
// (internal/fec, kept verbatim as a general-purpose shard codec) onto a
// CFDP receiver's ChunkList, per SPEC_FULL.md's domain-stack entry for
// github.com/klauspost/reedsolomon: "a sender may emit parity shards for a
// file's filedata segments; a receiver with MAX_NAK_SEGMENTS gaps and
// available parity reconstructs before falling back to a NAK round trip."
//
// fecx owns the CFDP-specific question (which fixed-size file shards does
// this ChunkList not yet cover) and delegates the actual erasure-coding
// math to internal/fec, matching the teacher's own layering: internal/fec
// never knows about files or offsets, only shard slices.
package fecx

import (
	"fmt"

	"github.com/cfdp-go/engine/internal/cfdp/chunklist"
	"github.com/cfdp-go/engine/internal/fec"
)

// Layer binds one Reed-Solomon (K, R) configuration and a fixed shard size
// to a CFDP file transfer, letting a receiver ask "can the gaps I currently
// have be closed from parity alone" before it emits a NAK.
type Layer struct {
	K, R      int
	ShardSize int64

	dec *fec.Decoder
}

// New builds a Layer. shardSize must match the sender's chosen shard size
// for this transaction (carried out of band — CFDP's PDU set has no field
// for it; an extension header or vendor option would carry it in a full
// sender implementation).
func New(k, r int, shardSize int64) (*Layer, error) {
	if shardSize <= 0 {
		return nil, fmt.Errorf("fecx: shard size must be positive, got %d", shardSize)
	}
	dec, err := fec.NewDecoder(k, r)
	if err != nil {
		return nil, fmt.Errorf("fecx: %w", err)
	}
	return &Layer{K: k, R: r, ShardSize: shardSize, dec: dec}, nil
}

// shardBounds returns shard i's half-open byte range within a file of the
// given total size.
func (l *Layer) shardBounds(i int, fileSize int64) (start, end int64) {
	start = int64(i) * l.ShardSize
	end = start + l.ShardSize
	if end > fileSize {
		end = fileSize
	}
	return start, end
}

// ShardCount returns how many shards a file of fileSize splits into under
// this Layer's shard size.
func (l *Layer) ShardCount(fileSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	return int((fileSize + l.ShardSize - 1) / l.ShardSize)
}

// MissingShards returns the indices of every shard not yet fully covered by
// chunks, in ascending order.
func (l *Layer) MissingShards(chunks *chunklist.ChunkList, fileSize int64) []int {
	n := l.ShardCount(fileSize)
	missing := make([]int, 0, n)
	for i := 0; i < n; i++ {
		start, end := l.shardBounds(i, fileSize)
		covered := true
		chunks.ComputeGaps(end, start, 1, func(chunklist.Range) { covered = false })
		if !covered {
			missing = append(missing, i)
		}
	}
	return missing
}

// Recoverable reports whether the file's current gaps can be closed from
// parity alone: at least one shard is missing, and no more than R of them
// are (Reed-Solomon (K, R) tolerates up to R missing shards).
func (l *Layer) Recoverable(chunks *chunklist.ChunkList, fileSize int64) bool {
	missing := l.MissingShards(chunks, fileSize)
	return len(missing) > 0 && len(missing) <= l.R
}

// Reconstruct fills in every nil entry of shards (length must be K+R) from
// the surviving shards and parity. It is a thin pass-through to
// internal/fec.Decoder.Reconstruct — fecx's contribution is deciding when
// this call is worth making, not the erasure-coding math itself.
func (l *Layer) Reconstruct(shards [][]byte) error {
	if len(shards) != l.K+l.R {
		return fmt.Errorf("fecx: expected %d shards (k=%d + r=%d), got %d", l.K+l.R, l.K, l.R, len(shards))
	}
	return l.dec.Reconstruct(shards)
}
