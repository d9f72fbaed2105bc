// Package sstable implements the engine's immutable on-disk sorted-run
// format: writer, memory-mapped reader, and the two-tier read cache.
package sstable

import (
	"fmt"

	lsmerrors "lsmkv/pkg/errors"
)

// Magic is the footer's little-endian magic number.
const Magic uint64 = 0x1145_1419_1981_FEE1

// Block type tags recorded in the header block.
const (
	BlockTypeIndex       = 1
	BlockTypeBloomFilter = 2
)

// AnchorInterval is how many non-anchor records may appear between index
// anchors before a fresh anchor is forced.
const AnchorInterval = 50

// StagingBufferSize is the writer's default write-combining buffer size.
const StagingBufferSize = 4 << 20 // 4 MiB

// PrefetchCap bounds how many records cache_lookaside warms per hit.
const PrefetchCap = 8

// CacheReadCapacity and CacheLookasideCapacity are the two-tier cache's
// default sizes.
const (
	CacheReadCapacity      = 2048
	CacheLookasideCapacity = 256
)

// ErrCorrupt wraps any detected on-disk corruption: missing magic, unknown
// header tag, index entry pointing at a compressed record, Bloom filter
// size mismatch, or varuint overrun.
type ErrCorrupt struct {
	Reason string
}

func (e *ErrCorrupt) Error() string { return fmt.Sprintf("sstable: corrupt: %s", e.Reason) }

// Unwrap makes errors.Is(err, lsmerrors.ErrCorruptSSTable) hold for an ErrCorrupt.
func (e *ErrCorrupt) Unwrap() error { return lsmerrors.ErrCorruptSSTable }

func corrupt(format string, args ...any) error {
	return &ErrCorrupt{Reason: fmt.Sprintf(format, args...)}
}
