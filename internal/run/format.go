// Package run encodes and decodes sorted runs: immutable files holding a
// point-record channel and a range-tombstone channel, plus boundary
// metadata. Blocks are individually compressed and checksummed.
package run

import (
	"github.com/cockroachdb/errors"

	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/options"
)

// File layout:
//
//	point block 0 .. point block n-1
//	tombstone block                   (absent when there are no tombstones)
//	filter block                      (absent when filters are disabled)
//	meta block                        (counts, boundaries, block handles)
//	index block                       (handles of the point blocks)
//	footer                            (fixed size, last in the file)
//
// Every block, meta and index included, carries a one-byte compression
// type and an 8-byte XXH3 checksum of the compressed payload plus the
// type byte. The meta, index and filter blocks are never compressed.
const (
	blockTrailerLen = 9

	// footer: meta handle (2x fixed64), index handle (2x fixed64),
	// format version (fixed32), magic (fixed64).
	footerLen = 4*8 + 4 + 8

	formatVersion = 1
	magic         = 0x72616e67656b7672 // "rangekvr"

	defaultBlockSize = 4 << 10
)

var (
	// ErrCorruption reports a malformed or checksum-failing run file.
	ErrCorruption = errors.New("run: corruption")

	// ErrClosed reports use of a finished writer.
	ErrClosed = errors.New("run: writer already finished")
)

// Meta describes a finished run. Smallest is an internal key. Largest is a
// user-key boundary: exclusive when the run's upper bound comes from a
// range tombstone end rather than a point key.
type Meta struct {
	Smallest       dbformat.InternalKey
	Largest        dbformat.Boundary
	PointCount     uint64
	TombstoneCount uint64
	Size           int64
}

// blockHandle locates a block within the file.
type blockHandle struct {
	offset uint64
	length uint64 // compressed payload length, excluding the trailer
}

func compressionByte(c options.CompressionType) byte {
	switch c {
	case options.SnappyCompression:
		return 1
	case options.LZ4Compression:
		return 2
	case options.ZstdCompression:
		return 3
	default:
		return 0
	}
}

func compressionFromByte(b byte) (options.CompressionType, error) {
	switch b {
	case 0:
		return options.NoCompression, nil
	case 1:
		return options.SnappyCompression, nil
	case 2:
		return options.LZ4Compression, nil
	case 3:
		return options.ZstdCompression, nil
	}
	return 0, errors.Wrapf(ErrCorruption, "unknown compression byte %#x", b)
}
