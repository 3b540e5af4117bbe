// Package filter implements the Bloom filters embedded in run files. A
// filter is built over a run's point user keys; a negative MayContain lets a
// point lookup skip the run entirely.
//
// The layout is cache-local: all probes for a key land in one 64-byte block
// of the filter, selected by the upper hash half. The encoded filter carries
// a two-byte trailer with the probe count and a format marker.
package filter

import (
	"github.com/zeebo/xxh3"
)

const (
	blockSize = 64
	blockBits = blockSize * 8

	trailerLen   = 2
	formatMarker = byte(0xb1)
)

// Builder accumulates key hashes and encodes a filter.
type Builder struct {
	bitsPerKey int
	hashes     []uint64
}

// NewBuilder returns a Builder targeting bitsPerKey filter bits per added
// key. Around 10 bits per key yields a roughly 1% false positive rate.
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return &Builder{bitsPerKey: bitsPerKey}
}

// Add records one key. Duplicate keys are harmless.
func (b *Builder) Add(key []byte) {
	b.hashes = append(b.hashes, xxh3.Hash(key))
}

// Len returns the number of keys added.
func (b *Builder) Len() int {
	return len(b.hashes)
}

// Finish encodes the filter and resets the builder. The result is nil when
// no keys were added.
func (b *Builder) Finish() []byte {
	n := len(b.hashes)
	if n == 0 {
		return nil
	}

	totalBits := n * b.bitsPerKey
	blocks := (totalBits + blockBits - 1) / blockBits
	probes := numProbes(b.bitsPerKey)

	data := make([]byte, blocks*blockSize+trailerLen)
	bits := data[:blocks*blockSize]
	for _, h := range b.hashes {
		addHash(h, bits, probes)
	}
	data[len(data)-2] = byte(probes)
	data[len(data)-1] = formatMarker

	b.hashes = b.hashes[:0]
	return data
}

// Filter is a decoded filter ready for lookups.
type Filter struct {
	bits   []byte
	probes int
}

// Decode parses an encoded filter. It returns nil for empty or unrecognized
// data; a nil *Filter rejects nothing.
func Decode(data []byte) *Filter {
	if len(data) < blockSize+trailerLen {
		return nil
	}
	if data[len(data)-1] != formatMarker {
		return nil
	}
	probes := int(data[len(data)-2])
	bits := data[:len(data)-trailerLen]
	if probes < 1 || len(bits)%blockSize != 0 {
		return nil
	}
	return &Filter{bits: bits, probes: probes}
}

// MayContain reports whether key may have been added to the filter. False
// means the key definitely was not added. A nil receiver reports true, so a
// missing filter never filters.
func (f *Filter) MayContain(key []byte) bool {
	if f == nil {
		return true
	}
	h := xxh3.Hash(key)
	h1, h2 := uint32(h), uint32(h>>32)
	block := blockOf(h1, f.bits)
	probe := h2
	for i := 0; i < f.probes; i++ {
		bitpos := probe >> (32 - 9)
		if block[bitpos>>3]&(1<<(bitpos&7)) == 0 {
			return false
		}
		probe *= 0x9e3779b9
	}
	return true
}

func addHash(h uint64, bits []byte, probes int) {
	h1, h2 := uint32(h), uint32(h>>32)
	block := blockOf(h1, bits)
	probe := h2
	for i := 0; i < probes; i++ {
		bitpos := probe >> (32 - 9)
		block[bitpos>>3] |= 1 << (bitpos & 7)
		probe *= 0x9e3779b9
	}
}

// blockOf selects the key's 64-byte block via a multiply-shift range
// reduction of the lower hash half.
func blockOf(h1 uint32, bits []byte) []byte {
	numBlocks := uint32(len(bits) / blockSize)
	off := uint32((uint64(h1)*uint64(numBlocks))>>32) * blockSize
	return bits[off : off+blockSize]
}

// numProbes picks the probe count for a bits-per-key budget. The steps
// approximate the information-optimal k = ln2 * bitsPerKey.
func numProbes(bitsPerKey int) int {
	switch {
	case bitsPerKey <= 2:
		return 1
	case bitsPerKey <= 3:
		return 2
	case bitsPerKey <= 5:
		return 3
	case bitsPerKey <= 6:
		return 4
	case bitsPerKey <= 8:
		return 5
	case bitsPerKey <= 10:
		return 6
	case bitsPerKey <= 11:
		return 7
	case bitsPerKey <= 14:
		return 8
	case bitsPerKey <= 16:
		return 9
	case bitsPerKey <= 18:
		return 10
	case bitsPerKey <= 22:
		return 11
	case bitsPerKey <= 25:
		return 12
	default:
		return 24
	}
}
