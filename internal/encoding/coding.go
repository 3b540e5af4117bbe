// Package encoding provides the binary primitives used by the sorted-run
// codec: little-endian fixed-width integers and 7-bit varints with MSB
// continuation, plus length-prefixed byte slices built on top of them.
package encoding

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// MaxVarint64Length is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Length = 10

var (
	// ErrVarintTruncated is returned when a varint runs past the end of the
	// buffer without terminating.
	ErrVarintTruncated = errors.New("encoding: truncated varint")

	// ErrSliceTruncated is returned when a length-prefixed slice claims more
	// bytes than the buffer holds.
	ErrSliceTruncated = errors.New("encoding: truncated length-prefixed slice")
)

// EncodeFixed32 encodes v into the first 4 bytes of dst, little-endian.
func EncodeFixed32(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst, v)
}

// DecodeFixed32 decodes a little-endian uint32 from the first 4 bytes of src.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// EncodeFixed64 encodes v into the first 8 bytes of dst, little-endian.
func EncodeFixed64(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}

// DecodeFixed64 decodes a little-endian uint64 from the first 8 bytes of src.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendFixed32 appends the 4-byte little-endian encoding of v to dst.
func AppendFixed32(dst []byte, v uint32) []byte {
	var buf [4]byte
	EncodeFixed32(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendFixed64 appends the 8-byte little-endian encoding of v to dst.
func AppendFixed64(dst []byte, v uint64) []byte {
	var buf [8]byte
	EncodeFixed64(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendVarint64 appends the varint encoding of v to dst.
func AppendVarint64(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// DecodeVarint64 decodes a varint from src. It returns the value and the
// number of bytes consumed.
func DecodeVarint64(src []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, b := range src {
		if i >= MaxVarint64Length {
			break
		}
		if b < 0x80 {
			return v | uint64(b)<<shift, i + 1, nil
		}
		v |= uint64(b&0x7f) << shift
		shift += 7
	}
	return 0, 0, ErrVarintTruncated
}

// AppendLengthPrefixed appends a varint length followed by the slice bytes.
func AppendLengthPrefixed(dst, s []byte) []byte {
	dst = AppendVarint64(dst, uint64(len(s)))
	return append(dst, s...)
}

// DecodeLengthPrefixed decodes a length-prefixed slice from src. The returned
// slice aliases src. It returns the slice and the number of bytes consumed.
func DecodeLengthPrefixed(src []byte) ([]byte, int, error) {
	n, consumed, err := DecodeVarint64(src)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(src)-consumed) < n {
		return nil, 0, ErrSliceTruncated
	}
	return src[consumed : consumed+int(n)], consumed + int(n), nil
}
