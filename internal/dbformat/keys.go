// Package dbformat defines the internal key format shared by the memtable,
// sorted runs, and compaction.
//
// An internal key is the user key followed by an 8-byte trailer packing
// (sequence << 8 | kind). Internal keys order by user key ascending, then by
// trailer descending, so the newest version of a user key sorts first.
package dbformat

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/rangekv/rangekv/internal/encoding"
)

// SequenceNumber is a monotonically assigned 56-bit write sequence.
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number.
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// TrailerLen is the size of the internal key trailer.
const TrailerLen = 8

// ValueKind identifies what a point record means.
type ValueKind uint8

// Record kinds. The numeric values are part of the run file format.
const (
	KindDelete       ValueKind = 0x00
	KindValue        ValueKind = 0x01
	KindMerge        ValueKind = 0x02
	KindSingleDelete ValueKind = 0x07
	KindRangeDelete  ValueKind = 0x0F
	KindMax          ValueKind = 0x7F
)

// String returns a short name for the kind.
func (k ValueKind) String() string {
	switch k {
	case KindDelete:
		return "DEL"
	case KindValue:
		return "SET"
	case KindMerge:
		return "MERGE"
	case KindSingleDelete:
		return "SINGLEDEL"
	case KindRangeDelete:
		return "RANGEDEL"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// IsPointKind reports whether k is a kind stored in the point-record channel.
func IsPointKind(k ValueKind) bool {
	switch k {
	case KindDelete, KindValue, KindMerge, KindSingleDelete:
		return true
	}
	return false
}

// ErrCorruptKey is returned when an internal key cannot be parsed.
var ErrCorruptKey = errors.New("dbformat: corrupt internal key")

// PackTrailer packs a sequence number and kind into the 64-bit trailer.
func PackTrailer(seq SequenceNumber, kind ValueKind) uint64 {
	return uint64(seq)<<8 | uint64(kind)
}

// UnpackTrailer splits a trailer into sequence number and kind.
func UnpackTrailer(trailer uint64) (SequenceNumber, ValueKind) {
	return SequenceNumber(trailer >> 8), ValueKind(trailer & 0xff)
}

// InternalKey is an encoded internal key: userKey + trailer.
type InternalKey []byte

// MakeInternalKey builds an internal key from its parts.
func MakeInternalKey(userKey []byte, seq SequenceNumber, kind ValueKind) InternalKey {
	k := make([]byte, 0, len(userKey)+TrailerLen)
	k = append(k, userKey...)
	return encoding.AppendFixed64(k, PackTrailer(seq, kind))
}

// UserKey returns the user key portion, or nil if the key is too short.
func (k InternalKey) UserKey() []byte {
	if len(k) < TrailerLen {
		return nil
	}
	return k[:len(k)-TrailerLen]
}

// Seq returns the sequence number from the trailer.
func (k InternalKey) Seq() SequenceNumber {
	if len(k) < TrailerLen {
		return 0
	}
	seq, _ := UnpackTrailer(encoding.DecodeFixed64(k[len(k)-TrailerLen:]))
	return seq
}

// Kind returns the value kind from the trailer.
func (k InternalKey) Kind() ValueKind {
	if len(k) < TrailerLen {
		return KindMax
	}
	_, kind := UnpackTrailer(encoding.DecodeFixed64(k[len(k)-TrailerLen:]))
	return kind
}

// ParsedInternalKey is the decoded form of an internal key.
type ParsedInternalKey struct {
	UserKey []byte
	Seq     SequenceNumber
	Kind    ValueKind
}

// Parse decodes an internal key. The UserKey aliases k.
func Parse(k []byte) (ParsedInternalKey, error) {
	if len(k) < TrailerLen {
		return ParsedInternalKey{}, errors.Wrapf(ErrCorruptKey, "len=%d", len(k))
	}
	seq, kind := UnpackTrailer(encoding.DecodeFixed64(k[len(k)-TrailerLen:]))
	return ParsedInternalKey{UserKey: k[:len(k)-TrailerLen], Seq: seq, Kind: kind}, nil
}

// String renders the key as 'user' @ seq : KIND.
func (p ParsedInternalKey) String() string {
	return fmt.Sprintf("%q @ %d : %s", p.UserKey, p.Seq, p.Kind)
}

// Encode re-encodes the parsed key.
func (p ParsedInternalKey) Encode() InternalKey {
	return MakeInternalKey(p.UserKey, p.Seq, p.Kind)
}

// Comparer defines a strict total order over user keys. It must return a
// negative, zero, or positive value as a sorts before, equal to, or after b.
type Comparer func(a, b []byte) int

// BytewiseComparer orders user keys lexicographically by byte.
func BytewiseComparer(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Uint64Comparer orders 8-byte little-endian encoded uint64 user keys
// numerically. Shorter keys sort before any 8-byte key.
func Uint64Comparer(a, b []byte) int {
	if len(a) < 8 || len(b) < 8 {
		return BytewiseComparer(a, b)
	}
	av := encoding.DecodeFixed64(a)
	bv := encoding.DecodeFixed64(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	}
	return 0
}

// InternalComparer compares encoded internal keys: user key ascending via the
// wrapped Comparer, then trailer descending so higher sequence numbers (and
// higher kinds at equal sequence) sort first.
type InternalComparer struct {
	User Comparer
}

// NewInternalComparer wraps cmp, defaulting to BytewiseComparer.
func NewInternalComparer(cmp Comparer) *InternalComparer {
	if cmp == nil {
		cmp = BytewiseComparer
	}
	return &InternalComparer{User: cmp}
}

// Compare compares two encoded internal keys.
func (c *InternalComparer) Compare(a, b []byte) int {
	ak, bk := InternalKey(a).UserKey(), InternalKey(b).UserKey()
	if ak == nil {
		ak = a
	}
	if bk == nil {
		bk = b
	}
	if v := c.User(ak, bk); v != 0 {
		return v
	}
	if len(a) >= TrailerLen && len(b) >= TrailerLen {
		at := encoding.DecodeFixed64(a[len(a)-TrailerLen:])
		bt := encoding.DecodeFixed64(b[len(b)-TrailerLen:])
		switch {
		case at > bt:
			return -1
		case at < bt:
			return 1
		}
	}
	return 0
}
