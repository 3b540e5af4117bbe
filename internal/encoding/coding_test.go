package encoding

import (
	"bytes"
	"errors"
	"testing"
)

func TestFixedRoundTrip(t *testing.T) {
	var buf [8]byte
	for _, v := range []uint64{0, 1, 0xff, 0x1234, 0xdeadbeef, 1<<56 - 1, ^uint64(0)} {
		EncodeFixed64(buf[:], v)
		if got := DecodeFixed64(buf[:]); got != v {
			t.Errorf("DecodeFixed64 = %d, want %d", got, v)
		}
	}
	for _, v := range []uint32{0, 1, 0xffff, 0xdeadbeef} {
		EncodeFixed32(buf[:4], v)
		if got := DecodeFixed32(buf[:4]); got != v {
			t.Errorf("DecodeFixed32 = %d, want %d", got, v)
		}
	}
}

func TestVarint64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 14, 1 << 21, 1 << 42, ^uint64(0)}
	for _, v := range values {
		enc := AppendVarint64(nil, v)
		got, n, err := DecodeVarint64(enc)
		if err != nil {
			t.Fatalf("DecodeVarint64(%d): %v", v, err)
		}
		if got != v || n != len(enc) {
			t.Errorf("DecodeVarint64 = (%d, %d), want (%d, %d)", got, n, v, len(enc))
		}
	}
}

func TestVarint64Truncated(t *testing.T) {
	enc := AppendVarint64(nil, 1<<42)
	_, _, err := DecodeVarint64(enc[:2])
	if !errors.Is(err, ErrVarintTruncated) {
		t.Errorf("err = %v, want ErrVarintTruncated", err)
	}
}

func TestLengthPrefixed(t *testing.T) {
	payload := []byte("range deletion")
	enc := AppendLengthPrefixed(nil, payload)
	enc = AppendLengthPrefixed(enc, nil)

	got, n, err := DecodeLengthPrefixed(enc)
	if err != nil {
		t.Fatalf("DecodeLengthPrefixed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("slice = %q, want %q", got, payload)
	}

	got, _, err = DecodeLengthPrefixed(enc[n:])
	if err != nil {
		t.Fatalf("DecodeLengthPrefixed(empty): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty slice has len %d", len(got))
	}
}

func TestLengthPrefixedTruncated(t *testing.T) {
	enc := AppendLengthPrefixed(nil, []byte("abcdef"))
	_, _, err := DecodeLengthPrefixed(enc[:3])
	if !errors.Is(err, ErrSliceTruncated) {
		t.Errorf("err = %v, want ErrSliceTruncated", err)
	}
}
