package compression

import (
	"bytes"
	"testing"

	"github.com/rangekv/rangekv/internal/options"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("sorted runs compress well "), 64)

	types := []options.CompressionType{
		options.NoCompression,
		options.SnappyCompression,
		options.LZ4Compression,
		options.ZstdCompression,
	}
	for _, typ := range types {
		t.Run(typ.String(), func(t *testing.T) {
			compressed, err := Compress(typ, payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if typ != options.NoCompression && len(compressed) >= len(payload) {
				t.Errorf("repetitive payload did not shrink: %d >= %d", len(compressed), len(payload))
			}
			out, err := Decompress(typ, compressed)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(out, payload) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestDecompressGarbage(t *testing.T) {
	for _, typ := range []options.CompressionType{options.SnappyCompression, options.ZstdCompression} {
		if _, err := Decompress(typ, []byte("not a compressed block")); err == nil {
			t.Errorf("%v: garbage input should fail", typ)
		}
	}
}
