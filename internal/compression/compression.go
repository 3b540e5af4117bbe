// Package compression compresses and decompresses run blocks.
package compression

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/rangekv/rangekv/internal/options"
)

// Compress returns data compressed with t. With NoCompression the input is
// returned as is.
func Compress(t options.CompressionType, data []byte) ([]byte, error) {
	switch t {
	case options.NoCompression:
		return data, nil

	case options.SnappyCompression:
		return snappy.Encode(nil, data), nil

	case options.LZ4Compression:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, errors.Wrap(err, "lz4 write")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "lz4 close")
		}
		return buf.Bytes(), nil

	case options.ZstdCompression:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, errors.Wrap(err, "zstd encoder")
		}
		out := enc.EncodeAll(data, nil)
		if err := enc.Close(); err != nil {
			return nil, errors.Wrap(err, "zstd close")
		}
		return out, nil
	}
	return nil, errors.Newf("unsupported compression type %v", t)
}

// Decompress reverses Compress.
func Decompress(t options.CompressionType, data []byte) ([]byte, error) {
	switch t {
	case options.NoCompression:
		return data, nil

	case options.SnappyCompression:
		out, err := snappy.Decode(nil, data)
		return out, errors.Wrap(err, "snappy decode")

	case options.LZ4Compression:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		return out, errors.Wrap(err, "lz4 decode")

	case options.ZstdCompression:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "zstd decoder")
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		return out, errors.Wrap(err, "zstd decode")
	}
	return nil, errors.Newf("unsupported compression type %v", t)
}
