// Package options holds engine configuration: table format, compression,
// shard count, and the ambient logger/statistics handles. Scalar settings can
// be loaded from a YAML file.
package options

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"

	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/logging"
	"github.com/rangekv/rangekv/internal/stats"
)

// TableFormat selects the sorted-run encoding. Only the block-based format
// carries a dedicated range-tombstone channel; issuing DeleteRange against a
// plain-format engine fails with ErrNotSupported, checked once at Open.
type TableFormat int

const (
	// FormatBlockBased is the default format: compressed blocks, separate
	// point and tombstone channels.
	FormatBlockBased TableFormat = iota
	// FormatPlain is a minimal format without a tombstone channel.
	FormatPlain
)

// SupportsRangeTombstones reports whether the format has a tombstone channel.
func (f TableFormat) SupportsRangeTombstones() bool {
	return f == FormatBlockBased
}

// String returns the format name used in YAML files.
func (f TableFormat) String() string {
	switch f {
	case FormatBlockBased:
		return "block-based"
	case FormatPlain:
		return "plain"
	default:
		return "unknown"
	}
}

// CompressionType selects the block compression algorithm.
type CompressionType int

const (
	// NoCompression stores blocks raw.
	NoCompression CompressionType = iota
	// SnappyCompression is the default.
	SnappyCompression
	// LZ4Compression uses LZ4 block compression.
	LZ4Compression
	// ZstdCompression uses Zstandard.
	ZstdCompression
)

// String returns the compression name used in YAML files and run footers.
func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case LZ4Compression:
		return "lz4"
	case ZstdCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

// ErrBadOption is returned for unparseable option values.
var ErrBadOption = errors.New("options: invalid value")

// MergeOperator combines merge operands into a final value, during reads and
// during compaction.
type MergeOperator interface {
	// FullMerge combines operands (oldest first) with an optional existing
	// base value. existing is nil when no base value survives. The second
	// return value reports success; failure aborts the surrounding
	// operation.
	FullMerge(key, existing []byte, operands [][]byte) ([]byte, bool)
}

// Options configures an engine instance.
type Options struct {
	// TableFormat selects the run encoding. FormatPlain rejects DeleteRange.
	TableFormat TableFormat

	// Compression is applied to run blocks.
	Compression CompressionType

	// MaxShards caps concurrent shards per compaction. Values < 1 mean 1.
	MaxShards int

	// TargetFileSize is the soft output size at which a compaction shard
	// rolls to a new output file.
	TargetFileSize int64

	// BloomBitsPerKey sizes the Bloom filter written into each run over its
	// point user keys. Zero or negative disables filters.
	BloomBitsPerKey int

	// BlockCacheSize is the capacity in bytes of the shared cache of
	// decoded run blocks. Zero or negative disables the cache.
	BlockCacheSize int64

	// Comparer orders user keys. Defaults to dbformat.BytewiseComparer.
	Comparer dbformat.Comparer

	// Merge resolves merge-operand chains. Nil rejects Merge writes.
	Merge MergeOperator

	// Logger receives engine logs. Defaults to a WARN stderr logger.
	Logger logging.Logger

	// Stats receives ticker counts. Nil disables collection.
	Stats *stats.Statistics
}

// Default returns the baseline options.
func Default() *Options {
	return &Options{
		TableFormat:     FormatBlockBased,
		Compression:     SnappyCompression,
		MaxShards:       4,
		TargetFileSize:  8 << 20,
		BloomBitsPerKey: 10,
		BlockCacheSize:  8 << 20,
		Comparer:        dbformat.BytewiseComparer,
		Logger:          logging.NewDefaultLogger(logging.LevelWarn),
	}
}

// EnsureDefaults fills unset fields in place and returns o.
func (o *Options) EnsureDefaults() *Options {
	if o.MaxShards < 1 {
		o.MaxShards = 1
	}
	if o.TargetFileSize <= 0 {
		o.TargetFileSize = 8 << 20
	}
	if o.Comparer == nil {
		o.Comparer = dbformat.BytewiseComparer
	}
	o.Logger = logging.OrDefault(o.Logger)
	return o
}

// fileOptions is the YAML shape of an options file.
type fileOptions struct {
	TableFormat     string `yaml:"table-format"`
	Compression     string `yaml:"compression"`
	MaxShards       int    `yaml:"max-shards"`
	TargetFileSize  int64  `yaml:"target-file-size"`
	BloomBitsPerKey *int   `yaml:"bloom-bits-per-key"`
	BlockCacheSize  *int64 `yaml:"block-cache-size"`
}

// LoadFile reads scalar options from a YAML file and overlays them on top of
// the defaults.
func LoadFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "options: read %s", path)
	}
	var f fileOptions
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "options: parse %s", path)
	}

	o := Default()
	switch f.TableFormat {
	case "", "block-based":
		o.TableFormat = FormatBlockBased
	case "plain":
		o.TableFormat = FormatPlain
	default:
		return nil, errors.Wrapf(ErrBadOption, "table-format %q", f.TableFormat)
	}
	switch f.Compression {
	case "", "snappy":
		o.Compression = SnappyCompression
	case "none":
		o.Compression = NoCompression
	case "lz4":
		o.Compression = LZ4Compression
	case "zstd":
		o.Compression = ZstdCompression
	default:
		return nil, errors.Wrapf(ErrBadOption, "compression %q", f.Compression)
	}
	if f.MaxShards != 0 {
		o.MaxShards = f.MaxShards
	}
	if f.TargetFileSize != 0 {
		o.TargetFileSize = f.TargetFileSize
	}
	if f.BloomBitsPerKey != nil {
		o.BloomBitsPerKey = *f.BloomBitsPerKey
	}
	if f.BlockCacheSize != nil {
		o.BlockCacheSize = *f.BlockCacheSize
	}
	return o.EnsureDefaults(), nil
}
