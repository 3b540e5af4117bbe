package rangekv

import (
	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/logging"
	"github.com/rangekv/rangekv/internal/options"
	"github.com/rangekv/rangekv/internal/stats"
)

// Options configures a DB. The zero value is usable; unset fields are filled
// with defaults at Open.
type Options = options.Options

// MergeOperator combines merge operands into a final value. A DB without one
// rejects Merge writes.
type MergeOperator = options.MergeOperator

// Statistics accumulates ticker counts.
type Statistics = stats.Statistics

// StatsCollector adapts Statistics to prometheus.Collector for scraping.
type StatsCollector = stats.Collector

// Logger is the leveled logger consumed by the engine.
type Logger = logging.Logger

// TableFormat selects the sorted-run encoding.
type TableFormat = options.TableFormat

// CompressionType selects the run block compression algorithm.
type CompressionType = options.CompressionType

const (
	// FormatBlockBased is the default run format, with separate point and
	// range-tombstone channels.
	FormatBlockBased = options.FormatBlockBased
	// FormatPlain is a minimal format without a tombstone channel;
	// DeleteRange fails with ErrNotSupported.
	FormatPlain = options.FormatPlain

	// NoCompression stores run blocks raw.
	NoCompression = options.NoCompression
	// SnappyCompression is the default block compression.
	SnappyCompression = options.SnappyCompression
	// LZ4Compression selects LZ4 block compression.
	LZ4Compression = options.LZ4Compression
	// ZstdCompression selects Zstandard block compression.
	ZstdCompression = options.ZstdCompression
)

// Comparer defines a strict total order over user keys.
type Comparer = dbformat.Comparer

var (
	// BytewiseComparer orders user keys lexicographically. The default.
	BytewiseComparer Comparer = dbformat.BytewiseComparer

	// Uint64Comparer orders 8-byte little-endian uint64 keys numerically.
	Uint64Comparer Comparer = dbformat.Uint64Comparer
)

// DefaultOptions returns the baseline options.
func DefaultOptions() *Options {
	return options.Default()
}

// LoadOptions reads scalar options from a YAML file, overlaid on defaults.
func LoadOptions(path string) (*Options, error) {
	return options.LoadFile(path)
}

// NewStatistics returns an empty Statistics to hang on Options.Stats.
func NewStatistics() *Statistics {
	return stats.New()
}

// NewStatsCollector returns a collector over s, ready for registration with
// a prometheus.Registry.
func NewStatsCollector(s *Statistics) *StatsCollector {
	return stats.NewCollector(s)
}

// ReadOptions adjusts a single read.
type ReadOptions struct {
	// Snapshot pins the read to a historical view. Nil reads the latest
	// state.
	Snapshot *Snapshot

	// IgnoreRangeDeletions disables range-tombstone filtering, exposing
	// record versions a tombstone would otherwise suppress. Point
	// deletions still apply. Intended for diagnostics and verification.
	IgnoreRangeDeletions bool
}
