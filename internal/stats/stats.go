// Package stats collects engine counters. Tickers are cheap atomic counters
// keyed by TickerType; a Prometheus collector exposes them for scraping.
package stats

import (
	"sync/atomic"
)

// TickerType identifies a counter.
type TickerType int

const (
	// TickerNumberKeysWritten is the count of point records written.
	TickerNumberKeysWritten TickerType = iota
	// TickerNumberKeysRead is the count of Get calls that found a value.
	TickerNumberKeysRead
	// TickerNumberRangeDeletesWritten is the count of DeleteRange calls accepted.
	TickerNumberRangeDeletesWritten
	// TickerFlushWriteBytes is bytes written by flush.
	TickerFlushWriteBytes
	// TickerCompactReadBytes is bytes read by compaction.
	TickerCompactReadBytes
	// TickerCompactWriteBytes is bytes written by compaction.
	TickerCompactWriteBytes
	// TickerCompactionKeyDropNewerEntry is keys dropped because a newer entry
	// for the same user key was already emitted.
	TickerCompactionKeyDropNewerEntry
	// TickerCompactionKeyDropObsolete is deletions dropped at the bottommost
	// level with no snapshot needing them.
	TickerCompactionKeyDropObsolete
	// TickerCompactionKeyDropRangeDel is point records and merge operands
	// dropped because a range tombstone covered them.
	TickerCompactionKeyDropRangeDel
	// TickerCompactionRangeDelDropObsolete is range tombstones dropped as
	// obsolete during compaction to the bottommost level.
	TickerCompactionRangeDelDropObsolete
	// TickerBloomFilterUseful is point lookups that skipped a run because
	// its Bloom filter excluded the key.
	TickerBloomFilterUseful
	// TickerBlockCacheHit is run blocks served from the block cache.
	TickerBlockCacheHit
	// TickerBlockCacheMiss is run blocks decoded because the block cache
	// had no entry.
	TickerBlockCacheMiss

	// TickerEnumMax sizes ticker arrays.
	TickerEnumMax
)

// String returns the dotted metric name of the ticker.
func (t TickerType) String() string {
	names := []string{
		"rangekv.number.keys.written",
		"rangekv.number.keys.read",
		"rangekv.number.range-deletes.written",
		"rangekv.flush.write.bytes",
		"rangekv.compact.read.bytes",
		"rangekv.compact.write.bytes",
		"rangekv.compaction.key.drop.newer-entry",
		"rangekv.compaction.key.drop.obsolete",
		"rangekv.compaction.key.drop.range-del",
		"rangekv.compaction.range-del.drop.obsolete",
		"rangekv.bloom.filter.useful",
		"rangekv.block.cache.hit",
		"rangekv.block.cache.miss",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "unknown"
}

// Statistics accumulates ticker counts. All methods are safe for concurrent
// use. A nil *Statistics is valid and drops all recordings.
type Statistics struct {
	tickers [TickerEnumMax]atomic.Uint64
}

// New returns an empty Statistics.
func New() *Statistics {
	return &Statistics{}
}

// RecordTick adds count to the ticker.
func (s *Statistics) RecordTick(t TickerType, count uint64) {
	if s == nil || t < 0 || t >= TickerEnumMax {
		return
	}
	s.tickers[t].Add(count)
}

// GetTickerCount returns the current value of the ticker.
func (s *Statistics) GetTickerCount(t TickerType) uint64 {
	if s == nil || t < 0 || t >= TickerEnumMax {
		return 0
	}
	return s.tickers[t].Load()
}

// Reset zeroes all tickers.
func (s *Statistics) Reset() {
	if s == nil {
		return
	}
	for i := range s.tickers {
		s.tickers[i].Store(0)
	}
}
