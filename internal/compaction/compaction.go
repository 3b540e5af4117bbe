// Package compaction merges sorted runs into new ones. A job is split into
// shards over disjoint key sub-ranges that run in parallel; each shard owns
// a private range-tombstone aggregator and a private output writer, so
// shards never share mutable state. Point records covered by a newer range
// tombstone are dropped, merge-operand chains are truncated at the covering
// sequence, and tombstones themselves are dropped once the bottommost
// output makes them obsolete.
package compaction

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/iterator"
	"github.com/rangekv/rangekv/internal/options"
	"github.com/rangekv/rangekv/internal/rangedel"
	"github.com/rangekv/rangekv/internal/run"
)

// ErrCorruption reports out-of-order input, which means a run or a lower
// layer is damaged. The job aborts without publishing any output.
var ErrCorruption = errors.New("compaction: corruption")

// Source is one input run. Iterators and tombstone decoding must be safe
// to call once per shard.
type Source interface {
	Meta() run.Meta
	NewIterator() (iterator.Iterator, error)
	Tombstones() ([]rangedel.Tombstone, error)
}

// MergeOperator combines merge operands during compaction.
type MergeOperator = options.MergeOperator

// Job describes one compaction over a fixed set of input runs.
type Job struct {
	Sources []Source

	// Snapshots holds the pinned snapshot sequence numbers, ascending.
	// Records and tombstones still visible to a pinned snapshot are
	// never dropped.
	Snapshots []dbformat.SequenceNumber

	// Bottommost reports that the output is the lowest level for the
	// compacted key range; only then may obsolete tombstones and
	// deletion markers be elided.
	Bottommost bool

	// Merge resolves merge-operand chains. Nil passes operands through.
	Merge MergeOperator

	// Create opens an output file for a shard, only when the shard has
	// something to write. A shard whose output grows past
	// Options.TargetFileSize rolls to a new file, so Create may be called
	// several times per shard; creation order is the piece order.
	Create func(shard int) (io.WriteCloser, error)
}

// oldestSnapshot returns the smallest pinned snapshot, or
// MaxSequenceNumber when none is pinned.
func (j *Job) oldestSnapshot() dbformat.SequenceNumber {
	if len(j.Snapshots) == 0 {
		return dbformat.MaxSequenceNumber
	}
	return j.Snapshots[0]
}

// ShardStats counts what one shard read, wrote and dropped.
type ShardStats struct {
	InputRecords       uint64
	OutputRecords      uint64
	DroppedRangeDel    uint64
	DroppedShadowed    uint64
	DroppedObsolete    uint64
	TombstonesKept     uint64
	TombstonesObsolete uint64
}

func (s *ShardStats) add(o ShardStats) {
	s.InputRecords += o.InputRecords
	s.OutputRecords += o.OutputRecords
	s.DroppedRangeDel += o.DroppedRangeDel
	s.DroppedShadowed += o.DroppedShadowed
	s.DroppedObsolete += o.DroppedObsolete
	s.TombstonesKept += o.TombstonesKept
	s.TombstonesObsolete += o.TombstonesObsolete
}

// Output describes one finished output file. Piece numbers a shard's files
// in creation order; the piece carrying the shard's tombstones is always
// piece zero.
type Output struct {
	Shard int
	Piece int
	Meta  run.Meta
}
