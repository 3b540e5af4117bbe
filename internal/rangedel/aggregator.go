package rangedel

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/rangekv/rangekv/internal/dbformat"
)

// ErrCorruption is returned when a tombstone stream violates its ordering
// invariant. It is fatal to the operation that ingested the stream.
var ErrCorruption = errors.New("rangedel: corrupt tombstone stream")

// ReadAggregator combines tombstones from multiple sources (memtable, files)
// to answer coverage queries on the read path. Tombstones with sequence
// numbers above the read ceiling are invisible, which gives snapshot reads a
// consistent historical view.
type ReadAggregator struct {
	cmp     dbformat.Comparer
	ceiling dbformat.SequenceNumber
	lists   []*FragmentList
}

// NewReadAggregator returns an aggregator for a read at the given sequence
// ceiling.
func NewReadAggregator(cmp dbformat.Comparer, ceiling dbformat.SequenceNumber) *ReadAggregator {
	return &ReadAggregator{cmp: cmp, ceiling: ceiling}
}

// AddList adds a source's fragmented tombstones.
func (a *ReadAggregator) AddList(list *FragmentList) {
	if !list.IsEmpty() {
		a.lists = append(a.lists, list)
	}
}

// AddTombstones fragments and adds a source's raw tombstones.
func (a *ReadAggregator) AddTombstones(tombstones []Tombstone) {
	a.AddList(Fragment(a.cmp, tombstones))
}

// IsEmpty reports whether no tombstones were added.
func (a *ReadAggregator) IsEmpty() bool {
	return len(a.lists) == 0
}

// Covers reports whether any visible tombstone deletes a record at
// (key, seq).
func (a *ReadAggregator) Covers(key []byte, seq dbformat.SequenceNumber) bool {
	for _, l := range a.lists {
		if l.Covers(key, seq, a.ceiling) {
			return true
		}
	}
	return false
}

// MaxCoveringSeq returns the highest visible tombstone sequence covering key.
func (a *ReadAggregator) MaxCoveringSeq(key []byte) (dbformat.SequenceNumber, bool) {
	var best dbformat.SequenceNumber
	found := false
	for _, l := range a.lists {
		if s, ok := l.MaxCoveringSeq(key, a.ceiling); ok && s > best {
			best, found = s, true
		}
	}
	return best, found
}

// CompactionAggregator ingests the tombstone streams of a compaction's input
// runs and serves coverage queries during the merge, then produces the
// surviving tombstone set for the output.
//
// Coverage queries must arrive in non-decreasing user-key order; the
// aggregator advances a sweep position over its fragments instead of
// re-searching per query. Each instance is owned by a single shard and is not
// safe for concurrent use.
type CompactionAggregator struct {
	cmp dbformat.Comparer

	// oldestSnapshot is the lowest pinned snapshot sampled at job start, or
	// dbformat.MaxSequenceNumber when nothing is pinned. A tombstone may be
	// dropped from a bottommost output only if its sequence does not exceed
	// this value.
	oldestSnapshot dbformat.SequenceNumber

	// lower/upper restrict this shard's output interval; nil bounds are open.
	// Coverage queries are only made for keys inside the interval, but the
	// ingested tombstones may extend beyond it.
	lower, upper []byte

	ingested []Tombstone
	frags    *FragmentList
	built    bool
	sweep    int
}

// NewCompactionAggregator returns an aggregator for one compaction shard.
func NewCompactionAggregator(cmp dbformat.Comparer, oldestSnapshot dbformat.SequenceNumber, lower, upper []byte) *CompactionAggregator {
	return &CompactionAggregator{
		cmp:            cmp,
		oldestSnapshot: oldestSnapshot,
		lower:          lower,
		upper:          upper,
	}
}

// AddStream ingests one input run's tombstones, which must be sorted by start
// key ascending. A violation is reported as ErrCorruption and aborts the
// compaction.
func (a *CompactionAggregator) AddStream(tombstones []Tombstone) error {
	if a.built {
		return errors.AssertionFailedf("rangedel: AddStream after first coverage query")
	}
	for i := 1; i < len(tombstones); i++ {
		if a.cmp(tombstones[i].Start, tombstones[i-1].Start) < 0 {
			return errors.Wrapf(ErrCorruption,
				"start key %q after %q", tombstones[i].Start, tombstones[i-1].Start)
		}
	}
	a.ingested = append(a.ingested, tombstones...)
	return nil
}

// IsEmpty reports whether no tombstones were ingested.
func (a *CompactionAggregator) IsEmpty() bool {
	return len(a.ingested) == 0
}

func (a *CompactionAggregator) build() {
	if a.built {
		return
	}
	sort.SliceStable(a.ingested, func(i, j int) bool {
		return Compare(a.cmp, a.ingested[i], a.ingested[j]) < 0
	})
	a.frags = Fragment(a.cmp, a.ingested)
	a.sweep = 0
	a.built = true
}

// Covers reports whether a record at (key, seq) is deleted by an ingested
// tombstone. Keys must be queried in non-decreasing order.
func (a *CompactionAggregator) Covers(key []byte, seq dbformat.SequenceNumber) bool {
	s, ok := a.MaxCoveringSeq(key)
	return ok && seq < s
}

// MaxCoveringSeq returns the highest tombstone sequence covering key at the
// current sweep position. Keys must be queried in non-decreasing order.
func (a *CompactionAggregator) MaxCoveringSeq(key []byte) (dbformat.SequenceNumber, bool) {
	a.build()
	frags := a.frags.All()
	for a.sweep < len(frags) && a.cmp(frags[a.sweep].End, key) <= 0 {
		a.sweep++
	}
	if a.sweep >= len(frags) {
		return 0, false
	}
	if f := frags[a.sweep]; f.Contains(a.cmp, key) {
		return f.Seq, true
	}
	return 0, false
}

// Surviving returns the tombstones to persist into this shard's output,
// clamped to the shard interval and in (start asc, seq desc) order, plus the
// number dropped as obsolete.
//
// A tombstone is obsolete once the output is bottommost for its range (no
// lower level holds data it must keep suppressing) and its sequence does not
// exceed the oldest pinned snapshot. When the output is not bottommost every
// ingested tombstone is carried through unchanged as an ordered multiset;
// fragments are never merged into wider intervals.
func (a *CompactionAggregator) Surviving(bottommost bool) (kept []Tombstone, obsolete int) {
	a.build()
	for _, t := range a.ingested {
		clamped, ok := t.Clamp(a.cmp, a.lower, a.upper)
		if !ok {
			continue
		}
		if bottommost && t.Seq <= a.oldestSnapshot {
			// A tombstone straddling shard intervals is ingested by every
			// shard that overlaps it; only the shard holding its start key
			// counts the drop, so the total is one per tombstone.
			if a.cmp(clamped.Start, t.Start) == 0 {
				obsolete++
			}
			continue
		}
		kept = append(kept, clamped)
	}
	// Clamping can collapse distinct start keys onto the shard's lower
	// bound, so the ingestion order no longer holds for the clamped set.
	sort.SliceStable(kept, func(i, j int) bool {
		return Compare(a.cmp, kept[i], kept[j]) < 0
	})
	return kept, obsolete
}
