// Package rangedel implements range deletion (DeleteRange) support.
//
// A range deletion stores a tombstone marking every key in [Start, End) as
// deleted as of a sequence number. Reads skip covered keys; compaction drops
// covered point records and merge operands, and eventually the tombstones
// themselves once no snapshot or lower level can observe them.
//
// Key pieces:
//   - Tombstone: a single [Start, End) range at a sequence number
//   - Fragmenter / FragmentList: non-overlapping fragments for lookup
//   - ReadAggregator: combines per-source tombstones for the read path
//   - CompactionAggregator: sweep-based coverage plus the retention policy
//     applied when writing a compaction's output
package rangedel

import (
	"fmt"

	"github.com/rangekv/rangekv/internal/dbformat"
)

// Tombstone is a range deletion covering user keys in [Start, End) with
// record sequence numbers strictly below Seq. A tombstone with Start == End
// is degenerate: it is accepted and carried through flush and compaction but
// never suppresses anything.
type Tombstone struct {
	Start []byte
	End   []byte
	Seq   dbformat.SequenceNumber
}

// Make builds a tombstone, copying both keys.
func Make(start, end []byte, seq dbformat.SequenceNumber) Tombstone {
	return Tombstone{
		Start: append([]byte(nil), start...),
		End:   append([]byte(nil), end...),
		Seq:   seq,
	}
}

// Degenerate reports whether the tombstone covers no keys.
func (t Tombstone) Degenerate(cmp dbformat.Comparer) bool {
	return cmp(t.Start, t.End) >= 0
}

// Contains reports whether key falls within [Start, End).
func (t Tombstone) Contains(cmp dbformat.Comparer, key []byte) bool {
	return cmp(key, t.Start) >= 0 && cmp(key, t.End) < 0
}

// Covers reports whether the tombstone deletes a record with the given user
// key and sequence number.
func (t Tombstone) Covers(cmp dbformat.Comparer, key []byte, seq dbformat.SequenceNumber) bool {
	return t.Contains(cmp, key) && seq < t.Seq
}

// Overlaps reports whether two tombstone ranges intersect.
func (t Tombstone) Overlaps(cmp dbformat.Comparer, o Tombstone) bool {
	return cmp(t.Start, o.End) < 0 && cmp(o.Start, t.End) < 0
}

// Clamp restricts the tombstone to [lower, upper). A nil bound is open. The
// second result is false when nothing of the tombstone remains in bounds. A
// degenerate tombstone is kept iff its start key lies inside the bounds.
func (t Tombstone) Clamp(cmp dbformat.Comparer, lower, upper []byte) (Tombstone, bool) {
	if t.Degenerate(cmp) {
		if lower != nil && cmp(t.Start, lower) < 0 {
			return Tombstone{}, false
		}
		if upper != nil && cmp(t.Start, upper) >= 0 {
			return Tombstone{}, false
		}
		return t, true
	}
	out := t
	if lower != nil && cmp(out.Start, lower) < 0 {
		if cmp(out.End, lower) <= 0 {
			return Tombstone{}, false
		}
		out.Start = append([]byte(nil), lower...)
	}
	if upper != nil && cmp(out.End, upper) > 0 {
		if cmp(out.Start, upper) >= 0 {
			return Tombstone{}, false
		}
		out.End = append([]byte(nil), upper...)
	}
	return out, true
}

// Compare orders tombstones by start key ascending, then sequence number
// descending.
func Compare(cmp dbformat.Comparer, a, b Tombstone) int {
	if v := cmp(a.Start, b.Start); v != 0 {
		return v
	}
	switch {
	case a.Seq > b.Seq:
		return -1
	case a.Seq < b.Seq:
		return 1
	}
	return 0
}

// String renders the tombstone for logs and test failures.
func (t Tombstone) String() string {
	return fmt.Sprintf("[%q, %q)#%d", t.Start, t.End, t.Seq)
}
