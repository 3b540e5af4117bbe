package rangedel

import (
	"sort"

	"github.com/rangekv/rangekv/internal/dbformat"
)

// fragment is one non-overlapping interval together with every distinct
// sequence number of the tombstones that cover it, sorted descending. Reads at
// a sequence ceiling pick the first entry at or below the ceiling, so an older
// tombstone keeps working for snapshots that cannot see a newer one over the
// same range.
type fragment struct {
	start, end []byte
	seqs       []dbformat.SequenceNumber
}

// FragmentList holds non-overlapping tombstone fragments sorted by start key.
// A key lookup is a single binary search over the fragments followed by a scan
// of the matching fragment's sequence numbers.
type FragmentList struct {
	cmp       dbformat.Comparer
	fragments []fragment
	flat      []Tombstone
}

// Len returns the number of flattened tombstones.
func (f *FragmentList) Len() int {
	return len(f.flat)
}

// IsEmpty reports whether the list has no fragments.
func (f *FragmentList) IsEmpty() bool {
	return f == nil || len(f.fragments) == 0
}

// All returns the flattened tombstones, one per (fragment, sequence) pair,
// sorted by start key ascending and sequence descending within a fragment.
func (f *FragmentList) All() []Tombstone {
	if f == nil {
		return nil
	}
	return f.flat
}

// Covers reports whether a record at (key, seq) is deleted by a fragment with
// sequence number at most ceiling. Pass dbformat.MaxSequenceNumber to ignore
// visibility.
func (f *FragmentList) Covers(key []byte, seq, ceiling dbformat.SequenceNumber) bool {
	s, ok := f.coveringSeq(key, ceiling)
	return ok && seq < s
}

// MaxCoveringSeq returns the highest fragment sequence covering key, bounded
// by ceiling.
func (f *FragmentList) MaxCoveringSeq(key []byte, ceiling dbformat.SequenceNumber) (dbformat.SequenceNumber, bool) {
	return f.coveringSeq(key, ceiling)
}

func (f *FragmentList) coveringSeq(key []byte, ceiling dbformat.SequenceNumber) (dbformat.SequenceNumber, bool) {
	if f.IsEmpty() {
		return 0, false
	}
	// Rightmost fragment with start <= key.
	i := sort.Search(len(f.fragments), func(i int) bool {
		return f.cmp(f.fragments[i].start, key) > 0
	}) - 1
	if i < 0 {
		return 0, false
	}
	frag := f.fragments[i]
	if f.cmp(key, frag.end) >= 0 {
		return 0, false
	}
	for _, s := range frag.seqs {
		if s <= ceiling {
			return s, true
		}
	}
	return 0, false
}

// Fragment converts possibly overlapping tombstones into a FragmentList.
// Degenerate tombstones contribute nothing. The algorithm collects every
// distinct start/end key as a boundary, then emits one fragment per adjacent
// boundary pair that at least one tombstone fully covers, carrying the
// distinct sequence numbers of all covering tombstones.
func Fragment(cmp dbformat.Comparer, tombstones []Tombstone) *FragmentList {
	live := make([]Tombstone, 0, len(tombstones))
	for _, t := range tombstones {
		if !t.Degenerate(cmp) {
			live = append(live, t)
		}
	}
	out := &FragmentList{cmp: cmp}
	if len(live) == 0 {
		return out
	}

	boundaries := make([][]byte, 0, 2*len(live))
	for _, t := range live {
		boundaries = append(boundaries, t.Start, t.End)
	}
	sort.Slice(boundaries, func(i, j int) bool {
		return cmp(boundaries[i], boundaries[j]) < 0
	})
	// Dedupe in place.
	uniq := boundaries[:1]
	for _, b := range boundaries[1:] {
		if cmp(uniq[len(uniq)-1], b) != 0 {
			uniq = append(uniq, b)
		}
	}

	for i := 0; i+1 < len(uniq); i++ {
		start, end := uniq[i], uniq[i+1]
		var seqs []dbformat.SequenceNumber
		for _, t := range live {
			if cmp(t.Start, start) <= 0 && cmp(t.End, end) >= 0 {
				seqs = append(seqs, t.Seq)
			}
		}
		if len(seqs) == 0 {
			continue
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
		// Dedupe identical sequence numbers.
		uniqSeqs := seqs[:1]
		for _, s := range seqs[1:] {
			if s != uniqSeqs[len(uniqSeqs)-1] {
				uniqSeqs = append(uniqSeqs, s)
			}
		}
		out.fragments = append(out.fragments, fragment{start: start, end: end, seqs: uniqSeqs})
		for _, s := range uniqSeqs {
			out.flat = append(out.flat, Make(start, end, s))
		}
	}
	return out
}
