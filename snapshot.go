package rangekv

import (
	"sort"

	"github.com/rangekv/rangekv/internal/dbformat"
)

// Snapshot pins a sequence number, giving reads through it a consistent
// historical view. While pinned, compaction never drops a tombstone or a
// record version the snapshot could still observe. Snapshots must be
// released with ReleaseSnapshot.
type Snapshot struct {
	db  *DB
	seq dbformat.SequenceNumber
}

// Sequence returns the pinned sequence number.
func (s *Snapshot) Sequence() uint64 {
	return uint64(s.seq)
}

// GetSnapshot pins the current write sequence. Returns nil on a closed DB.
func (d *DB) GetSnapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	s := &Snapshot{db: d, seq: d.seq}
	d.snapshots = append(d.snapshots, s)
	return s
}

// ReleaseSnapshot unpins s. Data it protected becomes eligible for
// reclamation by the next compaction. Releasing twice or passing a snapshot
// from another DB is a no-op.
func (d *DB) ReleaseSnapshot(s *Snapshot) {
	if s == nil || s.db != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, held := range d.snapshots {
		if held == s {
			d.snapshots = append(d.snapshots[:i], d.snapshots[i+1:]...)
			s.db = nil
			return
		}
	}
}

// pinnedLocked returns the pinned snapshot sequences sorted ascending,
// deduplicated. Caller holds d.mu.
func (d *DB) pinnedLocked() []dbformat.SequenceNumber {
	if len(d.snapshots) == 0 {
		return nil
	}
	seqs := make([]dbformat.SequenceNumber, 0, len(d.snapshots))
	for _, s := range d.snapshots {
		seqs = append(seqs, s.seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	out := seqs[:1]
	for _, s := range seqs[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
