// Package memtable holds recent writes in memory until they are flushed
// into a sorted run. Point records live in a concurrent skip-list map
// keyed by user key; range tombstones live in a separate side list, the
// same split the on-disk format uses.
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/iterator"
	"github.com/rangekv/rangekv/internal/rangedel"
)

// record is one version of a user key.
type record struct {
	seq   dbformat.SequenceNumber
	kind  dbformat.ValueKind
	value []byte
}

// versions holds all versions of a single user key, newest first.
type versions struct {
	mu   sync.RWMutex
	recs []record
}

// MemTable buffers writes before flush. Point writes and reads may run
// concurrently; range tombstone writes are serialized behind a mutex.
type MemTable struct {
	ucmp   dbformat.Comparer
	points *skipmap.FuncMap[[]byte, *versions]

	mu         sync.Mutex
	tombstones []rangedel.Tombstone
	frag       *rangedel.FragmentList // rebuilt lazily, nil when stale

	bytes atomic.Int64
	count atomic.Int64
}

// New returns an empty memtable ordering user keys with ucmp.
func New(ucmp dbformat.Comparer) *MemTable {
	if ucmp == nil {
		ucmp = dbformat.BytewiseComparer
	}
	return &MemTable{
		ucmp: ucmp,
		points: skipmap.NewFunc[[]byte, *versions](func(a, b []byte) bool {
			return ucmp(a, b) < 0
		}),
	}
}

// Add inserts one version of key. The key and value are copied.
func (m *MemTable) Add(seq dbformat.SequenceNumber, kind dbformat.ValueKind, key, value []byte) {
	k := append([]byte(nil), key...)
	var v []byte
	if len(value) > 0 {
		v = append([]byte(nil), value...)
	}

	vs, _ := m.points.LoadOrStoreLazy(k, func() *versions { return &versions{} })
	vs.mu.Lock()
	// Sequence numbers are assigned in write order, so the common case is
	// a prepend. Keep the slice seq-descending either way.
	i := 0
	for i < len(vs.recs) && vs.recs[i].seq > seq {
		i++
	}
	vs.recs = append(vs.recs, record{})
	copy(vs.recs[i+1:], vs.recs[i:])
	vs.recs[i] = record{seq: seq, kind: kind, value: v}
	vs.mu.Unlock()

	m.count.Add(1)
	m.bytes.Add(int64(len(k) + len(v) + dbformat.TrailerLen))
}

// AddRangeTombstone records a deletion of [start, end) at seq. Degenerate
// ranges (start == end) are stored but never cover anything.
func (m *MemTable) AddRangeTombstone(seq dbformat.SequenceNumber, start, end []byte) {
	t := rangedel.Make(start, end, seq)

	m.mu.Lock()
	m.tombstones = append(m.tombstones, t)
	m.frag = nil
	m.mu.Unlock()

	m.bytes.Add(int64(len(start) + len(end) + dbformat.TrailerLen))
}

// HasRangeTombstones reports whether any range tombstones were added.
func (m *MemTable) HasRangeTombstones() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tombstones) > 0
}

// TombstoneCount returns the number of range tombstones added.
func (m *MemTable) TombstoneCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tombstones)
}

// Tombstones returns a copy of the raw, unfragmented tombstones in
// insertion order.
func (m *MemTable) Tombstones() []rangedel.Tombstone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rangedel.Tombstone(nil), m.tombstones...)
}

// FragmentedTombstones returns the tombstones fragmented for lookup.
// The list is cached and rebuilt after each AddRangeTombstone.
func (m *MemTable) FragmentedTombstones() *rangedel.FragmentList {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frag == nil {
		m.frag = rangedel.Fragment(m.ucmp, m.tombstones)
	}
	return m.frag
}

// NewIterator returns a point iterator over a snapshot of the memtable
// contents, in internal key order.
func (m *MemTable) NewIterator() iterator.Iterator {
	entries := make([]iterator.Entry, 0, m.count.Load())
	m.points.Range(func(key []byte, vs *versions) bool {
		vs.mu.RLock()
		for _, rec := range vs.recs {
			entries = append(entries, iterator.Entry{
				Key:   dbformat.MakeInternalKey(key, rec.seq, rec.kind),
				Value: rec.value,
			})
		}
		vs.mu.RUnlock()
		return true
	})
	return iterator.NewSliceIterator(dbformat.NewInternalComparer(m.ucmp), entries)
}

// Count returns the number of point entries.
func (m *MemTable) Count() int64 {
	return m.count.Load()
}

// Empty reports whether the memtable holds no point entries and no range
// tombstones.
func (m *MemTable) Empty() bool {
	return m.count.Load() == 0 && !m.HasRangeTombstones()
}

// ApproximateMemoryUsage returns the approximate byte footprint.
func (m *MemTable) ApproximateMemoryUsage() int64 {
	return m.bytes.Load()
}
