package rangekv

import (
	"github.com/cockroachdb/errors"

	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/iterator"
	"github.com/rangekv/rangekv/internal/memtable"
	"github.com/rangekv/rangekv/internal/rangedel"
	"github.com/rangekv/rangekv/internal/stats"
)

// readState is a point-in-time view of the DB's sources, newest first.
type readState struct {
	mems []*memtable.MemTable
	runs []*tableFile
}

func (d *DB) acquireReadState() (readState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return readState{}, ErrClosed
	}
	rs := readState{mems: []*memtable.MemTable{d.mem}}
	if d.imm != nil {
		rs.mems = append(rs.mems, d.imm)
	}
	rs.runs = append(rs.runs, d.runs...)
	return rs, nil
}

func (d *DB) readCeiling(ro *ReadOptions) dbformat.SequenceNumber {
	if ro != nil && ro.Snapshot != nil {
		return ro.Snapshot.seq
	}
	return dbformat.MaxSequenceNumber
}

// Get returns the value of key, or ErrNotFound. Sources are consulted newest
// to oldest (memtable, then runs); the result is the newest record visible
// at the read's sequence ceiling that no applicable range tombstone covers.
// Merge-operand chains are resolved with Options.Merge, truncated at the
// first covering tombstone.
func (d *DB) Get(ro *ReadOptions, key []byte) ([]byte, error) {
	rs, err := d.acquireReadState()
	if err != nil {
		return nil, err
	}
	ceiling := d.readCeiling(ro)

	g := getter{ucmp: d.ucmp, key: key, ceiling: ceiling}
	if ro == nil || !ro.IgnoreRangeDeletions {
		g.agg = rangedel.NewReadAggregator(d.ucmp, ceiling)
	}

	for _, mem := range rs.mems {
		if g.agg != nil {
			g.agg.AddList(mem.FragmentedTombstones())
		}
		done, err := g.scan(mem.NewIterator())
		if err != nil {
			return nil, err
		}
		if done {
			return g.finish(d)
		}
	}
	for _, t := range rs.runs {
		if g.agg != nil {
			tombstones, err := t.reader.Tombstones()
			if err != nil {
				return nil, err
			}
			g.agg.AddTombstones(tombstones)
		}
		if !t.reader.MayContain(key) {
			d.opts.Stats.RecordTick(stats.TickerBloomFilterUseful, 1)
			continue
		}
		it, err := t.reader.NewIterator()
		if err != nil {
			return nil, err
		}
		done, err := g.scan(it)
		if err != nil {
			return nil, err
		}
		if done {
			return g.finish(d)
		}
	}
	return g.finish(d)
}

// getter accumulates the outcome of a point lookup across sources.
type getter struct {
	ucmp    dbformat.Comparer
	key     []byte
	ceiling dbformat.SequenceNumber
	agg     *rangedel.ReadAggregator // nil bypasses tombstone filtering

	operands [][]byte // merge operands, newest first
	base     []byte
	found    bool
}

// scan walks one source's versions of the key, newest first. It reports done
// when the outcome is decided and no older source can change it: a base
// value, a deletion, or a covering tombstone all terminate the search.
func (g *getter) scan(it iterator.Iterator) (bool, error) {
	it.Seek(dbformat.MakeInternalKey(g.key, g.ceiling, dbformat.KindMax))
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if g.ucmp(k.UserKey(), g.key) != 0 {
			break
		}
		if g.agg != nil && g.agg.Covers(g.key, k.Seq()) {
			return true, it.Error()
		}
		switch k.Kind() {
		case dbformat.KindValue:
			g.base = append([]byte(nil), it.Value()...)
			g.found = true
			return true, it.Error()
		case dbformat.KindDelete, dbformat.KindSingleDelete:
			return true, it.Error()
		case dbformat.KindMerge:
			g.operands = append(g.operands, append([]byte(nil), it.Value()...))
		}
	}
	return false, it.Error()
}

func (g *getter) finish(d *DB) ([]byte, error) {
	if len(g.operands) > 0 {
		v, err := resolveMerge(d.opts.Merge, g.key, g.base, g.found, g.operands)
		if err != nil {
			return nil, err
		}
		d.opts.Stats.RecordTick(stats.TickerNumberKeysRead, 1)
		return v, nil
	}
	if g.found {
		d.opts.Stats.RecordTick(stats.TickerNumberKeysRead, 1)
		return g.base, nil
	}
	return nil, ErrNotFound
}

// resolveMerge combines a newest-first operand chain with an optional base.
func resolveMerge(merge MergeOperator, key, base []byte, haveBase bool, operands [][]byte) ([]byte, error) {
	if merge == nil {
		return nil, errors.Wrap(ErrNotSupported, "merge operands found but no merge operator configured")
	}
	for i, j := 0, len(operands)-1; i < j; i, j = i+1, j-1 {
		operands[i], operands[j] = operands[j], operands[i]
	}
	if !haveBase {
		base = nil
	}
	v, ok := merge.FullMerge(key, base, operands)
	if !ok {
		return nil, errors.Newf("rangekv: merge failed for key %q", key)
	}
	return v, nil
}

// Iterator is a forward scan over the DB's visible records: per user key, the
// newest version at or below the read ceiling that no range tombstone covers,
// with merge chains resolved. Not safe for concurrent use.
type Iterator struct {
	ucmp    dbformat.Comparer
	merge   MergeOperator
	agg     *rangedel.ReadAggregator // nil bypasses tombstone filtering
	mi      iterator.Iterator
	ceiling dbformat.SequenceNumber

	key   []byte
	value []byte
	valid bool
	err   error
}

// NewIterator returns a scan over the DB's contents visible under ro. The
// iterator holds a fixed view: writes after this call are not observed.
func (d *DB) NewIterator(ro *ReadOptions) (*Iterator, error) {
	rs, err := d.acquireReadState()
	if err != nil {
		return nil, err
	}
	ceiling := d.readCeiling(ro)

	it := &Iterator{ucmp: d.ucmp, merge: d.opts.Merge, ceiling: ceiling}
	if ro == nil || !ro.IgnoreRangeDeletions {
		it.agg = rangedel.NewReadAggregator(d.ucmp, ceiling)
	}

	var children []iterator.Iterator
	for _, mem := range rs.mems {
		if it.agg != nil {
			it.agg.AddList(mem.FragmentedTombstones())
		}
		children = append(children, mem.NewIterator())
	}
	for _, t := range rs.runs {
		if it.agg != nil {
			tombstones, err := t.reader.Tombstones()
			if err != nil {
				return nil, err
			}
			it.agg.AddTombstones(tombstones)
		}
		child, err := t.reader.NewIterator()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	it.mi = iterator.NewMergingIterator(dbformat.NewInternalComparer(d.ucmp), children...)
	return it, nil
}

// First positions at the smallest visible key.
func (it *Iterator) First() {
	it.mi.SeekToFirst()
	it.settle()
}

// SeekGE positions at the smallest visible key >= key.
func (it *Iterator) SeekGE(key []byte) {
	it.mi.Seek(dbformat.MakeInternalKey(key, dbformat.MaxSequenceNumber, dbformat.KindMax))
	it.settle()
}

// Next advances to the next visible key.
func (it *Iterator) Next() {
	it.settle()
}

// Valid reports whether the iterator is positioned at a record.
func (it *Iterator) Valid() bool {
	return it.valid && it.err == nil
}

// Key returns the current user key. Valid until the next move.
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the current value. Valid until the next move.
func (it *Iterator) Value() []byte {
	return it.value
}

// Error returns the first error the scan hit.
func (it *Iterator) Error() error {
	return it.err
}

// settle consumes one user-key group at a time from the merged stream until
// it finds a visible record. The merged stream orders versions newest first
// within a key, so the first visible, uncovered entry decides the key's fate
// and the rest of the group is drained.
func (it *Iterator) settle() {
	it.valid = false
	if it.err != nil {
		return
	}
	mi := it.mi
	for mi.Valid() {
		userKey := append([]byte(nil), mi.Key().UserKey()...)
		var operands [][]byte
		var base []byte
		haveBase := false
		decided := false

		for ; mi.Valid() && it.ucmp(mi.Key().UserKey(), userKey) == 0; mi.Next() {
			if decided {
				continue
			}
			k := mi.Key()
			if k.Seq() > it.ceiling {
				continue
			}
			if it.agg != nil && it.agg.Covers(userKey, k.Seq()) {
				decided = true
				continue
			}
			switch k.Kind() {
			case dbformat.KindValue:
				base = append([]byte(nil), mi.Value()...)
				haveBase = true
				decided = true
			case dbformat.KindDelete, dbformat.KindSingleDelete:
				decided = true
			case dbformat.KindMerge:
				operands = append(operands, append([]byte(nil), mi.Value()...))
			}
		}
		if it.err = mi.Error(); it.err != nil {
			return
		}

		if len(operands) > 0 {
			v, err := resolveMerge(it.merge, userKey, base, haveBase, operands)
			if err != nil {
				it.err = err
				return
			}
			it.key, it.value, it.valid = userKey, v, true
			return
		}
		if haveBase {
			it.key, it.value, it.valid = userKey, base, true
			return
		}
	}
	it.err = mi.Error()
}
