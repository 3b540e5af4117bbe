// Package iterator provides forward iteration over sorted point-record
// streams, and a heap-based k-way merge across several of them.
package iterator

import (
	"sort"

	"github.com/rangekv/rangekv/internal/dbformat"
)

// Iterator is a forward iterator over internal keys in sorted order.
// Compaction and flush only ever scan forward, so there is no Prev.
type Iterator interface {
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool

	// SeekToFirst positions the iterator at the first entry.
	SeekToFirst()

	// Seek positions the iterator at the first entry with key >= target.
	Seek(target []byte)

	// Next advances to the next entry.
	Next()

	// Key returns the current internal key. Only valid until the next
	// positioning call.
	Key() dbformat.InternalKey

	// Value returns the current value.
	Value() []byte

	// Error returns any error encountered during iteration.
	Error() error
}

// Entry is an in-memory (internal key, value) pair.
type Entry struct {
	Key   dbformat.InternalKey
	Value []byte
}

// SliceIterator iterates over an in-memory, pre-sorted slice of entries.
type SliceIterator struct {
	cmp     *dbformat.InternalComparer
	entries []Entry
	pos     int
}

// NewSliceIterator returns an iterator over entries, which must already be
// sorted under cmp.
func NewSliceIterator(cmp *dbformat.InternalComparer, entries []Entry) *SliceIterator {
	return &SliceIterator{cmp: cmp, entries: entries, pos: -1}
}

// Valid implements Iterator.
func (it *SliceIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.entries)
}

// SeekToFirst implements Iterator.
func (it *SliceIterator) SeekToFirst() {
	it.pos = 0
}

// Seek implements Iterator.
func (it *SliceIterator) Seek(target []byte) {
	it.pos = sort.Search(len(it.entries), func(i int) bool {
		return it.cmp.Compare(it.entries[i].Key, target) >= 0
	})
}

// Next implements Iterator.
func (it *SliceIterator) Next() {
	if it.pos < len(it.entries) {
		it.pos++
	}
}

// Key implements Iterator.
func (it *SliceIterator) Key() dbformat.InternalKey {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].Key
}

// Value implements Iterator.
func (it *SliceIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].Value
}

// Error implements Iterator.
func (it *SliceIterator) Error() error {
	return nil
}
