package iterator

import (
	"container/heap"

	"github.com/rangekv/rangekv/internal/dbformat"
)

// MergingIterator yields the union of its child iterators in internal-key
// order using a min-heap. Children positioned at the same user key surface in
// sequence-descending order, which is what the compaction merge relies on.
type MergingIterator struct {
	children []Iterator
	cmp      *dbformat.InternalComparer
	h        mergeHeap
	current  int // index into children, -1 when exhausted
	err      error
}

// NewMergingIterator merges children under cmp.
func NewMergingIterator(cmp *dbformat.InternalComparer, children ...Iterator) *MergingIterator {
	mi := &MergingIterator{children: children, cmp: cmp, current: -1}
	mi.h.cmp = cmp
	mi.h.items = make([]mergeItem, 0, len(children))
	return mi
}

// Valid implements Iterator.
func (mi *MergingIterator) Valid() bool {
	return mi.current >= 0
}

// SeekToFirst implements Iterator.
func (mi *MergingIterator) SeekToFirst() {
	mi.reposition(func(c Iterator) { c.SeekToFirst() })
}

// Seek implements Iterator.
func (mi *MergingIterator) Seek(target []byte) {
	mi.reposition(func(c Iterator) { c.Seek(target) })
}

func (mi *MergingIterator) reposition(move func(Iterator)) {
	mi.err = nil
	mi.h.items = mi.h.items[:0]
	for i, c := range mi.children {
		move(c)
		if err := c.Error(); err != nil {
			mi.err = err
			mi.current = -1
			return
		}
		if c.Valid() {
			mi.h.items = append(mi.h.items, mergeItem{index: i, key: c.Key()})
		}
	}
	heap.Init(&mi.h)
	mi.settle()
}

// Next implements Iterator.
func (mi *MergingIterator) Next() {
	if !mi.Valid() {
		return
	}
	child := mi.children[mi.current]
	child.Next()
	if err := child.Error(); err != nil {
		mi.err = err
		mi.current = -1
		return
	}
	if child.Valid() {
		mi.h.items[0].key = child.Key()
		heap.Fix(&mi.h, 0)
	} else {
		heap.Pop(&mi.h)
	}
	mi.settle()
}

func (mi *MergingIterator) settle() {
	if len(mi.h.items) == 0 {
		mi.current = -1
		return
	}
	mi.current = mi.h.items[0].index
}

// Key implements Iterator.
func (mi *MergingIterator) Key() dbformat.InternalKey {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].Key()
}

// Value implements Iterator.
func (mi *MergingIterator) Value() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].Value()
}

// Error implements Iterator.
func (mi *MergingIterator) Error() error {
	return mi.err
}

type mergeItem struct {
	index int
	key   dbformat.InternalKey
}

type mergeHeap struct {
	items []mergeItem
	cmp   *dbformat.InternalComparer
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	return h.cmp.Compare(h.items[i].key, h.items[j].key) < 0
}

func (h *mergeHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *mergeHeap) Push(x any) {
	if item, ok := x.(mergeItem); ok {
		h.items = append(h.items, item)
	}
}

func (h *mergeHeap) Pop() any {
	old := h.items
	item := old[len(old)-1]
	h.items = old[:len(old)-1]
	return item
}
