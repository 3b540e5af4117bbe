package memtable

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/rangekv/rangekv/internal/dbformat"
)

func TestMemTableVersionsNewestFirst(t *testing.T) {
	mt := New(nil)
	mt.Add(1, dbformat.KindValue, []byte("k"), []byte("v1"))
	mt.Add(9, dbformat.KindDelete, []byte("k"), nil)
	mt.Add(5, dbformat.KindValue, []byte("k"), []byte("v5"))

	var got []string
	it := mt.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, fmt.Sprintf("%d/%d", it.Key().Seq(), it.Key().Kind()))
	}
	want := []string{"9/0", "5/1", "1/1"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entries = %v, want %v", got, want)
		}
	}
}

func TestMemTableAddCopiesKeyAndValue(t *testing.T) {
	mt := New(nil)
	key := []byte("k")
	val := []byte("v")
	mt.Add(1, dbformat.KindValue, key, val)
	key[0] = 'x'
	val[0] = 'y'

	it := mt.NewIterator()
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatal("iterator is empty")
	}
	if !bytes.Equal(it.Key().UserKey(), []byte("k")) || !bytes.Equal(it.Value(), []byte("v")) {
		t.Errorf("entry = %q/%q, caller mutation leaked in", it.Key().UserKey(), it.Value())
	}
}

func TestMemTableRangeTombstoneCoverage(t *testing.T) {
	mt := New(nil)
	mt.AddRangeTombstone(5, []byte("a"), []byte("m"))

	frags := mt.FragmentedTombstones()
	if !frags.Covers([]byte("b"), 1, dbformat.MaxSequenceNumber) {
		t.Error("key inside the range should be covered")
	}
	if frags.Covers([]byte("b"), 7, dbformat.MaxSequenceNumber) {
		t.Error("a record newer than the tombstone survives it")
	}
	if frags.Covers([]byte("b"), 1, 4) {
		t.Error("a snapshot below the tombstone cannot see it")
	}
	if frags.Covers([]byte("m"), 1, dbformat.MaxSequenceNumber) {
		t.Error("end key is exclusive")
	}
	if frags.Covers([]byte("z"), 1, dbformat.MaxSequenceNumber) {
		t.Error("key beyond the range should not be covered")
	}
}

func TestMemTableFragmentCacheInvalidated(t *testing.T) {
	mt := New(nil)
	mt.AddRangeTombstone(5, []byte("a"), []byte("c"))
	first := mt.FragmentedTombstones()
	if first.Covers([]byte("d"), 1, dbformat.MaxSequenceNumber) {
		t.Fatal("d is outside the first tombstone")
	}

	mt.AddRangeTombstone(8, []byte("c"), []byte("f"))
	second := mt.FragmentedTombstones()
	if !second.Covers([]byte("d"), 1, dbformat.MaxSequenceNumber) {
		t.Error("second tombstone not visible after cache rebuild")
	}
	if mt.TombstoneCount() != 2 {
		t.Errorf("TombstoneCount = %d, want 2", mt.TombstoneCount())
	}
}

func TestMemTableDegenerateTombstone(t *testing.T) {
	mt := New(nil)
	mt.AddRangeTombstone(5, []byte("k"), []byte("k"))

	if mt.FragmentedTombstones().Covers([]byte("k"), 1, dbformat.MaxSequenceNumber) {
		t.Error("degenerate tombstone must not cover its own key")
	}
	// The raw tombstone is still retained for flushing.
	if mt.TombstoneCount() != 1 {
		t.Errorf("TombstoneCount = %d, want 1", mt.TombstoneCount())
	}
	if mt.Empty() {
		t.Error("memtable holding a degenerate tombstone is not empty")
	}
}

func TestMemTableIteratorOrder(t *testing.T) {
	mt := New(nil)
	mt.Add(3, dbformat.KindValue, []byte("b"), []byte("v3"))
	mt.Add(1, dbformat.KindValue, []byte("b"), []byte("v1"))
	mt.Add(2, dbformat.KindValue, []byte("a"), []byte("va"))

	var got []string
	it := mt.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, fmt.Sprintf("%s@%d", it.Key().UserKey(), it.Key().Seq()))
	}
	want := []string{"a@2", "b@3", "b@1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMemTableIteratorSeek(t *testing.T) {
	mt := New(nil)
	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("va"))
	mt.Add(2, dbformat.KindValue, []byte("c"), []byte("vc"))
	mt.Add(3, dbformat.KindValue, []byte("e"), []byte("ve"))

	it := mt.NewIterator()
	it.Seek(dbformat.MakeInternalKey([]byte("b"), dbformat.MaxSequenceNumber, dbformat.KindMax))
	if !it.Valid() {
		t.Fatal("Seek(b) exhausted the iterator")
	}
	if !bytes.Equal(it.Key().UserKey(), []byte("c")) {
		t.Errorf("Seek(b) landed on %q", it.Key().UserKey())
	}

	it.Seek(dbformat.MakeInternalKey([]byte("f"), dbformat.MaxSequenceNumber, dbformat.KindMax))
	if it.Valid() {
		t.Error("Seek past the last key should exhaust the iterator")
	}
}

func TestMemTableEmpty(t *testing.T) {
	mt := New(nil)
	if !mt.Empty() {
		t.Error("new memtable should be empty")
	}
	mt.AddRangeTombstone(1, []byte("a"), []byte("b"))
	if mt.Empty() {
		t.Error("memtable with a range tombstone is not empty")
	}
	if mt.ApproximateMemoryUsage() == 0 {
		t.Error("memory usage should grow after a write")
	}
}
