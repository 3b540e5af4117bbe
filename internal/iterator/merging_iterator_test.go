package iterator

import (
	"bytes"
	"testing"

	"github.com/rangekv/rangekv/internal/dbformat"
)

var icmp = dbformat.NewInternalComparer(nil)

func entry(key string, seq dbformat.SequenceNumber, val string) Entry {
	return Entry{
		Key:   dbformat.MakeInternalKey([]byte(key), seq, dbformat.KindValue),
		Value: []byte(val),
	}
}

func collect(t *testing.T, it Iterator) []string {
	t.Helper()
	var out []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		p, err := dbformat.Parse(it.Key())
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		out = append(out, string(p.UserKey))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	return out
}

func TestMergingIteratorInterleaves(t *testing.T) {
	a := NewSliceIterator(icmp, []Entry{entry("a", 1, ""), entry("d", 1, ""), entry("g", 1, "")})
	b := NewSliceIterator(icmp, []Entry{entry("b", 1, ""), entry("e", 1, "")})
	c := NewSliceIterator(icmp, []Entry{entry("c", 1, ""), entry("f", 1, "")})

	got := collect(t, NewMergingIterator(icmp, a, b, c))
	want := []string{"a", "b", "c", "d", "e", "f", "g"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMergingIteratorSeqOrderWithinKey(t *testing.T) {
	// Same user key across children: newer versions must surface first.
	a := NewSliceIterator(icmp, []Entry{entry("k", 5, "old")})
	b := NewSliceIterator(icmp, []Entry{entry("k", 9, "new")})

	mi := NewMergingIterator(icmp, a, b)
	mi.SeekToFirst()
	if !mi.Valid() || !bytes.Equal(mi.Value(), []byte("new")) {
		t.Fatalf("first version = %q, want 'new'", mi.Value())
	}
	mi.Next()
	if !mi.Valid() || !bytes.Equal(mi.Value(), []byte("old")) {
		t.Fatalf("second version = %q, want 'old'", mi.Value())
	}
	mi.Next()
	if mi.Valid() {
		t.Fatal("iterator should be exhausted")
	}
}

func TestMergingIteratorSeek(t *testing.T) {
	a := NewSliceIterator(icmp, []Entry{entry("a", 1, ""), entry("m", 1, "")})
	b := NewSliceIterator(icmp, []Entry{entry("c", 1, ""), entry("z", 1, "")})

	mi := NewMergingIterator(icmp, a, b)
	mi.Seek(dbformat.MakeInternalKey([]byte("c"), dbformat.MaxSequenceNumber, dbformat.KindMax))
	if !mi.Valid() {
		t.Fatal("Seek landed on nothing")
	}
	if got := string(mi.Key().UserKey()); got != "c" {
		t.Errorf("Seek('c') landed on %q", got)
	}
}

func TestSliceIteratorSeek(t *testing.T) {
	it := NewSliceIterator(icmp, []Entry{
		entry("b", 1, ""), entry("d", 1, ""), entry("f", 1, ""),
	})

	cases := []struct {
		target string
		want   string // "" means exhausted
	}{
		{"a", "b"},
		{"b", "b"},
		{"c", "d"},
		{"f", "f"},
		{"g", ""},
	}
	for _, tc := range cases {
		it.Seek(dbformat.MakeInternalKey([]byte(tc.target), dbformat.MaxSequenceNumber, dbformat.KindMax))
		if tc.want == "" {
			if it.Valid() {
				t.Errorf("Seek(%q) landed on %q, want exhausted", tc.target, it.Key().UserKey())
			}
			continue
		}
		if !it.Valid() || string(it.Key().UserKey()) != tc.want {
			t.Errorf("Seek(%q) landed on %q, want %q", tc.target, it.Key().UserKey(), tc.want)
		}
	}

	// A later seek may move backwards; the position must not be sticky.
	it.Seek(dbformat.MakeInternalKey([]byte("z"), dbformat.MaxSequenceNumber, dbformat.KindMax))
	it.Seek(dbformat.MakeInternalKey([]byte("a"), dbformat.MaxSequenceNumber, dbformat.KindMax))
	if !it.Valid() || string(it.Key().UserKey()) != "b" {
		t.Error("reseek to the front failed")
	}
}

func TestMergingIteratorEmptyChildren(t *testing.T) {
	a := NewSliceIterator(icmp, nil)
	mi := NewMergingIterator(icmp, a)
	mi.SeekToFirst()
	if mi.Valid() {
		t.Error("merge of empty children should be invalid")
	}
}
