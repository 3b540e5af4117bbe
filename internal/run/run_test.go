package run

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/rangekv/rangekv/internal/cache"
	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/options"
	"github.com/rangekv/rangekv/internal/rangedel"
	"github.com/rangekv/rangekv/internal/stats"
)

func testOptions(c options.CompressionType) *options.Options {
	o := options.Default()
	o.Compression = c
	return o
}

func buildRun(t *testing.T, o *options.Options, build func(w *Writer)) ([]byte, Meta) {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, o)
	build(w)
	meta, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if meta.Size != int64(buf.Len()) {
		t.Fatalf("meta.Size = %d, file is %d bytes", meta.Size, buf.Len())
	}
	return buf.Bytes(), meta
}

func TestRunRoundTrip(t *testing.T) {
	for _, c := range []options.CompressionType{
		options.NoCompression,
		options.SnappyCompression,
		options.LZ4Compression,
		options.ZstdCompression,
	} {
		t.Run(c.String(), func(t *testing.T) {
			data, meta := buildRun(t, testOptions(c), func(w *Writer) {
				for i := 0; i < 500; i++ {
					key := dbformat.MakeInternalKey([]byte(fmt.Sprintf("key%05d", i)), 1, dbformat.KindValue)
					if err := w.Add(key, []byte(fmt.Sprintf("value%05d", i))); err != nil {
						t.Fatalf("Add: %v", err)
					}
				}
				if err := w.AddTombstone(rangedel.Make([]byte("key00100"), []byte("key00200"), 7)); err != nil {
					t.Fatalf("AddTombstone: %v", err)
				}
			})

			r, err := NewReader(data, nil)
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			if got := r.Meta(); got.PointCount != 500 || got.TombstoneCount != 1 {
				t.Errorf("meta counts = %d/%d", got.PointCount, got.TombstoneCount)
			}

			it, err := r.NewIterator()
			if err != nil {
				t.Fatalf("NewIterator: %v", err)
			}
			n := 0
			for it.SeekToFirst(); it.Valid(); it.Next() {
				want := fmt.Sprintf("key%05d", n)
				if got := string(it.Key().UserKey()); got != want {
					t.Fatalf("entry %d: key %q, want %q", n, got, want)
				}
				n++
			}
			if n != 500 {
				t.Errorf("iterated %d entries, want 500", n)
			}

			tombs, err := r.Tombstones()
			if err != nil {
				t.Fatalf("Tombstones: %v", err)
			}
			if len(tombs) != 1 || string(tombs[0].Start) != "key00100" || tombs[0].Seq != 7 {
				t.Errorf("tombstones = %v", tombs)
			}

			if string(meta.Smallest.UserKey()) != "key00000" {
				t.Errorf("smallest = %q", meta.Smallest.UserKey())
			}
			if string(meta.Largest.UserKey) != "key00499" || meta.Largest.Exclusive {
				t.Errorf("largest = %q exclusive=%v", meta.Largest.UserKey, meta.Largest.Exclusive)
			}
		})
	}
}

func TestRunTombstonesOnly(t *testing.T) {
	data, meta := buildRun(t, testOptions(options.SnappyCompression), func(w *Writer) {
		if err := w.AddTombstone(rangedel.Make([]byte("b"), []byte("m"), 9)); err != nil {
			t.Fatalf("AddTombstone: %v", err)
		}
	})

	if string(meta.Smallest.UserKey()) != "b" || meta.Smallest.Kind() != dbformat.KindRangeDelete {
		t.Errorf("smallest = %q kind %v", meta.Smallest.UserKey(), meta.Smallest.Kind())
	}
	if string(meta.Largest.UserKey) != "m" || !meta.Largest.Exclusive {
		t.Errorf("largest = %q exclusive=%v", meta.Largest.UserKey, meta.Largest.Exclusive)
	}

	r, err := NewReader(data, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	it, err := r.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	it.SeekToFirst()
	if it.Valid() {
		t.Error("tombstone-only run should have no point entries")
	}
	tombs, err := r.Tombstones()
	if err != nil || len(tombs) != 1 {
		t.Fatalf("Tombstones = %v, %v", tombs, err)
	}
}

func TestRunSentinelBoundaryBeyondPoints(t *testing.T) {
	_, meta := buildRun(t, testOptions(options.NoCompression), func(w *Writer) {
		if err := w.Add(dbformat.MakeInternalKey([]byte("d"), 1, dbformat.KindValue), []byte("v")); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := w.AddTombstone(rangedel.Make([]byte("a"), []byte("z"), 5)); err != nil {
			t.Fatalf("AddTombstone: %v", err)
		}
	})
	if string(meta.Largest.UserKey) != "z" || !meta.Largest.Exclusive {
		t.Errorf("largest = %q exclusive=%v, want z exclusive", meta.Largest.UserKey, meta.Largest.Exclusive)
	}
	if string(meta.Smallest.UserKey()) != "a" {
		t.Errorf("smallest = %q, want a", meta.Smallest.UserKey())
	}
}

func TestRunWriterRejectsOutOfOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, options.Default())
	if err := w.Add(dbformat.MakeInternalKey([]byte("b"), 1, dbformat.KindValue), nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add(dbformat.MakeInternalKey([]byte("a"), 1, dbformat.KindValue), nil); err == nil {
		t.Error("out of order point key accepted")
	}

	w = NewWriter(&buf, options.Default())
	if err := w.AddTombstone(rangedel.Make([]byte("m"), []byte("z"), 1)); err != nil {
		t.Fatalf("AddTombstone: %v", err)
	}
	if err := w.AddTombstone(rangedel.Make([]byte("a"), []byte("c"), 1)); err == nil {
		t.Error("out of order tombstone accepted")
	}
}

func TestRunWriterReleasesBuffersOnFailure(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, options.Default())
	if err := w.Add(dbformat.MakeInternalKey([]byte("b"), 1, dbformat.KindValue), nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add(dbformat.MakeInternalKey([]byte("a"), 1, dbformat.KindValue), nil); err == nil {
		t.Fatal("out of order point key accepted")
	}
	if w.block != nil || w.tombBuf != nil {
		t.Error("failed Add left pooled buffers attached")
	}

	w = NewWriter(&buf, options.Default())
	if err := w.AddTombstone(rangedel.Make([]byte("m"), []byte("z"), 1)); err != nil {
		t.Fatalf("AddTombstone: %v", err)
	}
	if err := w.AddTombstone(rangedel.Make([]byte("a"), []byte("c"), 1)); err == nil {
		t.Fatal("out of order tombstone accepted")
	}
	if w.block != nil || w.tombBuf != nil {
		t.Error("failed AddTombstone left pooled buffers attached")
	}

	// Finish on an empty writer fails but still releases.
	w = NewWriter(&buf, options.Default())
	if _, err := w.Finish(); err == nil {
		t.Fatal("empty Finish succeeded")
	}
	if w.block != nil || w.tombBuf != nil {
		t.Error("failed Finish left pooled buffers attached")
	}
}

func TestRunReaderDetectsCorruption(t *testing.T) {
	data, _ := buildRun(t, testOptions(options.SnappyCompression), func(w *Writer) {
		for i := 0; i < 100; i++ {
			key := dbformat.MakeInternalKey([]byte(fmt.Sprintf("key%03d", i)), 1, dbformat.KindValue)
			if err := w.Add(key, []byte("value")); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}
	})

	// Flip a byte inside the first block.
	corrupt := append([]byte(nil), data...)
	corrupt[10] ^= 0xFF
	r, err := NewReader(corrupt, nil)
	if err == nil {
		_, err = r.NewIterator()
	}
	if !errors.Is(err, ErrCorruption) {
		t.Errorf("corrupt block: err = %v, want ErrCorruption", err)
	}

	// Truncated file.
	if _, err := NewReader(data[:20], nil); !errors.Is(err, ErrCorruption) {
		t.Errorf("truncated file: err = %v, want ErrCorruption", err)
	}

	// Bad magic.
	badMagic := append([]byte(nil), data...)
	badMagic[len(badMagic)-1] ^= 0xFF
	if _, err := NewReader(badMagic, nil); !errors.Is(err, ErrCorruption) {
		t.Errorf("bad magic: err = %v, want ErrCorruption", err)
	}
}

func TestRunOpenFile(t *testing.T) {
	data, _ := buildRun(t, testOptions(options.SnappyCompression), func(w *Writer) {
		if err := w.Add(dbformat.MakeInternalKey([]byte("k"), 1, dbformat.KindValue), []byte("v")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	})
	path := filepath.Join(t.TempDir(), "000001.run")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	r, err := OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if r.Meta().PointCount != 1 {
		t.Errorf("PointCount = %d", r.Meta().PointCount)
	}
}

func TestRunBloomFilter(t *testing.T) {
	data, _ := buildRun(t, testOptions(options.NoCompression), func(w *Writer) {
		for i := 0; i < 200; i++ {
			key := dbformat.MakeInternalKey([]byte(fmt.Sprintf("key%03d", i)), 1, dbformat.KindValue)
			if err := w.Add(key, []byte("v")); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}
	})
	r, err := NewReader(data, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key%03d", i))
		if !r.MayContain(key) {
			t.Fatalf("MayContain(%q) = false for a stored key", key)
		}
	}
	excluded := 0
	for i := 0; i < 200; i++ {
		if !r.MayContain([]byte(fmt.Sprintf("absent%03d", i))) {
			excluded++
		}
	}
	if excluded < 150 {
		t.Errorf("filter excluded %d/200 absent keys, want most of them", excluded)
	}
}

func TestRunWithoutBloomFilter(t *testing.T) {
	o := testOptions(options.NoCompression)
	o.BloomBitsPerKey = 0
	data, _ := buildRun(t, o, func(w *Writer) {
		if err := w.Add(dbformat.MakeInternalKey([]byte("k"), 1, dbformat.KindValue), []byte("v")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	})
	r, err := NewReader(data, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if !r.MayContain([]byte("anything")) {
		t.Error("reader without a filter must never exclude keys")
	}
}

func TestRunBlockCache(t *testing.T) {
	data, _ := buildRun(t, testOptions(options.SnappyCompression), func(w *Writer) {
		for i := 0; i < 500; i++ {
			key := dbformat.MakeInternalKey([]byte(fmt.Sprintf("key%05d", i)), 1, dbformat.KindValue)
			if err := w.Add(key, []byte(fmt.Sprintf("value%05d", i))); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}
	})
	r, err := NewReader(data, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	st := stats.New()
	c := cache.New(1 << 20)
	r.SetBlockCache(c, 7, st)

	if _, err := r.NewIterator(); err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	misses := st.GetTickerCount(stats.TickerBlockCacheMiss)
	if misses == 0 {
		t.Fatal("first pass recorded no cache misses")
	}
	if _, err := r.NewIterator(); err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	if got := st.GetTickerCount(stats.TickerBlockCacheMiss); got != misses {
		t.Errorf("second pass added misses: %d -> %d", misses, got)
	}
	if st.GetTickerCount(stats.TickerBlockCacheHit) != misses {
		t.Errorf("hits = %d, want %d", st.GetTickerCount(stats.TickerBlockCacheHit), misses)
	}
}

func TestRunEmptyFinishFails(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, options.Default())
	if _, err := w.Finish(); err == nil {
		t.Error("finishing an empty run should fail")
	}
}
