package cache

import (
	"bytes"
	"fmt"
	"testing"
)

func TestCacheGetAdd(t *testing.T) {
	c := New(1 << 10)
	key := Key{File: 1, Offset: 0}

	if got := c.Get(key); got != nil {
		t.Fatalf("Get on empty cache = %v, want nil", got)
	}
	c.Add(key, []byte("block"))
	if got := c.Get(key); !bytes.Equal(got, []byte("block")) {
		t.Errorf("Get = %q, want %q", got, "block")
	}
	if c.Hits() != 1 || c.Misses() != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", c.Hits(), c.Misses())
	}
}

func TestCacheEvictsLRU(t *testing.T) {
	c := New(30)
	for i := 0; i < 4; i++ {
		c.Add(Key{File: 1, Offset: uint64(i)}, []byte(fmt.Sprintf("block%d", i)))
	}
	// Touch block0 so block1 becomes the eviction candidate.
	if c.Get(Key{File: 1, Offset: 0}) == nil {
		t.Fatal("block0 evicted too early")
	}
	c.Add(Key{File: 1, Offset: 4}, []byte("block4"))
	c.Add(Key{File: 1, Offset: 5}, []byte("block5"))

	if c.Get(Key{File: 1, Offset: 0}) == nil {
		t.Error("recently used block0 evicted")
	}
	if c.Get(Key{File: 1, Offset: 1}) != nil {
		t.Error("least recently used block1 not evicted")
	}
	if c.Usage() > 30 {
		t.Errorf("usage %d exceeds capacity", c.Usage())
	}
}

func TestCacheOversizedBlockNotCached(t *testing.T) {
	c := New(4)
	c.Add(Key{File: 1, Offset: 0}, []byte("too large"))
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestCacheEraseFile(t *testing.T) {
	c := New(1 << 10)
	c.Add(Key{File: 1, Offset: 0}, []byte("a"))
	c.Add(Key{File: 1, Offset: 8}, []byte("b"))
	c.Add(Key{File: 2, Offset: 0}, []byte("c"))

	c.EraseFile(1)
	if got := c.Get(Key{File: 1, Offset: 0}); got != nil {
		t.Errorf("Get after EraseFile = %q, want nil", got)
	}
	if got := c.Get(Key{File: 2, Offset: 0}); !bytes.Equal(got, []byte("c")) {
		t.Errorf("unrelated file erased: Get = %v", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCacheNilSafe(t *testing.T) {
	var c *Cache
	c.Add(Key{}, []byte("x"))
	if got := c.Get(Key{}); got != nil {
		t.Errorf("nil cache Get = %v, want nil", got)
	}
	c.EraseFile(1)
	if c.Usage() != 0 || c.Len() != 0 {
		t.Error("nil cache reports nonzero usage")
	}
}

func TestCacheUpdateExistingKey(t *testing.T) {
	c := New(1 << 10)
	key := Key{File: 3, Offset: 16}
	c.Add(key, []byte("old"))
	c.Add(key, []byte("newer"))
	if got := c.Get(key); !bytes.Equal(got, []byte("newer")) {
		t.Errorf("Get = %q, want %q", got, "newer")
	}
	if c.Usage() != 5 {
		t.Errorf("Usage = %d, want 5", c.Usage())
	}
}
