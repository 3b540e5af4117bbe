// Package cache provides a shared LRU cache of decoded run blocks, keyed by
// file number and block offset. Cached blocks are decompressed and
// checksum-verified payloads; callers must treat them as immutable.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Key identifies one block within one run file.
type Key struct {
	File   uint64
	Offset uint64
}

// Cache is a thread-safe LRU over decoded blocks. A nil *Cache is valid and
// caches nothing.
type Cache struct {
	mu       sync.Mutex
	capacity int64
	usage    int64
	table    map[Key]*list.Element
	lru      *list.List

	hits   atomic.Uint64
	misses atomic.Uint64
}

type entry struct {
	key   Key
	block []byte
}

// New returns a cache holding up to capacity bytes of block payloads.
func New(capacity int64) *Cache {
	return &Cache{
		capacity: capacity,
		table:    make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached block for key, or nil.
func (c *Cache) Get(key Key) []byte {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.table[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits.Add(1)
		return elem.Value.(*entry).block
	}
	c.misses.Add(1)
	return nil
}

// Add stores block under key, evicting least recently used entries to stay
// within capacity. Blocks larger than the capacity are not cached.
func (c *Cache) Add(key Key, block []byte) {
	if c == nil || int64(len(block)) > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.table[key]; ok {
		e := elem.Value.(*entry)
		c.usage += int64(len(block)) - int64(len(e.block))
		e.block = block
		c.lru.MoveToFront(elem)
	} else {
		c.table[key] = c.lru.PushFront(&entry{key: key, block: block})
		c.usage += int64(len(block))
	}
	for c.usage > c.capacity {
		c.evictOne()
	}
}

// EraseFile drops every cached block of file. Called when a run is deleted
// so its file number can be reused without serving stale blocks.
func (c *Cache) EraseFile(file uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *list.Element
	for elem := c.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		if e := elem.Value.(*entry); e.key.File == file {
			c.removeLocked(elem)
		}
	}
}

// Usage returns the cached payload bytes.
func (c *Cache) Usage() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// Hits returns the lookup hit count.
func (c *Cache) Hits() uint64 {
	if c == nil {
		return 0
	}
	return c.hits.Load()
}

// Misses returns the lookup miss count.
func (c *Cache) Misses() uint64 {
	if c == nil {
		return 0
	}
	return c.misses.Load()
}

func (c *Cache) evictOne() {
	if elem := c.lru.Back(); elem != nil {
		c.removeLocked(elem)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(c.table, e.key)
	c.lru.Remove(elem)
	c.usage -= int64(len(e.block))
}
