// Package mempool recycles the byte buffers the run writer fills per output
// file: a point-block buffer around the block size and a smaller tombstone
// buffer. Flushes and compactions cycle through many short-lived outputs, so
// the buffers are pooled in power-of-two capacity buckets instead of being
// reallocated each time.
package mempool

import (
	"math/bits"
	"sync"
)

// The pooled capacities span 1 KiB (a tombstone buffer) up to 64 KiB (a
// point block that overflowed its target size before flushing).
const (
	minBucketBits = 10
	maxBucketBits = 16
	numBuckets    = maxBucketBits - minBucketBits + 1
)

// Pool recycles byte slices in power-of-two capacity buckets. A slice taken
// from bucket i always has capacity at least 1<<(minBucketBits+i).
type Pool struct {
	buckets [numBuckets]sync.Pool
}

// New returns an empty pool.
func New() *Pool {
	p := &Pool{}
	for i := range p.buckets {
		capacity := 1 << (minBucketBits + i)
		p.buckets[i].New = func() any {
			b := make([]byte, 0, capacity)
			return &b
		}
	}
	return p
}

// Get returns an empty slice with capacity at least n. Requests beyond the
// largest bucket are served by a plain allocation.
func (p *Pool) Get(n int) []byte {
	if n > 1<<maxBucketBits {
		return make([]byte, 0, n)
	}
	b := p.buckets[bucketFor(n)].Get().(*[]byte)
	return (*b)[:0]
}

// Put recycles b into the largest bucket its capacity fully covers, so a
// later Get never receives less capacity than it asked for. Slices below
// the smallest bucket, or grown far past the largest, are dropped.
func (p *Pool) Put(b []byte) {
	c := cap(b)
	if c < 1<<minBucketBits || c > 1<<(maxBucketBits+1) {
		return
	}
	if c > 1<<maxBucketBits {
		c = 1 << maxBucketBits
	}
	i := bits.Len(uint(c)) - 1 - minBucketBits
	b = b[:0]
	p.buckets[i].Put(&b)
}

// bucketFor returns the smallest bucket whose capacity covers n.
func bucketFor(n int) int {
	if n <= 1<<minBucketBits {
		return 0
	}
	return bits.Len(uint(n-1)) - minBucketBits
}

// GlobalPool serves every run writer in the process.
var GlobalPool = New()
