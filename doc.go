/*
Package rangekv is an embedded LSM key/value store built around first-class
range deletions. A single DeleteRange call logically removes every key in a
half-open interval; the tombstone it writes is visible to reads immediately,
flows through flush into sorted runs, and is reclaimed by compaction once no
pinned snapshot can still observe the data it covers.

# Usage

	db, err := rangekv.Open(dir, nil)
	if err != nil {
		...
	}
	defer db.Close()

	_ = db.Put([]byte("a"), []byte("1"))
	_ = db.DeleteRange([]byte("a"), []byte("m"))
	_, err = db.Get(nil, []byte("a")) // rangekv.ErrNotFound

# Concurrency

A DB instance is safe for concurrent use by multiple goroutines. Reads run
concurrently with flush and compaction; runs are immutable once written and
outputs are published atomically, so a reader always observes either the
pre-compaction or the post-compaction state.

# Snapshots

GetSnapshot pins the current sequence number. Reads through a snapshot see a
consistent historical view, and compaction never drops a tombstone or a
record that a pinned snapshot could still observe.
*/
package rangekv
