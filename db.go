package rangekv

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/rangekv/rangekv/internal/cache"
	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/logging"
	"github.com/rangekv/rangekv/internal/memtable"
	"github.com/rangekv/rangekv/internal/options"
	"github.com/rangekv/rangekv/internal/run"
	"github.com/rangekv/rangekv/internal/stats"
)

var (
	// ErrNotFound is returned by Get when no visible value exists.
	ErrNotFound = errors.New("rangekv: not found")

	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("rangekv: closed")

	// ErrNotSupported is returned when the configured table format or
	// options cannot serve the requested operation.
	ErrNotSupported = errors.New("rangekv: not supported")

	// ErrCorruption wraps damage detected in a stored run.
	ErrCorruption = run.ErrCorruption

	// ErrInvalidRange is returned by DeleteRange when end orders before
	// start.
	ErrInvalidRange = errors.New("rangekv: range end before start")
)

const runSuffix = ".run"

// tableFile is one immutable sorted run on disk.
type tableFile struct {
	num    uint64
	path   string
	reader *run.Reader
}

// DB is an LSM key/value store with range-deletion support. It is safe for
// concurrent use by multiple goroutines.
type DB struct {
	dirname    string
	opts       *options.Options
	ucmp       dbformat.Comparer
	blockCache *cache.Cache // nil when disabled

	// flushing serializes flushes; compacting serializes manual
	// compactions. Both are held only for the duration of one call.
	flushing   sync.Mutex
	compacting sync.Mutex

	mu        sync.Mutex
	mem       *memtable.MemTable
	imm       *memtable.MemTable // pending flush, nil when none
	runs      []*tableFile       // newest first
	seq       dbformat.SequenceNumber
	nextFile  uint64
	snapshots []*Snapshot
	closed    bool
}

// Open opens the DB in dirname, creating the directory if needed. Existing
// runs are reloaded and the write sequence resumes above everything they
// contain. A nil opts uses defaults.
func Open(dirname string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = options.Default()
	}
	opts.EnsureDefaults()

	if err := os.MkdirAll(dirname, 0o755); err != nil {
		return nil, errors.Wrapf(err, "rangekv: create %s", dirname)
	}

	d := &DB{
		dirname:  dirname,
		opts:     opts,
		ucmp:     opts.Comparer,
		mem:      memtable.New(opts.Comparer),
		nextFile: 1,
	}
	if opts.BlockCacheSize > 0 {
		d.blockCache = cache.New(opts.BlockCacheSize)
	}
	if err := d.loadRuns(); err != nil {
		return nil, err
	}
	opts.Logger.Infof(logging.NSDB+"opened %s: %d runs, seq %d",
		dirname, len(d.runs), d.seq)
	return d, nil
}

// loadRuns opens every numbered run file in the directory, newest first, and
// advances the sequence counter past their contents. Leftover temp files
// from an interrupted flush or compaction are removed.
func (d *DB) loadRuns() error {
	entries, err := os.ReadDir(d.dirname)
	if err != nil {
		return errors.Wrapf(err, "rangekv: read %s", d.dirname)
	}

	var nums []uint64
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".tmp") {
			_ = os.Remove(filepath.Join(d.dirname, name))
			continue
		}
		if !strings.HasSuffix(name, runSuffix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, runSuffix), 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] > nums[j] })

	for _, n := range nums {
		path := d.runPath(n)
		r, err := run.OpenFile(path, d.ucmp)
		if err != nil {
			return errors.Wrapf(err, "rangekv: open run %06d", n)
		}
		r.SetBlockCache(d.blockCache, n, d.opts.Stats)
		d.runs = append(d.runs, &tableFile{num: n, path: path, reader: r})
		if n >= d.nextFile {
			d.nextFile = n + 1
		}
		max, err := maxSequence(r)
		if err != nil {
			return errors.Wrapf(err, "rangekv: scan run %06d", n)
		}
		if max > d.seq {
			d.seq = max
		}
	}
	return nil
}

// maxSequence scans a run's point and tombstone channels for the highest
// sequence number. Runs carry no manifest, so recovery derives the write
// sequence from their contents.
func maxSequence(r *run.Reader) (dbformat.SequenceNumber, error) {
	var max dbformat.SequenceNumber
	it, err := r.NewIterator()
	if err != nil {
		return 0, err
	}
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if s := it.Key().Seq(); s > max {
			max = s
		}
	}
	if err := it.Error(); err != nil {
		return 0, err
	}
	tombstones, err := r.Tombstones()
	if err != nil {
		return 0, err
	}
	for _, t := range tombstones {
		if t.Seq > max {
			max = t.Seq
		}
	}
	return max, nil
}

func (d *DB) runPath(num uint64) string {
	return filepath.Join(d.dirname, fmt.Sprintf("%06d%s", num, runSuffix))
}

// Close marks the DB closed. Runs are read into memory at open, so there are
// no descriptors to release; in-memory writes not flushed are discarded.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	return nil
}

// Put sets key to value.
func (d *DB) Put(key, value []byte) error {
	return d.apply(dbformat.KindValue, key, value)
}

// Delete removes key. Older versions remain readable through snapshots until
// compaction collapses them.
func (d *DB) Delete(key []byte) error {
	return d.apply(dbformat.KindDelete, key, nil)
}

// SingleDelete removes key, assuming it was written at most once since the
// last deletion.
func (d *DB) SingleDelete(key []byte) error {
	return d.apply(dbformat.KindSingleDelete, key, nil)
}

// Merge appends a merge operand for key. Requires Options.Merge.
func (d *DB) Merge(key, value []byte) error {
	if d.opts.Merge == nil {
		return errors.Wrap(ErrNotSupported, "no merge operator configured")
	}
	return d.apply(dbformat.KindMerge, key, value)
}

func (d *DB) apply(kind dbformat.ValueKind, key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.seq++
	d.mem.Add(d.seq, kind, key, value)
	d.opts.Stats.RecordTick(stats.TickerNumberKeysWritten, 1)
	return nil
}

// DeleteRange deletes every key in [start, end). The deletion is one
// tombstone record regardless of how many keys it covers, and is visible to
// reads immediately. start == end is accepted and deletes nothing. Fails
// with ErrNotSupported when the table format has no tombstone channel.
func (d *DB) DeleteRange(start, end []byte) error {
	if !d.opts.TableFormat.SupportsRangeTombstones() {
		return errors.Wrapf(ErrNotSupported,
			"table format %q cannot store range tombstones", d.opts.TableFormat)
	}
	if d.ucmp(start, end) > 0 {
		return errors.Wrapf(ErrInvalidRange, "[%q, %q)", start, end)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.seq++
	d.mem.AddRangeTombstone(d.seq, start, end)
	d.opts.Stats.RecordTick(stats.TickerNumberRangeDeletesWritten, 1)
	return nil
}
