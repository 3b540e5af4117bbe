package rangekv

import (
	"context"
	"io"
	"os"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/rangekv/rangekv/internal/compaction"
	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/iterator"
	"github.com/rangekv/rangekv/internal/logging"
	"github.com/rangekv/rangekv/internal/memtable"
	"github.com/rangekv/rangekv/internal/rangedel"
	"github.com/rangekv/rangekv/internal/run"
	"github.com/rangekv/rangekv/internal/stats"
)

// Flush writes the active memtable to a new sorted run and publishes it.
// Point records and range tombstones travel as the run's two channels; a
// memtable holding only tombstones still produces a valid run. An empty
// memtable is a no-op.
//
// Flush runs the memtable through the same merge pipeline as compaction,
// with a single shard and a non-bottommost output: record versions covered
// by a memtable tombstone in the same snapshot stripe are dropped right
// here, while every tombstone and deletion marker is carried into the run.
//
// The memtable being written stays readable until the run is published, so
// concurrent reads never lose sight of its contents.
func (d *DB) Flush() error {
	d.flushing.Lock()
	defer d.flushing.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.imm == nil {
		if d.mem.Empty() {
			d.mu.Unlock()
			return nil
		}
		d.imm = d.mem
		d.mem = memtable.New(d.ucmp)
	}
	mem := d.imm
	snapshots := d.pinnedLocked()
	num := d.nextFile
	d.nextFile++
	d.mu.Unlock()

	path := d.runPath(num)
	meta, err := d.writeRun(path, mem, snapshots)
	if err != nil {
		return err
	}
	reader, err := run.OpenFile(path, d.ucmp)
	if err != nil {
		return errors.Wrapf(err, "rangekv: reopen flushed run %06d", num)
	}
	reader.SetBlockCache(d.blockCache, num, d.opts.Stats)

	d.mu.Lock()
	d.runs = append([]*tableFile{{num: num, path: path, reader: reader}}, d.runs...)
	d.imm = nil
	d.mu.Unlock()

	d.opts.Stats.RecordTick(stats.TickerFlushWriteBytes, uint64(meta.Size))
	d.opts.Logger.Infof(logging.NSFlush+"run %06d: %d points, %d tombstones, %d bytes",
		num, meta.PointCount, meta.TombstoneCount, meta.Size)
	return nil
}

// writeRun merges one memtable into a run at path via a temp file and rename.
func (d *DB) writeRun(path string, mem *memtable.MemTable, snapshots []dbformat.SequenceNumber) (run.Meta, error) {
	tmp := path + ".tmp"

	job := &compaction.Job{
		Sources:    []compaction.Source{newMemSource(mem, d.ucmp)},
		Snapshots:  snapshots,
		Bottommost: false,
		Merge:      d.opts.Merge,
		Create: func(int) (io.WriteCloser, error) {
			f, err := os.Create(tmp)
			if err != nil {
				return nil, errors.Wrap(err, "rangekv: flush create")
			}
			return &syncingFile{File: f}, nil
		},
	}

	// One shard, no rolling: a flush is small and its output must be a
	// single run.
	opts := *d.opts
	opts.MaxShards = 1
	opts.TargetFileSize = 0

	outputs, err := compaction.RunJob(context.Background(), &opts, job)
	if err != nil {
		_ = os.Remove(tmp)
		return run.Meta{}, errors.Wrap(err, "rangekv: flush")
	}
	if len(outputs) == 0 {
		// Nothing survived. Possible only when every record was shadow
		// collapsed and no tombstone existed, which Empty() screens out.
		_ = os.Remove(tmp)
		return run.Meta{}, errors.AssertionFailedf("rangekv: flush produced no output")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return run.Meta{}, errors.Wrap(err, "rangekv: flush publish")
	}
	return outputs[0].Meta, nil
}

// memSource adapts a memtable to the compaction input interface.
type memSource struct {
	mem  *memtable.MemTable
	ucmp dbformat.Comparer
}

func newMemSource(mem *memtable.MemTable, ucmp dbformat.Comparer) *memSource {
	return &memSource{mem: mem, ucmp: ucmp}
}

func (s *memSource) Meta() run.Meta {
	var meta run.Meta
	icmp := dbformat.NewInternalComparer(s.ucmp)
	it := s.mem.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		k := append(dbformat.InternalKey(nil), it.Key()...)
		if meta.Smallest == nil {
			meta.Smallest = k
		}
		meta.Largest = meta.Largest.ExtendLargest(s.ucmp, dbformat.InclusiveBoundary(k.UserKey()))
		meta.PointCount++
	}
	for _, t := range s.mem.Tombstones() {
		start := dbformat.MakeInternalKey(t.Start, t.Seq, dbformat.KindRangeDelete)
		if meta.Smallest == nil || icmp.Compare(start, meta.Smallest) < 0 {
			meta.Smallest = start
		}
		meta.Largest = meta.Largest.ExtendLargest(s.ucmp, dbformat.SentinelBoundary(t.End))
		meta.TombstoneCount++
	}
	return meta
}

func (s *memSource) NewIterator() (iterator.Iterator, error) {
	return s.mem.NewIterator(), nil
}

// Tombstones returns the raw tombstones sorted by start key, the order the
// aggregator requires.
func (s *memSource) Tombstones() ([]rangedel.Tombstone, error) {
	tombstones := s.mem.Tombstones()
	sort.SliceStable(tombstones, func(i, j int) bool {
		return rangedel.Compare(s.ucmp, tombstones[i], tombstones[j]) < 0
	})
	return tombstones, nil
}
