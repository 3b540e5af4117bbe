package rangekv

import (
	"context"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/rangekv/rangekv/internal/compaction"
	"github.com/rangekv/rangekv/internal/logging"
	"github.com/rangekv/rangekv/internal/run"
)

// Compact flushes the memtable and merges every run into a new bottommost
// generation. Covered point records and merge operands are dropped, merge
// chains are resolved where no snapshot observes an intermediate state, and
// tombstones older than the oldest pinned snapshot are reclaimed.
//
// The merge is sharded across disjoint key sub-ranges, up to
// Options.MaxShards at a time. Outputs are published only after every shard
// finished; cancelling ctx aborts the whole job with nothing published.
// Reads proceed concurrently against the pre-compaction runs throughout.
func (d *DB) Compact(ctx context.Context) error {
	if err := d.Flush(); err != nil {
		return err
	}

	d.compacting.Lock()
	defer d.compacting.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	inputs := append([]*tableFile(nil), d.runs...)
	snapshots := d.pinnedLocked()
	d.mu.Unlock()

	if len(inputs) == 0 {
		return nil
	}

	sources := make([]compaction.Source, len(inputs))
	for i, t := range inputs {
		sources[i] = t.reader
	}

	// Output files are created under temp names and renamed only after the
	// whole job succeeds; an aborted job leaves nothing published. A shard
	// may roll past TargetFileSize into several pieces; creation order is
	// the piece order.
	var pendingMu sync.Mutex
	pending := make(map[int][]*tableFile)

	job := &compaction.Job{
		Sources:    sources,
		Snapshots:  snapshots,
		Bottommost: true,
		Merge:      d.opts.Merge,
		Create: func(shard int) (io.WriteCloser, error) {
			d.mu.Lock()
			num := d.nextFile
			d.nextFile++
			d.mu.Unlock()

			path := d.runPath(num)
			f, err := os.Create(path + ".tmp")
			if err != nil {
				return nil, errors.Wrap(err, "rangekv: compaction output")
			}
			pendingMu.Lock()
			pending[shard] = append(pending[shard], &tableFile{num: num, path: path})
			pendingMu.Unlock()
			return &syncingFile{File: f}, nil
		},
	}

	outputs, err := compaction.RunJob(ctx, d.opts, job)
	if err != nil {
		for _, files := range pending {
			for _, t := range files {
				_ = os.Remove(t.path + ".tmp")
			}
		}
		return err
	}

	// Publish: rename the outputs in (shard, piece) order, reopen them, and
	// swap them in for the inputs under the mutex. Runs flushed while the
	// compaction ran stay in front. Within a shard, piece zero carries the
	// tombstones and is listed first so reads aggregate them before the
	// shard's point pieces.
	sort.Slice(outputs, func(i, j int) bool {
		if outputs[i].Shard != outputs[j].Shard {
			return outputs[i].Shard < outputs[j].Shard
		}
		return outputs[i].Piece < outputs[j].Piece
	})
	newRuns := make([]*tableFile, 0, len(outputs))
	for _, out := range outputs {
		t := pending[out.Shard][out.Piece]
		if err := os.Rename(t.path+".tmp", t.path); err != nil {
			return errors.Wrap(err, "rangekv: compaction publish")
		}
		reader, err := run.OpenFile(t.path, d.ucmp)
		if err != nil {
			return errors.Wrapf(err, "rangekv: reopen compacted run %06d", t.num)
		}
		reader.SetBlockCache(d.blockCache, t.num, d.opts.Stats)
		t.reader = reader
		newRuns = append(newRuns, t)
	}

	d.mu.Lock()
	kept := make([]*tableFile, 0, len(d.runs))
	for _, t := range d.runs {
		if !containsRun(inputs, t) {
			kept = append(kept, t)
		}
	}
	d.runs = append(kept, newRuns...)
	d.mu.Unlock()

	for _, t := range inputs {
		d.blockCache.EraseFile(t.num)
		if err := os.Remove(t.path); err != nil {
			d.opts.Logger.Warnf(logging.NSCompact+"remove input %06d: %v", t.num, err)
		}
	}
	d.opts.Logger.Infof(logging.NSCompact+"compacted %d runs into %d", len(inputs), len(newRuns))
	return nil
}

func containsRun(set []*tableFile, t *tableFile) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

// syncingFile syncs on close so a compaction output is durable before it is
// renamed into place.
type syncingFile struct {
	*os.File
}

func (f *syncingFile) Close() error {
	if err := f.File.Sync(); err != nil {
		_ = f.File.Close()
		return err
	}
	return f.File.Close()
}
