package compaction

import (
	"context"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/iterator"
	"github.com/rangekv/rangekv/internal/options"
	"github.com/rangekv/rangekv/internal/rangedel"
	"github.com/rangekv/rangekv/internal/run"
	"github.com/rangekv/rangekv/internal/stats"
)

// cancelCheckInterval is how many records a shard processes between
// context checks.
const cancelCheckInterval = 1024

// RunJob plans the shards for job and runs them in parallel. Outputs are
// returned in (shard, piece) order; shards that produced nothing are
// omitted. On any error every shard is cancelled and no output is
// returned, leaving publication entirely to the caller.
func RunJob(ctx context.Context, o *options.Options, job *Job) ([]Output, error) {
	if len(job.Sources) == 0 {
		return nil, nil
	}
	metas := make([]run.Meta, len(job.Sources))
	for i, src := range job.Sources {
		metas[i] = src.Meta()
	}
	shards := PlanShards(o.Comparer, metas, o.MaxShards)

	o.Logger.Infof("compaction: %d sources, %d shards, bottommost=%v",
		len(job.Sources), len(shards), job.Bottommost)

	outputs := make([][]Output, len(shards))
	shardStats := make([]ShardStats, len(shards))
	g, ctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			outs, st, err := runShard(ctx, o, job, i, shard)
			if err != nil {
				return err
			}
			outputs[i] = outs
			shardStats[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var result []Output
	var total ShardStats
	for i, outs := range outputs {
		total.add(shardStats[i])
		result = append(result, outs...)
	}
	recordStats(o.Stats, total)
	o.Logger.Infof("compaction: wrote %d runs, dropped %d covered, %d shadowed, %d obsolete",
		len(result), total.DroppedRangeDel, total.DroppedShadowed, total.TombstonesObsolete)
	return result, nil
}

func recordStats(s *stats.Statistics, t ShardStats) {
	s.RecordTick(stats.TickerCompactionKeyDropRangeDel, t.DroppedRangeDel)
	s.RecordTick(stats.TickerCompactionKeyDropNewerEntry, t.DroppedShadowed)
	s.RecordTick(stats.TickerCompactionKeyDropObsolete, t.DroppedObsolete)
	s.RecordTick(stats.TickerCompactionRangeDelDropObsolete, t.TombstonesObsolete)
}

// runShard compacts one key sub-range. The outputs are empty when the shard
// had nothing to write; the stats are reported either way.
func runShard(ctx context.Context, o *options.Options, job *Job, index int, shard Shard) ([]Output, ShardStats, error) {
	agg := rangedel.NewCompactionAggregator(o.Comparer, job.oldestSnapshot(), shard.Lower, shard.Upper)
	iters := make([]iterator.Iterator, 0, len(job.Sources))
	for _, src := range job.Sources {
		tombs, err := src.Tombstones()
		if err != nil {
			return nil, ShardStats{}, err
		}
		if err := agg.AddStream(tombs); err != nil {
			return nil, ShardStats{}, errors.Mark(err, ErrCorruption)
		}
		it, err := src.NewIterator()
		if err != nil {
			return nil, ShardStats{}, err
		}
		iters = append(iters, it)
	}

	p := &shardProcessor{
		ctx:   ctx,
		o:     o,
		job:   job,
		index: index,
		shard: shard,
		agg:   agg,
		icmp:  dbformat.NewInternalComparer(o.Comparer),
	}

	// The surviving tombstones go into the shard's first piece, ahead of
	// the point scan. Readers visit a shard's pieces newest first, so the
	// tombstones are always aggregated before any point piece they cover.
	kept, obsolete := agg.Surviving(job.Bottommost)
	p.stats.TombstonesObsolete = uint64(obsolete)
	for _, t := range kept {
		if err := p.ensureWriter(); err != nil {
			return nil, ShardStats{}, err
		}
		if err := p.writer.AddTombstone(t); err != nil {
			return nil, ShardStats{}, err
		}
		p.stats.TombstonesKept++
	}

	merged := iterator.NewMergingIterator(p.icmp, iters...)
	if shard.Lower != nil {
		merged.Seek(dbformat.MakeInternalKey(shard.Lower, dbformat.MaxSequenceNumber, dbformat.KindMax))
	} else {
		merged.SeekToFirst()
	}

	for ; merged.Valid(); merged.Next() {
		if p.stats.InputRecords%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, ShardStats{}, err
			}
		}
		key := merged.Key()
		if shard.Upper != nil && o.Comparer(key.UserKey(), shard.Upper) >= 0 {
			break
		}
		if err := p.process(key, merged.Value()); err != nil {
			return nil, ShardStats{}, err
		}
	}
	if err := merged.Error(); err != nil {
		return nil, ShardStats{}, err
	}
	if err := p.flushMerge(); err != nil {
		return nil, ShardStats{}, err
	}

	outs, err := p.finish()
	return outs, p.stats, err
}

// shardProcessor carries the per-shard mutable state: the lazily opened
// output writer, the last key for order validation, the snapshot-stripe
// collapse state and the merge accumulator.
type shardProcessor struct {
	ctx   context.Context
	o     *options.Options
	job   *Job
	index int
	shard Shard
	agg   *rangedel.CompactionAggregator
	icmp  *dbformat.InternalComparer

	writer *run.Writer
	closer io.Closer

	outputs     []Output
	piece       int
	pendingRoll bool

	lastKey dbformat.InternalKey

	curKey       []byte
	keptStripe   int // -1 until a version of curKey is kept
	keptTerminal bool

	merging         bool
	mergeOps        []mergeOp // newest first
	mergeBase       []byte
	mergeBaseSeq    dbformat.SequenceNumber
	hasBase         bool
	mergeTerminated bool

	stats ShardStats
}

// mergeOp is one surviving merge operand with its original sequence number.
type mergeOp struct {
	seq   dbformat.SequenceNumber
	value []byte
}

// stripeOf returns the snapshot stripe of seq: the index of the first
// pinned snapshot at or above it. Two sequence numbers share a stripe
// exactly when no pinned snapshot separates them.
func (p *shardProcessor) stripeOf(seq dbformat.SequenceNumber) int {
	s := p.job.Snapshots
	return sort.Search(len(s), func(i int) bool { return s[i] >= seq })
}

func (p *shardProcessor) process(key dbformat.InternalKey, value []byte) error {
	if p.lastKey != nil && p.icmp.Compare(key, p.lastKey) <= 0 {
		return errors.Wrapf(ErrCorruption, "input keys out of order: %q after %q",
			[]byte(key), []byte(p.lastKey))
	}
	p.lastKey = append(p.lastKey[:0], key...)
	p.stats.InputRecords++

	userKey := key.UserKey()
	seq := key.Seq()
	kind := key.Kind()

	if p.curKey == nil || p.o.Comparer(userKey, p.curKey) != 0 {
		if err := p.flushMerge(); err != nil {
			return err
		}
		// Rolling only between user keys keeps every version of a key,
		// and its resolved merge output, in one file.
		if p.pendingRoll {
			if err := p.roll(); err != nil {
				return err
			}
		}
		p.curKey = append(p.curKey[:0], userKey...)
		p.keptStripe = -1
		p.keptTerminal = false
	}

	// Range tombstone suppression. A record is dropped when a newer
	// tombstone covers it and no pinned snapshot falls between the two.
	if coverSeq, ok := p.agg.MaxCoveringSeq(userKey); ok && coverSeq > seq {
		if p.stripeOf(seq) == p.stripeOf(coverSeq) {
			p.stats.DroppedRangeDel++
			return nil
		}
	}

	stripe := p.stripeOf(seq)
	if p.keptStripe == stripe && p.keptTerminal {
		// A newer terminal version in the same stripe shadows this one.
		p.stats.DroppedShadowed++
		return nil
	}

	switch kind {
	case dbformat.KindMerge:
		if p.job.Merge == nil {
			p.keptStripe, p.keptTerminal = stripe, false
			return p.emit(key, value)
		}
		p.merging = true
		p.mergeOps = append(p.mergeOps, mergeOp{seq: seq, value: append([]byte(nil), value...)})
		p.keptStripe, p.keptTerminal = stripe, false
		return nil

	case dbformat.KindValue:
		if p.merging {
			p.mergeBase = append([]byte(nil), value...)
			p.mergeBaseSeq = seq
			p.hasBase = true
			p.mergeTerminated = true
			p.keptStripe, p.keptTerminal = stripe, true
			return p.flushMerge()
		}
		p.keptStripe, p.keptTerminal = stripe, true
		return p.emit(key, value)

	case dbformat.KindDelete, dbformat.KindSingleDelete:
		if p.merging {
			// The deletion terminates the chain: everything older is
			// dead, so the operands resolve against no base value.
			p.mergeTerminated = true
			if err := p.flushMerge(); err != nil {
				return err
			}
		}
		p.keptStripe, p.keptTerminal = stripe, true
		if p.job.Bottommost && seq <= p.job.oldestSnapshot() {
			// Nothing below the bottommost level can resurrect, so the
			// marker itself is dead weight.
			p.stats.DroppedObsolete++
			return nil
		}
		return p.emit(key, value)
	}
	p.keptStripe, p.keptTerminal = stripe, false
	return p.emit(key, value)
}

// flushMerge finishes an accumulated merge-operand chain. The chain is
// resolved into a single value only when its outcome is fully known (a base
// value or deletion terminated it, or the output is bottommost) and no
// pinned snapshot falls inside it; otherwise the surviving operands pass
// through unresolved so older data and snapshots still compose correctly.
func (p *shardProcessor) flushMerge() error {
	if !p.merging {
		return nil
	}
	ops := p.mergeOps
	base := p.mergeBase
	baseSeq := p.mergeBaseSeq
	hasBase := p.hasBase
	terminated := p.mergeTerminated
	key := append([]byte(nil), p.curKey...)
	p.merging = false
	p.mergeOps = nil
	p.mergeBase = nil
	p.hasBase = false
	p.mergeTerminated = false

	if len(ops) == 0 {
		if hasBase {
			return p.emit(dbformat.MakeInternalKey(key, baseSeq, dbformat.KindValue), base)
		}
		return nil
	}

	resolvable := terminated || p.job.Bottommost
	if resolvable {
		newest := p.stripeOf(ops[0].seq)
		oldest := ops[len(ops)-1].seq
		if hasBase {
			oldest = baseSeq
		}
		if p.stripeOf(oldest) != newest {
			resolvable = false
		}
	}

	if !resolvable {
		for _, op := range ops {
			if err := p.emit(dbformat.MakeInternalKey(key, op.seq, dbformat.KindMerge), op.value); err != nil {
				return err
			}
		}
		if hasBase {
			return p.emit(dbformat.MakeInternalKey(key, baseSeq, dbformat.KindValue), base)
		}
		return nil
	}

	// FullMerge takes operands oldest first.
	operands := make([][]byte, len(ops))
	for i, op := range ops {
		operands[len(ops)-1-i] = op.value
	}
	var existing []byte
	if hasBase {
		existing = base
	}
	merged, ok := p.job.Merge.FullMerge(key, existing, operands)
	if !ok {
		return errors.Newf("compaction: merge operator failed for key %q", key)
	}
	return p.emit(dbformat.MakeInternalKey(key, ops[0].seq, dbformat.KindValue), merged)
}

func (p *shardProcessor) emit(key dbformat.InternalKey, value []byte) error {
	if err := p.ensureWriter(); err != nil {
		return err
	}
	if err := p.writer.Add(key, value); err != nil {
		return err
	}
	p.stats.OutputRecords++
	if p.o.TargetFileSize > 0 && p.writer.EstimatedSize() >= p.o.TargetFileSize {
		p.pendingRoll = true
	}
	return nil
}

func (p *shardProcessor) ensureWriter() error {
	if p.writer != nil {
		return nil
	}
	w, err := p.job.Create(p.index)
	if err != nil {
		return err
	}
	p.closer = w
	p.writer = run.NewWriter(w, p.o)
	return nil
}

// roll closes the current output piece and arranges for the next emit to
// open a fresh one.
func (p *shardProcessor) roll() error {
	p.pendingRoll = false
	if p.writer == nil {
		return nil
	}
	meta, err := p.writer.Finish()
	if err != nil {
		_ = p.closer.Close()
		return err
	}
	if err := p.closer.Close(); err != nil {
		return err
	}
	p.outputs = append(p.outputs, Output{Shard: p.index, Piece: p.piece, Meta: meta})
	p.writer, p.closer = nil, nil
	p.piece++
	return nil
}

// finish completes the shard's last open piece, if any, and returns every
// piece the shard produced.
func (p *shardProcessor) finish() ([]Output, error) {
	if p.writer != nil {
		if err := p.roll(); err != nil {
			return nil, err
		}
	}
	return p.outputs, nil
}
