package run

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"

	"github.com/rangekv/rangekv/internal/compression"
	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/encoding"
	"github.com/rangekv/rangekv/internal/filter"
	"github.com/rangekv/rangekv/internal/mempool"
	"github.com/rangekv/rangekv/internal/options"
	"github.com/rangekv/rangekv/internal/rangedel"
)

// Writer builds one run. Point records must be added in internal key order
// and tombstones in (start ascending, seq descending) order; the two
// channels are independent. Finish writes the trailing metadata and
// returns the run's Meta.
type Writer struct {
	w           io.Writer
	compression options.CompressionType
	blockSize   int
	icmp        *dbformat.InternalComparer
	ucmp        dbformat.Comparer

	offset uint64
	block  []byte
	index  []blockHandle
	filter *filter.Builder // nil when filters are disabled

	tombBuf      []byte
	lastTomb     rangedel.Tombstone
	haveTomb     bool
	smallestTomb dbformat.InternalKey

	lastKey       dbformat.InternalKey
	smallestPoint dbformat.InternalKey
	largest       dbformat.Boundary

	pointCount uint64
	tombCount  uint64

	finished bool
	err      error
}

// NewWriter returns a Writer emitting to w with o's compression and
// comparer. o must have its defaults filled in.
func NewWriter(w io.Writer, o *options.Options) *Writer {
	wr := &Writer{
		w:           w,
		compression: o.Compression,
		blockSize:   defaultBlockSize,
		icmp:        dbformat.NewInternalComparer(o.Comparer),
		ucmp:        o.Comparer,
		block:       mempool.GlobalPool.Get(defaultBlockSize),
		tombBuf:     mempool.GlobalPool.Get(1 << 10),
	}
	if o.BloomBitsPerKey > 0 {
		wr.filter = filter.NewBuilder(o.BloomBitsPerKey)
	}
	return wr
}

// Add appends one point record.
func (w *Writer) Add(key dbformat.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.finished {
		return ErrClosed
	}
	if w.lastKey != nil && w.icmp.Compare(key, w.lastKey) <= 0 {
		w.err = errors.Newf("run: point keys out of order: %q after %q", []byte(key), []byte(w.lastKey))
		w.releaseBuffers()
		return w.err
	}
	w.lastKey = append(w.lastKey[:0], key...)

	if w.smallestPoint == nil {
		w.smallestPoint = append(dbformat.InternalKey(nil), key...)
	}
	w.largest = w.largest.ExtendLargest(w.ucmp, dbformat.InclusiveBoundary(key.UserKey()))

	if w.filter != nil {
		w.filter.Add(key.UserKey())
	}

	w.block = encoding.AppendLengthPrefixed(w.block, key)
	w.block = encoding.AppendLengthPrefixed(w.block, value)
	w.pointCount++

	if len(w.block) >= w.blockSize {
		if err := w.flushBlock(); err != nil {
			w.releaseBuffers()
			return err
		}
	}
	return nil
}

// AddTombstone appends one range tombstone.
func (w *Writer) AddTombstone(t rangedel.Tombstone) error {
	if w.err != nil {
		return w.err
	}
	if w.finished {
		return ErrClosed
	}
	if w.haveTomb && rangedel.Compare(w.ucmp, t, w.lastTomb) < 0 {
		w.err = errors.Newf("run: tombstones out of order: %s after %s", t, w.lastTomb)
		w.releaseBuffers()
		return w.err
	}
	w.lastTomb, w.haveTomb = t, true

	start := dbformat.MakeInternalKey(t.Start, t.Seq, dbformat.KindRangeDelete)
	if w.smallestTomb == nil || w.icmp.Compare(start, w.smallestTomb) < 0 {
		w.smallestTomb = start
	}
	w.largest = w.largest.ExtendLargest(w.ucmp, dbformat.SentinelBoundary(t.End))

	w.tombBuf = encoding.AppendLengthPrefixed(w.tombBuf, t.Start)
	w.tombBuf = encoding.AppendLengthPrefixed(w.tombBuf, t.End)
	w.tombBuf = encoding.AppendVarint64(w.tombBuf, uint64(t.Seq))
	w.tombCount++
	return nil
}

// Empty reports whether nothing has been added.
func (w *Writer) Empty() bool {
	return w.pointCount == 0 && w.tombCount == 0
}

// EstimatedSize returns the bytes written so far plus pending buffers.
func (w *Writer) EstimatedSize() int64 {
	return int64(w.offset) + int64(len(w.block)) + int64(len(w.tombBuf))
}

// Finish flushes pending blocks, writes the meta, index and footer, and
// returns the run's metadata. The writer is unusable afterwards.
func (w *Writer) Finish() (Meta, error) {
	if w.err != nil {
		return Meta{}, w.err
	}
	if w.finished {
		return Meta{}, ErrClosed
	}
	w.finished = true
	defer w.releaseBuffers()

	if w.Empty() {
		w.err = errors.New("run: finishing an empty run")
		return Meta{}, w.err
	}
	if err := w.flushBlock(); err != nil {
		return Meta{}, err
	}

	var tombHandle blockHandle
	if w.tombCount > 0 {
		h, err := w.writeBlock(w.tombBuf, w.compression)
		if err != nil {
			return Meta{}, err
		}
		tombHandle = h
	}

	var filterHandle blockHandle
	if w.filter != nil {
		if data := w.filter.Finish(); data != nil {
			h, err := w.writeBlock(data, options.NoCompression)
			if err != nil {
				return Meta{}, err
			}
			filterHandle = h
		}
	}

	smallest := w.smallestPoint
	if smallest == nil || (w.smallestTomb != nil && w.icmp.Compare(w.smallestTomb, smallest) < 0) {
		smallest = w.smallestTomb
	}

	var meta []byte
	meta = encoding.AppendVarint64(meta, w.pointCount)
	meta = encoding.AppendVarint64(meta, w.tombCount)
	meta = encoding.AppendLengthPrefixed(meta, smallest)
	meta = encoding.AppendLengthPrefixed(meta, w.largest.UserKey)
	if w.largest.Exclusive {
		meta = append(meta, 1)
	} else {
		meta = append(meta, 0)
	}
	meta = encoding.AppendVarint64(meta, tombHandle.offset)
	meta = encoding.AppendVarint64(meta, tombHandle.length)
	meta = encoding.AppendVarint64(meta, filterHandle.offset)
	meta = encoding.AppendVarint64(meta, filterHandle.length)
	metaHandle, err := w.writeBlock(meta, options.NoCompression)
	if err != nil {
		return Meta{}, err
	}

	var index []byte
	index = encoding.AppendVarint64(index, uint64(len(w.index)))
	for _, h := range w.index {
		index = encoding.AppendVarint64(index, h.offset)
		index = encoding.AppendVarint64(index, h.length)
	}
	indexHandle, err := w.writeBlock(index, options.NoCompression)
	if err != nil {
		return Meta{}, err
	}

	footer := make([]byte, 0, footerLen)
	footer = encoding.AppendFixed64(footer, metaHandle.offset)
	footer = encoding.AppendFixed64(footer, metaHandle.length)
	footer = encoding.AppendFixed64(footer, indexHandle.offset)
	footer = encoding.AppendFixed64(footer, indexHandle.length)
	footer = encoding.AppendFixed32(footer, formatVersion)
	footer = encoding.AppendFixed64(footer, magic)
	if _, err := w.w.Write(footer); err != nil {
		w.err = errors.Wrap(err, "run: write footer")
		return Meta{}, w.err
	}
	w.offset += uint64(len(footer))

	return Meta{
		Smallest:       smallest,
		Largest:        w.largest,
		PointCount:     w.pointCount,
		TombstoneCount: w.tombCount,
		Size:           int64(w.offset),
	}, nil
}

// releaseBuffers returns the pooled buffers once the writer can no longer
// produce output: on Finish, successful or not, and on any Add failure.
func (w *Writer) releaseBuffers() {
	mempool.GlobalPool.Put(w.block)
	mempool.GlobalPool.Put(w.tombBuf)
	w.block, w.tombBuf = nil, nil
}

func (w *Writer) flushBlock() error {
	if len(w.block) == 0 {
		return nil
	}
	h, err := w.writeBlock(w.block, w.compression)
	if err != nil {
		return err
	}
	w.index = append(w.index, h)
	w.block = w.block[:0]
	return nil
}

// writeBlock emits payload with the block trailer and returns its handle.
// Compression falls back to raw storage when it does not shrink the
// payload.
func (w *Writer) writeBlock(payload []byte, ctype options.CompressionType) (blockHandle, error) {
	compressed, err := compression.Compress(ctype, payload)
	if err != nil {
		w.err = err
		return blockHandle{}, err
	}
	typeByte := compressionByte(ctype)
	if len(compressed) >= len(payload) {
		compressed = payload
		typeByte = compressionByte(options.NoCompression)
	}

	h := blockHandle{offset: w.offset, length: uint64(len(compressed))}

	hash := xxh3.New()
	_, _ = hash.Write(compressed)
	_, _ = hash.Write([]byte{typeByte})

	trailer := make([]byte, 0, blockTrailerLen)
	trailer = append(trailer, typeByte)
	trailer = encoding.AppendFixed64(trailer, hash.Sum64())

	if _, err := w.w.Write(compressed); err != nil {
		w.err = errors.Wrap(err, "run: write block")
		return blockHandle{}, w.err
	}
	if _, err := w.w.Write(trailer); err != nil {
		w.err = errors.Wrap(err, "run: write block trailer")
		return blockHandle{}, w.err
	}
	w.offset += h.length + blockTrailerLen
	return h, nil
}
