package run

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"

	"github.com/rangekv/rangekv/internal/cache"
	"github.com/rangekv/rangekv/internal/compression"
	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/encoding"
	"github.com/rangekv/rangekv/internal/filter"
	"github.com/rangekv/rangekv/internal/iterator"
	"github.com/rangekv/rangekv/internal/rangedel"
	"github.com/rangekv/rangekv/internal/stats"
)

// Reader decodes a finished run. Blocks are checksum-verified and
// decompressed on first access; a shared block cache, when attached, keeps
// decoded blocks across accesses.
type Reader struct {
	data []byte
	ucmp dbformat.Comparer

	meta   Meta
	index  []blockHandle
	tomb   blockHandle
	hasTmb bool
	filter *filter.Filter

	blockCache *cache.Cache
	fileNum    uint64
	stats      *stats.Statistics
}

// NewReader opens a run held in memory. cmp must match the comparer the
// run was written with.
func NewReader(data []byte, cmp dbformat.Comparer) (*Reader, error) {
	if cmp == nil {
		cmp = dbformat.BytewiseComparer
	}
	r := &Reader{data: data, ucmp: cmp}
	if err := r.parseFooter(); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenFile reads path entirely and opens it as a run.
func OpenFile(path string, cmp dbformat.Comparer) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "run: open")
	}
	return NewReader(data, cmp)
}

// Meta returns the run's boundary metadata and counts.
func (r *Reader) Meta() Meta {
	return r.meta
}

// SetBlockCache attaches a shared block cache. fileNum distinguishes this
// run's blocks from other runs in the same cache; st, when non-nil, receives
// hit and miss tickers.
func (r *Reader) SetBlockCache(c *cache.Cache, fileNum uint64, st *stats.Statistics) {
	r.blockCache = c
	r.fileNum = fileNum
	r.stats = st
}

// MayContain reports whether the run may hold a point record for userKey.
// False means it definitely does not. Runs written without a filter always
// report true.
func (r *Reader) MayContain(userKey []byte) bool {
	return r.filter.MayContain(userKey)
}

func (r *Reader) parseFooter() error {
	if len(r.data) < footerLen {
		return errors.Wrapf(ErrCorruption, "file too short: %d bytes", len(r.data))
	}
	footer := r.data[len(r.data)-footerLen:]
	if encoding.DecodeFixed64(footer[36:]) != magic {
		return errors.Wrap(ErrCorruption, "bad magic")
	}
	if v := encoding.DecodeFixed32(footer[32:]); v != formatVersion {
		return errors.Wrapf(ErrCorruption, "unsupported format version %d", v)
	}
	metaHandle := blockHandle{
		offset: encoding.DecodeFixed64(footer[0:]),
		length: encoding.DecodeFixed64(footer[8:]),
	}
	indexHandle := blockHandle{
		offset: encoding.DecodeFixed64(footer[16:]),
		length: encoding.DecodeFixed64(footer[24:]),
	}
	if err := r.parseMeta(metaHandle); err != nil {
		return err
	}
	return r.parseIndex(indexHandle)
}

func (r *Reader) parseMeta(h blockHandle) error {
	block, err := r.readBlock(h)
	if err != nil {
		return err
	}
	pointCount, n, err := encoding.DecodeVarint64(block)
	if err != nil {
		return errors.Wrap(ErrCorruption, "meta block point count")
	}
	tombCount, w, err := encoding.DecodeVarint64(block[n:])
	if err != nil {
		return errors.Wrap(ErrCorruption, "meta block tombstone count")
	}
	n += w
	smallest, w, err := encoding.DecodeLengthPrefixed(block[n:])
	if err != nil {
		return errors.Wrap(ErrCorruption, "meta block smallest")
	}
	n += w
	largestKey, w, err := encoding.DecodeLengthPrefixed(block[n:])
	if err != nil {
		return errors.Wrap(ErrCorruption, "meta block largest")
	}
	n += w
	if n >= len(block) {
		return errors.Wrap(ErrCorruption, "meta block truncated")
	}
	exclusive := block[n] == 1
	n++
	tombOff, w, err := encoding.DecodeVarint64(block[n:])
	if err != nil {
		return errors.Wrap(ErrCorruption, "meta block tombstone handle")
	}
	n += w
	tombLen, w, err := encoding.DecodeVarint64(block[n:])
	if err != nil {
		return errors.Wrap(ErrCorruption, "meta block tombstone handle")
	}
	n += w
	filterOff, w, err := encoding.DecodeVarint64(block[n:])
	if err != nil {
		return errors.Wrap(ErrCorruption, "meta block filter handle")
	}
	n += w
	filterLen, _, err := encoding.DecodeVarint64(block[n:])
	if err != nil {
		return errors.Wrap(ErrCorruption, "meta block filter handle")
	}

	r.meta = Meta{
		Smallest:       dbformat.InternalKey(smallest),
		Largest:        dbformat.Boundary{UserKey: largestKey, Exclusive: exclusive},
		PointCount:     pointCount,
		TombstoneCount: tombCount,
		Size:           int64(len(r.data)),
	}
	if tombCount > 0 {
		r.tomb = blockHandle{offset: tombOff, length: tombLen}
		r.hasTmb = true
	}
	if filterLen > 0 {
		data, err := r.readBlock(blockHandle{offset: filterOff, length: filterLen})
		if err != nil {
			return err
		}
		r.filter = filter.Decode(data)
	}
	return nil
}

func (r *Reader) parseIndex(h blockHandle) error {
	block, err := r.readBlock(h)
	if err != nil {
		return err
	}
	count, n, err := encoding.DecodeVarint64(block)
	if err != nil {
		return errors.Wrap(ErrCorruption, "index block count")
	}
	r.index = make([]blockHandle, 0, count)
	for i := uint64(0); i < count; i++ {
		off, w, err := encoding.DecodeVarint64(block[n:])
		if err != nil {
			return errors.Wrap(ErrCorruption, "index block handle")
		}
		n += w
		length, w, err := encoding.DecodeVarint64(block[n:])
		if err != nil {
			return errors.Wrap(ErrCorruption, "index block handle")
		}
		n += w
		r.index = append(r.index, blockHandle{offset: off, length: length})
	}
	return nil
}

// readBlock verifies and decompresses the block at h, consulting the block
// cache when one is attached.
func (r *Reader) readBlock(h blockHandle) ([]byte, error) {
	cacheKey := cache.Key{File: r.fileNum, Offset: h.offset}
	if r.blockCache != nil {
		if block := r.blockCache.Get(cacheKey); block != nil {
			r.stats.RecordTick(stats.TickerBlockCacheHit, 1)
			return block, nil
		}
		r.stats.RecordTick(stats.TickerBlockCacheMiss, 1)
	}

	end := h.offset + h.length + blockTrailerLen
	if end < h.offset || end > uint64(len(r.data)) {
		return nil, errors.Wrapf(ErrCorruption, "block handle out of range: %d+%d", h.offset, h.length)
	}
	payload := r.data[h.offset : h.offset+h.length]
	trailer := r.data[h.offset+h.length : end]

	hash := xxh3.New()
	_, _ = hash.Write(payload)
	_, _ = hash.Write(trailer[:1])
	if got, want := hash.Sum64(), encoding.DecodeFixed64(trailer[1:]); got != want {
		return nil, errors.Wrapf(ErrCorruption, "block checksum mismatch at offset %d", h.offset)
	}

	ctype, err := compressionFromByte(trailer[0])
	if err != nil {
		return nil, err
	}
	out, err := compression.Decompress(ctype, payload)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruption, "block at offset %d", h.offset)
	}
	r.blockCache.Add(cacheKey, out)
	return out, nil
}

// NewIterator returns a forward iterator over the run's point records.
func (r *Reader) NewIterator() (iterator.Iterator, error) {
	entries := make([]iterator.Entry, 0, r.meta.PointCount)
	for _, h := range r.index {
		block, err := r.readBlock(h)
		if err != nil {
			return nil, err
		}
		n := 0
		for n < len(block) {
			key, w, err := encoding.DecodeLengthPrefixed(block[n:])
			if err != nil {
				return nil, errors.Wrap(ErrCorruption, "point entry key")
			}
			n += w
			value, w, err := encoding.DecodeLengthPrefixed(block[n:])
			if err != nil {
				return nil, errors.Wrap(ErrCorruption, "point entry value")
			}
			n += w
			entries = append(entries, iterator.Entry{Key: dbformat.InternalKey(key), Value: value})
		}
	}
	return iterator.NewSliceIterator(dbformat.NewInternalComparer(r.ucmp), entries), nil
}

// Tombstones decodes the run's range tombstones in stored order.
func (r *Reader) Tombstones() ([]rangedel.Tombstone, error) {
	if !r.hasTmb {
		return nil, nil
	}
	block, err := r.readBlock(r.tomb)
	if err != nil {
		return nil, err
	}
	out := make([]rangedel.Tombstone, 0, r.meta.TombstoneCount)
	n := 0
	for n < len(block) {
		start, w, err := encoding.DecodeLengthPrefixed(block[n:])
		if err != nil {
			return nil, errors.Wrap(ErrCorruption, "tombstone start")
		}
		n += w
		end, w, err := encoding.DecodeLengthPrefixed(block[n:])
		if err != nil {
			return nil, errors.Wrap(ErrCorruption, "tombstone end")
		}
		n += w
		seq, w, err := encoding.DecodeVarint64(block[n:])
		if err != nil {
			return nil, errors.Wrap(ErrCorruption, "tombstone seq")
		}
		n += w
		out = append(out, rangedel.Tombstone{
			Start: start,
			End:   end,
			Seq:   dbformat.SequenceNumber(seq),
		})
	}
	return out, nil
}
