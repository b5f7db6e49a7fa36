package sstable

import (
	"bytes"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/sstable/compression"
	"github.com/gravelhq/graveldb/internal/storage"
)

// Reader serves point lookups and iteration over one table file. The index
// and filter blocks are loaded and pinned at open time; data blocks go
// through the shared block cache.
type Reader struct {
	f    storage.Readable
	opts ReaderOptions
	icmp *base.InternalComparer

	index  []byte
	filter []byte
}

// NewReader opens a table. It parses the footer, the index block and the
// metaindex, and pins the filter when the configured policy matches the one
// the table was built with.
func NewReader(f storage.Readable, opts ReaderOptions) (*Reader, error) {
	opts = opts.withDefaults()
	r := &Reader{
		f:    f,
		opts: opts,
		icmp: base.NewInternalComparer(opts.Comparer),
	}
	ftr, err := readFooter(f)
	if err != nil {
		return nil, err
	}
	if r.index, err = r.readBlock(ftr.indexBH); err != nil {
		return nil, err
	}
	if err := r.loadFilter(ftr.metaindexBH); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) loadFilter(metaBH BlockHandle) error {
	if r.opts.FilterPolicy == nil {
		return nil
	}
	meta, err := r.readBlock(metaBH)
	if err != nil {
		return err
	}
	it, err := newBlockIter(r.icmp, meta)
	if err != nil {
		return err
	}
	want := []byte(filterKeyPrefix + r.opts.FilterPolicy.Name())
	for kv := it.First(); kv != nil; kv = it.Next() {
		if bytes.Equal(kv.K.UserKey, want) {
			fbh, err := DecodeBlockHandle(kv.V)
			if err != nil {
				return err
			}
			if r.filter, err = r.readBlock(fbh); err != nil {
				return err
			}
			break
		}
	}
	// A table built under a different policy simply goes unfiltered.
	return it.Close()
}

// readBlock returns the decoded (verified, decompressed) block at bh,
// consulting the block cache first.
func (r *Reader) readBlock(bh BlockHandle) ([]byte, error) {
	if c := r.opts.Cache; c != nil {
		if v, ok := c.Get(r.opts.FileNum, bh.Offset); ok {
			return v, nil
		}
	}

	raw := make([]byte, bh.Length+blockTrailerLen)
	if _, err := r.f.ReadAt(raw, int64(bh.Offset)); err != nil {
		return nil, err
	}
	payload := raw[:bh.Length]
	tag := raw[bh.Length]
	checksum := uint32(raw[bh.Length+1]) | uint32(raw[bh.Length+2])<<8 |
		uint32(raw[bh.Length+3])<<16 | uint32(raw[bh.Length+4])<<24
	if base.Checksum(payload, tag) != checksum {
		return nil, base.CorruptionErrorf("block checksum mismatch at offset %d", bh.Offset)
	}

	compressor, err := compression.ByType(compression.Type(tag))
	if err != nil {
		return nil, base.CorruptionErrorf("block has unknown compression tag %d", tag)
	}
	var decoded []byte
	if compression.Type(tag) == compression.None {
		decoded = payload
	} else {
		n, err := compressor.DecompressedLen(payload)
		if err != nil {
			return nil, base.CorruptionErrorf("bad compressed block at offset %d: %v", bh.Offset, err)
		}
		decoded = make([]byte, n)
		if err := compressor.Decompress(decoded, payload); err != nil {
			return nil, base.CorruptionErrorf("bad compressed block at offset %d: %v", bh.Offset, err)
		}
	}

	if c := r.opts.Cache; c != nil {
		// Cache the decoded form so repeat readers skip the checksum and
		// decompression work.
		c.Set(r.opts.FileNum, bh.Offset, decoded)
	}
	return decoded, nil
}

// Get returns the first entry with internal key >= key, restricted to the
// same user key. A filter miss short-circuits without touching data blocks.
// The caller interprets kinds and sequence visibility.
func (r *Reader) Get(key base.InternalKey) (*base.InternalKV, error) {
	if r.filter != nil && !r.opts.FilterPolicy.MayContain(r.filter, key.UserKey) {
		return nil, base.ErrNotFound
	}
	it := r.NewIterator()
	defer func() { _ = it.Close() }()
	kv := it.SeekGTE(key.Serialize())
	if err := it.Error(); err != nil {
		return nil, err
	}
	if kv == nil || r.opts.Comparer.Compare(kv.K.UserKey, key.UserKey) != 0 {
		return nil, base.ErrNotFound
	}
	// Detach from the iterator's buffers before closing it.
	out := &base.InternalKV{K: kv.K.Clone(), V: append([]byte(nil), kv.V...)}
	return out, nil
}

// NewIterator returns a two-level iterator over the table.
func (r *Reader) NewIterator() base.InternalIterator {
	index, err := newBlockIter(r.icmp, r.index)
	if err != nil {
		return newErrorIterator(err)
	}
	return &twoLevelIterator{r: r, index: index}
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// errorIterator is an iterator that is empty and carries a fixed error.
type errorIterator struct {
	err error
}

func newErrorIterator(err error) base.InternalIterator {
	return &errorIterator{err: err}
}

func (it *errorIterator) SeekGTE([]byte) *base.InternalKV { return nil }
func (it *errorIterator) SeekLT([]byte) *base.InternalKV  { return nil }
func (it *errorIterator) First() *base.InternalKV         { return nil }
func (it *errorIterator) Last() *base.InternalKV          { return nil }
func (it *errorIterator) Next() *base.InternalKV          { return nil }
func (it *errorIterator) Prev() *base.InternalKV          { return nil }
func (it *errorIterator) Error() error                    { return it.err }
func (it *errorIterator) Close() error                    { return it.err }

var _ base.InternalIterator = (*errorIterator)(nil)
