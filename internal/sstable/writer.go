package sstable

import (
	"fmt"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/sstable/compression"
	"github.com/gravelhq/graveldb/internal/storage"
)

// metaindex entries are named "filter." + policy name.
const filterKeyPrefix = "filter."

// Writer builds one immutable table file from internal keys added in
// strictly increasing order. Tables are either created for writing or
// opened for reading, never both.
type Writer struct {
	w    storage.Writable
	opts WriterOptions
	icmp *base.InternalComparer

	dataBlock  *blockWriter
	indexBlock *blockWriter
	filter     base.IFilterWriter
	offset     uint64
	nEntries   int

	// lastKey is a stable copy of the newest added key, used for order
	// validation and index separators.
	lastKey  base.InternalKey
	hasLast  bool
	pending  bool
	pendingH BlockHandle

	compressBuf []byte
	err         error
	closed      bool
}

// NewWriter starts a table over w. The caller owns syncing and closing
// semantics via Close.
func NewWriter(w storage.Writable, opts WriterOptions) *Writer {
	opts = opts.withDefaults()
	tw := &Writer{
		w:          w,
		opts:       opts,
		icmp:       base.NewInternalComparer(opts.Comparer),
		dataBlock:  newBlockWriter(opts.BlockRestartInterval),
		// Every index entry is a restart point so the index binary-searches
		// exactly.
		indexBlock: newBlockWriter(1),
	}
	if opts.FilterPolicy != nil {
		tw.filter = opts.FilterPolicy.NewWriter()
	}
	return tw
}

// EntryCount returns the number of entries added so far.
func (w *Writer) EntryCount() int {
	return w.nEntries
}

// EstimatedSize returns the file size written plus the buffered block.
func (w *Writer) EstimatedSize() uint64 {
	return w.offset + uint64(w.dataBlock.EstimatedSize())
}

// Error returns the writer's accumulated error.
func (w *Writer) Error() error {
	return w.err
}

// Add appends an entry. Keys must arrive in strictly increasing internal
// key order.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return base.ErrClosed
	}
	if w.hasLast {
		if c := w.icmp.CompareKey(w.lastKey, key); c >= 0 {
			w.err = fmt.Errorf("%w: keys must be added in strictly increasing order", base.ErrInvalidArgument)
			return w.err
		}
	}

	if w.pending {
		// The previous block is on disk: emit its index entry now that the
		// separator's upper bound is known.
		sep := w.icmp.Separator(w.lastKey, key)
		if err := w.addIndexEntry(sep, w.pendingH); err != nil {
			return err
		}
		w.pending = false
	}

	if w.filter != nil {
		w.filter.Add(key.UserKey)
	}
	if err := w.dataBlock.Add(key, value); err != nil {
		w.err = err
		return err
	}
	w.lastKey = key.Clone()
	w.hasLast = true
	w.nEntries++

	if w.shouldFinishBlock() {
		return w.finishDataBlock()
	}
	return nil
}

func (w *Writer) shouldFinishBlock() bool {
	est := w.dataBlock.EstimatedSize()
	if est >= w.opts.BlockSize {
		return true
	}
	// Finish early when the block is nearly full; the next entry would
	// overshoot the target more than stopping here undershoots it.
	return est >= int(float64(w.opts.BlockSize)*w.opts.BlockSizeThreshold) &&
		w.dataBlock.EntryCount() >= 2*w.opts.BlockRestartInterval
}

func (w *Writer) addIndexEntry(sep base.InternalKey, bh BlockHandle) error {
	if err := w.indexBlock.Add(sep, bh.EncodeTo(nil)); err != nil {
		w.err = err
		return err
	}
	return nil
}

func (w *Writer) finishDataBlock() error {
	if w.dataBlock.EntryCount() == 0 {
		return nil
	}
	bh, err := w.writeBlock(w.dataBlock.Finish(), w.opts.Compression)
	if err != nil {
		w.err = err
		return err
	}
	w.pendingH = bh
	w.pending = true
	return nil
}

// writeBlock compresses b, appends the 5-byte trailer (compression tag +
// checksum) and writes the physical block at the current offset.
func (w *Writer) writeBlock(b []byte, ct compression.Type) (BlockHandle, error) {
	compressor, err := compression.ByType(ct)
	if err != nil {
		return BlockHandle{}, err
	}
	payload := b
	tag := compression.None
	if ct != compression.None {
		w.compressBuf = compressor.Compress(w.compressBuf[:0], b)
		// Keep the raw bytes when compression does not pay for itself.
		if len(w.compressBuf) < len(b)-len(b)/8 {
			payload = w.compressBuf
			tag = ct
		}
	}

	var trailer [blockTrailerLen]byte
	trailer[0] = byte(tag)
	checksum := base.Checksum(payload, byte(tag))
	trailer[1] = byte(checksum)
	trailer[2] = byte(checksum >> 8)
	trailer[3] = byte(checksum >> 16)
	trailer[4] = byte(checksum >> 24)

	if _, err := w.w.Write(payload); err != nil {
		return BlockHandle{}, err
	}
	if _, err := w.w.Write(trailer[:]); err != nil {
		return BlockHandle{}, err
	}
	bh := BlockHandle{Offset: w.offset, Length: uint64(len(payload))}
	w.offset += uint64(len(payload)) + blockTrailerLen
	return bh, nil
}

// Close finalizes the table: the tail data block, the filter and metaindex
// blocks, the index block and the footer, then syncs and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return base.ErrClosed
	}
	w.closed = true
	if w.err == nil {
		w.err = w.finish()
	}
	if cerr := w.w.Close(); w.err == nil {
		w.err = cerr
	}
	return w.err
}

func (w *Writer) finish() error {
	if err := w.finishDataBlock(); err != nil {
		return err
	}
	if w.pending {
		succ := w.icmp.Successor(w.lastKey)
		if err := w.addIndexEntry(succ, w.pendingH); err != nil {
			return err
		}
		w.pending = false
	}

	// Filter and metaindex blocks are small and probed rarely; store raw.
	meta := newBlockWriter(1)
	if w.filter != nil && w.nEntries > 0 {
		var filterData []byte
		w.filter.Build(&filterData)
		fbh, err := w.writeBlock(filterData, compression.None)
		if err != nil {
			return err
		}
		name := []byte(filterKeyPrefix + w.opts.FilterPolicy.Name())
		if err := meta.Add(base.InternalKey{UserKey: name}, fbh.EncodeTo(nil)); err != nil {
			return err
		}
	}
	metaBH, err := w.writeBlock(meta.Finish(), compression.None)
	if err != nil {
		return err
	}

	indexBH, err := w.writeBlock(w.indexBlock.Finish(), w.opts.Compression)
	if err != nil {
		return err
	}

	ftr := footer{metaindexBH: metaBH, indexBH: indexBH}
	if _, err := w.w.Write(ftr.serialize()); err != nil {
		return err
	}
	w.offset += footerLen
	return w.w.Sync()
}
