package wal

import (
	"encoding/binary"
	"io"

	"github.com/gravelhq/graveldb/internal/base"
)

// Syncer is the subset of the storage handle the writer needs for
// durability.
type Syncer interface {
	Sync() error
}

// Writer appends framed records to a log file. It is not safe for
// concurrent use; the coordinator serializes writers.
type Writer struct {
	w io.Writer
	s Syncer
	// blockOffset is the write offset within the current physical block.
	blockOffset int
	buf         [headerSize]byte
}

// NewWriter wraps an open log file. When the file was recovered with
// existing data, initialOffset must be its length so block accounting stays
// aligned.
func NewWriter(w io.Writer, initialOffset int64) *Writer {
	wr := &Writer{w: w, blockOffset: int(initialOffset % BlockSize)}
	if s, ok := w.(Syncer); ok {
		wr.s = s
	}
	return wr
}

// AddRecord appends one logical record. The record is only considered
// committed once AddRecord returns and, per the durability mode, Sync has
// succeeded.
func (w *Writer) AddRecord(p []byte) error {
	begin := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < headerSize {
			// Pad the tail; readers treat it as zeroType chunks.
			if leftover > 0 {
				var pad [headerSize - 1]byte
				if _, err := w.w.Write(pad[:leftover]); err != nil {
					return err
				}
			}
			w.blockOffset = 0
			leftover = BlockSize
		}

		avail := leftover - headerSize
		frag := p
		if len(frag) > avail {
			frag = frag[:avail]
		}

		var rt RecordType
		end := len(frag) == len(p)
		switch {
		case begin && end:
			rt = FullType
		case begin:
			rt = FirstType
		case end:
			rt = LastType
		default:
			rt = MiddleType
		}

		if err := w.emitChunk(rt, frag); err != nil {
			return err
		}
		p = p[len(frag):]
		begin = false
		if end {
			return nil
		}
	}
}

func (w *Writer) emitChunk(rt RecordType, p []byte) error {
	if len(p) > BlockSize-headerSize {
		return ErrDataTooLarge
	}
	checksum := base.Checksum(p, byte(rt))
	binary.LittleEndian.PutUint32(w.buf[0:4], checksum)
	binary.LittleEndian.PutUint16(w.buf[4:6], uint16(len(p)))
	w.buf[6] = byte(rt)

	if _, err := w.w.Write(w.buf[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(p); err != nil {
		return err
	}
	w.blockOffset += headerSize + len(p)
	return nil
}

// Sync flushes written records to stable storage.
func (w *Writer) Sync() error {
	if w.s == nil {
		return nil
	}
	return w.s.Sync()
}
