package sstable

import (
	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/encoding"
)

// blockTrailerLen is compression type (1) + checksum (4), appended to every
// physical block.
const blockTrailerLen = 5

// BlockHandle is the file offset and length of a block. Length excludes the
// trailer.
type BlockHandle struct {
	Offset uint64
	Length uint64
}

// EncodeTo appends the varint encoding of h to dst.
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = encoding.PutUvarint(dst, h.Offset)
	return encoding.PutUvarint(dst, h.Length)
}

// DecodeBlockHandle parses a handle from the front of b.
func DecodeBlockHandle(b []byte) (BlockHandle, error) {
	off, n := encoding.Uvarint(b)
	if n <= 0 {
		return BlockHandle{}, base.CorruptionErrorf("bad block handle")
	}
	length, m := encoding.Uvarint(b[n:])
	if m <= 0 {
		return BlockHandle{}, base.CorruptionErrorf("bad block handle")
	}
	return BlockHandle{Offset: off, Length: length}, nil
}
