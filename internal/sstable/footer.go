package sstable

import (
	"encoding/binary"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/storage"
)

// The footer is the fixed-size tail of a table file:
//
//	+----------------------+-------------------+---------+-----------+
//	| metaindex BH (var)   |  index BH (var)   | padding | magic (8) |
//	+----------------------+-------------------+---------+-----------+
//
// Both handles are varint encoded and the whole footer is padded to
// footerLen so a reader can locate it from the file size alone.
const (
	footerLen  = 48
	tableMagic = 0x8774c8a5b6e4d5f1
)

type footer struct {
	metaindexBH BlockHandle
	indexBH     BlockHandle
}

func (f footer) serialize() []byte {
	buf := make([]byte, footerLen)
	n := copy(buf, f.metaindexBH.EncodeTo(nil))
	n += copy(buf[n:], f.indexBH.EncodeTo(nil))
	binary.LittleEndian.PutUint64(buf[footerLen-8:], tableMagic)
	return buf
}

func readFooter(f storage.Readable) (footer, error) {
	size := f.Size()
	if size < footerLen {
		return footer{}, base.CorruptionErrorf("table file of %d bytes is too short", size)
	}
	var buf [footerLen]byte
	if _, err := f.ReadAt(buf[:], int64(size)-footerLen); err != nil {
		return footer{}, err
	}
	if binary.LittleEndian.Uint64(buf[footerLen-8:]) != tableMagic {
		return footer{}, base.CorruptionErrorf("bad table magic number")
	}
	metaBH, err := DecodeBlockHandle(buf[:])
	if err != nil {
		return footer{}, err
	}
	rest := buf[len(metaBH.EncodeTo(nil)):]
	indexBH, err := DecodeBlockHandle(rest)
	if err != nil {
		return footer{}, err
	}
	return footer{metaindexBH: metaBH, indexBH: indexBH}, nil
}
