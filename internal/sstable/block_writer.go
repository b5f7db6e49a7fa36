package sstable

import (
	"encoding/binary"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/encoding"
)

// maximumRestartOffset is the largest entry offset a 4-byte restart point
// can express. A block never grows past it.
const maximumRestartOffset = 1<<31 - 1

// blockWriter builds one row-oriented block. Entries share key prefixes
// with their predecessor except at restart points, where the full key is
// stored:
//
//	+-----------------+---------------------+--------------------+--------------+----------------+
//	| shared (varint) | not shared (varint) | value len (varint) | key (varlen) | value (varlen) |
//	+-----------------+---------------------+--------------------+--------------+----------------+
//
// Finish appends the restart offsets and their count:
//
//	+-----------------+-----+-----------------+------------------------------+
//	| restart point 1 | ... | restart point n | restart points len (4 bytes) |
//	+-----------------+-----+-----------------+------------------------------+
type blockWriter struct {
	restartInterval  int
	nEntries         int
	nextRestartEntry int
	restarts         []uint32
	// curKey and prevKey hold the serialized internal keys of the last two
	// added entries.
	curKey  []byte
	prevKey []byte
	buf     []byte
}

func newBlockWriter(restartInterval int) *blockWriter {
	return &blockWriter{restartInterval: restartInterval}
}

func (w *blockWriter) EntryCount() int {
	return w.nEntries
}

// CurKey returns the last added key.
func (w *blockWriter) CurKey() base.InternalKey {
	return base.DeserializeKey(w.curKey)
}

// EstimatedSize is the block's size once finished.
func (w *blockWriter) EstimatedSize() int {
	return len(w.buf) + 4*(len(w.restarts)+1)
}

func (w *blockWriter) Add(key base.InternalKey, value []byte) error {
	if len(w.buf) > maximumRestartOffset {
		return base.CorruptionErrorf("block grew past the maximum restart offset")
	}

	w.prevKey, w.curKey = w.curKey, w.prevKey
	size := key.Size()
	if cap(w.curKey) < size {
		w.curKey = make([]byte, 0, 2*size)
	}
	w.curKey = w.curKey[:size]
	key.SerializeTo(w.curKey)

	var shared int
	if w.nEntries == w.nextRestartEntry {
		w.nextRestartEntry = w.nEntries + w.restartInterval
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		n := min(len(w.curKey), len(w.prevKey))
		for shared < n && w.curKey[shared] == w.prevKey[shared] {
			shared++
		}
	}

	w.buf = encoding.PutUvarint(w.buf, uint64(shared))
	w.buf = encoding.PutUvarint(w.buf, uint64(len(w.curKey)-shared))
	w.buf = encoding.PutUvarint(w.buf, uint64(len(value)))
	w.buf = append(w.buf, w.curKey[shared:]...)
	w.buf = append(w.buf, value...)
	w.nEntries++
	return nil
}

// Finish appends the restart trailer and returns the serialized block. The
// writer is reset for the next block; the returned slice is valid until the
// next Add.
func (w *blockWriter) Finish() []byte {
	if w.nEntries == 0 {
		w.restarts = append(w.restarts[:0], 0)
	}
	var tmp [4]byte
	for _, restart := range w.restarts {
		binary.LittleEndian.PutUint32(tmp[:], restart)
		w.buf = append(w.buf, tmp[:]...)
	}
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(w.restarts)))
	w.buf = append(w.buf, tmp[:]...)

	res := w.buf
	w.nEntries = 0
	w.nextRestartEntry = 0
	w.restarts = w.restarts[:0]
	w.buf = w.buf[:0]
	w.curKey = w.curKey[:0]
	w.prevKey = w.prevKey[:0]
	return res
}
