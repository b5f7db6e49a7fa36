package sstable

import (
	"encoding/binary"

	"github.com/gravelhq/graveldb/internal/base"
)

// blockIter iterates one decoded row-oriented block in both directions. The
// returned InternalKV stays valid until the next positioning call.
type blockIter struct {
	icmp *base.InternalComparer
	data []byte
	// restartsOffset is where entry data stops and the restart array
	// begins.
	restartsOffset int
	numRestarts    int

	// offset is the start of the current entry, nextOffset the start of its
	// successor. key is materialized because of prefix sharing; value
	// aliases data.
	offset     int
	nextOffset int
	key        []byte
	value      []byte
	valid      bool
	err        error
	kv         base.InternalKV
}

func newBlockIter(icmp *base.InternalComparer, block []byte) (*blockIter, error) {
	if len(block) < 4 {
		return nil, base.CorruptionErrorf("block too short for restart count")
	}
	numRestarts := int(binary.LittleEndian.Uint32(block[len(block)-4:]))
	restartsOffset := len(block) - 4*(numRestarts+1)
	if numRestarts < 1 || restartsOffset < 0 {
		return nil, base.CorruptionErrorf("block restart table out of range")
	}
	return &blockIter{
		icmp:           icmp,
		data:           block,
		restartsOffset: restartsOffset,
		numRestarts:    numRestarts,
	}, nil
}

func (i *blockIter) restartPoint(idx int) int {
	return int(binary.LittleEndian.Uint32(i.data[i.restartsOffset+4*idx:]))
}

// restartKey decodes the full key stored at a restart point; restart
// entries always carry shared = 0.
func (i *blockIter) restartKey(idx int) []byte {
	off := i.restartPoint(idx)
	_, n0 := binary.Uvarint(i.data[off:])
	unshared, n1 := binary.Uvarint(i.data[off+n0:])
	_, n2 := binary.Uvarint(i.data[off+n0+n1:])
	koff := off + n0 + n1 + n2
	return i.data[koff : koff+int(unshared)]
}

func (i *blockIter) seekToRestart(idx int) {
	i.nextOffset = i.restartPoint(idx)
	i.key = i.key[:0]
	i.valid = false
}

// parseNext decodes the entry at nextOffset into the iterator state.
func (i *blockIter) parseNext() bool {
	if i.nextOffset >= i.restartsOffset {
		i.valid = false
		return false
	}
	off := i.nextOffset
	shared, n0 := binary.Uvarint(i.data[off:])
	unshared, n1 := binary.Uvarint(i.data[off+n0:])
	vlen, n2 := binary.Uvarint(i.data[off+n0+n1:])
	if n0 <= 0 || n1 <= 0 || n2 <= 0 {
		i.err = base.CorruptionErrorf("bad block entry header")
		i.valid = false
		return false
	}
	koff := off + n0 + n1 + n2
	kend := koff + int(unshared)
	vend := kend + int(vlen)
	if int(shared) > len(i.key) || vend > i.restartsOffset {
		i.err = base.CorruptionErrorf("block entry overflows block")
		i.valid = false
		return false
	}
	i.key = append(i.key[:shared], i.data[koff:kend]...)
	i.value = i.data[kend:vend:vend]
	i.offset = off
	i.nextOffset = vend
	i.valid = true
	return true
}

func (i *blockIter) ikv() *base.InternalKV {
	if !i.valid {
		return nil
	}
	i.kv.K = base.DeserializeKey(i.key)
	i.kv.V = i.value
	return &i.kv
}

// seekRestartLT returns the largest restart index whose key is < target,
// or 0.
func (i *blockIter) seekRestartLT(target []byte) int {
	lo, hi := 0, i.numRestarts-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if i.icmp.Compare(i.restartKey(mid), target) < 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func (i *blockIter) SeekGTE(target []byte) *base.InternalKV {
	if i.restartsOffset == 0 {
		i.valid = false
		return nil
	}
	i.seekToRestart(i.seekRestartLT(target))
	for i.parseNext() {
		if i.icmp.Compare(i.key, target) >= 0 {
			return i.ikv()
		}
	}
	return nil
}

func (i *blockIter) SeekLT(target []byte) *base.InternalKV {
	if i.SeekGTE(target) == nil {
		if i.err != nil {
			return nil
		}
		// Everything is < target (or the block is empty).
		return i.Last()
	}
	return i.Prev()
}

func (i *blockIter) First() *base.InternalKV {
	if i.restartsOffset == 0 {
		i.valid = false
		return nil
	}
	i.seekToRestart(0)
	i.parseNext()
	return i.ikv()
}

func (i *blockIter) Last() *base.InternalKV {
	if i.restartsOffset == 0 {
		i.valid = false
		return nil
	}
	i.seekToRestart(i.numRestarts - 1)
	for i.parseNext() && i.nextOffset < i.restartsOffset {
	}
	return i.ikv()
}

func (i *blockIter) Next() *base.InternalKV {
	if !i.valid {
		return nil
	}
	i.parseNext()
	return i.ikv()
}

func (i *blockIter) Prev() *base.InternalKV {
	if !i.valid {
		return nil
	}
	original := i.offset
	if original == 0 {
		i.valid = false
		return nil
	}
	// Restart at the closest preceding restart point and walk forward to
	// the entry ending at original.
	idx := i.numRestarts - 1
	for idx > 0 && i.restartPoint(idx) >= original {
		idx--
	}
	i.seekToRestart(idx)
	for i.parseNext() && i.nextOffset < original {
	}
	return i.ikv()
}

func (i *blockIter) Error() error {
	return i.err
}

func (i *blockIter) Close() error {
	i.data = nil
	i.valid = false
	return i.err
}

var _ base.InternalIterator = (*blockIter)(nil)
