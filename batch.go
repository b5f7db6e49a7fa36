package graveldb

import (
	"encoding/binary"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/encoding"
	"github.com/gravelhq/graveldb/internal/memtable"
)

// batchHeaderLen is the fixed prefix of the wire encoding: the sequence
// number of the batch's first operation and the operation count.
//
//	+----------------+-------------+============================+
//	| sequence (8B)  | count (4B)  | count x (kind, key[, val]) |
//	+----------------+-------------+============================+
const batchHeaderLen = 12

// Batch collects Put and Delete operations for one atomic commit. The
// in-memory form is exactly the WAL record, so committing never re-encodes.
// A Batch is reusable after Reset; it is not safe for concurrent use.
type Batch struct {
	data []byte
}

func (b *Batch) init() {
	if len(b.data) == 0 {
		b.data = append(b.data, make([]byte, batchHeaderLen)...)
	}
}

// Put queues a write of key to value.
func (b *Batch) Put(key, value []byte) {
	b.init()
	b.data = append(b.data, byte(base.KeyKindSet))
	b.data = encoding.PutBytes(b.data, key)
	b.data = encoding.PutBytes(b.data, value)
	b.setCount(b.Count() + 1)
}

// Delete queues a tombstone for key.
func (b *Batch) Delete(key []byte) {
	b.init()
	b.data = append(b.data, byte(base.KeyKindDelete))
	b.data = encoding.PutBytes(b.data, key)
	b.setCount(b.Count() + 1)
}

// Count returns the number of queued operations.
func (b *Batch) Count() uint32 {
	if len(b.data) < batchHeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint32(b.data[8:])
}

// Empty reports whether the batch holds no operations.
func (b *Batch) Empty() bool {
	return b.Count() == 0
}

// Size returns the wire size of the batch in bytes.
func (b *Batch) Size() int {
	return len(b.data)
}

// Reset clears the batch for reuse, keeping its allocation.
func (b *Batch) Reset() {
	if len(b.data) >= batchHeaderLen {
		b.data = b.data[:batchHeaderLen]
		for i := range b.data {
			b.data[i] = 0
		}
	}
}

func (b *Batch) setCount(n uint32) {
	binary.LittleEndian.PutUint32(b.data[8:], n)
}

func (b *Batch) seqNum() base.SeqNum {
	return base.SeqNum(binary.LittleEndian.Uint64(b.data))
}

func (b *Batch) setSeqNum(seq base.SeqNum) {
	binary.LittleEndian.PutUint64(b.data, uint64(seq))
}

// append folds other's operations onto b for a grouped commit. Sequence
// numbers are assigned later, so only payload and count move.
func (b *Batch) append(other *Batch) {
	if other.Empty() {
		return
	}
	b.init()
	b.data = append(b.data, other.data[batchHeaderLen:]...)
	b.setCount(b.Count() + other.Count())
}

// iterate decodes the payload in commit order.
func (b *Batch) iterate(fn func(kind base.KeyKind, ukey, value []byte) error) error {
	if len(b.data) < batchHeaderLen {
		if len(b.data) == 0 {
			return nil
		}
		return base.CorruptionErrorf("batch of %d bytes is shorter than its header", len(b.data))
	}
	p := b.data[batchHeaderLen:]
	var seen uint32
	for len(p) > 0 {
		kind := base.KeyKind(p[0])
		p = p[1:]
		ukey, rest, ok := encoding.GetBytes(p)
		if !ok {
			return base.CorruptionErrorf("batch operation %d: bad key", seen)
		}
		p = rest
		var value []byte
		switch kind {
		case base.KeyKindSet:
			value, rest, ok = encoding.GetBytes(p)
			if !ok {
				return base.CorruptionErrorf("batch operation %d: bad value", seen)
			}
			p = rest
		case base.KeyKindDelete:
		default:
			return base.CorruptionErrorf("batch operation %d: unknown kind %d", seen, kind)
		}
		if err := fn(kind, ukey, value); err != nil {
			return err
		}
		seen++
	}
	if seen != b.Count() {
		return base.CorruptionErrorf("batch header claims %d operations, payload holds %d", b.Count(), seen)
	}
	return nil
}

// apply replays the batch into mem, assigning each operation one sequence
// number starting at the batch's own.
func (b *Batch) apply(mem *memtable.MemTable) error {
	seq := b.seqNum()
	return b.iterate(func(kind base.KeyKind, ukey, value []byte) error {
		mem.Add(seq, kind, ukey, value)
		seq++
		return nil
	})
}

// decodeBatch wraps a WAL record as a batch, validating the header.
func decodeBatch(rec []byte) (*Batch, error) {
	if len(rec) < batchHeaderLen {
		return nil, base.CorruptionErrorf("log record of %d bytes is shorter than a batch header", len(rec))
	}
	return &Batch{data: rec}, nil
}
