// Package memtable implements the in-memory sorted write buffer: an
// arena-backed skiplist keyed by serialized internal keys, written by
// exactly one goroutine at a time and readable concurrently without locks.
package memtable

import (
	"sync/atomic"

	"github.com/gravelhq/graveldb/internal/arena"
	"github.com/gravelhq/graveldb/internal/base"
)

const arenaChunkSize = 64 * 1024

// MemTable maps internal keys to values or deletion tombstones.
//
// Lifecycle: created empty, populated by the coordinator's write path,
// turned immutable when swapped out for flushing and released in bulk once
// its table file is durably recorded.
type MemTable struct {
	cmp   *base.InternalComparer
	list  *skiplist
	arena *arena.Arena
	refs  atomic.Int32
}

// New returns an empty memtable holding one reference for the caller.
func New(cmp *base.InternalComparer) *MemTable {
	a := arena.New(arenaChunkSize)
	m := &MemTable{
		cmp:   cmp,
		list:  newSkiplist(cmp, a),
		arena: a,
	}
	m.refs.Store(1)
	return m
}

// Add inserts an entry. Only the single active writer may call it.
func (m *MemTable) Add(seq base.SeqNum, kind base.KeyKind, userKey, value []byte) {
	ikey := base.MakeKey(userKey, seq, kind)
	buf := make([]byte, ikey.Size())
	ikey.SerializeTo(buf)
	m.list.insert(buf, value)
}

// Get looks up the newest entry of userKey with sequence <= seq.
//
// conclusive reports whether the memtable holds an answer at all: when true
// the caller must not fall through to older sources, and err is either nil
// (value holds the data) or ErrNotFound (the entry is a tombstone).
func (m *MemTable) Get(userKey []byte, seq base.SeqNum) (value []byte, conclusive bool, err error) {
	seek := base.MakeSeekKey(userKey, seq).Serialize()
	n := m.list.findGTE(seek, nil)
	if n == nil {
		return nil, false, nil
	}
	ikey := base.DeserializeKey(n.key)
	if m.cmp.UserCmp.Compare(ikey.UserKey, userKey) != 0 {
		return nil, false, nil
	}
	switch ikey.Kind() {
	case base.KeyKindSet:
		return n.value, true, nil
	case base.KeyKindDelete:
		return nil, true, base.ErrNotFound
	default:
		return nil, true, base.CorruptionErrorf("memtable entry has kind %d", ikey.Kind())
	}
}

// ApproximateMemoryUsage returns the bytes consumed by entries so far.
func (m *MemTable) ApproximateMemoryUsage() int64 {
	return m.arena.Size()
}

func (m *MemTable) Empty() bool {
	return m.list.head.next[0].Load() == nil
}

// Ref pins the memtable against release.
func (m *MemTable) Ref() {
	m.refs.Add(1)
}

// Unref drops one pin. The arena is freed in bulk when the last pin goes;
// no iterator or reader may touch the memtable afterwards.
func (m *MemTable) Unref() {
	if n := m.refs.Add(-1); n == 0 {
		m.arena.Release()
	} else if n < 0 {
		panic("memtable: negative refcount")
	}
}

// NewIterator returns an iterator over the memtable in internal key order.
// The structure is append-only, so already-inserted entries never move
// beneath the iterator; entries inserted later carry higher sequence
// numbers and are hidden by the sequence bound every reader applies.
func (m *MemTable) NewIterator() base.InternalIterator {
	return &memIterator{m: m}
}

type memIterator struct {
	m *MemTable
	n *node
}

func (it *memIterator) kv() *base.InternalKV {
	if it.n == nil {
		return nil
	}
	return &base.InternalKV{K: base.DeserializeKey(it.n.key), V: it.n.value}
}

func (it *memIterator) SeekGTE(key []byte) *base.InternalKV {
	it.n = it.m.list.findGTE(key, nil)
	return it.kv()
}

func (it *memIterator) SeekLT(key []byte) *base.InternalKV {
	it.n = it.m.list.findLT(key)
	return it.kv()
}

func (it *memIterator) First() *base.InternalKV {
	it.n = it.m.list.head.next[0].Load()
	return it.kv()
}

func (it *memIterator) Last() *base.InternalKV {
	it.n = it.m.list.findLast()
	return it.kv()
}

func (it *memIterator) Next() *base.InternalKV {
	if it.n == nil {
		return nil
	}
	it.n = it.n.next[0].Load()
	return it.kv()
}

func (it *memIterator) Prev() *base.InternalKV {
	if it.n == nil {
		return nil
	}
	it.n = it.m.list.findLT(it.n.key)
	return it.kv()
}

func (it *memIterator) Error() error { return nil }

func (it *memIterator) Close() error {
	it.n = nil
	return nil
}

var _ base.InternalIterator = (*memIterator)(nil)
