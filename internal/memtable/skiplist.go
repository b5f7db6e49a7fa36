package memtable

import (
	"math/rand"
	"sync/atomic"

	"github.com/gravelhq/graveldb/internal/arena"
	"github.com/gravelhq/graveldb/internal/base"
)

const (
	maxHeight = 12
	// branching gives each node a 1/4 chance of growing another level.
	branching = 4
)

// node links are published with atomic stores so readers walking the list
// concurrently with the single inserter either see the fully initialized
// node or not at all. key/value bytes live in the arena and are written
// before the node becomes reachable.
type node struct {
	key   []byte // serialized internal key
	value []byte
	next  []atomic.Pointer[node]
}

// skiplist is an ordered list of serialized internal keys supporting one
// concurrent inserter and any number of lock-free readers. Inserted nodes
// are never removed or relocated.
type skiplist struct {
	cmp    *base.InternalComparer
	arena  *arena.Arena
	head   *node
	height atomic.Int32
	rnd    *rand.Rand
}

func newSkiplist(cmp *base.InternalComparer, a *arena.Arena) *skiplist {
	s := &skiplist{
		cmp:   cmp,
		arena: a,
		head:  &node{next: make([]atomic.Pointer[node], maxHeight)},
		rnd:   rand.New(rand.NewSource(0xdeadbeef)),
	}
	s.height.Store(1)
	return s
}

func (s *skiplist) randomHeight() int {
	h := 1
	for h < maxHeight && s.rnd.Intn(branching) == 0 {
		h++
	}
	return h
}

// findGTE returns the first node with key >= target and, when prev is
// non-nil, fills prev[i] with the rightmost node before target at level i.
func (s *skiplist) findGTE(target []byte, prev []*node) *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && s.cmp.Compare(next.key, target) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLT returns the rightmost node with key < target, or nil.
func (s *skiplist) findLT(target []byte) *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && s.cmp.Compare(next.key, target) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == s.head {
				return nil
			}
			return x
		}
		level--
	}
}

// findLast returns the last node in the list, or nil when empty.
func (s *skiplist) findLast() *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == s.head {
				return nil
			}
			return x
		}
		level--
	}
}

// insert adds a node for key/value. The caller guarantees a single inserter
// and keys in no particular order but never a duplicate internal key
// (sequence numbers are unique).
func (s *skiplist) insert(key, value []byte) {
	var prev [maxHeight]*node
	s.findGTE(key, prev[:])

	h := s.randomHeight()
	if cur := int(s.height.Load()); h > cur {
		for i := cur; i < h; i++ {
			prev[i] = s.head
		}
		// Readers that race with this store simply use the old height; the
		// new levels are reachable on the next walk.
		s.height.Store(int32(h))
	}

	k := s.arena.Alloc(len(key))
	copy(k, key)
	var v []byte
	if len(value) > 0 {
		v = s.arena.Alloc(len(value))
		copy(v, value)
	}

	n := &node{key: k, value: v, next: make([]atomic.Pointer[node], h)}
	for i := 0; i < h; i++ {
		// Fill the forward pointer before publishing the node at this level.
		n.next[i].Store(prev[i].next[i].Load())
		prev[i].next[i].Store(n)
	}
}
