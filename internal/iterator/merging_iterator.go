// Package iterator provides the k-way merging iterator that reconciles
// multiple internally-sorted sources (memtables, level-0 files, level
// iterators) into one internal-key-ordered stream.
package iterator

import "github.com/gravelhq/graveldb/internal/base"

type direction int8

const (
	dirNone direction = iota
	dirForward
	dirBackward
)

type mergingIter struct {
	icmp     *base.InternalComparer
	children []base.InternalIterator
	// kvs mirrors children: the entry each child is positioned at, nil
	// when exhausted.
	kvs     []*base.InternalKV
	current int
	dir     direction
	err     error
}

// NewMergingIterator merges children into one ordered stream. Ties cannot
// occur: sequence numbers are unique across sources.
func NewMergingIterator(icmp *base.InternalComparer, children ...base.InternalIterator) base.InternalIterator {
	if len(children) == 1 {
		return children[0]
	}
	return &mergingIter{
		icmp:     icmp,
		children: children,
		kvs:      make([]*base.InternalKV, len(children)),
		current:  -1,
	}
}

func (m *mergingIter) findSmallest() *base.InternalKV {
	m.current = -1
	for i, kv := range m.kvs {
		if kv == nil {
			continue
		}
		if m.current < 0 || m.icmp.CompareKey(kv.K, m.kvs[m.current].K) < 0 {
			m.current = i
		}
	}
	if m.current < 0 {
		return nil
	}
	return m.kvs[m.current]
}

func (m *mergingIter) findLargest() *base.InternalKV {
	m.current = -1
	for i, kv := range m.kvs {
		if kv == nil {
			continue
		}
		if m.current < 0 || m.icmp.CompareKey(kv.K, m.kvs[m.current].K) > 0 {
			m.current = i
		}
	}
	if m.current < 0 {
		return nil
	}
	return m.kvs[m.current]
}

func (m *mergingIter) SeekGTE(key []byte) *base.InternalKV {
	for i, c := range m.children {
		m.kvs[i] = c.SeekGTE(key)
	}
	m.dir = dirForward
	return m.findSmallest()
}

func (m *mergingIter) SeekLT(key []byte) *base.InternalKV {
	for i, c := range m.children {
		m.kvs[i] = c.SeekLT(key)
	}
	m.dir = dirBackward
	return m.findLargest()
}

func (m *mergingIter) First() *base.InternalKV {
	for i, c := range m.children {
		m.kvs[i] = c.First()
	}
	m.dir = dirForward
	return m.findSmallest()
}

func (m *mergingIter) Last() *base.InternalKV {
	for i, c := range m.children {
		m.kvs[i] = c.Last()
	}
	m.dir = dirBackward
	return m.findLargest()
}

func (m *mergingIter) Next() *base.InternalKV {
	if m.current < 0 {
		return nil
	}
	if m.dir != dirForward {
		// The non-current children sit before the current key from the
		// backward pass; realign them to its successor side.
		curKey := m.kvs[m.current].K.Serialize()
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			kv := c.SeekGTE(curKey)
			if kv != nil && m.icmp.CompareKey(kv.K, m.kvs[m.current].K) == 0 {
				kv = c.Next()
			}
			m.kvs[i] = kv
		}
		m.dir = dirForward
	}
	m.kvs[m.current] = m.children[m.current].Next()
	return m.findSmallest()
}

func (m *mergingIter) Prev() *base.InternalKV {
	if m.current < 0 {
		return nil
	}
	if m.dir != dirBackward {
		curKey := m.kvs[m.current].K.Serialize()
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			// SeekLT leaves each child at its largest entry below the
			// current key, exactly the backward-merge position.
			m.kvs[i] = c.SeekLT(curKey)
		}
		m.dir = dirBackward
	}
	m.kvs[m.current] = m.children[m.current].Prev()
	return m.findLargest()
}

func (m *mergingIter) Error() error {
	if m.err != nil {
		return m.err
	}
	for _, c := range m.children {
		if err := c.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergingIter) Close() error {
	var err error
	for _, c := range m.children {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	m.children = nil
	m.kvs = nil
	return err
}

var _ base.InternalIterator = (*mergingIter)(nil)
