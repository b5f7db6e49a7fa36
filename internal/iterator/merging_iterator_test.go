package iterator

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelhq/graveldb/internal/base"
)

// sliceIter serves a fixed, internally-ordered slice of entries.
type sliceIter struct {
	icmp *base.InternalComparer
	kvs  []base.InternalKV
	pos  int
}

func newSliceIter(icmp *base.InternalComparer, kvs []base.InternalKV) *sliceIter {
	sorted := append([]base.InternalKV(nil), kvs...)
	sort.Slice(sorted, func(i, j int) bool {
		return icmp.CompareKey(sorted[i].K, sorted[j].K) < 0
	})
	return &sliceIter{icmp: icmp, kvs: sorted, pos: -1}
}

func (s *sliceIter) at() *base.InternalKV {
	if s.pos < 0 || s.pos >= len(s.kvs) {
		return nil
	}
	return &s.kvs[s.pos]
}

func (s *sliceIter) SeekGTE(key []byte) *base.InternalKV {
	target := base.DeserializeKey(key)
	s.pos = sort.Search(len(s.kvs), func(i int) bool {
		return s.icmp.CompareKey(s.kvs[i].K, target) >= 0
	})
	return s.at()
}

func (s *sliceIter) SeekLT(key []byte) *base.InternalKV {
	target := base.DeserializeKey(key)
	s.pos = sort.Search(len(s.kvs), func(i int) bool {
		return s.icmp.CompareKey(s.kvs[i].K, target) >= 0
	}) - 1
	return s.at()
}

func (s *sliceIter) First() *base.InternalKV {
	s.pos = 0
	return s.at()
}

func (s *sliceIter) Last() *base.InternalKV {
	s.pos = len(s.kvs) - 1
	return s.at()
}

func (s *sliceIter) Next() *base.InternalKV {
	if s.pos < len(s.kvs) {
		s.pos++
	}
	return s.at()
}

func (s *sliceIter) Prev() *base.InternalKV {
	if s.pos >= 0 {
		s.pos--
	}
	return s.at()
}

func (s *sliceIter) Error() error { return nil }
func (s *sliceIter) Close() error { return nil }

var _ base.InternalIterator = (*sliceIter)(nil)

func kv(key string, seq base.SeqNum, value string) base.InternalKV {
	return base.InternalKV{
		K: base.MakeKey([]byte(key), seq, base.KeyKindSet),
		V: []byte(value),
	}
}

func newTestMerge(kvGroups ...[]base.InternalKV) base.InternalIterator {
	icmp := base.NewInternalComparer(base.NewComparer())
	children := make([]base.InternalIterator, len(kvGroups))
	for i, g := range kvGroups {
		children[i] = newSliceIter(icmp, g)
	}
	return NewMergingIterator(icmp, children...)
}

func TestMergingIteratorInterleaves(t *testing.T) {
	m := newTestMerge(
		[]base.InternalKV{kv("a", 1, "1"), kv("c", 3, "3"), kv("e", 5, "5")},
		[]base.InternalKV{kv("b", 2, "2"), kv("d", 4, "4")},
	)
	defer func() { _ = m.Close() }()

	var keys []string
	for e := m.First(); e != nil; e = m.Next() {
		keys = append(keys, string(e.K.UserKey))
	}
	require.NoError(t, m.Error())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)

	keys = keys[:0]
	for e := m.Last(); e != nil; e = m.Prev() {
		keys = append(keys, string(e.K.UserKey))
	}
	require.NoError(t, m.Error())
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, keys)
}

func TestMergingIteratorNewestRevisionFirst(t *testing.T) {
	// The same user key from two sources: the higher sequence wins the
	// earlier position.
	m := newTestMerge(
		[]base.InternalKV{kv("k", 9, "new")},
		[]base.InternalKV{kv("k", 4, "old")},
	)
	defer func() { _ = m.Close() }()

	e := m.First()
	require.NotNil(t, e)
	assert.Equal(t, base.SeqNum(9), e.K.SeqNum())
	assert.Equal(t, "new", string(e.V))

	e = m.Next()
	require.NotNil(t, e)
	assert.Equal(t, base.SeqNum(4), e.K.SeqNum())

	assert.Nil(t, m.Next())
}

func TestMergingIteratorSeek(t *testing.T) {
	m := newTestMerge(
		[]base.InternalKV{kv("a", 1, "1"), kv("e", 5, "5")},
		[]base.InternalKV{kv("c", 3, "3"), kv("g", 7, "7")},
	)
	defer func() { _ = m.Close() }()

	seek := base.MakeSeekKey([]byte("c"), base.MaxSeqNum).Serialize()
	e := m.SeekGTE(seek)
	require.NotNil(t, e)
	assert.Equal(t, "c", string(e.K.UserKey))

	e = m.Next()
	require.NotNil(t, e)
	assert.Equal(t, "e", string(e.K.UserKey))

	e = m.SeekLT(seek)
	require.NotNil(t, e)
	assert.Equal(t, "a", string(e.K.UserKey))

	e = m.Prev()
	assert.Nil(t, e)
}

func TestMergingIteratorDirectionSwitch(t *testing.T) {
	m := newTestMerge(
		[]base.InternalKV{kv("a", 1, "1"), kv("c", 3, "3")},
		[]base.InternalKV{kv("b", 2, "2"), kv("d", 4, "4")},
	)
	defer func() { _ = m.Close() }()

	e := m.First()
	require.NotNil(t, e)
	e = m.Next()
	require.NotNil(t, e)
	assert.Equal(t, "b", string(e.K.UserKey))

	// Turning around must land on the neighbour, not the start.
	e = m.Prev()
	require.NotNil(t, e)
	assert.Equal(t, "a", string(e.K.UserKey))

	e = m.Next()
	require.NotNil(t, e)
	assert.Equal(t, "b", string(e.K.UserKey))
}

func TestMergingIteratorEmptySources(t *testing.T) {
	m := newTestMerge(
		nil,
		[]base.InternalKV{kv("only", 1, "v")},
		nil,
	)
	defer func() { _ = m.Close() }()

	e := m.First()
	require.NotNil(t, e)
	assert.Equal(t, "only", string(e.K.UserKey))
	assert.Nil(t, m.Next())

	m2 := newTestMerge(nil, nil)
	defer func() { _ = m2.Close() }()
	assert.Nil(t, m2.First())
	assert.Nil(t, m2.Last())
}
