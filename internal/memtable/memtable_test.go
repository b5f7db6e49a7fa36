package memtable

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelhq/graveldb/internal/base"
)

func newTestMemTable() *MemTable {
	return New(base.NewInternalComparer(base.NewComparer()))
}

func TestMemTableGetNewestVisible(t *testing.T) {
	m := newTestMemTable()
	defer m.Unref()

	m.Add(1, base.KeyKindSet, []byte("k"), []byte("v1"))
	m.Add(5, base.KeyKindSet, []byte("k"), []byte("v5"))
	m.Add(9, base.KeyKindSet, []byte("k"), []byte("v9"))

	tests := []struct {
		name string
		seq  base.SeqNum
		want string
		miss bool
	}{
		{name: "latest", seq: base.MaxSeqNum, want: "v9"},
		{name: "exact sequence", seq: 5, want: "v5"},
		{name: "between sequences", seq: 7, want: "v5"},
		{name: "before first write", seq: 0, miss: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, conclusive, err := m.Get([]byte("k"), tt.seq)
			if tt.miss {
				assert.False(t, conclusive)
				return
			}
			require.True(t, conclusive)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(value))
		})
	}
}

func TestMemTableTombstone(t *testing.T) {
	m := newTestMemTable()
	defer m.Unref()

	m.Add(1, base.KeyKindSet, []byte("k"), []byte("v"))
	m.Add(2, base.KeyKindDelete, []byte("k"), nil)

	_, conclusive, err := m.Get([]byte("k"), base.MaxSeqNum)
	require.True(t, conclusive)
	assert.ErrorIs(t, err, base.ErrNotFound)

	// The older revision is still visible below the tombstone.
	value, conclusive, err := m.Get([]byte("k"), 1)
	require.True(t, conclusive)
	require.NoError(t, err)
	assert.Equal(t, "v", string(value))
}

func TestMemTableMissIsNotConclusive(t *testing.T) {
	m := newTestMemTable()
	defer m.Unref()

	m.Add(1, base.KeyKindSet, []byte("held"), []byte("v"))
	_, conclusive, _ := m.Get([]byte("absent"), base.MaxSeqNum)
	assert.False(t, conclusive)
}

func TestMemTableIteratorOrder(t *testing.T) {
	m := newTestMemTable()
	defer m.Unref()

	// Insert out of order; iteration must come back sorted.
	m.Add(3, base.KeyKindSet, []byte("banana"), []byte("3"))
	m.Add(1, base.KeyKindSet, []byte("cherry"), []byte("1"))
	m.Add(2, base.KeyKindSet, []byte("apple"), []byte("2"))

	it := m.NewIterator()
	defer it.Close()

	var keys []string
	for kv := it.First(); kv != nil; kv = it.Next() {
		keys = append(keys, string(kv.K.UserKey))
	}
	assert.Equal(t, []string{"apple", "banana", "cherry"}, keys)

	var reversed []string
	for kv := it.Last(); kv != nil; kv = it.Prev() {
		reversed = append(reversed, string(kv.K.UserKey))
	}
	assert.Equal(t, []string{"cherry", "banana", "apple"}, reversed)
}

func TestMemTableIteratorNewestRevisionFirst(t *testing.T) {
	m := newTestMemTable()
	defer m.Unref()

	m.Add(1, base.KeyKindSet, []byte("k"), []byte("old"))
	m.Add(2, base.KeyKindSet, []byte("k"), []byte("new"))

	it := m.NewIterator()
	defer it.Close()

	kv := it.First()
	require.NotNil(t, kv)
	assert.Equal(t, base.SeqNum(2), kv.K.SeqNum())
	assert.Equal(t, "new", string(kv.V))

	kv = it.Next()
	require.NotNil(t, kv)
	assert.Equal(t, base.SeqNum(1), kv.K.SeqNum())
}

func TestMemTableIteratorSeek(t *testing.T) {
	m := newTestMemTable()
	defer m.Unref()

	for i, k := range []string{"a", "c", "e"} {
		m.Add(base.SeqNum(i+1), base.KeyKindSet, []byte(k), nil)
	}

	it := m.NewIterator()
	defer it.Close()

	kv := it.SeekGTE(base.MakeSeekKey([]byte("b"), base.MaxSeqNum).Serialize())
	require.NotNil(t, kv)
	assert.Equal(t, "c", string(kv.K.UserKey))

	kv = it.SeekLT(base.MakeSeekKey([]byte("b"), base.MaxSeqNum).Serialize())
	require.NotNil(t, kv)
	assert.Equal(t, "a", string(kv.K.UserKey))

	assert.Nil(t, it.SeekGTE(base.MakeSeekKey([]byte("z"), base.MaxSeqNum).Serialize()))
}

func TestMemTableConcurrentReadsDuringWrites(t *testing.T) {
	m := newTestMemTable()
	defer m.Unref()

	const n = 2000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			k := fmt.Sprintf("key-%06d", i)
			m.Add(base.SeqNum(i+1), base.KeyKindSet, []byte(k), []byte(k))
		}
	}()

	// Readers race the single writer; once a key is visible it must read
	// back exactly.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i += 17 {
				k := fmt.Sprintf("key-%06d", i)
				value, conclusive, err := m.Get([]byte(k), base.MaxSeqNum)
				if conclusive {
					assert.NoError(t, err)
					assert.Equal(t, k, string(value))
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%06d", i)
		value, conclusive, err := m.Get([]byte(k), base.MaxSeqNum)
		require.True(t, conclusive, k)
		require.NoError(t, err)
		require.Equal(t, k, string(value))
	}
}

func TestMemTableApproximateMemoryUsageGrows(t *testing.T) {
	m := newTestMemTable()
	defer m.Unref()

	before := m.ApproximateMemoryUsage()
	for i := 0; i < 100; i++ {
		m.Add(base.SeqNum(i+1), base.KeyKindSet, []byte(fmt.Sprintf("key-%d", i)), make([]byte, 100))
	}
	assert.Greater(t, m.ApproximateMemoryUsage(), before)
	assert.False(t, m.Empty())
}
