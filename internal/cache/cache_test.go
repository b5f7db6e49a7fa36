package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New(1<<20, 0)

	require.True(t, c.Set(1, 100, Value("block-a")))
	require.True(t, c.Set(1, 200, Value("block-b")))
	require.True(t, c.Set(2, 100, Value("block-c")))

	v, ok := c.Get(1, 100)
	require.True(t, ok)
	assert.Equal(t, Value("block-a"), v)

	v, ok = c.Get(2, 100)
	require.True(t, ok)
	assert.Equal(t, Value("block-c"), v)

	_, ok = c.Get(3, 100)
	assert.False(t, ok)
}

func TestCacheReplace(t *testing.T) {
	c := New(1<<20, 0)
	c.Set(1, 1, Value("old"))
	c.Set(1, 1, Value("new"))
	v, ok := c.Get(1, 1)
	require.True(t, ok)
	assert.Equal(t, Value("new"), v)
}

func TestCacheDelete(t *testing.T) {
	c := New(1<<20, 0)
	c.Set(1, 1, Value("v"))
	assert.True(t, c.Delete(1, 1))
	_, ok := c.Get(1, 1)
	assert.False(t, ok)
	assert.False(t, c.Delete(1, 1))
}

func TestCacheEvictFile(t *testing.T) {
	c := New(1<<20, 0)
	for k := uint64(0); k < 50; k++ {
		c.Set(7, k, Value("seven"))
		c.Set(8, k, Value("eight"))
	}
	c.EvictFile(7)
	for k := uint64(0); k < 50; k++ {
		_, ok := c.Get(7, k)
		assert.False(t, ok, "key %d", k)
		_, ok = c.Get(8, k)
		assert.True(t, ok, "key %d", k)
	}
}

func TestCacheCapacityBound(t *testing.T) {
	const capacity = 64 << 10
	c := New(capacity, 0)
	for k := uint64(0); k < 1000; k++ {
		c.Set(1, k, make(Value, 1024))
	}
	assert.LessOrEqual(t, c.Size(), int64(capacity))
	assert.Positive(t, c.Size())
}

func TestCacheLRUKeepsRecentlyUsed(t *testing.T) {
	// One shard makes the eviction order deterministic.
	c := New(4*1024, 1)
	for k := uint64(0); k < 4; k++ {
		require.True(t, c.Set(1, k, make(Value, 1024)))
	}
	// Touch key 0 so key 1 is the coldest.
	_, ok := c.Get(1, 0)
	require.True(t, ok)

	c.Set(1, 99, make(Value, 1024))

	_, ok = c.Get(1, 0)
	assert.True(t, ok, "recently used entry was evicted")
	_, ok = c.Get(1, 99)
	assert.True(t, ok)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(1<<20, 0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := uint64(i % 64)
				c.Set(uint64(g), k, Value(fmt.Sprintf("%d-%d", g, k)))
				if v, ok := c.Get(uint64(g), k); ok {
					assert.Equal(t, Value(fmt.Sprintf("%d-%d", g, k)), v)
				}
			}
		}(g)
	}
	wg.Wait()
}
