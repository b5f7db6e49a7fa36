package cache

import (
	"encoding/binary"

	"github.com/twmb/murmur3"
)

const defaultShardCount = 16

type shardedCache struct {
	shards []*shard
}

// New returns a sharded LRU cache bounded by capacity bytes. shardCount <= 0
// selects the default of 16.
func New(capacity int64, shardCount int) ICache {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	c := &shardedCache{shards: make([]*shard, shardCount)}
	for i := range c.shards {
		c.shards[i] = newShard(capacity / int64(shardCount))
	}
	return c
}

func (c *shardedCache) shard(fileNum, key uint64) *shard {
	return c.shards[murmur32(fileNum, key)%uint32(len(c.shards))]
}

func (c *shardedCache) Get(fileNum, key uint64) (Value, bool) {
	return c.shard(fileNum, key).get(fileNum, key)
}

func (c *shardedCache) Set(fileNum, key uint64, value Value) bool {
	return c.shard(fileNum, key).set(fileNum, key, value)
}

func (c *shardedCache) Delete(fileNum, key uint64) bool {
	return c.shard(fileNum, key).delete(fileNum, key)
}

func (c *shardedCache) EvictFile(fileNum uint64) {
	// Entries of one file hash across every shard.
	for _, s := range c.shards {
		s.evictFile(fileNum)
	}
}

func (c *shardedCache) SetCapacity(capacity int64) {
	per := capacity / int64(len(c.shards))
	for _, s := range c.shards {
		s.setCapacity(per)
	}
}

func (c *shardedCache) Size() int64 {
	var total int64
	for _, s := range c.shards {
		total += s.size()
	}
	return total
}

func murmur32(fileNum, key uint64) uint32 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], fileNum)
	binary.LittleEndian.PutUint64(buf[8:], key)
	return murmur3.Sum32(buf[:])
}

var _ ICache = (*shardedCache)(nil)
