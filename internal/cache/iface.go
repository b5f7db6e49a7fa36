// Package cache provides a sharded, capacity-bounded LRU map keyed by
// (fileNum, key) pairs. It backs both the block cache (key = block offset)
// and sits under the table cache. Values are immutable byte slices; an
// evicted value is reclaimed by the garbage collector once its readers drop
// it, so no explicit release protocol is needed.
package cache

// Value is an immutable cached byte slice.
type Value []byte

// ICache is a thread-safe capacity-bounded map with LRU eviction.
type ICache interface {
	// Get returns the cached value and promotes it.
	Get(fileNum, key uint64) (Value, bool)

	// Set inserts or replaces a value. It returns false when the value
	// alone exceeds a shard's capacity and was not cached.
	Set(fileNum, key uint64, value Value) bool

	// Delete removes one entry.
	Delete(fileNum, key uint64) bool

	// EvictFile removes every entry of fileNum. Called when a table file
	// becomes obsolete.
	EvictFile(fileNum uint64)

	// SetCapacity rebalances the total capacity across shards.
	SetCapacity(capacity int64)

	// Size returns the bytes currently held.
	Size() int64
}
