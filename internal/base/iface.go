package base

// InternalIterator iterates over internal key/value pairs in internal key
// order. Every positioning method returns the entry the iterator landed on,
// or nil when it moved past either end. Implementations are not safe for
// concurrent use.
type InternalIterator interface {
	// SeekGTE moves the iterator to the first entry whose key is >= the
	// given serialized internal key.
	SeekGTE(key []byte) *InternalKV

	// SeekLT moves the iterator to the last entry whose key is < the given
	// serialized internal key.
	SeekLT(key []byte) *InternalKV

	// First moves the iterator to the first entry.
	First() *InternalKV

	// Last moves the iterator to the last entry.
	Last() *InternalKV

	// Next moves the iterator to the next entry.
	Next() *InternalKV

	// Prev moves the iterator to the previous entry.
	Prev() *InternalKV

	// Error returns the error that exhausted the iterator, if any.
	// Exhausting all entries is not an error.
	Error() error

	// Close releases resources pinned by the iterator.
	Close() error
}

// IFilterPolicy is the pluggable filter construction: a build phase over a
// set of user keys and a probe phase over the encoded filter. False
// negatives are forbidden, false positives allowed.
type IFilterPolicy interface {
	// Name identifies the policy. It is embedded in the table file so a
	// reader never probes a filter built by a different policy.
	Name() string

	// NewWriter starts building a filter for one table file.
	NewWriter() IFilterWriter

	// MayContain reports whether the encoded filter may contain key.
	MayContain(filter, key []byte) bool
}

// IFilterWriter accumulates user keys and emits the encoded filter.
type IFilterWriter interface {
	Add(key []byte)
	// Build appends the encoded filter to b and resets the writer.
	Build(b *[]byte)
}
