package graveldb

import (
	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/sstable/compression"
)

const (
	defaultWriteBufferSize = 4 << 20
	defaultBlockCacheSize  = 8 << 20
	defaultMaxOpenTables   = 500
	defaultBitsPerKey      = 10

	// Level-0 backpressure thresholds. At the slowdown count every write
	// pays a small delay; at the stop count writes block until the level-0
	// compaction catches up.
	l0SlowdownWritesTrigger = 8
	l0StopWritesTrigger     = 12
)

// options is the resolved configuration of one open database.
type options struct {
	comparer        base.IComparer
	sync            bool
	writeBufferSize int64
	blockSize       int
	blockCacheSize  int64
	maxOpenTables   int
	bitsPerKey      int
	compression     compression.Type
	errorIfExists   bool
}

// OptionFn mutates the database configuration at Open time.
type OptionFn func(*options)

func defaultOptions() *options {
	return &options{
		comparer:        base.NewComparer(),
		sync:            true,
		writeBufferSize: defaultWriteBufferSize,
		blockCacheSize:  defaultBlockCacheSize,
		maxOpenTables:   defaultMaxOpenTables,
		bitsPerKey:      defaultBitsPerKey,
		compression:     compression.Snappy,
	}
}

// WithComparer overrides the user key ordering. Every open of the same
// database must pass a comparer with the same name; a mismatch fails Open.
func WithComparer(cmp base.IComparer) OptionFn {
	return func(o *options) {
		o.comparer = cmp
	}
}

// WithSync controls whether commits wait for the WAL to reach stable
// storage. Disabling it trades crash durability for throughput; batch
// atomicity is kept either way.
func WithSync(sync bool) OptionFn {
	return func(o *options) {
		o.sync = sync
	}
}

// WithWriteBufferSize sets the memtable size that triggers a flush.
func WithWriteBufferSize(size int64) OptionFn {
	return func(o *options) {
		o.writeBufferSize = size
	}
}

// WithBlockSize sets the target uncompressed size of table data blocks.
func WithBlockSize(size int) OptionFn {
	return func(o *options) {
		o.blockSize = size
	}
}

// WithBlockCacheSize bounds the decoded block cache in bytes. Zero
// disables the cache.
func WithBlockCacheSize(size int64) OptionFn {
	return func(o *options) {
		o.blockCacheSize = size
	}
}

// WithMaxOpenTables bounds the number of table file handles kept open.
func WithMaxOpenTables(n int) OptionFn {
	return func(o *options) {
		o.maxOpenTables = n
	}
}

// WithFilterBitsPerKey sizes the per-table bloom filter. Zero disables
// filters.
func WithFilterBitsPerKey(n int) OptionFn {
	return func(o *options) {
		o.bitsPerKey = n
	}
}

// WithCompression selects the table block compression codec.
func WithCompression(t compression.Type) OptionFn {
	return func(o *options) {
		o.compression = t
	}
}

// WithErrorIfExists makes Open fail when the database already exists.
func WithErrorIfExists() OptionFn {
	return func(o *options) {
		o.errorIfExists = true
	}
}
