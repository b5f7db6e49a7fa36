package sstable

import (
	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/cache"
	"github.com/gravelhq/graveldb/internal/sstable/compression"
)

// WriterOptions controls the layout of a table under construction.
type WriterOptions struct {
	// Comparer orders user keys and shortens index separators.
	Comparer base.IComparer

	// BlockSize is the target uncompressed size of a data block. Default
	// 4 KiB.
	BlockSize int

	// BlockSizeThreshold finishes a block early once it is fuller than this
	// fraction of BlockSize and the next entry would overflow it. Default
	// 0.9.
	BlockSizeThreshold float64

	// BlockRestartInterval is the number of keys between restart points for
	// delta encoding. Default 16.
	BlockRestartInterval int

	// Compression applies to data and index blocks. Filter and metaindex
	// blocks are stored raw.
	Compression compression.Type

	// FilterPolicy builds the optional filter block. Nil disables it.
	FilterPolicy base.IFilterPolicy
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.Comparer == nil {
		o.Comparer = base.NewComparer()
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4 * 1024
	}
	if o.BlockSizeThreshold <= 0 || o.BlockSizeThreshold > 1 {
		o.BlockSizeThreshold = 0.9
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	return o
}

// ReaderOptions controls how an open table serves reads.
type ReaderOptions struct {
	Comparer base.IComparer

	// FilterPolicy must match the policy the table was written with for the
	// filter block to be used; a mismatch simply disables filtering.
	FilterPolicy base.IFilterPolicy

	// Cache holds decoded blocks keyed by (FileNum, block offset). Nil
	// disables block caching.
	Cache cache.ICache

	// FileNum namespaces this table's blocks inside the shared cache.
	FileNum uint64
}

func (o ReaderOptions) withDefaults() ReaderOptions {
	if o.Comparer == nil {
		o.Comparer = base.NewComparer()
	}
	return o
}
