// Package tablecache bounds the number of simultaneously open table files.
// Each cached entry is an open file handle plus its parsed reader (index
// and filter already loaded). Entries are reference counted: eviction only
// closes the underlying file once no iterator still uses it.
package tablecache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/cache"
	"github.com/gravelhq/graveldb/internal/sstable"
	"github.com/gravelhq/graveldb/internal/storage"
)

// Options configures every reader the cache opens.
type Options struct {
	Comparer     base.IComparer
	FilterPolicy base.IFilterPolicy
	BlockCache   cache.ICache
	// MaxOpen bounds the open table count. Default 500.
	MaxOpen int
}

type tableHandle struct {
	fileNum    uint64
	reader     *sstable.Reader
	refs       int
	prev, next *tableHandle
}

func (h *tableHandle) remove() {
	h.prev.next = h.next
	h.next.prev = h.prev
	h.prev = nil
	h.next = nil
}

func (h *tableHandle) insertAfter(at *tableHandle) {
	h.prev = at
	h.next = at.next
	h.prev.next = h
	h.next.prev = h
}

// TableCache maps file numbers to open table readers.
type TableCache struct {
	st   storage.Storage
	opts Options

	mu      sync.Mutex
	handles map[uint64]*tableHandle
	recent  tableHandle
}

func New(st storage.Storage, opts Options) *TableCache {
	if opts.MaxOpen <= 0 {
		opts.MaxOpen = 500
	}
	c := &TableCache{
		st:      st,
		opts:    opts,
		handles: make(map[uint64]*tableHandle),
	}
	c.recent.next = &c.recent
	c.recent.prev = &c.recent
	return c
}

// findTable returns a pinned handle for fileNum, opening and parsing the
// table on first access.
func (c *TableCache) findTable(fileNum uint64) (*tableHandle, error) {
	c.mu.Lock()
	if h, ok := c.handles[fileNum]; ok {
		h.refs++
		h.remove()
		h.insertAfter(&c.recent)
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	// Open outside the lock; the I/O dominates and concurrent readers of
	// other files must not stall behind it.
	f, err := c.st.Open(storage.FileDesc{Type: storage.TypeTable, Num: fileNum})
	if err != nil {
		return nil, err
	}
	r, err := sstable.NewReader(f, sstable.ReaderOptions{
		Comparer:     c.opts.Comparer,
		FilterPolicy: c.opts.FilterPolicy,
		Cache:        c.opts.BlockCache,
		FileNum:      fileNum,
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.handles[fileNum]; ok {
		// Lost a race with another opener; keep theirs.
		existing.refs++
		existing.remove()
		existing.insertAfter(&c.recent)
		c.mu.Unlock()
		_ = r.Close()
		return existing, nil
	}
	h := &tableHandle{fileNum: fileNum, reader: r, refs: 2} // cache + caller
	c.handles[fileNum] = h
	h.insertAfter(&c.recent)
	c.balance()
	c.mu.Unlock()
	return h, nil
}

// balance evicts cold unpinned tables; caller holds the lock.
func (c *TableCache) balance() {
	for len(c.handles) > c.opts.MaxOpen {
		victim := (*tableHandle)(nil)
		for h := c.recent.prev; h != &c.recent; h = h.prev {
			if h.refs == 1 {
				victim = h
				break
			}
		}
		if victim == nil {
			// Everything is pinned by iterators; nothing to close yet.
			return
		}
		c.dropLocked(victim)
	}
}

func (c *TableCache) dropLocked(h *tableHandle) {
	h.remove()
	delete(c.handles, h.fileNum)
	h.refs--
	if h.refs == 0 {
		if err := h.reader.Close(); err != nil {
			zap.L().Error("closing evicted table", zap.Uint64("file_num", h.fileNum), zap.Error(err))
		}
	}
}

func (c *TableCache) release(h *tableHandle) {
	c.mu.Lock()
	h.refs--
	closeIt := h.refs == 0
	c.mu.Unlock()
	if closeIt {
		if err := h.reader.Close(); err != nil {
			zap.L().Error("closing released table", zap.Uint64("file_num", h.fileNum), zap.Error(err))
		}
	}
}

// Get performs a point lookup inside one table.
func (c *TableCache) Get(fileNum uint64, key base.InternalKey) (*base.InternalKV, error) {
	h, err := c.findTable(fileNum)
	if err != nil {
		return nil, err
	}
	defer c.release(h)
	return h.reader.Get(key)
}

// NewIterator returns an iterator over one table. The table stays open
// until the iterator is closed, even if evicted from the cache meanwhile.
func (c *TableCache) NewIterator(fileNum uint64) base.InternalIterator {
	h, err := c.findTable(fileNum)
	if err != nil {
		return newErrIter(err)
	}
	return &tableIterator{
		InternalIterator: h.reader.NewIterator(),
		c:                c,
		h:                h,
	}
}

// Evict drops fileNum from the table cache and its blocks from the block
// cache. Called when the file becomes obsolete.
func (c *TableCache) Evict(fileNum uint64) {
	c.mu.Lock()
	if h, ok := c.handles[fileNum]; ok {
		c.dropLocked(h)
	}
	c.mu.Unlock()
	if c.opts.BlockCache != nil {
		c.opts.BlockCache.EvictFile(fileNum)
	}
}

// Close drops every cached table.
func (c *TableCache) Close() {
	c.mu.Lock()
	handles := make([]*tableHandle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	for _, h := range handles {
		c.dropLocked(h)
	}
	c.mu.Unlock()
}

// tableIterator pins its table handle for its lifetime.
type tableIterator struct {
	base.InternalIterator
	c      *TableCache
	h      *tableHandle
	closed bool
}

func (it *tableIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	err := it.InternalIterator.Close()
	it.c.release(it.h)
	return err
}

type errIter struct {
	err error
}

func newErrIter(err error) base.InternalIterator {
	return &errIter{err: err}
}

func (it *errIter) SeekGTE([]byte) *base.InternalKV { return nil }
func (it *errIter) SeekLT([]byte) *base.InternalKV  { return nil }
func (it *errIter) First() *base.InternalKV         { return nil }
func (it *errIter) Last() *base.InternalKV          { return nil }
func (it *errIter) Next() *base.InternalKV          { return nil }
func (it *errIter) Prev() *base.InternalKV          { return nil }
func (it *errIter) Error() error                    { return it.err }
func (it *errIter) Close() error                    { return it.err }
