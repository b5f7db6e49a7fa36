// Package graveldb is an embedded, ordered, persistent key-value store
// built as a log-structured merge tree. Writes land in a write-ahead log
// and an in-memory table; background work flushes memtables into sorted
// immutable table files and compacts those down a hierarchy of levels.
// Reads merge the memtables and every level under snapshot isolation.
package graveldb

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/cache"
	"github.com/gravelhq/graveldb/internal/filter"
	"github.com/gravelhq/graveldb/internal/iterator"
	"github.com/gravelhq/graveldb/internal/memtable"
	"github.com/gravelhq/graveldb/internal/storage"
	"github.com/gravelhq/graveldb/internal/tablecache"
	"github.com/gravelhq/graveldb/internal/version"
	"github.com/gravelhq/graveldb/internal/wal"
)

// DB is one open database. All methods are safe for concurrent use.
type DB struct {
	opts *options
	icmp *base.InternalComparer

	st          storage.Storage
	ownsStorage bool
	fileLock    io.Closer

	blockCache cache.ICache
	tables     *tablecache.TableCache
	vs         *version.VersionSet

	// closed is also tracked atomically so compaction loops can poll it
	// without taking mu.
	closed atomic.Bool

	// mu guards everything below.
	mu sync.Mutex

	mem *memtable.MemTable
	// imm is the memtable being flushed; writes go to mem only.
	imm *memtable.MemTable

	walNum  uint64
	walFile storage.Writable
	wal     *wal.Writer

	// writers is the commit queue; writers[0] is the leader and commits
	// on behalf of the whole group.
	writers []*dbWriter
	scratch Batch

	// pendingOutputs protects table files still being written from the
	// obsolete file sweep.
	pendingOutputs map[uint64]struct{}

	bgCond     sync.Cond
	compacting bool
	bgErr      error
	manual     *manualCompaction

	snapshots snapshotList
}

// Open opens or creates the database in dirname.
func Open(dirname string, optFns ...OptionFn) (*DB, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(o)
	}
	st, err := storage.NewLocalStorage(dirname)
	if err != nil {
		return nil, err
	}
	db, err := openStorage(st, true, o)
	if err != nil {
		st.Close()
		return nil, err
	}
	return db, nil
}

func openStorage(st storage.Storage, ownsStorage bool, o *options) (db *DB, err error) {
	db = &DB{
		opts:           o,
		icmp:           base.NewInternalComparer(o.comparer),
		st:             st,
		ownsStorage:    ownsStorage,
		pendingOutputs: make(map[uint64]struct{}),
	}
	db.bgCond.L = &db.mu
	db.snapshots.init()

	db.fileLock, err = st.Lock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.fileLock.Close()
		}
	}()

	if o.blockCacheSize > 0 {
		db.blockCache = cache.New(o.blockCacheSize, 0)
	}
	var fp base.IFilterPolicy
	if o.bitsPerKey > 0 {
		fp = filter.NewBloomPolicy(o.bitsPerKey)
	}
	db.tables = tablecache.New(st, tablecache.Options{
		Comparer:     o.comparer,
		FilterPolicy: fp,
		BlockCache:   db.blockCache,
		MaxOpen:      o.maxOpenTables,
	})
	db.vs = version.NewVersionSet(st, db.icmp, version.Config{})

	var edit version.VersionEdit
	_, err = st.GetCurrent()
	switch {
	case errors.Is(err, storage.ErrFileNotFound):
		// Fresh database; the first LogAndApply below writes the initial
		// manifest and CURRENT.
		edit.SetComparerName(o.comparer.Name())
	case err != nil:
		return nil, err
	case o.errorIfExists:
		return nil, base.ErrExists
	default:
		if err = db.vs.Recover(); err != nil {
			return nil, err
		}
	}

	db.mu.Lock()
	err = func() error {
		if err := db.replayWALs(&edit); err != nil {
			return err
		}

		// Fresh WAL for this incarnation; everything recovered above is
		// either flushed to level 0 or gone.
		db.walNum = db.vs.NewFileNum()
		walFile, err := st.Create(storage.FileDesc{Type: storage.TypeWAL, Num: db.walNum})
		if err != nil {
			return err
		}
		db.walFile = walFile
		db.wal = wal.NewWriter(walFile, 0)
		db.mem = memtable.New(db.icmp)

		edit.SetLogNum(db.walNum)
		if err := db.vs.LogAndApply(&edit); err != nil {
			return err
		}

		db.removeObsoleteFiles()
		db.maybeScheduleCompaction()
		return nil
	}()
	db.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return db, nil
}

// replayWALs re-applies every log newer than the manifest's log number,
// flushing the recovered entries straight to level-0 tables.
func (db *DB) replayWALs(edit *version.VersionEdit) error {
	fds, err := db.st.List()
	if err != nil {
		return err
	}
	var logs []storage.FileDesc
	for _, fd := range fds {
		if fd.Type == storage.TypeWAL && fd.Num >= db.vs.LogNum() {
			logs = append(logs, fd)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].Num < logs[j].Num })

	maxSeq := db.vs.LastSeq()
	mem := memtable.New(db.icmp)
	defer func() { mem.Unref() }()

	flush := func() error {
		if mem.Empty() {
			return nil
		}
		if err := db.writeLevel0Table(mem, edit, nil); err != nil {
			return err
		}
		mem.Unref()
		mem = memtable.New(db.icmp)
		return nil
	}

	for _, fd := range logs {
		seq, err := db.replayWAL(fd, func(b *Batch) error {
			if err := b.apply(mem); err != nil {
				return err
			}
			if mem.ApproximateMemoryUsage() > db.opts.writeBufferSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		if seq > maxSeq {
			maxSeq = seq
		}
		db.vs.MarkFileNumUsed(fd.Num)
	}
	if err := flush(); err != nil {
		return err
	}
	if maxSeq > db.vs.LastSeq() {
		db.vs.SetLastSeq(maxSeq)
	}
	return nil
}

// replayWAL streams one log's batches through fn and returns the highest
// sequence number seen. A truncated tail, the signature of a crash mid
// write, ends the log cleanly; anything else is corruption.
func (db *DB) replayWAL(fd storage.FileDesc, fn func(*Batch) error) (base.SeqNum, error) {
	f, err := db.st.Open(fd)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var maxSeq base.SeqNum
	r := wal.NewReader(f, false)
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("wal %06d: %w", fd.Num, err)
		}
		b, err := decodeBatch(rec)
		if err != nil {
			return 0, fmt.Errorf("wal %06d: %w", fd.Num, err)
		}
		if err := fn(b); err != nil {
			return 0, fmt.Errorf("wal %06d: %w", fd.Num, err)
		}
		if last := b.seqNum() + base.SeqNum(b.Count()) - 1; last > maxSeq {
			maxSeq = last
		}
	}
	if n := r.Dropped(); n > 0 {
		zap.L().Warn("wal recovery dropped bytes", zap.Uint64("wal", fd.Num), zap.Int64("bytes", n))
	}
	return maxSeq, nil
}

// Get returns the value of key as of the latest committed write. The
// returned slice is the caller's to keep.
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.Lock()
	if db.closed.Load() {
		db.mu.Unlock()
		return nil, base.ErrClosed
	}
	seq := db.vs.LastSeq()
	db.mu.Unlock()
	return db.get(key, seq)
}

func (db *DB) get(key []byte, seq base.SeqNum) ([]byte, error) {
	db.mu.Lock()
	if db.closed.Load() {
		db.mu.Unlock()
		return nil, base.ErrClosed
	}
	mem, imm := db.mem, db.imm
	mem.Ref()
	if imm != nil {
		imm.Ref()
	}
	v := db.vs.Current()
	v.Ref()
	db.mu.Unlock()

	defer func() {
		mem.Unref()
		if imm != nil {
			imm.Unref()
		}
		v.Unref()
	}()

	if value, conclusive, err := mem.Get(key, seq); conclusive {
		return detach(value), err
	}
	if imm != nil {
		if value, conclusive, err := imm.Get(key, seq); conclusive {
			return detach(value), err
		}
	}
	value, conclusive, err := v.Get(base.MakeSeekKey(key, seq), db.tables)
	if !conclusive && err == nil {
		err = base.ErrNotFound
	}
	return value, err
}

// detach copies value out of arena-backed storage so it survives the
// memtable pin.
func detach(value []byte) []byte {
	if value == nil {
		return nil
	}
	return append([]byte(nil), value...)
}

// NewSnapshot captures the current committed state. The caller must
// Release it; live snapshots hold back both compaction garbage collection
// and the removal of superseded versions.
func (db *DB) NewSnapshot() *Snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := &Snapshot{db: db, seq: db.vs.LastSeq()}
	db.snapshots.pushBack(s)
	return s
}

// Get reads key as of the snapshot.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	s.db.mu.Lock()
	if s.prev == nil {
		s.db.mu.Unlock()
		return nil, base.ErrClosed
	}
	s.db.mu.Unlock()
	return s.db.get(key, s.seq)
}

// NewIterator iterates the snapshot's view in key order.
func (s *Snapshot) NewIterator() *Iterator {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.prev == nil {
		return closedIterator()
	}
	return s.db.newIterator(s.seq)
}

// NewIterator iterates the database in key order, observing exactly the
// writes committed before the call.
func (db *DB) NewIterator() *Iterator {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed.Load() {
		return closedIterator()
	}
	return db.newIterator(db.vs.LastSeq())
}

// newIterator pins the current memtables and version and merges them.
// Callers hold mu.
func (db *DB) newIterator(seq base.SeqNum) *Iterator {
	mem, imm := db.mem, db.imm
	mem.Ref()
	if imm != nil {
		imm.Ref()
	}
	v := db.vs.Current()
	v.Ref()

	iters := []base.InternalIterator{mem.NewIterator()}
	if imm != nil {
		iters = append(iters, imm.NewIterator())
	}
	iters = v.AppendIterators(db.tables, iters)

	return newIterator(iterator.NewMergingIterator(db.icmp, iters...), db.icmp, seq, func() {
		mem.Unref()
		if imm != nil {
			imm.Unref()
		}
		v.Unref()
	})
}

// Close flushes nothing and discards nothing: the WAL already holds every
// committed write, so shutdown only waits for background work and releases
// resources. Close is not safe to call concurrently with other methods.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed.Load() {
		db.mu.Unlock()
		return nil
	}
	db.closed.Store(true)
	db.bgCond.Broadcast()
	for db.compacting {
		db.bgCond.Wait()
	}
	db.mu.Unlock()

	var err error
	if db.walFile != nil {
		err = multierr.Append(err, db.walFile.Close())
	}
	err = multierr.Append(err, db.vs.Close())
	db.tables.Close()
	if db.mem != nil {
		db.mem.Unref()
	}
	if db.imm != nil {
		db.imm.Unref()
	}
	err = multierr.Append(err, db.fileLock.Close())
	if db.ownsStorage {
		err = multierr.Append(err, db.st.Close())
	}
	return err
}
