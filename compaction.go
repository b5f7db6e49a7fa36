package graveldb

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/filter"
	"github.com/gravelhq/graveldb/internal/iterator"
	"github.com/gravelhq/graveldb/internal/memtable"
	"github.com/gravelhq/graveldb/internal/sstable"
	"github.com/gravelhq/graveldb/internal/storage"
	"github.com/gravelhq/graveldb/internal/version"
)

type manualCompaction struct {
	level      int
	done       bool
	begin, end *base.InternalKey
}

// recordBackgroundError latches the first flush or compaction failure.
// Once set, writes return it until the database is reopened; continuing
// would let the WAL and the table files disagree. Callers hold mu.
func (db *DB) recordBackgroundError(err error) {
	if db.bgErr == nil {
		db.bgErr = fmt.Errorf("%w: %v", base.ErrReadOnly, err)
		zap.L().Error("background error, database is now read-only", zap.Error(err))
		db.bgCond.Broadcast()
	}
}

// maybeScheduleCompaction starts the single background worker when there
// is work: an immutable memtable to flush, a manual compaction, or a level
// over its score threshold. Callers hold mu.
func (db *DB) maybeScheduleCompaction() {
	if db.compacting || db.closed.Load() || db.bgErr != nil {
		return
	}
	if db.imm == nil && db.manual == nil && !db.vs.NeedsCompaction() {
		return
	}
	db.compacting = true
	go db.backgroundWork()
}

func (db *DB) backgroundWork() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.doBackgroundWork()
	db.compacting = false
	// The work may have created more work, e.g. a flush pushing level 0
	// over its trigger.
	db.maybeScheduleCompaction()
	db.bgCond.Broadcast()
}

// doBackgroundWork performs one unit of background work with mu held,
// dropping it around file I/O.
func (db *DB) doBackgroundWork() {
	if db.closed.Load() || db.bgErr != nil {
		return
	}

	if db.imm != nil {
		if err := db.flushMemTable(); err != nil {
			db.recordBackgroundError(err)
		}
		return
	}

	var c *version.Compaction
	if m := db.manual; m != nil {
		c = db.vs.CompactRange(m.level, m.begin, m.end)
		if c == nil {
			m.done = true
			return
		}
		// Resume after this compaction's inputs on the next round.
		last := c.Input(0, c.NumInputFiles(0)-1).Largest.Clone()
		m.begin = &last
	} else {
		c = db.vs.PickCompaction()
		if c == nil {
			return
		}
	}
	defer c.Release()

	if db.manual == nil && c.IsTrivialMove() {
		// One input file and nothing to merge with: rename it a level
		// down in the manifest instead of rewriting it.
		f := c.Input(0, 0)
		c.Edit().DeleteFile(c.Level(), f.FileNum)
		c.Edit().AddFile(c.Level()+1, f)
		if err := db.vs.LogAndApply(c.Edit()); err != nil {
			db.recordBackgroundError(err)
			return
		}
		zap.L().Debug("trivial move",
			zap.Uint64("table", f.FileNum),
			zap.Int("from", c.Level()),
			zap.Int("to", c.Level()+1),
		)
		db.removeObsoleteFiles()
		return
	}

	if err := db.doCompaction(c); err != nil {
		db.recordBackgroundError(err)
	}
}

// flushMemTable writes the immutable memtable as a level-0 table (or
// deeper when nothing overlaps) and retires the WALs it came from.
// Callers hold mu.
func (db *DB) flushMemTable() error {
	m := db.imm
	v := db.vs.Current()
	v.Ref()
	defer v.Unref()

	var edit version.VersionEdit
	if err := db.writeLevel0Table(m, &edit, v); err != nil {
		return err
	}

	// Everything up to the current WAL is now in tables.
	edit.SetLogNum(db.walNum)
	if err := db.vs.LogAndApply(&edit); err != nil {
		return err
	}

	db.imm = nil
	m.Unref()
	db.removeObsoleteFiles()
	return nil
}

// writeLevel0Table builds one table from mem's contents and records it in
// edit. With a base version the output is placed as deep as it can go
// without overlapping live data. Callers hold mu; it is dropped during the
// build.
func (db *DB) writeLevel0Table(mem *memtable.MemTable, edit *version.VersionEdit, v *version.Version) error {
	num := db.vs.NewFileNum()
	db.pendingOutputs[num] = struct{}{}
	defer delete(db.pendingOutputs, num)

	db.mu.Unlock()
	meta, err := db.buildTable(num, mem.NewIterator())
	db.mu.Lock()

	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	level := 0
	if v != nil {
		level = v.PickLevelForMemTableOutput(meta.Smallest.UserKey, meta.Largest.UserKey)
	}
	edit.AddFile(level, meta)
	zap.L().Info("memtable flushed",
		zap.Uint64("table", meta.FileNum),
		zap.Int("level", level),
		zap.Uint64("bytes", meta.Size),
	)
	return nil
}

// buildTable drains iter into table file num. A nil metadata return means
// the input was empty and no file was kept.
func (db *DB) buildTable(num uint64, iter base.InternalIterator) (meta *version.FileMetadata, err error) {
	defer func() {
		err = multierr.Append(err, iter.Close())
		if err != nil || meta == nil {
			db.st.Remove(storage.FileDesc{Type: storage.TypeTable, Num: num})
			meta = nil
		}
	}()

	kv := iter.First()
	if kv == nil {
		return nil, iter.Error()
	}

	f, err := db.st.Create(storage.FileDesc{Type: storage.TypeTable, Num: num})
	if err != nil {
		return nil, err
	}
	w := sstable.NewWriter(f, db.tableWriterOptions())

	meta = &version.FileMetadata{FileNum: num, Smallest: kv.K.Clone()}
	for ; kv != nil; kv = iter.Next() {
		meta.Largest = kv.K.Clone()
		if err := w.Add(kv.K, kv.V); err != nil {
			w.Close()
			return nil, err
		}
	}
	if err := iter.Error(); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	size, err := db.st.Size(storage.FileDesc{Type: storage.TypeTable, Num: num})
	if err != nil {
		return nil, err
	}
	meta.Size = size
	return meta, nil
}

func (db *DB) tableWriterOptions() sstable.WriterOptions {
	var fp base.IFilterPolicy
	if db.opts.bitsPerKey > 0 {
		fp = filter.NewBloomPolicy(db.opts.bitsPerKey)
	}
	return sstable.WriterOptions{
		Comparer:     db.opts.comparer,
		BlockSize:    db.opts.blockSize,
		Compression:  db.opts.compression,
		FilterPolicy: fp,
	}
}

// inputIterator merges every entry of the compaction's inputs. Level-0
// files overlap and contribute one iterator each; deeper inputs are
// disjoint and share a concatenating iterator per level.
func (db *DB) inputIterator(c *version.Compaction) base.InternalIterator {
	var iters []base.InternalIterator
	if c.Level() == 0 {
		for i := 0; i < c.NumInputFiles(0); i++ {
			iters = append(iters, db.tables.NewIterator(c.Input(0, i).FileNum))
		}
	} else {
		files := make([]*version.FileMetadata, c.NumInputFiles(0))
		for i := range files {
			files[i] = c.Input(0, i)
		}
		iters = append(iters, version.NewLevelIterator(db.icmp, db.tables, files))
	}
	if n := c.NumInputFiles(1); n > 0 {
		files := make([]*version.FileMetadata, n)
		for i := range files {
			files[i] = c.Input(1, i)
		}
		iters = append(iters, version.NewLevelIterator(db.icmp, db.tables, files))
	}
	return iterator.NewMergingIterator(db.icmp, iters...)
}

// doCompaction merges the inputs into new tables for level+1, dropping
// entries shadowed below the oldest live snapshot and tombstones that no
// deeper level could resurrect. Callers hold mu; it is dropped during the
// merge.
func (db *DB) doCompaction(c *version.Compaction) error {
	// Entries at or below this sequence have exactly one visible
	// representative per user key; older duplicates can go.
	smallestSnapshot := db.vs.LastSeq()
	if !db.snapshots.empty() {
		smallestSnapshot = db.snapshots.oldest().seq
	}

	zap.L().Info("compaction started",
		zap.Int("level", c.Level()),
		zap.Int("inputs", c.NumInputFiles(0)),
		zap.Int("overlaps", c.NumInputFiles(1)),
	)

	db.mu.Unlock()
	outputs, err := db.runCompaction(c, smallestSnapshot)
	db.mu.Lock()

	if err != nil {
		for _, meta := range outputs {
			db.st.Remove(storage.FileDesc{Type: storage.TypeTable, Num: meta.FileNum})
			delete(db.pendingOutputs, meta.FileNum)
		}
		return err
	}

	c.AddInputDeletions(c.Edit())
	for _, meta := range outputs {
		c.Edit().AddFile(c.Level()+1, meta)
	}
	err = db.vs.LogAndApply(c.Edit())
	for _, meta := range outputs {
		delete(db.pendingOutputs, meta.FileNum)
	}
	if err != nil {
		return err
	}

	zap.L().Info("compaction finished",
		zap.Int("level", c.Level()),
		zap.Int("outputs", len(outputs)),
	)
	db.removeObsoleteFiles()
	return nil
}

// runCompaction is the merge loop, run without mu.
func (db *DB) runCompaction(c *version.Compaction, smallestSnapshot base.SeqNum) (outputs []*version.FileMetadata, err error) {
	ucmp := db.icmp.UserCmp
	iter := db.inputIterator(c)
	defer func() {
		err = multierr.Append(err, iter.Close())
	}()

	var (
		w           *sstable.Writer
		meta        *version.FileMetadata
		f           storage.Writable
		currentUser []byte
		hasCurrent  bool
		lastSeq     base.SeqNum
	)
	defer func() {
		// An output cut short by an error never joins the version; drop
		// it here so the obsolete sweep can reclaim its number.
		if w != nil {
			w.Close()
			db.st.Remove(storage.FileDesc{Type: storage.TypeTable, Num: meta.FileNum})
			db.mu.Lock()
			delete(db.pendingOutputs, meta.FileNum)
			db.mu.Unlock()
		}
	}()

	finishOutput := func() error {
		if w == nil {
			return nil
		}
		werr := w.Close()
		w, f = nil, nil
		if werr != nil {
			return werr
		}
		size, serr := db.st.Size(storage.FileDesc{Type: storage.TypeTable, Num: meta.FileNum})
		if serr != nil {
			return serr
		}
		meta.Size = size
		outputs = append(outputs, meta)
		meta = nil
		return nil
	}

	for kv := iter.First(); kv != nil; kv = iter.Next() {
		if db.closed.Load() {
			return outputs, base.ErrClosed
		}

		drop := false
		if !hasCurrent || ucmp.Compare(kv.K.UserKey, currentUser) != 0 {
			currentUser = append(currentUser[:0], kv.K.UserKey...)
			hasCurrent = true
			lastSeq = base.MaxSeqNum
		}
		switch {
		case lastSeq <= smallestSnapshot:
			// A newer entry for this key already at or below the
			// snapshot floor shadows this one for every reader.
			drop = true
		case kv.K.Kind() == base.KeyKindDelete &&
			kv.K.SeqNum() <= smallestSnapshot &&
			c.IsBaseLevelForKey(kv.K.UserKey):
			// Nothing older survives below, so the tombstone itself can
			// go too.
			drop = true
		}
		lastSeq = kv.K.SeqNum()
		if drop {
			continue
		}

		if w != nil && c.ShouldStopBefore(kv.K) {
			if err := finishOutput(); err != nil {
				return outputs, err
			}
		}
		if w == nil {
			db.mu.Lock()
			num := db.vs.NewFileNum()
			db.pendingOutputs[num] = struct{}{}
			db.mu.Unlock()
			f, err = db.st.Create(storage.FileDesc{Type: storage.TypeTable, Num: num})
			if err != nil {
				return outputs, err
			}
			w = sstable.NewWriter(f, db.tableWriterOptions())
			meta = &version.FileMetadata{FileNum: num, Smallest: kv.K.Clone()}
		}
		meta.Largest = kv.K.Clone()
		if err := w.Add(kv.K, kv.V); err != nil {
			return outputs, err
		}
		if int64(w.EstimatedSize()) >= c.MaxOutputFileSize() {
			if err := finishOutput(); err != nil {
				return outputs, err
			}
		}
	}
	if err := iter.Error(); err != nil {
		return outputs, err
	}
	return outputs, finishOutput()
}

// CompactRange compacts every level whose files intersect [start, limit]
// (nil for unbounded) all the way down, rewriting the data at its deepest
// applicable level. It blocks until the work completes.
func (db *DB) CompactRange(start, limit []byte) error {
	var begin, end *base.InternalKey
	if start != nil {
		k := base.MakeSeekKey(start, base.MaxSeqNum)
		begin = &k
	}
	if limit != nil {
		k := base.MakeKey(limit, 0, base.KeyKindUnknown)
		end = &k
	}

	// Flush first so the range's newest entries participate. The empty
	// commit rotates the memtable from inside the writer queue.
	if err := db.commit(nil); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	for db.imm != nil && db.bgErr == nil && !db.closed.Load() {
		db.bgCond.Wait()
	}
	if db.closed.Load() {
		return base.ErrClosed
	}

	for level := 0; level < version.NumLevels-1; level++ {
		if err := db.runManualCompaction(level, begin, end); err != nil {
			return err
		}
	}
	return db.bgErr
}

// runManualCompaction drives one level's manual compaction to completion.
// Callers hold mu.
func (db *DB) runManualCompaction(level int, begin, end *base.InternalKey) error {
	m := &manualCompaction{level: level, begin: begin, end: end}
	db.manual = m
	defer func() { db.manual = nil }()
	for !m.done && db.bgErr == nil && !db.closed.Load() {
		db.maybeScheduleCompaction()
		db.bgCond.Wait()
	}
	if db.closed.Load() {
		return base.ErrClosed
	}
	return db.bgErr
}

// removeObsoleteFiles deletes files no live version references: old WALs,
// superseded manifests and compacted-away tables. Callers hold mu.
func (db *DB) removeObsoleteFiles() {
	if db.bgErr != nil {
		// State is suspect; keep everything for forensics.
		return
	}
	live := make(map[uint64]struct{}, len(db.pendingOutputs))
	for num := range db.pendingOutputs {
		live[num] = struct{}{}
	}
	db.vs.AddLiveFiles(live)

	fds, err := db.st.List()
	if err != nil {
		zap.L().Warn("obsolete file scan failed", zap.Error(err))
		return
	}
	for _, fd := range fds {
		keep := true
		switch fd.Type {
		case storage.TypeWAL:
			keep = fd.Num >= db.vs.LogNum()
		case storage.TypeManifest:
			keep = fd.Num >= db.vs.ManifestNum()
		case storage.TypeTable:
			_, keep = live[fd.Num]
		case storage.TypeTemp:
			keep = false
		}
		if keep {
			continue
		}
		if fd.Type == storage.TypeTable {
			db.tables.Evict(fd.Num)
		}
		if err := db.st.Remove(fd); err != nil {
			zap.L().Warn("obsolete file removal failed",
				zap.String("type", fd.Type.String()),
				zap.Uint64("num", fd.Num),
				zap.Error(err),
			)
			continue
		}
		zap.L().Debug("removed obsolete file",
			zap.String("type", fd.Type.String()),
			zap.Uint64("num", fd.Num),
		)
	}
}
