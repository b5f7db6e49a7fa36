package graveldb

import (
	"sync"
	"time"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/memtable"
	"github.com/gravelhq/graveldb/internal/storage"
	"github.com/gravelhq/graveldb/internal/wal"
)

// Group commit caps. A large leader batch takes the queue as far as
// maxGroupCommitBytes; a small one limits growth so its own latency stays
// small.
const (
	maxGroupCommitBytes = 1 << 20
	smallBatchBytes     = 128 << 10
	l0SlowdownDelay     = time.Millisecond
)

// dbWriter is one queued commit. The queue head becomes the leader, folds
// the waiting writers' batches into a single WAL record and commits for
// all of them.
type dbWriter struct {
	batch *Batch
	sync  bool
	done  bool
	err   error
	cv    *sync.Cond
}

// Put writes key to value.
func (db *DB) Put(key, value []byte) error {
	var b Batch
	b.Put(key, value)
	return db.Write(&b)
}

// Delete removes key. Deleting an absent key succeeds.
func (db *DB) Delete(key []byte) error {
	var b Batch
	b.Delete(key)
	return db.Write(&b)
}

// Write commits the batch atomically: after a crash either every operation
// in it is visible or none is. The batch may be reused after Write
// returns.
func (db *DB) Write(batch *Batch) error {
	if batch.Empty() {
		return nil
	}
	return db.commit(batch)
}

// commit queues one writer and runs the group protocol. A nil batch
// commits nothing; it forces a memtable rotation from inside the writer
// queue, where rotation is safe.
func (db *DB) commit(batch *Batch) error {
	w := &dbWriter{batch: batch, sync: db.opts.sync}
	w.cv = sync.NewCond(&db.mu)

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed.Load() {
		return base.ErrClosed
	}
	db.writers = append(db.writers, w)
	for !w.done && db.writers[0] != w {
		w.cv.Wait()
	}
	if w.done {
		return w.err
	}

	// Leader: everything from here to the group wakeup runs once per
	// group, with mu dropped around the actual I/O.
	err := db.makeRoomForWrite(batch == nil)

	group := db.writers[:1]
	merged := batch
	if err == nil && batch != nil {
		group, merged = db.buildCommitGroup(w)

		lastSeq := db.vs.LastSeq()
		merged.setSeqNum(lastSeq + 1)
		lastSeq += base.SeqNum(merged.Count())
		mem := db.mem
		syncWAL := w.sync

		db.mu.Unlock()
		err = db.wal.AddRecord(merged.data)
		if err == nil && syncWAL {
			err = db.wal.Sync()
		}
		if err == nil {
			err = merged.apply(mem)
		}
		db.mu.Lock()

		if err != nil {
			// A half-written commit would replay differently than it
			// applied; refuse further writes.
			db.recordBackgroundError(err)
		} else {
			db.vs.SetLastSeq(lastSeq)
		}
		if merged == &db.scratch {
			db.scratch.Reset()
		}
	}

	for _, gw := range group {
		if gw != w {
			gw.err = err
			gw.done = true
			gw.cv.Signal()
		}
	}
	db.writers = db.writers[len(group):]
	if len(db.writers) > 0 {
		db.writers[0].cv.Signal()
	}
	return err
}

// buildCommitGroup folds the leading run of compatible queued writers into
// one batch. A sync commit is never folded into a non-sync leader's group;
// its durability guarantee would silently weaken.
func (db *DB) buildCommitGroup(leader *dbWriter) ([]*dbWriter, *Batch) {
	maxBytes := maxGroupCommitBytes
	if leader.batch.Size() <= smallBatchBytes {
		maxBytes = leader.batch.Size() + smallBatchBytes
	}

	n := 1
	total := leader.batch.Size()
	for n < len(db.writers) {
		next := db.writers[n]
		if next.batch == nil {
			// A rotation request commits nothing; it must lead its own
			// group so makeRoomForWrite runs on its behalf.
			break
		}
		if next.sync && !leader.sync {
			break
		}
		if total+next.batch.Size() > maxBytes {
			break
		}
		total += next.batch.Size()
		n++
	}
	if n == 1 {
		return db.writers[:1], leader.batch
	}

	db.scratch.Reset()
	for _, gw := range db.writers[:n] {
		db.scratch.append(gw.batch)
	}
	return db.writers[:n], &db.scratch
}

// makeRoomForWrite blocks the leader until the memtable can take another
// batch, rotating a full memtable out for flushing and applying level-0
// backpressure. force rotates even a memtable with room to spare. Callers
// hold mu.
func (db *DB) makeRoomForWrite(force bool) error {
	delayed := false
	for {
		switch {
		case db.bgErr != nil:
			return db.bgErr

		case !force && !delayed && db.vs.Current().NumFiles(0) >= l0SlowdownWritesTrigger:
			// Soft limit: give the level-0 compaction one scheduling
			// quantum per commit instead of stalling a full write.
			db.mu.Unlock()
			time.Sleep(l0SlowdownDelay)
			db.mu.Lock()
			delayed = true

		case !force && db.mem.ApproximateMemoryUsage() <= db.opts.writeBufferSize:
			return nil

		case db.imm != nil:
			// Previous rotation still flushing.
			db.bgCond.Wait()

		case db.vs.Current().NumFiles(0) >= l0StopWritesTrigger:
			db.bgCond.Wait()

		default:
			if err := db.rotateMemTable(); err != nil {
				return err
			}
			force = false
			db.maybeScheduleCompaction()
		}
	}
}

// rotateMemTable seals the active memtable for flushing and starts a fresh
// one on a fresh WAL. Callers hold mu.
func (db *DB) rotateMemTable() error {
	newNum := db.vs.NewFileNum()
	f, err := db.st.Create(storage.FileDesc{Type: storage.TypeWAL, Num: newNum})
	if err != nil {
		return err
	}
	if cerr := db.walFile.Close(); cerr != nil {
		f.Close()
		return cerr
	}
	db.walNum = newNum
	db.walFile = f
	db.wal = wal.NewWriter(f, 0)
	db.imm = db.mem
	db.mem = memtable.New(db.icmp)
	return nil
}
