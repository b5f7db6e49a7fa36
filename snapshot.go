package graveldb

import "github.com/gravelhq/graveldb/internal/base"

// Snapshot is a stable read view: every read through it observes exactly
// the writes committed before it was taken. Snapshots pin entries against
// compaction garbage collection and must be released.
type Snapshot struct {
	db  *DB
	seq base.SeqNum

	prev, next *Snapshot
}

// Release drops the snapshot. Using it afterwards returns ErrClosed.
func (s *Snapshot) Release() {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.prev == nil {
		return
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev = nil
	s.next = nil
}

// snapshotList is an insertion-ordered list; the head side holds the
// oldest live snapshot, which bounds what compaction may drop.
type snapshotList struct {
	root Snapshot
}

func (l *snapshotList) init() {
	l.root.prev = &l.root
	l.root.next = &l.root
}

func (l *snapshotList) empty() bool {
	return l.root.next == &l.root
}

func (l *snapshotList) oldest() *Snapshot {
	return l.root.next
}

func (l *snapshotList) pushBack(s *Snapshot) {
	s.prev = l.root.prev
	s.next = &l.root
	s.prev.next = s
	s.next.prev = s
}
