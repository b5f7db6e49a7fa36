package graveldb

import (
	"github.com/gravelhq/graveldb/internal/base"
)

type iterDirection int8

const (
	iterForward iterDirection = iota
	iterReverse
)

// Iterator walks user keys in comparer order over one stable view of the
// database. Each user key appears once, at its newest visible value;
// deleted keys do not appear. Not safe for concurrent use.
type Iterator struct {
	iter    base.InternalIterator
	icmp    *base.InternalComparer
	seq     base.SeqNum
	cleanup func()

	dir   iterDirection
	valid bool
	err   error

	// cur is the merged iterator's position in forward mode. In reverse
	// mode the iterator sits before the entry that savedKey/savedValue
	// hold.
	cur        *base.InternalKV
	savedKey   []byte
	savedValue []byte
}

func newIterator(iter base.InternalIterator, icmp *base.InternalComparer, seq base.SeqNum, cleanup func()) *Iterator {
	return &Iterator{iter: iter, icmp: icmp, seq: seq, cleanup: cleanup}
}

func closedIterator() *Iterator {
	return &Iterator{err: base.ErrClosed}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.valid
}

// Key returns the current key. The slice is only valid until the next
// positioning call.
func (it *Iterator) Key() []byte {
	if !it.valid {
		return nil
	}
	if it.dir == iterReverse {
		return it.savedKey
	}
	return it.cur.K.UserKey
}

// Value returns the current value, valid until the next positioning call.
func (it *Iterator) Value() []byte {
	if !it.valid {
		return nil
	}
	if it.dir == iterReverse {
		return it.savedValue
	}
	return it.cur.V
}

// Error returns the first failure the iterator hit. Exhaustion is not an
// error.
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.iter != nil {
		return it.iter.Error()
	}
	return nil
}

// First positions at the smallest key.
func (it *Iterator) First() bool {
	if it.err != nil {
		return false
	}
	it.dir = iterForward
	it.cur = it.iter.First()
	it.findNextUserEntry(false, nil)
	return it.valid
}

// Last positions at the largest key.
func (it *Iterator) Last() bool {
	if it.err != nil {
		return false
	}
	it.dir = iterReverse
	it.cur = it.iter.Last()
	it.findPrevUserEntry()
	return it.valid
}

// Seek positions at the first key >= key.
func (it *Iterator) Seek(key []byte) bool {
	if it.err != nil {
		return false
	}
	it.dir = iterForward
	it.cur = it.iter.SeekGTE(base.MakeSeekKey(key, it.seq).Serialize())
	it.findNextUserEntry(false, nil)
	return it.valid
}

// Next advances to the next larger key.
func (it *Iterator) Next() bool {
	if it.err != nil || !it.valid {
		return false
	}
	if it.dir == iterReverse {
		// The merged iterator sits before the saved entry; walk it back
		// onto and past that key.
		it.dir = iterForward
		if it.cur == nil {
			it.cur = it.iter.First()
		} else {
			it.cur = it.iter.Next()
		}
		it.findNextUserEntry(true, it.savedKey)
		return it.valid
	}
	skip := append(it.savedKey[:0], it.cur.K.UserKey...)
	it.savedKey = skip
	it.cur = it.iter.Next()
	it.findNextUserEntry(true, skip)
	return it.valid
}

// Prev moves to the next smaller key.
func (it *Iterator) Prev() bool {
	if it.err != nil || !it.valid {
		return false
	}
	if it.dir == iterForward {
		// Walk backwards off every entry of the current key so the
		// reverse scan starts at its predecessor.
		it.savedKey = append(it.savedKey[:0], it.cur.K.UserKey...)
		for {
			it.cur = it.iter.Prev()
			if it.cur == nil {
				break
			}
			if it.icmp.UserCmp.Compare(it.cur.K.UserKey, it.savedKey) < 0 {
				break
			}
		}
		it.dir = iterReverse
		if it.cur == nil {
			it.valid = false
			it.savedKey = it.savedKey[:0]
			it.savedValue = nil
			return false
		}
	}
	it.findPrevUserEntry()
	return it.valid
}

// findNextUserEntry scans forward to the newest visible, non-deleted entry
// of the next eligible user key. With skipping, entries of skipKey and
// anything before it are hidden, which is how a key's older revisions and
// tombstoned keys disappear.
func (it *Iterator) findNextUserEntry(skipping bool, skipKey []byte) {
	for ; it.cur != nil; it.cur = it.iter.Next() {
		ikey := it.cur.K
		if ikey.SeqNum() > it.seq {
			continue
		}
		switch ikey.Kind() {
		case base.KeyKindDelete:
			// Every older entry of this key is shadowed.
			it.savedKey = append(it.savedKey[:0], ikey.UserKey...)
			skipKey = it.savedKey
			skipping = true
		case base.KeyKindSet:
			if skipping && it.icmp.UserCmp.Compare(ikey.UserKey, skipKey) <= 0 {
				continue
			}
			it.valid = true
			return
		}
	}
	it.valid = false
	if err := it.iter.Error(); err != nil && it.err == nil {
		it.err = err
	}
}

// findPrevUserEntry scans backward until it has the newest visible entry
// of some user key and knows it is a live value, leaving the merged
// iterator just before that key's entries.
func (it *Iterator) findPrevUserEntry() {
	kind := base.KeyKindDelete
	for ; it.cur != nil; it.cur = it.iter.Prev() {
		ikey := it.cur.K
		if ikey.SeqNum() > it.seq {
			continue
		}
		if kind != base.KeyKindDelete && it.icmp.UserCmp.Compare(ikey.UserKey, it.savedKey) < 0 {
			// savedKey holds a live value and this entry belongs to the
			// key before it.
			break
		}
		kind = ikey.Kind()
		if kind == base.KeyKindDelete {
			it.savedKey = it.savedKey[:0]
			it.savedValue = nil
		} else {
			it.savedKey = append(it.savedKey[:0], ikey.UserKey...)
			it.savedValue = append(it.savedValue[:0], it.cur.V...)
		}
	}
	if kind == base.KeyKindDelete {
		it.valid = false
		it.savedKey = it.savedKey[:0]
		it.savedValue = nil
		it.dir = iterForward
	} else {
		it.valid = true
	}
	if err := it.iter.Error(); err != nil && it.err == nil {
		it.err = err
	}
}

// Close releases the iterator's pins on memtables and table files.
func (it *Iterator) Close() error {
	if it.iter == nil {
		if it.err == base.ErrClosed {
			return nil
		}
		return it.err
	}
	err := it.iter.Close()
	it.iter = nil
	it.valid = false
	if it.cleanup != nil {
		it.cleanup()
		it.cleanup = nil
	}
	if it.err != nil {
		return it.err
	}
	return err
}
