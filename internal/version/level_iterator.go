package version

import (
	"go.uber.org/multierr"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/tablecache"
)

// levelIter concatenates the disjoint sorted files of one level (> 0) into
// a single iterator. Table iterators open lazily, one at a time.
type levelIter struct {
	icmp  *base.InternalComparer
	tc    *tablecache.TableCache
	files []*FileMetadata

	index int
	iter  base.InternalIterator
	err   error
}

var _ base.InternalIterator = (*levelIter)(nil)

// NewLevelIterator iterates over the given disjoint, sorted files.
func NewLevelIterator(icmp *base.InternalComparer, tc *tablecache.TableCache, files []*FileMetadata) base.InternalIterator {
	return &levelIter{icmp: icmp, tc: tc, files: files, index: -1}
}

// loadFile opens the table at index, closing the previous one.
func (l *levelIter) loadFile(index int) bool {
	if l.iter != nil {
		if err := l.iter.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.iter = nil
	}
	l.index = index
	if index < 0 || index >= len(l.files) {
		return false
	}
	l.iter = l.tc.NewIterator(l.files[index].FileNum)
	return true
}

func (l *levelIter) SeekGTE(key []byte) *base.InternalKV {
	if l.err != nil {
		return nil
	}
	ikey := base.DeserializeKey(key)
	index := findFile(l.icmp, l.files, ikey)
	if !l.loadFile(index) {
		return nil
	}
	if kv := l.iter.SeekGTE(key); kv != nil {
		return kv
	}
	return l.skipForward()
}

func (l *levelIter) SeekLT(key []byte) *base.InternalKV {
	if l.err != nil {
		return nil
	}
	ikey := base.DeserializeKey(key)
	index := findFile(l.icmp, l.files, ikey)
	if index >= len(l.files) {
		return l.Last()
	}
	if !l.loadFile(index) {
		return nil
	}
	if kv := l.iter.SeekLT(key); kv != nil {
		return kv
	}
	return l.skipBackward()
}

func (l *levelIter) First() *base.InternalKV {
	if l.err != nil {
		return nil
	}
	if !l.loadFile(0) {
		return nil
	}
	if kv := l.iter.First(); kv != nil {
		return kv
	}
	return l.skipForward()
}

func (l *levelIter) Last() *base.InternalKV {
	if l.err != nil {
		return nil
	}
	if !l.loadFile(len(l.files) - 1) {
		return nil
	}
	if kv := l.iter.Last(); kv != nil {
		return kv
	}
	return l.skipBackward()
}

func (l *levelIter) Next() *base.InternalKV {
	if l.err != nil || l.iter == nil {
		return nil
	}
	if kv := l.iter.Next(); kv != nil {
		return kv
	}
	return l.skipForward()
}

func (l *levelIter) Prev() *base.InternalKV {
	if l.err != nil || l.iter == nil {
		return nil
	}
	if kv := l.iter.Prev(); kv != nil {
		return kv
	}
	return l.skipBackward()
}

func (l *levelIter) skipForward() *base.InternalKV {
	for {
		if err := l.iter.Error(); err != nil {
			l.err = err
			return nil
		}
		if !l.loadFile(l.index + 1) {
			return nil
		}
		if kv := l.iter.First(); kv != nil {
			return kv
		}
	}
}

func (l *levelIter) skipBackward() *base.InternalKV {
	for {
		if err := l.iter.Error(); err != nil {
			l.err = err
			return nil
		}
		if !l.loadFile(l.index - 1) {
			return nil
		}
		if kv := l.iter.Last(); kv != nil {
			return kv
		}
	}
}

func (l *levelIter) Error() error {
	if l.err != nil {
		return l.err
	}
	if l.iter != nil {
		return l.iter.Error()
	}
	return nil
}

func (l *levelIter) Close() error {
	err := l.err
	if l.iter != nil {
		err = multierr.Append(err, l.iter.Close())
		l.iter = nil
	}
	return err
}
