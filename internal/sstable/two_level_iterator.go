package sstable

import "github.com/gravelhq/graveldb/internal/base"

// twoLevelIterator walks a table via its sparse index: the index iterator
// selects a data block, the data iterator walks entries within it.
type twoLevelIterator struct {
	r     *Reader
	index *blockIter
	data  *blockIter
	err   error
}

// loadData opens the data block the index iterator points at.
func (t *twoLevelIterator) loadData(indexValue []byte) bool {
	t.data = nil
	bh, err := DecodeBlockHandle(indexValue)
	if err != nil {
		t.err = err
		return false
	}
	block, err := t.r.readBlock(bh)
	if err != nil {
		t.err = err
		return false
	}
	data, err := newBlockIter(t.r.icmp, block)
	if err != nil {
		t.err = err
		return false
	}
	t.data = data
	return true
}

// skipForward advances across index entries until a data block yields an
// entry, starting from an exhausted data iterator.
func (t *twoLevelIterator) skipForward() *base.InternalKV {
	for t.err == nil {
		ikv := t.index.Next()
		if ikv == nil {
			return nil
		}
		if !t.loadData(ikv.V) {
			return nil
		}
		if kv := t.data.First(); kv != nil {
			return kv
		}
		t.checkDataErr()
	}
	return nil
}

func (t *twoLevelIterator) skipBackward() *base.InternalKV {
	for t.err == nil {
		ikv := t.index.Prev()
		if ikv == nil {
			return nil
		}
		if !t.loadData(ikv.V) {
			return nil
		}
		if kv := t.data.Last(); kv != nil {
			return kv
		}
		t.checkDataErr()
	}
	return nil
}

func (t *twoLevelIterator) checkDataErr() {
	if t.data != nil && t.data.Error() != nil {
		t.err = t.data.Error()
	}
}

func (t *twoLevelIterator) SeekGTE(key []byte) *base.InternalKV {
	if t.err != nil {
		return nil
	}
	// Index keys are upper bounds of their blocks, so the first index entry
	// >= key names the only block that can hold key.
	ikv := t.index.SeekGTE(key)
	if ikv == nil {
		t.checkIndexErr()
		t.data = nil
		return nil
	}
	if !t.loadData(ikv.V) {
		return nil
	}
	if kv := t.data.SeekGTE(key); kv != nil {
		return kv
	}
	t.checkDataErr()
	return t.skipForward()
}

func (t *twoLevelIterator) SeekLT(key []byte) *base.InternalKV {
	if t.err != nil {
		return nil
	}
	ikv := t.index.SeekGTE(key)
	if ikv == nil {
		// Every block bound is < key; the last entry of the table is the
		// answer when it exists.
		return t.Last()
	}
	if !t.loadData(ikv.V) {
		return nil
	}
	if kv := t.data.SeekLT(key); kv != nil {
		return kv
	}
	t.checkDataErr()
	return t.skipBackward()
}

func (t *twoLevelIterator) First() *base.InternalKV {
	if t.err != nil {
		return nil
	}
	ikv := t.index.First()
	if ikv == nil {
		t.checkIndexErr()
		t.data = nil
		return nil
	}
	if !t.loadData(ikv.V) {
		return nil
	}
	if kv := t.data.First(); kv != nil {
		return kv
	}
	t.checkDataErr()
	return t.skipForward()
}

func (t *twoLevelIterator) Last() *base.InternalKV {
	if t.err != nil {
		return nil
	}
	ikv := t.index.Last()
	if ikv == nil {
		t.checkIndexErr()
		t.data = nil
		return nil
	}
	if !t.loadData(ikv.V) {
		return nil
	}
	if kv := t.data.Last(); kv != nil {
		return kv
	}
	t.checkDataErr()
	return t.skipBackward()
}

func (t *twoLevelIterator) Next() *base.InternalKV {
	if t.err != nil || t.data == nil {
		return nil
	}
	if kv := t.data.Next(); kv != nil {
		return kv
	}
	t.checkDataErr()
	return t.skipForward()
}

func (t *twoLevelIterator) Prev() *base.InternalKV {
	if t.err != nil || t.data == nil {
		return nil
	}
	if kv := t.data.Prev(); kv != nil {
		return kv
	}
	t.checkDataErr()
	return t.skipBackward()
}

func (t *twoLevelIterator) checkIndexErr() {
	if err := t.index.Error(); err != nil {
		t.err = err
	}
}

func (t *twoLevelIterator) Error() error {
	return t.err
}

func (t *twoLevelIterator) Close() error {
	t.data = nil
	err := t.index.Close()
	if t.err != nil {
		return t.err
	}
	return err
}

var _ base.InternalIterator = (*twoLevelIterator)(nil)
