package graveldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelhq/graveldb/internal/base"
)

type batchOp struct {
	kind  base.KeyKind
	key   string
	value string
}

func collectOps(t *testing.T, b *Batch) []batchOp {
	t.Helper()
	var ops []batchOp
	require.NoError(t, b.iterate(func(kind base.KeyKind, ukey, value []byte) error {
		ops = append(ops, batchOp{kind: kind, key: string(ukey), value: string(value)})
		return nil
	}))
	return ops
}

func TestBatchOperations(t *testing.T) {
	var b Batch
	assert.True(t, b.Empty())

	b.Put([]byte("alpha"), []byte("1"))
	b.Delete([]byte("beta"))
	b.Put([]byte("gamma"), []byte("3"))

	assert.False(t, b.Empty())
	assert.Equal(t, uint32(3), b.Count())

	want := []batchOp{
		{kind: base.KeyKindSet, key: "alpha", value: "1"},
		{kind: base.KeyKindDelete, key: "beta"},
		{kind: base.KeyKindSet, key: "gamma", value: "3"},
	}
	assert.Equal(t, want, collectOps(t, &b))
}

func TestBatchReset(t *testing.T) {
	var b Batch
	b.Put([]byte("a"), []byte("1"))
	b.Reset()
	assert.True(t, b.Empty())
	assert.Zero(t, b.Count())

	b.Put([]byte("b"), []byte("2"))
	assert.Equal(t, uint32(1), b.Count())
	assert.Equal(t, []batchOp{{kind: base.KeyKindSet, key: "b", value: "2"}}, collectOps(t, &b))
}

func TestBatchAppend(t *testing.T) {
	var a, b Batch
	a.Put([]byte("one"), []byte("1"))
	b.Put([]byte("two"), []byte("2"))
	b.Delete([]byte("three"))

	a.append(&b)
	assert.Equal(t, uint32(3), a.Count())
	want := []batchOp{
		{kind: base.KeyKindSet, key: "one", value: "1"},
		{kind: base.KeyKindSet, key: "two", value: "2"},
		{kind: base.KeyKindDelete, key: "three"},
	}
	assert.Equal(t, want, collectOps(t, &a))
}

func TestBatchSeqNum(t *testing.T) {
	var b Batch
	b.Put([]byte("a"), []byte("1"))
	b.setSeqNum(900)
	assert.Equal(t, base.SeqNum(900), b.seqNum())
	assert.Equal(t, uint32(1), b.Count())
}

func TestBatchEmptyValueAndKey(t *testing.T) {
	var b Batch
	b.Put([]byte("k"), nil)
	b.Put(nil, []byte("v"))

	want := []batchOp{
		{kind: base.KeyKindSet, key: "k", value: ""},
		{kind: base.KeyKindSet, key: "", value: "v"},
	}
	assert.Equal(t, want, collectOps(t, &b))
}

func TestBatchIterateCorruption(t *testing.T) {
	var b Batch
	b.Put([]byte("alpha"), []byte("12345"))

	// Chop into the value payload.
	b.data = b.data[:len(b.data)-3]
	err := b.iterate(func(base.KeyKind, []byte, []byte) error { return nil })
	assert.ErrorIs(t, err, base.ErrCorruption)
}

func TestBatchCountMismatchCorruption(t *testing.T) {
	var b Batch
	b.Put([]byte("a"), []byte("1"))
	b.setCount(2)
	err := b.iterate(func(base.KeyKind, []byte, []byte) error { return nil })
	assert.ErrorIs(t, err, base.ErrCorruption)
}

func TestDecodeBatch(t *testing.T) {
	var b Batch
	b.Put([]byte("a"), []byte("1"))
	b.setSeqNum(7)

	decoded, err := decodeBatch(append([]byte(nil), b.data...))
	require.NoError(t, err)
	assert.Equal(t, base.SeqNum(7), decoded.seqNum())
	assert.Equal(t, uint32(1), decoded.Count())

	_, err = decodeBatch([]byte("short"))
	assert.ErrorIs(t, err, base.ErrCorruption)
}
