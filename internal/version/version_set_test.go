package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/storage"
)

func testInternalComparer() *base.InternalComparer {
	return base.NewInternalComparer(base.NewComparer())
}

func newTestVersionSet(t *testing.T) (*VersionSet, storage.Storage) {
	t.Helper()
	st := storage.NewInmemStorage()
	vs := NewVersionSet(st, testInternalComparer(), Config{})
	return vs, st
}

func fileMeta(num, size uint64, smallest, largest string) *FileMetadata {
	return &FileMetadata{
		FileNum:  num,
		Size:     size,
		Smallest: base.MakeKey([]byte(smallest), 1, base.KeyKindSet),
		Largest:  base.MakeKey([]byte(largest), 1, base.KeyKindSet),
	}
}

func TestVersionSetCreate(t *testing.T) {
	vs, st := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	defer func() { _ = vs.Close() }()

	fd, err := st.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, vs.ManifestNum(), fd.Num)

	for level := 0; level < NumLevels; level++ {
		assert.Zero(t, vs.Current().NumFiles(level))
	}
	assert.False(t, vs.NeedsCompaction())
}

func TestVersionSetLogAndApply(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	defer func() { _ = vs.Close() }()

	num := vs.NewFileNum()
	var edit VersionEdit
	edit.AddFile(0, fileMeta(num, 1024, "a", "m"))
	require.NoError(t, vs.LogAndApply(&edit))

	v := vs.Current()
	require.Equal(t, 1, v.NumFiles(0))
	assert.Equal(t, num, v.Files[0][0].FileNum)

	var edit2 VersionEdit
	edit2.DeleteFile(0, num)
	require.NoError(t, vs.LogAndApply(&edit2))
	assert.Zero(t, vs.Current().NumFiles(0))
}

func TestVersionSetRecover(t *testing.T) {
	vs, st := newTestVersionSet(t)
	require.NoError(t, vs.Create())

	l0num := vs.NewFileNum()
	l2num := vs.NewFileNum()
	vs.SetLastSeq(42)
	var edit VersionEdit
	edit.AddFile(0, fileMeta(l0num, 1024, "a", "m"))
	edit.AddFile(2, fileMeta(l2num, 2048, "n", "z"))
	edit.SetCompactPointer(1, base.MakeKey([]byte("pivot"), 9, base.KeyKindSet))
	require.NoError(t, vs.LogAndApply(&edit))
	require.NoError(t, vs.Close())

	vs2 := NewVersionSet(st, testInternalComparer(), Config{})
	require.NoError(t, vs2.Recover())
	defer func() { _ = vs2.Close() }()

	v := vs2.Current()
	require.Equal(t, 1, v.NumFiles(0))
	assert.Equal(t, l0num, v.Files[0][0].FileNum)
	assert.Equal(t, "a", string(v.Files[0][0].Smallest.UserKey))
	require.Equal(t, 1, v.NumFiles(2))
	assert.Equal(t, l2num, v.Files[2][0].FileNum)
	assert.Equal(t, uint64(2048), v.Files[2][0].Size)

	assert.Equal(t, base.SeqNum(42), vs2.LastSeq())
	assert.Equal(t, "pivot", string(vs2.compactPointer[1].UserKey))
	assert.Greater(t, vs2.NewFileNum(), l2num)
}

func TestVersionSetRecoverFreshDir(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	assert.ErrorIs(t, vs.Recover(), storage.ErrFileNotFound)
}

func TestVersionSetRecoverComparerMismatch(t *testing.T) {
	vs, st := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	require.NoError(t, vs.Close())

	other := base.NewInternalComparer(reversedComparer{})
	vs2 := NewVersionSet(st, other, Config{})
	assert.ErrorIs(t, vs2.Recover(), base.ErrInvalidArgument)
}

// reversedComparer only differs by name; Recover must reject the manifest
// on the name alone.
type reversedComparer struct {
	base.IComparer
}

func (reversedComparer) Name() string { return "test.ReversedComparer" }

func TestVersionSetFileNumbers(t *testing.T) {
	vs, _ := newTestVersionSet(t)

	n1 := vs.NewFileNum()
	n2 := vs.NewFileNum()
	assert.Greater(t, n2, n1)

	vs.MarkFileNumUsed(100)
	assert.Greater(t, vs.NewFileNum(), uint64(100))
}

func TestVersionSetLastSeqBackwardsPanics(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	vs.SetLastSeq(10)
	assert.Panics(t, func() { vs.SetLastSeq(9) })
}

func TestVersionSetAddLiveFiles(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	defer func() { _ = vs.Close() }()

	l0num := vs.NewFileNum()
	l3num := vs.NewFileNum()
	var edit VersionEdit
	edit.AddFile(0, fileMeta(l0num, 1024, "a", "m"))
	edit.AddFile(3, fileMeta(l3num, 1024, "n", "z"))
	require.NoError(t, vs.LogAndApply(&edit))

	live := make(map[uint64]struct{})
	vs.AddLiveFiles(live)
	assert.Contains(t, live, l0num)
	assert.Contains(t, live, l3num)
}

func TestVersionSetNeedsCompactionAtL0Trigger(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	defer func() { _ = vs.Close() }()

	for i := 0; i < 4; i++ {
		var edit VersionEdit
		edit.AddFile(0, fileMeta(vs.NewFileNum(), 1024, "a", "z"))
		require.NoError(t, vs.LogAndApply(&edit))
		want := i >= 3
		assert.Equal(t, want, vs.NeedsCompaction(), "after %d files", i+1)
	}
}

func TestBuilderAppliesEditsInOrder(t *testing.T) {
	vs, _ := newTestVersionSet(t)

	b := newBuilder(vs, vs.Current())
	defer b.release()

	var e1 VersionEdit
	e1.AddFile(1, fileMeta(5, 1024, "m", "r"))
	e1.AddFile(1, fileMeta(4, 1024, "a", "c"))
	b.apply(&e1)

	var e2 VersionEdit
	e2.DeleteFile(1, 5)
	e2.AddFile(1, fileMeta(6, 1024, "d", "f"))
	b.apply(&e2)

	v := newVersion(vs)
	b.saveTo(v)
	require.Equal(t, 2, v.NumFiles(1))
	assert.Equal(t, uint64(4), v.Files[1][0].FileNum)
	assert.Equal(t, uint64(6), v.Files[1][1].FileNum)
}

func TestBuilderOrdersLevel0NewestFirst(t *testing.T) {
	vs, _ := newTestVersionSet(t)

	b := newBuilder(vs, vs.Current())
	defer b.release()

	var edit VersionEdit
	edit.AddFile(0, fileMeta(3, 1024, "a", "z"))
	edit.AddFile(0, fileMeta(7, 1024, "a", "z"))
	edit.AddFile(0, fileMeta(5, 1024, "a", "z"))
	b.apply(&edit)

	v := newVersion(vs)
	b.saveTo(v)
	require.Equal(t, 3, v.NumFiles(0))
	assert.Equal(t, uint64(7), v.Files[0][0].FileNum)
	assert.Equal(t, uint64(5), v.Files[0][1].FileNum)
	assert.Equal(t, uint64(3), v.Files[0][2].FileNum)
}
