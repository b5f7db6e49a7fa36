package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelhq/graveldb/internal/base"
)

func applyEdit(t *testing.T, vs *VersionSet, fn func(edit *VersionEdit)) {
	t.Helper()
	var edit VersionEdit
	fn(&edit)
	require.NoError(t, vs.LogAndApply(&edit))
}

func TestPickCompactionNothingDue(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	defer func() { _ = vs.Close() }()

	assert.Nil(t, vs.PickCompaction())
}

func TestPickCompactionL0PullsAllOverlaps(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	defer func() { _ = vs.Close() }()

	applyEdit(t, vs, func(edit *VersionEdit) {
		for i := 0; i < 4; i++ {
			edit.AddFile(0, fileMeta(vs.NewFileNum(), 1024, "a", "z"))
		}
		edit.AddFile(1, fileMeta(vs.NewFileNum(), 1024, "c", "k"))
	})
	require.True(t, vs.NeedsCompaction())

	c := vs.PickCompaction()
	require.NotNil(t, c)
	defer c.Release()

	assert.Equal(t, 0, c.Level())
	assert.Equal(t, 4, c.NumInputFiles(0))
	assert.Equal(t, 1, c.NumInputFiles(1))
	assert.False(t, c.IsTrivialMove())

	var edit VersionEdit
	c.AddInputDeletions(&edit)
	assert.Len(t, edit.DeletedFiles, 5)
}

func TestPickCompactionTrivialMove(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	defer func() { _ = vs.Close() }()

	// One oversized level-1 file with nothing below it moves down by
	// rename.
	num := vs.NewFileNum()
	applyEdit(t, vs, func(edit *VersionEdit) {
		edit.AddFile(1, fileMeta(num, 20<<20, "a", "m"))
	})
	require.True(t, vs.NeedsCompaction())

	c := vs.PickCompaction()
	require.NotNil(t, c)
	defer c.Release()

	assert.Equal(t, 1, c.Level())
	assert.Equal(t, 1, c.NumInputFiles(0))
	assert.Equal(t, num, c.Input(0, 0).FileNum)
	assert.Zero(t, c.NumInputFiles(1))
	assert.True(t, c.IsTrivialMove())
}

func TestPickCompactionResumesAfterPointer(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	defer func() { _ = vs.Close() }()

	first := vs.NewFileNum()
	second := vs.NewFileNum()
	applyEdit(t, vs, func(edit *VersionEdit) {
		edit.AddFile(1, fileMeta(first, 6<<20, "a", "c"))
		edit.AddFile(1, fileMeta(second, 6<<20, "e", "g"))
	})
	require.True(t, vs.NeedsCompaction())

	c := vs.PickCompaction()
	require.NotNil(t, c)
	assert.Equal(t, first, c.Input(0, 0).FileNum)
	c.Release()

	// The pointer now sits past the first file; the next pick continues
	// with the second.
	c = vs.PickCompaction()
	require.NotNil(t, c)
	assert.Equal(t, second, c.Input(0, 0).FileNum)
	c.Release()

	// Past the last file the pointer wraps to the start.
	c = vs.PickCompaction()
	require.NotNil(t, c)
	assert.Equal(t, first, c.Input(0, 0).FileNum)
	c.Release()
}

func TestCompactRangeLevel(t *testing.T) {
	vs, _ := newTestVersionSet(t)
	require.NoError(t, vs.Create())
	defer func() { _ = vs.Close() }()

	applyEdit(t, vs, func(edit *VersionEdit) {
		edit.AddFile(1, fileMeta(vs.NewFileNum(), 1024, "a", "c"))
		edit.AddFile(1, fileMeta(vs.NewFileNum(), 1024, "e", "g"))
	})

	c := vs.CompactRange(1, nil, nil)
	require.NotNil(t, c)
	assert.Equal(t, 2, c.NumInputFiles(0))
	c.Release()

	begin := base.MakeSeekKey([]byte("f"), base.MaxSeqNum)
	end := base.MakeKey([]byte("h"), 0, base.KeyKindUnknown)
	c = vs.CompactRange(1, &begin, &end)
	require.NotNil(t, c)
	assert.Equal(t, 1, c.NumInputFiles(0))
	assert.Equal(t, "e", string(c.Input(0, 0).Smallest.UserKey))
	c.Release()

	assert.Nil(t, vs.CompactRange(3, nil, nil))
}

func TestIsBaseLevelForKey(t *testing.T) {
	vs, _ := newTestVersionSet(t)

	v := newVersion(vs)
	v.Files[3] = []*FileMetadata{fileMeta(9, 1024, "m", "p")}
	c := &Compaction{vset: vs, version: v, level: 1}

	// Keys must arrive in ascending order.
	assert.True(t, c.IsBaseLevelForKey([]byte("a")))
	assert.False(t, c.IsBaseLevelForKey([]byte("n")))
	assert.True(t, c.IsBaseLevelForKey([]byte("q")))
}

func TestShouldStopBeforeBoundsGrandparentOverlap(t *testing.T) {
	vs, _ := newTestVersionSet(t)

	c := &Compaction{vset: vs, version: newVersion(vs), level: 0}
	c.grandparents = []*FileMetadata{
		fileMeta(1, 15<<20, "a", "c"),
		fileMeta(2, 15<<20, "e", "g"),
		fileMeta(3, 15<<20, "i", "k"),
	}

	key := func(s string) base.InternalKey {
		return base.MakeKey([]byte(s), 1, base.KeyKindSet)
	}
	assert.False(t, c.ShouldStopBefore(key("a")))
	assert.False(t, c.ShouldStopBefore(key("d")))
	assert.True(t, c.ShouldStopBefore(key("h")))
}

func TestPickLevelForMemTableOutput(t *testing.T) {
	vs, _ := newTestVersionSet(t)

	tests := []struct {
		name  string
		setup func(v *Version)
		want  int
	}{
		{name: "empty tree sinks to level 2", setup: func(v *Version) {}, want: 2},
		{name: "level 0 overlap stays at 0", setup: func(v *Version) {
			v.Files[0] = []*FileMetadata{fileMeta(1, 1024, "a", "c")}
		}, want: 0},
		{name: "level 1 overlap stops at 0", setup: func(v *Version) {
			v.Files[1] = []*FileMetadata{fileMeta(1, 1024, "a", "c")}
		}, want: 0},
		{name: "level 2 overlap stops at 1", setup: func(v *Version) {
			v.Files[2] = []*FileMetadata{fileMeta(1, 1024, "a", "c")}
		}, want: 1},
		{name: "heavy level 2 overlap stops the descent", setup: func(v *Version) {
			v.Files[2] = []*FileMetadata{fileMeta(1, 30<<20, "b", "c")}
		}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVersion(vs)
			tt.setup(v)
			assert.Equal(t, tt.want, v.PickLevelForMemTableOutput([]byte("b"), []byte("d")))
		})
	}
}

func TestGetOverlappingInputsLevel0Widens(t *testing.T) {
	vs, _ := newTestVersionSet(t)

	v := newVersion(vs)
	v.Files[0] = []*FileMetadata{
		fileMeta(3, 1024, "a", "c"),
		fileMeta(2, 1024, "b", "f"),
		fileMeta(1, 1024, "h", "j"),
	}

	begin := base.MakeSeekKey([]byte("a"), base.MaxSeqNum)
	end := base.MakeKey([]byte("b"), 0, base.KeyKindUnknown)
	inputs := v.getOverlappingInputs(0, &begin, &end)

	// The a-c file drags in b-f; the widened range still misses h-j.
	require.Len(t, inputs, 2)
}

func TestGetOverlappingInputsDisjointLevel(t *testing.T) {
	vs, _ := newTestVersionSet(t)

	v := newVersion(vs)
	v.Files[1] = []*FileMetadata{
		fileMeta(1, 1024, "a", "c"),
		fileMeta(2, 1024, "d", "f"),
		fileMeta(3, 1024, "g", "i"),
	}

	begin := base.MakeSeekKey([]byte("c"), base.MaxSeqNum)
	end := base.MakeKey([]byte("e"), 0, base.KeyKindUnknown)
	inputs := v.getOverlappingInputs(1, &begin, &end)
	require.Len(t, inputs, 2)
	assert.Equal(t, uint64(1), inputs[0].FileNum)
	assert.Equal(t, uint64(2), inputs[1].FileNum)

	assert.Len(t, v.getOverlappingInputs(1, nil, nil), 3)
}
