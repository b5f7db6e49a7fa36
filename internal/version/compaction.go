package version

import (
	"github.com/gravelhq/graveldb/internal/base"
)

// Compaction describes one unit of background work: the files of level
// that merge with the overlapping files of level+1. The version the files
// came from stays pinned until Release.
type Compaction struct {
	vset    *VersionSet
	version *Version
	level   int

	// inputs[0] holds the level files, inputs[1] the level+1 files.
	inputs [2][]*FileMetadata

	// grandparents are the level+2 files overlapping the compaction's
	// range, used to cut output files before they get expensive to
	// compact further down.
	grandparents      []*FileMetadata
	grandparentIndex  int
	seenKey           bool
	overlappedBytes   int64

	// levelPtrs memoizes the per-level position of IsBaseLevelForKey;
	// keys arrive in ascending order so each level is scanned once.
	levelPtrs [NumLevels]int

	// edit accumulates the deletions and additions to install when the
	// work finishes. The picker seeds it with the level's new compact
	// pointer.
	edit VersionEdit
}

// Level returns the upper input level.
func (c *Compaction) Level() int {
	return c.level
}

// Input returns file i of input set which (0 for level, 1 for level+1).
func (c *Compaction) Input(which, i int) *FileMetadata {
	return c.inputs[which][i]
}

// NumInputFiles returns the size of one input set.
func (c *Compaction) NumInputFiles(which int) int {
	return len(c.inputs[which])
}

// Edit returns the pending version edit for this compaction.
func (c *Compaction) Edit() *VersionEdit {
	return &c.edit
}

// MaxOutputFileSize caps a single output table.
func (c *Compaction) MaxOutputFileSize() int64 {
	return c.vset.cfg.TargetFileSize
}

// IsTrivialMove reports whether the compaction can complete by renaming a
// single file into the next level: one input, nothing to merge with, and
// not enough grandparent overlap to regret the move later.
func (c *Compaction) IsTrivialMove() bool {
	return len(c.inputs[0]) == 1 && len(c.inputs[1]) == 0 &&
		totalFileSize(c.grandparents) <= c.vset.cfg.maxGrandParentOverlapBytes()
}

// AddInputDeletions records every input file as deleted in edit.
func (c *Compaction) AddInputDeletions(edit *VersionEdit) {
	for which := 0; which < 2; which++ {
		for _, f := range c.inputs[which] {
			edit.DeleteFile(c.level+which, f.FileNum)
		}
	}
}

// IsBaseLevelForKey reports whether no level deeper than the compaction's
// output holds userKey. Only then may a tombstone be dropped instead of
// copied down. Successive calls must pass ascending keys.
func (c *Compaction) IsBaseLevelForKey(userKey []byte) bool {
	ucmp := c.vset.icmp.UserCmp
	for level := c.level + 2; level < NumLevels; level++ {
		files := c.version.Files[level]
		for c.levelPtrs[level] < len(files) {
			f := files[c.levelPtrs[level]]
			if ucmp.Compare(userKey, f.Largest.UserKey) <= 0 {
				if ucmp.Compare(userKey, f.Smallest.UserKey) >= 0 {
					return false
				}
				break
			}
			c.levelPtrs[level]++
		}
	}
	return true
}

// ShouldStopBefore reports whether the current output file should be
// finished before writing ikey, keeping any single output's grandparent
// overlap bounded. Successive calls must pass ascending keys.
func (c *Compaction) ShouldStopBefore(ikey base.InternalKey) bool {
	icmp := c.vset.icmp
	for c.grandparentIndex < len(c.grandparents) &&
		icmp.CompareKey(ikey, c.grandparents[c.grandparentIndex].Largest) > 0 {
		if c.seenKey {
			c.overlappedBytes += int64(c.grandparents[c.grandparentIndex].Size)
		}
		c.grandparentIndex++
	}
	c.seenKey = true
	if c.overlappedBytes > c.vset.cfg.maxGrandParentOverlapBytes() {
		c.overlappedBytes = 0
		return true
	}
	return false
}

// Release unpins the version the compaction was planned against.
func (c *Compaction) Release() {
	if c.version != nil {
		c.version.Unref()
		c.version = nil
	}
}

// PickCompaction selects the next compaction by level score, resuming each
// level round-robin after its stored compact pointer. Nil when no level is
// due.
func (vs *VersionSet) PickCompaction() *Compaction {
	v := vs.current
	if v.compactionScore < 1 {
		return nil
	}
	level := v.compactionLevel

	c := &Compaction{vset: vs, version: v, level: level}
	v.Ref()

	// Resume after the last compacted key of this level; wrap to the
	// first file once the pointer passes the end.
	ptr := vs.compactPointer[level]
	for _, f := range v.Files[level] {
		if len(ptr.UserKey) == 0 || vs.icmp.CompareKey(f.Largest, ptr) > 0 {
			c.inputs[0] = append(c.inputs[0], f)
			break
		}
	}
	if len(c.inputs[0]) == 0 {
		c.inputs[0] = append(c.inputs[0], v.Files[level][0])
	}

	if level == 0 {
		// Every overlapping level-0 file must join, or an older value
		// could surface above a newer one.
		smallest, largest := keyRange(vs.icmp, c.inputs[0])
		c.inputs[0] = v.getOverlappingInputs(0, &smallest, &largest)
	}

	vs.setupOtherInputs(c)
	return c
}

// CompactRange plans a manual compaction of level covering [begin, end]
// (nil for unbounded). Nil when the level has nothing in range.
func (vs *VersionSet) CompactRange(level int, begin, end *base.InternalKey) *Compaction {
	inputs := vs.current.getOverlappingInputs(level, begin, end)
	if len(inputs) == 0 {
		return nil
	}

	// In a disjoint level a huge range is split into runs of bounded
	// size; the caller re-issues the rest on its next pass.
	if level > 0 {
		limit := vs.cfg.maxGrandParentOverlapBytes()
		var total int64
		for i, f := range inputs {
			total += int64(f.Size)
			if total >= limit {
				inputs = inputs[:i+1]
				break
			}
		}
	}

	c := &Compaction{vset: vs, version: vs.current, level: level}
	c.version.Ref()
	c.inputs[0] = inputs
	vs.setupOtherInputs(c)
	return c
}

// setupOtherInputs fills in the level+1 inputs and grandparents, growing
// the level inputs when extra files fit without changing the level+1 set
// or blowing the expanded size limit.
func (vs *VersionSet) setupOtherInputs(c *Compaction) {
	v := c.version
	level := c.level

	smallest, largest := keyRange(vs.icmp, c.inputs[0])
	c.inputs[1] = v.getOverlappingInputs(level+1, &smallest, &largest)

	allStart, allLimit := keyRange(vs.icmp, append(append([]*FileMetadata(nil), c.inputs[0]...), c.inputs[1]...))

	if len(c.inputs[1]) > 0 {
		expanded0 := v.getOverlappingInputs(level, &allStart, &allLimit)
		if len(expanded0) > len(c.inputs[0]) &&
			totalFileSize(c.inputs[1])+totalFileSize(expanded0) < vs.cfg.expandedCompactionByteSizeLimit() {
			newStart, newLimit := keyRange(vs.icmp, expanded0)
			expanded1 := v.getOverlappingInputs(level+1, &newStart, &newLimit)
			if len(expanded1) == len(c.inputs[1]) {
				c.inputs[0] = expanded0
				c.inputs[1] = expanded1
				smallest, largest = newStart, newLimit
				allStart, allLimit = keyRange(vs.icmp, append(append([]*FileMetadata(nil), expanded0...), expanded1...))
			}
		}
	}

	if level+2 < NumLevels {
		c.grandparents = v.getOverlappingInputs(level+2, &allStart, &allLimit)
	}

	// Remember where this level's compaction stopped so the next pick
	// resumes after it, even if this compaction later fails.
	vs.compactPointer[level] = largest.Clone()
	c.edit.SetCompactPointer(level, vs.compactPointer[level])
}

// keyRange returns the smallest and largest internal keys spanned by
// files, which must be non-empty.
func keyRange(icmp *base.InternalComparer, files []*FileMetadata) (smallest, largest base.InternalKey) {
	for i, f := range files {
		if i == 0 {
			smallest, largest = f.Smallest, f.Largest
			continue
		}
		if icmp.CompareKey(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if icmp.CompareKey(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	return smallest, largest
}
