package version

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/tablecache"
)

// Version is an immutable snapshot of the table files at each level, plus
// the derived compaction priority. Readers pin the Version current when
// they begin and release it when done; the files it references stay on
// disk while any pin is held, even after newer Versions supersede it.
type Version struct {
	vset *VersionSet
	refs atomic.Int32

	// Files per level. Level 0 is ordered newest first and may hold
	// overlapping ranges; deeper levels are ordered by smallest key and
	// hold disjoint ranges.
	Files [NumLevels][]*FileMetadata

	// compactionScore and compactionLevel name the level most in need of
	// compaction; a score >= 1 means compaction is due.
	compactionScore float64
	compactionLevel int

	prev, next *Version
}

func newVersion(vset *VersionSet) *Version {
	v := &Version{vset: vset, compactionScore: -1, compactionLevel: -1}
	v.prev = v
	v.next = v
	return v
}

// Ref pins the version.
func (v *Version) Ref() {
	v.refs.Add(1)
}

// Unref releases a pin. The version is unlinked once unreferenced; its
// files become deletable when no remaining version references them, which
// the coordinator recomputes from the live version list.
func (v *Version) Unref() {
	if n := v.refs.Add(-1); n == 0 {
		v.vset.removeVersion(v)
	} else if n < 0 {
		panic("version: negative refcount")
	}
}

// Get looks up ikey across the version's levels, newest level first.
// conclusive reports whether some file held an answer; when true, err is
// nil (value valid) or ErrNotFound (tombstone).
func (v *Version) Get(ikey base.InternalKey, tc *tablecache.TableCache) (value []byte, conclusive bool, err error) {
	ucmp := v.vset.icmp.UserCmp

	for level := 0; level < NumLevels; level++ {
		var candidates []*FileMetadata
		if level == 0 {
			// Level-0 ranges overlap; every covering file matters and newer
			// files shadow older ones.
			for _, f := range v.Files[0] {
				if ucmp.Compare(ikey.UserKey, f.Smallest.UserKey) >= 0 &&
					ucmp.Compare(ikey.UserKey, f.Largest.UserKey) <= 0 {
					candidates = append(candidates, f)
				}
			}
		} else {
			files := v.Files[level]
			i := findFile(v.vset.icmp, files, ikey)
			if i < len(files) && ucmp.Compare(ikey.UserKey, files[i].Smallest.UserKey) >= 0 {
				candidates = files[i : i+1]
			}
		}

		for _, f := range candidates {
			kv, err := tc.Get(f.FileNum, ikey)
			switch {
			case err == nil:
				switch kv.K.Kind() {
				case base.KeyKindSet:
					return kv.V, true, nil
				case base.KeyKindDelete:
					return nil, true, base.ErrNotFound
				default:
					return nil, true, base.CorruptionErrorf("entry of kind %d in table %06d", kv.K.Kind(), f.FileNum)
				}
			case errors.Is(err, base.ErrNotFound):
				continue
			default:
				return nil, true, err
			}
		}
	}
	return nil, false, nil
}

// overlapInLevel reports whether any file in level intersects the user key
// range [smallest, largest].
func (v *Version) overlapInLevel(level int, smallestUserKey, largestUserKey []byte) bool {
	ucmp := v.vset.icmp.UserCmp
	if level == 0 {
		for _, f := range v.Files[0] {
			if ucmp.Compare(largestUserKey, f.Smallest.UserKey) < 0 ||
				ucmp.Compare(smallestUserKey, f.Largest.UserKey) > 0 {
				continue
			}
			return true
		}
		return false
	}
	// Disjoint sorted files: binary search for the first file that might
	// contain smallest.
	ikey := base.MakeSeekKey(smallestUserKey, base.MaxSeqNum)
	i := findFile(v.vset.icmp, v.Files[level], ikey)
	return i < len(v.Files[level]) &&
		ucmp.Compare(largestUserKey, v.Files[level][i].Smallest.UserKey) >= 0
}

// PickLevelForMemTableOutput chooses the level for a fresh flush: as deep
// as possible while not overlapping the next level and not overlapping too
// much of the level after it, so the file stays cheap to compact later.
func (v *Version) PickLevelForMemTableOutput(smallestUserKey, largestUserKey []byte) int {
	const maxMemCompactLevel = 2
	if v.overlapInLevel(0, smallestUserKey, largestUserKey) {
		return 0
	}
	level := 0
	start := base.MakeSeekKey(smallestUserKey, base.MaxSeqNum)
	limit := base.MakeKey(largestUserKey, 0, base.KeyKindUnknown)
	for level < maxMemCompactLevel {
		if v.overlapInLevel(level+1, smallestUserKey, largestUserKey) {
			break
		}
		if level+2 < NumLevels {
			overlaps := v.getOverlappingInputs(level+2, &start, &limit)
			if totalFileSize(overlaps) > v.vset.cfg.maxGrandParentOverlapBytes() {
				break
			}
		}
		level++
	}
	return level
}

// getOverlappingInputs collects the files of level whose key ranges
// intersect [begin, end] (nil means unbounded). For level 0 the range is
// transitively widened: an overlapping file can itself overlap further
// files, all of which must join one compaction.
func (v *Version) getOverlappingInputs(level int, begin, end *base.InternalKey) []*FileMetadata {
	ucmp := v.vset.icmp.UserCmp
	var userBegin, userEnd []byte
	if begin != nil {
		userBegin = begin.UserKey
	}
	if end != nil {
		userEnd = end.UserKey
	}

	var inputs []*FileMetadata
	for i := 0; i < len(v.Files[level]); i++ {
		f := v.Files[level][i]
		if userBegin != nil && ucmp.Compare(f.Largest.UserKey, userBegin) < 0 {
			continue
		}
		if userEnd != nil && ucmp.Compare(f.Smallest.UserKey, userEnd) > 0 {
			continue
		}
		inputs = append(inputs, f)
		if level == 0 {
			if userBegin != nil && ucmp.Compare(f.Smallest.UserKey, userBegin) < 0 {
				userBegin = f.Smallest.UserKey
				inputs = inputs[:0]
				i = -1
			} else if userEnd != nil && ucmp.Compare(f.Largest.UserKey, userEnd) > 0 {
				userEnd = f.Largest.UserKey
				inputs = inputs[:0]
				i = -1
			}
		}
	}
	return inputs
}

// AppendIterators appends one iterator per level-0 file plus one
// concatenating iterator per deeper non-empty level. Together with the
// memtable iterators they cover every entry the version can see.
func (v *Version) AppendIterators(tc *tablecache.TableCache, iters []base.InternalIterator) []base.InternalIterator {
	for _, f := range v.Files[0] {
		iters = append(iters, tc.NewIterator(f.FileNum))
	}
	for level := 1; level < NumLevels; level++ {
		if len(v.Files[level]) > 0 {
			iters = append(iters, NewLevelIterator(v.vset.icmp, tc, v.Files[level]))
		}
	}
	return iters
}

// NumFiles returns the file count of one level.
func (v *Version) NumFiles(level int) int {
	return len(v.Files[level])
}

// DebugString renders the version's file layout.
func (v *Version) DebugString() string {
	var sb strings.Builder
	for level := 0; level < NumLevels; level++ {
		if len(v.Files[level]) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "level %d:", level)
		for _, f := range v.Files[level] {
			fmt.Fprintf(&sb, " %06d(%d)", f.FileNum, f.Size)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
