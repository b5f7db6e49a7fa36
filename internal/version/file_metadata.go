// Package version implements the authoritative bookkeeping of "which table
// files exist at which level": immutable reference-counted Versions, the
// manifest log of VersionEdits that persists them, and the compaction
// picker that reads them.
package version

import (
	"sort"

	"github.com/gravelhq/graveldb/internal/base"
)

// NumLevels is the depth of the LSM tree.
const NumLevels = 7

// FileMetadata describes one immutable table file.
type FileMetadata struct {
	// FileNum names the file on disk.
	FileNum uint64
	// Size is the file length in bytes.
	Size uint64
	// Smallest and Largest bound the internal keys the file holds.
	Smallest base.InternalKey
	Largest  base.InternalKey
}

// sortFilesBySmallest orders a level's files by smallest key; levels > 0
// keep disjoint ranges so this is their search order.
func sortFilesBySmallest(icmp *base.InternalComparer, files []*FileMetadata) {
	sort.Slice(files, func(i, j int) bool {
		return icmp.CompareKey(files[i].Smallest, files[j].Smallest) < 0
	})
}

// sortFilesNewestFirst orders level-0 files by descending file number:
// newer files shadow older ones where ranges overlap.
func sortFilesNewestFirst(files []*FileMetadata) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].FileNum > files[j].FileNum
	})
}

// findFile returns the index of the first file in a sorted disjoint level
// whose largest key is >= ikey.
func findFile(icmp *base.InternalComparer, files []*FileMetadata, ikey base.InternalKey) int {
	return sort.Search(len(files), func(i int) bool {
		return icmp.CompareKey(files[i].Largest, ikey) >= 0
	})
}

func totalFileSize(files []*FileMetadata) int64 {
	var sum int64
	for _, f := range files {
		sum += int64(f.Size)
	}
	return sum
}
