package version

// builder folds a sequence of edits on top of a base Version and emits the
// successor. It exists so recovery can replay a long manifest without
// materializing one Version per edit.
type builder struct {
	vset *VersionSet
	base *Version

	added   [NumLevels][]*FileMetadata
	deleted [NumLevels]map[uint64]bool
}

func newBuilder(vset *VersionSet, base *Version) *builder {
	b := &builder{vset: vset, base: base}
	base.Ref()
	for level := range b.deleted {
		b.deleted[level] = make(map[uint64]bool)
	}
	return b
}

func (b *builder) apply(edit *VersionEdit) {
	for _, cp := range edit.CompactPointers {
		b.vset.compactPointer[cp.Level] = cp.Key
	}
	for df := range edit.DeletedFiles {
		b.deleted[df.Level][df.FileNum] = true
	}
	for _, nf := range edit.NewFiles {
		delete(b.deleted[nf.Level], nf.Meta.FileNum)
		b.added[nf.Level] = append(b.added[nf.Level], nf.Meta)
	}
}

// saveTo fills v with the base files that survived plus the added ones, in
// each level's search order.
func (b *builder) saveTo(v *Version) {
	for level := 0; level < NumLevels; level++ {
		files := make([]*FileMetadata, 0, len(b.base.Files[level])+len(b.added[level]))
		for _, f := range b.base.Files[level] {
			if !b.deleted[level][f.FileNum] {
				files = append(files, f)
			}
		}
		files = append(files, b.added[level]...)
		if level == 0 {
			sortFilesNewestFirst(files)
		} else {
			sortFilesBySmallest(b.vset.icmp, files)
		}
		v.Files[level] = files
	}
}

func (b *builder) release() {
	b.base.Unref()
}
