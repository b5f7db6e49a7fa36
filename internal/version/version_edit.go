package version

import (
	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/encoding"
)

// Manifest record tags. Persisted; never renumber.
const (
	tagComparerName   = 1
	tagLogNum         = 2
	tagNextFileNum    = 3
	tagLastSeq        = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
)

type deletedFileEntry struct {
	Level   int
	FileNum uint64
}

type newFileEntry struct {
	Level int
	Meta  *FileMetadata
}

type compactPointerEntry struct {
	Level int
	Key   base.InternalKey
}

// VersionEdit is the delta between two Versions, appended to the manifest
// log and folded into the successor Version. Edits apply in strict append
// order; the manifest's first record plus its tail of edits reconstruct the
// live Version after restart.
type VersionEdit struct {
	ComparerName string

	LogNum         uint64
	hasLogNum      bool
	NextFileNum    uint64
	hasNextFileNum bool
	LastSeq        base.SeqNum
	hasLastSeq     bool

	CompactPointers []compactPointerEntry
	DeletedFiles    map[deletedFileEntry]bool
	NewFiles        []newFileEntry
}

func (e *VersionEdit) SetComparerName(name string) {
	e.ComparerName = name
}

func (e *VersionEdit) SetLogNum(n uint64) {
	e.LogNum = n
	e.hasLogNum = true
}

func (e *VersionEdit) SetNextFileNum(n uint64) {
	e.NextFileNum = n
	e.hasNextFileNum = true
}

func (e *VersionEdit) SetLastSeq(s base.SeqNum) {
	e.LastSeq = s
	e.hasLastSeq = true
}

func (e *VersionEdit) SetCompactPointer(level int, key base.InternalKey) {
	e.CompactPointers = append(e.CompactPointers, compactPointerEntry{Level: level, Key: key})
}

func (e *VersionEdit) AddFile(level int, meta *FileMetadata) {
	e.NewFiles = append(e.NewFiles, newFileEntry{Level: level, Meta: meta})
}

func (e *VersionEdit) DeleteFile(level int, fileNum uint64) {
	if e.DeletedFiles == nil {
		e.DeletedFiles = make(map[deletedFileEntry]bool)
	}
	e.DeletedFiles[deletedFileEntry{Level: level, FileNum: fileNum}] = true
}

// Encode serializes the edit as one manifest record.
func (e *VersionEdit) Encode() []byte {
	var b []byte
	if e.ComparerName != "" {
		b = encoding.PutUvarint(b, tagComparerName)
		b = encoding.PutBytes(b, []byte(e.ComparerName))
	}
	if e.hasLogNum {
		b = encoding.PutUvarint(b, tagLogNum)
		b = encoding.PutUvarint(b, e.LogNum)
	}
	if e.hasNextFileNum {
		b = encoding.PutUvarint(b, tagNextFileNum)
		b = encoding.PutUvarint(b, e.NextFileNum)
	}
	if e.hasLastSeq {
		b = encoding.PutUvarint(b, tagLastSeq)
		b = encoding.PutUvarint(b, uint64(e.LastSeq))
	}
	for _, cp := range e.CompactPointers {
		b = encoding.PutUvarint(b, tagCompactPointer)
		b = encoding.PutUvarint(b, uint64(cp.Level))
		b = encoding.PutBytes(b, cp.Key.Serialize())
	}
	for df := range e.DeletedFiles {
		b = encoding.PutUvarint(b, tagDeletedFile)
		b = encoding.PutUvarint(b, uint64(df.Level))
		b = encoding.PutUvarint(b, df.FileNum)
	}
	for _, nf := range e.NewFiles {
		b = encoding.PutUvarint(b, tagNewFile)
		b = encoding.PutUvarint(b, uint64(nf.Level))
		b = encoding.PutUvarint(b, nf.Meta.FileNum)
		b = encoding.PutUvarint(b, nf.Meta.Size)
		b = encoding.PutBytes(b, nf.Meta.Smallest.Serialize())
		b = encoding.PutBytes(b, nf.Meta.Largest.Serialize())
	}
	return b
}

// Decode parses a manifest record.
func (e *VersionEdit) Decode(b []byte) error {
	for len(b) > 0 {
		tag, rest, ok := encoding.GetUvarint(b)
		if !ok {
			return base.CorruptionErrorf("manifest edit: bad tag")
		}
		b = rest
		switch tag {
		case tagComparerName:
			s, rest, ok := encoding.GetBytes(b)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad comparer name")
			}
			e.ComparerName = string(s)
			b = rest
		case tagLogNum:
			v, rest, ok := encoding.GetUvarint(b)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad log number")
			}
			e.SetLogNum(v)
			b = rest
		case tagNextFileNum:
			v, rest, ok := encoding.GetUvarint(b)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad next file number")
			}
			e.SetNextFileNum(v)
			b = rest
		case tagLastSeq:
			v, rest, ok := encoding.GetUvarint(b)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad last sequence")
			}
			e.SetLastSeq(base.SeqNum(v))
			b = rest
		case tagCompactPointer:
			level, rest, ok := encoding.GetUvarint(b)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad compact pointer level")
			}
			key, rest, ok := encoding.GetBytes(rest)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad compact pointer key")
			}
			e.SetCompactPointer(int(level), base.DeserializeKey(key).Clone())
			b = rest
		case tagDeletedFile:
			level, rest, ok := encoding.GetUvarint(b)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad deleted file level")
			}
			num, rest, ok := encoding.GetUvarint(rest)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad deleted file number")
			}
			e.DeleteFile(int(level), num)
			b = rest
		case tagNewFile:
			level, rest, ok := encoding.GetUvarint(b)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad new file level")
			}
			num, rest, ok := encoding.GetUvarint(rest)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad new file number")
			}
			size, rest, ok := encoding.GetUvarint(rest)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad new file size")
			}
			smallest, rest, ok := encoding.GetBytes(rest)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad new file smallest key")
			}
			largest, rest, ok := encoding.GetBytes(rest)
			if !ok {
				return base.CorruptionErrorf("manifest edit: bad new file largest key")
			}
			e.AddFile(int(level), &FileMetadata{
				FileNum:  num,
				Size:     size,
				Smallest: base.DeserializeKey(smallest).Clone(),
				Largest:  base.DeserializeKey(largest).Clone(),
			})
			b = rest
		default:
			return base.CorruptionErrorf("manifest edit: unknown tag %d", tag)
		}
	}
	return nil
}
