package version

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gravelhq/graveldb/internal/base"
	"github.com/gravelhq/graveldb/internal/storage"
	"github.com/gravelhq/graveldb/internal/wal"
)

// VersionSet owns the chain of live Versions, the counters persisted with
// them (next file number, last sequence, live WAL number) and the manifest
// log that makes the chain durable.
//
// Except for Ref/Unref on individual Versions, the coordinator serializes
// every call with its own mutex.
type VersionSet struct {
	st   storage.Storage
	cfg  Config
	icmp *base.InternalComparer

	// versMu guards the version ring and the current pointer. It is a
	// separate lock because Unref runs on reader goroutines closing
	// snapshots and iterators.
	versMu  sync.Mutex
	dummy   Version
	current *Version

	nextFileNum uint64
	manifestNum uint64
	lastSeq     base.SeqNum
	// logNum is the WAL that the current memtable writes to. WALs with
	// smaller numbers are fully represented by table files.
	logNum uint64

	compactPointer [NumLevels]base.InternalKey

	manifestFile storage.Writable
	manifest     *wal.Writer
}

// NewVersionSet starts with a single empty version.
func NewVersionSet(st storage.Storage, icmp *base.InternalComparer, cfg Config) *VersionSet {
	vs := &VersionSet{
		st:          st,
		cfg:         cfg.withDefaults(),
		icmp:        icmp,
		nextFileNum: 1,
	}
	vs.dummy.prev = &vs.dummy
	vs.dummy.next = &vs.dummy
	vs.appendVersion(newVersion(vs))
	return vs
}

// Current returns the live version without pinning it. Callers that drop
// the coordinator mutex must Ref it first.
func (vs *VersionSet) Current() *Version {
	return vs.current
}

// NewFileNum allocates the next file number.
func (vs *VersionSet) NewFileNum() uint64 {
	n := vs.nextFileNum
	vs.nextFileNum++
	return n
}

// MarkFileNumUsed keeps the allocator ahead of numbers observed on disk.
func (vs *VersionSet) MarkFileNumUsed(num uint64) {
	if vs.nextFileNum <= num {
		vs.nextFileNum = num + 1
	}
}

// LastSeq returns the newest committed sequence number.
func (vs *VersionSet) LastSeq() base.SeqNum {
	return vs.lastSeq
}

// SetLastSeq publishes the newest committed sequence number.
func (vs *VersionSet) SetLastSeq(s base.SeqNum) {
	if s < vs.lastSeq {
		panic(fmt.Sprintf("version: sequence number moving backwards: %d < %d", s, vs.lastSeq))
	}
	vs.lastSeq = s
}

// LogNum returns the WAL number the current memtable writes to.
func (vs *VersionSet) LogNum() uint64 {
	return vs.logNum
}

// ManifestNum returns the live manifest's file number, zero before the
// first LogAndApply after recovery.
func (vs *VersionSet) ManifestNum() uint64 {
	return vs.manifestNum
}

// NeedsCompaction reports whether some level's score has reached the
// compaction threshold.
func (vs *VersionSet) NeedsCompaction() bool {
	return vs.current.compactionScore >= 1
}

// AddLiveFiles records the table file numbers referenced by any live
// version, pinned snapshots included.
func (vs *VersionSet) AddLiveFiles(live map[uint64]struct{}) {
	vs.versMu.Lock()
	defer vs.versMu.Unlock()
	for v := vs.dummy.next; v != &vs.dummy; v = v.next {
		for level := 0; level < NumLevels; level++ {
			for _, f := range v.Files[level] {
				live[f.FileNum] = struct{}{}
			}
		}
	}
}

func (vs *VersionSet) appendVersion(v *Version) {
	vs.versMu.Lock()
	v.Ref()
	v.prev = vs.dummy.prev
	v.next = &vs.dummy
	v.prev.next = v
	v.next.prev = v
	old := vs.current
	vs.current = v
	vs.versMu.Unlock()
	if old != nil {
		old.Unref()
	}
}

func (vs *VersionSet) removeVersion(v *Version) {
	vs.versMu.Lock()
	defer vs.versMu.Unlock()
	v.prev.next = v.next
	v.next.prev = v.prev
	v.prev = nil
	v.next = nil
}

// finalize precomputes the level most in need of compaction. Level 0 is
// scored by file count, deeper levels by byte size against their budget.
func (vs *VersionSet) finalize(v *Version) {
	bestLevel := -1
	bestScore := -1.0
	for level := 0; level < NumLevels-1; level++ {
		var score float64
		if level == 0 {
			score = float64(len(v.Files[0])) / float64(vs.cfg.L0CompactionTrigger)
		} else {
			score = float64(totalFileSize(v.Files[level])) / maxBytesForLevel(level)
		}
		if score > bestScore {
			bestLevel = level
			bestScore = score
		}
	}
	v.compactionLevel = bestLevel
	v.compactionScore = bestScore
}

// Create writes the initial manifest of a fresh database and points
// CURRENT at it.
func (vs *VersionSet) Create() error {
	var edit VersionEdit
	edit.SetComparerName(vs.icmp.UserCmp.Name())
	edit.SetLogNum(0)
	return vs.LogAndApply(&edit)
}

// LogAndApply persists edit to the manifest and installs the resulting
// version as current. The first call after startup rolls the manifest: a
// new file is created, seeded with a snapshot of the current state, and
// CURRENT is repointed once the edit is durable.
func (vs *VersionSet) LogAndApply(edit *VersionEdit) error {
	if edit.hasLogNum {
		if edit.LogNum < vs.logNum || edit.LogNum >= vs.nextFileNum {
			panic(fmt.Sprintf("version: edit log number %d out of range [%d, %d)", edit.LogNum, vs.logNum, vs.nextFileNum))
		}
	} else {
		edit.SetLogNum(vs.logNum)
	}

	created := false
	if vs.manifest == nil {
		vs.manifestNum = vs.NewFileNum()
		created = true
	}

	edit.SetNextFileNum(vs.nextFileNum)
	edit.SetLastSeq(vs.lastSeq)

	v := newVersion(vs)
	b := newBuilder(vs, vs.current)
	b.apply(edit)
	b.saveTo(v)
	b.release()
	vs.finalize(v)

	if created {
		if err := vs.createManifest(); err != nil {
			vs.manifest = nil
			vs.manifestFile = nil
			return err
		}
	}

	err := vs.manifest.AddRecord(edit.Encode())
	if err == nil {
		err = vs.manifest.Sync()
	}
	if err == nil && created {
		err = vs.st.SetCurrent(vs.manifestNum)
	}
	if err != nil {
		if created {
			err = multierr.Append(err, vs.manifestFile.Close())
			err = multierr.Append(err, vs.st.Remove(storage.FileDesc{Type: storage.TypeManifest, Num: vs.manifestNum}))
			vs.manifest = nil
			vs.manifestFile = nil
		}
		return fmt.Errorf("manifest write: %w", err)
	}

	vs.appendVersion(v)
	vs.logNum = edit.LogNum
	return nil
}

// createManifest opens a fresh manifest file and writes a snapshot of the
// current state as its first record.
func (vs *VersionSet) createManifest() error {
	fd := storage.FileDesc{Type: storage.TypeManifest, Num: vs.manifestNum}
	f, err := vs.st.Create(fd)
	if err != nil {
		return err
	}
	vs.manifestFile = f
	vs.manifest = wal.NewWriter(f, 0)

	var snapshot VersionEdit
	snapshot.SetComparerName(vs.icmp.UserCmp.Name())
	for level, key := range vs.compactPointer {
		if len(key.UserKey) > 0 {
			snapshot.SetCompactPointer(level, key)
		}
	}
	for level := 0; level < NumLevels; level++ {
		for _, meta := range vs.current.Files[level] {
			snapshot.AddFile(level, meta)
		}
	}
	if err := vs.manifest.AddRecord(snapshot.Encode()); err != nil {
		return multierr.Append(err, f.Close())
	}
	return nil
}

// Recover rebuilds the version state from CURRENT and the manifest it
// names. Manifest corruption is never tolerated; a torn write there means
// the file set itself is in doubt.
func (vs *VersionSet) Recover() error {
	fd, err := vs.st.GetCurrent()
	if err != nil {
		return err
	}
	f, err := vs.st.Open(fd)
	if err != nil {
		return fmt.Errorf("open manifest %06d: %w", fd.Num, err)
	}
	defer f.Close()

	var (
		hasLogNum      bool
		hasNextFileNum bool
		hasLastSeq     bool
		logNum         uint64
		nextFileNum    uint64
		lastSeq        base.SeqNum
		records        int
	)
	b := newBuilder(vs, vs.current)
	defer b.release()

	r := wal.NewReader(io.NewSectionReader(f, 0, int64(f.Size())), true)
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("manifest %06d: %w", fd.Num, err)
		}
		var edit VersionEdit
		if err := edit.Decode(rec); err != nil {
			return fmt.Errorf("manifest %06d: %w", fd.Num, err)
		}
		if edit.ComparerName != "" && edit.ComparerName != vs.icmp.UserCmp.Name() {
			return fmt.Errorf("%w: manifest comparer %q does not match %q",
				base.ErrInvalidArgument, edit.ComparerName, vs.icmp.UserCmp.Name())
		}
		b.apply(&edit)
		if edit.hasLogNum {
			logNum = edit.LogNum
			hasLogNum = true
		}
		if edit.hasNextFileNum {
			nextFileNum = edit.NextFileNum
			hasNextFileNum = true
		}
		if edit.hasLastSeq {
			lastSeq = edit.LastSeq
			hasLastSeq = true
		}
		records++
	}
	if !hasNextFileNum {
		return base.CorruptionErrorf("manifest %06d: no next file number entry", fd.Num)
	}
	if !hasLogNum {
		return base.CorruptionErrorf("manifest %06d: no log number entry", fd.Num)
	}
	if !hasLastSeq {
		return base.CorruptionErrorf("manifest %06d: no last sequence entry", fd.Num)
	}

	v := newVersion(vs)
	b.saveTo(v)
	vs.finalize(v)
	vs.appendVersion(v)

	vs.nextFileNum = nextFileNum
	vs.lastSeq = lastSeq
	vs.logNum = logNum
	vs.manifestNum = fd.Num
	vs.MarkFileNumUsed(logNum)
	vs.MarkFileNumUsed(fd.Num)

	// The old manifest stays untouched; the next LogAndApply rolls to a
	// fresh one so a crash mid-recovery cannot corrupt it.

	zap.L().Info("recovered manifest",
		zap.Uint64("manifest", fd.Num),
		zap.Int("records", records),
		zap.Uint64("next_file", nextFileNum),
		zap.Uint64("last_seq", uint64(lastSeq)),
		zap.Uint64("log", logNum),
	)
	return nil
}

// Close releases the manifest file handle. Pinned versions stay usable;
// only durability operations stop.
func (vs *VersionSet) Close() error {
	if vs.manifestFile == nil {
		return nil
	}
	err := vs.manifestFile.Close()
	vs.manifest = nil
	vs.manifestFile = nil
	return err
}
