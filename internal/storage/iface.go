// Package storage abstracts the byte-storage layer under the engine: typed
// numbered files in one directory, plus the CURRENT pointer and the
// single-process LOCK file.
package storage

import (
	"errors"
	"io"
)

// ObjectType classifies the files a database directory holds.
type ObjectType byte

const (
	TypeManifest ObjectType = iota
	TypeWAL
	TypeTable
	TypeCurrent
	TypeLock
	TypeTemp
)

func (t ObjectType) String() string {
	switch t {
	case TypeManifest:
		return "manifest"
	case TypeWAL:
		return "wal"
	case TypeTable:
		return "table"
	case TypeCurrent:
		return "current"
	case TypeLock:
		return "lock"
	case TypeTemp:
		return "temp"
	default:
		return "unknown"
	}
}

// FileDesc identifies one file: its role and its number. Current and Lock
// files carry number zero.
type FileDesc struct {
	Type ObjectType
	Num  uint64
}

var (
	ErrFileNotFound = errors.New("storage: file not found")
	ErrFileExists   = errors.New("storage: file exists")
	ErrLocked       = errors.New("storage: database directory is locked by another process")
	ErrClosed       = errors.New("storage: closed")
)

type Syncer interface {
	Sync() error
}

// Writable is an open handle for appending to a new file.
type Writable interface {
	io.WriteCloser
	Syncer
}

// Readable is an open handle for reading an immutable file.
type Readable interface {
	io.ReaderAt
	io.ReadSeeker
	io.Closer
	Size() uint64
}

// Storage manages the files of one database directory.
type Storage interface {
	// Open opens an existing file read-only.
	Open(fd FileDesc) (Readable, error)

	// Create creates fd and opens it for writing, truncating any previous
	// content. Data is not durable until Sync.
	Create(fd FileDesc) (Writable, error)

	// Remove deletes fd.
	Remove(fd FileDesc) error

	// List returns the descriptors of every recognized file present.
	List() ([]FileDesc, error)

	// Size returns the length of fd in bytes.
	Size(fd FileDesc) (uint64, error)

	// GetCurrent reads the CURRENT pointer and returns the descriptor of
	// the live manifest. ErrFileNotFound when the database is new.
	GetCurrent() (FileDesc, error)

	// SetCurrent durably repoints CURRENT at the given manifest number,
	// via a temp file and an atomic rename.
	SetCurrent(manifestNum uint64) error

	// Lock acquires the directory's advisory lock, enforcing a single
	// writing process. The returned closer releases it.
	Lock() (io.Closer, error)

	Close() error
}
