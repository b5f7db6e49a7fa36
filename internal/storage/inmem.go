package storage

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// inmemStorage keeps every object in memory. It backs the engine's tests:
// files persist across Open/Close of the database as long as the same
// Storage instance is reused, which makes recovery paths testable without a
// disk.
type inmemStorage struct {
	mu      sync.Mutex
	files   map[FileDesc]*memFile
	current uint64
	hasCur  bool
	locked  bool
}

type memFile struct {
	data []byte
}

// NewInmemStorage returns an empty in-memory backend.
func NewInmemStorage() Storage {
	return &inmemStorage{files: make(map[FileDesc]*memFile)}
}

type memReadable struct {
	*bytes.Reader
}

func (r memReadable) Size() uint64 { return uint64(r.Reader.Size()) }
func (r memReadable) Close() error { return nil }

type memWritable struct {
	s  *inmemStorage
	fd FileDesc
}

func (w memWritable) Write(p []byte) (int, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	f, ok := w.s.files[w.fd]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, FileName(w.fd))
	}
	f.data = append(f.data, p...)
	return len(p), nil
}

func (w memWritable) Sync() error  { return nil }
func (w memWritable) Close() error { return nil }

func (s *inmemStorage) Open(fd FileDesc) (Readable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fd]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, FileName(fd))
	}
	// Snapshot the bytes: files are immutable once the engine reads them,
	// but a WAL may still be appended to while a recovery test re-reads it.
	return memReadable{Reader: bytes.NewReader(append([]byte(nil), f.data...))}, nil
}

func (s *inmemStorage) Create(fd FileDesc) (Writable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fd] = &memFile{}
	return memWritable{s: s, fd: fd}, nil
}

func (s *inmemStorage) Remove(fd FileDesc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fd]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, FileName(fd))
	}
	delete(s.files, fd)
	return nil
}

func (s *inmemStorage) List() ([]FileDesc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fds := make([]FileDesc, 0, len(s.files))
	for fd := range s.files {
		fds = append(fds, fd)
	}
	return fds, nil
}

func (s *inmemStorage) Size(fd FileDesc) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fd]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, FileName(fd))
	}
	return uint64(len(f.data)), nil
}

func (s *inmemStorage) GetCurrent() (FileDesc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasCur {
		return FileDesc{}, ErrFileNotFound
	}
	return FileDesc{Type: TypeManifest, Num: s.current}, nil
}

func (s *inmemStorage) SetCurrent(manifestNum uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = manifestNum
	s.hasCur = true
	return nil
}

type memLock struct {
	s *inmemStorage
}

func (l memLock) Close() error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.locked = false
	return nil
}

func (s *inmemStorage) Lock() (io.Closer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, ErrLocked
	}
	s.locked = true
	return memLock{s: s}, nil
}

func (s *inmemStorage) Close() error {
	return nil
}

// Truncate shortens fd to n bytes. Test-only: simulates a crash mid-write.
func (s *inmemStorage) Truncate(fd FileDesc, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fd]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, FileName(fd))
	}
	if n < len(f.data) {
		f.data = f.data[:n]
	}
	return nil
}

// Corrupt overwrites n bytes at off in fd. Test-only.
func (s *inmemStorage) Corrupt(fd FileDesc, off, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fd]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, FileName(fd))
	}
	for i := off; i < off+n && i < len(f.data); i++ {
		f.data[i] ^= 0xff
	}
	return nil
}

// Append adds raw bytes to fd. Test-only: simulates trailing garbage.
func (s *inmemStorage) Append(fd FileDesc, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fd]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, FileName(fd))
	}
	f.data = append(f.data, p...)
	return nil
}

var _ Storage = (*inmemStorage)(nil)
