package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// localStorage stores every object as a plain file in one directory.
type localStorage struct {
	dir string
}

// NewLocalStorage opens (creating if needed) the database directory at dir.
func NewLocalStorage(dir string) (Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &localStorage{dir: dir}, nil
}

func (s *localStorage) path(fd FileDesc) string {
	return filepath.Join(s.dir, FileName(fd))
}

type localReadable struct {
	*os.File
	size uint64
}

func (r *localReadable) Size() uint64 { return r.size }

func (s *localStorage) Open(fd FileDesc) (Readable, error) {
	f, err := os.Open(s.path(fd))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, FileName(fd))
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &localReadable{File: f, size: uint64(st.Size())}, nil
}

func (s *localStorage) Create(fd FileDesc) (Writable, error) {
	f, err := os.OpenFile(s.path(fd), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *localStorage) Remove(fd FileDesc) error {
	err := os.Remove(s.path(fd))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, FileName(fd))
	}
	return err
}

func (s *localStorage) List() ([]FileDesc, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var fds []FileDesc
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fd, ok := ParseFileName(e.Name())
		if !ok {
			zap.L().Warn("unrecognized file in database directory",
				zap.String("name", e.Name()))
			continue
		}
		fds = append(fds, fd)
	}
	return fds, nil
}

func (s *localStorage) Size(fd FileDesc) (uint64, error) {
	st, err := os.Stat(s.path(fd))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrFileNotFound, FileName(fd))
		}
		return 0, err
	}
	return uint64(st.Size()), nil
}

func (s *localStorage) GetCurrent() (FileDesc, error) {
	b, err := os.ReadFile(s.path(FileDesc{Type: TypeCurrent}))
	if err != nil {
		if os.IsNotExist(err) {
			return FileDesc{}, ErrFileNotFound
		}
		return FileDesc{}, err
	}
	name := strings.TrimSuffix(string(b), "\n")
	fd, ok := ParseFileName(name)
	if !ok || fd.Type != TypeManifest || strings.Contains(name, "\n") {
		return FileDesc{}, fmt.Errorf("storage: CURRENT points at %q", name)
	}
	return fd, nil
}

func (s *localStorage) SetCurrent(manifestNum uint64) error {
	tmp := FileDesc{Type: TypeTemp, Num: manifestNum}
	content := FileName(FileDesc{Type: TypeManifest, Num: manifestNum}) + "\n"
	f, err := os.OpenFile(s.path(tmp), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err = f.WriteString(content); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(s.path(tmp))
		return err
	}
	return os.Rename(s.path(tmp), s.path(FileDesc{Type: TypeCurrent}))
}

type fileLock struct {
	f *os.File
}

func (l *fileLock) Close() error {
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *localStorage) Lock() (io.Closer, error) {
	f, err := os.OpenFile(s.path(FileDesc{Type: TypeLock}), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, ErrLocked
	}
	return &fileLock{f: f}, nil
}

func (s *localStorage) Close() error {
	return nil
}

var _ Storage = (*localStorage)(nil)
