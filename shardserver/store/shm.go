package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cubefs/cubefs/blobstore/util/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	apierrors "github.com/cubefs/objmeta/errors"
)

const (
	devShm        = "/dev/shm"
	shmFilePrefix = "objmeta"
)

// ShmStore creates named byte addressable buffers shared with clients. A
// buffer is a memory mapped file, a client maps the same file by name.
type ShmStore struct {
	dir string
}

// NewShmStore uses dir, or /dev/shm when empty and available, or the
// temporary directory
func NewShmStore(dir string) (*ShmStore, error) {
	if dir == "" {
		dir = os.TempDir()
		if info, err := os.Stat(devShm); err == nil && info.IsDir() {
			dir = devShm
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ShmStore{dir: dir}, nil
}

func (s *ShmStore) Dir() string {
	return s.dir
}

func (s *ShmStore) path(name string) string {
	return filepath.Join(s.dir, shmFilePrefix+strings.ReplaceAll(name, "/", "_"))
}

// Create makes a new buffer of size bytes, name must not exist
func (s *ShmStore) Create(name string, size int) (*ShmBuffer, error) {
	if size <= 0 {
		return nil, apierrors.ErrShmBuffer
	}
	path := s.path(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Info(err, "create shm", name)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Info(err, "truncate shm", name)
	}
	b, err := mapBuffer(name, f, size)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return b, nil
}

// Open maps an existing buffer
func (s *ShmStore) Open(name string) (*ShmBuffer, error) {
	f, err := os.OpenFile(s.path(name), os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Info(err, "open shm", name)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() <= 0 {
		f.Close()
		return nil, apierrors.ErrShmBuffer
	}
	return mapBuffer(name, f, int(info.Size()))
}

// Unlink removes the name, mappings still open stay valid
func (s *ShmStore) Unlink(name string) error {
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func mapBuffer(name string, f *os.File, size int) (*ShmBuffer, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Info(err, "mmap shm", name)
	}
	return &ShmBuffer{name: name, f: f, data: data}, nil
}

type ShmBuffer struct {
	name string
	f    *os.File
	data []byte
}

func (b *ShmBuffer) Name() string {
	return b.name
}

func (b *ShmBuffer) Bytes() []byte {
	return b.data
}

func (b *ShmBuffer) Size() int {
	return len(b.data)
}

// Close unmaps the buffer, the name stays until Unlink
func (b *ShmBuffer) Close() error {
	var err error
	if b.data != nil {
		err = unix.Munmap(b.data)
		b.data = nil
	}
	return multierr.Append(err, b.f.Close())
}
