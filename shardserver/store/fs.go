package store

import (
	"io"
	"os"
	"path/filepath"
)

type (
	// DataFS holds the append only region data files of a shard. Relative
	// names are resolved against the root, absolute names are used as is.
	DataFS interface {
		CreateAppendFile(name string) (DataFile, error)
		OpenDataFile(name string) (DataFile, error)
		Path(name string) string
	}
	DataFile interface {
		io.ReaderAt
		io.Writer
		io.Seeker
		Close() error
	}
)

func NewDataFS(root string) (DataFS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &posixDataFS{root: root}, nil
}

type posixDataFS struct {
	root string
}

func (r *posixDataFS) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.root, name)
}

// CreateAppendFile opens name for appending, missing parent directories are
// created on demand
func (r *posixDataFS) CreateAppendFile(name string) (DataFile, error) {
	filePath := r.Path(name)

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
}

func (r *posixDataFS) OpenDataFile(name string) (DataFile, error) {
	return os.OpenFile(r.Path(name), os.O_RDONLY, 0o644)
}
