package store

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"
)

type Config struct {
	DataDir string `json:"data_dir"`
	ShmDir  string `json:"shm_dir"`
}

// Store bundles the storage files and the shared buffers of a shard
type Store struct {
	dataFS DataFS
	shm    *ShmStore
}

func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	span := trace.SpanFromContextSafe(ctx)
	dataFS, err := NewDataFS(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	shm, err := NewShmStore(cfg.ShmDir)
	if err != nil {
		return nil, err
	}
	span.Infof("data dir: %s, shm dir: %s", cfg.DataDir, shm.Dir())
	return &Store{dataFS: dataFS, shm: shm}, nil
}

func (s *Store) DataFS() DataFS {
	return s.dataFS
}

func (s *Store) ShmStore() *ShmStore {
	return s.shm
}
