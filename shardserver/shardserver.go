// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package shardserver

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"
	"go.uber.org/multierr"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
	"github.com/cubefs/objmeta/shardserver/catalog"
	"github.com/cubefs/objmeta/shardserver/checkpoint"
	"github.com/cubefs/objmeta/shardserver/location"
	"github.com/cubefs/objmeta/shardserver/lock"
	"github.com/cubefs/objmeta/shardserver/regionio"
	"github.com/cubefs/objmeta/shardserver/resolver"
	"github.com/cubefs/objmeta/shardserver/store"
	"github.com/cubefs/objmeta/util/limiter"
)

const defaultWorkerNum = 16

type Config struct {
	Rank           uint32 `json:"rank"`
	ShardNum       uint32 `json:"shard_num"`
	DataDir        string `json:"data_dir"`
	ShmDir         string `json:"shm_dir"`
	CheckpointPath string `json:"checkpoint_path"`
	// CheckpointIntervalS enables periodic checkpoints when positive
	CheckpointIntervalS int `json:"checkpoint_interval_s"`
	WorkerNum           int `json:"worker_num"`

	BloomThreshold int     `json:"bloom_threshold"`
	BloomCapacity  uint    `json:"bloom_capacity"`
	BloomFPRate    float64 `json:"bloom_fp_rate"`

	UnitSize          uint64              `json:"unit_size"`
	ReadParallel      int                 `json:"read_parallel"`
	MaxOverlapRegions int                 `json:"max_overlap_regions"`
	LimitConfig       limiter.LimitConfig `json:"limit_config"`

	// Peers maps shard rank to grpc address
	Peers map[uint32]string `json:"peers"`

	Notifier regionio.Notifier `json:"-"`
}

// ShardServer is the state of one shard: the catalog of the objects it
// owns, their region locks and storage locations, the io engine moving
// region data and the resolver reaching the other shards
type ShardServer struct {
	cfg Config

	catalog  *catalog.Catalog
	locks    *lock.Manager
	index    *location.Index
	resolver *resolver.Resolver
	engine   *regionio.Engine
	store    *store.Store
	taskPool taskpool.TaskPool

	closed int32
	done   chan struct{}
}

// Stats of the shard served on /stats
type Stats struct {
	Rank        uint32         `json:"rank"`
	ShardNum    uint32         `json:"shard_num"`
	LiveObjects int64          `json:"live_objects"`
	Limiter     limiter.Status `json:"limiter"`
}

// NewShardServer builds the shard and loads its checkpoint if one exists.
// transport reaches the other shards, it may be nil with one shard.
func NewShardServer(ctx context.Context, cfg *Config, transport resolver.Transport) *ShardServer {
	initConfig(cfg)
	span := trace.SpanFromContextSafe(ctx)
	if cfg.Rank >= cfg.ShardNum {
		span.Fatalf("invalid rank %d of %d shards", cfg.Rank, cfg.ShardNum)
	}

	st, err := store.NewStore(ctx, &store.Config{DataDir: cfg.DataDir, ShmDir: cfg.ShmDir})
	if err != nil {
		span.Fatalf("new store failed: %s", errors.Detail(err))
	}

	s := &ShardServer{
		cfg:      *cfg,
		store:    st,
		taskPool: taskpool.New(cfg.WorkerNum, cfg.WorkerNum),
		done:     make(chan struct{}),
	}
	s.catalog = catalog.NewCatalog(&catalog.Config{
		Rank:           cfg.Rank,
		BloomThreshold: cfg.BloomThreshold,
		BloomCapacity:  cfg.BloomCapacity,
		BloomFPRate:    cfg.BloomFPRate,
	})
	s.locks = lock.NewManager(s.catalog)
	s.index = location.NewIndex(s.catalog)
	s.resolver = resolver.New(&resolver.Config{Rank: cfg.Rank, ShardNum: cfg.ShardNum}, (*localShard)(s), transport)
	s.engine = regionio.NewEngine(&regionio.Config{
		Rank:         cfg.Rank,
		UnitSize:     cfg.UnitSize,
		ReadParallel: cfg.ReadParallel,
		LimitConfig:  cfg.LimitConfig,
	}, st.DataFS(), st.ShmStore(), s.resolver, cfg.Notifier, s.taskPool)

	if cfg.CheckpointPath != "" {
		if _, err := os.Stat(cfg.CheckpointPath); err == nil {
			if err := s.Restart(ctx); err != nil {
				span.Fatalf("restart from checkpoint %s failed: %s", cfg.CheckpointPath, errors.Detail(err))
			}
		}
	}
	if cfg.CheckpointPath != "" && cfg.CheckpointIntervalS > 0 {
		go s.loop(ctx)
	}

	span.Infof("shard server %d/%d started, %d objects", cfg.Rank, cfg.ShardNum, s.catalog.Len())
	return s
}

func initConfig(cfg *Config) {
	if cfg.ShardNum == 0 {
		cfg.ShardNum = 1
	}
	if cfg.WorkerNum <= 0 {
		cfg.WorkerNum = defaultWorkerNum
	}
	if cfg.MaxOverlapRegions <= 0 {
		cfg.MaxOverlapRegions = proto.DefaultMaxOverlapRegions
	}
}

func (s *ShardServer) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.CheckpointIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			span, ctx := trace.StartSpanFromContext(ctx, "")
			if err := s.Checkpoint(ctx); err != nil {
				span.Errorf("periodic checkpoint failed: %s", errors.Detail(err))
			}
		case <-s.done:
			return
		}
	}
}

func (s *ShardServer) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// Checkpoint writes the catalog and the storage locations to the
// configured checkpoint file
func (s *ShardServer) Checkpoint(ctx context.Context) error {
	if s.cfg.CheckpointPath == "" {
		return nil
	}
	buckets := s.catalog.Snapshot(ctx)
	img := &checkpoint.Image{
		Buckets:   buckets,
		Locations: make(map[uint64][]proto.StorageLocation),
	}
	for _, b := range buckets {
		for _, m := range b.Records {
			if locs := s.index.List(m.ObjID); len(locs) > 0 {
				img.Locations[m.ObjID] = locs
			}
		}
	}
	return checkpoint.Write(ctx, s.cfg.CheckpointPath, img)
}

// Restart replaces the shard state with the configured checkpoint file.
// Nothing changes when the file is corrupt.
func (s *ShardServer) Restart(ctx context.Context) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	img, err := checkpoint.Restore(ctx, s.cfg.CheckpointPath)
	if err != nil {
		return err
	}
	s.catalog.Restore(ctx, img.Buckets)
	s.index.Reset()
	for objID, locs := range img.Locations {
		s.index.Restore(objID, locs)
	}
	trace.SpanFromContextSafe(ctx).Infof("restarted from %s, %d objects", s.cfg.CheckpointPath, s.catalog.Len())
	return nil
}

func (s *ShardServer) Stats() Stats {
	return Stats{
		Rank:        s.cfg.Rank,
		ShardNum:    s.resolver.ShardNum(),
		LiveObjects: s.catalog.Len(),
		Limiter:     s.engine.Limiter().Status(),
	}
}

func (s *ShardServer) Rank() uint32 {
	return s.cfg.Rank
}

// Close stops accepting requests, waits for running io lists and writes a
// final checkpoint
func (s *ShardServer) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.done)

	err := s.engine.Close()
	err = multierr.Append(err, s.Checkpoint(ctx))
	s.taskPool.Close()
	if err != nil {
		trace.SpanFromContextSafe(ctx).Errorf("close shard server failed: %s", err)
	}
	return err
}
