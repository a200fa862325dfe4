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

// Package resolver serves object scoped metadata and location requests on
// the owner shard of the object. The owner is recovered arithmetically from
// the object id, requests for other shards are forwarded and the caller
// waits for the reply.
package resolver

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/metrics"
	"github.com/cubefs/objmeta/proto"
)

const (
	opGetStorageInfo       = "get_storage_info"
	opGetMetadataByID      = "get_metadata_by_id"
	opUpdateRegionLocation = "update_region_location"
)

type (
	// Local serves requests for objects owned by this shard
	Local interface {
		GetStorageInfo(ctx context.Context, objID uint64, region proto.Region) ([]proto.StorageLocation, error)
		GetMetadataByID(ctx context.Context, objID uint64) (proto.Metadata, error)
		UpdateRegionLocation(ctx context.Context, objID uint64, loc proto.StorageLocation) error
	}
	// Transport delivers a request to the shard of rank and returns its reply
	Transport interface {
		GetStorageInfo(ctx context.Context, rank uint32, objID uint64, region proto.Region) ([]proto.StorageLocation, error)
		GetMetadataByID(ctx context.Context, rank uint32, objID uint64) (proto.Metadata, error)
		UpdateRegionLocation(ctx context.Context, rank uint32, objID uint64, loc proto.StorageLocation) error
	}
)

type Config struct {
	Rank     uint32 `json:"rank"`
	ShardNum uint32 `json:"shard_num"`
}

type Resolver struct {
	rank      uint32
	shardNum  uint32
	local     Local
	transport Transport
}

// New returns a resolver, transport may be nil for a single shard deployment
func New(cfg *Config, local Local, transport Transport) *Resolver {
	shardNum := cfg.ShardNum
	if shardNum == 0 {
		shardNum = 1
	}
	return &Resolver{
		rank:      cfg.Rank,
		shardNum:  shardNum,
		local:     local,
		transport: transport,
	}
}

func (r *Resolver) Owner(objID uint64) uint32 {
	return proto.Owner(objID, r.shardNum)
}

func (r *Resolver) IsLocal(objID uint64) bool {
	return r.Owner(objID) == r.rank
}

func (r *Resolver) Rank() uint32 {
	return r.rank
}

func (r *Resolver) ShardNum() uint32 {
	return r.shardNum
}

func (r *Resolver) GetStorageInfo(ctx context.Context, objID uint64, region proto.Region) ([]proto.StorageLocation, error) {
	owner := r.Owner(objID)
	if owner == r.rank {
		return r.local.GetStorageInfo(ctx, objID, region)
	}
	return forward(ctx, r, opGetStorageInfo, owner, func(ctx context.Context) ([]proto.StorageLocation, error) {
		return r.transport.GetStorageInfo(ctx, owner, objID, region)
	})
}

func (r *Resolver) GetMetadataByID(ctx context.Context, objID uint64) (proto.Metadata, error) {
	owner := r.Owner(objID)
	if owner == r.rank {
		return r.local.GetMetadataByID(ctx, objID)
	}
	return forward(ctx, r, opGetMetadataByID, owner, func(ctx context.Context) (proto.Metadata, error) {
		return r.transport.GetMetadataByID(ctx, owner, objID)
	})
}

func (r *Resolver) UpdateRegionLocation(ctx context.Context, objID uint64, loc proto.StorageLocation) error {
	owner := r.Owner(objID)
	if owner == r.rank {
		return r.local.UpdateRegionLocation(ctx, objID, loc)
	}
	_, err := forward(ctx, r, opUpdateRegionLocation, owner, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.transport.UpdateRegionLocation(ctx, owner, objID, loc)
	})
	return err
}

// forward runs call on its own goroutine and parks the caller until the
// reply is notified or ctx is done
func forward[T any](ctx context.Context, r *Resolver, op string, owner uint32, call func(ctx context.Context) (T, error)) (ret T, err error) {
	if r.transport == nil {
		return ret, apierrors.ErrNoTransport
	}
	if owner >= r.shardNum {
		return ret, apierrors.ErrUnknownShard
	}
	span := trace.SpanFromContextSafe(ctx)
	start := time.Now()

	n := newNotify[T]()
	go func() {
		v, err := call(ctx)
		n.Notify(reply[T]{val: v, err: err})
	}()
	rep, err := n.Wait(ctx)
	metrics.RemoteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteForwards.WithLabelValues(op, "canceled").Inc()
		span.Warnf("wait %s reply from shard %d: %s", op, owner, err)
		return ret, err
	}

	ret, err = rep.val, rep.err
	if err != nil {
		metrics.RemoteForwards.WithLabelValues(op, "failed").Inc()
		if !isDomainError(err) {
			span.Warnf("forward %s to shard %d failed: %s", op, owner, errors.Detail(err))
			err = errors.Info(err, "forward", op, "to shard", owner)
		}
		return ret, err
	}
	metrics.RemoteForwards.WithLabelValues(op, "ok").Inc()
	return ret, nil
}

// domain errors of the owner pass through unwrapped so callers can compare them
func isDomainError(err error) bool {
	switch err {
	case apierrors.ErrObjectNotExist, apierrors.ErrNoOverlapRegion, apierrors.ErrTooManyOverlapRegions,
		apierrors.ErrInvalidDimension, apierrors.ErrInvalidRegion, apierrors.ErrEmptyLocation:
		return true
	}
	return false
}

type reply[T any] struct {
	val T
	err error
}

type notify[T any] chan reply[T]

func newNotify[T any]() notify[T] {
	return make(chan reply[T], 1)
}

func (n notify[T]) Notify(ret reply[T]) {
	select {
	case n <- ret:
	default:
	}
}

func (n notify[T]) Wait(ctx context.Context) (ret reply[T], err error) {
	select {
	case <-ctx.Done():
		return ret, ctx.Err()
	case ret = <-n:
		return ret, nil
	}
}
