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

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"go.uber.org/multierr"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/geometry"
	"github.com/cubefs/objmeta/proto"
	"github.com/cubefs/objmeta/shardserver/lock"
)

// RegionLock obtains a lock on a region of a local object. A mapped request
// instead marks the held identical region dirty by the remote writer.
func (s *ShardServer) RegionLock(ctx context.Context, req *proto.RegionLockRequest) (bool, error) {
	if s.isClosed() {
		return false, apierrors.ErrServerClosed
	}
	if req.Mapped {
		target := &lock.Target{ObjID: req.RemoteObjID, ClientID: req.RemoteClientID, Region: req.RemoteRegion}
		if err := s.locks.MarkDirtyOnWrite(ctx, req.ObjID, req.Region, target); err != nil {
			return false, err
		}
		return true, nil
	}
	return s.locks.Obtain(ctx, req.ObjID, req.Region, req.Access)
}

// RegionRelease drops the lock identical to region and pushes a dirty
// region out to its mapped targets
func (s *ShardServer) RegionRelease(ctx context.Context, objID uint64, region proto.Region) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	fd, err := s.locks.Release(ctx, objID, region)
	if err != nil || fd == nil {
		return err
	}
	return s.Flush(ctx, fd)
}

// Flush writes the buffer of every target of fd to the target object.
// Targets without a known buffer are skipped.
func (s *ShardServer) Flush(ctx context.Context, fd *lock.FlushDescriptor) error {
	span := trace.SpanFromContextSafe(ctx)

	var err error
	for _, t := range fd.Targets {
		if t.ShmName == "" {
			span.Warnf("skip flush of obj[%d] region %+v to obj[%d] client[%d], no buffer", fd.ObjID, fd.Region, t.ObjID, t.ClientID)
			continue
		}
		err = multierr.Append(err, s.flushTarget(ctx, t))
	}
	if err != nil {
		span.Errorf("flush obj[%d] region %+v failed: %s", fd.ObjID, fd.Region, err)
	}
	return err
}

func (s *ShardServer) flushTarget(ctx context.Context, t lock.Target) error {
	buf, err := s.store.ShmStore().Open(t.ShmName)
	if err != nil {
		return errors.Info(apierrors.ErrShmBuffer, t.ShmName, err.Error())
	}
	defer buf.Close()
	_, err = s.engine.WriteDirect(ctx, t.ObjID, t.Region, buf.Bytes())
	return err
}

func (s *ShardServer) MapRegion(ctx context.Context, req *proto.MapRegionRequest) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	return s.locks.Map(ctx, req.LocalObjID, req.LocalRegion, mapTarget(req))
}

func (s *ShardServer) UnmapRegion(ctx context.Context, req *proto.MapRegionRequest) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	return s.locks.Unmap(ctx, req.LocalObjID, req.LocalRegion, mapTarget(req))
}

func mapTarget(req *proto.MapRegionRequest) lock.Target {
	return lock.Target{
		ObjID:    req.RemoteObjID,
		ClientID: req.RemoteClientID,
		Region:   req.RemoteRegion,
		ShmName:  req.ShmName,
	}
}

// GetStorageInfo returns the stored regions of objID overlapping region,
// asking the owner shard when objID is not local
func (s *ShardServer) GetStorageInfo(ctx context.Context, objID uint64, region proto.Region) ([]proto.StorageLocation, error) {
	if s.isClosed() {
		return nil, apierrors.ErrServerClosed
	}
	return s.resolver.GetStorageInfo(ctx, objID, region)
}

// UpdateRegionLocation records loc on the owner shard of objID
func (s *ShardServer) UpdateRegionLocation(ctx context.Context, objID uint64, loc proto.StorageLocation) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	return s.resolver.UpdateRegionLocation(ctx, objID, loc)
}

// DataRead joins a collective read of objID
func (s *ShardServer) DataRead(ctx context.Context, req *proto.DataIORequest) error {
	if req.Access != proto.AccessRead {
		return apierrors.ErrInvalidAccessType
	}
	return s.submit(ctx, req)
}

// DataWrite joins a collective write of objID, the data is in the client's
// buffer named by req
func (s *ShardServer) DataWrite(ctx context.Context, req *proto.DataIORequest) error {
	if req.Access != proto.AccessWrite {
		return apierrors.ErrInvalidAccessType
	}
	if req.ShmName == "" {
		return apierrors.ErrShmBuffer
	}
	return s.submit(ctx, req)
}

func (s *ShardServer) submit(ctx context.Context, req *proto.DataIORequest) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	if err := geometry.Validate(req.Region); err != nil {
		return err
	}
	return s.engine.Submit(ctx, req)
}

func (s *ShardServer) ReadCheck(ctx context.Context, objID uint64, clientID uint32) (int32, string, error) {
	if s.isClosed() {
		return 0, "", apierrors.ErrServerClosed
	}
	state, name := s.engine.ReadCheck(ctx, objID, clientID)
	return state, name, nil
}

func (s *ShardServer) WriteCheck(ctx context.Context, objID uint64, clientID uint32) (int32, error) {
	if s.isClosed() {
		return 0, apierrors.ErrServerClosed
	}
	return s.engine.WriteCheck(ctx, objID, clientID), nil
}

// ReadDirect reads region of objID into buf
func (s *ShardServer) ReadDirect(ctx context.Context, objID uint64, region proto.Region, buf []byte) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	return s.engine.ReadDirect(ctx, objID, region, buf)
}

// WriteDirect appends data as region of objID
func (s *ShardServer) WriteDirect(ctx context.Context, objID uint64, region proto.Region, data []byte) (proto.StorageLocation, error) {
	if s.isClosed() {
		return proto.StorageLocation{}, apierrors.ErrServerClosed
	}
	return s.engine.WriteDirect(ctx, objID, region, data)
}

// ReadLocations reads region through the given stored regions, no lookup is
// made
func (s *ShardServer) ReadLocations(ctx context.Context, region proto.Region, buf []byte, locs []proto.StorageLocation) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	return s.engine.Read(ctx, region, buf, locs)
}

// localShard serves the resolver requests for objects owned by this shard
type localShard ShardServer

func (l *localShard) GetStorageInfo(ctx context.Context, objID uint64, region proto.Region) ([]proto.StorageLocation, error) {
	if !l.catalog.Exist(ctx, objID) {
		return nil, apierrors.ErrObjectNotExist
	}
	overlaps, err := l.index.LookupOverlaps(ctx, objID, region, l.cfg.MaxOverlapRegions)
	if err != nil {
		return nil, err
	}
	ret := make([]proto.StorageLocation, len(overlaps))
	for i := range overlaps {
		ret[i] = overlaps[i].Stored
	}
	return ret, nil
}

func (l *localShard) GetMetadataByID(ctx context.Context, objID uint64) (proto.Metadata, error) {
	m, ok := l.catalog.GetByID(ctx, objID)
	if !ok {
		return proto.Metadata{}, apierrors.ErrObjectNotExist
	}
	return m, nil
}

func (l *localShard) UpdateRegionLocation(ctx context.Context, objID uint64, loc proto.StorageLocation) error {
	return l.index.RecordWrite(ctx, objID, loc)
}
