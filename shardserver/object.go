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

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
)

// CreateObject inserts a new record and returns its object id, 0 when an
// identical record is live
func (s *ShardServer) CreateObject(ctx context.Context, hashKey uint32, meta *proto.Metadata) (uint64, error) {
	if s.isClosed() {
		return 0, apierrors.ErrServerClosed
	}
	if meta.Ndim < 0 || meta.Ndim > proto.DimMax {
		return 0, apierrors.ErrInvalidDimension
	}
	objID, err := s.catalog.Insert(ctx, hashKey, meta)
	if err == apierrors.ErrObjectExist {
		trace.SpanFromContextSafe(ctx).Infof("object %s of app %s time step %d exists", meta.ObjName, meta.AppName, meta.TimeStep)
		return 0, nil
	}
	return objID, err
}

func (s *ShardServer) Query(ctx context.Context, pred *proto.Predicate) ([]proto.Metadata, error) {
	if s.isClosed() {
		return nil, apierrors.ErrServerClosed
	}
	return s.catalog.Query(ctx, pred), nil
}

func (s *ShardServer) Update(ctx context.Context, objID uint64, hashKey uint32, patch *proto.Patch) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	return s.catalog.Update(ctx, objID, hashKey, patch)
}

func (s *ShardServer) AddTag(ctx context.Context, objID uint64, hashKey uint32, tag string) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	return s.catalog.AddTag(ctx, objID, hashKey, tag)
}

// DeleteByName removes the record named objName at timeStep from the bucket
// of hashKey
func (s *ShardServer) DeleteByName(ctx context.Context, hashKey uint32, objName string, timeStep int32) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	m, err := s.catalog.DeleteByKey(ctx, hashKey, &proto.Metadata{ObjName: objName, TimeStep: timeStep})
	if err != nil {
		return err
	}
	s.dropObject(m.ObjID)
	return nil
}

func (s *ShardServer) DeleteByID(ctx context.Context, objID uint64) error {
	if s.isClosed() {
		return apierrors.ErrServerClosed
	}
	m, err := s.catalog.DeleteByID(ctx, objID)
	if err != nil {
		return err
	}
	s.dropObject(m.ObjID)
	return nil
}

func (s *ShardServer) dropObject(objID uint64) {
	s.locks.Drop(objID)
	s.index.Drop(objID)
}

// GetMetadataByID returns the record of objID from its owner shard
func (s *ShardServer) GetMetadataByID(ctx context.Context, objID uint64) (proto.Metadata, error) {
	if s.isClosed() {
		return proto.Metadata{}, apierrors.ErrServerClosed
	}
	return s.resolver.GetMetadataByID(ctx, objID)
}
