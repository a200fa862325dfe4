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

package client

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
	"github.com/cubefs/objmeta/proto/legacy"
)

type (
	Config struct {
		// Addresses of the replicas serving one shard rank, comma separated
		Addresses       string          `json:"addresses"`
		TransportConfig TransportConfig `json:"transport"`
	}

	// ShardClient calls the operations of one shard
	ShardClient struct {
		conn *grpc.ClientConn
		tc   TransportConfig
		cli  *proto.ShardClient
	}
)

func NewShardClient(ctx context.Context, cfg *Config) (*ShardClient, error) {
	if cfg.Addresses == "" {
		return nil, errors.New("shard address can't be empty")
	}
	initTransportConfig(&cfg.TransportConfig)

	ctx, cancel := context.WithTimeout(ctx, time.Millisecond*time.Duration(cfg.TransportConfig.ConnectTimeoutMs))
	defer cancel()
	conn, err := grpc.DialContext(ctx, staticTarget(cfg.Addresses), generateDialOpts(&cfg.TransportConfig)...)
	if err != nil {
		return nil, err
	}

	return &ShardClient{
		conn: conn,
		tc:   cfg.TransportConfig,
		cli:  proto.NewShardClient(conn),
	}, nil
}

func (c *ShardClient) Address() string {
	return c.conn.Target()
}

func (c *ShardClient) Close() error {
	return c.conn.Close()
}

func (c *ShardClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Millisecond*time.Duration(c.tc.MaxTimeoutMs))
}

// CreateObject returns the id of the new object, 0 when an identical one
// exists
func (c *ShardClient) CreateObject(ctx context.Context, meta *proto.Metadata) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.CreateObject(ctx, &proto.CreateObjectRequest{HashKey: proto.HashName(meta.ObjName), Meta: *meta})
	if err != nil {
		return 0, err
	}
	return resp.ObjID, nil
}

func (c *ShardClient) Query(ctx context.Context, pred *proto.Predicate) ([]proto.Metadata, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.Query(ctx, &proto.QueryRequest{Predicate: *pred})
	if err != nil {
		return nil, err
	}
	return resp.Metas, nil
}

func (c *ShardClient) Update(ctx context.Context, objID uint64, objName string, patch *proto.Patch) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.Update(ctx, &proto.UpdateRequest{ObjID: objID, HashKey: proto.HashName(objName), Patch: *patch})
	return err
}

func (c *ShardClient) AddTag(ctx context.Context, objID uint64, objName string, tag string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.AddTag(ctx, &proto.AddTagRequest{ObjID: objID, HashKey: proto.HashName(objName), Tag: tag})
	return err
}

func (c *ShardClient) DeleteByName(ctx context.Context, objName string, timeStep int32) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.DeleteByName(ctx, &proto.DeleteByNameRequest{
		HashKey:  proto.HashName(objName),
		ObjName:  objName,
		TimeStep: timeStep,
	})
	return err
}

func (c *ShardClient) DeleteByID(ctx context.Context, objID uint64) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.DeleteByID(ctx, &proto.DeleteByIDRequest{ObjID: objID})
	return err
}

// RegionLock is served by the owner shard of req.ObjID only, pick the
// client with proto.Owner
func (c *ShardClient) RegionLock(ctx context.Context, req *proto.RegionLockRequest) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.RegionLock(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Granted, nil
}

// Lock is RegionLock returning ErrLockConflict when the lock is not granted
func (c *ShardClient) Lock(ctx context.Context, objID uint64, access proto.AccessType, region proto.Region) error {
	granted, err := c.RegionLock(ctx, &proto.RegionLockRequest{ObjID: objID, Access: access, Region: region})
	if err != nil {
		return err
	}
	if !granted {
		return apierrors.ErrLockConflict
	}
	return nil
}

func (c *ShardClient) RegionRelease(ctx context.Context, objID uint64, region proto.Region) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.RegionRelease(ctx, &proto.RegionLockRequest{ObjID: objID, Region: region})
	return err
}

func (c *ShardClient) MapRegion(ctx context.Context, req *proto.MapRegionRequest) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.MapRegion(ctx, req)
	return err
}

func (c *ShardClient) UnmapRegion(ctx context.Context, req *proto.MapRegionRequest) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.UnmapRegion(ctx, req)
	return err
}

func (c *ShardClient) GetStorageInfo(ctx context.Context, objID uint64, region proto.Region) ([]proto.StorageLocation, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.GetStorageInfo(ctx, &proto.GetStorageInfoRequest{ObjID: objID, Region: region})
	if err != nil {
		return nil, err
	}
	return proto.UnmarshalLocations(resp.Locations)
}

// GetStorageInfoLegacy is GetStorageInfo carried in the zero free legacy batch
func (c *ShardClient) GetStorageInfoLegacy(ctx context.Context, objID uint64, region proto.Region) ([]proto.StorageLocation, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.GetStorageInfo(ctx, &proto.GetStorageInfoRequest{ObjID: objID, Region: region, Legacy: true})
	if err != nil {
		return nil, err
	}
	return legacy.Decode(resp.Locations)
}

func (c *ShardClient) GetMetadataByID(ctx context.Context, objID uint64) (proto.Metadata, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.GetMetadataByID(ctx, &proto.GetMetadataByIDRequest{ObjID: objID})
	if err != nil {
		return proto.Metadata{}, err
	}
	if !resp.Found {
		return proto.Metadata{}, apierrors.ErrObjectNotExist
	}
	return resp.Meta, nil
}

func (c *ShardClient) UpdateRegionLocation(ctx context.Context, objID uint64, loc proto.StorageLocation) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.UpdateRegionLocation(ctx, &proto.UpdateRegionLocationRequest{ObjID: objID, Location: loc})
	return err
}

func (c *ShardClient) DataRead(ctx context.Context, req *proto.DataIORequest) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.DataRead(ctx, req)
	return err
}

func (c *ShardClient) DataWrite(ctx context.Context, req *proto.DataIORequest) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.cli.DataWrite(ctx, req)
	return err
}

// ReadCheck polls a collective read, the buffer name is valid once ready
// is StateReady
func (c *ShardClient) ReadCheck(ctx context.Context, objID uint64, clientID uint32) (int32, string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.ReadCheck(ctx, &proto.IOCheckRequest{ObjID: objID, ClientID: clientID})
	if err != nil {
		return 0, "", err
	}
	return resp.Ready, resp.ShmName, nil
}

func (c *ShardClient) WriteCheck(ctx context.Context, objID uint64, clientID uint32) (int32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.cli.WriteCheck(ctx, &proto.IOCheckRequest{ObjID: objID, ClientID: clientID})
	if err != nil {
		return 0, err
	}
	return resp.Ready, nil
}
