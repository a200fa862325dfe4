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

package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/objmeta/client"
	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
	"github.com/cubefs/objmeta/shardserver"
	"github.com/cubefs/objmeta/util"
)

type testShard struct {
	server *Server
	rpc    *RPCServer
	lis    net.Listener
}

func listen(t *testing.T) net.Listener {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return lis
}

// startShards serves shardNum shards on loopback listeners, every shard
// knows the addresses of the others
func startShards(t *testing.T, dir string, shardNum uint32) []*testShard {
	shards := make([]*testShard, shardNum)
	addrs := make(map[uint32]string)
	for i := range shards {
		shards[i] = &testShard{lis: listen(t)}
		addrs[uint32(i)] = shards[i].lis.Addr().String()
	}
	for i, sh := range shards {
		peers := make(map[uint32]string)
		for rank, addr := range addrs {
			if rank != uint32(i) {
				peers[rank] = addr
			}
		}
		if shardNum == 1 {
			peers = nil
		}
		shardDir := fmt.Sprintf("%s/%d", dir, i)
		sh.server = NewServer(context.Background(), &Config{
			ShardServerConfig: shardserver.Config{
				Rank:      uint32(i),
				ShardNum:  shardNum,
				DataDir:   shardDir + "/data",
				ShmDir:    shardDir + "/shm",
				WorkerNum: 2,
				Peers:     peers,
			},
		})
		sh.rpc = NewRPCServer(sh.server)
		sh.rpc.serve(sh.lis)
	}
	return shards
}

func stopShards(shards []*testShard) {
	for _, sh := range shards {
		sh.rpc.Stop()
		sh.server.Close(context.Background())
	}
}

func newTestClient(t *testing.T, sh *testShard) *client.ShardClient {
	c, err := client.NewShardClient(context.Background(), &client.Config{Addresses: sh.lis.Addr().String()})
	require.NoError(t, err)
	return c
}

func TestServerRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	shards := startShards(t, dir, 1)
	defer stopShards(shards)
	c := newTestClient(t, shards[0])
	defer c.Close()

	meta := &proto.Metadata{UserID: 1, AppName: "app", ObjName: "temperature", TimeStep: 3, Ndim: 1, Dims: [proto.DimMax]uint64{64}}
	objID, err := c.CreateObject(ctx, meta)
	require.NoError(t, err)
	require.Equal(t, proto.FirstObjID(0), objID)
	dup, err := c.CreateObject(ctx, meta)
	require.NoError(t, err)
	require.Equal(t, uint64(0), dup)

	got, err := c.GetMetadataByID(ctx, objID)
	require.NoError(t, err)
	require.Equal(t, "temperature", got.ObjName)
	require.Equal(t, objID, got.ObjID)
	_, err = c.GetMetadataByID(ctx, objID+100)
	require.Equal(t, apierrors.ErrObjectNotExist, err)

	require.NoError(t, c.AddTag(ctx, objID, meta.ObjName, "unit=K"))
	metas, err := c.Query(ctx, &proto.Predicate{Tags: "unit=K"})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, objID, metas[0].ObjID)

	region := proto.NewRegion([]uint64{0}, []uint64{32})
	require.NoError(t, c.Lock(ctx, objID, proto.AccessWrite, region))
	require.Equal(t, apierrors.ErrLockConflict, c.Lock(ctx, objID, proto.AccessRead, proto.NewRegion([]uint64{16}, []uint64{8})))
	require.NoError(t, c.RegionRelease(ctx, objID, region))
	require.NoError(t, c.Lock(ctx, objID, proto.AccessRead, proto.NewRegion([]uint64{16}, []uint64{8})))

	loc, err := shards[0].server.shardServer.WriteDirect(ctx, objID, region, make([]byte, 32))
	require.NoError(t, err)
	locs, err := c.GetStorageInfo(ctx, objID, proto.NewRegion([]uint64{8}, []uint64{4}))
	require.NoError(t, err)
	require.Equal(t, []proto.StorageLocation{loc}, locs)
	locs, err = c.GetStorageInfoLegacy(ctx, objID, proto.NewRegion([]uint64{8}, []uint64{4}))
	require.NoError(t, err)
	require.Equal(t, []proto.StorageLocation{loc}, locs)
	_, err = c.GetStorageInfo(ctx, objID, proto.NewRegion([]uint64{40}, []uint64{4}))
	require.Equal(t, apierrors.ErrNoOverlapRegion, err)

	_, err = c.CreateObject(ctx, &proto.Metadata{ObjName: "bad", Ndim: 9})
	require.Equal(t, apierrors.ErrInvalidDimension, err)

	require.NoError(t, c.DeleteByName(ctx, meta.ObjName, meta.TimeStep))
	require.Equal(t, apierrors.ErrObjectNotExist, c.DeleteByID(ctx, objID))
}

func TestServerForward(t *testing.T) {
	ctx := context.Background()
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	shards := startShards(t, dir, 2)
	defer stopShards(shards)
	c0 := newTestClient(t, shards[0])
	defer c0.Close()
	c1 := newTestClient(t, shards[1])
	defer c1.Close()

	objID, err := c1.CreateObject(ctx, &proto.Metadata{ObjName: "pressure", Ndim: 1, Dims: [proto.DimMax]uint64{16}})
	require.NoError(t, err)
	require.Equal(t, proto.FirstObjID(1), objID)
	require.Equal(t, uint32(1), proto.Owner(objID, 2))

	// shard 0 asks shard 1 through its peer transport
	meta, err := c0.GetMetadataByID(ctx, objID)
	require.NoError(t, err)
	require.Equal(t, "pressure", meta.ObjName)

	region := proto.NewRegion([]uint64{0}, []uint64{16})
	loc := proto.StorageLocation{Region: region, Path: "1/shard0/s0000.bin", Offset: 0}
	require.NoError(t, c0.UpdateRegionLocation(ctx, objID, loc))
	locs, err := c1.GetStorageInfo(ctx, objID, region)
	require.NoError(t, err)
	require.Equal(t, []proto.StorageLocation{loc}, locs)
	locs, err = c0.GetStorageInfo(ctx, objID, region)
	require.NoError(t, err)
	require.Equal(t, []proto.StorageLocation{loc}, locs)

	_, err = c0.GetStorageInfo(ctx, objID, proto.NewRegion([]uint64{32}, []uint64{4}))
	require.Equal(t, apierrors.ErrNoOverlapRegion, err)
}
