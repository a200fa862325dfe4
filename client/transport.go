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
	"strconv"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
)

// PeerTransport reaches the other shards of the deployment. The client of
// a rank is dialed on first use.
type PeerTransport struct {
	peers map[uint32]string
	tc    TransportConfig

	// clients maintains grpc client by shard rank
	clients sync.Map
	group   singleflight.Group
}

func NewPeerTransport(peers map[uint32]string, tc TransportConfig) *PeerTransport {
	return &PeerTransport{peers: peers, tc: tc}
}

func (t *PeerTransport) GetClient(ctx context.Context, rank uint32) (*ShardClient, error) {
	if c, ok := t.clients.Load(rank); ok {
		return c.(*ShardClient), nil
	}
	addr, ok := t.peers[rank]
	if !ok {
		return nil, apierrors.ErrUnknownShard
	}

	v, err, _ := t.group.Do(strconv.FormatUint(uint64(rank), 10), func() (interface{}, error) {
		if c, ok := t.clients.Load(rank); ok {
			return c, nil
		}
		c, err := NewShardClient(ctx, &Config{Addresses: addr, TransportConfig: t.tc})
		if err != nil {
			trace.SpanFromContextSafe(ctx).Warnf("dial shard %d at %s failed: %s", rank, addr, err)
			return nil, err
		}
		t.clients.Store(rank, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ShardClient), nil
}

func (t *PeerTransport) GetStorageInfo(ctx context.Context, rank uint32, objID uint64, region proto.Region) ([]proto.StorageLocation, error) {
	c, err := t.GetClient(ctx, rank)
	if err != nil {
		return nil, err
	}
	return c.GetStorageInfo(ctx, objID, region)
}

func (t *PeerTransport) GetMetadataByID(ctx context.Context, rank uint32, objID uint64) (proto.Metadata, error) {
	c, err := t.GetClient(ctx, rank)
	if err != nil {
		return proto.Metadata{}, err
	}
	return c.GetMetadataByID(ctx, objID)
}

func (t *PeerTransport) UpdateRegionLocation(ctx context.Context, rank uint32, objID uint64, loc proto.StorageLocation) error {
	c, err := t.GetClient(ctx, rank)
	if err != nil {
		return err
	}
	return c.UpdateRegionLocation(ctx, objID, loc)
}

func (t *PeerTransport) Close() error {
	var err error
	t.clients.Range(func(key, value interface{}) bool {
		err = multierr.Append(err, value.(*ShardClient).Close())
		return true
	})
	return err
}
