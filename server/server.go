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

	"go.uber.org/multierr"

	"github.com/cubefs/objmeta/client"
	"github.com/cubefs/objmeta/shardserver"
)

type Config struct {
	ShardServerConfig shardserver.Config     `json:"shard_server_config"`
	TransportConfig   client.TransportConfig `json:"transport"`
}

// Server holds the shard served by the grpc and http servers
type Server struct {
	shardServer *shardserver.ShardServer
	transport   *client.PeerTransport
}

func NewServer(ctx context.Context, cfg *Config) *Server {
	s := &Server{}
	if len(cfg.ShardServerConfig.Peers) > 0 {
		s.transport = client.NewPeerTransport(cfg.ShardServerConfig.Peers, cfg.TransportConfig)
		s.shardServer = shardserver.NewShardServer(ctx, &cfg.ShardServerConfig, s.transport)
		return s
	}
	s.shardServer = shardserver.NewShardServer(ctx, &cfg.ShardServerConfig, nil)
	return s
}

func (s *Server) Close(ctx context.Context) error {
	err := s.shardServer.Close(ctx)
	if s.transport != nil {
		err = multierr.Append(err, s.transport.Close())
	}
	return err
}
