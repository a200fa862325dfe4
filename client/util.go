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
	"fmt"
	"math"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/balancer/roundrobin"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
)

const (
	defaultMaxTimeoutMs       = 10000
	defaultConnectTimeoutMs   = 3000
	defaultKeepaliveTimeoutS  = 5
	defaultBackoffBaseDelayMs = 100
	defaultBackoffMaxDelayMs  = 3000
)

type TransportConfig struct {
	MaxTimeoutMs       uint32 `json:"max_timeout_ms"`
	ConnectTimeoutMs   uint32 `json:"connect_timeout_ms"`
	KeepaliveTimeoutS  uint32 `json:"keepalive_timeout_s"`
	BackoffBaseDelayMs uint32 `json:"backoff_base_delay_ms"`
	BackoffMaxDelayMs  uint32 `json:"backoff_max_delay_ms"`
}

func initTransportConfig(cfg *TransportConfig) {
	if cfg.MaxTimeoutMs == 0 {
		cfg.MaxTimeoutMs = defaultMaxTimeoutMs
	}
	if cfg.ConnectTimeoutMs == 0 {
		cfg.ConnectTimeoutMs = defaultConnectTimeoutMs
	}
	if cfg.KeepaliveTimeoutS == 0 {
		cfg.KeepaliveTimeoutS = defaultKeepaliveTimeoutS
	}
	if cfg.BackoffBaseDelayMs == 0 {
		cfg.BackoffBaseDelayMs = defaultBackoffBaseDelayMs
	}
	if cfg.BackoffMaxDelayMs == 0 {
		cfg.BackoffMaxDelayMs = defaultBackoffMaxDelayMs
	}
}

func unaryInterceptorWithTracer(ctx context.Context, method string, req, reply interface{},
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
) error {
	span := trace.SpanFromContextSafe(ctx)
	ctx = metadata.NewOutgoingContext(ctx, metadata.Pairs(
		proto.ReqIdKey, span.TraceID(),
	))

	return invoker(ctx, method, req, reply, cc, opts...)
}

// unaryInterceptorWithError turns status errors of known sentinels back
// into the sentinels
func unaryInterceptorWithError(ctx context.Context, method string, req, reply interface{},
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
) error {
	return apierrors.FromStatus(invoker(ctx, method, req, reply, cc, opts...))
}

func generateDialOpts(cfg *TransportConfig) []grpc.DialOption {
	dialOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(math.MaxInt32),
			grpc.MaxCallRecvMsgSize(math.MaxInt32),
			grpc.ForceCodec(proto.Codec{}),
		),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Timeout:             time.Duration(cfg.KeepaliveTimeoutS) * time.Second,
				PermitWithoutStream: true,
			},
		),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  time.Duration(cfg.BackoffBaseDelayMs) * time.Millisecond,
				Multiplier: backoff.DefaultConfig.Multiplier,
				Jitter:     backoff.DefaultConfig.Jitter,
				MaxDelay:   time.Duration(cfg.BackoffMaxDelayMs) * time.Millisecond,
			},
			MinConnectTimeout: time.Millisecond * time.Duration(cfg.ConnectTimeoutMs),
		}),
		grpc.WithChainUnaryInterceptor(unaryInterceptorWithTracer, unaryInterceptorWithError),
		grpc.WithDefaultServiceConfig(fmt.Sprintf(`{"LoadBalancingPolicy": "%s"}`, roundrobin.Name)),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}
	return dialOpts
}
