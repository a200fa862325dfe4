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
	"math"
	"net"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/metrics"
	"github.com/cubefs/objmeta/proto"
	"github.com/cubefs/objmeta/proto/legacy"
)

type RPCServer struct {
	*Server
	grpcServer *grpc.Server
}

func NewRPCServer(server *Server) *RPCServer {
	rs := &RPCServer{Server: server}

	s := grpc.NewServer(
		grpc.ForceServerCodec(proto.Codec{}),
		grpc.MaxRecvMsgSize(math.MaxInt32),
		grpc.MaxSendMsgSize(math.MaxInt32),
		grpc.ChainUnaryInterceptor(
			metrics.GRPCMetrics.UnaryServerInterceptor(),
			rs.unaryInterceptorWithTracer,
			rs.unaryInterceptorWithError,
		),
	)
	proto.RegisterShardServer(s, rs)
	metrics.GRPCMetrics.InitializeMetrics(s)
	rs.grpcServer = s
	return rs
}

func (r *RPCServer) Serve(addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen grpc address %s failed: %s", addr, err)
	}
	r.serve(lis)
	log.Info("grpc server is running at:", addr)
}

func (r *RPCServer) serve(lis net.Listener) {
	go func() {
		if err := r.grpcServer.Serve(lis); err != nil {
			log.Fatal("grpc server exits:", err)
		}
	}()
}

func (r *RPCServer) Stop() {
	r.grpcServer.GracefulStop()
}

func (r *RPCServer) CreateObject(ctx context.Context, req *proto.CreateObjectRequest) (*proto.CreateObjectResponse, error) {
	objID, err := r.shardServer.CreateObject(ctx, req.HashKey, &req.Meta)
	if err != nil {
		return nil, err
	}
	return &proto.CreateObjectResponse{ObjID: objID}, nil
}

func (r *RPCServer) Query(ctx context.Context, req *proto.QueryRequest) (*proto.QueryResponse, error) {
	metas, err := r.shardServer.Query(ctx, &req.Predicate)
	if err != nil {
		return nil, err
	}
	return &proto.QueryResponse{Metas: metas}, nil
}

func (r *RPCServer) Update(ctx context.Context, req *proto.UpdateRequest) (*proto.Empty, error) {
	if err := r.shardServer.Update(ctx, req.ObjID, req.HashKey, &req.Patch); err != nil {
		return nil, err
	}
	return &proto.Empty{}, nil
}

func (r *RPCServer) AddTag(ctx context.Context, req *proto.AddTagRequest) (*proto.Empty, error) {
	if err := r.shardServer.AddTag(ctx, req.ObjID, req.HashKey, req.Tag); err != nil {
		return nil, err
	}
	return &proto.Empty{}, nil
}

func (r *RPCServer) DeleteByName(ctx context.Context, req *proto.DeleteByNameRequest) (*proto.Empty, error) {
	if err := r.shardServer.DeleteByName(ctx, req.HashKey, req.ObjName, req.TimeStep); err != nil {
		return nil, err
	}
	return &proto.Empty{}, nil
}

func (r *RPCServer) DeleteByID(ctx context.Context, req *proto.DeleteByIDRequest) (*proto.Empty, error) {
	if err := r.shardServer.DeleteByID(ctx, req.ObjID); err != nil {
		return nil, err
	}
	return &proto.Empty{}, nil
}

func (r *RPCServer) RegionLock(ctx context.Context, req *proto.RegionLockRequest) (*proto.RegionLockResponse, error) {
	granted, err := r.shardServer.RegionLock(ctx, req)
	if err != nil {
		return nil, err
	}
	return &proto.RegionLockResponse{Granted: granted}, nil
}

func (r *RPCServer) RegionRelease(ctx context.Context, req *proto.RegionLockRequest) (*proto.Empty, error) {
	if err := r.shardServer.RegionRelease(ctx, req.ObjID, req.Region); err != nil {
		return nil, err
	}
	return &proto.Empty{}, nil
}

func (r *RPCServer) MapRegion(ctx context.Context, req *proto.MapRegionRequest) (*proto.Empty, error) {
	if err := r.shardServer.MapRegion(ctx, req); err != nil {
		return nil, err
	}
	return &proto.Empty{}, nil
}

func (r *RPCServer) UnmapRegion(ctx context.Context, req *proto.MapRegionRequest) (*proto.Empty, error) {
	if err := r.shardServer.UnmapRegion(ctx, req); err != nil {
		return nil, err
	}
	return &proto.Empty{}, nil
}

func (r *RPCServer) GetStorageInfo(ctx context.Context, req *proto.GetStorageInfoRequest) (*proto.GetStorageInfoResponse, error) {
	locs, err := r.shardServer.GetStorageInfo(ctx, req.ObjID, req.Region)
	if err != nil {
		return nil, err
	}
	if req.Legacy {
		buf, err := legacy.Encode(locs)
		if err != nil {
			return nil, err
		}
		return &proto.GetStorageInfoResponse{Locations: buf}, nil
	}
	return &proto.GetStorageInfoResponse{Locations: proto.MarshalLocations(locs)}, nil
}

func (r *RPCServer) GetMetadataByID(ctx context.Context, req *proto.GetMetadataByIDRequest) (*proto.GetMetadataByIDResponse, error) {
	meta, err := r.shardServer.GetMetadataByID(ctx, req.ObjID)
	if err == apierrors.ErrObjectNotExist {
		return &proto.GetMetadataByIDResponse{Found: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &proto.GetMetadataByIDResponse{Found: true, Meta: meta}, nil
}

func (r *RPCServer) UpdateRegionLocation(ctx context.Context, req *proto.UpdateRegionLocationRequest) (*proto.Empty, error) {
	if err := r.shardServer.UpdateRegionLocation(ctx, req.ObjID, req.Location); err != nil {
		return nil, err
	}
	return &proto.Empty{}, nil
}

func (r *RPCServer) DataRead(ctx context.Context, req *proto.DataIORequest) (*proto.DataIOResponse, error) {
	if err := r.shardServer.DataRead(ctx, req); err != nil {
		return nil, err
	}
	return &proto.DataIOResponse{}, nil
}

func (r *RPCServer) DataWrite(ctx context.Context, req *proto.DataIORequest) (*proto.DataIOResponse, error) {
	if err := r.shardServer.DataWrite(ctx, req); err != nil {
		return nil, err
	}
	return &proto.DataIOResponse{ShmName: req.ShmName}, nil
}

func (r *RPCServer) ReadCheck(ctx context.Context, req *proto.IOCheckRequest) (*proto.IOCheckResponse, error) {
	ready, name, err := r.shardServer.ReadCheck(ctx, req.ObjID, req.ClientID)
	if err != nil {
		return nil, err
	}
	return &proto.IOCheckResponse{Ready: ready, ShmName: name}, nil
}

func (r *RPCServer) WriteCheck(ctx context.Context, req *proto.IOCheckRequest) (*proto.IOCheckResponse, error) {
	ready, err := r.shardServer.WriteCheck(ctx, req.ObjID, req.ClientID)
	if err != nil {
		return nil, err
	}
	return &proto.IOCheckResponse{Ready: ready}, nil
}

// util function

func (r *RPCServer) unaryInterceptorWithTracer(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if reqId := md.Get(proto.ReqIdKey); len(reqId) > 0 {
		_, ctx = trace.StartSpanFromContextWithTraceID(ctx, "", reqId[0])
	} else {
		_, ctx = trace.StartSpanFromContext(ctx, "")
	}

	return handler(ctx, req)
}

func (r *RPCServer) unaryInterceptorWithError(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	resp, err = handler(ctx, req)
	if err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("%s failed: %s", info.FullMethod, errors.Detail(err))
		return nil, apierrors.ToStatus(err)
	}
	return resp, nil
}
