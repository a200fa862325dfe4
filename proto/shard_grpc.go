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

package proto

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	ShardServiceName = "objmeta.Shard"
	CodecName        = "objmeta"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals Message values for grpc
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("codec %s: unexpected type %T", CodecName, v)
	}
	return m.Marshal()
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("codec %s: unexpected type %T", CodecName, v)
	}
	return m.Unmarshal(data)
}

func (Codec) Name() string {
	return CodecName
}

// ShardServer is the server API of a shard
type ShardServer interface {
	CreateObject(context.Context, *CreateObjectRequest) (*CreateObjectResponse, error)
	Query(context.Context, *QueryRequest) (*QueryResponse, error)
	Update(context.Context, *UpdateRequest) (*Empty, error)
	AddTag(context.Context, *AddTagRequest) (*Empty, error)
	DeleteByName(context.Context, *DeleteByNameRequest) (*Empty, error)
	DeleteByID(context.Context, *DeleteByIDRequest) (*Empty, error)
	RegionLock(context.Context, *RegionLockRequest) (*RegionLockResponse, error)
	RegionRelease(context.Context, *RegionLockRequest) (*Empty, error)
	MapRegion(context.Context, *MapRegionRequest) (*Empty, error)
	UnmapRegion(context.Context, *MapRegionRequest) (*Empty, error)
	GetStorageInfo(context.Context, *GetStorageInfoRequest) (*GetStorageInfoResponse, error)
	GetMetadataByID(context.Context, *GetMetadataByIDRequest) (*GetMetadataByIDResponse, error)
	UpdateRegionLocation(context.Context, *UpdateRegionLocationRequest) (*Empty, error)
	DataRead(context.Context, *DataIORequest) (*DataIOResponse, error)
	DataWrite(context.Context, *DataIORequest) (*DataIOResponse, error)
	ReadCheck(context.Context, *IOCheckRequest) (*IOCheckResponse, error)
	WriteCheck(context.Context, *IOCheckRequest) (*IOCheckResponse, error)
}

func RegisterShardServer(s *grpc.Server, srv ShardServer) {
	s.RegisterService(&ShardServiceDesc, srv)
}

var ShardServiceDesc = grpc.ServiceDesc{
	ServiceName: ShardServiceName,
	HandlerType: (*ShardServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc("CreateObject", ShardServer.CreateObject),
		methodDesc("Query", ShardServer.Query),
		methodDesc("Update", ShardServer.Update),
		methodDesc("AddTag", ShardServer.AddTag),
		methodDesc("DeleteByName", ShardServer.DeleteByName),
		methodDesc("DeleteByID", ShardServer.DeleteByID),
		methodDesc("RegionLock", ShardServer.RegionLock),
		methodDesc("RegionRelease", ShardServer.RegionRelease),
		methodDesc("MapRegion", ShardServer.MapRegion),
		methodDesc("UnmapRegion", ShardServer.UnmapRegion),
		methodDesc("GetStorageInfo", ShardServer.GetStorageInfo),
		methodDesc("GetMetadataByID", ShardServer.GetMetadataByID),
		methodDesc("UpdateRegionLocation", ShardServer.UpdateRegionLocation),
		methodDesc("DataRead", ShardServer.DataRead),
		methodDesc("DataWrite", ShardServer.DataWrite),
		methodDesc("ReadCheck", ShardServer.ReadCheck),
		methodDesc("WriteCheck", ShardServer.WriteCheck),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "objmeta/shard",
}

func fullMethod(name string) string {
	return "/" + ShardServiceName + "/" + name
}

func methodDesc[T any, PT interface {
	*T
	Message
}, R Message](name string, call func(ShardServer, context.Context, PT) (R, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := PT(new(T))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ShardServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ShardServer), ctx, req.(PT))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ShardClient is the client API of a shard
type ShardClient struct {
	cc grpc.ClientConnInterface
}

func NewShardClient(cc grpc.ClientConnInterface) *ShardClient {
	return &ShardClient{cc: cc}
}

func invoke[T any, PT interface {
	*T
	Message
}](ctx context.Context, cc grpc.ClientConnInterface, name string, in Message, opts []grpc.CallOption) (PT, error) {
	out := PT(new(T))
	if err := cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ShardClient) CreateObject(ctx context.Context, in *CreateObjectRequest, opts ...grpc.CallOption) (*CreateObjectResponse, error) {
	return invoke[CreateObjectResponse](ctx, c.cc, "CreateObject", in, opts)
}

func (c *ShardClient) Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error) {
	return invoke[QueryResponse](ctx, c.cc, "Query", in, opts)
}

func (c *ShardClient) Update(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Update", in, opts)
}

func (c *ShardClient) AddTag(ctx context.Context, in *AddTagRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "AddTag", in, opts)
}

func (c *ShardClient) DeleteByName(ctx context.Context, in *DeleteByNameRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "DeleteByName", in, opts)
}

func (c *ShardClient) DeleteByID(ctx context.Context, in *DeleteByIDRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "DeleteByID", in, opts)
}

func (c *ShardClient) RegionLock(ctx context.Context, in *RegionLockRequest, opts ...grpc.CallOption) (*RegionLockResponse, error) {
	return invoke[RegionLockResponse](ctx, c.cc, "RegionLock", in, opts)
}

func (c *ShardClient) RegionRelease(ctx context.Context, in *RegionLockRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "RegionRelease", in, opts)
}

func (c *ShardClient) MapRegion(ctx context.Context, in *MapRegionRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "MapRegion", in, opts)
}

func (c *ShardClient) UnmapRegion(ctx context.Context, in *MapRegionRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "UnmapRegion", in, opts)
}

func (c *ShardClient) GetStorageInfo(ctx context.Context, in *GetStorageInfoRequest, opts ...grpc.CallOption) (*GetStorageInfoResponse, error) {
	return invoke[GetStorageInfoResponse](ctx, c.cc, "GetStorageInfo", in, opts)
}

func (c *ShardClient) GetMetadataByID(ctx context.Context, in *GetMetadataByIDRequest, opts ...grpc.CallOption) (*GetMetadataByIDResponse, error) {
	return invoke[GetMetadataByIDResponse](ctx, c.cc, "GetMetadataByID", in, opts)
}

func (c *ShardClient) UpdateRegionLocation(ctx context.Context, in *UpdateRegionLocationRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "UpdateRegionLocation", in, opts)
}

func (c *ShardClient) DataRead(ctx context.Context, in *DataIORequest, opts ...grpc.CallOption) (*DataIOResponse, error) {
	return invoke[DataIOResponse](ctx, c.cc, "DataRead", in, opts)
}

func (c *ShardClient) DataWrite(ctx context.Context, in *DataIORequest, opts ...grpc.CallOption) (*DataIOResponse, error) {
	return invoke[DataIOResponse](ctx, c.cc, "DataWrite", in, opts)
}

func (c *ShardClient) ReadCheck(ctx context.Context, in *IOCheckRequest, opts ...grpc.CallOption) (*IOCheckResponse, error) {
	return invoke[IOCheckResponse](ctx, c.cc, "ReadCheck", in, opts)
}

func (c *ShardClient) WriteCheck(ctx context.Context, in *IOCheckRequest, opts ...grpc.CallOption) (*IOCheckResponse, error) {
	return invoke[IOCheckResponse](ctx, c.cc, "WriteCheck", in, opts)
}
