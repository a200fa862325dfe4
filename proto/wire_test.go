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
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	apierrors "github.com/cubefs/objmeta/errors"
)

func TestHashName(t *testing.T) {
	require.Equal(t, uint32(5381), HashName(""))
	require.Equal(t, uint32(5381*33+'a'), HashName("a"))
	require.Equal(t, HashName("obj1"), HashName("obj1"))
	require.NotEqual(t, HashName("obj1"), HashName("obj2"))
}

func TestOwner(t *testing.T) {
	require.Equal(t, uint64(1000000), FirstObjID(0))
	require.Equal(t, uint64(3000000), FirstObjID(2))

	require.Equal(t, uint32(0), Owner(FirstObjID(0), 4))
	require.Equal(t, uint32(2), Owner(FirstObjID(2)+17, 4))
	require.Equal(t, uint32(3), Owner(FirstObjID(3)+ShardIDInterval-1, 4))
	require.Equal(t, uint32(0), Owner(FirstObjID(5), 5))
	require.Equal(t, uint32(0), Owner(12, 4))
}

func TestLocationsRoundTrip(t *testing.T) {
	locs := []StorageLocation{
		{Region: NewRegion([]uint64{0}, []uint64{100}), Path: "/data/1/s0000.bin", Offset: 0},
		{Region: NewRegion([]uint64{0, 4, 8}, []uint64{1, 2, 3}), Path: "with\x00zero\x00bytes", Offset: 1 << 33},
		{Region: NewRegion([]uint64{5, 5}, []uint64{5, 5}), Path: "", Offset: 7},
	}
	ret, err := UnmarshalLocations(MarshalLocations(locs))
	require.NoError(t, err)
	require.Equal(t, locs, ret)

	ret, err = UnmarshalLocations(MarshalLocations(nil))
	require.NoError(t, err)
	require.Equal(t, 0, len(ret))
}

func TestUnmarshalInvalid(t *testing.T) {
	_, err := UnmarshalLocations([]byte{0xff})
	require.Equal(t, apierrors.ErrInvalidWireData, err)

	// count does not match the entries
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 3)
	_, err = UnmarshalLocations(b)
	require.Equal(t, apierrors.ErrInvalidWireData, err)

	// region with more starts than ndim
	e := encoder{}
	e.uint64(1, 1)
	e.uint64s(2, []uint64{1, 2})
	e.uint64s(3, []uint64{1})
	var r Region
	require.Equal(t, apierrors.ErrInvalidWireData, r.Unmarshal(e.buf))
}

func TestMessageUnknownFieldSkipped(t *testing.T) {
	req := &DataIORequest{
		ClientID: 3,
		NClient:  2,
		Access:   AccessWrite,
		Meta:     Metadata{UserID: -1, ObjName: "obj", TimeStep: -1, ObjID: 1000001, Ndim: 2, Dims: [DimMax]uint64{4, 4}},
		Region:   NewRegion([]uint64{0, 0}, []uint64{4, 4}),
		ShmName:  "/1000001_0_3_to_3_42",
	}
	b, err := req.Marshal()
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future field")

	var ret DataIORequest
	require.NoError(t, ret.Unmarshal(b))
	require.Equal(t, *req, ret)
}

func TestCodec(t *testing.T) {
	c := Codec{}
	require.Equal(t, CodecName, c.Name())

	b, err := c.Marshal(&GetMetadataByIDResponse{Found: true, Meta: Metadata{ObjID: 5, Tags: "a=1"}})
	require.NoError(t, err)
	var resp GetMetadataByIDResponse
	require.NoError(t, c.Unmarshal(b, &resp))
	require.True(t, resp.Found)
	require.Equal(t, uint64(5), resp.Meta.ObjID)

	req := &GetStorageInfoRequest{ObjID: 9, Region: NewRegion([]uint64{1, 2}, []uint64{3, 4}), Legacy: true}
	b, err = c.Marshal(req)
	require.NoError(t, err)
	var got GetStorageInfoRequest
	require.NoError(t, c.Unmarshal(b, &got))
	require.Equal(t, *req, got)

	_, err = c.Marshal("not a message")
	require.Error(t, err)
}
