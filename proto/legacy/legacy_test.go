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

package legacy

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
)

func testLocations() []proto.StorageLocation {
	return []proto.StorageLocation{
		{Region: proto.NewRegion([]uint64{0, 4}, []uint64{10, 14}), Path: "/data/1000000/shard0/s0000.bin", Offset: 0},
		{Region: proto.NewRegion([]uint64{10, 14}, []uint64{100, 104}), Path: "/data/1000000/shard0/s0000.bin", Offset: 140},
		{Region: proto.NewRegion([]uint64{20, 21}, []uint64{23, 24}), Path: "/data/1000000/shard1/s0001.bin", Offset: 1 << 40},
		{Region: proto.NewRegion([]uint64{110, 111}, []uint64{70, 71}), Path: "x", Offset: 256},
	}
}

func TestEncodeDecode(t *testing.T) {
	locs := testLocations()
	buf, err := Encode(locs)
	require.NoError(t, err)
	require.Equal(t, -1, bytes.IndexByte(buf, 0))

	ret, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, locs, ret)
}

func TestEncodeDecodeZeroBytesInPath(t *testing.T) {
	locs := []proto.StorageLocation{
		{Region: proto.NewRegion([]uint64{0}, []uint64{100}), Path: "a\x00b\x00\x00c", Offset: 0},
		{Region: proto.NewRegion([]uint64{100}, []uint64{1}), Path: "\x00", Offset: 100},
	}
	buf, err := Encode(locs)
	require.NoError(t, err)
	require.Equal(t, -1, bytes.IndexByte(buf, 0))

	ret, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, locs, ret)
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(nil)
	require.Equal(t, apierrors.ErrInvalidWireData, err)

	_, err = Encode([]proto.StorageLocation{{Region: proto.NewRegion([]uint64{0}, []uint64{1})}})
	require.Equal(t, apierrors.ErrEmptyLocation, err)

	_, err = Encode([]proto.StorageLocation{{Region: proto.NewRegion([]uint64{0, 0, 0, 0}, []uint64{1, 1, 1, 1}), Path: "p"}})
	require.Equal(t, apierrors.ErrInvalidDimension, err)

	mixed := []proto.StorageLocation{
		{Region: proto.NewRegion([]uint64{0}, []uint64{1}), Path: "p"},
		{Region: proto.NewRegion([]uint64{0, 0}, []uint64{1, 1}), Path: "p"},
	}
	_, err = Encode(mixed)
	require.Equal(t, apierrors.ErrInvalidDimension, err)

	// every byte value used, no fill value left
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	_, err = Encode([]proto.StorageLocation{{Region: proto.NewRegion([]uint64{0}, []uint64{1}), Path: string(all)}})
	require.Equal(t, apierrors.ErrNoFillValue, err)
}

func TestDecodeDelimiterMismatch(t *testing.T) {
	locs := testLocations()[:1]
	buf, err := Encode(locs)
	require.NoError(t, err)

	// header 8 + 2 dims * 16 + loc_len 4 + path
	delimAt := 8 + 32 + 4 + len(locs[0].Path)
	require.Equal(t, Delim, buf[delimAt])
	buf[delimAt] = 'z'
	_, err = Decode(buf)
	require.Equal(t, apierrors.ErrDelimiterMismatch, err)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Equal(t, apierrors.ErrInvalidWireData, err)

	buf, err := Encode(testLocations())
	require.NoError(t, err)
	// header kept, first region cut short
	truncated := append(append([]byte{}, buf[:20]...), buf[len(buf)-1])
	_, err = Decode(truncated)
	require.Equal(t, apierrors.ErrInvalidWireData, err)

	// a region count the buffer cannot hold is rejected before allocating
	build := func(n uint32) []byte {
		raw := make([]byte, 8+16+4+1+1+8+1)
		le := binary.LittleEndian
		le.PutUint32(raw[0:], n)
		le.PutUint32(raw[4:], 1)
		le.PutUint64(raw[16:], 4)
		le.PutUint32(raw[24:], 1)
		raw[28] = 'a'
		raw[29] = Delim
		require.NoError(t, replaceZeros(raw))
		return raw
	}
	for _, n := range []uint32{math.MaxUint32, 2} {
		_, err = Decode(build(n))
		require.Equal(t, apierrors.ErrInvalidWireData, err)
	}
	locs, err := Decode(build(1))
	require.NoError(t, err)
	require.Equal(t, []proto.StorageLocation{{Region: proto.NewRegion([]uint64{0}, []uint64{4}), Path: "a"}}, locs)
}
