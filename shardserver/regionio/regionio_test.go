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

package regionio

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cubefs/cubefs/blobstore/util/taskpool"
	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/geometry"
	"github.com/cubefs/objmeta/proto"
	"github.com/cubefs/objmeta/shardserver/store"
	"github.com/cubefs/objmeta/util"
)

type memLocator struct {
	sync.Mutex
	locs map[uint64][]proto.StorageLocation
}

func (m *memLocator) GetStorageInfo(ctx context.Context, objID uint64, region proto.Region) ([]proto.StorageLocation, error) {
	m.Lock()
	defer m.Unlock()
	var ret []proto.StorageLocation
	for _, loc := range m.locs[objID] {
		if geometry.Overlaps(loc.Region, region) {
			ret = append(ret, loc)
		}
	}
	if len(ret) == 0 {
		return nil, apierrors.ErrNoOverlapRegion
	}
	return ret, nil
}

func (m *memLocator) UpdateRegionLocation(ctx context.Context, objID uint64, loc proto.StorageLocation) error {
	m.Lock()
	defer m.Unlock()
	m.locs[objID] = append(m.locs[objID], loc)
	return nil
}

type countNotifier struct {
	sync.Mutex
	states map[uint32]int32
}

func (n *countNotifier) Notify(ctx context.Context, clientID uint32, objID uint64, access proto.AccessType, state int32) error {
	n.Lock()
	defer n.Unlock()
	n.states[clientID] = state
	return nil
}

func newTestEngine(t *testing.T, unit uint64) (*Engine, *memLocator, *countNotifier, func()) {
	dir, err := util.GenTmpPath()
	require.NoError(t, err)
	st, err := store.NewStore(context.Background(), &store.Config{DataDir: dir + "/data", ShmDir: dir + "/shm"})
	require.NoError(t, err)

	locator := &memLocator{locs: make(map[uint64][]proto.StorageLocation)}
	notifier := &countNotifier{states: make(map[uint32]int32)}
	e := NewEngine(&Config{Rank: 0, UnitSize: unit}, st.DataFS(), st.ShmStore(), locator, notifier, taskpool.New(2, 2))
	return e, locator, notifier, func() {
		e.Close()
		os.RemoveAll(dir)
	}
}

func seq(n int, base byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = base + byte(i)
	}
	return b
}

func TestEngineWriteRead1D(t *testing.T) {
	ctx := context.Background()
	e, _, _, clean := newTestEngine(t, 1)
	defer clean()

	data := seq(100, 0)
	loc, err := e.WriteAppend(ctx, 1000000, proto.NewRegion([]uint64{0}, []uint64{100}), data)
	require.NoError(t, err)
	require.Equal(t, uint64(0), loc.Offset)
	require.Equal(t, e.fs.Path("1000000/shard0/s0000.bin"), loc.Path)

	buf := make([]byte, 20)
	require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{10}, []uint64{20}), buf, []proto.StorageLocation{loc}))
	require.Equal(t, data[10:30], buf)

	// second append lands after the first
	loc2, err := e.WriteAppend(ctx, 1000000, proto.NewRegion([]uint64{100}, []uint64{50}), seq(50, 100))
	require.NoError(t, err)
	require.Equal(t, uint64(100), loc2.Offset)

	// spans both stored regions
	buf = make([]byte, 20)
	require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{90}, []uint64{20}), buf, []proto.StorageLocation{loc, loc2}))
	require.Equal(t, seq(20, 90), buf)

	// stored regions outside the request are skipped
	buf = make([]byte, 10)
	require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{0}, []uint64{10}), buf, []proto.StorageLocation{loc, loc2}))
	require.Equal(t, data[:10], buf)
}

func TestEngineReadOverlappingRewrite(t *testing.T) {
	ctx := context.Background()
	e, _, _, clean := newTestEngine(t, 1)
	defer clean()

	first, err := e.WriteAppend(ctx, 7, proto.NewRegion([]uint64{0}, []uint64{100}), bytes.Repeat([]byte{0xAA}, 100))
	require.NoError(t, err)
	second, err := e.WriteAppend(ctx, 7, proto.NewRegion([]uint64{50}, []uint64{100}), bytes.Repeat([]byte{0xBB}, 100))
	require.NoError(t, err)
	third, err := e.WriteAppend(ctx, 7, proto.NewRegion([]uint64{150}, []uint64{50}), bytes.Repeat([]byte{0xCC}, 50))
	require.NoError(t, err)

	expected := append(bytes.Repeat([]byte{0xAA}, 50), bytes.Repeat([]byte{0xBB}, 100)...)
	expected = append(expected, bytes.Repeat([]byte{0xCC}, 50)...)
	for i := 0; i < 50; i++ {
		buf := make([]byte, 200)
		require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{0}, []uint64{200}), buf, []proto.StorageLocation{first, second, third}))
		require.Equal(t, expected, buf)
	}

	// list order decides, not file offset
	buf := make([]byte, 100)
	require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{50}, []uint64{100}), buf, []proto.StorageLocation{second, first}))
	require.Equal(t, append(bytes.Repeat([]byte{0xAA}, 50), bytes.Repeat([]byte{0xBB}, 50)...), buf)
}

func TestBatchPieces(t *testing.T) {
	p := func(start, count uint64) piece {
		return piece{overlap: proto.NewRegion([]uint64{start}, []uint64{count})}
	}
	require.Nil(t, batchPieces(nil))

	pieces := []piece{p(0, 10), p(10, 10), p(5, 10), p(30, 10), p(0, 40)}
	batches := batchPieces(pieces)
	require.Equal(t, [][]piece{pieces[:2], pieces[2:4], pieces[4:]}, batches)
}

func TestEngineRead2D(t *testing.T) {
	ctx := context.Background()
	e, _, _, clean := newTestEngine(t, 2)
	defer clean()

	// 4x3 elements of 2 bytes
	stored := proto.NewRegion([]uint64{0, 0}, []uint64{4, 3})
	data := seq(24, 0)
	loc, err := e.WriteAppend(ctx, 1000000, stored, data)
	require.NoError(t, err)

	elem := func(x, y uint64) []byte {
		i := (x + 4*y) * 2
		return data[i : i+2]
	}

	buf := make([]byte, 8)
	require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{1, 1}, []uint64{2, 2}), buf, []proto.StorageLocation{loc}))
	var expected []byte
	for y := uint64(1); y <= 2; y++ {
		for x := uint64(1); x <= 2; x++ {
			expected = append(expected, elem(x, y)...)
		}
	}
	require.Equal(t, expected, buf)

	// request larger than the stored region, only the overlap is filled
	buf = make([]byte, 32)
	require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{2, 2}, []uint64{4, 4}), buf, []proto.StorageLocation{loc}))
	require.Equal(t, elem(2, 2), buf[0:2])
	require.Equal(t, elem(3, 2), buf[2:4])
	require.Equal(t, make([]byte, 28), buf[4:])

	// full rows are one contiguous run
	buf = make([]byte, 16)
	require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{0, 1}, []uint64{4, 2}), buf, []proto.StorageLocation{loc}))
	require.Equal(t, data[8:24], buf)
}

func TestEngineRead3D(t *testing.T) {
	ctx := context.Background()
	e, _, _, clean := newTestEngine(t, 1)
	defer clean()

	stored := proto.NewRegion([]uint64{0, 0, 0}, []uint64{2, 2, 2})
	loc, err := e.WriteAppend(ctx, 1000000, stored, seq(8, 0))
	require.NoError(t, err)

	buf := make([]byte, 2)
	require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{1, 0, 1}, []uint64{1, 2, 1}), buf, []proto.StorageLocation{loc}))
	require.Equal(t, []byte{5, 7}, buf)

	buf = make([]byte, 4)
	require.NoError(t, e.Read(ctx, proto.NewRegion([]uint64{0, 1, 0}, []uint64{2, 1, 2}), buf, []proto.StorageLocation{loc}))
	require.Equal(t, []byte{2, 3, 6, 7}, buf)
}

func TestEngineReadErrors(t *testing.T) {
	ctx := context.Background()
	e, _, _, clean := newTestEngine(t, 1)
	defer clean()

	loc, err := e.WriteAppend(ctx, 1000000, proto.NewRegion([]uint64{0}, []uint64{10}), seq(10, 0))
	require.NoError(t, err)

	req4 := proto.NewRegion([]uint64{0, 0, 0, 0}, []uint64{1, 1, 1, 1})
	require.Equal(t, apierrors.ErrUnsupportedDimension, e.Read(ctx, req4, make([]byte, 1), nil))
	require.Equal(t, apierrors.ErrBufferTooSmall, e.Read(ctx, proto.NewRegion([]uint64{0}, []uint64{10}), make([]byte, 5), nil))
	require.Equal(t, apierrors.ErrInvalidDimension,
		e.Read(ctx, proto.NewRegion([]uint64{0, 0}, []uint64{1, 1}), make([]byte, 1), []proto.StorageLocation{loc}))

	// the stored region claims more than the file holds
	short := loc
	short.Region = proto.NewRegion([]uint64{0}, []uint64{20})
	require.ErrorIs(t, e.Read(ctx, proto.NewRegion([]uint64{5}, []uint64{10}), make([]byte, 10), []proto.StorageLocation{short}),
		apierrors.ErrShortRead)

	missing := loc
	missing.Path = e.fs.Path("1000000/shard9/s0009.bin")
	require.Error(t, e.Read(ctx, proto.NewRegion([]uint64{0}, []uint64{10}), make([]byte, 10), []proto.StorageLocation{missing}))

	_, err = e.WriteAppend(ctx, 1000000, proto.NewRegion([]uint64{0}, []uint64{10}), make([]byte, 5))
	require.Equal(t, apierrors.ErrBufferTooSmall, err)
}

func TestEngineDirect(t *testing.T) {
	ctx := context.Background()
	e, locator, _, clean := newTestEngine(t, 1)
	defer clean()

	_, err := e.WriteDirect(ctx, 1000000, proto.NewRegion([]uint64{0}, []uint64{100}), seq(100, 0))
	require.NoError(t, err)
	require.Len(t, locator.locs[1000000], 1)

	buf := make([]byte, 20)
	require.NoError(t, e.ReadDirect(ctx, 1000000, proto.NewRegion([]uint64{10}, []uint64{20}), buf))
	require.Equal(t, seq(20, 10), buf)

	require.Equal(t, apierrors.ErrNoOverlapRegion, e.ReadDirect(ctx, 2000000, proto.NewRegion([]uint64{0}, []uint64{1}), buf))
}

func TestEngineCollective(t *testing.T) {
	ctx := context.Background()
	e, locator, notifier, clean := newTestEngine(t, 1)
	defer clean()

	objID := uint64(1000000)
	meta := proto.Metadata{ObjID: objID, ObjName: "obj"}
	regions := []proto.Region{
		proto.NewRegion([]uint64{0}, []uint64{50}),
		proto.NewRegion([]uint64{50}, []uint64{50}),
	}

	// clients write from their own buffers
	for i, r := range regions {
		name := "/client_" + string(rune('a'+i))
		b, err := e.shm.Create(name, 50)
		require.NoError(t, err)
		copy(b.Bytes(), seq(50, byte(i*50)))
		require.NoError(t, b.Close())
		defer e.shm.Unlink(name)

		require.NoError(t, e.Submit(ctx, &proto.DataIORequest{
			ClientID: uint32(i + 1), NClient: 2, Access: proto.AccessWrite, Meta: meta, Region: r, ShmName: name,
		}))
		if i == 0 {
			require.Equal(t, StatePending, e.WriteCheck(ctx, objID, 1))
		}
	}
	for i := range regions {
		require.Eventually(t, func() bool {
			return e.WriteCheck(ctx, objID, uint32(i+1)) == StateReady
		}, 5*time.Second, 10*time.Millisecond)
	}
	// checked entries are gone
	require.Equal(t, StateFailed, e.WriteCheck(ctx, objID, 1))
	require.Len(t, locator.locs[objID], 2)

	read := proto.NewRegion([]uint64{40}, []uint64{20})
	for _, client := range []uint32{3, 4} {
		require.NoError(t, e.Submit(ctx, &proto.DataIORequest{
			ClientID: client, NClient: 2, Access: proto.AccessRead, Meta: meta, Region: read,
		}))
	}
	for _, client := range []uint32{3, 4} {
		var (
			state int32
			name  string
		)
		require.Eventually(t, func() bool {
			state, name = e.ReadCheck(ctx, objID, client)
			return state == StateReady
		}, 5*time.Second, 10*time.Millisecond)
		require.Contains(t, name, "_0_3_to_4_")

		b, err := e.shm.Open(name)
		require.NoError(t, err)
		require.Equal(t, seq(20, 40), b.Bytes())
		require.NoError(t, b.Close())
		require.NoError(t, e.shm.Unlink(name))
	}

	notifier.Lock()
	require.Equal(t, map[uint32]int32{1: StateReady, 2: StateReady, 3: StateReady, 4: StateReady}, notifier.states)
	notifier.Unlock()

	state, name := e.ReadCheck(ctx, objID, 3)
	require.Equal(t, StateFailed, state)
	require.Equal(t, proto.NoChange, name)
}

func TestEngineSubmitErrors(t *testing.T) {
	ctx := context.Background()
	e, _, notifier, clean := newTestEngine(t, 1)
	defer clean()

	r := proto.NewRegion([]uint64{0}, []uint64{10})
	require.Equal(t, apierrors.ErrInvalidAccessType, e.Submit(ctx, &proto.DataIORequest{Access: 7, Region: r}))
	require.Equal(t, apierrors.ErrTooManyClients, e.Submit(ctx, &proto.DataIORequest{NClient: proto.MaxProcPerNode + 1, Region: r}))

	req := &proto.DataIORequest{ClientID: 1, NClient: 2, Access: proto.AccessRead, Meta: proto.Metadata{ObjID: 1000000}, Region: r}
	require.NoError(t, e.Submit(ctx, req))
	require.Equal(t, apierrors.ErrTooManyClients, e.Submit(ctx, req))

	// nothing stored, the read fails and the client learns it
	req.ClientID = 2
	require.NoError(t, e.Submit(ctx, req))
	require.Eventually(t, func() bool {
		notifier.Lock()
		defer notifier.Unlock()
		return len(notifier.states) == 2
	}, 5*time.Second, 10*time.Millisecond)
	state, _ := e.ReadCheck(ctx, 1000000, 1)
	require.Equal(t, StateFailed, state)
}
