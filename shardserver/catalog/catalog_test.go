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

package catalog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
)

func newMeta(app, name string, ts, user int32) *proto.Metadata {
	return &proto.Metadata{UserID: user, AppName: app, ObjName: name, TimeStep: ts, Ndim: 1, Dims: [proto.DimMax]uint64{100}}
}

func TestCatalogInsert(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(&Config{Rank: 1})

	m := newMeta("app", "obj1", 1, 7)
	id, err := c.Insert(ctx, proto.HashName(m.ObjName), m)
	require.NoError(t, err)
	require.Equal(t, proto.FirstObjID(1), id)
	require.Equal(t, int64(1), c.Len())

	_, err = c.Insert(ctx, proto.HashName(m.ObjName), m)
	require.Equal(t, apierrors.ErrObjectExist, err)
	require.Equal(t, int64(1), c.Len())

	id2, err := c.Insert(ctx, proto.HashName(m.ObjName), newMeta("app", "obj1", 2, 7))
	require.NoError(t, err)
	require.Equal(t, id+1, id2)
	require.Equal(t, uint32(1), proto.Owner(id2, 4))

	ret, ok := c.GetByID(ctx, id)
	require.True(t, ok)
	require.Equal(t, "obj1", ret.ObjName)
	require.NotZero(t, ret.CreateTime)
	require.Equal(t, uint64(0), m.ObjID)
}

func TestCatalogWildcardIdentity(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(&Config{})
	key := proto.HashName("obj")

	_, err := c.Insert(ctx, key, newMeta("app", "obj", 3, 7))
	require.NoError(t, err)

	// unset user id and negative time step match anything
	_, err = c.Insert(ctx, key, newMeta("app", "obj", -1, 0))
	require.Equal(t, apierrors.ErrObjectExist, err)
	_, err = c.Insert(ctx, key, newMeta("", "obj", 3, 7))
	require.Equal(t, apierrors.ErrObjectExist, err)

	_, err = c.Insert(ctx, key, newMeta("app", "obj", 3, 8))
	require.NoError(t, err)
	_, err = c.Insert(ctx, key, newMeta("other", "obj", 3, 7))
	require.NoError(t, err)
}

func TestCatalogFilter(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(&Config{BloomThreshold: 4, BloomCapacity: 1000})
	key := uint32(42)

	for i := 0; i < 10; i++ {
		_, err := c.Insert(ctx, key, newMeta("app", fmt.Sprintf("obj%d", i), 0, 1))
		require.NoError(t, err)
	}
	b := c.getBucket(key)
	require.NotNil(t, b.filter)
	for i := 0; i < 10; i++ {
		require.True(t, b.filter.Test(filterKey(newMeta("", fmt.Sprintf("obj%d", i), 0, 0))))
	}

	_, err := c.Insert(ctx, key, newMeta("app", "obj3", 0, 1))
	require.Equal(t, apierrors.ErrObjectExist, err)

	// records without user id or app name skip the filter and scan
	require.False(t, b.useFilter(newMeta("", "obj3", 0, 1)))
	require.False(t, b.useFilter(newMeta("app", "obj3", 0, 0)))
	_, err = c.Insert(ctx, key, newMeta("", "obj3", 0, 0))
	require.Equal(t, apierrors.ErrObjectExist, err)

	// deleted keys leave the filter
	_, err = c.DeleteByKey(ctx, key, newMeta("", "obj3", 0, 0))
	require.NoError(t, err)
	require.False(t, b.filter.Test(filterKey(newMeta("", "obj3", 0, 0))))
	_, err = c.Insert(ctx, key, newMeta("app", "obj3", 0, 1))
	require.NoError(t, err)
	require.Equal(t, int64(10), c.Len())
}

func TestCatalogDelete(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(&Config{})

	m1 := newMeta("app", "obj1", 1, 7)
	id1, err := c.Insert(ctx, proto.HashName(m1.ObjName), m1)
	require.NoError(t, err)
	id2, err := c.Insert(ctx, proto.HashName(m1.ObjName), newMeta("app", "obj1", 2, 7))
	require.NoError(t, err)
	m3 := newMeta("app", "obj3", 1, 7)
	id3, err := c.Insert(ctx, proto.HashName(m3.ObjName), m3)
	require.NoError(t, err)

	ret, err := c.DeleteByID(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, id1, ret.ObjID)
	_, err = c.DeleteByID(ctx, id1)
	require.Equal(t, apierrors.ErrObjectNotExist, err)
	require.NotNil(t, c.getBucket(proto.HashName("obj1")))

	_, err = c.DeleteByID(ctx, id2)
	require.NoError(t, err)
	require.Nil(t, c.getBucket(proto.HashName("obj1")))

	_, err = c.DeleteByKey(ctx, proto.HashName("obj3"), &proto.Metadata{ObjName: "obj3", TimeStep: 2})
	require.Equal(t, apierrors.ErrObjectNotExist, err)
	ret, err = c.DeleteByKey(ctx, proto.HashName("obj3"), &proto.Metadata{ObjName: "obj3", TimeStep: 1})
	require.NoError(t, err)
	require.Equal(t, id3, ret.ObjID)
	require.Equal(t, int64(0), c.Len())

	_, err = c.DeleteByKey(ctx, proto.HashName("obj3"), m3)
	require.Equal(t, apierrors.ErrObjectNotExist, err)
}

func TestCatalogDeleteByIDForeignBucket(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(&Config{})

	// client supplied key unrelated to the name, the bucket's own key is removed
	id, err := c.Insert(ctx, 12345, newMeta("app", "obj", 1, 1))
	require.NoError(t, err)
	_, err = c.Insert(ctx, proto.HashName("obj"), newMeta("app", "obj", 2, 1))
	require.NoError(t, err)

	_, err = c.DeleteByID(ctx, id)
	require.NoError(t, err)
	require.Nil(t, c.getBucket(12345))
	require.NotNil(t, c.getBucket(proto.HashName("obj")))
}

func TestCatalogUpdate(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(&Config{})
	key := proto.HashName("obj")
	id, err := c.Insert(ctx, key, newMeta("app", "obj", 1, 1))
	require.NoError(t, err)

	require.Equal(t, apierrors.ErrObjectNotExist, c.Update(ctx, id, key+1, &proto.Patch{TimeStep: -1}))
	require.Equal(t, apierrors.ErrObjectNotExist, c.Update(ctx, id+1, key, &proto.Patch{TimeStep: -1}))

	require.NoError(t, c.Update(ctx, id, key, &proto.Patch{
		TimeStep:     -1,
		AppName:      proto.NoChange,
		DataLocation: "/lustre/obj",
		Tags:         "a=1",
	}))
	m, _ := c.GetByID(ctx, id)
	require.Equal(t, int32(1), m.TimeStep)
	require.Equal(t, "app", m.AppName)
	require.Equal(t, "/lustre/obj", m.DataLocation)
	require.Equal(t, "a=1", m.Tags)

	require.NoError(t, c.Update(ctx, id, key, &proto.Patch{TimeStep: 5, Tags: "b=2"}))
	require.NoError(t, c.AddTag(ctx, id, key, "c"))
	require.Equal(t, apierrors.ErrObjectNotExist, c.AddTag(ctx, id+1, key, "c"))
	m, _ = c.GetByID(ctx, id)
	require.Equal(t, int32(5), m.TimeStep)
	require.Equal(t, "a=1,b=2,c", m.Tags)
}

func TestCatalogFieldWidths(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(&Config{})
	long := strings.Repeat("x", proto.AddrMax+1)

	for _, m := range []*proto.Metadata{
		newMeta(long, "obj", 1, 1),
		newMeta("app", long, 1, 1),
		{ObjName: "obj", DataLocation: long},
		{ObjName: "obj", Tags: strings.Repeat("t", proto.TagLenMax+1)},
	} {
		_, err := c.Insert(ctx, proto.HashName(m.ObjName), m)
		require.Equal(t, apierrors.ErrFieldTooLong, err)
	}
	require.Equal(t, int64(0), c.Len())

	key := proto.HashName("obj")
	id, err := c.Insert(ctx, key, newMeta("app", "obj", 1, 1))
	require.NoError(t, err)

	// tags grow until the next one would not fit
	tag := "key=value1"
	n := 0
	for ; ; n++ {
		if err = c.AddTag(ctx, id, key, tag); err != nil {
			break
		}
	}
	require.Equal(t, apierrors.ErrFieldTooLong, err)
	m, _ := c.GetByID(ctx, id)
	require.LessOrEqual(t, len(m.Tags), proto.TagLenMax)
	require.Equal(t, n*(len(tag)+1)-1, len(m.Tags))

	// a rejected update changes nothing
	require.Equal(t, apierrors.ErrFieldTooLong, c.Update(ctx, id, key, &proto.Patch{TimeStep: 9, AppName: "other", Tags: tag}))
	require.Equal(t, apierrors.ErrFieldTooLong, c.Update(ctx, id, key, &proto.Patch{TimeStep: 9, DataLocation: long}))
	after, _ := c.GetByID(ctx, id)
	require.Equal(t, m, after)
}

func TestCatalogQuery(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(&Config{})

	for i := int32(1); i <= 6; i++ {
		m := newMeta("app", fmt.Sprintf("obj%d", i%3), i, i%2+1)
		m.Ndim = i%2 + 1
		m.Tags = fmt.Sprintf("run=%d,kind=k%d", i*10, i%3)
		_, err := c.Insert(ctx, proto.HashName(m.ObjName), m)
		require.NoError(t, err)
	}
	_, err := c.Insert(ctx, proto.HashName("x"), newMeta("other", "x", 1, 9))
	require.NoError(t, err)

	all := &proto.Predicate{AppName: proto.NoChange, ObjName: proto.NoChange, Tags: proto.NoChange}
	require.Equal(t, 7, len(c.Query(ctx, all)))
	require.Equal(t, 7, len(c.Query(ctx, &proto.Predicate{ListAll: true, UserID: 100})))

	cases := []struct {
		pred proto.Predicate
		n    int
	}{
		{proto.Predicate{UserID: 2, AppName: " ", ObjName: " ", Tags: " "}, 3},
		{proto.Predicate{AppName: "other", ObjName: " ", Tags: " "}, 1},
		{proto.Predicate{AppName: " ", ObjName: "obj1", Tags: " "}, 2},
		{proto.Predicate{AppName: " ", ObjName: " ", TimeStepFrom: 2, TimeStepTo: 4, Tags: " "}, 3},
		{proto.Predicate{AppName: " ", ObjName: " ", TimeStepFrom: 0, TimeStepTo: 4, Tags: " "}, 7},
		{proto.Predicate{AppName: " ", ObjName: " ", Ndim: 2, Tags: " "}, 3},
		{proto.Predicate{AppName: " ", ObjName: " ", Tags: "kind:k0"}, 2},
		{proto.Predicate{AppName: " ", ObjName: " ", Tags: "kind:"}, 6},
		{proto.Predicate{AppName: " ", ObjName: " ", Tags: "run~20-40"}, 3},
		{proto.Predicate{AppName: " ", ObjName: " ", Tags: "run~100-200"}, 0},
		{proto.Predicate{AppName: " ", ObjName: " ", Tags: "=6"}, 1},
		{proto.Predicate{AppName: " ", ObjName: " ", Tags: "nothing"}, 0},
	}
	for i := range cases {
		require.Equal(t, cases[i].n, len(c.Query(ctx, &cases[i].pred)), "case %d", i)
	}
}

func TestCatalogSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(&Config{Rank: 2, BloomThreshold: 2})

	var ids []uint64
	for i := 0; i < 5; i++ {
		id, err := c.Insert(ctx, uint32(i%2), newMeta("app", fmt.Sprintf("obj%d", i), 1, 1))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	snap := c.Snapshot(ctx)
	require.Equal(t, 2, len(snap))
	require.Equal(t, uint32(0), snap[0].HashKey)
	require.Equal(t, 3, len(snap[0].Records))

	r := NewCatalog(&Config{Rank: 2, BloomThreshold: 2})
	r.Restore(ctx, snap)
	require.Equal(t, c.Len(), r.Len())
	require.Equal(t, snap, r.Snapshot(ctx))
	require.NotNil(t, r.getBucket(0).filter)

	_, err := r.Insert(ctx, 0, newMeta("app", "obj0", 1, 1))
	require.Equal(t, apierrors.ErrObjectExist, err)
	id, err := r.Insert(ctx, 0, newMeta("app", "obj9", 1, 1))
	require.NoError(t, err)
	require.Equal(t, ids[len(ids)-1]+1, id)
}
