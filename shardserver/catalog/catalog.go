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
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/util/btree"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/metrics"
	"github.com/cubefs/objmeta/proto"
)

const (
	defaultBloomThreshold = 64
	defaultBloomCapacity  = 500000
	defaultBloomFPRate    = 0.05

	btreeDegree = 32
)

type Config struct {
	Rank           uint32  `json:"rank"`
	BloomThreshold int     `json:"bloom_threshold"`
	BloomCapacity  uint    `json:"bloom_capacity"`
	BloomFPRate    float64 `json:"bloom_fp_rate"`
}

// Bucket is a detached copy of one bucket
type Bucket struct {
	HashKey uint32
	Records []proto.Metadata
}

// Catalog is the in-memory metadata table of one shard. Buckets are ordered by
// hash key, records of one bucket keep insertion order.
type Catalog struct {
	cfg Config

	// guards everything below
	lock    sync.RWMutex
	buckets *btree.BTree
	count   int64
	cursor  uint64
}

func NewCatalog(cfg *Config) *Catalog {
	initConfig(cfg)
	return &Catalog{
		cfg:     *cfg,
		buckets: btree.New(btreeDegree),
		cursor:  proto.FirstObjID(cfg.Rank),
	}
}

func initConfig(cfg *Config) {
	if cfg.BloomThreshold <= 0 {
		cfg.BloomThreshold = defaultBloomThreshold
	}
	if cfg.BloomCapacity == 0 {
		cfg.BloomCapacity = defaultBloomCapacity
	}
	if cfg.BloomFPRate <= 0 || cfg.BloomFPRate >= 1 {
		cfg.BloomFPRate = defaultBloomFPRate
	}
}

// Insert adds the candidate under hashKey and returns its new object id.
// A candidate identical to a live record is rejected with ErrObjectExist.
func (c *Catalog) Insert(ctx context.Context, hashKey uint32, candidate *proto.Metadata) (uint64, error) {
	c.mustInit(ctx)
	m := *candidate
	if err := m.CheckWidths(); err != nil {
		return 0, err
	}
	now := time.Now().Unix()

	c.lock.Lock()
	defer c.lock.Unlock()

	b := c.getBucket(hashKey)
	if b != nil && b.find(&m) >= 0 {
		return 0, apierrors.ErrObjectExist
	}
	if b == nil {
		b = &bucket{hashKey: hashKey}
		c.buckets.ReplaceOrInsert(b)
	}

	m.ObjID = c.cursor
	c.cursor++
	m.CreateTime = now
	m.LastModifiedTime = now
	b.append(&m, &c.cfg)
	c.count++
	metrics.LiveObjects.Set(float64(c.count))
	return m.ObjID, nil
}

// DeleteByID removes the record with objID, every bucket is scanned
func (c *Catalog) DeleteByID(ctx context.Context, objID uint64) (proto.Metadata, error) {
	c.mustInit(ctx)
	span := trace.SpanFromContextSafe(ctx)

	c.lock.Lock()
	defer c.lock.Unlock()

	var (
		found *bucket
		idx   = -1
	)
	c.buckets.Ascend(func(i btree.Item) bool {
		b := i.(*bucket)
		if idx = b.indexOf(objID); idx >= 0 {
			found = b
			return false
		}
		return true
	})
	if found == nil {
		return proto.Metadata{}, apierrors.ErrObjectNotExist
	}

	ret := *found.records[idx]
	if hashKey := proto.HashName(ret.ObjName); hashKey != found.hashKey {
		span.Warnf("object %d lives in bucket %d but its name hashes to %d", objID, found.hashKey, hashKey)
	}
	c.removeLocked(found, idx)
	return ret, nil
}

// DeleteByKey removes the record under hashKey matching the identity of m
func (c *Catalog) DeleteByKey(ctx context.Context, hashKey uint32, m *proto.Metadata) (proto.Metadata, error) {
	c.mustInit(ctx)

	c.lock.Lock()
	defer c.lock.Unlock()

	b := c.getBucket(hashKey)
	if b == nil {
		return proto.Metadata{}, apierrors.ErrObjectNotExist
	}
	idx := b.find(m)
	if idx < 0 {
		return proto.Metadata{}, apierrors.ErrObjectNotExist
	}
	ret := *b.records[idx]
	c.removeLocked(b, idx)
	return ret, nil
}

// Update applies the set fields of patch to the record
func (c *Catalog) Update(ctx context.Context, objID uint64, hashKey uint32, patch *proto.Patch) error {
	c.mustInit(ctx)

	c.lock.Lock()
	defer c.lock.Unlock()

	b, m := c.lookupLocked(hashKey, objID)
	if m == nil {
		return apierrors.ErrObjectNotExist
	}

	next := *m
	if patch.TimeStep != -1 {
		next.TimeStep = patch.TimeStep
	}
	if isSet(patch.AppName) {
		next.AppName = patch.AppName
	}
	if isSet(patch.DataLocation) {
		next.DataLocation = patch.DataLocation
	}
	if isSet(patch.Tags) {
		next.Tags = appendTag(m.Tags, patch.Tags)
	}
	if err := next.CheckWidths(); err != nil {
		return err
	}

	rebuild := next.TimeStep != m.TimeStep && b.filter != nil
	next.LastModifiedTime = time.Now().Unix()
	*m = next
	if rebuild {
		b.rebuildFilter(&c.cfg)
	}
	return nil
}

func (c *Catalog) AddTag(ctx context.Context, objID uint64, hashKey uint32, tag string) error {
	c.mustInit(ctx)

	c.lock.Lock()
	defer c.lock.Unlock()

	_, m := c.lookupLocked(hashKey, objID)
	if m == nil {
		return apierrors.ErrObjectNotExist
	}
	if isSet(tag) {
		tags := appendTag(m.Tags, tag)
		if len(tags) > proto.TagLenMax {
			return apierrors.ErrFieldTooLong
		}
		m.Tags = tags
		m.LastModifiedTime = time.Now().Unix()
	}
	return nil
}

// Query returns copies of all records matching pred
func (c *Catalog) Query(ctx context.Context, pred *proto.Predicate) []proto.Metadata {
	c.mustInit(ctx)
	q := newMatcher(pred)

	c.lock.RLock()
	defer c.lock.RUnlock()

	var ret []proto.Metadata
	c.buckets.Ascend(func(i btree.Item) bool {
		for _, m := range i.(*bucket).records {
			if q.match(m) {
				ret = append(ret, *m)
			}
		}
		return true
	})
	return ret
}

func (c *Catalog) GetByID(ctx context.Context, objID uint64) (proto.Metadata, bool) {
	c.mustInit(ctx)

	c.lock.RLock()
	defer c.lock.RUnlock()

	var (
		ret   proto.Metadata
		found bool
	)
	c.buckets.Ascend(func(i btree.Item) bool {
		b := i.(*bucket)
		if idx := b.indexOf(objID); idx >= 0 {
			ret, found = *b.records[idx], true
			return false
		}
		return true
	})
	return ret, found
}

// Exist reports whether objID is a live record
func (c *Catalog) Exist(ctx context.Context, objID uint64) bool {
	_, ok := c.GetByID(ctx, objID)
	return ok
}

func (c *Catalog) Len() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.count
}

// Snapshot copies all buckets in hash key order
func (c *Catalog) Snapshot(ctx context.Context) []Bucket {
	c.mustInit(ctx)

	c.lock.RLock()
	defer c.lock.RUnlock()

	ret := make([]Bucket, 0, c.buckets.Len())
	c.buckets.Ascend(func(i btree.Item) bool {
		b := i.(*bucket)
		records := make([]proto.Metadata, len(b.records))
		for j := range b.records {
			records[j] = *b.records[j]
		}
		ret = append(ret, Bucket{HashKey: b.hashKey, Records: records})
		return true
	})
	return ret
}

// Restore replaces the whole table with buckets. Records keep their object
// ids and go through the same append path as live inserts, the id cursor
// moves past the largest restored id of this shard.
func (c *Catalog) Restore(ctx context.Context, buckets []Bucket) {
	c.mustInit(ctx)

	c.lock.Lock()
	defer c.lock.Unlock()

	c.buckets = btree.New(btreeDegree)
	c.count = 0
	first := proto.FirstObjID(c.cfg.Rank)
	c.cursor = first
	for i := range buckets {
		b := c.getBucket(buckets[i].HashKey)
		if b == nil {
			b = &bucket{hashKey: buckets[i].HashKey}
			c.buckets.ReplaceOrInsert(b)
		}
		for j := range buckets[i].Records {
			m := buckets[i].Records[j]
			b.append(&m, &c.cfg)
			c.count++
			if m.ObjID >= c.cursor && m.ObjID < first+proto.ShardIDInterval {
				c.cursor = m.ObjID + 1
			}
		}
	}
	metrics.LiveObjects.Set(float64(c.count))
}

func (c *Catalog) getBucket(hashKey uint32) *bucket {
	i := c.buckets.Get(&bucket{hashKey: hashKey})
	if i == nil {
		return nil
	}
	return i.(*bucket)
}

func (c *Catalog) lookupLocked(hashKey uint32, objID uint64) (*bucket, *proto.Metadata) {
	b := c.getBucket(hashKey)
	if b == nil {
		return nil, nil
	}
	idx := b.indexOf(objID)
	if idx < 0 {
		return nil, nil
	}
	return b, b.records[idx]
}

func (c *Catalog) removeLocked(b *bucket, idx int) {
	if len(b.records) > 1 {
		b.remove(idx, &c.cfg)
	} else {
		c.buckets.Delete(b)
	}
	c.count--
	metrics.LiveObjects.Set(float64(c.count))
}

func (c *Catalog) mustInit(ctx context.Context) {
	if c == nil || c.buckets == nil {
		trace.SpanFromContextSafe(ctx).Fatalf("%s", apierrors.ErrCatalogNotInit)
	}
}
