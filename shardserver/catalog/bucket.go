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
	"strconv"

	"github.com/cubefs/cubefs/util/btree"
	"github.com/willf/bloom"

	"github.com/cubefs/objmeta/proto"
)

// bucket holds all records sharing one hash key. The filter only exists
// once the bucket has grown past the configured threshold.
type bucket struct {
	hashKey uint32
	records []*proto.Metadata
	filter  *bloom.BloomFilter
}

func (b *bucket) Less(than btree.Item) bool {
	return b.hashKey < than.(*bucket).hashKey
}

func (b *bucket) Copy() btree.Item {
	return &(*b)
}

func filterKey(m *proto.Metadata) []byte {
	return []byte(m.ObjName + strconv.Itoa(int(m.TimeStep)))
}

// useFilter reports whether the membership filter may be consulted for the
// candidate. Candidates without user id or app name always take the scan path.
func (b *bucket) useFilter(m *proto.Metadata) bool {
	return b.filter != nil && m.UserID != 0 && m.AppName != ""
}

// find returns the index of the first record identical to m or -1
func (b *bucket) find(m *proto.Metadata) int {
	if b.useFilter(m) && !b.filter.Test(filterKey(m)) {
		return -1
	}
	for i, r := range b.records {
		if identical(r, m) {
			return i
		}
	}
	return -1
}

func (b *bucket) indexOf(objID uint64) int {
	for i, r := range b.records {
		if r.ObjID == objID {
			return i
		}
	}
	return -1
}

func (b *bucket) append(m *proto.Metadata, cfg *Config) {
	b.records = append(b.records, m)
	if b.filter != nil {
		b.filter.Add(filterKey(m))
		return
	}
	if len(b.records) >= cfg.BloomThreshold {
		b.rebuildFilter(cfg)
	}
}

func (b *bucket) remove(i int, cfg *Config) {
	copy(b.records[i:], b.records[i+1:])
	b.records[len(b.records)-1] = nil
	b.records = b.records[:len(b.records)-1]
	if b.filter != nil {
		b.rebuildFilter(cfg)
	}
}

// rebuildFilter recreates the filter from the live records, a bloom filter
// can not forget a key
func (b *bucket) rebuildFilter(cfg *Config) {
	if b.filter == nil {
		b.filter = bloom.NewWithEstimates(cfg.BloomCapacity, cfg.BloomFPRate)
	} else {
		b.filter.ClearAll()
	}
	for _, r := range b.records {
		b.filter.Add(filterKey(r))
	}
}

// identical compares the identity tuple, fields unset on either side are
// treated as wildcards
func identical(a, b *proto.Metadata) bool {
	if a.TimeStep >= 0 && b.TimeStep >= 0 && a.TimeStep != b.TimeStep {
		return false
	}
	if a.ObjName != "" && b.ObjName != "" && a.ObjName != b.ObjName {
		return false
	}
	if a.UserID > 0 && b.UserID > 0 && a.UserID != b.UserID {
		return false
	}
	if a.AppName != "" && b.AppName != "" && a.AppName != b.AppName {
		return false
	}
	return true
}
