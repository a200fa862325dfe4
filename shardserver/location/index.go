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

package location

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/geometry"
	"github.com/cubefs/objmeta/proto"
)

type Exister interface {
	Exist(ctx context.Context, objID uint64) bool
}

// Overlap pairs a stored region with the part of it a request selects
type Overlap struct {
	Stored       proto.StorageLocation
	Intersection proto.Region
}

// Index keeps where every written region of an object lives. Files are
// append only, so entries are never removed while the object is live.
type Index struct {
	exister Exister

	mu      sync.RWMutex
	entries map[uint64][]proto.StorageLocation
}

func NewIndex(exister Exister) *Index {
	return &Index{
		exister: exister,
		entries: make(map[uint64][]proto.StorageLocation),
	}
}

// RecordWrite stores loc for objID, an entry with identical geometry is overwritten
func (x *Index) RecordWrite(ctx context.Context, objID uint64, loc proto.StorageLocation) error {
	if err := geometry.Validate(loc.Region); err != nil {
		return err
	}
	if loc.Path == "" {
		return apierrors.ErrEmptyLocation
	}
	if len(loc.Path) > proto.AddrMax {
		return apierrors.ErrFieldTooLong
	}

	// checked under mu so a Drop after the delete of objID cannot miss the entry
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.exister.Exist(ctx, objID) {
		return apierrors.ErrObjectNotExist
	}

	// entries stay in write order, a later entry shadows earlier overlaps
	locs := x.entries[objID]
	for i := range locs {
		if geometry.Identical(locs[i].Region, loc.Region) {
			trace.SpanFromContextSafe(ctx).Debugf("object %d region %+v moved from %s@%d to %s@%d",
				objID, loc.Region, locs[i].Path, locs[i].Offset, loc.Path, loc.Offset)
			locs = append(locs[:i], locs[i+1:]...)
			break
		}
	}
	x.entries[objID] = append(locs, loc)
	return nil
}

// LookupOverlaps returns every stored region of objID overlapping region
// together with the overlapping box, at most max of them when max > 0
func (x *Index) LookupOverlaps(ctx context.Context, objID uint64, region proto.Region, max int) ([]Overlap, error) {
	if err := geometry.Validate(region); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var ret []Overlap
	for _, loc := range x.entries[objID] {
		in, ok := geometry.Intersect(region, loc.Region)
		if !ok {
			continue
		}
		if max > 0 && len(ret) >= max {
			return nil, apierrors.ErrTooManyOverlapRegions
		}
		ret = append(ret, Overlap{Stored: loc, Intersection: in})
	}
	if len(ret) == 0 {
		return nil, apierrors.ErrNoOverlapRegion
	}
	return ret, nil
}

// List copies all entries of objID
func (x *Index) List(objID uint64) []proto.StorageLocation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]proto.StorageLocation(nil), x.entries[objID]...)
}

// Restore replaces the entries of objID
func (x *Index) Restore(objID uint64, locs []proto.StorageLocation) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(locs) == 0 {
		delete(x.entries, objID)
		return
	}
	x.entries[objID] = append([]proto.StorageLocation(nil), locs...)
}

// Reset forgets every entry
func (x *Index) Reset() {
	x.mu.Lock()
	x.entries = make(map[uint64][]proto.StorageLocation)
	x.mu.Unlock()
}

func (x *Index) Drop(objID uint64) {
	x.mu.Lock()
	delete(x.entries, objID)
	x.mu.Unlock()
}

// Count returns the number of entries of objID
func (x *Index) Count(objID uint64) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries[objID])
}
