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

// Package lock arbitrates access to regions of an object. A region lock is
// granted only when it overlaps no lock held on the same object, whatever
// the access type. All state of the manager is guarded by one mutex so the
// overlap check and the insert of a grant are atomic.
package lock

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/geometry"
	"github.com/cubefs/objmeta/metrics"
	"github.com/cubefs/objmeta/proto"
)

// Exister tells whether an object is live
type Exister interface {
	Exist(ctx context.Context, objID uint64) bool
}

// Entry is a held region lock
type Entry struct {
	Region proto.Region
	Access proto.AccessType
	// Dirty is set once a mapped remote write landed in the region
	Dirty   bool
	Targets []Target
}

// FlushDescriptor is returned by Release when a dirty region must be pushed
// to its mapped targets before the data can be considered released
type FlushDescriptor struct {
	ObjID   uint64
	Region  proto.Region
	Targets []Target
}

type Manager struct {
	// called under mu, must not call back into the manager
	exister Exister

	mu       sync.Mutex
	objects  map[uint64][]*Entry
	mappings map[uint64][]*mapping
}

func NewManager(exister Exister) *Manager {
	return &Manager{
		exister:  exister,
		objects:  make(map[uint64][]*Entry),
		mappings: make(map[uint64][]*mapping),
	}
}

// Obtain grants the lock if region overlaps no held lock of the object.
// Existence is checked under the manager mutex, so a Drop following the
// delete of the object either sees the grant or the grant sees the delete.
func (m *Manager) Obtain(ctx context.Context, objID uint64, region proto.Region, access proto.AccessType) (bool, error) {
	if err := geometry.Validate(region); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exister.Exist(ctx, objID) {
		return false, apierrors.ErrObjectNotExist
	}
	for _, e := range m.objects[objID] {
		if geometry.Overlaps(e.Region, region) {
			metrics.LockRequests.WithLabelValues("denied").Inc()
			return false, nil
		}
	}
	m.objects[objID] = append(m.objects[objID], &Entry{Region: region, Access: access})
	metrics.LockRequests.WithLabelValues("granted").Inc()
	return true, nil
}

// Release drops the lock identical to region. Releasing a region that is not
// held succeeds. A dirty lock yields a flush descriptor.
func (m *Manager) Release(ctx context.Context, objID uint64, region proto.Region) (*FlushDescriptor, error) {
	if err := geometry.Validate(region); err != nil {
		return nil, err
	}
	if !m.exister.Exist(ctx, objID) {
		return nil, apierrors.ErrObjectNotExist
	}
	span := trace.SpanFromContextSafe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.objects[objID]
	idx := indexOf(entries, region)
	if idx < 0 {
		span.Warnf("release region %+v of object %d which is not locked", region, objID)
		return nil, nil
	}
	e := entries[idx]
	entries = append(entries[:idx], entries[idx+1:]...)
	if len(entries) == 0 {
		delete(m.objects, objID)
	} else {
		m.objects[objID] = entries
	}
	metrics.LockRequests.WithLabelValues("released").Inc()

	if !e.Dirty {
		return nil, nil
	}
	fd := &FlushDescriptor{ObjID: objID, Region: e.Region, Targets: e.Targets}
	for _, mp := range m.mappings[objID] {
		if !geometry.Overlaps(mp.local, region) {
			continue
		}
		for _, t := range mp.targets {
			if !containsTarget(fd.Targets, t) {
				fd.Targets = append(fd.Targets, t)
			}
		}
	}
	return fd, nil
}

// MarkDirtyOnWrite flags the held lock identical to region as dirty and
// records the remote target the write came through, if any
func (m *Manager) MarkDirtyOnWrite(ctx context.Context, objID uint64, region proto.Region, target *Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := indexOf(m.objects[objID], region)
	if idx < 0 {
		return apierrors.ErrRegionNotFound
	}
	e := m.objects[objID][idx]
	e.Dirty = true
	if target == nil || containsTarget(e.Targets, *target) {
		return nil
	}
	t := *target
	if t.ShmName == "" {
		// the buffer name is known from the mapping
		for _, mp := range m.mappings[objID] {
			for _, mt := range mp.targets {
				if mt.same(t) && geometry.Overlaps(mp.local, region) {
					t.ShmName = mt.ShmName
				}
			}
		}
	}
	e.Targets = append(e.Targets, t)
	return nil
}

// Held returns copies of the locks held on objID
func (m *Manager) Held(objID uint64) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret := make([]Entry, 0, len(m.objects[objID]))
	for _, e := range m.objects[objID] {
		c := *e
		c.Targets = append([]Target(nil), e.Targets...)
		ret = append(ret, c)
	}
	return ret
}

// Drop forgets every lock and mapping of a deleted object
func (m *Manager) Drop(objID uint64) {
	m.mu.Lock()
	delete(m.objects, objID)
	delete(m.mappings, objID)
	m.mu.Unlock()
}

func indexOf(entries []*Entry, region proto.Region) int {
	for i, e := range entries {
		if geometry.Identical(e.Region, region) {
			return i
		}
	}
	return -1
}
