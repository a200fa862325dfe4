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

package lock

import (
	"context"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/geometry"
	"github.com/cubefs/objmeta/proto"
)

// Target is the remote side of a region mapping
type Target struct {
	ObjID    uint64
	ClientID uint32
	Region   proto.Region
	// ShmName names the buffer shared with the remote client
	ShmName string
}

func (t Target) same(o Target) bool {
	return t.ObjID == o.ObjID && t.ClientID == o.ClientID && geometry.Identical(t.Region, o.Region)
}

// mapping is one local region mapped by one or more remote regions
type mapping struct {
	local   proto.Region
	targets []Target
}

func (mp *mapping) refs() int {
	return len(mp.targets)
}

// Map records that local region of objID is mapped by target. Mapping the
// same target twice is a no-op.
func (m *Manager) Map(ctx context.Context, objID uint64, local proto.Region, target Target) error {
	if err := geometry.Validate(local); err != nil {
		return err
	}
	if err := geometry.Validate(target.Region); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exister.Exist(ctx, objID) {
		return apierrors.ErrObjectNotExist
	}

	for _, mp := range m.mappings[objID] {
		if geometry.Identical(mp.local, local) {
			if !containsTarget(mp.targets, target) {
				mp.targets = append(mp.targets, target)
			}
			return nil
		}
	}
	m.mappings[objID] = append(m.mappings[objID], &mapping{local: local, targets: []Target{target}})
	return nil
}

// Unmap drops one reference of the local region, the region is forgotten
// with its last target
func (m *Manager) Unmap(ctx context.Context, objID uint64, local proto.Region, target Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mps := m.mappings[objID]
	for i, mp := range mps {
		if !geometry.Identical(mp.local, local) {
			continue
		}
		for j := range mp.targets {
			if mp.targets[j].same(target) {
				mp.targets = append(mp.targets[:j], mp.targets[j+1:]...)
				break
			}
		}
		if mp.refs() == 0 {
			mps = append(mps[:i], mps[i+1:]...)
			if len(mps) == 0 {
				delete(m.mappings, objID)
			} else {
				m.mappings[objID] = mps
			}
		}
		return nil
	}
	return apierrors.ErrRegionNotFound
}

// Mappings returns the targets of every mapped local region overlapping region
func (m *Manager) Mappings(objID uint64, region proto.Region) []Target {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ret []Target
	for _, mp := range m.mappings[objID] {
		if geometry.Overlaps(mp.local, region) {
			ret = append(ret, mp.targets...)
		}
	}
	return ret
}

func containsTarget(targets []Target, t Target) bool {
	for i := range targets {
		if targets[i].same(t) {
			return true
		}
	}
	return false
}
