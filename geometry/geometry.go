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

// Package geometry implements overlap tests of N-dimensional regions.
package geometry

import (
	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
)

// Validate checks the dimension and that no axis is empty
func Validate(r proto.Region) error {
	if r.Ndim == 0 || r.Ndim > proto.DimMax {
		return apierrors.ErrInvalidDimension
	}
	for i := uint32(0); i < r.Ndim; i++ {
		if r.Count[i] == 0 {
			return apierrors.ErrInvalidRegion
		}
	}
	return nil
}

// Overlaps1D reports whether [start1, start1+count1-1] and [start2, start2+count2-1] intersect
func Overlaps1D(start1, count1, start2, count2 uint64) bool {
	if count1 == 0 || count2 == 0 {
		return false
	}
	end1 := start1 + count1 - 1
	end2 := start2 + count2 - 1
	return end1 >= start2 && end2 >= start1
}

// Overlaps reports whether a and b intersect on every axis. Regions of
// different dimension never overlap.
func Overlaps(a, b proto.Region) bool {
	if a.Ndim != b.Ndim || a.Ndim == 0 || a.Ndim > proto.DimMax {
		return false
	}
	for i := uint32(0); i < a.Ndim; i++ {
		if !Overlaps1D(a.Start[i], a.Count[i], b.Start[i], b.Count[i]) {
			return false
		}
	}
	return true
}

// Intersect returns the overlap box of a and b, false if they do not overlap
func Intersect(a, b proto.Region) (proto.Region, bool) {
	if !Overlaps(a, b) {
		return proto.Region{}, false
	}
	ret := proto.Region{Ndim: a.Ndim}
	for i := uint32(0); i < a.Ndim; i++ {
		start := max64(a.Start[i], b.Start[i])
		end := min64(a.Start[i]+a.Count[i], b.Start[i]+b.Count[i])
		ret.Start[i] = start
		ret.Count[i] = end - start
	}
	return ret, true
}

// Identical reports same ndim, starts and counts
func Identical(a, b proto.Region) bool {
	if a.Ndim != b.Ndim {
		return false
	}
	for i := uint32(0); i < a.Ndim && i < proto.DimMax; i++ {
		if a.Start[i] != b.Start[i] || a.Count[i] != b.Count[i] {
			return false
		}
	}
	return true
}

// Volume returns the number of elements in r
func Volume(r proto.Region) uint64 {
	if r.Ndim == 0 {
		return 0
	}
	v := uint64(1)
	for i := uint32(0); i < r.Ndim && i < proto.DimMax; i++ {
		v *= r.Count[i]
	}
	return v
}

// Contains reports whether inner lies completely inside outer
func Contains(outer, inner proto.Region) bool {
	ov, ok := Intersect(outer, inner)
	return ok && Identical(ov, inner)
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
