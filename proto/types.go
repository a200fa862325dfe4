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

import apierrors "github.com/cubefs/objmeta/errors"

const (
	// DimMax is the max dimension of an object or region
	DimMax = 4
	// ShardIDInterval is the size of the obj_id block owned by one shard
	ShardIDInterval = 1000000
	// MaxProcPerNode is the max number of clients sharing one io region
	MaxProcPerNode = 64
	// AddrMax is the fixed width of name, location and shm name fields in checkpoint records
	AddrMax = 128
	// TagLenMax is the fixed width of the tags field in checkpoint records
	TagLenMax = 128

	DefaultMaxOverlapRegions = 128

	// NoChange is the string sentinel meaning "keep the current value"
	NoChange = " "

	ReqIdKey = "req-id"
)

type AccessType int32

const (
	AccessRead  = AccessType(0)
	AccessWrite = AccessType(1)
)

func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "unknown"
	}
}

type Metadata struct {
	UserID           int32
	AppName          string
	ObjName          string
	TimeStep         int32
	ObjID            uint64
	CreateTime       int64
	LastModifiedTime int64
	Tags             string
	DataLocation     string
	Ndim             int32
	Dims             [DimMax]uint64
}

// CheckWidths rejects string fields longer than their fixed record width
func (m *Metadata) CheckWidths() error {
	if len(m.AppName) > AddrMax || len(m.ObjName) > AddrMax ||
		len(m.DataLocation) > AddrMax || len(m.Tags) > TagLenMax {
		return apierrors.ErrFieldTooLong
	}
	return nil
}

// Region is an axis-aligned box, dimension i spans [Start[i], Start[i]+Count[i]-1]
type Region struct {
	Ndim  uint32
	Start [DimMax]uint64
	Count [DimMax]uint64
}

func NewRegion(start, count []uint64) Region {
	r := Region{Ndim: uint32(len(start))}
	copy(r.Start[:], start)
	copy(r.Count[:], count)
	return r
}

type StorageLocation struct {
	Region Region
	Path   string
	Offset uint64
}

// Patch carries the fields of an update, empty string or NoChange keeps the field and
// TimeStep -1 keeps the time step. Tags are appended, never replaced.
type Patch struct {
	TimeStep     int32
	AppName      string
	DataLocation string
	Tags         string
}

// Predicate is a query over the catalog. Zero or NoChange values are wildcards,
// the time step range applies only if both bounds are positive.
type Predicate struct {
	UserID       int32
	AppName      string
	ObjName      string
	TimeStepFrom int32
	TimeStepTo   int32
	Ndim         int32
	Tags         string
	ListAll      bool
}

// HashName is the djb2 hash of the object name, the bucket key of the catalog
func HashName(name string) uint32 {
	hash := uint32(5381)
	for i := 0; i < len(name); i++ {
		hash = hash*33 + uint32(name[i])
	}
	return hash
}

// Owner returns the rank of the shard owning objID
func Owner(objID uint64, shardNum uint32) uint32 {
	if shardNum == 0 || objID < ShardIDInterval {
		return 0
	}
	return uint32((objID/ShardIDInterval - 1) % uint64(shardNum))
}

// FirstObjID returns the first id minted by the shard with rank
func FirstObjID(rank uint32) uint64 {
	return ShardIDInterval * uint64(rank+1)
}
