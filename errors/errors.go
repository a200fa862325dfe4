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

package errors

import "errors"

// not found
var (
	ErrObjectNotExist  = errors.New("object does not exist")
	ErrRegionNotFound  = errors.New("region not found")
	ErrNoOverlapRegion = errors.New("no overlapping storage region found")
	ErrIOListNotFound  = errors.New("io list does not exist")
)

// conflict
var (
	ErrObjectExist  = errors.New("object already exists")
	ErrLockConflict = errors.New("region overlaps a held lock")
)

// malformed input
var (
	ErrInvalidDimension     = errors.New("invalid dimension")
	ErrInvalidRegion        = errors.New("invalid region")
	ErrUnsupportedDimension = errors.New("unsupported dimension for overlap io")
	ErrDelimiterMismatch    = errors.New("serialized location delimiter mismatch")
	ErrInvalidWireData      = errors.New("invalid wire data")
	ErrEmptyLocation        = errors.New("empty storage location")
	ErrNoFillValue          = errors.New("no unused byte value left for zero substitution")
	ErrInvalidAccessType    = errors.New("invalid access type")
	ErrTooManyClients       = errors.New("io list received more requests than clients")
	ErrFieldTooLong         = errors.New("field exceeds its fixed record width")
)

// resource
var (
	ErrTooManyOverlapRegions = errors.New("too many overlapping storage regions")
	ErrOpenFile              = errors.New("open data file failed")
	ErrShmBuffer             = errors.New("shared memory buffer failed")
	ErrBufferTooSmall        = errors.New("buffer smaller than region")
)

// short io
var (
	ErrShortRead  = errors.New("short read")
	ErrShortWrite = errors.New("short write")
)

// lifecycle
var (
	ErrCatalogNotInit    = errors.New("catalog is not initialized")
	ErrServerClosed      = errors.New("shard server is closed")
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
	ErrUnknownShard      = errors.New("unknown shard rank")
	ErrNoTransport       = errors.New("no transport to remote shard")
)
