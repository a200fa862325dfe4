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

// Package legacy is the byte compatible location batch format of older
// deployments whose transport could not carry zero bytes.
//
// Layout, little endian, repeated per region after the header:
//
//	n_region u32 | ndim u32 | {start u64, count u64}*ndim | loc_len u32 | loc | Delim | offset u64
//
// The encoded buffer has one trailing byte. Every zero byte is substituted with
// a fill value absent from the buffer, and the last byte holds the fill value.
package legacy

import (
	"encoding/binary"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/proto"
)

// Delim follows every location string
const Delim = byte(0x07)

const maxDim = 3

// Encode serializes locs, all of them must share the dimension of the first one
func Encode(locs []proto.StorageLocation) ([]byte, error) {
	if len(locs) == 0 {
		return nil, apierrors.ErrInvalidWireData
	}
	ndim := locs[0].Region.Ndim
	if ndim == 0 || ndim > maxDim {
		return nil, apierrors.ErrInvalidDimension
	}

	size := 8
	for i := range locs {
		if locs[i].Region.Ndim != ndim {
			return nil, apierrors.ErrInvalidDimension
		}
		if len(locs[i].Path) == 0 {
			return nil, apierrors.ErrEmptyLocation
		}
		size += int(ndim)*16 + 4 + len(locs[i].Path) + 1 + 8
	}

	buf := make([]byte, size+1)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(len(locs)))
	le.PutUint32(buf[4:], ndim)
	off := 8
	for i := range locs {
		r := &locs[i].Region
		for j := uint32(0); j < ndim; j++ {
			le.PutUint64(buf[off:], r.Start[j])
			le.PutUint64(buf[off+8:], r.Count[j])
			off += 16
		}
		le.PutUint32(buf[off:], uint32(len(locs[i].Path)))
		off += 4
		off += copy(buf[off:], locs[i].Path)
		buf[off] = Delim
		off++
		le.PutUint64(buf[off:], locs[i].Offset)
		off += 8
	}

	if err := replaceZeros(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode restores the zero bytes and parses the batch
func Decode(buf []byte) ([]proto.StorageLocation, error) {
	if len(buf) < 9 {
		return nil, apierrors.ErrInvalidWireData
	}
	raw := make([]byte, len(buf))
	copy(raw, buf)
	if err := restoreZeros(raw); err != nil {
		return nil, err
	}
	raw = raw[:len(raw)-1]

	le := binary.LittleEndian
	n := le.Uint32(raw[0:])
	ndim := le.Uint32(raw[4:])
	if ndim == 0 || ndim > maxDim {
		return nil, apierrors.ErrInvalidDimension
	}
	// every region takes at least its fixed fields and the delimiter
	if uint64(n) > uint64(len(raw)-8)/uint64(ndim*16+4+1+8) {
		return nil, apierrors.ErrInvalidWireData
	}
	off := 8
	locs := make([]proto.StorageLocation, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(raw)-off < int(ndim)*16+4 {
			return nil, apierrors.ErrInvalidWireData
		}
		loc := proto.StorageLocation{Region: proto.Region{Ndim: ndim}}
		for j := uint32(0); j < ndim; j++ {
			loc.Region.Start[j] = le.Uint64(raw[off:])
			loc.Region.Count[j] = le.Uint64(raw[off+8:])
			off += 16
		}
		locLen := int(le.Uint32(raw[off:]))
		off += 4
		if len(raw)-off < locLen+1+8 {
			return nil, apierrors.ErrInvalidWireData
		}
		if raw[off+locLen] != Delim {
			return nil, apierrors.ErrDelimiterMismatch
		}
		loc.Path = string(raw[off : off+locLen])
		off += locLen + 1
		loc.Offset = le.Uint64(raw[off:])
		off += 8
		locs = append(locs, loc)
	}
	return locs, nil
}

// replaceZeros picks the lowest signed byte value not present in buf as the
// fill value, substitutes every zero with it and stores it in the last byte
func replaceZeros(buf []byte) error {
	var hist [256]int
	for _, c := range buf {
		hist[int(int8(c))+128]++
	}
	fill, found := byte(0), false
	for i := 0; i < 256; i++ {
		if hist[i] == 0 {
			fill, found = byte(int8(i-128)), true
			break
		}
	}
	if !found {
		return apierrors.ErrNoFillValue
	}
	for i, c := range buf {
		if c == 0 {
			buf[i] = fill
		}
	}
	buf[len(buf)-1] = fill
	return nil
}

func restoreZeros(buf []byte) error {
	fill := buf[len(buf)-1]
	for i, c := range buf {
		if c == fill {
			buf[i] = 0
		} else if c == 0 {
			return apierrors.ErrInvalidWireData
		}
	}
	return nil
}
