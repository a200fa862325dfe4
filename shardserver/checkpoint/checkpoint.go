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

// Package checkpoint persists the catalog and storage locations of a shard
// into one file and loads them back.
//
// Layout, little endian:
//
//	n_bucket i32
//	  n_obj i32 | hash_key u32
//	    metadata record | n_region i32
//	      location record
//	xxhash64 of all preceding bytes
//
// Records are fixed size, strings are zero padded to AddrMax or TagLenMax.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/metrics"
	"github.com/cubefs/objmeta/proto"
	"github.com/cubefs/objmeta/shardserver/catalog"
	"github.com/cubefs/objmeta/util"
)

const (
	metaRecordSize     = 4 + proto.AddrMax*2 + 4 + 8*3 + proto.TagLenMax + proto.AddrMax + 4 + 8*proto.DimMax
	locationRecordSize = 4 + 8*proto.DimMax*2 + proto.AddrMax + 8
	trailerSize        = 8
)

// Image is the content of a checkpoint
type Image struct {
	Buckets   []catalog.Bucket
	Locations map[uint64][]proto.StorageLocation
}

// Write stores img at path. The file is written aside and renamed, a crash
// leaves the previous checkpoint in place.
func Write(ctx context.Context, path string, img *Image) error {
	span := trace.SpanFromContextSafe(ctx)
	start := time.Now()

	size := 4 + trailerSize
	for _, b := range img.Buckets {
		size += 8
		for _, r := range b.Records {
			size += metaRecordSize + 4 + locationRecordSize*len(img.Locations[r.ObjID])
		}
	}
	buf := util.GetBufferWriter(size)
	defer util.PutBufferWriter(buf)

	e := &encoder{w: buf}
	e.i32(int32(len(img.Buckets)))
	for _, b := range img.Buckets {
		e.i32(int32(len(b.Records)))
		e.u32(b.HashKey)
		for i := range b.Records {
			e.metadata(&b.Records[i])
			locs := img.Locations[b.Records[i].ObjID]
			e.i32(int32(len(locs)))
			for j := range locs {
				e.location(&locs[j])
			}
		}
	}
	if e.err != nil {
		return e.err
	}
	e.u64(xxhash.Sum64(buf.Bytes()))

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	tw := &util.TimeWriter{W: f}
	if _, err = tw.Write(buf.Bytes()); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return errors.Info(err, "write checkpoint", tmp)
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}

	metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	span.Infof("checkpoint %s written, %d buckets, %d bytes, io cost %s", path, len(img.Buckets), buf.Len(), tw.GetCost())
	return nil
}

// Restore loads the checkpoint at path. Nothing is returned unless the whole
// file verifies and parses.
func Restore(ctx context.Context, path string) (*Image, error) {
	span := trace.SpanFromContextSafe(ctx)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tr := &util.TimeReader{R: f}
	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, err
	}

	if len(data) < 4+trailerSize {
		span.Errorf("checkpoint %s too short: %d bytes", path, len(data))
		return nil, apierrors.ErrCorruptCheckpoint
	}
	body := data[:len(data)-trailerSize]
	if sum := binary.LittleEndian.Uint64(data[len(body):]); sum != xxhash.Sum64(body) {
		span.Errorf("checkpoint %s checksum mismatch", path)
		return nil, apierrors.ErrCorruptCheckpoint
	}

	d := &decoder{buf: body}
	img := &Image{Locations: make(map[uint64][]proto.StorageLocation)}
	nBucket := d.count(8)
	for i := 0; i < nBucket && d.err == nil; i++ {
		nObj := d.count(metaRecordSize + 4)
		b := catalog.Bucket{HashKey: d.u32()}
		for j := 0; j < nObj && d.err == nil; j++ {
			var m proto.Metadata
			d.metadata(&m)
			nRegion := d.count(locationRecordSize)
			for k := 0; k < nRegion && d.err == nil; k++ {
				var loc proto.StorageLocation
				d.location(&loc)
				img.Locations[m.ObjID] = append(img.Locations[m.ObjID], loc)
			}
			b.Records = append(b.Records, m)
		}
		img.Buckets = append(img.Buckets, b)
	}
	if d.err == nil && len(d.buf) != 0 {
		d.fail("%d trailing bytes", len(d.buf))
	}
	if d.err != nil {
		span.Errorf("checkpoint %s corrupt: %s", path, d.why)
		return nil, d.err
	}

	span.Infof("checkpoint %s loaded, %d buckets, io cost %s", path, len(img.Buckets), tr.GetCost())
	return img, nil
}

type encoder struct {
	w       *bytes.Buffer
	scratch [8]byte
	err     error
}

func (e *encoder) i32(v int32) { e.u32(uint32(v)) }

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.scratch[:4], v)
	e.w.Write(e.scratch[:4])
}

func (e *encoder) u64(v uint64) {
	binary.LittleEndian.PutUint64(e.scratch[:], v)
	e.w.Write(e.scratch[:])
}

func (e *encoder) str(s string, width int) {
	if len(s) > width {
		if e.err == nil {
			e.err = errors.Info(apierrors.ErrInvalidWireData, fmt.Sprintf("%q exceeds field width %d", s, width))
		}
		s = s[:width]
	}
	e.w.WriteString(s)
	for i := len(s); i < width; i++ {
		e.w.WriteByte(0)
	}
}

func (e *encoder) metadata(m *proto.Metadata) {
	e.i32(m.UserID)
	e.str(m.AppName, proto.AddrMax)
	e.str(m.ObjName, proto.AddrMax)
	e.i32(m.TimeStep)
	e.u64(m.ObjID)
	e.u64(uint64(m.CreateTime))
	e.u64(uint64(m.LastModifiedTime))
	e.str(m.Tags, proto.TagLenMax)
	e.str(m.DataLocation, proto.AddrMax)
	e.i32(m.Ndim)
	for _, d := range m.Dims {
		e.u64(d)
	}
}

func (e *encoder) location(l *proto.StorageLocation) {
	e.u32(l.Region.Ndim)
	for _, s := range l.Region.Start {
		e.u64(s)
	}
	for _, c := range l.Region.Count {
		e.u64(c)
	}
	e.str(l.Path, proto.AddrMax)
	e.u64(l.Offset)
}

type decoder struct {
	buf []byte
	err error
	why string
}

func (d *decoder) fail(format string, args ...interface{}) {
	d.err = apierrors.ErrCorruptCheckpoint
	d.why = fmt.Sprintf(format, args...)
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.fail("truncated record, need %d bytes, %d left", n, len(d.buf))
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// count reads an element count, each element takes at least minSize bytes
func (d *decoder) count(minSize int) int {
	n := d.i32()
	if d.err != nil {
		return 0
	}
	if n < 0 || int(n) > len(d.buf)/minSize {
		d.fail("invalid count %d", n)
		return 0
	}
	return int(n)
}

func (d *decoder) str(width int) string {
	b := d.take(width)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (d *decoder) metadata(m *proto.Metadata) {
	m.UserID = d.i32()
	m.AppName = d.str(proto.AddrMax)
	m.ObjName = d.str(proto.AddrMax)
	m.TimeStep = d.i32()
	m.ObjID = d.u64()
	m.CreateTime = int64(d.u64())
	m.LastModifiedTime = int64(d.u64())
	m.Tags = d.str(proto.TagLenMax)
	m.DataLocation = d.str(proto.AddrMax)
	m.Ndim = d.i32()
	for i := range m.Dims {
		m.Dims[i] = d.u64()
	}
}

func (d *decoder) location(l *proto.StorageLocation) {
	l.Region.Ndim = d.u32()
	for i := range l.Region.Start {
		l.Region.Start[i] = d.u64()
	}
	for i := range l.Region.Count {
		l.Region.Count[i] = d.u64()
	}
	l.Path = d.str(proto.AddrMax)
	l.Offset = d.u64()
}
