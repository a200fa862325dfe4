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

import (
	"google.golang.org/protobuf/encoding/protowire"

	apierrors "github.com/cubefs/objmeta/errors"
)

// Message is implemented by every value sent over the wire. The encoding is
// the protobuf wire format, every string and nested value is length prefixed.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

type encoder struct {
	buf []byte
}

func (e *encoder) uint64(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) int64(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if !v {
		return
	}
	e.uint64(num, protowire.EncodeBool(v))
}

func (e *encoder) string(num protowire.Number, s string) {
	if s == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, s)
}

func (e *encoder) bytes(num protowire.Number, b []byte) {
	if len(b) == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
}

func (e *encoder) uint64s(num protowire.Number, vs []uint64) {
	if len(vs) == 0 {
		return
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	e.bytes(num, packed)
}

// nested writes an embedded message even when it is empty
func (e *encoder) nested(num protowire.Number, appendFn func(b []byte) []byte) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, appendFn(nil))
}

type fieldDecoder struct {
	typ protowire.Type
	b   []byte
	n   int
}

func (d *fieldDecoder) uint64() uint64 {
	if d.typ != protowire.VarintType {
		d.n = -1
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	d.n = n
	return v
}

func (d *fieldDecoder) int64() int64 {
	return protowire.DecodeZigZag(d.uint64())
}

func (d *fieldDecoder) bool() bool {
	return protowire.DecodeBool(d.uint64())
}

func (d *fieldDecoder) bytes() []byte {
	if d.typ != protowire.BytesType {
		d.n = -1
		return nil
	}
	v, n := protowire.ConsumeBytes(d.b)
	d.n = n
	return v
}

func (d *fieldDecoder) string() string {
	return string(d.bytes())
}

func (d *fieldDecoder) uint64s() []uint64 {
	packed := d.bytes()
	if d.n < 0 {
		return nil
	}
	var ret []uint64
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			d.n = -1
			return nil
		}
		ret = append(ret, v)
		packed = packed[n:]
	}
	return ret
}

func (d *fieldDecoder) nested(fn func(b []byte) error) {
	b := d.bytes()
	if d.n < 0 {
		return
	}
	if err := fn(b); err != nil {
		d.n = -1
	}
}

// decodeFields walks every field of b, fields not consumed by fn are skipped
func decodeFields(b []byte, fn func(num protowire.Number, d *fieldDecoder)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return apierrors.ErrInvalidWireData
		}
		b = b[n:]
		d := &fieldDecoder{typ: typ, b: b}
		fn(num, d)
		if d.n == 0 {
			d.n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if d.n < 0 {
			return apierrors.ErrInvalidWireData
		}
		b = b[d.n:]
	}
	return nil
}

func appendRegion(b []byte, r *Region) []byte {
	e := encoder{buf: b}
	e.uint64(1, uint64(r.Ndim))
	if r.Ndim > 0 && r.Ndim <= DimMax {
		e.uint64s(2, r.Start[:r.Ndim])
		e.uint64s(3, r.Count[:r.Ndim])
	}
	return e.buf
}

func (r *Region) unmarshal(b []byte) error {
	*r = Region{}
	var start, count []uint64
	err := decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			r.Ndim = uint32(d.uint64())
		case 2:
			start = d.uint64s()
		case 3:
			count = d.uint64s()
		}
	})
	if err != nil {
		return err
	}
	if r.Ndim > DimMax || len(start) != int(r.Ndim) || len(count) != int(r.Ndim) {
		return apierrors.ErrInvalidWireData
	}
	copy(r.Start[:], start)
	copy(r.Count[:], count)
	return nil
}

func (r *Region) Marshal() ([]byte, error) {
	return appendRegion(nil, r), nil
}

func (r *Region) Unmarshal(b []byte) error {
	return r.unmarshal(b)
}

func appendLocation(b []byte, l *StorageLocation) []byte {
	e := encoder{buf: b}
	e.nested(1, func(b []byte) []byte { return appendRegion(b, &l.Region) })
	e.string(2, l.Path)
	e.uint64(3, l.Offset)
	return e.buf
}

func (l *StorageLocation) unmarshal(b []byte) error {
	*l = StorageLocation{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			d.nested(l.Region.unmarshal)
		case 2:
			l.Path = d.string()
		case 3:
			l.Offset = d.uint64()
		}
	})
}

func (l *StorageLocation) Marshal() ([]byte, error) {
	return appendLocation(nil, l), nil
}

func (l *StorageLocation) Unmarshal(b []byte) error {
	return l.unmarshal(b)
}

func appendMetadata(b []byte, m *Metadata) []byte {
	e := encoder{buf: b}
	e.int64(1, int64(m.UserID))
	e.string(2, m.AppName)
	e.string(3, m.ObjName)
	e.int64(4, int64(m.TimeStep))
	e.uint64(5, m.ObjID)
	e.int64(6, m.CreateTime)
	e.int64(7, m.LastModifiedTime)
	e.string(8, m.Tags)
	e.string(9, m.DataLocation)
	e.int64(10, int64(m.Ndim))
	if m.Ndim > 0 && m.Ndim <= DimMax {
		e.uint64s(11, m.Dims[:m.Ndim])
	}
	return e.buf
}

func (m *Metadata) unmarshal(b []byte) error {
	*m = Metadata{}
	var dims []uint64
	err := decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.UserID = int32(d.int64())
		case 2:
			m.AppName = d.string()
		case 3:
			m.ObjName = d.string()
		case 4:
			m.TimeStep = int32(d.int64())
		case 5:
			m.ObjID = d.uint64()
		case 6:
			m.CreateTime = d.int64()
		case 7:
			m.LastModifiedTime = d.int64()
		case 8:
			m.Tags = d.string()
		case 9:
			m.DataLocation = d.string()
		case 10:
			m.Ndim = int32(d.int64())
		case 11:
			dims = d.uint64s()
		}
	})
	if err != nil {
		return err
	}
	if len(dims) > DimMax {
		return apierrors.ErrInvalidWireData
	}
	copy(m.Dims[:], dims)
	return nil
}

func (m *Metadata) Marshal() ([]byte, error) {
	return appendMetadata(nil, m), nil
}

func (m *Metadata) Unmarshal(b []byte) error {
	return m.unmarshal(b)
}

func appendPatch(b []byte, p *Patch) []byte {
	e := encoder{buf: b}
	e.int64(1, int64(p.TimeStep))
	e.string(2, p.AppName)
	e.string(3, p.DataLocation)
	e.string(4, p.Tags)
	return e.buf
}

func (p *Patch) unmarshal(b []byte) error {
	*p = Patch{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			p.TimeStep = int32(d.int64())
		case 2:
			p.AppName = d.string()
		case 3:
			p.DataLocation = d.string()
		case 4:
			p.Tags = d.string()
		}
	})
}

func appendPredicate(b []byte, p *Predicate) []byte {
	e := encoder{buf: b}
	e.int64(1, int64(p.UserID))
	e.string(2, p.AppName)
	e.string(3, p.ObjName)
	e.int64(4, int64(p.TimeStepFrom))
	e.int64(5, int64(p.TimeStepTo))
	e.int64(6, int64(p.Ndim))
	e.string(7, p.Tags)
	e.bool(8, p.ListAll)
	return e.buf
}

func (p *Predicate) unmarshal(b []byte) error {
	*p = Predicate{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			p.UserID = int32(d.int64())
		case 2:
			p.AppName = d.string()
		case 3:
			p.ObjName = d.string()
		case 4:
			p.TimeStepFrom = int32(d.int64())
		case 5:
			p.TimeStepTo = int32(d.int64())
		case 6:
			p.Ndim = int32(d.int64())
		case 7:
			p.Tags = d.string()
		case 8:
			p.ListAll = d.bool()
		}
	})
}

// MarshalLocations encodes a batch of storage locations, the blob returned by get_storage_info
func MarshalLocations(locs []StorageLocation) []byte {
	e := encoder{}
	e.uint64(1, uint64(len(locs)))
	for i := range locs {
		e.nested(2, func(b []byte) []byte { return appendLocation(b, &locs[i]) })
	}
	return e.buf
}

func UnmarshalLocations(b []byte) ([]StorageLocation, error) {
	var (
		n    uint64
		locs []StorageLocation
	)
	err := decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			n = d.uint64()
		case 2:
			var l StorageLocation
			d.nested(l.unmarshal)
			locs = append(locs, l)
		}
	})
	if err != nil {
		return nil, err
	}
	if uint64(len(locs)) != n {
		return nil, apierrors.ErrInvalidWireData
	}
	return locs, nil
}
