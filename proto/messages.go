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
)

type (
	Empty struct{}

	CreateObjectRequest struct {
		HashKey uint32
		Meta    Metadata
	}
	CreateObjectResponse struct {
		ObjID uint64
	}

	QueryRequest struct {
		Predicate Predicate
	}
	QueryResponse struct {
		Metas []Metadata
	}

	UpdateRequest struct {
		ObjID   uint64
		HashKey uint32
		Patch   Patch
	}

	AddTagRequest struct {
		ObjID   uint64
		HashKey uint32
		Tag     string
	}

	DeleteByNameRequest struct {
		HashKey  uint32
		ObjName  string
		TimeStep int32
	}

	DeleteByIDRequest struct {
		ObjID uint64
	}

	// RegionLockRequest obtains or releases a region lock. With Mapped set on an
	// obtain, the held identical region is marked dirty by the remote writer.
	RegionLockRequest struct {
		ObjID          uint64
		Access         AccessType
		Region         Region
		Mapped         bool
		RemoteObjID    uint64
		RemoteClientID uint32
		RemoteRegion   Region
	}
	RegionLockResponse struct {
		Granted bool
	}

	MapRegionRequest struct {
		LocalObjID     uint64
		LocalRegion    Region
		RemoteObjID    uint64
		RemoteRegion   Region
		RemoteClientID uint32
		ShmName        string
	}

	GetStorageInfoRequest struct {
		ObjID  uint64
		Region Region
		// Legacy asks for the zero free batch of package legacy
		Legacy bool
	}
	GetStorageInfoResponse struct {
		// Locations is MarshalLocations of the overlapping storage locations,
		// or the legacy batch when requested
		Locations []byte
	}

	GetMetadataByIDRequest struct {
		ObjID uint64
	}
	GetMetadataByIDResponse struct {
		Found bool
		Meta  Metadata
	}

	UpdateRegionLocationRequest struct {
		ObjID    uint64
		Location StorageLocation
	}

	DataIORequest struct {
		ClientID uint32
		NClient  uint32
		Access   AccessType
		Meta     Metadata
		Region   Region
		ShmName  string
	}
	DataIOResponse struct {
		ShmName string
	}

	IOCheckRequest struct {
		ClientID uint32
		ObjID    uint64
		Region   Region
	}
	IOCheckResponse struct {
		Ready   int32
		ShmName string
	}
)

func (m *Empty) Marshal() ([]byte, error) { return nil, nil }

func (m *Empty) Unmarshal(b []byte) error {
	return decodeFields(b, func(protowire.Number, *fieldDecoder) {})
}

func (m *CreateObjectRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, uint64(m.HashKey))
	e.nested(2, func(b []byte) []byte { return appendMetadata(b, &m.Meta) })
	return e.buf, nil
}

func (m *CreateObjectRequest) Unmarshal(b []byte) error {
	*m = CreateObjectRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.HashKey = uint32(d.uint64())
		case 2:
			d.nested(m.Meta.unmarshal)
		}
	})
}

func (m *CreateObjectResponse) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, m.ObjID)
	return e.buf, nil
}

func (m *CreateObjectResponse) Unmarshal(b []byte) error {
	*m = CreateObjectResponse{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		if num == 1 {
			m.ObjID = d.uint64()
		}
	})
}

func (m *QueryRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.nested(1, func(b []byte) []byte { return appendPredicate(b, &m.Predicate) })
	return e.buf, nil
}

func (m *QueryRequest) Unmarshal(b []byte) error {
	*m = QueryRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		if num == 1 {
			d.nested(m.Predicate.unmarshal)
		}
	})
}

func (m *QueryResponse) Marshal() ([]byte, error) {
	e := encoder{}
	for i := range m.Metas {
		e.nested(1, func(b []byte) []byte { return appendMetadata(b, &m.Metas[i]) })
	}
	return e.buf, nil
}

func (m *QueryResponse) Unmarshal(b []byte) error {
	*m = QueryResponse{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		if num == 1 {
			var meta Metadata
			d.nested(meta.unmarshal)
			m.Metas = append(m.Metas, meta)
		}
	})
}

func (m *UpdateRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, m.ObjID)
	e.uint64(2, uint64(m.HashKey))
	e.nested(3, func(b []byte) []byte { return appendPatch(b, &m.Patch) })
	return e.buf, nil
}

func (m *UpdateRequest) Unmarshal(b []byte) error {
	*m = UpdateRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.ObjID = d.uint64()
		case 2:
			m.HashKey = uint32(d.uint64())
		case 3:
			d.nested(m.Patch.unmarshal)
		}
	})
}

func (m *AddTagRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, m.ObjID)
	e.uint64(2, uint64(m.HashKey))
	e.string(3, m.Tag)
	return e.buf, nil
}

func (m *AddTagRequest) Unmarshal(b []byte) error {
	*m = AddTagRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.ObjID = d.uint64()
		case 2:
			m.HashKey = uint32(d.uint64())
		case 3:
			m.Tag = d.string()
		}
	})
}

func (m *DeleteByNameRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, uint64(m.HashKey))
	e.string(2, m.ObjName)
	e.int64(3, int64(m.TimeStep))
	return e.buf, nil
}

func (m *DeleteByNameRequest) Unmarshal(b []byte) error {
	*m = DeleteByNameRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.HashKey = uint32(d.uint64())
		case 2:
			m.ObjName = d.string()
		case 3:
			m.TimeStep = int32(d.int64())
		}
	})
}

func (m *DeleteByIDRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, m.ObjID)
	return e.buf, nil
}

func (m *DeleteByIDRequest) Unmarshal(b []byte) error {
	*m = DeleteByIDRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		if num == 1 {
			m.ObjID = d.uint64()
		}
	})
}

func (m *RegionLockRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, m.ObjID)
	e.int64(2, int64(m.Access))
	e.nested(3, func(b []byte) []byte { return appendRegion(b, &m.Region) })
	e.bool(4, m.Mapped)
	e.uint64(5, m.RemoteObjID)
	e.uint64(6, uint64(m.RemoteClientID))
	e.nested(7, func(b []byte) []byte { return appendRegion(b, &m.RemoteRegion) })
	return e.buf, nil
}

func (m *RegionLockRequest) Unmarshal(b []byte) error {
	*m = RegionLockRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.ObjID = d.uint64()
		case 2:
			m.Access = AccessType(d.int64())
		case 3:
			d.nested(m.Region.unmarshal)
		case 4:
			m.Mapped = d.bool()
		case 5:
			m.RemoteObjID = d.uint64()
		case 6:
			m.RemoteClientID = uint32(d.uint64())
		case 7:
			d.nested(m.RemoteRegion.unmarshal)
		}
	})
}

func (m *RegionLockResponse) Marshal() ([]byte, error) {
	e := encoder{}
	e.bool(1, m.Granted)
	return e.buf, nil
}

func (m *RegionLockResponse) Unmarshal(b []byte) error {
	*m = RegionLockResponse{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		if num == 1 {
			m.Granted = d.bool()
		}
	})
}

func (m *MapRegionRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, m.LocalObjID)
	e.nested(2, func(b []byte) []byte { return appendRegion(b, &m.LocalRegion) })
	e.uint64(3, m.RemoteObjID)
	e.nested(4, func(b []byte) []byte { return appendRegion(b, &m.RemoteRegion) })
	e.uint64(5, uint64(m.RemoteClientID))
	e.string(6, m.ShmName)
	return e.buf, nil
}

func (m *MapRegionRequest) Unmarshal(b []byte) error {
	*m = MapRegionRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.LocalObjID = d.uint64()
		case 2:
			d.nested(m.LocalRegion.unmarshal)
		case 3:
			m.RemoteObjID = d.uint64()
		case 4:
			d.nested(m.RemoteRegion.unmarshal)
		case 5:
			m.RemoteClientID = uint32(d.uint64())
		case 6:
			m.ShmName = d.string()
		}
	})
}

func (m *GetStorageInfoRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, m.ObjID)
	e.nested(2, func(b []byte) []byte { return appendRegion(b, &m.Region) })
	e.bool(3, m.Legacy)
	return e.buf, nil
}

func (m *GetStorageInfoRequest) Unmarshal(b []byte) error {
	*m = GetStorageInfoRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.ObjID = d.uint64()
		case 2:
			d.nested(m.Region.unmarshal)
		case 3:
			m.Legacy = d.bool()
		}
	})
}

func (m *GetStorageInfoResponse) Marshal() ([]byte, error) {
	e := encoder{}
	e.bytes(1, m.Locations)
	return e.buf, nil
}

func (m *GetStorageInfoResponse) Unmarshal(b []byte) error {
	*m = GetStorageInfoResponse{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		if num == 1 {
			m.Locations = append([]byte(nil), d.bytes()...)
		}
	})
}

func (m *GetMetadataByIDRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, m.ObjID)
	return e.buf, nil
}

func (m *GetMetadataByIDRequest) Unmarshal(b []byte) error {
	*m = GetMetadataByIDRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		if num == 1 {
			m.ObjID = d.uint64()
		}
	})
}

func (m *GetMetadataByIDResponse) Marshal() ([]byte, error) {
	e := encoder{}
	e.bool(1, m.Found)
	e.nested(2, func(b []byte) []byte { return appendMetadata(b, &m.Meta) })
	return e.buf, nil
}

func (m *GetMetadataByIDResponse) Unmarshal(b []byte) error {
	*m = GetMetadataByIDResponse{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.Found = d.bool()
		case 2:
			d.nested(m.Meta.unmarshal)
		}
	})
}

func (m *UpdateRegionLocationRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, m.ObjID)
	e.nested(2, func(b []byte) []byte { return appendLocation(b, &m.Location) })
	return e.buf, nil
}

func (m *UpdateRegionLocationRequest) Unmarshal(b []byte) error {
	*m = UpdateRegionLocationRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.ObjID = d.uint64()
		case 2:
			d.nested(m.Location.unmarshal)
		}
	})
}

func (m *DataIORequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, uint64(m.ClientID))
	e.uint64(2, uint64(m.NClient))
	e.int64(3, int64(m.Access))
	e.nested(4, func(b []byte) []byte { return appendMetadata(b, &m.Meta) })
	e.nested(5, func(b []byte) []byte { return appendRegion(b, &m.Region) })
	e.string(6, m.ShmName)
	return e.buf, nil
}

func (m *DataIORequest) Unmarshal(b []byte) error {
	*m = DataIORequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.ClientID = uint32(d.uint64())
		case 2:
			m.NClient = uint32(d.uint64())
		case 3:
			m.Access = AccessType(d.int64())
		case 4:
			d.nested(m.Meta.unmarshal)
		case 5:
			d.nested(m.Region.unmarshal)
		case 6:
			m.ShmName = d.string()
		}
	})
}

func (m *DataIOResponse) Marshal() ([]byte, error) {
	e := encoder{}
	e.string(1, m.ShmName)
	return e.buf, nil
}

func (m *DataIOResponse) Unmarshal(b []byte) error {
	*m = DataIOResponse{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		if num == 1 {
			m.ShmName = d.string()
		}
	})
}

func (m *IOCheckRequest) Marshal() ([]byte, error) {
	e := encoder{}
	e.uint64(1, uint64(m.ClientID))
	e.uint64(2, m.ObjID)
	e.nested(3, func(b []byte) []byte { return appendRegion(b, &m.Region) })
	return e.buf, nil
}

func (m *IOCheckRequest) Unmarshal(b []byte) error {
	*m = IOCheckRequest{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.ClientID = uint32(d.uint64())
		case 2:
			m.ObjID = d.uint64()
		case 3:
			d.nested(m.Region.unmarshal)
		}
	})
}

func (m *IOCheckResponse) Marshal() ([]byte, error) {
	e := encoder{}
	e.int64(1, int64(m.Ready))
	e.string(2, m.ShmName)
	return e.buf, nil
}

func (m *IOCheckResponse) Unmarshal(b []byte) error {
	*m = IOCheckResponse{}
	return decodeFields(b, func(num protowire.Number, d *fieldDecoder) {
		switch num {
		case 1:
			m.Ready = int32(d.int64())
		case 2:
			m.ShmName = d.string()
		}
	})
}
