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

// Package regionio moves region data between storage files and buffers.
//
// Region data is laid out with dimension 0 varying fastest, both in a stored
// region of a file and in a request buffer. A read copies every stored region
// overlapping the request into its place in the buffer, a write appends the
// whole buffer to the shard's data file of the object.
package regionio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"
	"golang.org/x/sync/errgroup"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/geometry"
	"github.com/cubefs/objmeta/metrics"
	"github.com/cubefs/objmeta/proto"
	"github.com/cubefs/objmeta/shardserver/store"
	"github.com/cubefs/objmeta/util/limiter"
)

const (
	maxOverlapDim       = 3
	defaultUnitSize     = 1
	defaultReadParallel = 4
)

// Locator finds and records storage locations on the owner shard of an object
type Locator interface {
	GetStorageInfo(ctx context.Context, objID uint64, region proto.Region) ([]proto.StorageLocation, error)
	UpdateRegionLocation(ctx context.Context, objID uint64, loc proto.StorageLocation) error
}

type Config struct {
	Rank         uint32              `json:"rank"`
	UnitSize     uint64              `json:"unit_size"`
	ReadParallel int                 `json:"read_parallel"`
	LimitConfig  limiter.LimitConfig `json:"limit_config"`
}

type Engine struct {
	rank     uint32
	unitSize uint64
	parallel int

	fs       store.DataFS
	shm      *store.ShmStore
	limiter  limiter.Limiter
	locator  Locator
	notifier Notifier
	taskPool taskpool.TaskPool

	// serializes appends so the end of file offset is the write offset
	appendMu sync.Mutex

	mu      sync.Mutex
	lists   map[listKey][]*ioList
	running sync.WaitGroup
}

func NewEngine(cfg *Config, fs store.DataFS, shm *store.ShmStore, locator Locator, notifier Notifier, taskPool taskpool.TaskPool) *Engine {
	initConfig(cfg)
	if notifier == nil {
		notifier = logNotifier{}
	}
	return &Engine{
		rank:     cfg.Rank,
		unitSize: cfg.UnitSize,
		parallel: cfg.ReadParallel,
		fs:       fs,
		shm:      shm,
		limiter:  limiter.NewLimiter(cfg.LimitConfig),
		locator:  locator,
		notifier: notifier,
		taskPool: taskPool,
		lists:    make(map[listKey][]*ioList),
	}
}

func initConfig(cfg *Config) {
	if cfg.UnitSize == 0 {
		cfg.UnitSize = defaultUnitSize
	}
	if cfg.ReadParallel <= 0 {
		cfg.ReadParallel = defaultReadParallel
	}
}

func (e *Engine) UnitSize() uint64 {
	return e.unitSize
}

func (e *Engine) Limiter() limiter.Limiter {
	return e.limiter
}

// DataPath is the data file of objID written by this shard
func (e *Engine) DataPath(objID uint64) string {
	return fmt.Sprintf("%d/shard%d/s%04d.bin", objID, e.rank, e.rank)
}

// Read fills buf, laid out as req, from the stored regions locs. Stored
// regions not overlapping req are skipped. Where stored regions overlap each
// other the one later in locs wins. The bytes read must add up to the
// overlap volumes, a short read fails the whole request.
func (e *Engine) Read(ctx context.Context, req proto.Region, buf []byte, locs []proto.StorageLocation) error {
	if req.Ndim == 0 || req.Ndim > maxOverlapDim {
		return apierrors.ErrUnsupportedDimension
	}
	if err := geometry.Validate(req); err != nil {
		return err
	}
	if uint64(len(buf)) < geometry.Volume(req)*e.unitSize {
		return apierrors.ErrBufferTooSmall
	}
	if err := e.limiter.AcquireRead(); err != nil {
		return err
	}
	defer e.limiter.ReleaseRead()

	var expected uint64
	pieces := make([]piece, 0, len(locs))
	for i := range locs {
		if locs[i].Region.Ndim != req.Ndim {
			return apierrors.ErrInvalidDimension
		}
		in, ok := geometry.Intersect(req, locs[i].Region)
		if !ok {
			continue
		}
		expected += geometry.Volume(in) * e.unitSize
		pieces = append(pieces, piece{stored: &locs[i], overlap: in})
	}

	var total uint64
	for _, batch := range batchPieces(pieces) {
		n, err := e.readBatch(ctx, req, buf, batch)
		total += n
		if err != nil {
			return err
		}
	}

	metrics.IOBytes.WithLabelValues("read").Add(float64(total))
	if total != expected {
		trace.SpanFromContextSafe(ctx).Errorf("read %d bytes of region %+v, expected %d", total, req, expected)
		return apierrors.ErrShortRead
	}
	return nil
}

type piece struct {
	stored  *proto.StorageLocation
	overlap proto.Region
}

// batchPieces splits pieces, in order, into runs whose overlaps are pairwise
// disjoint. A piece overlapping an earlier one of the current run starts a
// new run, so it is copied after the piece it overwrites.
func batchPieces(pieces []piece) [][]piece {
	var (
		ret   [][]piece
		start int
	)
	for i := range pieces {
		for j := start; j < i; j++ {
			if geometry.Overlaps(pieces[i].overlap, pieces[j].overlap) {
				ret = append(ret, pieces[start:i])
				start = i
				break
			}
		}
	}
	if start < len(pieces) {
		ret = append(ret, pieces[start:])
	}
	return ret
}

// readBatch copies disjoint pieces into buf in parallel
func (e *Engine) readBatch(ctx context.Context, req proto.Region, buf []byte, batch []piece) (uint64, error) {
	var (
		g     errgroup.Group
		mu    sync.Mutex
		total uint64
	)
	g.SetLimit(e.parallel)
	for i := range batch {
		p := batch[i]
		g.Go(func() error {
			n, err := e.readPiece(ctx, req, buf, p)
			mu.Lock()
			total += n
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return total, err
}

// readPiece copies one overlap into buf. The whole piece is one contiguous
// read when it is contiguous both in the file and in the buffer, otherwise
// it is read row by row along dimension 0, plane by plane for 3 dimensions.
func (e *Engine) readPiece(ctx context.Context, req proto.Region, buf []byte, p piece) (uint64, error) {
	span := trace.SpanFromContextSafe(ctx)
	unit := e.unitSize
	s, ov := &p.stored.Region, &p.overlap

	f, err := e.fs.OpenDataFile(p.stored.Path)
	if err != nil {
		span.Errorf("open %s failed: %s", p.stored.Path, err)
		return 0, errors.Info(apierrors.ErrOpenFile, p.stored.Path, err.Error())
	}
	defer f.Close()
	r := e.limiter.ReaderAt(ctx, f)

	reqStride := strides(req)
	fileStride := strides(*s)
	var bufOff, fileOff uint64
	for d := uint32(0); d < req.Ndim; d++ {
		bufOff += (ov.Start[d] - req.Start[d]) * reqStride[d]
		fileOff += (ov.Start[d] - s.Start[d]) * fileStride[d]
	}

	if contiguous(req, *s, *ov) {
		size := geometry.Volume(*ov) * unit
		return readFull(r, buf[bufOff*unit:bufOff*unit+size], p.stored.Offset+fileOff*unit)
	}

	var (
		total    uint64
		rowBytes = ov.Count[0] * unit
		planes   = uint64(1)
	)
	if req.Ndim == 3 {
		planes = ov.Count[2]
	}
	for j := uint64(0); j < planes; j++ {
		for i := uint64(0); i < ov.Count[1]; i++ {
			src := p.stored.Offset + (fileOff+i*fileStride[1]+j*fileStride[2])*unit
			dst := (bufOff + i*reqStride[1] + j*reqStride[2]) * unit
			n, err := readFull(r, buf[dst:dst+rowBytes], src)
			total += n
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func readFull(r io.ReaderAt, p []byte, off uint64) (uint64, error) {
	n, err := r.ReadAt(p, int64(off))
	if n == len(p) {
		return uint64(n), nil
	}
	if err == nil || err == io.EOF {
		err = apierrors.ErrShortRead
	}
	return uint64(n), err
}

// strides of a region in elements, dimension 0 fastest
func strides(r proto.Region) [proto.DimMax]uint64 {
	var ret [proto.DimMax]uint64
	ret[0] = 1
	for d := 1; d < proto.DimMax; d++ {
		ret[d] = ret[d-1] * r.Count[d-1]
	}
	return ret
}

// contiguous reports whether ov is one run of bytes in the stored region and
// in the request buffer
func contiguous(req, stored, ov proto.Region) bool {
	return isRun(stored, ov) && isRun(req, ov)
}

func isRun(outer, inner proto.Region) bool {
	// all dimensions below the outermost selected one must be complete
	last := int(inner.Ndim) - 1
	for last > 0 && inner.Count[last] == 1 {
		last--
	}
	for d := 0; d < last; d++ {
		if inner.Count[d] != outer.Count[d] {
			return false
		}
	}
	return true
}

// WriteAppend appends data, the content of region, to the data file of objID
// and returns where it landed
func (e *Engine) WriteAppend(ctx context.Context, objID uint64, region proto.Region, data []byte) (proto.StorageLocation, error) {
	if err := geometry.Validate(region); err != nil {
		return proto.StorageLocation{}, err
	}
	size := geometry.Volume(region) * e.unitSize
	if uint64(len(data)) < size {
		return proto.StorageLocation{}, apierrors.ErrBufferTooSmall
	}
	if err := e.limiter.AcquireWrite(); err != nil {
		return proto.StorageLocation{}, err
	}
	defer e.limiter.ReleaseWrite()

	span := trace.SpanFromContextSafe(ctx)
	name := e.DataPath(objID)

	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	f, err := e.fs.CreateAppendFile(name)
	if err != nil {
		span.Errorf("create %s failed: %s", name, err)
		return proto.StorageLocation{}, errors.Info(apierrors.ErrOpenFile, name, err.Error())
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return proto.StorageLocation{}, err
	}
	n, err := e.limiter.Writer(ctx, f).Write(data[:size])
	metrics.IOBytes.WithLabelValues("write").Add(float64(n))
	if err != nil {
		span.Errorf("append %d bytes to %s failed: %s", size, name, err)
		return proto.StorageLocation{}, err
	}
	if uint64(n) != size {
		return proto.StorageLocation{}, apierrors.ErrShortWrite
	}

	return proto.StorageLocation{
		Region: region,
		Path:   e.fs.Path(name),
		Offset: uint64(offset),
	}, nil
}

// ReadDirect reads region of objID into buf through the owner's locations
func (e *Engine) ReadDirect(ctx context.Context, objID uint64, region proto.Region, buf []byte) error {
	locs, err := e.locator.GetStorageInfo(ctx, objID, region)
	if err != nil {
		return err
	}
	return e.Read(ctx, region, buf, locs)
}

// WriteDirect appends data as region of objID and records the location on
// the owner shard
func (e *Engine) WriteDirect(ctx context.Context, objID uint64, region proto.Region, data []byte) (proto.StorageLocation, error) {
	loc, err := e.WriteAppend(ctx, objID, region, data)
	if err != nil {
		return loc, err
	}
	if err := e.locator.UpdateRegionLocation(ctx, objID, loc); err != nil {
		return loc, err
	}
	return loc, nil
}
