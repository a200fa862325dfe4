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

package regionio

import (
	"context"
	"fmt"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	apierrors "github.com/cubefs/objmeta/errors"
	"github.com/cubefs/objmeta/geometry"
	"github.com/cubefs/objmeta/proto"
)

const (
	StatePending = int32(0)
	StateReady   = int32(1)
	StateFailed  = int32(-1)
)

// Notifier tells a client its region of a collective request is done
type Notifier interface {
	Notify(ctx context.Context, clientID uint32, objID uint64, access proto.AccessType, state int32) error
}

type logNotifier struct{}

func (logNotifier) Notify(ctx context.Context, clientID uint32, objID uint64, access proto.AccessType, state int32) error {
	trace.SpanFromContextSafe(ctx).Infof("%s of obj[%d] for client[%d] finished, state: %d", access, objID, clientID, state)
	return nil
}

type listKey struct {
	access proto.AccessType
	objID  uint64
}

type ioRegion struct {
	clientID uint32
	region   proto.Region
	shmName  string
	state    int32
}

// ioList gathers the requests of one collective read or write of an object.
// It executes once nClient requests arrived, later requests open a new list.
type ioList struct {
	key     listKey
	nClient int
	regions []*ioRegion
	full    bool
}

// Submit adds one client request to the pending list of its object. The
// request that completes the list schedules the whole list on the task pool.
func (e *Engine) Submit(ctx context.Context, req *proto.DataIORequest) error {
	if req.Access != proto.AccessRead && req.Access != proto.AccessWrite {
		return apierrors.ErrInvalidAccessType
	}
	if req.NClient > proto.MaxProcPerNode {
		return apierrors.ErrTooManyClients
	}
	if err := geometry.Validate(req.Region); err != nil {
		return err
	}
	span := trace.SpanFromContextSafe(ctx)
	key := listKey{access: req.Access, objID: req.Meta.ObjID}
	nClient := int(req.NClient)
	if nClient == 0 {
		nClient = 1
	}

	e.mu.Lock()
	lists := e.lists[key]
	var l *ioList
	if len(lists) > 0 && !lists[len(lists)-1].full {
		l = lists[len(lists)-1]
	} else {
		l = &ioList{key: key, nClient: nClient}
		e.lists[key] = append(lists, l)
	}
	for _, r := range l.regions {
		if r.clientID == req.ClientID {
			e.mu.Unlock()
			span.Warnf("client[%d] already joined %s list of obj[%d]", req.ClientID, req.Access, key.objID)
			return apierrors.ErrTooManyClients
		}
	}
	l.regions = append(l.regions, &ioRegion{
		clientID: req.ClientID,
		region:   req.Region,
		shmName:  req.ShmName,
		state:    StatePending,
	})
	if len(l.regions) < l.nClient {
		e.mu.Unlock()
		span.Debugf("%s list of obj[%d] has %d/%d requests", req.Access, key.objID, len(l.regions), l.nClient)
		return nil
	}
	l.full = true
	regions := make([]ioRegion, len(l.regions))
	for i := range l.regions {
		regions[i] = *l.regions[i]
	}
	e.running.Add(1)
	e.mu.Unlock()

	traceID := span.TraceID()
	e.taskPool.Run(func() {
		defer e.running.Done()
		_, taskCtx := trace.StartSpanFromContextWithTraceID(context.Background(), "", traceID)
		e.execute(taskCtx, l, regions)
	})
	return nil
}

func (e *Engine) execute(ctx context.Context, l *ioList, regions []ioRegion) {
	span := trace.SpanFromContextSafe(ctx)
	key := l.key
	var cmin, cmax uint32
	for i, r := range regions {
		if i == 0 || r.clientID < cmin {
			cmin = r.clientID
		}
		if i == 0 || r.clientID > cmax {
			cmax = r.clientID
		}
	}

	for i := range regions {
		r := &regions[i]
		var err error
		if key.access == proto.AccessRead {
			r.shmName = fmt.Sprintf("/%d_%d_%d_to_%d_%d", key.objID, e.rank, cmin, cmax, uuid.New().ID())
			err = e.readToShm(ctx, key.objID, r)
		} else {
			err = e.writeFromShm(ctx, key.objID, r)
		}
		if err != nil {
			span.Errorf("%s region %+v of obj[%d] for client[%d] failed: %s",
				key.access, r.region, key.objID, r.clientID, errors.Detail(err))
			r.state = StateFailed
			continue
		}
		r.state = StateReady
	}

	e.mu.Lock()
	for _, lr := range l.regions {
		for i := range regions {
			if lr.clientID == regions[i].clientID {
				lr.state = regions[i].state
				lr.shmName = regions[i].shmName
			}
		}
	}
	e.mu.Unlock()

	var err error
	for i := range regions {
		err = multierr.Append(err, e.notifier.Notify(ctx, regions[i].clientID, key.objID, key.access, regions[i].state))
	}
	if err != nil {
		span.Warnf("notify clients of obj[%d] failed: %s", key.objID, err)
	}
}

func (e *Engine) readToShm(ctx context.Context, objID uint64, r *ioRegion) error {
	locs, err := e.locator.GetStorageInfo(ctx, objID, r.region)
	if err != nil {
		return err
	}
	size := geometry.Volume(r.region) * e.unitSize
	buf, err := e.shm.Create(r.shmName, int(size))
	if err != nil {
		return err
	}
	if err = e.Read(ctx, r.region, buf.Bytes(), locs); err != nil {
		return multierr.Combine(err, buf.Close(), e.shm.Unlink(r.shmName))
	}
	// the client maps the buffer by name
	return buf.Close()
}

func (e *Engine) writeFromShm(ctx context.Context, objID uint64, r *ioRegion) error {
	buf, err := e.shm.Open(r.shmName)
	if err != nil {
		return errors.Info(apierrors.ErrShmBuffer, r.shmName, err.Error())
	}
	defer buf.Close()
	loc, err := e.WriteAppend(ctx, objID, r.region, buf.Bytes())
	if err != nil {
		return err
	}
	return e.locator.UpdateRegionLocation(ctx, objID, loc)
}

// ReadCheck reports the state of a client's region of a collective read and
// the name of the buffer holding the data once ready. A finished entry is
// removed by the check, from then on the client owns the buffer.
func (e *Engine) ReadCheck(ctx context.Context, objID uint64, clientID uint32) (int32, string) {
	state, name := e.check(ctx, listKey{access: proto.AccessRead, objID: objID}, clientID)
	if state != StateReady {
		return state, proto.NoChange
	}
	return state, name
}

func (e *Engine) WriteCheck(ctx context.Context, objID uint64, clientID uint32) int32 {
	state, _ := e.check(ctx, listKey{access: proto.AccessWrite, objID: objID}, clientID)
	return state
}

func (e *Engine) check(ctx context.Context, key listKey, clientID uint32) (int32, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lists := e.lists[key]
	for li, l := range lists {
		for ri, r := range l.regions {
			if r.clientID != clientID {
				continue
			}
			if r.state == StatePending {
				return StatePending, ""
			}
			l.regions = append(l.regions[:ri], l.regions[ri+1:]...)
			if l.full && len(l.regions) == 0 {
				lists = append(lists[:li], lists[li+1:]...)
				if len(lists) == 0 {
					delete(e.lists, key)
				} else {
					e.lists[key] = lists
				}
			}
			return r.state, r.shmName
		}
	}
	trace.SpanFromContextSafe(ctx).Warnf("%s list of obj[%d] has no entry of client[%d]", key.access, key.objID, clientID)
	return StateFailed, ""
}

// Close waits for running lists and removes read buffers nobody checked
func (e *Engine) Close() error {
	e.running.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	for key, lists := range e.lists {
		if key.access != proto.AccessRead {
			continue
		}
		for _, l := range lists {
			for _, r := range l.regions {
				if r.state == StateReady {
					err = multierr.Append(err, e.shm.Unlink(r.shmName))
				}
			}
		}
	}
	e.lists = make(map[listKey][]*ioList)
	return err
}
