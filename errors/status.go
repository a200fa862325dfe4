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

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var codeOf = map[error]codes.Code{
	ErrObjectNotExist:  codes.NotFound,
	ErrRegionNotFound:  codes.NotFound,
	ErrNoOverlapRegion: codes.NotFound,
	ErrIOListNotFound:  codes.NotFound,

	ErrObjectExist:  codes.AlreadyExists,
	ErrLockConflict: codes.Aborted,

	ErrInvalidDimension:     codes.InvalidArgument,
	ErrInvalidRegion:        codes.InvalidArgument,
	ErrUnsupportedDimension: codes.InvalidArgument,
	ErrDelimiterMismatch:    codes.InvalidArgument,
	ErrInvalidWireData:      codes.InvalidArgument,
	ErrEmptyLocation:        codes.InvalidArgument,
	ErrNoFillValue:          codes.InvalidArgument,
	ErrInvalidAccessType:    codes.InvalidArgument,
	ErrTooManyClients:       codes.InvalidArgument,
	ErrFieldTooLong:         codes.InvalidArgument,

	ErrTooManyOverlapRegions: codes.ResourceExhausted,
	ErrOpenFile:              codes.Internal,
	ErrShmBuffer:             codes.Internal,
	ErrBufferTooSmall:        codes.InvalidArgument,

	ErrShortRead:  codes.DataLoss,
	ErrShortWrite: codes.DataLoss,

	ErrCatalogNotInit:    codes.FailedPrecondition,
	ErrServerClosed:      codes.Unavailable,
	ErrCorruptCheckpoint: codes.DataLoss,
	ErrUnknownShard:      codes.FailedPrecondition,
	ErrNoTransport:       codes.FailedPrecondition,
}

var byMessage = func() map[string]error {
	m := make(map[string]error, len(codeOf))
	for err := range codeOf {
		m[err.Error()] = err
	}
	return m
}()

// ToStatus converts err to a grpc status error, a known sentinel keeps its
// message so the peer can recover it
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for sentinel, code := range codeOf {
		if errors.Is(err, sentinel) {
			return status.Error(code, sentinel.Error())
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}

// FromStatus converts a grpc status error back to its sentinel
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if sentinel, ok := byMessage[st.Message()]; ok && codeOf[sentinel] == st.Code() {
		return sentinel
	}
	return err
}
