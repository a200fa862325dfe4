// Copyright 2023 The Cuber Authors.
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

// Package limiter throttles the storage file traffic of a shard: a
// concurrency limit per direction and a bandwidth limit per direction.
package limiter

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var ErrLimitExceeded = errors.New("limit exceeded")

const mb = 1 << 20

type (
	Limiter interface {
		AcquireRead() error
		ReleaseRead()
		AcquireWrite() error
		ReleaseWrite()
		ReaderAt(ctx context.Context, r io.ReaderAt) LimitReaderAt
		Writer(ctx context.Context, w io.Writer) LimitWriter
		SetReadConcurrency(value uint32)
		SetWriteConcurrency(value uint32)
		SetReadMBPS(mbps int)
		SetWriteMBPS(mbps int)
		GetConfig() LimitConfig
		Status() Status
	}
	LimitReaderAt interface {
		WaitN(n int) error
		io.ReaderAt
	}
	LimitWriter interface {
		WaitN(n int) error
		io.Writer
	}
	CountLimit interface {
		Running() int
		Acquire() error
		Release()
		SetLimit(limit uint32)
	}
	// LimitConfig zero values disable the matching limit
	LimitConfig struct {
		ReadConcurrency  int `json:"read_concurrency"`
		WriteConcurrency int `json:"write_concurrency"`
		ReadMBPS         int `json:"read_mbps"`
		WriteMBPS        int `json:"write_mbps"`
	}
	Status struct {
		Config       LimitConfig `json:"config"`
		ReadRunning  int         `json:"read_running"`
		WriteRunning int         `json:"write_running"`
		ReadWait     int         `json:"read_wait_ms"`
		WriteWait    int         `json:"write_wait_ms"`
	}
	readerAt struct {
		ctx        context.Context
		rate       *rate.Limiter
		underlying io.ReaderAt
	}
	writer struct {
		ctx        context.Context
		rate       *rate.Limiter
		underlying io.Writer
	}
	noopLimitReaderAt struct {
		underlying io.ReaderAt
	}
	noopLimitWriter struct {
		underlying io.Writer
	}
	limiter struct {
		config          LimitConfig
		readCountLimit  CountLimit
		writeCountLimit CountLimit
		rateReader      *rate.Limiter
		rateWriter      *rate.Limiter
	}
)

func (r *readerAt) ReadAt(p []byte, off int64) (n int, err error) {
	if err = waitN(r.ctx, r.rate, len(p)); err != nil {
		return 0, err
	}
	return r.underlying.ReadAt(p, off)
}

func (r *readerAt) WaitN(n int) error {
	return waitN(r.ctx, r.rate, n)
}

func (w *writer) Write(p []byte) (n int, err error) {
	if err = waitN(w.ctx, w.rate, len(p)); err != nil {
		return 0, err
	}
	return w.underlying.Write(p)
}

func (w *writer) WaitN(n int) error {
	return waitN(w.ctx, w.rate, n)
}

func (nr *noopLimitReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	return nr.underlying.ReadAt(p, off)
}

func (nr *noopLimitReaderAt) WaitN(n int) error {
	return nil
}

func (nw *noopLimitWriter) Write(p []byte) (n int, err error) {
	return nw.underlying.Write(p)
}

func (nw *noopLimitWriter) WaitN(n int) error {
	return nil
}

// waitN takes n tokens in pieces no larger than the burst, a region chunk may
// be bigger than one second of bandwidth
func waitN(ctx context.Context, r *rate.Limiter, n int) error {
	burst := r.Burst()
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := r.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

func NewLimiter(cfg LimitConfig) Limiter {
	limiter := &limiter{}
	if cfg.ReadConcurrency > 0 {
		limiter.readCountLimit = NewCountLimit(cfg.ReadConcurrency)
	}
	if cfg.WriteConcurrency > 0 {
		limiter.writeCountLimit = NewCountLimit(cfg.WriteConcurrency)
	}
	if cfg.ReadMBPS > 0 {
		limiter.rateReader = rate.NewLimiter(rate.Limit(cfg.ReadMBPS*mb), cfg.ReadMBPS*mb)
	}
	if cfg.WriteMBPS > 0 {
		limiter.rateWriter = rate.NewLimiter(rate.Limit(cfg.WriteMBPS*mb), cfg.WriteMBPS*mb)
	}
	limiter.config = cfg

	return limiter
}

func (lim *limiter) AcquireRead() error {
	if lim.readCountLimit != nil {
		return lim.readCountLimit.Acquire()
	}
	return nil
}

func (lim *limiter) AcquireWrite() error {
	if lim.writeCountLimit != nil {
		return lim.writeCountLimit.Acquire()
	}
	return nil
}

func (lim *limiter) ReleaseRead() {
	if lim.readCountLimit != nil {
		lim.readCountLimit.Release()
	}
}

func (lim *limiter) ReleaseWrite() {
	if lim.writeCountLimit != nil {
		lim.writeCountLimit.Release()
	}
}

func (lim *limiter) ReaderAt(ctx context.Context, r io.ReaderAt) LimitReaderAt {
	if lim.rateReader != nil {
		return &readerAt{
			ctx:        ctx,
			rate:       lim.rateReader,
			underlying: r,
		}
	}
	return &noopLimitReaderAt{underlying: r}
}

func (lim *limiter) Writer(ctx context.Context, w io.Writer) LimitWriter {
	if lim.rateWriter != nil {
		return &writer{
			ctx:        ctx,
			rate:       lim.rateWriter,
			underlying: w,
		}
	}
	return &noopLimitWriter{underlying: w}
}

func (lim *limiter) SetReadConcurrency(value uint32) {
	if lim.readCountLimit == nil {
		lim.readCountLimit = NewCountLimit(int(value))
	} else {
		lim.readCountLimit.SetLimit(value)
	}
	lim.config.ReadConcurrency = int(value)
}

func (lim *limiter) SetWriteConcurrency(value uint32) {
	if lim.writeCountLimit == nil {
		lim.writeCountLimit = NewCountLimit(int(value))
	} else {
		lim.writeCountLimit.SetLimit(value)
	}
	lim.config.WriteConcurrency = int(value)
}

func (lim *limiter) SetReadMBPS(mbps int) {
	if lim.rateReader == nil {
		lim.rateReader = rate.NewLimiter(rate.Limit(mbps*mb), mbps*mb)
	} else {
		lim.rateReader.SetLimit(rate.Limit(mbps * mb))
		lim.rateReader.SetBurst(mbps * mb)
	}
	lim.config.ReadMBPS = mbps
}

func (lim *limiter) SetWriteMBPS(mbps int) {
	if lim.rateWriter == nil {
		lim.rateWriter = rate.NewLimiter(rate.Limit(mbps*mb), mbps*mb)
	} else {
		lim.rateWriter.SetLimit(rate.Limit(mbps * mb))
		lim.rateWriter.SetBurst(mbps * mb)
	}
	lim.config.WriteMBPS = mbps
}

func (lim *limiter) GetConfig() LimitConfig {
	return lim.config
}

func (lim *limiter) Status() Status {
	st := Status{Config: lim.config}
	if lim.readCountLimit != nil {
		st.ReadRunning = lim.readCountLimit.Running()
	}
	if lim.writeCountLimit != nil {
		st.WriteRunning = lim.writeCountLimit.Running()
	}
	st.ReadWait = rateWait(lim.rateReader)
	st.WriteWait = rateWait(lim.rateWriter)
	return st
}

// rateWait estimates in milliseconds how long half a second of traffic
// would wait now
func rateWait(r *rate.Limiter) int {
	if r == nil {
		return 0
	}
	now := time.Now()
	reserve := r.ReserveN(now, int(r.Limit())/2)
	duration := reserve.DelayFrom(now)
	reserve.Cancel()
	return int(duration.Milliseconds())
}

const minusOne = ^uint32(0)

type countLimit struct {
	limit   uint32
	current uint32
}

// NewCountLimit returns limiter with concurrent n
func NewCountLimit(n int) CountLimit {
	return &countLimit{limit: uint32(n)}
}

func (l *countLimit) Running() int {
	return int(atomic.LoadUint32(&l.current))
}

func (l *countLimit) Acquire() error {
	if atomic.AddUint32(&l.current, 1) > atomic.LoadUint32(&l.limit) {
		atomic.AddUint32(&l.current, minusOne)
		return ErrLimitExceeded
	}
	return nil
}

func (l *countLimit) Release() {
	atomic.AddUint32(&l.current, minusOne)
}

func (l *countLimit) SetLimit(limit uint32) {
	atomic.StoreUint32(&l.limit, limit)
}
