// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"sync"
	"time"
)

const (
	// DefaultTargetSamples is 100 ms of PCM16 at 24 kHz.
	DefaultTargetSamples = 2400
	// DefaultFlushInterval bounds how long a partial buffer may sit before a
	// periodic flush pushes it out.
	DefaultFlushInterval = 100 * time.Millisecond
	// FlushTickInterval is how often the owner should call FlushStale.
	FlushTickInterval = 50 * time.Millisecond
)

// FrameBuffer accumulates small inbound PCM chunks (~20 ms from the
// telephony leg) into larger blocks (~100 ms) for the AI leg. Amortises
// per-message overhead while bounding added latency to the flush interval.
type FrameBuffer struct {
	mu            sync.Mutex
	buf           []int16
	targetSamples int
	flushInterval time.Duration
	lastFlush     time.Time
	clock         func() time.Time
}

// FrameBufferOption configures a FrameBuffer.
type FrameBufferOption func(*FrameBuffer)

// WithTargetSamples overrides the block size that triggers a flush.
func WithTargetSamples(n int) FrameBufferOption {
	return func(fb *FrameBuffer) { fb.targetSamples = n }
}

// WithFlushInterval overrides the maximum age of a partial buffer.
func WithFlushInterval(d time.Duration) FrameBufferOption {
	return func(fb *FrameBuffer) { fb.flushInterval = d }
}

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) FrameBufferOption {
	return func(fb *FrameBuffer) { fb.clock = clock }
}

// NewFrameBuffer creates a frame buffer with the default 100 ms block size.
func NewFrameBuffer(opts ...FrameBufferOption) *FrameBuffer {
	fb := &FrameBuffer{
		targetSamples: DefaultTargetSamples,
		flushInterval: DefaultFlushInterval,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(fb)
	}
	fb.buf = make([]int16, 0, fb.targetSamples*2)
	fb.lastFlush = fb.clock()
	return fb
}

// Append adds samples and returns a full block once the accumulated length
// reaches the target, or nil while still accumulating. The returned block is
// the entire buffered content, so its length may exceed the target.
func (fb *FrameBuffer) Append(samples []int16) []int16 {
	if len(samples) == 0 {
		return nil
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.buf = append(fb.buf, samples...)
	if len(fb.buf) < fb.targetSamples {
		return nil
	}
	return fb.takeLocked()
}

// FlushStale returns the held samples if any are present and the flush
// interval has elapsed since the last flush, otherwise nil. Intended to be
// driven by a periodic tick.
func (fb *FrameBuffer) FlushStale(now time.Time) []int16 {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if len(fb.buf) == 0 || now.Sub(fb.lastFlush) < fb.flushInterval {
		return nil
	}
	return fb.takeLocked()
}

// Drain returns whatever is held, possibly nil. Used at shutdown.
func (fb *FrameBuffer) Drain() []int16 {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if len(fb.buf) == 0 {
		return nil
	}
	return fb.takeLocked()
}

// Len reports the currently buffered sample count.
func (fb *FrameBuffer) Len() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.buf)
}

func (fb *FrameBuffer) takeLocked() []int16 {
	out := make([]int16, len(fb.buf))
	copy(out, fb.buf)
	fb.buf = fb.buf[:0]
	fb.lastFlush = fb.clock()
	return out
}
