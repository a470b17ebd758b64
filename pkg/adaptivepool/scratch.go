// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

import "sync"

// scratchPool recycles the per-sub-range buffers of the channels-last kernels.
//
// Buffers are acquired once per parallel-for sub-range and released with defer, never
// inside the window loops.
type scratchPool[T any] struct {
	pool sync.Pool
}

var (
	int32Scratch   scratchPool[int32]
	float32Scratch scratchPool[float32]
)

// get returns a buffer with length size. Its contents are undefined.
func (p *scratchPool[T]) get(size int) *[]T {
	if v := p.pool.Get(); v != nil {
		buf := v.(*[]T)
		if cap(*buf) >= size {
			*buf = (*buf)[:size]
			return buf
		}
	}
	buf := make([]T, size)
	return &buf
}

// put returns the buffer to the pool. The caller must drop any reference to it.
func (p *scratchPool[T]) put(buf *[]T) {
	p.pool.Put(buf)
}
