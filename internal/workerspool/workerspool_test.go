// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// coverage runs ParallelFor and returns how many times each index was visited and the sub-ranges used.
func coverage(pool *Pool, begin, end, grain int) (visits []int32, ranges [][2]int) {
	visits = make([]int32, end)
	var mu sync.Mutex
	pool.ParallelFor(begin, end, grain, func(lo, hi int) {
		mu.Lock()
		ranges = append(ranges, [2]int{lo, hi})
		mu.Unlock()
		for i := lo; i < hi; i++ {
			atomic.AddInt32(&visits[i], 1)
		}
	})
	return
}

func TestPool_ParallelFor(t *testing.T) {
	for _, parallelism := range []int{-1, 0, 1, 3, 8} {
		pool := New()
		pool.SetMaxParallelism(parallelism)
		for _, r := range [][2]int{{0, 1}, {0, 7}, {3, 100}, {0, 1031}} {
			visits, ranges := coverage(pool, r[0], r[1], 0)
			for i := range r[0] {
				assert.Zerof(t, visits[i], "parallelism=%d: index %d outside the range was visited", parallelism, i)
			}
			for i := r[0]; i < r[1]; i++ {
				require.Equalf(t, int32(1), visits[i], "parallelism=%d, range=%v: index %d", parallelism, r, i)
			}
			if parallelism == 0 || parallelism == 1 {
				assert.Len(t, ranges, 1)
			}
		}
	}
}

func TestPool_ParallelForGrain(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(16)
	_, ranges := coverage(pool, 0, 100, 30)
	// At most ceil(100/30)=4 chunks.
	assert.LessOrEqual(t, len(ranges), 4)
	for _, r := range ranges {
		assert.Greater(t, r[1], r[0])
	}
}

func TestPool_ParallelForEmpty(t *testing.T) {
	pool := New()
	var called atomic.Bool
	pool.ParallelFor(5, 5, 0, func(lo, hi int) { called.Store(true) })
	pool.ParallelFor(5, 2, 0, func(lo, hi int) { called.Store(true) })
	assert.False(t, called.Load())
}

func TestPool_WaitToStart(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(2)
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	release := make(chan struct{})
	for range 6 {
		wg.Add(1)
		go pool.WaitToStart(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		})
	}
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))

	// Disabled parallelism runs inline.
	pool.SetMaxParallelism(0)
	ran := false
	pool.WaitToStart(func() { ran = true })
	assert.True(t, ran)
}
