// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of goroutines running kernel work and
// provides the parallel-for primitive used by the pooling kernels.
package workerspool

import (
	"runtime"
	"sync"

	"k8s.io/klog/v2"
)

// Pool of workers. The zero value is not usable, create it with New.
type Pool struct {
	// maxParallelism is a soft target on the number of tasks running concurrently.
	// 0 disables parallelism, and a negative value means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases.
	numRunning int
}

// New returns a Pool with parallelism set to runtime.NumCPU().
func New() *Pool {
	w := &Pool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (MaxParallelism() != 0).
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (MaxParallelism() < 0).
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is the soft target for parallelism.
// 0 means parallelism is disabled, and -1 means unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the soft target for parallelism.
//
// It should only be changed while no task is running, otherwise the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
// It must be called with w.mu held.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart blocks until a worker is available and then runs task in a new goroutine.
//
// If parallelism is disabled, task is run inline and WaitToStart returns only after it finishes.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// numChunks returns into how many sub-ranges a range of the given size is split.
func (w *Pool) numChunks(total, grain int) int {
	if !w.IsEnabled() || total <= 1 {
		return 1
	}
	target := w.maxParallelism
	if w.IsUnlimited() {
		target = runtime.NumCPU()
	}
	chunks := min(target, total)
	if grain > 0 {
		chunks = min(chunks, (total+grain-1)/grain)
	}
	return max(chunks, 1)
}

// ParallelFor calls body with non-overlapping sub-ranges [lo, hi) that together cover [begin, end).
//
// The sub-ranges run concurrently, and ParallelFor returns only after all of them completed.
// grain is an advisory minimum size for each sub-range: 0 lets the pool choose.
// The last sub-range is executed in the calling goroutine.
func (w *Pool) ParallelFor(begin, end, grain int, body func(lo, hi int)) {
	total := end - begin
	if total <= 0 {
		return
	}
	chunks := w.numChunks(total, grain)
	if chunks == 1 {
		body(begin, end)
		return
	}
	chunkSize := (total + chunks - 1) / chunks
	if klog.V(3).Enabled() {
		klog.Infof("ParallelFor([%d, %d), grain=%d): %d chunks of up to %d", begin, end, grain, chunks, chunkSize)
	}

	var wg sync.WaitGroup
	lo := begin
	for ; lo+chunkSize < end; lo += chunkSize {
		chunkLo, chunkHi := lo, lo+chunkSize
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			body(chunkLo, chunkHi)
		})
	}
	body(lo, end)
	wg.Wait()
}
