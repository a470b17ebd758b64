// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package adaptivepool implements 2D adaptive max pooling on the CPU, forward and backward.
//
// The caller gives the output spatial size (oH, oW), and each output cell (oh, ow) reduces the input window
// [StartIndex(oh, oH, H), EndIndex(oh, oH, H)) × [StartIndex(ow, oW, W), EndIndex(ow, oW, W)).
// Forward returns the maximum of each window and the argmax, as the flat index ih·W+iw in the input
// spatial plane. Backward scatters the gradient of each output cell to its argmax.
//
// Inputs are (C, H, W) or (N, C, H, W) tensors of Float32, Float64, BFloat16 or Float16, in the
// tensors.Contiguous or (4D only) tensors.ChannelsLast layout. Outputs use the layout of the input.
//
// NaNs propagate: a window with a NaN produces NaN, and its index is the position of the last NaN
// in the scan order (ih outer, iw inner). Among equal finite maxima the first one in scan order wins.
//
// Example:
//
//	pooler := must.M1(adaptivepool.NewWithConfig("parallelism=4"))
//	output, indices, err := pooler.Forward(input, []int{7, 7})
//	...
//	gradInput, err := pooler.Backward(gradOutput, input, indices)
package adaptivepool

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/adaptivepool/internal/workerspool"
	"github.com/gomlx/adaptivepool/pkg/tensors"
	"k8s.io/klog/v2"
)

// Pooler runs the adaptive max pooling kernels with a given configuration.
//
// It is safe for concurrent use.
type Pooler struct {
	workers *workerspool.Pool

	// simd selects the vector kernels for the channels-last forward pass. If false the lane
	// loops are run with scalar code, with the same results.
	simd bool

	// grain is the advisory minimum sub-range size given to ParallelFor. 0 lets the pool choose.
	grain int
}

// New returns a Pooler with the default configuration: parallelism set to the number of CPUs and
// vector kernels enabled.
func New() *Pooler {
	return &Pooler{
		workers: workerspool.New(),
		simd:    true,
	}
}

// NewWithConfig returns a Pooler configured by a comma-separated list of options. Valid options:
//
//   - "parallelism=<int>": soft limit on the number of concurrent workers. 0 runs everything inline,
//     and -1 means unlimited. Defaults to runtime.NumCPU().
//   - "simd=<bool>": whether to use the vector kernels in the channels-last forward pass. Defaults to true.
//   - "grain=<int>": advisory minimum number of work units per sub-range. Defaults to 0 (pool chooses).
//
// An empty config is the same as New(). Unknown or malformed options return an ErrInvalidArgument error.
func NewWithConfig(config string) (*Pooler, error) {
	p := New()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, invalidArgumentf("configuration option %q for adaptivepool must be of the form key=value", part)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "parallelism":
			parallelism, err := strconv.Atoi(value)
			if err != nil {
				return nil, invalidArgumentf("can't parse parallelism=%q for adaptivepool: %v", value, err)
			}
			p.workers.SetMaxParallelism(parallelism)
		case "simd":
			simd, err := strconv.ParseBool(value)
			if err != nil {
				return nil, invalidArgumentf("can't parse simd=%q for adaptivepool: %v", value, err)
			}
			p.simd = simd
		case "grain":
			grain, err := strconv.Atoi(value)
			if err != nil || grain < 0 {
				return nil, invalidArgumentf("grain=%q for adaptivepool must be a non-negative integer", value)
			}
			p.grain = grain
		default:
			return nil, invalidArgumentf("unknown configuration option %q for adaptivepool", key)
		}
	}
	return p, nil
}

// Parallelism returns the soft limit on the number of concurrent workers: 0 means inline, -1 unlimited.
func (p *Pooler) Parallelism() int { return p.workers.MaxParallelism() }

// SIMD returns whether the vector kernels are enabled.
func (p *Pooler) SIMD() bool { return p.simd }

// String implements fmt.Stringer.
func (p *Pooler) String() string {
	return fmt.Sprintf("adaptivepool.Pooler(parallelism=%d, simd=%t, grain=%d)", p.Parallelism(), p.simd, p.grain)
}

// parallelFor splits [0, total) among the workers.
func (p *Pooler) parallelFor(kernel string, total int, body func(lo, hi int)) {
	if klog.V(2).Enabled() {
		klog.Infof("adaptivepool %s: %d work units, parallelism=%d, grain=%d", kernel, total, p.Parallelism(), p.grain)
	}
	p.workers.ParallelFor(0, total, p.grain, body)
}

var (
	defaultPooler     *Pooler
	defaultPoolerOnce sync.Once
)

// Default returns the Pooler used by the package-level Forward and Backward. It is created with New on first use.
func Default() *Pooler {
	defaultPoolerOnce.Do(func() {
		defaultPooler = New()
	})
	return defaultPooler
}

// Forward runs Pooler.Forward with the Default pooler.
func Forward(input *tensors.Tensor, outputSize []int) (output, indices *tensors.Tensor, err error) {
	return Default().Forward(input, outputSize)
}

// Backward runs Pooler.Backward with the Default pooler.
func Backward(gradOutput, input, indices *tensors.Tensor) (gradInput *tensors.Tensor, err error) {
	return Default().Backward(gradOutput, input, indices)
}
