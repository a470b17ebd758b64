// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// IsLayoutAmbiguous returns whether the Contiguous and ChannelsLast layouts store the
// values of a tensor with these dimensions in the same order.
//
// That is the case for rank-4 tensors where at most one of C or H·W is larger than 1,
// e.g. an (N, C, 1, 1) gradient.
func IsLayoutAmbiguous(dimensions []int) bool {
	if len(dimensions) != 4 {
		return false
	}
	return dimensions[1] == 1 || dimensions[2]*dimensions[3] == 1
}

// ToLayout returns the tensor with its values stored in the given layout.
//
// If the tensor already has the layout, it is returned as is. If both layouts store the values
// in the same order (see IsLayoutAmbiguous), the returned tensor shares the flat slice with t.
// Otherwise, the values are copied.
func (t *Tensor) ToLayout(layout MemoryLayout) *Tensor {
	if t.layout == layout {
		return t
	}
	if layout != Contiguous && layout != ChannelsLast {
		exceptions.Panicf("tensors.ToLayout: can't convert to unsupported layout %s", layout)
	}
	if t.layout != Contiguous && t.layout != ChannelsLast {
		exceptions.Panicf("tensors.ToLayout: can't convert from unsupported layout %s", t.layout)
	}
	if layout == ChannelsLast && t.Rank() != 4 {
		exceptions.Panicf("tensors.ToLayout: %s layout requires a rank-4 tensor, got dimensions %v", layout, t.dimensions)
	}
	if IsLayoutAmbiguous(t.dimensions) {
		return &Tensor{dtype: t.dtype, dimensions: t.dimensions, layout: layout, flat: t.flat}
	}
	converted := Zeros(t.dtype, layout, t.dimensions...)
	switch src := t.flat.(type) {
	case []float32:
		permuteNCHW(t.layout, src, converted.flat.([]float32), t.dimensions)
	case []float64:
		permuteNCHW(t.layout, src, converted.flat.([]float64), t.dimensions)
	case []bfloat16.BFloat16:
		permuteNCHW(t.layout, src, converted.flat.([]bfloat16.BFloat16), t.dimensions)
	case []float16.Float16:
		permuteNCHW(t.layout, src, converted.flat.([]float16.Float16), t.dimensions)
	case []int64:
		permuteNCHW(t.layout, src, converted.flat.([]int64), t.dimensions)
	case []int32:
		permuteNCHW(t.layout, src, converted.flat.([]int32), t.dimensions)
	default:
		exceptions.Panicf("tensors.ToLayout: unsupported flat type %T", t.flat)
	}
	return converted
}

// permuteNCHW copies src, laid out as from, into dst with the other layout.
func permuteNCHW[T Supported](from MemoryLayout, src, dst []T, dimensions []int) {
	batch, channels, height, width := dimensions[0], dimensions[1], dimensions[2], dimensions[3]
	spatial := height * width
	for n := range batch {
		for c := range channels {
			nchw := (n*channels + c) * spatial
			nhwc := n*spatial*channels + c
			for s := range spatial {
				if from == Contiguous {
					dst[nhwc+s*channels] = src[nchw+s]
				} else {
					dst[nchw+s] = src[nhwc+s*channels]
				}
			}
		}
	}
}

// LogicalFlat returns a copy of the values in logical row-major order, whatever the layout.
func LogicalFlat[T Supported](t *Tensor) []T {
	if t.layout == Contiguous || t.layout == ChannelsLast {
		return Flat[T](t.ToLayout(Contiguous).Clone())
	}
	return Flat[T](t.Clone())
}
