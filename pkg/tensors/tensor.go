// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a dense, local Tensor: a flat Go slice plus its dtype,
// its logical dimensions and a memory-layout tag.
//
// Dimensions are always given in logical order: (C, H, W) or (N, C, H, W) for
// images. The memory layout tag tells how the values are laid out in the flat slice:
//
//   - Contiguous: row-major over the logical dimensions; the last axis (width) is the
//     fastest-varying one.
//   - ChannelsLast: only for rank-4 tensors; values are stored in (N, H, W, C) order,
//     so the channels axis is the fastest-varying one.
package tensors

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// MemoryLayout tags how a tensor's values are stored in its flat slice.
type MemoryLayout uint8

const (
	// Contiguous is the row-major layout.
	Contiguous MemoryLayout = iota

	// ChannelsLast stores a logical (N, C, H, W) tensor in (N, H, W, C) order.
	ChannelsLast
)

// String implements fmt.Stringer.
func (l MemoryLayout) String() string {
	switch l {
	case Contiguous:
		return "Contiguous"
	case ChannelsLast:
		return "ChannelsLast"
	default:
		return fmt.Sprintf("MemoryLayout(%d)", uint8(l))
	}
}

// Supported lists the Go types a Tensor can hold.
type Supported interface {
	float32 | float64 | bfloat16.BFloat16 | float16.Float16 | int64 | int32
}

// DTypeOf returns the dtype corresponding to T.
func DTypeOf[T Supported]() dtypes.DType {
	var t T
	switch any(t).(type) {
	case float32:
		return dtypes.Float32
	case float64:
		return dtypes.Float64
	case bfloat16.BFloat16:
		return dtypes.BFloat16
	case float16.Float16:
		return dtypes.Float16
	case int64:
		return dtypes.Int64
	case int32:
		return dtypes.Int32
	}
	return dtypes.InvalidDType
}

// Tensor holds a flat slice of values, and how to interpret them.
//
// Tensors are not safe for concurrent writes, but many goroutines can read one concurrently.
type Tensor struct {
	dtype      dtypes.DType
	dimensions []int
	layout     MemoryLayout
	flat       any
}

// FromFlatDataAndDimensions creates a Contiguous tensor that takes ownership of flat.
//
// It panics if len(flat) doesn't match the product of the dimensions.
func FromFlatDataAndDimensions[T Supported](flat []T, dimensions ...int) *Tensor {
	return FromFlatDataWithLayout(Contiguous, flat, dimensions...)
}

// FromFlatDataWithLayout creates a tensor whose flat values are stored with the given layout.
// The dimensions are logical, and flat is owned by the tensor from now on.
//
// Layout tags other than Contiguous and ChannelsLast are kept as given, and their values are
// assumed to be in row-major order. It panics if len(flat) doesn't match the dimensions, or if
// a ChannelsLast tensor is not rank-4.
func FromFlatDataWithLayout[T Supported](layout MemoryLayout, flat []T, dimensions ...int) *Tensor {
	checkDimensions(layout, len(flat), dimensions)
	return &Tensor{
		dtype:      DTypeOf[T](),
		dimensions: slices.Clone(dimensions),
		layout:     layout,
		flat:       flat,
	}
}

func checkDimensions(layout MemoryLayout, length int, dimensions []int) {
	size := 1
	for axis, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("tensors: negative dimension %d for axis %d in %v", dim, axis, dimensions)
		}
		size *= dim
	}
	if size != length {
		exceptions.Panicf("tensors: dimensions %v require %d values, but got %d", dimensions, size, length)
	}
	if layout == ChannelsLast && len(dimensions) != 4 {
		exceptions.Panicf("tensors: %s layout requires a rank-4 tensor, got dimensions %v", layout, dimensions)
	}
}

// Zeros returns a tensor of the given dtype, layout and logical dimensions, filled with zeros.
func Zeros(dtype dtypes.DType, layout MemoryLayout, dimensions ...int) *Tensor {
	size := 1
	for _, dim := range dimensions {
		size *= max(dim, 0)
	}
	var flat any
	switch dtype {
	case dtypes.Float32:
		flat = make([]float32, size)
	case dtypes.Float64:
		flat = make([]float64, size)
	case dtypes.BFloat16:
		flat = make([]bfloat16.BFloat16, size)
	case dtypes.Float16:
		flat = make([]float16.Float16, size)
	case dtypes.Int64:
		flat = make([]int64, size)
	case dtypes.Int32:
		flat = make([]int32, size)
	default:
		exceptions.Panicf("tensors.Zeros: dtype %s not supported", dtype)
	}
	checkDimensions(layout, size, dimensions)
	return &Tensor{
		dtype:      dtype,
		dimensions: slices.Clone(dimensions),
		layout:     layout,
		flat:       flat,
	}
}

// DType of the tensor values.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Layout returns the memory layout tag.
func (t *Tensor) Layout() MemoryLayout { return t.layout }

// Rank is the number of axes.
func (t *Tensor) Rank() int { return len(t.dimensions) }

// Dimensions returns the logical dimensions. The returned slice is owned by the tensor and must not be changed.
func (t *Tensor) Dimensions() []int { return t.dimensions }

// Dim returns the dimension of the given axis. Negative axes count from the end.
func (t *Tensor) Dim(axis int) int {
	if axis < 0 {
		axis += len(t.dimensions)
	}
	return t.dimensions[axis]
}

// Size is the number of values held.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.dimensions {
		size *= dim
	}
	return size
}

// Flat returns the underlying flat slice, e.g. []float32. It is shared with the tensor.
func (t *Tensor) Flat() any { return t.flat }

// Flat returns the tensor's flat slice as []T, in storage order.
//
// It panics if T doesn't match the tensor's dtype.
func Flat[T Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensors.Flat[%T]: tensor holds %s values", *new(T), t.dtype)
	}
	return flat
}

// Strides returns, for each logical axis, the distance in the flat slice between consecutive
// indices of that axis.
func (t *Tensor) Strides() []int {
	return StridesFor(t.layout, t.dimensions)
}

// StridesFor returns the strides of each logical axis for the given layout and logical dimensions.
func StridesFor(layout MemoryLayout, dimensions []int) []int {
	rank := len(dimensions)
	strides := make([]int, rank)
	if layout == ChannelsLast && rank == 4 {
		channels, height, width := dimensions[1], dimensions[2], dimensions[3]
		strides[1] = 1
		strides[3] = channels
		strides[2] = width * channels
		strides[0] = height * width * channels
		return strides
	}
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}

// FlatIndex converts logical indices to the position in the flat slice.
func (t *Tensor) FlatIndex(indices ...int) int {
	if len(indices) != t.Rank() {
		exceptions.Panicf("tensors: FlatIndex got %d indices for a rank-%d tensor", len(indices), t.Rank())
	}
	strides := t.Strides()
	idx := 0
	for axis, i := range indices {
		if i < 0 || i >= t.dimensions[axis] {
			exceptions.Panicf("tensors: index %d out of bounds for axis %d with dimension %d", i, axis, t.dimensions[axis])
		}
		idx += i * strides[axis]
	}
	return idx
}

// At returns the value at the given logical indices.
func At[T Supported](t *Tensor, indices ...int) T {
	return Flat[T](t)[t.FlatIndex(indices...)]
}

// Set the value at the given logical indices.
func Set[T Supported](t *Tensor, value T, indices ...int) {
	Flat[T](t)[t.FlatIndex(indices...)] = value
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		dtype:      t.dtype,
		dimensions: slices.Clone(t.dimensions),
		layout:     t.layout,
	}
	switch flat := t.flat.(type) {
	case []float32:
		c.flat = slices.Clone(flat)
	case []float64:
		c.flat = slices.Clone(flat)
	case []bfloat16.BFloat16:
		c.flat = slices.Clone(flat)
	case []float16.Float16:
		c.flat = slices.Clone(flat)
	case []int64:
		c.flat = slices.Clone(flat)
	case []int32:
		c.flat = slices.Clone(flat)
	default:
		exceptions.Panicf("tensors.Clone: unsupported flat type %T", t.flat)
	}
	return c
}
