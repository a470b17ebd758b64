// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vec is a thin fixed-width vector façade for the kernels that reduce
// along the channels axis.
//
// Vectors are 256 bits wide: 8 lanes of 32 bits (Float32x8, Int32x8) or 4 lanes
// of 64 bits (Float64x4, Int64x4). Operations are plain loops over the lanes.
//
// Comparisons return masks whose lanes are all-ones (true) or all-zeros (false).
// A mask is tied to a lane width, not to a type: a Mask32x8 selects lanes of any
// 32-bit vector, so the mask computed by comparing Float32x8 values can be used
// to blend the Int32x8 holding the matching indices.
package vec

import "math"

const (
	// Float32Lanes is the number of lanes of a 32-bit vector.
	Float32Lanes = 8

	// Float64Lanes is the number of lanes of a 64-bit vector.
	Float64Lanes = 4

	// HalfLanes is the number of 16-bit lanes of one vector: they widen into two Float32x8.
	HalfLanes = 2 * Float32Lanes
)

type (
	// Float32x8 holds 8 float32 lanes.
	Float32x8 [Float32Lanes]float32

	// Int32x8 holds 8 int32 lanes.
	Int32x8 [Float32Lanes]int32

	// Mask32x8 is the result of comparing 32-bit lanes.
	Mask32x8 [Float32Lanes]uint32

	// Float64x4 holds 4 float64 lanes.
	Float64x4 [Float64Lanes]float64

	// Int64x4 holds 4 int64 lanes.
	Int64x4 [Float64Lanes]int64

	// Mask64x4 is the result of comparing 64-bit lanes.
	Mask64x4 [Float64Lanes]uint64
)

const (
	ones32 = ^uint32(0)
	ones64 = ^uint64(0)
)

func mask32(b bool) uint32 {
	if b {
		return ones32
	}
	return 0
}

func mask64(b bool) uint64 {
	if b {
		return ones64
	}
	return 0
}

// LoadFloat32x8 loads the first 8 values of src. It panics if len(src) < 8.
func LoadFloat32x8(src []float32) Float32x8 {
	return Float32x8(src[:Float32Lanes])
}

// BroadcastFloat32x8 returns a vector with all lanes set to x.
func BroadcastFloat32x8(x float32) (v Float32x8) {
	for i := range v {
		v[i] = x
	}
	return
}

// Store writes the lanes to dst[:8].
func (v Float32x8) Store(dst []float32) {
	copy(dst[:Float32Lanes], v[:])
}

// Greater compares lane-wise v > u. Comparisons involving NaN are false.
func (v Float32x8) Greater(u Float32x8) (m Mask32x8) {
	for i := range m {
		m[i] = mask32(v[i] > u[i])
	}
	return
}

// IsNaN returns the lanes of v that are NaN.
func (v Float32x8) IsNaN() (m Mask32x8) {
	for i := range m {
		m[i] = mask32(v[i] != v[i])
	}
	return
}

// Blend returns the lanes of u where m is set, and the lanes of v elsewhere.
func (v Float32x8) Blend(u Float32x8, m Mask32x8) (r Float32x8) {
	for i := range r {
		r[i] = math.Float32frombits(math.Float32bits(v[i])&^m[i] | math.Float32bits(u[i])&m[i])
	}
	return
}

// LoadInt32x8 loads the first 8 values of src. It panics if len(src) < 8.
func LoadInt32x8(src []int32) Int32x8 {
	return Int32x8(src[:Float32Lanes])
}

// BroadcastInt32x8 returns a vector with all lanes set to x.
func BroadcastInt32x8(x int32) (v Int32x8) {
	for i := range v {
		v[i] = x
	}
	return
}

// Store writes the lanes to dst[:8].
func (v Int32x8) Store(dst []int32) {
	copy(dst[:Float32Lanes], v[:])
}

// Blend returns the lanes of u where m is set, and the lanes of v elsewhere.
func (v Int32x8) Blend(u Int32x8, m Mask32x8) (r Int32x8) {
	for i := range r {
		r[i] = int32(uint32(v[i])&^m[i] | uint32(u[i])&m[i])
	}
	return
}

// WidenStore sign-extends the lanes to int64 and writes them to dst[:8].
func (v Int32x8) WidenStore(dst []int64) {
	dst = dst[:Float32Lanes]
	for i := range v {
		dst[i] = int64(v[i])
	}
}

// Or returns the union of the two masks.
func (m Mask32x8) Or(o Mask32x8) (r Mask32x8) {
	for i := range r {
		r[i] = m[i] | o[i]
	}
	return
}

// AnyTrue returns whether any lane is set.
func (m Mask32x8) AnyTrue() bool {
	var acc uint32
	for _, b := range m {
		acc |= b
	}
	return acc != 0
}

// LoadFloat64x4 loads the first 4 values of src. It panics if len(src) < 4.
func LoadFloat64x4(src []float64) Float64x4 {
	return Float64x4(src[:Float64Lanes])
}

// BroadcastFloat64x4 returns a vector with all lanes set to x.
func BroadcastFloat64x4(x float64) (v Float64x4) {
	for i := range v {
		v[i] = x
	}
	return
}

// Store writes the lanes to dst[:4].
func (v Float64x4) Store(dst []float64) {
	copy(dst[:Float64Lanes], v[:])
}

// Greater compares lane-wise v > u. Comparisons involving NaN are false.
func (v Float64x4) Greater(u Float64x4) (m Mask64x4) {
	for i := range m {
		m[i] = mask64(v[i] > u[i])
	}
	return
}

// IsNaN returns the lanes of v that are NaN.
func (v Float64x4) IsNaN() (m Mask64x4) {
	for i := range m {
		m[i] = mask64(v[i] != v[i])
	}
	return
}

// Blend returns the lanes of u where m is set, and the lanes of v elsewhere.
func (v Float64x4) Blend(u Float64x4, m Mask64x4) (r Float64x4) {
	for i := range r {
		r[i] = math.Float64frombits(math.Float64bits(v[i])&^m[i] | math.Float64bits(u[i])&m[i])
	}
	return
}

// LoadInt64x4 loads the first 4 values of src. It panics if len(src) < 4.
func LoadInt64x4(src []int64) Int64x4 {
	return Int64x4(src[:Float64Lanes])
}

// BroadcastInt64x4 returns a vector with all lanes set to x.
func BroadcastInt64x4(x int64) (v Int64x4) {
	for i := range v {
		v[i] = x
	}
	return
}

// Store writes the lanes to dst[:4].
func (v Int64x4) Store(dst []int64) {
	copy(dst[:Float64Lanes], v[:])
}

// Blend returns the lanes of u where m is set, and the lanes of v elsewhere.
func (v Int64x4) Blend(u Int64x4, m Mask64x4) (r Int64x4) {
	for i := range r {
		r[i] = int64(uint64(v[i])&^m[i] | uint64(u[i])&m[i])
	}
	return
}

// Or returns the union of the two masks.
func (m Mask64x4) Or(o Mask64x4) (r Mask64x4) {
	for i := range r {
		r[i] = m[i] | o[i]
	}
	return
}

// AnyTrue returns whether any lane is set.
func (m Mask64x4) AnyTrue() bool {
	var acc uint64
	for _, b := range m {
		acc |= b
	}
	return acc != 0
}
