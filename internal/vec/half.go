// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vec

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Half enumerates the 16-bit float storage types: one vector of HalfLanes of
// them widens into two Float32x8.
type Half interface {
	bfloat16.BFloat16 | float16.Float16
}

// WidenBFloat16 converts src[:16] to float32, the first 8 lanes into lo and the last 8 into hi.
func WidenBFloat16(src []bfloat16.BFloat16) (lo, hi Float32x8) {
	src = src[:HalfLanes]
	for i := range Float32Lanes {
		lo[i] = src[i].Float32()
		hi[i] = src[Float32Lanes+i].Float32()
	}
	return
}

// NarrowBFloat16 converts lo and hi back to brain-float and writes them to dst[:16].
func NarrowBFloat16(lo, hi Float32x8, dst []bfloat16.BFloat16) {
	dst = dst[:HalfLanes]
	for i := range Float32Lanes {
		dst[i] = bfloat16.FromFloat32(lo[i])
		dst[Float32Lanes+i] = bfloat16.FromFloat32(hi[i])
	}
}

// WidenFloat16 converts src[:16] to float32, the first 8 lanes into lo and the last 8 into hi.
func WidenFloat16(src []float16.Float16) (lo, hi Float32x8) {
	src = src[:HalfLanes]
	for i := range Float32Lanes {
		lo[i] = src[i].Float32()
		hi[i] = src[Float32Lanes+i].Float32()
	}
	return
}

// NarrowFloat16 converts lo and hi back to float16 and writes them to dst[:16].
func NarrowFloat16(lo, hi Float32x8, dst []float16.Float16) {
	dst = dst[:HalfLanes]
	for i := range Float32Lanes {
		dst[i] = float16.Fromfloat32(lo[i])
		dst[Float32Lanes+i] = float16.Fromfloat32(hi[i])
	}
}
