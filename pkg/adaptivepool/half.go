// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

import (
	"github.com/gomlx/adaptivepool/internal/vec"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// halfConv converts a 16-bit float type to and from its float32 accumulator, one value or one vector at a time.
type halfConv[T vec.Half] struct {
	toFloat32   func(T) float32
	fromFloat32 func(float32) T
	widen       func(src []T) (lo, hi vec.Float32x8)
	narrow      func(lo, hi vec.Float32x8, dst []T)
}

var (
	bfloat16Conv = halfConv[bfloat16.BFloat16]{
		toFloat32:   func(x bfloat16.BFloat16) float32 { return x.Float32() },
		fromFloat32: bfloat16.FromFloat32,
		widen:       vec.WidenBFloat16,
		narrow:      vec.NarrowBFloat16,
	}

	float16Conv = halfConv[float16.Float16]{
		toFloat32:   func(x float16.Float16) float32 { return x.Float32() },
		fromFloat32: float16.Fromfloat32,
		widen:       vec.WidenFloat16,
		narrow:      vec.NarrowFloat16,
	}
)

// add returns a+b rounded to T.
func (c halfConv[T]) add(a, b T) T {
	return c.fromFloat32(c.toFloat32(a) + c.toFloat32(b))
}
