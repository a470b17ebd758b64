// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// MaxPrintSize is the largest tensor size whose values are included by String.
var MaxPrintSize = 256

// String implements fmt.Stringer. It prints the dtype, logical dimensions and layout, and the values
// (in logical order) if the tensor has at most MaxPrintSize elements.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	header := fmt.Sprintf("(%s)%v/%s", t.dtype, t.dimensions, t.layout)
	if t.Size() > MaxPrintSize {
		return header
	}
	var values string
	switch t.flat.(type) {
	case []float32:
		values = formatNested(LogicalFlat[float32](t), t.dimensions)
	case []float64:
		values = formatNested(LogicalFlat[float64](t), t.dimensions)
	case []bfloat16.BFloat16:
		values = formatNested(LogicalFlat[bfloat16.BFloat16](t), t.dimensions)
	case []float16.Float16:
		values = formatNested(LogicalFlat[float16.Float16](t), t.dimensions)
	case []int64:
		values = formatNested(LogicalFlat[int64](t), t.dimensions)
	case []int32:
		values = formatNested(LogicalFlat[int32](t), t.dimensions)
	}
	return header + ": " + values
}

// formatNested prints flat (in row-major order) with one level of brackets per axis.
func formatNested[T any](flat []T, dimensions []int) string {
	var sb strings.Builder
	var recurse func(offset, axis int) int
	recurse = func(offset, axis int) int {
		if axis == len(dimensions) {
			fmt.Fprintf(&sb, "%v", flat[offset])
			return offset + 1
		}
		sb.WriteByte('[')
		for i := range dimensions[axis] {
			if i > 0 {
				sb.WriteString(", ")
			}
			offset = recurse(offset, axis+1)
		}
		sb.WriteByte(']')
		return offset
	}
	recurse(0, 0)
	return sb.String()
}
