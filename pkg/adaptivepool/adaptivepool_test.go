// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

import (
	"flag"
	"fmt"
	"math"
	"runtime"
	"testing"

	"github.com/gomlx/adaptivepool/pkg/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

var flagVerboseTests = flag.Bool("verbose_tests", false, "Print the tensors of the scenario tests.")

// testConfigs cover inline, limited and unlimited parallelism, with and without the vector kernels.
var testConfigs = []string{
	"",
	"parallelism=0",
	"parallelism=1,simd=false",
	"parallelism=3,grain=2",
	"parallelism=-1,simd=false",
	"parallelism=-1,grain=1",
}

func forEachPooler(t *testing.T, fn func(t *testing.T, p *Pooler)) {
	for _, config := range testConfigs {
		t.Run(fmt.Sprintf("config=%q", config), func(t *testing.T) {
			fn(t, must.M1(NewWithConfig(config)))
		})
	}
}

func TestNewWithConfig(t *testing.T) {
	p := New()
	assert.Equal(t, runtime.NumCPU(), p.Parallelism())
	assert.True(t, p.SIMD())

	p, err := NewWithConfig(" parallelism = 3 , simd=false, grain=16,")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Parallelism())
	assert.False(t, p.SIMD())
	assert.Equal(t, 16, p.grain)
	assert.Equal(t, "adaptivepool.Pooler(parallelism=3, simd=false, grain=16)", p.String())

	for _, config := range []string{"threads=3", "parallelism", "parallelism=x", "simd=maybe", "grain=-1"} {
		_, err = NewWithConfig(config)
		require.Error(t, err, "config=%q", config)
		assert.True(t, IsInvalidArgument(err), "config=%q: %v", config, err)
		assert.False(t, IsInternal(err))
	}

	assert.Same(t, Default(), Default())
}

func TestErrorKinds(t *testing.T) {
	err := invalidArgumentf("dimension %d is empty", 2)
	assert.Equal(t, "invalid argument: dimension 2 is empty", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.True(t, IsInvalidArgument(errors.Wrap(err, "while pooling")))

	err = internalErrorf("output size must have 2 elements")
	assert.Equal(t, "internal error: output size must have 2 elements", err.Error())
	assert.True(t, IsInternal(err))
	assert.False(t, IsInvalidArgument(err))
	// The stack trace is kept.
	assert.Contains(t, fmt.Sprintf("%+v", err), "internalErrorf")
}

// fromFloat64s creates a contiguous tensor of the given dtype with the values converted from float64.
func fromFloat64s(dtype dtypes.DType, values []float64, dims ...int) *tensors.Tensor {
	switch dtype {
	case dtypes.Float32:
		flat := make([]float32, len(values))
		for i, v := range values {
			flat[i] = float32(v)
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...)
	case dtypes.Float64:
		return tensors.FromFlatDataAndDimensions(append([]float64(nil), values...), dims...)
	case dtypes.BFloat16:
		flat := make([]bfloat16.BFloat16, len(values))
		for i, v := range values {
			flat[i] = bfloat16.FromFloat32(float32(v))
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...)
	case dtypes.Float16:
		flat := make([]float16.Float16, len(values))
		for i, v := range values {
			flat[i] = float16.Fromfloat32(float32(v))
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...)
	}
	panic(fmt.Sprintf("dtype %s not supported in tests", dtype))
}

// toFloat64s returns the values of t in logical order, converted to float64.
func toFloat64s(t *tensors.Tensor) []float64 {
	var values []float64
	switch t.DType() {
	case dtypes.Float32:
		for _, v := range tensors.LogicalFlat[float32](t) {
			values = append(values, float64(v))
		}
	case dtypes.Float64:
		values = tensors.LogicalFlat[float64](t)
	case dtypes.BFloat16:
		for _, v := range tensors.LogicalFlat[bfloat16.BFloat16](t) {
			values = append(values, float64(v.Float32()))
		}
	case dtypes.Float16:
		for _, v := range tensors.LogicalFlat[float16.Float16](t) {
			values = append(values, float64(v.Float32()))
		}
	default:
		panic(fmt.Sprintf("dtype %s not supported in tests", t.DType()))
	}
	return values
}

// assertValuesEqual compares values, where NaN matches NaN.
func assertValuesEqual(t *testing.T, want, got []float64, msgAndArgs ...any) {
	t.Helper()
	require.Len(t, got, len(want), msgAndArgs...)
	for i := range want {
		if math.IsNaN(want[i]) {
			require.Truef(t, math.IsNaN(got[i]), "position %d: want NaN, got %g", i, got[i])
			continue
		}
		require.Equalf(t, want[i], got[i], "position %d", i)
	}
}
