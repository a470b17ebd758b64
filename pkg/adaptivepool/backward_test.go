// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/adaptivepool/pkg/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackwardScenario(t *testing.T) {
	forEachPooler(t, func(t *testing.T, p *Pooler) {
		for _, layout := range []tensors.MemoryLayout{tensors.Contiguous, tensors.ChannelsLast} {
			t.Run(layout.String(), func(t *testing.T) {
				input := fromFloat64s(dtypes.Float32, iotaFloat64(16), 1, 1, 4, 4).ToLayout(layout)
				_, indices, err := p.Forward(input, []int{2, 2})
				require.NoError(t, err)
				gradOutput := fromFloat64s(dtypes.Float32, []float64{1, 1, 1, 1}, 1, 1, 2, 2).ToLayout(layout)
				gradInput, err := p.Backward(gradOutput, input, indices)
				require.NoError(t, err)
				assert.Equal(t, layout, gradInput.Layout())
				assert.Equal(t, []int{1, 1, 4, 4}, gradInput.Dimensions())
				want := make([]float32, 16)
				for _, idx := range []int{5, 7, 13, 15} {
					want[idx] = 1
				}
				assert.Equal(t, want, tensors.LogicalFlat[float32](gradInput))
			})
		}
	})
}

// referenceBackward scatters the logical gradOutput values into a logical (N, C, H, W) gradInput.
func referenceBackward(gradOutput []float64, indices []int64, planes, inPlaneSize, outPlaneSize int) []float64 {
	gradInput := make([]float64, planes*inPlaneSize)
	for i, idx := range indices {
		plane := i / outPlaneSize
		gradInput[plane*inPlaneSize+int(idx)] += gradOutput[i]
	}
	return gradInput
}

func TestBackwardProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 17))
	type testShape struct {
		batch, channels, inH, inW, outH, outW int
	}
	shapes := []testShape{
		{2, 3, 4, 4, 2, 2},
		{1, 9, 5, 7, 3, 2},
		{2, 19, 3, 3, 5, 4},
		{3, 2, 1, 1, 2, 2},
	}
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float64, dtypes.BFloat16, dtypes.Float16} {
		for _, s := range shapes {
			name := fmt.Sprintf("%s/%dx%dx%dx%d->%dx%d", dtype, s.batch, s.channels, s.inH, s.inW, s.outH, s.outW)
			t.Run(name, func(t *testing.T) {
				inSize := s.batch * s.channels * s.inH * s.inW
				outSize := s.batch * s.channels * s.outH * s.outW
				input := fromFloat64s(dtype, randomValues(rng, inSize, 0), s.batch, s.channels, s.inH, s.inW)
				// Small integer gradients keep every sum exact, also in 16 bits.
				g1, g2 := randomValues(rng, outSize, 0), randomValues(rng, outSize, 0)
				const alpha, beta = 2.0, -3.0
				combined := make([]float64, outSize)
				for i := range combined {
					combined[i] = alpha*g1[i] + beta*g2[i]
				}
				forEachPooler(t, func(t *testing.T, p *Pooler) {
					for _, layout := range []tensors.MemoryLayout{tensors.Contiguous, tensors.ChannelsLast} {
						layoutInput := input.ToLayout(layout)
						_, indices, err := p.Forward(layoutInput, []int{s.outH, s.outW})
						require.NoError(t, err)
						logicalIndices := tensors.LogicalFlat[int64](indices)

						backward := func(grad []float64) []float64 {
							gradOutput := fromFloat64s(dtype, grad, s.batch, s.channels, s.outH, s.outW).ToLayout(layout)
							gradInput := must.M1(p.Backward(gradOutput, layoutInput, indices))
							require.Equal(t, layout, gradInput.Layout())
							return toFloat64s(gradInput)
						}
						want := referenceBackward(g1, logicalIndices, s.batch*s.channels, s.inH*s.inW, s.outH*s.outW)
						got1 := backward(g1)
						require.Equal(t, want, got1, "layout %s", layout)

						// Linearity.
						got2 := backward(g2)
						gotCombined := backward(combined)
						for i := range gotCombined {
							require.Equal(t, alpha*got1[i]+beta*got2[i], gotCombined[i], "layout %s, position %d", layout, i)
						}
					}
				})
			})
		}
	}
}

func TestBackwardMixedLayouts(t *testing.T) {
	forEachPooler(t, func(t *testing.T, p *Pooler) {
		// Channels-last input with a (N, C, 1, 1) gradient tagged as contiguous.
		values := iotaFloat64(2 * 3 * 2 * 2)
		input := fromFloat64s(dtypes.Float64, values, 2, 3, 2, 2).ToLayout(tensors.ChannelsLast)
		_, indices, err := p.Forward(input, []int{1, 1})
		require.NoError(t, err)
		gradOutput := fromFloat64s(dtypes.Float64, []float64{1, 2, 3, 4, 5, 6}, 2, 3, 1, 1)
		indices = indices.ToLayout(tensors.Contiguous)
		gradInput, err := p.Backward(gradOutput, input, indices)
		require.NoError(t, err)
		assert.Equal(t, tensors.ChannelsLast, gradInput.Layout())
		want := make([]float64, 24)
		for plane := range 6 {
			want[plane*4+3] = float64(plane + 1)
		}
		assert.Equal(t, want, tensors.LogicalFlat[float64](gradInput))

		// Non-degenerate gradient in the other layout is converted too.
		input = fromFloat64s(dtypes.Float32, iotaFloat64(2*3*4*4), 2, 3, 4, 4)
		_, indices, err = p.Forward(input, []int{2, 2})
		require.NoError(t, err)
		ones := make([]float64, 2*3*2*2)
		for i := range ones {
			ones[i] = 1
		}
		gradOutput = fromFloat64s(dtypes.Float32, ones, 2, 3, 2, 2).ToLayout(tensors.ChannelsLast)
		gradInput, err = p.Backward(gradOutput, input, indices.ToLayout(tensors.ChannelsLast))
		require.NoError(t, err)
		assert.Equal(t, tensors.Contiguous, gradInput.Layout())
		flat := tensors.Flat[float32](gradInput)
		for plane := range 6 {
			for _, idx := range []int{5, 7, 13, 15} {
				assert.Equal(t, float32(1), flat[plane*16+idx])
			}
		}
	})
}

func TestBackward3D(t *testing.T) {
	forEachPooler(t, func(t *testing.T, p *Pooler) {
		// Overlapping row windows [0, 2) and [1, 3).
		input := fromFloat64s(dtypes.Float32, iotaFloat64(2*3*3), 2, 3, 3)
		_, indices, err := p.Forward(input, []int{2, 1})
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 8, 5, 8}, tensors.Flat[int64](indices))
		gradOutput := fromFloat64s(dtypes.Float32, []float64{1, 10, 100, 1000}, 2, 2, 1)
		gradInput, err := Backward(gradOutput, input, indices)
		require.NoError(t, err)
		want := make([]float32, 18)
		want[5], want[8], want[9+5], want[9+8] = 1, 10, 100, 1000
		assert.Equal(t, want, tensors.Flat[float32](gradInput))

		// The maximum in the overlap of two windows gets both gradients.
		input = fromFloat64s(dtypes.Float64, []float64{0, 5, 1}, 1, 1, 3)
		_, indices, err = p.Forward(input, []int{1, 2})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 1}, tensors.Flat[int64](indices))
		gradInput, err = p.Backward(fromFloat64s(dtypes.Float64, []float64{0.5, 0.25}, 1, 1, 2), input, indices)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0.75, 0}, tensors.Flat[float64](gradInput))
	})
}

func TestBackwardErrors(t *testing.T) {
	p := New()
	input := tensors.Zeros(dtypes.Float32, tensors.Contiguous, 2, 3, 4, 4)
	gradOutput := tensors.Zeros(dtypes.Float32, tensors.Contiguous, 2, 3, 2, 2)
	indices := tensors.Zeros(dtypes.Int64, tensors.Contiguous, 2, 3, 2, 2)
	badIndices := tensors.Zeros(dtypes.Int64, tensors.Contiguous, 2, 3, 2, 2)
	tensors.Set(badIndices, int64(16), 1, 2, 1, 1)

	testCases := []struct {
		name                       string
		gradOutput, input, indices *tensors.Tensor
		contains                   string
	}{
		{"nil", nil, input, indices, "must all be given"},
		{"rank", tensors.Zeros(dtypes.Float32, tensors.Contiguous, 3, 2, 2, 1, 1), input, indices, "3D or 4D"},
		{"empty", tensors.Zeros(dtypes.Float32, tensors.Contiguous, 2, 3, 0, 2), input, indices, "dimension 2 being empty"},
		{"dtype mismatch", tensors.Zeros(dtypes.Float64, tensors.Contiguous, 2, 3, 2, 2), input, indices, "expected dtype Float32"},
		{"unsupported dtype", tensors.Zeros(dtypes.Int32, tensors.Contiguous, 2, 3, 2, 2),
			tensors.Zeros(dtypes.Int32, tensors.Contiguous, 2, 3, 4, 4), indices, "Int32"},
		{"input rank", tensors.Zeros(dtypes.Float32, tensors.Contiguous, 3, 2, 2), input, tensors.Zeros(dtypes.Int64, tensors.Contiguous, 3, 2, 2), "different ranks"},
		{"channels mismatch", gradOutput, tensors.Zeros(dtypes.Float32, tensors.Contiguous, 2, 4, 4, 4), indices, "batch or channels"},
		{"indices dtype", gradOutput, input, tensors.Zeros(dtypes.Int32, tensors.Contiguous, 2, 3, 2, 2), "must be Int64"},
		{"indices shape", gradOutput, input, tensors.Zeros(dtypes.Int64, tensors.Contiguous, 2, 3, 2, 1), "don't match"},
		{"indices range", gradOutput, input, badIndices, "out of the input spatial plane"},
		{"layout", gradOutput, tensors.FromFlatDataWithLayout(tensors.MemoryLayout(3), make([]float32, 96), 2, 3, 4, 4), indices, "unsupported memory layout"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gradInput, err := p.Backward(tc.gradOutput, tc.input, tc.indices)
			require.Error(t, err)
			assert.Nil(t, gradInput)
			assert.True(t, IsInvalidArgument(err), "error: %v", err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}
