// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

import (
	"math"

	"github.com/gomlx/adaptivepool/internal/vec"
)

// The channels-last kernels take one (n, oh, ow) output position as the unit of work, and reduce
// the window across the channels axis, which is contiguous in memory. Each position runs three phases:
//
//   - init: the output channels are set to -Inf and their indices to the window's first position.
//   - reduce: for each (ih, iw) of the window (ih outer, iw inner), the input channels are compared with
//     the running maxima, and lanes where (value > max || isNaN(value)) take the value and the index ih·W+iw.
//   - finalize: the indices are widened to int64 and stored.
//
// Vector loops cover the channels in multiples of the vector width, and a scalar loop covers the tail.
// With simd disabled the scalar loop covers all channels.

// vectorEnd returns up to which channel the vector loops run.
func (p *Pooler) vectorEnd(channels, lanes int) int {
	if !p.simd {
		return 0
	}
	return channels - channels%lanes
}

// forwardChannelsLastFloat32 uses int32 index lanes, so one Mask32x8 selects both the values and their indices.
func (p *Pooler) forwardChannelsLastFloat32(kernel string, g geometry, input, output []float32, indices []int64) {
	channels := g.channels
	vecEnd := p.vectorEnd(channels, vec.Float32Lanes)
	negInf := float32(math.Inf(-1))
	p.parallelFor(kernel, g.outPositions(), func(lo, hi int) {
		idxScratchRef := int32Scratch.get(channels)
		defer int32Scratch.put(idxScratchRef)
		idxScratch := *idxScratchRef

		pos := newDataIndex(lo, g.outH, g.outW)
		for unit := lo; unit < hi; unit++ {
			ih0, ih1 := StartIndex(pos.oh, g.outH, g.inH), EndIndex(pos.oh, g.outH, g.inH)
			iw0, iw1 := StartIndex(pos.ow, g.outW, g.inW), EndIndex(pos.ow, g.outW, g.inW)
			out := output[unit*channels : (unit+1)*channels]

			// Init.
			firstIdx := int32(ih0*g.inW + iw0)
			negInfVec, firstIdxVec := vec.BroadcastFloat32x8(negInf), vec.BroadcastInt32x8(firstIdx)
			d := 0
			for ; d < vecEnd; d += vec.Float32Lanes {
				negInfVec.Store(out[d:])
				firstIdxVec.Store(idxScratch[d:])
			}
			for ; d < channels; d++ {
				out[d] = negInf
				idxScratch[d] = firstIdx
			}

			// Reduce.
			for ih := ih0; ih < ih1; ih++ {
				for iw := iw0; iw < iw1; iw++ {
					inOffset := ((pos.n*g.inH+ih)*g.inW + iw) * channels
					in := input[inOffset : inOffset+channels]
					idx := int32(ih*g.inW + iw)
					idxVec := vec.BroadcastInt32x8(idx)
					d = 0
					for ; d < vecEnd; d += vec.Float32Lanes {
						values := vec.LoadFloat32x8(in[d:])
						maxValues := vec.LoadFloat32x8(out[d:])
						maxIndices := vec.LoadInt32x8(idxScratch[d:])
						mask := values.Greater(maxValues).Or(values.IsNaN())
						maxValues.Blend(values, mask).Store(out[d:])
						maxIndices.Blend(idxVec, mask).Store(idxScratch[d:])
					}
					for ; d < channels; d++ {
						v := in[d]
						if v > out[d] || v != v {
							out[d] = v
							idxScratch[d] = idx
						}
					}
				}
			}

			// Finalize.
			outIdx := indices[unit*channels : (unit+1)*channels]
			d = 0
			for ; d < vecEnd; d += vec.Float32Lanes {
				vec.LoadInt32x8(idxScratch[d:]).WidenStore(outIdx[d:])
			}
			for ; d < channels; d++ {
				outIdx[d] = int64(idxScratch[d])
			}
			pos.next()
		}
	})
}

// forwardChannelsLastFloat64 uses int64 index lanes, and reduces the indices directly on the indices tensor.
func (p *Pooler) forwardChannelsLastFloat64(kernel string, g geometry, input, output []float64, indices []int64) {
	channels := g.channels
	vecEnd := p.vectorEnd(channels, vec.Float64Lanes)
	negInf := math.Inf(-1)
	p.parallelFor(kernel, g.outPositions(), func(lo, hi int) {
		pos := newDataIndex(lo, g.outH, g.outW)
		for unit := lo; unit < hi; unit++ {
			ih0, ih1 := StartIndex(pos.oh, g.outH, g.inH), EndIndex(pos.oh, g.outH, g.inH)
			iw0, iw1 := StartIndex(pos.ow, g.outW, g.inW), EndIndex(pos.ow, g.outW, g.inW)
			out := output[unit*channels : (unit+1)*channels]
			outIdx := indices[unit*channels : (unit+1)*channels]

			firstIdx := int64(ih0*g.inW + iw0)
			negInfVec, firstIdxVec := vec.BroadcastFloat64x4(negInf), vec.BroadcastInt64x4(firstIdx)
			d := 0
			for ; d < vecEnd; d += vec.Float64Lanes {
				negInfVec.Store(out[d:])
				firstIdxVec.Store(outIdx[d:])
			}
			for ; d < channels; d++ {
				out[d] = negInf
				outIdx[d] = firstIdx
			}

			for ih := ih0; ih < ih1; ih++ {
				for iw := iw0; iw < iw1; iw++ {
					inOffset := ((pos.n*g.inH+ih)*g.inW + iw) * channels
					in := input[inOffset : inOffset+channels]
					idx := int64(ih*g.inW + iw)
					idxVec := vec.BroadcastInt64x4(idx)
					d = 0
					for ; d < vecEnd; d += vec.Float64Lanes {
						values := vec.LoadFloat64x4(in[d:])
						maxValues := vec.LoadFloat64x4(out[d:])
						maxIndices := vec.LoadInt64x4(outIdx[d:])
						mask := values.Greater(maxValues).Or(values.IsNaN())
						maxValues.Blend(values, mask).Store(out[d:])
						maxIndices.Blend(idxVec, mask).Store(outIdx[d:])
					}
					for ; d < channels; d++ {
						v := in[d]
						if v > out[d] || v != v {
							out[d] = v
							outIdx[d] = idx
						}
					}
				}
			}
			pos.next()
		}
	})
}

// forwardChannelsLastHalf reduces 16-bit floats in float32: each vector of vec.HalfLanes inputs widens
// into two Float32x8, compared against a float32 scratch of running maxima. The maxima are narrowed
// back to T in a last pass.
func forwardChannelsLastHalf[T vec.Half](p *Pooler, kernel string, g geometry, conv halfConv[T], input, output []T, indices []int64) {
	channels := g.channels
	vecEnd := p.vectorEnd(channels, vec.HalfLanes)
	negInf := float32(math.Inf(-1))
	p.parallelFor(kernel, g.outPositions(), func(lo, hi int) {
		maxScratchRef := float32Scratch.get(channels)
		defer float32Scratch.put(maxScratchRef)
		idxScratchRef := int32Scratch.get(channels)
		defer int32Scratch.put(idxScratchRef)
		maxScratch, idxScratch := *maxScratchRef, *idxScratchRef

		pos := newDataIndex(lo, g.outH, g.outW)
		for unit := lo; unit < hi; unit++ {
			ih0, ih1 := StartIndex(pos.oh, g.outH, g.inH), EndIndex(pos.oh, g.outH, g.inH)
			iw0, iw1 := StartIndex(pos.ow, g.outW, g.inW), EndIndex(pos.ow, g.outW, g.inW)

			firstIdx := int32(ih0*g.inW + iw0)
			negInfVec, firstIdxVec := vec.BroadcastFloat32x8(negInf), vec.BroadcastInt32x8(firstIdx)
			d := 0
			for ; d < vecEnd; d += vec.Float32Lanes {
				negInfVec.Store(maxScratch[d:])
				firstIdxVec.Store(idxScratch[d:])
			}
			for ; d < channels; d++ {
				maxScratch[d] = negInf
				idxScratch[d] = firstIdx
			}

			for ih := ih0; ih < ih1; ih++ {
				for iw := iw0; iw < iw1; iw++ {
					inOffset := ((pos.n*g.inH+ih)*g.inW + iw) * channels
					in := input[inOffset : inOffset+channels]
					idx := int32(ih*g.inW + iw)
					idxVec := vec.BroadcastInt32x8(idx)
					d = 0
					for ; d < vecEnd; d += vec.HalfLanes {
						valuesLo, valuesHi := conv.widen(in[d:])
						reduceFloat32x8(valuesLo, idxVec, maxScratch[d:], idxScratch[d:])
						reduceFloat32x8(valuesHi, idxVec, maxScratch[d+vec.Float32Lanes:], idxScratch[d+vec.Float32Lanes:])
					}
					for ; d < channels; d++ {
						v := conv.toFloat32(in[d])
						if v > maxScratch[d] || v != v {
							maxScratch[d] = v
							idxScratch[d] = idx
						}
					}
				}
			}

			out := output[unit*channels : (unit+1)*channels]
			outIdx := indices[unit*channels : (unit+1)*channels]
			d = 0
			for ; d < vecEnd; d += vec.HalfLanes {
				conv.narrow(vec.LoadFloat32x8(maxScratch[d:]), vec.LoadFloat32x8(maxScratch[d+vec.Float32Lanes:]), out[d:])
			}
			for ; d < channels; d++ {
				out[d] = conv.fromFloat32(maxScratch[d])
			}
			d = 0
			for ; d < vecEnd; d += vec.Float32Lanes {
				vec.LoadInt32x8(idxScratch[d:]).WidenStore(outIdx[d:])
			}
			for ; d < channels; d++ {
				outIdx[d] = int64(idxScratch[d])
			}
			pos.next()
		}
	})
}

// reduceFloat32x8 folds values into the running maxima and indices stored at maxValues[:8] and maxIndices[:8].
func reduceFloat32x8(values vec.Float32x8, idxVec vec.Int32x8, maxValues []float32, maxIndices []int32) {
	current := vec.LoadFloat32x8(maxValues)
	mask := values.Greater(current).Or(values.IsNaN())
	current.Blend(values, mask).Store(maxValues)
	vec.LoadInt32x8(maxIndices).Blend(idxVec, mask).Store(maxIndices)
}
