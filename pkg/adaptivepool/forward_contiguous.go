// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

import (
	"math"

	"github.com/gomlx/adaptivepool/internal/vec"
	"golang.org/x/exp/constraints"
)

// forwardContiguous pools row-major inputs. Each (n, c) plane is one unit of work.
func forwardContiguous[T constraints.Float](p *Pooler, kernel string, g geometry, input, output []T, indices []int64) {
	inPlane, outPlane := g.inPlaneSize(), g.outPlaneSize()
	p.parallelFor(kernel, g.planes(), func(lo, hi int) {
		for plane := lo; plane < hi; plane++ {
			in := input[plane*inPlane : (plane+1)*inPlane]
			out := output[plane*outPlane : (plane+1)*outPlane]
			outIdx := indices[plane*outPlane : (plane+1)*outPlane]
			for oh := range g.outH {
				ih0, ih1 := StartIndex(oh, g.outH, g.inH), EndIndex(oh, g.outH, g.inH)
				for ow := range g.outW {
					iw0, iw1 := StartIndex(ow, g.outW, g.inW), EndIndex(ow, g.outW, g.inW)
					maxVal := T(math.Inf(-1))
					maxIdx := ih0*g.inW + iw0
					for ih := ih0; ih < ih1; ih++ {
						row := in[ih*g.inW : (ih+1)*g.inW]
						for iw := iw0; iw < iw1; iw++ {
							v := row[iw]
							// A NaN replaces the current maximum, including a previous NaN.
							if v > maxVal || v != v {
								maxVal = v
								maxIdx = ih*g.inW + iw
							}
						}
					}
					out[oh*g.outW+ow] = maxVal
					outIdx[oh*g.outW+ow] = int64(maxIdx)
				}
			}
		}
	})
}

// forwardContiguousHalf is forwardContiguous for 16-bit floats, comparing in float32.
func forwardContiguousHalf[T vec.Half](p *Pooler, kernel string, g geometry, conv halfConv[T], input, output []T, indices []int64) {
	inPlane, outPlane := g.inPlaneSize(), g.outPlaneSize()
	negInf := conv.fromFloat32(float32(math.Inf(-1)))
	p.parallelFor(kernel, g.planes(), func(lo, hi int) {
		for plane := lo; plane < hi; plane++ {
			in := input[plane*inPlane : (plane+1)*inPlane]
			out := output[plane*outPlane : (plane+1)*outPlane]
			outIdx := indices[plane*outPlane : (plane+1)*outPlane]
			for oh := range g.outH {
				ih0, ih1 := StartIndex(oh, g.outH, g.inH), EndIndex(oh, g.outH, g.inH)
				for ow := range g.outW {
					iw0, iw1 := StartIndex(ow, g.outW, g.inW), EndIndex(ow, g.outW, g.inW)
					maxVal := float32(math.Inf(-1))
					maxRaw := negInf
					maxIdx := ih0*g.inW + iw0
					for ih := ih0; ih < ih1; ih++ {
						row := in[ih*g.inW : (ih+1)*g.inW]
						for iw := iw0; iw < iw1; iw++ {
							v := conv.toFloat32(row[iw])
							if v > maxVal || v != v {
								maxVal = v
								maxRaw = row[iw]
								maxIdx = ih*g.inW + iw
							}
						}
					}
					out[oh*g.outW+ow] = maxRaw
					outIdx[oh*g.outW+ow] = int64(maxIdx)
				}
			}
		}
	})
}
