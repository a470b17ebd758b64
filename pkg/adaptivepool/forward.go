// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

import (
	"math"

	"github.com/gomlx/adaptivepool/pkg/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Forward pools input into the spatial size outputSize = [oH, oW].
//
// input must be shaped (C, H, W) or (N, C, H, W) with H, W and C > 0, and its layout must be
// tensors.Contiguous or tensors.ChannelsLast. It returns the output, with input's dtype and layout
// and the spatial axes replaced by (oH, oW), and the Int64 indices of the argmax of each window,
// with the same shape and layout as output.
//
// All errors are returned before any computation starts, and wrap either ErrInvalidArgument or ErrInternal.
func (p *Pooler) Forward(input *tensors.Tensor, outputSize []int) (output, indices *tensors.Tensor, err error) {
	g, err := checkForward(input, outputSize)
	if err != nil {
		return nil, nil, err
	}
	layout := input.Layout()
	outputDims := make([]int, input.Rank())
	copy(outputDims, input.Dimensions())
	outputDims[input.Rank()-2] = g.outH
	outputDims[input.Rank()-1] = g.outW
	output = tensors.Zeros(input.DType(), layout, outputDims...)
	indices = tensors.Zeros(dtypes.Int64, layout, outputDims...)

	kernel := "forward/contiguous"
	if layout == tensors.ChannelsLast {
		kernel = "forward/channels-last"
		if !p.simd {
			kernel += "/scalar"
		}
	}
	if klog.V(1).Enabled() {
		klog.Infof("adaptivepool.Forward(input=(%s)%v/%s, outputSize=%v): kernel %s",
			input.DType(), input.Dimensions(), layout, outputSize, kernel)
	}
	err = exceptions.TryCatch[error](func() {
		p.forward(kernel, g, input, output, tensors.Flat[int64](indices))
	})
	if err != nil {
		return nil, nil, internalErrorf("adaptivepool.Forward(input=(%s)%v/%s) failed: %+v",
			input.DType(), input.Dimensions(), layout, err)
	}
	return output, indices, nil
}

// checkForward validates the arguments of Forward and returns the geometry of the call.
func checkForward(input *tensors.Tensor, outputSize []int) (g geometry, err error) {
	if input == nil {
		return g, invalidArgumentf("adaptive_max_pool2d(): input tensor is nil")
	}
	rank := input.Rank()
	if rank != 3 && rank != 4 {
		return g, invalidArgumentf("adaptive_max_pool2d(): Expected 3D or 4D tensor, but got input with dimensions %v", input.Dimensions())
	}
	if err = checkNonBatchDims("input", input); err != nil {
		return
	}
	if len(outputSize) != 2 {
		return g, internalErrorf("output size must have 2 elements, got %v", outputSize)
	}
	if outputSize[0] < 0 || outputSize[1] < 0 {
		return g, invalidArgumentf("adaptive_max_pool2d(): output size must be non-negative, got %v", outputSize)
	}
	layout := input.Layout()
	if layout != tensors.Contiguous && layout != tensors.ChannelsLast {
		return g, invalidArgumentf("adaptive_max_pool2d(): unsupported memory layout %s for input with dimensions %v", layout, input.Dimensions())
	}
	if err = checkDType("input", input.DType()); err != nil {
		return
	}
	g = geometryOf(input.Dimensions())
	g.outH, g.outW = outputSize[0], outputSize[1]
	if layout == tensors.ChannelsLast {
		laneMax := int64(math.MaxInt32)
		if input.DType() == dtypes.Float64 {
			laneMax = math.MaxInt64
		}
		if !fitsIndexLane(g.inH, g.inW, laneMax) {
			return g, invalidArgumentf("adaptive_max_pool2d(): input spatial size %d×%d overflows the %s index lanes of the channels-last kernel",
				g.inH, g.inW, indexLaneName(input.DType()))
		}
	}
	return g, nil
}

// checkNonBatchDims checks that all the dimensions but the batch one (in rank-4 tensors) are not empty.
func checkNonBatchDims(name string, t *tensors.Tensor) error {
	dims := t.Dimensions()
	for axis := len(dims) - 3; axis < len(dims); axis++ {
		if dims[axis] == 0 {
			return invalidArgumentf("adaptive_max_pool2d(): Expected %s to have non-zero size for non-batch dimensions, "+
				"but %s has sizes %v with dimension %d being empty", name, name, dims, axis)
		}
	}
	return nil
}

func checkDType(name string, dtype dtypes.DType) error {
	switch dtype {
	case dtypes.Float32, dtypes.Float64, dtypes.BFloat16, dtypes.Float16:
		return nil
	}
	return invalidArgumentf("adaptive_max_pool2d(): %s dtype %s not supported, it must be one of Float32, Float64, BFloat16 or Float16", name, dtype)
}

// geometryOf returns the geometry for the logical (C, H, W) or (N, C, H, W) dimensions, without the output sizes.
func geometryOf(dims []int) geometry {
	g := geometry{batch: 1}
	if len(dims) == 4 {
		g.batch = dims[0]
		dims = dims[1:]
	}
	g.channels, g.inH, g.inW = dims[0], dims[1], dims[2]
	return g
}

// fitsIndexLane returns whether all flat spatial indices ih·W+iw are representable up to laneMax.
func fitsIndexLane(height, width int, laneMax int64) bool {
	if height == 0 || width == 0 {
		return true
	}
	return int64(height) <= laneMax/int64(width)
}

func indexLaneName(dtype dtypes.DType) string {
	if dtype == dtypes.Float64 {
		return "int64"
	}
	return "int32"
}

// forward dispatches to the kernel for the layout and dtype of input.
func (p *Pooler) forward(kernel string, g geometry, input, output *tensors.Tensor, indices []int64) {
	channelsLast := input.Layout() == tensors.ChannelsLast
	switch input.DType() {
	case dtypes.Float32:
		in, out := tensors.Flat[float32](input), tensors.Flat[float32](output)
		if channelsLast {
			p.forwardChannelsLastFloat32(kernel, g, in, out, indices)
		} else {
			forwardContiguous(p, kernel, g, in, out, indices)
		}
	case dtypes.Float64:
		in, out := tensors.Flat[float64](input), tensors.Flat[float64](output)
		if channelsLast {
			p.forwardChannelsLastFloat64(kernel, g, in, out, indices)
		} else {
			forwardContiguous(p, kernel, g, in, out, indices)
		}
	case dtypes.BFloat16:
		in, out := tensors.Flat[bfloat16.BFloat16](input), tensors.Flat[bfloat16.BFloat16](output)
		if channelsLast {
			forwardChannelsLastHalf(p, kernel, g, bfloat16Conv, in, out, indices)
		} else {
			forwardContiguousHalf(p, kernel, g, bfloat16Conv, in, out, indices)
		}
	case dtypes.Float16:
		in, out := tensors.Flat[float16.Float16](input), tensors.Flat[float16.Float16](output)
		if channelsLast {
			forwardChannelsLastHalf(p, kernel, g, float16Conv, in, out, indices)
		} else {
			forwardContiguousHalf(p, kernel, g, float16Conv, in, out, indices)
		}
	default:
		exceptions.Panicf("adaptivepool: no forward kernel for dtype %s", input.DType())
	}
}
