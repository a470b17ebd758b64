// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

import (
	"slices"

	"github.com/gomlx/adaptivepool/pkg/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// Backward returns the gradient with respect to the input of Forward.
//
// gradOutput is the gradient with respect to Forward's output, and indices is the one Forward returned.
// Only the dimensions, dtype and layout of input are used: the returned gradInput has the same ones,
// and each of its values is the sum of the gradOutput values whose argmax is that input position.
//
// gradOutput and indices may come in either supported layout: they are converted to input's layout.
// All errors are returned before any computation starts, and wrap either ErrInvalidArgument or ErrInternal.
func (p *Pooler) Backward(gradOutput, input, indices *tensors.Tensor) (gradInput *tensors.Tensor, err error) {
	g, err := checkBackward(gradOutput, input, indices)
	if err != nil {
		return nil, err
	}
	layout := input.Layout()
	kernel := "backward/contiguous"
	if layout == tensors.ChannelsLast {
		kernel = "backward/channels-last"
	}
	if klog.V(1).Enabled() {
		klog.Infof("adaptivepool.Backward(gradOutput=(%s)%v/%s, input=%v/%s): kernel %s",
			gradOutput.DType(), gradOutput.Dimensions(), gradOutput.Layout(), input.Dimensions(), layout, kernel)
	}
	err = exceptions.TryCatch[error](func() {
		gradInput = tensors.Zeros(input.DType(), layout, input.Dimensions()...)
		gradOutput = gradOutput.ToLayout(layout)
		flatIndices := tensors.Flat[int64](indices.ToLayout(layout))
		p.backward(kernel, g, gradOutput, gradInput, flatIndices)
	})
	if err != nil {
		return nil, internalErrorf("adaptivepool.Backward(gradOutput=(%s)%v/%s) failed: %+v",
			gradOutput.DType(), gradOutput.Dimensions(), gradOutput.Layout(), err)
	}
	return gradInput, nil
}

// checkBackward validates the arguments of Backward and returns the geometry of the call.
func checkBackward(gradOutput, input, indices *tensors.Tensor) (g geometry, err error) {
	if gradOutput == nil || input == nil || indices == nil {
		return g, invalidArgumentf("adaptive_max_pool2d_backward(): gradOutput, input and indices must all be given")
	}
	rank := gradOutput.Rank()
	if rank != 3 && rank != 4 {
		return g, invalidArgumentf("adaptive_max_pool2d_backward(): Expected 3D or 4D gradOutput, but got dimensions %v", gradOutput.Dimensions())
	}
	if err = checkNonBatchDims("gradOutput", gradOutput); err != nil {
		return
	}
	if gradOutput.DType() != input.DType() {
		return g, invalidArgumentf("expected dtype %s for gradOutput but got dtype %s", input.DType(), gradOutput.DType())
	}
	if err = checkDType("gradOutput", gradOutput.DType()); err != nil {
		return
	}
	if input.Rank() != rank {
		return g, invalidArgumentf("adaptive_max_pool2d_backward(): input dimensions %v and gradOutput dimensions %v have different ranks",
			input.Dimensions(), gradOutput.Dimensions())
	}
	if err = checkNonBatchDims("input", input); err != nil {
		return
	}
	if !slices.Equal(input.Dimensions()[:rank-2], gradOutput.Dimensions()[:rank-2]) {
		return g, invalidArgumentf("adaptive_max_pool2d_backward(): input dimensions %v and gradOutput dimensions %v differ in the batch or channels axes",
			input.Dimensions(), gradOutput.Dimensions())
	}
	if indices.DType() != dtypes.Int64 {
		return g, invalidArgumentf("adaptive_max_pool2d_backward(): indices must be Int64, got %s", indices.DType())
	}
	if !slices.Equal(indices.Dimensions(), gradOutput.Dimensions()) {
		return g, invalidArgumentf("adaptive_max_pool2d_backward(): indices dimensions %v don't match gradOutput dimensions %v",
			indices.Dimensions(), gradOutput.Dimensions())
	}
	for _, t := range []struct {
		name string
		t    *tensors.Tensor
	}{{"input", input}, {"gradOutput", gradOutput}, {"indices", indices}} {
		if l := t.t.Layout(); l != tensors.Contiguous && l != tensors.ChannelsLast {
			return g, invalidArgumentf("adaptive_max_pool2d_backward(): unsupported memory layout %s for %s", l, t.name)
		}
	}

	g = geometryOf(input.Dimensions())
	outDims := gradOutput.Dimensions()
	g.outH, g.outW = outDims[rank-2], outDims[rank-1]
	planeSize := int64(g.inPlaneSize())
	for i, idx := range tensors.Flat[int64](indices) {
		if idx < 0 || idx >= planeSize {
			return g, invalidArgumentf("adaptive_max_pool2d_backward(): indices value %d (flat position %d) is out of the input spatial plane of size %d×%d",
				idx, i, g.inH, g.inW)
		}
	}
	return g, nil
}

// backward dispatches to the kernel for the layout and dtype of gradInput.
func (p *Pooler) backward(kernel string, g geometry, gradOutput, gradInput *tensors.Tensor, indices []int64) {
	channelsLast := gradInput.Layout() == tensors.ChannelsLast
	switch gradInput.DType() {
	case dtypes.Float32:
		backwardDispatch(p, kernel, channelsLast, g, tensors.Flat[float32](gradOutput), tensors.Flat[float32](gradInput), indices, addNative[float32])
	case dtypes.Float64:
		backwardDispatch(p, kernel, channelsLast, g, tensors.Flat[float64](gradOutput), tensors.Flat[float64](gradInput), indices, addNative[float64])
	case dtypes.BFloat16:
		backwardDispatch(p, kernel, channelsLast, g, tensors.Flat[bfloat16.BFloat16](gradOutput), tensors.Flat[bfloat16.BFloat16](gradInput), indices, bfloat16Conv.add)
	case dtypes.Float16:
		backwardDispatch(p, kernel, channelsLast, g, tensors.Flat[float16.Float16](gradOutput), tensors.Flat[float16.Float16](gradInput), indices, float16Conv.add)
	default:
		exceptions.Panicf("adaptivepool: no backward kernel for dtype %s", gradInput.DType())
	}
}

func addNative[T constraints.Float](a, b T) T { return a + b }

func backwardDispatch[T any](p *Pooler, kernel string, channelsLast bool, g geometry, gradOutput, gradInput []T, indices []int64, add func(a, b T) T) {
	if channelsLast {
		backwardChannelsLast(p, kernel, g, gradOutput, gradInput, indices, add)
	} else {
		backwardContiguous(p, kernel, g, gradOutput, gradInput, indices, add)
	}
}

// backwardContiguous scatters the gradients plane by plane: each (n, c) plane of gradInput is written
// by only one worker.
func backwardContiguous[T any](p *Pooler, kernel string, g geometry, gradOutput, gradInput []T, indices []int64, add func(a, b T) T) {
	inPlane, outPlane := g.inPlaneSize(), g.outPlaneSize()
	p.parallelFor(kernel, g.planes(), func(lo, hi int) {
		for plane := lo; plane < hi; plane++ {
			gradIn := gradInput[plane*inPlane : (plane+1)*inPlane]
			gradOut := gradOutput[plane*outPlane : (plane+1)*outPlane]
			planeIndices := indices[plane*outPlane : (plane+1)*outPlane]
			for i, maxIdx := range planeIndices {
				gradIn[maxIdx] = add(gradIn[maxIdx], gradOut[i])
			}
		}
	})
}

// backwardChannelsLast scatters the gradients batch by batch: each example of gradInput is written by only one worker.
func backwardChannelsLast[T any](p *Pooler, kernel string, g geometry, gradOutput, gradInput []T, indices []int64, add func(a, b T) T) {
	channels := g.channels
	inExample, outExample := g.inPlaneSize()*channels, g.outPlaneSize()*channels
	p.parallelFor(kernel, g.batch, func(lo, hi int) {
		for n := lo; n < hi; n++ {
			gradIn := gradInput[n*inExample : (n+1)*inExample]
			for pos := range g.outPlaneSize() {
				offset := n*outExample + pos*channels
				gradOut := gradOutput[offset : offset+channels]
				posIndices := indices[offset : offset+channels]
				for c, maxIdx := range posIndices {
					target := int(maxIdx)*channels + c
					gradIn[target] = add(gradIn[target], gradOut[c])
				}
			}
		}
	})
}
