// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// adaptivepool_bench runs the adaptive max pooling kernels on random tensors, reports their timings and
// cross-checks that the contiguous and the channels-last kernels agree.
//
// Example:
//
//	adaptivepool_bench -batch=32 -channels=256 -height=14 -width=14 -out_h=7 -out_w=7 -dtype=bfloat16 -config="parallelism=8"
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/adaptivepool/pkg/adaptivepool"
	"github.com/gomlx/adaptivepool/pkg/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var (
	flagBatch    = flag.Int("batch", 8, "Batch size N of the input.")
	flagChannels = flag.Int("channels", 64, "Number of channels C of the input.")
	flagHeight   = flag.Int("height", 56, "Input height H.")
	flagWidth    = flag.Int("width", 56, "Input width W.")
	flagOutH     = flag.Int("out_h", 7, "Output height.")
	flagOutW     = flag.Int("out_w", 7, "Output width.")
	flagDType    = flag.String("dtype", "float32", "Input dtype: float32, float64, bfloat16 or float16.")
	flagLayout   = flag.String("layout", "all", "Input memory layout: contiguous, channels_last or all.")
	flagIters    = flag.Int("iters", 20, "Number of timed iterations per layout.")
	flagBackward = flag.Bool("backward", true, "Also time the backward pass.")
	flagConfig   = flag.String("config", "", `Pooler configuration, e.g. "parallelism=4,simd=false,grain=1".`)
	flagNaNs     = flag.Float64("nans", 0, "Probability of each input value being NaN.")
	flagSeed     = flag.Uint64("seed", 42, "Seed of the random input values.")
)

var layoutNames = map[string]tensors.MemoryLayout{
	"contiguous":    tensors.Contiguous,
	"channels_last": tensors.ChannelsLast,
}

var dtypeNames = map[string]dtypes.DType{
	"float32":  dtypes.Float32,
	"float64":  dtypes.Float64,
	"bfloat16": dtypes.BFloat16,
	"float16":  dtypes.Float16,
}

// bytesPerValue of the supported input dtypes.
var bytesPerValue = map[dtypes.DType]int{
	dtypes.Float32:  4,
	dtypes.Float64:  8,
	dtypes.BFloat16: 2,
	dtypes.Float16:  2,
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	pooler, err := adaptivepool.NewWithConfig(*flagConfig)
	if err != nil {
		klog.Exitf("Invalid -config=%q: %+v", *flagConfig, err)
	}
	dtype, found := dtypeNames[strings.ToLower(*flagDType)]
	if !found {
		klog.Exitf("Invalid -dtype=%q, valid values are float32, float64, bfloat16 and float16", *flagDType)
	}
	var layouts []tensors.MemoryLayout
	if *flagLayout == "all" {
		layouts = []tensors.MemoryLayout{tensors.Contiguous, tensors.ChannelsLast}
	} else if layout, found := layoutNames[*flagLayout]; found {
		layouts = []tensors.MemoryLayout{layout}
	} else {
		klog.Exitf("Invalid -layout=%q, valid values are contiguous, channels_last and all", *flagLayout)
	}
	if *flagIters <= 0 {
		klog.Exitf("-iters must be > 0, got %d", *flagIters)
	}

	// Plain output if stdout is not a color terminal.
	colorProfile := termenv.NewOutput(os.Stdout).EnvColorProfile()
	lipgloss.SetColorProfile(colorProfile)
	interactive := colorProfile != termenv.Ascii

	dims := []int{*flagBatch, *flagChannels, *flagHeight, *flagWidth}
	outputSize := []int{*flagOutH, *flagOutW}
	input := randomInput(dtype, dims)
	printSummary(pooler, input, outputSize)

	results := newResultsTable(lipgloss.Left, lipgloss.Right)
	results.Table.Headers("Layout", "Forward", "Backward", "Forward throughput")
	outputs := make(map[tensors.MemoryLayout]*tensors.Tensor)
	indices := make(map[tensors.MemoryLayout]*tensors.Tensor)
	for _, layout := range layouts {
		layoutInput := input.ToLayout(layout)
		forwardTime, backwardTime := benchmark(pooler, layoutInput, outputSize, interactive)
		outputs[layout], indices[layout] = must.M2(pooler.Forward(layoutInput, outputSize))
		backwardStr := "-"
		if *flagBackward {
			backwardStr = backwardTime.String()
		}
		throughput := float64(input.Size()) / forwardTime.Seconds()
		results.Row(false, layout.String(), forwardTime.String(), backwardStr,
			humanize.SIWithDigits(throughput, 2, "values/s"))
	}
	fmt.Println(titleStyle.Render("Timings (per iteration)"))
	fmt.Println(results.Table.Render())

	if len(layouts) == 2 {
		crossCheck(outputs, indices)
	}
}

// randomInput returns a contiguous tensor with normally distributed values, and NaNs with probability -nans.
func randomInput(dtype dtypes.DType, dims []int) *tensors.Tensor {
	rng := rand.New(rand.NewPCG(*flagSeed, *flagSeed+1))
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	value := func() float32 {
		if rng.Float64() < *flagNaNs {
			return float32(math.NaN())
		}
		return float32(rng.NormFloat64())
	}
	switch dtype {
	case dtypes.Float32:
		flat := make([]float32, size)
		for i := range flat {
			flat[i] = value()
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...)
	case dtypes.Float64:
		flat := make([]float64, size)
		for i := range flat {
			flat[i] = float64(value())
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...)
	case dtypes.BFloat16:
		flat := make([]bfloat16.BFloat16, size)
		for i := range flat {
			flat[i] = bfloat16.FromFloat32(value())
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...)
	default:
		flat := make([]float16.Float16, size)
		for i := range flat {
			flat[i] = float16.Fromfloat32(value())
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...)
	}
}

func printSummary(pooler *adaptivepool.Pooler, input *tensors.Tensor, outputSize []int) {
	fmt.Println(titleStyle.Render("Adaptive max pooling"))
	table := newResultsTable(lipgloss.Right, lipgloss.Left)
	table.Row(false, "pooler", pooler.String())
	table.Row(false, "input", fmt.Sprintf("(%s)%v", input.DType(), input.Dimensions()))
	table.Row(false, "output size", fmt.Sprintf("%v", outputSize))
	table.Row(false, "# values", humanize.Comma(int64(input.Size())))
	table.Row(false, "# bytes", humanize.Bytes(uint64(input.Size()*bytesPerValue[input.DType()])))
	table.Row(false, "iterations", humanize.Comma(int64(*flagIters)))
	fmt.Println(table.Table.Render())
}

// benchmark returns the mean time of the forward and backward passes, after one warm-up run.
func benchmark(pooler *adaptivepool.Pooler, input *tensors.Tensor, outputSize []int, interactive bool) (forward, backward time.Duration) {
	output, indices := must.M2(pooler.Forward(input, outputSize))
	gradOutput := output.Clone()
	if *flagBackward {
		_ = must.M1(pooler.Backward(gradOutput, input, indices))
	}

	bar := progressbar.NewOptions(*flagIters,
		progressbar.OptionSetDescription(fmt.Sprintf("%-14s", input.Layout())),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionUseANSICodes(interactive),
		progressbar.OptionEnableColorCodes(interactive),
		progressbar.OptionSetVisibility(interactive),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("iters"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	for range *flagIters {
		start := time.Now()
		_, indices = must.M2(pooler.Forward(input, outputSize))
		forward += time.Since(start)
		if *flagBackward {
			start = time.Now()
			_ = must.M1(pooler.Backward(gradOutput, input, indices))
			backward += time.Since(start)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	iters := time.Duration(*flagIters)
	return forward / iters, backward / iters
}

// crossCheck compares the results of both layouts and prints a table with the outcome.
func crossCheck(outputs, indices map[tensors.MemoryLayout]*tensors.Tensor) {
	fmt.Println(titleStyle.Render("Layout cross-check"))
	table := newResultsTable(lipgloss.Left)
	table.Table.Headers("Check", "Mismatches", "Result")

	contiguousIndices := tensors.LogicalFlat[int64](indices[tensors.Contiguous])
	channelsLastIndices := tensors.LogicalFlat[int64](indices[tensors.ChannelsLast])
	var indexMismatches int
	for i := range contiguousIndices {
		if contiguousIndices[i] != channelsLastIndices[i] {
			indexMismatches++
		}
	}
	contiguousValues := logicalFloat64s(outputs[tensors.Contiguous])
	channelsLastValues := logicalFloat64s(outputs[tensors.ChannelsLast])
	var valueMismatches int
	for i := range contiguousValues {
		a, b := contiguousValues[i], channelsLastValues[i]
		if a != b && !(math.IsNaN(a) && math.IsNaN(b)) {
			valueMismatches++
		}
	}

	result := func(mismatches int) string {
		if mismatches == 0 {
			return "ok"
		}
		return "FAILED"
	}
	table.Row(indexMismatches > 0, "indices", humanize.Comma(int64(indexMismatches)), result(indexMismatches))
	table.Row(valueMismatches > 0, "values", humanize.Comma(int64(valueMismatches)), result(valueMismatches))
	fmt.Println(table.Table.Render())
	if indexMismatches+valueMismatches > 0 {
		klog.Errorf("Contiguous and channels-last kernels disagree in %d indices and %d values", indexMismatches, valueMismatches)
		os.Exit(1)
	}
}

func logicalFloat64s(t *tensors.Tensor) []float64 {
	values := make([]float64, 0, t.Size())
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
	}
	return values
}
