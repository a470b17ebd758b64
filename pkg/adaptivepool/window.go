// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

// StartIndex returns the first input index (inclusive) of the window of output index o,
// when an input axis of size inSize is pooled into outSize outputs: ⌊o·inSize/outSize⌋.
func StartIndex(o, outSize, inSize int) int {
	return (o * inSize) / outSize
}

// EndIndex returns the last input index (exclusive) of the window of output index o: ⌈(o+1)·inSize/outSize⌉.
//
// Windows of consecutive outputs tile [0, inSize), they may overlap by one when outSize
// doesn't divide inSize, and they are never empty if inSize > 0.
func EndIndex(o, outSize, inSize int) int {
	return ((o+1)*inSize + outSize - 1) / outSize
}

// geometry of one pooling call, with the input and output spatial sizes.
// Rank-3 inputs are handled as a batch of 1.
type geometry struct {
	batch, channels int
	inH, inW        int
	outH, outW      int
}

// planes is the number of (n, c) spatial planes.
func (g geometry) planes() int { return g.batch * g.channels }

func (g geometry) inPlaneSize() int { return g.inH * g.inW }

func (g geometry) outPlaneSize() int { return g.outH * g.outW }

// outPositions is the number of (n, oh, ow) output positions.
func (g geometry) outPositions() int { return g.batch * g.outH * g.outW }

// dataIndex walks the (n, oh, ow) output positions in row-major order, starting at
// an arbitrary linear offset. It avoids a division per position in the channels-last kernels.
type dataIndex struct {
	n, oh, ow  int
	outH, outW int
}

// newDataIndex returns the dataIndex for the linear position offset.
func newDataIndex(offset, outH, outW int) dataIndex {
	d := dataIndex{outH: outH, outW: outW}
	d.ow = offset % outW
	offset /= outW
	d.oh = offset % outH
	d.n = offset / outH
	return d
}

// next moves to the following position, carrying over into oh and then n.
func (d *dataIndex) next() {
	d.ow++
	if d.ow < d.outW {
		return
	}
	d.ow = 0
	d.oh++
	if d.oh < d.outH {
		return
	}
	d.oh = 0
	d.n++
}
