// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package aimodel

import "encoding/binary"

// Shift is the requantization shift applied after ReLU. 5 and 6 are the
// supported settings; the bootstrap may override before the first Infer.
var Shift uint = 6

// clampScore applies the [-127,127] saturation bound used uniformly in
// both the model path and the fallback heuristic.
func clampScore(v int32) int8 {
	switch {
	case v > 127:
		return 127
	case v < -127:
		return -127
	default:
		return int8(v)
	}
}

func saturatingAddInt32(a, b int32) int32 {
	sum := int64(a) + int64(b)
	switch {
	case sum > int64(int32Max):
		return int32Max
	case sum < int64(int32Min):
		return int32Min
	default:
		return int32(sum)
	}
}

const (
	int32Max = int32(1<<31 - 1)
	int32Min = -int32Max - 1
)

func clampToByteRange(v int32) int8 {
	switch {
	case v > 127:
		return 127
	case v < 0:
		return 0
	default:
		return int8(v)
	}
}

// Infer runs the layered int8 matmul+ReLU pipeline over payload (the
// model blob immediately following the 16-byte header) using features x
// (each in [-128,127]). It returns the final layer's y[0], clamped to
// [-127,127]. x must have len(x) == hdr.Hidden. scratchA and scratchB
// are caller-owned buffers (each sized at least max(hdr.Hidden,
// hdr.Vocab)) that Infer ping-pongs between as successive layer outputs,
// so the routine itself allocates no heap memory.
func Infer(hdr *Header, payload []byte, x []int8, scratchA, scratchB []int8) (score int8, err error) {
	if hdr.DType != DTypeInt8 {
		return 0, ErrUnsupportedDType
	}
	if len(x) != int(hdr.Hidden) {
		return 0, errLenMismatch("x", len(x), int(hdr.Hidden))
	}

	cur := x
	bufs := [2][]int8{scratchA, scratchB}

	for l := 0; l < int(hdr.NLayers); l++ {
		inDim, outDim, err := hdr.LayerDims(l)
		if err != nil {
			return 0, err
		}

		wOff, err := hdr.WeightsPtr(l)
		if err != nil {
			return 0, err
		}
		bOff, err := hdr.BiasPtr(l)
		if err != nil {
			return 0, err
		}
		// WeightsPtr/BiasPtr are blob-relative (they include the 16-byte
		// header, so consecutive layers are contiguous starting right
		// after it); payload here already has the header stripped.
		wOff -= HeaderSize
		bOff -= HeaderSize

		if wOff+inDim*outDim > len(payload) || bOff+outDim*4 > len(payload) {
			return 0, errShortPayload(l)
		}

		dst := bufs[l%2]
		if len(dst) < outDim {
			return 0, errLenMismatch("scratch", len(dst), outDim)
		}
		out := dst[:outDim]

		w := payload[wOff : wOff+inDim*outDim]
		b := payload[bOff : bOff+outDim*4]

		for i := 0; i < outDim; i++ {
			var acc int32

			row := w[i*inDim : i*inDim+inDim]
			for p := 0; p < inDim; p++ {
				acc += int32(int8(row[p])) * int32(cur[p])
			}

			bias := int32(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
			acc = saturatingAddInt32(acc, bias)

			if acc < 0 {
				acc = 0
			}
			out[i] = clampToByteRange(acc >> Shift)
		}

		cur = out
	}

	return clampScore(int32(cur[0])), nil
}

func errLenMismatch(name string, got, want int) error {
	return &lenMismatchError{name, got, want}
}

type lenMismatchError struct {
	name     string
	got, want int
}

func (e *lenMismatchError) Error() string {
	return "aimodel: " + e.name + " length mismatch"
}

func errShortPayload(layer int) error {
	return &shortPayloadError{layer}
}

type shortPayloadError struct {
	layer int
}

func (e *shortPayloadError) Error() string {
	return "aimodel: payload too short for layer"
}

// Fallback computes the heuristic score used when no model blob is present
// or it is shorter than 16+TotalWeightsBytes:
//
//	score = runq + irq_rate/2 - pf_rate - free_mb/8
//
// clamped to [-127,127], the same bound the model path applies.
func Fallback(runq int, irqRate, pfRate, freeKB uint64) int8 {
	freeMB := int64(freeKB / 1024)
	score := int64(runq) + int64(irqRate)/2 - int64(pfRate) - freeMB/8

	return clampScore(int32(clampInt64(score)))
}

func clampInt64(v int64) int64 {
	switch {
	case v > int64(int32Max):
		return int64(int32Max)
	case v < int64(int32Min):
		return int64(int32Min)
	default:
		return v
	}
}
