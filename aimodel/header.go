// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package aimodel implements the fixed-point inference model format and
// int8 matmul+ReLU kernel: a 16-byte header, densely packed per-layer
// weights and biases, and a deterministic, allocation-free inference
// routine safe to run inside a kernel task.
package aimodel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed on-disk header size.
const HeaderSize = 16

// DType values.
const (
	DTypeInt8 uint8 = 0
	DTypeInt4 uint8 = 1
)

var magic = [4]byte{'A', 'I', 'M', 'D'}

// ErrShortHeader is returned when fewer than HeaderSize bytes are supplied.
var ErrShortHeader = errors.New("aimodel: header shorter than 16 bytes")

// ErrInvalidHeader is returned when the header fails validation.
var ErrInvalidHeader = errors.New("aimodel: invalid header")

// ErrUnsupportedDType is returned by geometry and inference routines for a
// header whose DType is recognized as valid framing but whose
// per-element packing (int4) this implementation does not compute offsets
// or run inference for.
var ErrUnsupportedDType = errors.New("aimodel: dtype not implemented")

// Header is the fixed 16-byte model record.
type Header struct {
	NLayers uint16
	Hidden  uint16
	Vocab   uint32
	DType   uint8
}

// String renders the header for journal/log readability.
func (h Header) String() string {
	return fmt.Sprintf("layers=%d hidden=%d vocab=%d dtype=%d", h.NLayers, h.Hidden, h.Vocab, h.DType)
}

// ReadHeader parses and validates the 16-byte header at the start of data.
// Returns ErrShortHeader if len(data) < 16, ErrInvalidHeader if the magic,
// n_layers, hidden, or dtype fields fail validation.
func ReadHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortHeader
	}

	if data[0] != magic[0] || data[1] != magic[1] || data[2] != magic[2] || data[3] != magic[3] {
		return nil, ErrInvalidHeader
	}

	h := &Header{
		NLayers: binary.LittleEndian.Uint16(data[4:6]),
		Hidden:  binary.LittleEndian.Uint16(data[6:8]),
		Vocab:   binary.LittleEndian.Uint32(data[8:12]),
		DType:   data[12],
	}

	if h.NLayers < 1 || h.Hidden < 1 {
		return nil, ErrInvalidHeader
	}

	if h.DType != DTypeInt8 && h.DType != DTypeInt4 {
		return nil, ErrInvalidHeader
	}

	return h, nil
}

// LayerDims returns (in_dim, out_dim) for layer l: in_dim is
// always Hidden; out_dim is Hidden except for the last layer, where it is
// Vocab if nonzero, else Hidden.
func (h *Header) LayerDims(l int) (inDim, outDim int, err error) {
	if h.DType != DTypeInt8 {
		return 0, 0, ErrUnsupportedDType
	}
	if l < 0 || l >= int(h.NLayers) {
		return 0, 0, fmt.Errorf("aimodel: layer %d out of range [0,%d)", l, h.NLayers)
	}

	inDim = int(h.Hidden)
	outDim = int(h.Hidden)

	if l == int(h.NLayers)-1 && h.Vocab != 0 {
		outDim = int(h.Vocab)
	}

	return inDim, outDim, nil
}

// layerBytes returns (weightBytes, biasBytes) for layer l: out_dim*in_dim
// int8 weights followed by out_dim int32 biases.
func (h *Header) layerBytes(l int) (weightBytes, biasBytes int, err error) {
	inDim, outDim, err := h.LayerDims(l)
	if err != nil {
		return 0, 0, err
	}

	return inDim * outDim, outDim * 4, nil
}

// WeightsPtr returns the offset of layer l's weight matrix relative to the
// model blob base (i.e. including the 16-byte header; callers indexing
// into a header-stripped payload must subtract HeaderSize).
func (h *Header) WeightsPtr(l int) (offset int, err error) {
	if h.DType != DTypeInt8 {
		return 0, ErrUnsupportedDType
	}
	if l < 0 || l >= int(h.NLayers) {
		return 0, fmt.Errorf("aimodel: layer %d out of range [0,%d)", l, h.NLayers)
	}

	offset = HeaderSize

	for p := 0; p < l; p++ {
		wb, bb, err := h.layerBytes(p)
		if err != nil {
			return 0, err
		}
		offset += wb + bb
	}

	return offset, nil
}

// BiasPtr returns the offset of layer l's bias vector relative to the model
// blob base (including the header, like WeightsPtr), immediately after that
// layer's weight matrix.
func (h *Header) BiasPtr(l int) (offset int, err error) {
	wOff, err := h.WeightsPtr(l)
	if err != nil {
		return 0, err
	}

	wb, _, err := h.layerBytes(l)
	if err != nil {
		return 0, err
	}

	return wOff + wb, nil
}

// TotalWeightsBytes sums weight and bias bytes across all layers.
func (h *Header) TotalWeightsBytes() (int, error) {
	if h.DType != DTypeInt8 {
		return 0, ErrUnsupportedDType
	}

	total := 0
	for l := 0; l < int(h.NLayers); l++ {
		wb, bb, err := h.layerBytes(l)
		if err != nil {
			return 0, err
		}
		total += wb + bb
	}

	return total, nil
}
