// Package abi defines the fixed binary records exchanged with the
// application core. The core is a wasm32 module: every pointer, length and
// capacity is a little-endian u32 and address 0 is null.
package abi

import (
	"encoding/binary"
	"fmt"
)

// Record sizes and alignments in guest memory.
const (
	DescriptorSize  = 12
	InputSize       = 36
	OutputSize      = 8
	RecordAlignment = 4
)

// InputRecord field offsets.
const (
	offHandlerID    = 0
	offEventPayload = 4
	offPriorState   = 16
	offInitPayload  = 20
	offIsInit       = 32
)

// OutputRecord field offsets.
const (
	offNewState        = 0
	offPreventDefault  = 4
	offStopPropagation = 5
)

// inlineFlag marks a descriptor whose bytes are stored in the descriptor
// itself rather than behind Pointer.
const inlineFlag = 1 << 31

// InlineMax is the largest text a descriptor can carry inline.
const InlineMax = DescriptorSize - 1

// BufferDescriptor is a borrowed view over bytes in guest memory.
type BufferDescriptor struct {
	Pointer  uint32
	Length   uint32
	Capacity uint32
}

// Empty reports whether the descriptor views no bytes.
func (d BufferDescriptor) Empty() bool {
	return d.Length == 0
}

// Inline reports whether the descriptor carries its bytes inline.
func (d BufferDescriptor) Inline() bool {
	return d.Capacity&inlineFlag != 0
}

// Validate checks the descriptor invariants against a memory of memSize bytes.
func (d BufferDescriptor) Validate(memSize uint32) error {
	if d.Inline() {
		return nil
	}
	if d.Capacity < d.Length {
		return fmt.Errorf("capacity %d smaller than length %d", d.Capacity, d.Length)
	}
	if d.Length == 0 {
		return nil
	}
	if d.Pointer == 0 {
		return fmt.Errorf("null pointer with length %d", d.Length)
	}
	if uint64(d.Pointer)+uint64(d.Length) > uint64(memSize) {
		return fmt.Errorf("range [%d, %d) exceeds memory size %d",
			d.Pointer, uint64(d.Pointer)+uint64(d.Length), memSize)
	}
	return nil
}

// Encode writes the descriptor into b, which must hold DescriptorSize bytes.
func (d BufferDescriptor) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], d.Pointer)
	binary.LittleEndian.PutUint32(b[4:], d.Length)
	binary.LittleEndian.PutUint32(b[8:], d.Capacity)
}

// DecodeDescriptor reads a descriptor from b.
func DecodeDescriptor(b []byte) BufferDescriptor {
	return BufferDescriptor{
		Pointer:  binary.LittleEndian.Uint32(b[0:]),
		Length:   binary.LittleEndian.Uint32(b[4:]),
		Capacity: binary.LittleEndian.Uint32(b[8:]),
	}
}

// InlineText returns the bytes stored inside an inline descriptor's raw
// encoding. The length lives in the low seven bits of the last byte.
func InlineText(raw []byte) []byte {
	n := int(raw[DescriptorSize-1] & 0x7f)
	if n > InlineMax {
		n = InlineMax
	}
	return raw[:n]
}

// InputRecord is the record the host passes to the core's entry point.
type InputRecord struct {
	HandlerID    uint32
	EventPayload BufferDescriptor
	PriorState   uint32
	InitPayload  BufferDescriptor
	IsInit       bool
}

// Encode serialises the record into its InputSize-byte guest layout.
func (r InputRecord) Encode() []byte {
	b := make([]byte, InputSize)
	binary.LittleEndian.PutUint32(b[offHandlerID:], r.HandlerID)
	r.EventPayload.Encode(b[offEventPayload:])
	binary.LittleEndian.PutUint32(b[offPriorState:], r.PriorState)
	r.InitPayload.Encode(b[offInitPayload:])
	if r.IsInit {
		b[offIsInit] = 1
	}
	return b
}

// DecodeInput parses an InputRecord from its guest layout.
func DecodeInput(b []byte) (InputRecord, error) {
	if len(b) < InputSize {
		return InputRecord{}, fmt.Errorf("input record: need %d bytes, got %d", InputSize, len(b))
	}
	return InputRecord{
		HandlerID:    binary.LittleEndian.Uint32(b[offHandlerID:]),
		EventPayload: DecodeDescriptor(b[offEventPayload:]),
		PriorState:   binary.LittleEndian.Uint32(b[offPriorState:]),
		InitPayload:  DecodeDescriptor(b[offInitPayload:]),
		IsInit:       b[offIsInit] != 0,
	}, nil
}

// Payload returns the descriptor selected by IsInit.
func (r InputRecord) Payload() BufferDescriptor {
	if r.IsInit {
		return r.InitPayload
	}
	return r.EventPayload
}

// OutputRecord is the record the core's entry point writes back.
type OutputRecord struct {
	NewState        uint32
	PreventDefault  bool
	StopPropagation bool
}

// Encode serialises the record into its OutputSize-byte guest layout.
func (r OutputRecord) Encode() []byte {
	b := make([]byte, OutputSize)
	binary.LittleEndian.PutUint32(b[offNewState:], r.NewState)
	if r.PreventDefault {
		b[offPreventDefault] = 1
	}
	if r.StopPropagation {
		b[offStopPropagation] = 1
	}
	return b
}

// DecodeOutput parses an OutputRecord from its guest layout.
func DecodeOutput(b []byte) (OutputRecord, error) {
	if len(b) < OutputSize {
		return OutputRecord{}, fmt.Errorf("output record: need %d bytes, got %d", OutputSize, len(b))
	}
	return OutputRecord{
		NewState:        binary.LittleEndian.Uint32(b[offNewState:]),
		PreventDefault:  b[offPreventDefault] != 0,
		StopPropagation: b[offStopPropagation] != 0,
	}, nil
}

// Result packs the record's flags into a ResultCode.
func (r OutputRecord) Result() ResultCode {
	return NewResultCode(r.PreventDefault, r.StopPropagation)
}
