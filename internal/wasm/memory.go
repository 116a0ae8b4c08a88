package wasm

import (
	"errors"

	"github.com/tetratelabs/wazero/api"

	contract "github.com/woxQAQ/platform-bridge/api/wasm"
	"github.com/woxQAQ/platform-bridge/internal/abi"
)

// Memory provides bounds-checked reads of a core's linear memory.
//
// Every read goes through wazero's api.Memory, which refuses out-of-range
// offsets instead of faulting, and every buffer descriptor the core hands
// over is validated before the bytes behind it are touched.
type Memory struct {
	mem api.Memory
}

// NewMemory creates a memory helper.
func NewMemory(module api.Module) *Memory {
	return &Memory{mem: coreMemory(module)}
}

// coreMemory returns the core's exported linear memory, or nil when it has
// none. api.Module.Memory wraps a nil instance in a non-nil interface for
// memory-less modules, so the export is looked up by name instead.
func coreMemory(module api.Module) api.Memory {
	return module.ExportedMemory(contract.ExportMemory)
}

// ReadBytes reads raw bytes from Wasm memory.
func (m *Memory) ReadBytes(ptr uint32, length uint32) ([]byte, bool) {
	if m.mem == nil {
		return nil, false
	}
	return m.mem.Read(ptr, length)
}

// ReadDescriptor reads the buffer descriptor stored at ptr.
func (m *Memory) ReadDescriptor(ptr uint32) (abi.BufferDescriptor, []byte, error) {
	raw, ok := m.ReadBytes(ptr, abi.DescriptorSize)
	if !ok {
		return abi.BufferDescriptor{}, nil, &MemoryAccessError{
			Operation: "read descriptor",
			Address:   ptr,
			Length:    abi.DescriptorSize,
			Err:       errors.New("out of bounds"),
		}
	}
	return abi.DecodeDescriptor(raw), raw, nil
}

// ReadText reads the UTF-8 text described by the descriptor at ptr. Short
// texts may be stored inline in the descriptor itself.
func (m *Memory) ReadText(ptr uint32) (string, error) {
	if ptr == 0 {
		return "", &MemoryAccessError{Operation: "read text", Err: errors.New("null descriptor")}
	}

	desc, raw, err := m.ReadDescriptor(ptr)
	if err != nil {
		return "", err
	}
	if desc.Inline() {
		return string(abi.InlineText(raw)), nil
	}

	if err := desc.Validate(m.mem.Size()); err != nil {
		return "", &MemoryAccessError{
			Operation: "read text",
			Address:   desc.Pointer,
			Length:    desc.Length,
			Err:       err,
		}
	}
	if desc.Length == 0 {
		return "", nil
	}

	text, ok := m.mem.Read(desc.Pointer, desc.Length)
	if !ok {
		return "", &MemoryAccessError{
			Operation: "read text",
			Address:   desc.Pointer,
			Length:    desc.Length,
			Err:       errors.New("out of bounds"),
		}
	}
	return string(text), nil
}
