// Package alloc implements the memory primitives an application core imports
// from its host: allocate, reallocate, deallocate, copy and set, all operating
// on the core's linear memory.
package alloc

import (
	"errors"
	"fmt"
)

// PageSize is the WebAssembly page size.
const PageSize = 65536

// MinAlign is the smallest alignment handed out. Every block start and every
// block size is a multiple of it.
const MinAlign = 8

// Memory is the subset of a guest linear memory the allocator needs.
// wazero's api.Memory satisfies it.
type Memory interface {
	// Size returns the current memory size in bytes.
	Size() uint32
	// Grow increases memory by deltaPages and returns the previous page count.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
	// Read returns a view of byteCount bytes at offset.
	Read(offset, byteCount uint32) ([]byte, bool)
	// Write copies v into memory at offset.
	Write(offset uint32, v []byte) bool
}

// ErrOutOfMemory is reported when the heap cannot satisfy a request.
var ErrOutOfMemory = errors.New("guest heap exhausted")

// BoundsError occurs when a copy or fill touches memory outside the guest's
// linear memory.
type BoundsError struct {
	Op     string
	Addr   uint32
	Length uint32
	Size   uint32
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("%s out of bounds (addr=%d, len=%d, memory=%d)",
		e.Op, e.Addr, e.Length, e.Size)
}
