// Package testutil holds helpers shared by package tests.
package testutil

// PageSize mirrors the WebAssembly page size.
const PageSize = 65536

// SliceMemory is an in-process linear memory backed by a byte slice. It
// behaves like a wazero memory: Read returns a view, Grow extends by whole
// pages and fails past MaxPages.
type SliceMemory struct {
	buf      []byte
	MaxPages uint32

	// FailGrow makes every Grow call fail.
	FailGrow bool
	// Grows counts successful Grow calls.
	Grows int
}

// NewSliceMemory creates a memory of pages pages that may grow to maxPages.
func NewSliceMemory(pages, maxPages uint32) *SliceMemory {
	return &SliceMemory{
		buf:      make([]byte, int(pages)*PageSize),
		MaxPages: maxPages,
	}
}

// Size returns the memory size in bytes.
func (m *SliceMemory) Size() uint32 {
	return uint32(len(m.buf))
}

// Grow extends the memory by deltaPages.
func (m *SliceMemory) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(len(m.buf) / PageSize)
	if m.FailGrow || prev+deltaPages > m.MaxPages {
		return prev, false
	}
	m.buf = append(m.buf, make([]byte, int(deltaPages)*PageSize)...)
	m.Grows++
	return prev, true
}

// Read returns a view of byteCount bytes at offset.
func (m *SliceMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset:end:end], true
}

// Write copies v into memory at offset.
func (m *SliceMemory) Write(offset uint32, v []byte) bool {
	end := uint64(offset) + uint64(len(v))
	if end > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[offset:end], v)
	return true
}

// Bytes exposes the whole backing slice.
func (m *SliceMemory) Bytes() []byte {
	return m.buf
}
