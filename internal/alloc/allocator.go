package alloc

import (
	"math"
	"math/bits"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Options configures an Allocator.
type Options struct {
	// HeapBase is the first address the allocator may hand out, usually the
	// core's exported __heap_base. Zero means "end of the initial memory".
	HeapBase uint32

	// MaxPages caps the linear memory size the allocator will grow to.
	// Zero leaves the cap to the memory itself.
	MaxPages uint32
}

// span is a half-open byte range [start, start+size).
type span struct {
	start uint32
	size  uint32
}

func (s span) end() uint64 { return uint64(s.start) + uint64(s.size) }

// Stats describes the allocator's current heap usage.
type Stats struct {
	LiveBlocks int
	LiveBytes  uint64
	FreeBytes  uint64
	FreeSpans  int
	HeapBase   uint32
	MemorySize uint32
}

// Allocator is a first-fit free-list allocator over a guest linear memory.
//
// Block bookkeeping lives on the Go side, so the guest heap holds nothing but
// the core's data. Requested alignments are honored: every returned pointer
// is a multiple of max(alignment, MinAlign) rounded up to a power of two.
type Allocator struct {
	mu sync.Mutex

	mem      Memory
	base     uint32
	maxPages uint32

	free []span           // sorted by start, never adjacent
	live map[uint32]span // ptr -> block

	logger *zap.Logger
}

// New creates an allocator managing mem from opts.HeapBase upwards.
func New(mem Memory, opts Options, logger *zap.Logger) *Allocator {
	base := opts.HeapBase
	if base == 0 {
		base = mem.Size()
	}
	base = uint32(alignUp(uint64(max(base, MinAlign)), MinAlign))

	a := &Allocator{
		mem:      mem,
		base:     base,
		maxPages: opts.MaxPages,
		live:     make(map[uint32]span),
		logger:   logger.With(zap.String("component", "guest-allocator")),
	}

	if size := mem.Size(); size > base {
		a.free = append(a.free, span{start: base, size: size - base})
	}

	a.logger.Debug("Guest heap initialized",
		zap.Uint32("heap_base", base),
		zap.Uint32("memory_size", mem.Size()),
		zap.Uint32("max_pages", opts.MaxPages),
	)

	return a
}

// Memory returns the linear memory this allocator manages.
func (a *Allocator) Memory() Memory {
	return a.mem
}

// Allocate returns a region of at least size bytes aligned to alignment,
// or 0 when the heap is exhausted.
func (a *Allocator) Allocate(size, alignment uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.allocate(size, alignment)
}

// Reallocate resizes the block at ptr, preserving its first
// min(oldSize, newSize) bytes. A zero ptr behaves like Allocate. On failure
// it returns 0 and the original block stays valid.
func (a *Allocator) Reallocate(ptr, newSize, oldSize, alignment uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ptr == 0 {
		return a.allocate(newSize, alignment)
	}

	block, ok := a.live[ptr]
	if !ok {
		a.logger.Warn("Reallocate of unknown pointer", zap.Uint32("ptr", ptr))
		return 0
	}

	want, ok := roundSize(newSize)
	if !ok {
		return 0
	}

	// Shrink in place.
	if want <= block.size {
		if rest := block.size - want; rest > 0 {
			a.release(span{start: ptr + want, size: rest})
			a.live[ptr] = span{start: ptr, size: want}
		}
		return ptr
	}

	// Grow in place when the neighbouring free span is large enough.
	if i, found := a.freeAt(uint32(block.end())); found && uint64(block.size)+uint64(a.free[i].size) >= uint64(want) {
		extra := want - block.size
		a.carve(i, a.free[i].start, extra)
		a.live[ptr] = span{start: ptr, size: want}
		return ptr
	}

	moved := a.allocate(newSize, alignment)
	if moved == 0 {
		return 0
	}

	n := min(oldSize, newSize, block.size)
	if n > 0 {
		src, ok := a.mem.Read(ptr, n)
		if !ok || !a.mem.Write(moved, src) {
			a.logger.Error("Reallocate copy failed",
				zap.Uint32("from", ptr),
				zap.Uint32("to", moved),
				zap.Uint32("len", n),
			)
			a.deallocate(moved)
			return 0
		}
	}

	a.deallocate(ptr)
	return moved
}

// Deallocate releases the block at ptr. Unknown pointers are logged and
// ignored.
func (a *Allocator) Deallocate(ptr, alignment uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ptr == 0 {
		return
	}
	a.deallocate(ptr)
}

// Copy copies count bytes from src to dst inside guest memory.
func (a *Allocator) Copy(dst, src, count uint32) error {
	if count == 0 {
		return nil
	}

	buf, ok := a.mem.Read(src, count)
	if !ok {
		return &BoundsError{Op: "copy read", Addr: src, Length: count, Size: a.mem.Size()}
	}
	if !a.mem.Write(dst, buf) {
		return &BoundsError{Op: "copy write", Addr: dst, Length: count, Size: a.mem.Size()}
	}
	return nil
}

// Set fills count bytes at dst with value.
func (a *Allocator) Set(dst uint32, value byte, count uint32) error {
	if count == 0 {
		return nil
	}

	buf, ok := a.mem.Read(dst, count)
	if !ok {
		return &BoundsError{Op: "set", Addr: dst, Length: count, Size: a.mem.Size()}
	}
	for i := range buf {
		buf[i] = value
	}
	return nil
}

// Stats reports current heap usage.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Stats{
		LiveBlocks: len(a.live),
		FreeSpans:  len(a.free),
		HeapBase:   a.base,
		MemorySize: a.mem.Size(),
	}
	for _, b := range a.live {
		st.LiveBytes += uint64(b.size)
	}
	for _, f := range a.free {
		st.FreeBytes += uint64(f.size)
	}
	return st
}

func (a *Allocator) allocate(size, alignment uint32) uint32 {
	want, ok := roundSize(size)
	if !ok {
		a.logger.Warn("Allocation size overflows address space", zap.Uint32("size", size))
		return 0
	}
	align := normalizeAlign(alignment)

	if ptr := a.fit(want, align); ptr != 0 {
		return ptr
	}

	if !a.grow(want, align) {
		a.logger.Warn("Guest heap exhausted",
			zap.Uint32("size", size),
			zap.Uint32("alignment", alignment),
			zap.Uint32("memory_size", a.mem.Size()),
			zap.Int("live_blocks", len(a.live)),
		)
		return 0
	}

	return a.fit(want, align)
}

// fit carves want bytes out of the first free span that can hold them at the
// requested alignment.
func (a *Allocator) fit(want uint32, align uint32) uint32 {
	for i, f := range a.free {
		start := alignUp(uint64(f.start), uint64(align))
		if start+uint64(want) > f.end() {
			continue
		}
		ptr := uint32(start)
		a.carve(i, ptr, want)
		a.live[ptr] = span{start: ptr, size: want}
		return ptr
	}
	return 0
}

// carve removes [ptr, ptr+n) from free span i, keeping any leading and
// trailing remainders free.
func (a *Allocator) carve(i int, ptr, n uint32) {
	f := a.free[i]
	lead := span{start: f.start, size: ptr - f.start}
	tail := span{start: ptr + n, size: uint32(f.end() - uint64(ptr) - uint64(n))}

	var repl []span
	if lead.size > 0 {
		repl = append(repl, lead)
	}
	if tail.size > 0 {
		repl = append(repl, tail)
	}
	a.free = slices.Replace(a.free, i, i+1, repl...)
}

func (a *Allocator) deallocate(ptr uint32) {
	block, ok := a.live[ptr]
	if !ok {
		a.logger.Warn("Deallocate of unknown pointer", zap.Uint32("ptr", ptr))
		return
	}
	delete(a.live, ptr)
	a.release(block)
}

// release returns s to the free list, merging it with adjacent spans.
func (a *Allocator) release(s span) {
	i, _ := slices.BinarySearchFunc(a.free, s.start, func(f span, start uint32) int {
		switch {
		case f.start < start:
			return -1
		case f.start > start:
			return 1
		}
		return 0
	})
	a.free = slices.Insert(a.free, i, s)

	if i+1 < len(a.free) && a.free[i].end() == uint64(a.free[i+1].start) {
		a.free[i].size += a.free[i+1].size
		a.free = slices.Delete(a.free, i+1, i+2)
	}
	if i > 0 && a.free[i-1].end() == uint64(a.free[i].start) {
		a.free[i-1].size += a.free[i].size
		a.free = slices.Delete(a.free, i, i+1)
	}
}

// freeAt returns the index of the free span starting exactly at addr.
func (a *Allocator) freeAt(addr uint32) (int, bool) {
	for i, f := range a.free {
		if f.start == addr {
			return i, true
		}
		if f.start > addr {
			break
		}
	}
	return 0, false
}

// grow extends linear memory far enough for an aligned block of want bytes.
func (a *Allocator) grow(want, align uint32) bool {
	size := uint64(a.mem.Size())
	start := max(size, uint64(a.base))
	if n := len(a.free); n > 0 && a.free[n-1].end() == size {
		start = uint64(a.free[n-1].start)
	}

	need := alignUp(start, uint64(align)) + uint64(want) - size
	pages := (need + PageSize - 1) / PageSize

	current := size / PageSize
	if a.maxPages > 0 && current+pages > uint64(a.maxPages) {
		return false
	}
	// wasm32 addresses at most 65536 pages.
	if current+pages > 1<<16 {
		return false
	}

	prev, ok := a.mem.Grow(uint32(pages))
	if !ok {
		return false
	}

	grown := min(pages*PageSize, uint64(math.MaxUint32)-uint64(prev)*PageSize)
	region := span{start: prev * PageSize, size: uint32(grown)}
	if region.start < a.base {
		if region.end() <= uint64(a.base) {
			return false
		}
		region = span{start: a.base, size: uint32(region.end() - uint64(a.base))}
	}
	a.release(region)

	a.logger.Debug("Guest memory grown",
		zap.Uint64("pages", pages),
		zap.Uint32("memory_size", a.mem.Size()),
	)
	return true
}

func roundSize(size uint32) (uint32, bool) {
	r := alignUp(uint64(max(size, 1)), MinAlign)
	if r > 1<<32-1 {
		return 0, false
	}
	return uint32(r), true
}

// normalizeAlign rounds alignment up to a power of two no smaller than MinAlign.
func normalizeAlign(alignment uint32) uint32 {
	if alignment <= MinAlign {
		return MinAlign
	}
	if alignment&(alignment-1) == 0 {
		return alignment
	}
	if alignment > 1<<31 {
		return 1 << 31
	}
	return 1 << bits.Len32(alignment)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
