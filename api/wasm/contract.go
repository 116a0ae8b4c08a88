// Package wasm names the imports and exports an application core module
// shares with the host bridge.
//
// The core is a wasm32 module. All pointers and sizes are 32-bit because
// WebAssembly uses a 32-bit linear memory model.
package wasm

// DefaultImportModule is the module name the core imports host functions from.
const DefaultImportModule = "env"

// Host functions the bridge provides to the core.
const (
	// ImportAlloc: roc_alloc(size, alignment) -> ptr. Returns 0 when the heap is exhausted.
	ImportAlloc = "roc_alloc"

	// ImportRealloc: roc_realloc(ptr, new_size, old_size, alignment) -> ptr.
	ImportRealloc = "roc_realloc"

	// ImportDealloc: roc_dealloc(ptr, alignment).
	ImportDealloc = "roc_dealloc"

	// ImportMemcpy: roc_memcpy(dst, src, count).
	ImportMemcpy = "roc_memcpy"

	// ImportMemset: roc_memset(dst, value, count).
	ImportMemset = "roc_memset"

	// ImportPanic: roc_panic(msg_ptr, tag_id). msg_ptr points at a buffer
	// descriptor holding the UTF-8 message. Never returns.
	ImportPanic = "roc_panic"

	// ImportLog: host_log(level, ptr, length). level: 0 = debug, 1 = info,
	// 2 = warn, 3 = error.
	ImportLog = "host_log"
)

// Exports the bridge looks up on the core.
const (
	// DefaultEntry is the single entry point: entry(out_ptr, in_ptr).
	DefaultEntry = "roc__mainForHost_1_exposed_generic"

	// ExportMemory is the core's linear memory.
	ExportMemory = "memory"

	// ExportHeapBase is the optional global marking the first free heap address.
	ExportHeapBase = "__heap_base"
)
