package testutil

// Helpers that assemble tiny Wasm binaries for tests. Only the sections the
// test cores need are supported: types, function imports, functions, one
// memory, immutable i32 globals, exports, code and active data segments.

const (
	i32 = 0x7f

	// ExportFunc marks a function export.
	ExportFunc   = 0x00
	exportMemory = 0x02
	// ExportGlobal marks a global export.
	ExportGlobal = 0x03
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmVec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func wasmSection(id byte, payload []byte) []byte {
	out := append([]byte{id}, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

// FuncType encodes a function type with i32 params and results.
func FuncType(params, results int) []byte {
	p := make([][]byte, params)
	for i := range p {
		p[i] = []byte{i32}
	}
	r := make([][]byte, results)
	for i := range r {
		r[i] = []byte{i32}
	}
	out := []byte{0x60}
	out = append(out, wasmVec(p...)...)
	return append(out, wasmVec(r...)...)
}

// Import is a function import.
type Import struct {
	Module, Name string
	TypeIdx      uint32
}

// Export is a function export.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Data is an active data segment.
type Data struct {
	Offset int32
	Bytes  []byte
}

// Module describes a module with one exported page of memory.
type Module struct {
	Types   [][]byte
	Imports []Import
	Funcs   []uint32 // type index per defined function
	Globals []int32  // immutable i32 globals
	Bodies  [][]byte // locals declaration + instructions + end
	Exports []Export
	Data    []Data

	// NoMemory drops the memory and its export.
	NoMemory bool
}

// Bytes encodes the module.
func (m Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.Types) > 0 {
		out = append(out, wasmSection(1, wasmVec(m.Types...))...)
	}

	if len(m.Imports) > 0 {
		items := make([][]byte, len(m.Imports))
		for i, im := range m.Imports {
			b := append(wasmName(im.Module), wasmName(im.Name)...)
			b = append(b, 0x00)
			items[i] = append(b, uleb(im.TypeIdx)...)
		}
		out = append(out, wasmSection(2, wasmVec(items...))...)
	}

	if len(m.Funcs) > 0 {
		items := make([][]byte, len(m.Funcs))
		for i, t := range m.Funcs {
			items[i] = uleb(t)
		}
		out = append(out, wasmSection(3, wasmVec(items...))...)
	}

	var items [][]byte
	if !m.NoMemory {
		// One memory, min 1 page, no max.
		out = append(out, wasmSection(5, wasmVec([]byte{0x00, 0x01}))...)
		items = append(items, append(wasmName("memory"), exportMemory, 0x00))
	}

	if len(m.Globals) > 0 {
		globals := make([][]byte, len(m.Globals))
		for i, v := range m.Globals {
			b := []byte{i32, 0x00, 0x41}
			b = append(b, sleb(v)...)
			globals[i] = append(b, 0x0b)
		}
		out = append(out, wasmSection(6, wasmVec(globals...))...)
	}

	for _, e := range m.Exports {
		b := append(wasmName(e.Name), e.Kind)
		items = append(items, append(b, uleb(e.Index)...))
	}
	if len(items) > 0 {
		out = append(out, wasmSection(7, wasmVec(items...))...)
	}

	if len(m.Bodies) > 0 {
		bodies := make([][]byte, len(m.Bodies))
		for i, body := range m.Bodies {
			bodies[i] = append(uleb(uint32(len(body))), body...)
		}
		out = append(out, wasmSection(10, wasmVec(bodies...))...)
	}

	if len(m.Data) > 0 {
		segs := make([][]byte, len(m.Data))
		for i, d := range m.Data {
			b := []byte{0x00, 0x41}
			b = append(b, sleb(d.Offset)...)
			b = append(b, 0x0b)
			b = append(b, uleb(uint32(len(d.Bytes)))...)
			segs[i] = append(b, d.Bytes...)
		}
		out = append(out, wasmSection(11, wasmVec(segs...))...)
	}

	return out
}

// Entry is the entry point name the test cores export.
const Entry = "roc__mainForHost_1_exposed_generic"

// CounterCore stores prior_state+1 as the new state, always sets
// prevent_default and sets stop_propagation for odd handler ids.
func CounterCore() []byte {
	body := []byte{
		0x00,
		0x20, 0x00, // local.get out
		0x20, 0x01, // local.get in
		0x28, 0x02, 0x10, // i32.load offset=16 (prior_state)
		0x41, 0x01, // i32.const 1
		0x6a,             // i32.add
		0x36, 0x02, 0x00, // i32.store offset=0 (new_state)
		0x20, 0x00, // local.get out
		0x41, 0x01, // i32.const 1
		0x3a, 0x00, 0x04, // i32.store8 offset=4 (prevent_default)
		0x20, 0x00, // local.get out
		0x20, 0x01, // local.get in
		0x28, 0x02, 0x00, // i32.load offset=0 (handler_id)
		0x41, 0x01, // i32.const 1
		0x71,             // i32.and
		0x3a, 0x00, 0x05, // i32.store8 offset=5 (stop_propagation)
		0x0b,
	}
	return Module{
		Types:   [][]byte{FuncType(2, 0)},
		Funcs:   []uint32{0},
		Bodies:  [][]byte{body},
		Exports: []Export{{Name: Entry, Kind: ExportFunc, Index: 0}},
	}.Bytes()
}

// AllocCore allocates 16 bytes aligned to 8 through roc_alloc and
// returns the pointer as its new state.
func AllocCore() []byte {
	body := []byte{
		0x00,
		0x20, 0x00, // local.get out
		0x41, 0x10, // i32.const 16
		0x41, 0x08, // i32.const 8
		0x10, 0x00, // call roc_alloc
		0x36, 0x02, 0x00, // i32.store offset=0
		0x0b,
	}
	return Module{
		Types:   [][]byte{FuncType(2, 0), FuncType(2, 1)},
		Imports: []Import{{Module: "env", Name: "roc_alloc", TypeIdx: 1}},
		Funcs:   []uint32{0},
		Bodies:  [][]byte{body},
		Exports: []Export{{Name: Entry, Kind: ExportFunc, Index: 1}},
	}.Bytes()
}

// PanicCore calls roc_panic(32, 7); message holds the descriptor and
// text laid out from address 32.
func PanicCore(message []byte) []byte {
	body := []byte{
		0x00,
		0x41, 0x20, // i32.const 32
		0x41, 0x07, // i32.const 7
		0x10, 0x00, // call roc_panic
		0x0b,
	}
	return Module{
		Types:   [][]byte{FuncType(2, 0)},
		Imports: []Import{{Module: "env", Name: "roc_panic", TypeIdx: 0}},
		Funcs:   []uint32{0},
		Bodies:  [][]byte{body},
		Exports: []Export{{Name: Entry, Kind: ExportFunc, Index: 1}},
		Data:    []Data{{Offset: 32, Bytes: message}},
	}.Bytes()
}

// BoomMessage is a descriptor at 32 pointing at "boom" stored at 48.
func BoomMessage() []byte {
	return []byte{
		48, 0, 0, 0, // pointer
		4, 0, 0, 0, // length
		4, 0, 0, 0, // capacity
		0, 0, 0, 0,
		'b', 'o', 'o', 'm',
	}
}

// InlineMessage is a descriptor at 32 carrying "oops" inline.
func InlineMessage() []byte {
	return []byte{'o', 'o', 'p', 's', 0, 0, 0, 0, 0, 0, 0, 0x80 | 4}
}

// HeapBaseCore is AllocCore with an exported __heap_base global set to base.
func HeapBaseCore(base int32) []byte {
	body := []byte{
		0x00,
		0x20, 0x00, // local.get out
		0x41, 0x10, // i32.const 16
		0x41, 0x08, // i32.const 8
		0x10, 0x00, // call roc_alloc
		0x36, 0x02, 0x00, // i32.store offset=0
		0x0b,
	}
	return Module{
		Types:   [][]byte{FuncType(2, 0), FuncType(2, 1)},
		Imports: []Import{{Module: "env", Name: "roc_alloc", TypeIdx: 1}},
		Funcs:   []uint32{0},
		Globals: []int32{base},
		Bodies:  [][]byte{body},
		Exports: []Export{
			{Name: Entry, Kind: ExportFunc, Index: 1},
			{Name: "__heap_base", Kind: ExportGlobal, Index: 0},
		},
	}.Bytes()
}

// MemoryMessage is what MemoryCore logs at info level.
const MemoryMessage = "aaaaaaaaaaaaaaaa"

// MemoryCore drives every memory import in one call:
//
//	p = roc_alloc(8, 8); roc_memset(p, 'a', 8)
//	q = roc_realloc(p, 64, 8, 8); roc_memcpy(q+8, q, 8)
//	host_log(1, q, 16)
//	roc_dealloc(roc_alloc(16, 8), 8)
//
// and returns q as its new state.
func MemoryCore() []byte {
	body := []byte{
		0x01, 0x02, i32, // locals q, t
		0x41, 0x08, // i32.const 8
		0x41, 0x08, // i32.const 8
		0x10, 0x00, // call roc_alloc
		0x21, 0x02, // local.set q
		0x20, 0x02, // local.get q
		0x41, 0xe1, 0x00, // i32.const 'a'
		0x41, 0x08, // i32.const 8
		0x10, 0x04, // call roc_memset
		0x20, 0x02, // local.get q
		0x41, 0xc0, 0x00, // i32.const 64
		0x41, 0x08, // i32.const 8
		0x41, 0x08, // i32.const 8
		0x10, 0x01, // call roc_realloc
		0x21, 0x02, // local.set q
		0x20, 0x02, // local.get q
		0x41, 0x08, // i32.const 8
		0x6a,       // i32.add
		0x20, 0x02, // local.get q
		0x41, 0x08, // i32.const 8
		0x10, 0x03, // call roc_memcpy
		0x41, 0x01, // i32.const 1 (info)
		0x20, 0x02, // local.get q
		0x41, 0x10, // i32.const 16
		0x10, 0x05, // call host_log
		0x41, 0x10, // i32.const 16
		0x41, 0x08, // i32.const 8
		0x10, 0x00, // call roc_alloc
		0x21, 0x03, // local.set t
		0x20, 0x03, // local.get t
		0x41, 0x08, // i32.const 8
		0x10, 0x02, // call roc_dealloc
		0x20, 0x00, // local.get out
		0x20, 0x02, // local.get q
		0x36, 0x02, 0x00, // i32.store offset=0
		0x0b,
	}
	return Module{
		Types: [][]byte{FuncType(2, 0), FuncType(2, 1), FuncType(4, 1), FuncType(3, 0)},
		Imports: []Import{
			{Module: "env", Name: "roc_alloc", TypeIdx: 1},
			{Module: "env", Name: "roc_realloc", TypeIdx: 2},
			{Module: "env", Name: "roc_dealloc", TypeIdx: 0},
			{Module: "env", Name: "roc_memcpy", TypeIdx: 3},
			{Module: "env", Name: "roc_memset", TypeIdx: 3},
			{Module: "env", Name: "host_log", TypeIdx: 3},
		},
		Funcs:   []uint32{0},
		Bodies:  [][]byte{body},
		Exports: []Export{{Name: Entry, Kind: ExportFunc, Index: 6}},
	}.Bytes()
}

// MemcpyOutOfBoundsCore copies 8 bytes to the last 4 bytes of its single
// page of memory.
func MemcpyOutOfBoundsCore() []byte {
	body := []byte{
		0x00,
		0x41, 0xfc, 0xff, 0x03, // i32.const 65532
		0x41, 0x00, // i32.const 0
		0x41, 0x08, // i32.const 8
		0x10, 0x00, // call roc_memcpy
		0x0b,
	}
	return Module{
		Types:   [][]byte{FuncType(2, 0), FuncType(3, 0)},
		Imports: []Import{{Module: "env", Name: "roc_memcpy", TypeIdx: 1}},
		Funcs:   []uint32{0},
		Bodies:  [][]byte{body},
		Exports: []Export{{Name: Entry, Kind: ExportFunc, Index: 1}},
	}.Bytes()
}

// LoopCore never returns from its entry point.
func LoopCore() []byte {
	body := []byte{
		0x00,
		0x03, 0x40, // loop
		0x0c, 0x00, // br 0
		0x0b, // end loop
		0x0b,
	}
	return Module{
		Types:   [][]byte{FuncType(2, 0)},
		Funcs:   []uint32{0},
		Bodies:  [][]byte{body},
		Exports: []Export{{Name: Entry, Kind: ExportFunc, Index: 0}},
	}.Bytes()
}

// WASICore is CounterCore with an unused wasi_snapshot_preview1.fd_write
// import, as toolchains targeting WASI emit.
func WASICore() []byte {
	body := []byte{
		0x00,
		0x20, 0x00, // local.get out
		0x20, 0x01, // local.get in
		0x28, 0x02, 0x10, // i32.load offset=16 (prior_state)
		0x41, 0x01, // i32.const 1
		0x6a,             // i32.add
		0x36, 0x02, 0x00, // i32.store offset=0 (new_state)
		0x0b,
	}
	return Module{
		Types:   [][]byte{FuncType(2, 0), FuncType(4, 1)},
		Imports: []Import{{Module: "wasi_snapshot_preview1", Name: "fd_write", TypeIdx: 1}},
		Funcs:   []uint32{0},
		Bodies:  [][]byte{body},
		Exports: []Export{{Name: Entry, Kind: ExportFunc, Index: 1}},
	}.Bytes()
}

// NoMemoryCore has no linear memory and calls host_log(1, 0, 4) from its
// _initialize start function.
func NoMemoryCore() []byte {
	entry := []byte{0x00, 0x0b}
	initialize := []byte{
		0x00,
		0x41, 0x01, // i32.const 1
		0x41, 0x00, // i32.const 0
		0x41, 0x04, // i32.const 4
		0x10, 0x00, // call host_log
		0x0b,
	}
	return Module{
		Types:   [][]byte{FuncType(2, 0), FuncType(3, 0), FuncType(0, 0)},
		Imports: []Import{{Module: "env", Name: "host_log", TypeIdx: 1}},
		Funcs:   []uint32{0, 2},
		Bodies:  [][]byte{entry, initialize},
		Exports: []Export{
			{Name: Entry, Kind: ExportFunc, Index: 1},
			{Name: "_initialize", Kind: ExportFunc, Index: 2},
		},
		NoMemory: true,
	}.Bytes()
}
