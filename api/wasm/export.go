//go:build wasm

package wasm

// A core written in Go declares the host functions with //go:wasmimport and
// the entry point with //go:wasmexport:
//
// //go:wasmimport env roc_alloc
// func rocAlloc(size, alignment uint32) uint32
//
// //go:wasmimport env roc_panic
// func rocPanic(msgPtr, tagID uint32)
//
// //go:wasmexport roc__mainForHost_1_exposed_generic
// func mainForHost(outPtr, inPtr uint32)
//
// The input record at inPtr is 36 bytes:
//
//	handler_id u32 | event_payload {ptr,len,cap} | prior_state u32 | init_payload {ptr,len,cap} | is_init u8
//
// The entry point writes an 8-byte output record at outPtr:
//
//	new_state u32 | prevent_default u8 | stop_propagation u8
