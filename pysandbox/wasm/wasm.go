// Package wasm documents the boundary a sandboxed WASM executor would
// satisfy. No backing implementation is wired — the teacher and the rest
// of the corpus carry no WASM runtime, and fabricating a wasmtime-go
// dependency the corpus never shows would violate the point of grounding
// every dependency in what's actually available.
package wasm

// WasmExecutor is the contract a wasmtime-go-backed sandbox would
// implement, mirroring the linear-memory calling convention the original
// python-sandbox crate's WASM build used: the host and the guest module
// share one linear memory, and values cross the boundary as byte offsets
// into it rather than as Go values directly.
//
// Wire convention: every payload (the serialized ExecutionRequest going in,
// the serialized ExecutionResult coming out) is written into guest memory
// as a little-endian uint32 length prefix followed by that many bytes of
// JSON. AllocMemory/FreeMemory manage the guest-side buffer lifetime; the
// caller always pairs one AllocMemory with one FreeMemory, even when
// ExecutePython returns an error.
type WasmExecutor interface {
	// AllocMemory reserves size bytes in the guest's linear memory and
	// returns the offset (pointer) at which they start.
	AllocMemory(size uint32) (ptr uint32, err error)

	// FreeMemory releases memory previously returned by AllocMemory.
	FreeMemory(ptr uint32) error

	// ExecutePython writes the length-prefixed ExecutionRequest at ptr/len
	// into guest memory, runs one round of the sandboxed interpreter inside
	// the WASM module, and returns the offset of a length-prefixed
	// ExecutionResult the caller must read and then FreeMemory.
	ExecutePython(ptr, length uint32) (resultPtr uint32, err error)
}
