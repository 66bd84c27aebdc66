// Package ffi binds the worker.Backend interface to the native inference
// library's C ABI (spec.md §6) via cgo, and provides the resource-scope
// helper that guarantees every value crossing the native boundary is
// released on every exit path.
//
// Grounded on the ollama llama.cpp CGO binding (cgo preamble shape,
// extern-C struct marshalling) and pkg/provider/stt/whisper/native.go's
// lifecycle idiom (allocate-on-init, free-on-dispose, idempotent
// destructors) from the teacher.
package ffi

import (
	"fmt"

	"github.com/edge-veda/runtime/pkg/runtime"
)

// Native integer error codes returned by the backend, per spec.md §6.
const (
	codeSuccess              int32 = 0
	codeInvalidParam         int32 = -1
	codeOutOfMemory          int32 = -2
	codeModelLoadFailed      int32 = -3
	codeBackendInitFailed    int32 = -4
	codeInferenceFailed      int32 = -5
	codeContextInvalid       int32 = -6
	codeStreamEnded          int32 = -7
	codeNotImplemented       int32 = -8
	codeMemoryLimitExceeded  int32 = -9
	codeUnsupportedBackend   int32 = -10
	codeUnknown              int32 = -999
)

// mapError maps a native integer error code to the typed error taxonomy
// from spec.md §7. The mapping is exhaustive: every declared code is
// handled explicitly, and any other value falls through to a generic
// error carrying the raw code.
func mapError(code int32, context string) error {
	switch code {
	case codeSuccess:
		return nil
	case codeInvalidParam:
		return &runtime.ConfigError{Field: context, Detail: "invalid parameter"}
	case codeOutOfMemory:
		return &runtime.MemoryError{Reason: "out of memory"}
	case codeModelLoadFailed:
		return &runtime.ModelLoadError{Path: context, Reason: "load failed"}
	case codeBackendInitFailed:
		return &runtime.InitError{Reason: "backend init failed"}
	case codeInferenceFailed:
		return &runtime.GenerationError{Reason: "inference failed"}
	case codeContextInvalid:
		return &runtime.InitError{Reason: "context invalid"}
	case codeStreamEnded:
		return &runtime.GenerationError{Reason: "stream ended"}
	case codeNotImplemented:
		return &runtime.ConfigError{Field: context, Detail: "not implemented"}
	case codeMemoryLimitExceeded:
		return &runtime.MemoryError{Reason: "memory limit exceeded"}
	case codeUnsupportedBackend:
		return &runtime.InitError{Reason: "unsupported backend"}
	default:
		return fmt.Errorf("ffi: unknown native error code %d (%s)", code, context)
	}
}
