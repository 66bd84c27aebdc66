package ffi

/*
#cgo CFLAGS: -I${SRCDIR}/native
#cgo LDFLAGS: -ledgeveda_native -lm
#include <stdlib.h>
#include "edgeveda_native.h"
*/
import "C"

import (
	"encoding/json"
	"unsafe"

	"github.com/edge-veda/runtime/internal/worker"
	"github.com/edge-veda/runtime/pkg/runtime"
)

// NativeBackend implements worker.Backend by driving the vendored native
// inference library through cgo. Exactly one NativeBackend is constructed
// and destroyed within a single worker goroutine (see internal/worker),
// so the opaque *C.ev_handle it owns never crosses a Go thread boundary.
type NativeBackend struct {
	handle *C.ev_handle
	stream *C.ev_stream
	tokenIndex int
	maxTokens  int
}

// NewNativeBackend returns a worker.Backend bound to the native library.
func NewNativeBackend() worker.Backend {
	return &NativeBackend{}
}

func backendKind(cfg runtime.Config) C.ev_backend_kind {
	if cfg.GPU {
		return C.EV_BACKEND_AUTO
	}
	return C.EV_BACKEND_CPU
}

func flashAttnMode(f runtime.FlashAttention) C.ev_flash_attn_mode {
	switch f {
	case runtime.FlashAttentionOff:
		return C.EV_FLASH_ATTN_OFF
	case runtime.FlashAttentionOn:
		return C.EV_FLASH_ATTN_ON
	default:
		return C.EV_FLASH_ATTN_AUTO
	}
}

func kvType(k runtime.KVQuant) C.ev_kv_type {
	switch k {
	case runtime.KVQuantQ8_0:
		return C.EV_KV_TYPE_Q8_0
	case runtime.KVQuantQ4_0:
		return C.EV_KV_TYPE_Q4_0
	default:
		return C.EV_KV_TYPE_F16
	}
}

func boolToC(b bool) C.int32_t {
	if b {
		return 1
	}
	return 0
}

// Init loads the native model. The scopes created here are released in
// Dispose, never here — a successful Init hands ownership of handle to
// the NativeBackend for its whole lifetime.
func (b *NativeBackend) Init(cfg runtime.Config) error {
	pathC := C.CString(cfg.ModelPath)
	defer C.free(unsafe.Pointer(pathC))

	var seed C.int64_t
	if cfg.Seed != nil {
		seed = C.int64_t(*cfg.Seed)
	}

	nativeCfg := C.ev_config{
		model_path:         pathC,
		backend:            backendKind(cfg),
		n_threads:          C.int32_t(cfg.Threads),
		n_ctx:              C.int32_t(cfg.ContextLen),
		n_batch:            C.int32_t(512),
		memory_limit_bytes: C.int64_t(int64(cfg.MemoryMiB) * 1024 * 1024),
		n_gpu_layers:       boolToCGPULayers(cfg.GPU),
		use_mmap:           1,
		use_mlock:          0,
		seed:               seed,
		flash_attn:         flashAttnMode(cfg.FlashAttn),
		kv_type_k:          kvType(cfg.KVQuantKey),
		kv_type_v:          kvType(cfg.KVQuantValue),
	}

	var errCode C.int32_t
	handle := C.ev_init(&nativeCfg, &errCode)
	if handle == nil {
		return mapError(int32(errCode), cfg.ModelPath)
	}
	b.handle = handle
	return nil
}

func boolToCGPULayers(gpu bool) C.int32_t {
	if gpu {
		return -1 // offload every layer
	}
	return 0
}

// StartStream begins a streaming generation on this worker's handle.
func (b *NativeBackend) StartStream(prompt string, opts runtime.GenerateOptions) error {
	promptC := C.CString(prompt)
	defer C.free(unsafe.Pointer(promptC))

	params, cleanup := buildParams(opts)
	defer cleanup()

	var errCode C.int32_t
	stream := C.ev_generate_stream(b.handle, promptC, &params, &errCode)
	if stream == nil {
		return mapError(int32(errCode), "generate_stream")
	}
	b.stream = stream
	b.tokenIndex = 0
	b.maxTokens = opts.MaxTokens
	return nil
}

// NextToken advances the stream by one token, per spec.md §4.1's
// streaming-loop algorithm: check end-of-stream, then fetch one fragment.
func (b *NativeBackend) NextToken() (runtime.TokenChunk, bool, error) {
	if C.ev_stream_has_next(b.stream) == 0 {
		C.ev_stream_free(b.stream)
		b.stream = nil
		return runtime.TokenChunk{Terminal: true, Reason: runtime.FinishDone}, true, nil
	}
	if b.maxTokens > 0 && b.tokenIndex >= b.maxTokens {
		C.ev_stream_cancel(b.stream)
		C.ev_stream_free(b.stream)
		b.stream = nil
		return runtime.TokenChunk{Terminal: true, Reason: runtime.FinishDone}, true, nil
	}

	var tokenC *C.char
	errCode := C.ev_stream_next(b.stream, &tokenC)
	if int32(errCode) != codeSuccess {
		C.ev_stream_free(b.stream)
		b.stream = nil
		if int32(errCode) == codeStreamEnded {
			return runtime.TokenChunk{Terminal: true, Reason: runtime.FinishDone}, true, nil
		}
		return runtime.TokenChunk{Terminal: true, Reason: runtime.FinishError}, true, mapError(int32(errCode), "stream_next")
	}
	defer C.ev_free_string(tokenC)

	text := C.GoString(tokenC)
	idx := b.tokenIndex
	b.tokenIndex++
	return runtime.TokenChunk{Text: text, Index: idx}, false, nil
}

// Cancel requests the in-flight stream stop at its next suspension point.
// Safe to call concurrently with NextToken since the native library's
// stream_cancel is documented as thread-safe for this purpose.
func (b *NativeBackend) Cancel() {
	if b.stream != nil {
		C.ev_stream_cancel(b.stream)
	}
}

// MemoryStats queries the native context's current footprint.
func (b *NativeBackend) MemoryStats() (worker.MemoryStats, error) {
	var stats C.ev_memory_stats
	errCode := C.ev_get_memory_usage(b.handle, &stats)
	if int32(errCode) != codeSuccess {
		return worker.MemoryStats{}, mapError(int32(errCode), "get_memory_usage")
	}
	return worker.MemoryStats{
		CurrentBytes: int64(stats.current_bytes),
		PeakBytes:    int64(stats.peak_bytes),
		LimitBytes:   int64(stats.limit_bytes),
		ModelBytes:   int64(stats.model_bytes),
		ContextBytes: int64(stats.context_bytes),
	}, nil
}

// Dispose releases the native context. Always safe, even if a prior
// operation errored; guarantees the handle is freed exactly once.
func (b *NativeBackend) Dispose() error {
	if b.stream != nil {
		C.ev_stream_free(b.stream)
		b.stream = nil
	}
	if b.handle != nil {
		C.ev_free(b.handle)
		b.handle = nil
	}
	return nil
}

// buildParams allocates the C strings backing an ev_generate_params and
// returns a cleanup func releasing them — the scope.Close idiom inlined
// for the single call site that needs it.
func buildParams(opts runtime.GenerateOptions) (C.ev_generate_params, func()) {
	var stopJSON *C.char
	if len(opts.Stop) > 0 {
		b, _ := json.Marshal(opts.Stop)
		stopJSON = C.CString(string(b))
	}
	var grammarC, rootC *C.char
	if opts.GrammarGBNF != "" {
		grammarC = C.CString(opts.GrammarGBNF)
		rootC = C.CString(opts.GrammarRoot)
	}

	params := C.ev_generate_params{
		temperature:         C.float(opts.Temperature),
		top_p:               C.float(opts.TopP),
		top_k:               C.int32_t(opts.TopK),
		repeat_penalty:       C.float(opts.RepeatPenalty),
		max_tokens:          C.int32_t(opts.MaxTokens),
		stop_sequences_json: stopJSON,
		grammar_gbnf:        grammarC,
		grammar_root:        rootC,
	}

	cleanup := func() {
		if stopJSON != nil {
			C.free(unsafe.Pointer(stopJSON))
		}
		if grammarC != nil {
			C.free(unsafe.Pointer(grammarC))
		}
		if rootC != nil {
			C.free(unsafe.Pointer(rootC))
		}
	}
	return params, cleanup
}
