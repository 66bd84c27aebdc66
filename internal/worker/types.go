// Package worker implements the long-lived native-handle-owning execution
// context described in spec.md §4.1: one goroutine per worker, a typed
// message protocol (init/start_stream/next_token/cancel/memory_stats/
// dispose), and a state machine that decouples expensive model loads from
// per-request latency.
//
// Grounded on pkg/provider/stt/whisper/native.go's nativeSession from the
// teacher: a goroutine that owns all native state and communicates only
// via channels, shut down with sync.Once plus a WaitGroup.
package worker

import "github.com/edge-veda/runtime/pkg/runtime"

// State is the worker's lifecycle stage, per spec.md §4.1's state machine:
// spawned → initialised → (idle ↔ streaming) → disposed. No transition
// skips a state.
type State int

const (
	StateSpawned State = iota
	StateInitialised
	StateIdle
	StateStreaming
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateInitialised:
		return "initialised"
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// MemoryStats mirrors the backend's memory_stats response.
type MemoryStats struct {
	CurrentBytes int64
	PeakBytes    int64
	LimitBytes   int64
	ModelBytes   int64
	ContextBytes int64
}

// Backend is the native-handle boundary a Worker drives. Exactly one
// Backend instance is owned per worker, created and destroyed entirely
// within the worker's own goroutine so no opaque native handle ever
// crosses a thread boundary — implementations live in internal/ffi.
type Backend interface {
	Init(cfg runtime.Config) error
	StartStream(prompt string, opts runtime.GenerateOptions) error
	// NextToken blocks until the backend produces one token fragment or a
	// terminal condition. terminal is true exactly once per stream.
	NextToken() (chunk runtime.TokenChunk, terminal bool, err error)
	// Cancel requests the in-flight stream stop at its next suspension
	// point. Safe to call from any goroutine, including concurrently with
	// NextToken.
	Cancel()
	MemoryStats() (MemoryStats, error)
	Dispose() error
}
