package worker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/edge-veda/runtime/pkg/runtime"
)

// request/response message kinds crossing the channel boundary, per
// spec.md §4.1's protocol table. Only primitive and owned-byte values are
// ever carried — no native pointers.
type initRequest struct {
	cfg  runtime.Config
	resp chan error
}

type startStreamRequest struct {
	prompt string
	opts   runtime.GenerateOptions
	resp   chan error
}

type nextTokenRequest struct {
	resp chan nextTokenResponse
}

type nextTokenResponse struct {
	chunk    runtime.TokenChunk
	terminal bool
	err      error
}

type cancelRequest struct {
	resp chan struct{}
}

type memoryStatsRequest struct {
	resp chan memoryStatsResponse
}

type memoryStatsResponse struct {
	stats MemoryStats
	err   error
}

type disposeRequest struct {
	resp chan struct{}
}

// Worker is a long-lived execution context owning one native inference
// handle. All exported methods are safe to call from any goroutine; the
// worker's internal state is only ever touched by its own run loop.
type Worker struct {
	newBackend func() Backend

	mailbox chan any
	done    chan struct{}

	disposeOnce sync.Once
	state       atomic.Int32 // State, readable without synchronizing with run loop
}

// New returns a Worker that has not yet been spawned. newBackend is called
// exactly once, inside the worker's own goroutine, so the Backend
// implementation (and any cgo handle it holds) is constructed and
// destroyed on a single consistent thread.
func New(newBackend func() Backend) *Worker {
	w := &Worker{newBackend: newBackend}
	w.state.Store(int32(StateSpawned))
	return w
}

// Spawn starts the worker's goroutine and message loop. Idempotent: calling
// Spawn twice is a no-op after the first call.
func (w *Worker) Spawn() {
	if w.mailbox != nil {
		return
	}
	w.mailbox = make(chan any, 8)
	w.done = make(chan struct{})
	go w.run()
}

// State returns the worker's current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Init loads the native model into the worker's context. Synchronous from
// the caller's perspective; runs off-thread.
func (w *Worker) Init(cfg runtime.Config) error {
	resp := make(chan error, 1)
	w.mailbox <- initRequest{cfg: cfg, resp: resp}
	return <-resp
}

// StartStream begins a streaming generation. Fails if a stream is already
// active.
func (w *Worker) StartStream(prompt string, opts runtime.GenerateOptions) error {
	resp := make(chan error, 1)
	w.mailbox <- startStreamRequest{prompt: prompt, opts: opts, resp: resp}
	return <-resp
}

// NextToken resolves with the next token chunk or a terminal response.
// Exactly one terminal response is produced per stream; further calls
// after it return an error.
func (w *Worker) NextToken() (runtime.TokenChunk, bool, error) {
	resp := make(chan nextTokenResponse, 1)
	w.mailbox <- nextTokenRequest{resp: resp}
	r := <-resp
	return r.chunk, r.terminal, r.err
}

// Cancel marks the current stream cancelled. Safe to call from any
// goroutine; a cancel on an already-terminal stream is a no-op.
func (w *Worker) Cancel() {
	resp := make(chan struct{}, 1)
	w.mailbox <- cancelRequest{resp: resp}
	<-resp
}

// MemoryStats queries the native context. Callable while a stream is in
// progress.
func (w *Worker) MemoryStats() (MemoryStats, error) {
	resp := make(chan memoryStatsResponse, 1)
	w.mailbox <- memoryStatsRequest{resp: resp}
	r := <-resp
	return r.stats, r.err
}

// Dispose stops the worker goroutine, freeing the native context. Always
// safe; guarantees native-context release even on a prior backend error.
// Idempotent.
func (w *Worker) Dispose() {
	w.disposeOnce.Do(func() {
		resp := make(chan struct{}, 1)
		w.mailbox <- disposeRequest{resp: resp}
		<-resp
		<-w.done
	})
}

// run is the single goroutine that owns the Backend for this worker's
// entire lifetime. No other goroutine ever touches backend directly.
func (w *Worker) run() {
	defer close(w.done)

	var backend Backend
	var streamActive bool
	var cancelled bool

	for msg := range w.mailbox {
		switch req := msg.(type) {
		case initRequest:
			if backend != nil {
				req.resp <- fmt.Errorf("worker: already initialised")
				continue
			}
			backend = w.newBackend()
			if err := backend.Init(req.cfg); err != nil {
				req.resp <- err
				continue
			}
			w.state.Store(int32(StateInitialised))
			req.resp <- nil

		case startStreamRequest:
			if backend == nil {
				req.resp <- &runtime.InitError{Reason: "worker not initialised"}
				continue
			}
			if streamActive {
				req.resp <- runtime.ErrStreamAlreadyActive
				continue
			}
			if err := backend.StartStream(req.prompt, req.opts); err != nil {
				req.resp <- err
				continue
			}
			streamActive = true
			cancelled = false
			w.state.Store(int32(StateStreaming))
			req.resp <- nil

		case nextTokenRequest:
			if !streamActive {
				req.resp <- nextTokenResponse{err: fmt.Errorf("worker: no active stream")}
				continue
			}
			if cancelled {
				streamActive = false
				w.state.Store(int32(StateIdle))
				req.resp <- nextTokenResponse{
					chunk:    runtime.TokenChunk{Terminal: true, Reason: runtime.FinishCancelled},
					terminal: true,
				}
				continue
			}
			chunk, terminal, err := backend.NextToken()
			if terminal {
				streamActive = false
				w.state.Store(int32(StateIdle))
			}
			req.resp <- nextTokenResponse{chunk: chunk, terminal: terminal, err: err}

		case cancelRequest:
			if streamActive {
				cancelled = true
				backend.Cancel()
			}
			req.resp <- struct{}{}

		case memoryStatsRequest:
			if backend == nil {
				req.resp <- memoryStatsResponse{err: &runtime.InitError{Reason: "worker not initialised"}}
				continue
			}
			stats, err := backend.MemoryStats()
			req.resp <- memoryStatsResponse{stats: stats, err: err}

		case disposeRequest:
			if backend != nil {
				backend.Dispose()
			}
			w.state.Store(int32(StateDisposed))
			req.resp <- struct{}{}
			return
		}
	}
}
