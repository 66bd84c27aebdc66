package worker

import (
	"errors"
	"testing"

	"github.com/edge-veda/runtime/pkg/runtime"
)

// fakeBackend is an in-memory Backend for tests, standing in for the cgo
// implementation in internal/ffi.
type fakeBackend struct {
	initErr error
	tokens  []string
	idx     int
	cancelled bool
	disposed  bool
}

func (f *fakeBackend) Init(cfg runtime.Config) error { return f.initErr }

func (f *fakeBackend) StartStream(prompt string, opts runtime.GenerateOptions) error {
	f.idx = 0
	f.cancelled = false
	return nil
}

func (f *fakeBackend) NextToken() (runtime.TokenChunk, bool, error) {
	if f.cancelled {
		return runtime.TokenChunk{Terminal: true, Reason: runtime.FinishCancelled}, true, nil
	}
	if f.idx >= len(f.tokens) {
		return runtime.TokenChunk{Terminal: true, Reason: runtime.FinishDone}, true, nil
	}
	tok := f.tokens[f.idx]
	f.idx++
	return runtime.TokenChunk{Text: tok, Index: f.idx - 1}, false, nil
}

func (f *fakeBackend) Cancel() { f.cancelled = true }

func (f *fakeBackend) MemoryStats() (MemoryStats, error) {
	return MemoryStats{CurrentBytes: 1024}, nil
}

func (f *fakeBackend) Dispose() error {
	f.disposed = true
	return nil
}

func newTestWorker(b *fakeBackend) *Worker {
	w := New(func() Backend { return b })
	w.Spawn()
	return w
}

func TestWorkerStreamsAllTokensThenTerminal(t *testing.T) {
	fb := &fakeBackend{tokens: []string{"hello", " world"}}
	w := newTestWorker(fb)
	defer w.Dispose()

	if err := w.Init(runtime.Config{ModelPath: "m.gguf"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := w.StartStream("hi", runtime.GenerateOptions{MaxTokens: 10}); err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	var got []string
	for {
		chunk, terminal, err := w.NextToken()
		if err != nil {
			t.Fatalf("NextToken: %v", err)
		}
		if terminal {
			if chunk.Reason != runtime.FinishDone {
				t.Errorf("terminal reason = %v, want done", chunk.Reason)
			}
			break
		}
		got = append(got, chunk.Text)
	}
	if len(got) != 2 || got[0] != "hello" || got[1] != " world" {
		t.Errorf("got %v", got)
	}
	if w.State() != StateIdle {
		t.Errorf("state = %v, want idle", w.State())
	}
}

func TestWorkerCancelProducesCancelledTerminal(t *testing.T) {
	fb := &fakeBackend{tokens: []string{"a", "b", "c"}}
	w := newTestWorker(fb)
	defer w.Dispose()

	if err := w.Init(runtime.Config{ModelPath: "m.gguf"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := w.StartStream("hi", runtime.GenerateOptions{MaxTokens: 10}); err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	chunk, terminal, err := w.NextToken()
	if err != nil || terminal {
		t.Fatalf("expected first token, got terminal=%v err=%v", terminal, err)
	}
	_ = chunk

	w.Cancel()

	chunk, terminal, err = w.NextToken()
	if err != nil {
		t.Fatalf("NextToken after cancel: %v", err)
	}
	if !terminal || chunk.Reason != runtime.FinishCancelled {
		t.Errorf("expected cancelled terminal, got terminal=%v reason=%v", terminal, chunk.Reason)
	}
}

func TestWorkerStartStreamFailsWhenAlreadyActive(t *testing.T) {
	fb := &fakeBackend{tokens: []string{"a", "b"}}
	w := newTestWorker(fb)
	defer w.Dispose()

	w.Init(runtime.Config{ModelPath: "m.gguf"})
	if err := w.StartStream("hi", runtime.GenerateOptions{}); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	err := w.StartStream("hi again", runtime.GenerateOptions{})
	if !errors.Is(err, runtime.ErrStreamAlreadyActive) {
		t.Errorf("expected ErrStreamAlreadyActive, got %v", err)
	}
}

func TestWorkerMemoryStatsWhileStreaming(t *testing.T) {
	fb := &fakeBackend{tokens: []string{"a"}}
	w := newTestWorker(fb)
	defer w.Dispose()

	w.Init(runtime.Config{ModelPath: "m.gguf"})
	w.StartStream("hi", runtime.GenerateOptions{})

	stats, err := w.MemoryStats()
	if err != nil {
		t.Fatalf("MemoryStats: %v", err)
	}
	if stats.CurrentBytes != 1024 {
		t.Errorf("CurrentBytes = %d, want 1024", stats.CurrentBytes)
	}
}

func TestWorkerDisposeIsIdempotentAndDisposesBackend(t *testing.T) {
	fb := &fakeBackend{}
	w := newTestWorker(fb)
	w.Init(runtime.Config{ModelPath: "m.gguf"})

	w.Dispose()
	w.Dispose() // must not panic or block

	if !fb.disposed {
		t.Error("expected backend.Dispose() called")
	}
	if w.State() != StateDisposed {
		t.Errorf("state = %v, want disposed", w.State())
	}
}

func TestWorkerInitFailurePropagatesTypedError(t *testing.T) {
	fb := &fakeBackend{initErr: &runtime.ModelLoadError{Path: "missing.gguf", Reason: "not found"}}
	w := newTestWorker(fb)
	defer w.Dispose()

	err := w.Init(runtime.Config{ModelPath: "missing.gguf"})
	var mle *runtime.ModelLoadError
	if !errors.As(err, &mle) {
		t.Fatalf("expected *runtime.ModelLoadError, got %v (%T)", err, err)
	}
}

func TestWorkerNextTokenWithoutStreamIsError(t *testing.T) {
	fb := &fakeBackend{}
	w := newTestWorker(fb)
	defer w.Dispose()
	w.Init(runtime.Config{ModelPath: "m.gguf"})

	_, _, err := w.NextToken()
	if err == nil {
		t.Error("expected error calling NextToken without an active stream")
	}
}
