package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/edge-veda/runtime/internal/worker"
	"github.com/edge-veda/runtime/pkg/runtime"
)

// fakeBackend is a minimal worker.Backend used only to drive WorkerGenerator
// through a real *worker.Worker without a native handle.
type fakeBackend struct {
	tokens []string
	idx    int
	failAt int // -1 disables
}

func (b *fakeBackend) Init(runtime.Config) error { return nil }
func (b *fakeBackend) StartStream(string, runtime.GenerateOptions) error {
	b.idx = 0
	return nil
}
func (b *fakeBackend) NextToken() (runtime.TokenChunk, bool, error) {
	if b.failAt >= 0 && b.idx == b.failAt {
		return runtime.TokenChunk{}, true, errors.New("backend exploded")
	}
	if b.idx >= len(b.tokens) {
		return runtime.TokenChunk{Terminal: true, Reason: runtime.FinishDone}, true, nil
	}
	text := b.tokens[b.idx]
	b.idx++
	return runtime.TokenChunk{Text: text, Index: b.idx - 1}, false, nil
}
func (b *fakeBackend) Cancel()                               {}
func (b *fakeBackend) MemoryStats() (worker.MemoryStats, error) { return worker.MemoryStats{}, nil }
func (b *fakeBackend) Dispose() error                        { return nil }

func newTestWorkerGenerator(tokens []string, failAt int) *WorkerGenerator {
	backend := &fakeBackend{tokens: tokens, failAt: failAt}
	w := worker.New(func() worker.Backend { return backend })
	w.Spawn()
	_ = w.Init(runtime.Config{})
	return &WorkerGenerator{Worker: w}
}

func TestWorkerGeneratorStreamsTokens(t *testing.T) {
	gen := newTestWorkerGenerator([]string{"hel", "lo"}, -1)
	stream, err := gen.GenerateStream(context.Background(), "hi", runtime.GenerateOptions{MaxTokens: 8}, nil)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	text, reason, err := collectText(stream)
	if err != nil {
		t.Fatalf("collectText: %v", err)
	}
	if text != "hello" {
		t.Fatalf("want %q, got %q", "hello", text)
	}
	if reason != runtime.FinishDone {
		t.Fatalf("want FinishDone, got %v", reason)
	}
}

func TestWorkerGeneratorSurfacesBackendError(t *testing.T) {
	gen := newTestWorkerGenerator([]string{"a", "b", "c"}, 1)
	stream, err := gen.GenerateStream(context.Background(), "hi", runtime.GenerateOptions{MaxTokens: 8}, nil)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	_, _, err = collectText(stream)
	if err == nil {
		t.Fatal("expected collectText to surface the backend error")
	}
}

func TestWorkerGeneratorRejectsEmptyPrompt(t *testing.T) {
	gen := newTestWorkerGenerator(nil, -1)
	if _, err := gen.GenerateStream(context.Background(), "", runtime.GenerateOptions{}, nil); !errors.Is(err, runtime.ErrEmptyPrompt) {
		t.Fatalf("want ErrEmptyPrompt, got %v", err)
	}
}

func TestWorkerGeneratorWiresCancelToken(t *testing.T) {
	gen := newTestWorkerGenerator([]string{"a"}, -1)
	cancel := runtime.NewCancelToken()
	stream, err := gen.GenerateStream(context.Background(), "hi", runtime.GenerateOptions{MaxTokens: 8}, cancel)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	cancel.Cancel()
	for range stream {
		// drain; the point is that Cancel() does not deadlock or panic
		// once wired through OnCancel.
	}
}
