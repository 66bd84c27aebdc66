package chat

import (
	"context"
	"strings"

	"github.com/edge-veda/runtime/internal/worker"
	"github.com/edge-veda/runtime/pkg/runtime"
)

// Generator is the text-generation boundary a Session drives. It is
// satisfied by a *worker.Worker via WorkerGenerator, kept as an interface
// so session.go and its tests do not need a live native backend.
type Generator interface {
	// GenerateStream starts a streaming generation and returns the
	// chunk channel; the final chunk is terminal. cancel, if non-nil, is
	// wired to the underlying worker's cooperative cancellation.
	GenerateStream(ctx context.Context, prompt string, opts runtime.GenerateOptions, cancel *runtime.CancelToken) (<-chan runtime.TokenChunk, error)
}

// WorkerGenerator adapts a *worker.Worker's request/response protocol
// (spec.md §4.1) into the Generator interface by driving the NextToken
// loop on a background goroutine and forwarding chunks over a channel.
type WorkerGenerator struct {
	Worker *worker.Worker
}

// GenerateStream implements Generator.
func (g *WorkerGenerator) GenerateStream(ctx context.Context, prompt string, opts runtime.GenerateOptions, cancel *runtime.CancelToken) (<-chan runtime.TokenChunk, error) {
	if prompt == "" {
		return nil, runtime.ErrEmptyPrompt
	}
	if err := g.Worker.StartStream(prompt, opts); err != nil {
		return nil, err
	}
	if cancel != nil {
		cancel.OnCancel(g.Worker.Cancel)
	}

	out := make(chan runtime.TokenChunk, 4)
	go func() {
		defer close(out)
		for {
			chunk, terminal, err := g.Worker.NextToken()
			if err != nil {
				out <- runtime.TokenChunk{Terminal: true, Reason: runtime.FinishError, Err: err}
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				g.Worker.Cancel()
			}
			if terminal {
				return
			}
		}
	}()
	return out, nil
}

// collectText drains a stream to completion and concatenates its
// non-terminal token text, used by Session.Send's non-streaming API.
func collectText(stream <-chan runtime.TokenChunk) (string, runtime.FinishReason, error) {
	var b strings.Builder
	for chunk := range stream {
		if chunk.Terminal {
			if chunk.Reason == runtime.FinishError {
				return "", chunk.Reason, chunk.Err
			}
			return b.String(), chunk.Reason, nil
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), runtime.FinishDone, nil
}
