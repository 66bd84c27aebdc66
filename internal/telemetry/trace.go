package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Record is a single trace-file entry, per spec.md §6's on-device trace
// format: one JSON object per line, frame-correlated, with an open "extra"
// bag for stage-specific fields (e.g. "tokens", "qos_level", "thermal").
type Record struct {
	FrameID int64          `json:"frame_id"`
	TSMs    int64          `json:"ts_ms"`
	Stage   string         `json:"stage"`
	Value   float64        `json:"value"`
	Extra   map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object alongside the fixed
// fields, matching the spec's "arbitrary extra keys" trace shape.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		m[k] = v
	}
	m["frame_id"] = r.FrameID
	m["ts_ms"] = r.TSMs
	m["stage"] = r.Stage
	m["value"] = r.Value
	return json.Marshal(m)
}

// Sink appends Records as newline-delimited JSON. Safe for concurrent use.
type Sink struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
}

// NewSink wraps an already-open writer. The caller owns closing it if it
// also implements io.Closer outside of Sink.Close.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// OpenFileSink opens (creating/appending) a JSONL trace file at path.
func OpenFileSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open trace file %q: %w", path, err)
	}
	return &Sink{w: f, c: f}, nil
}

// Emit writes one record as a single JSON line.
func (s *Sink) Emit(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("telemetry: marshal trace record: %w", err)
	}
	b = append(b, '\n')
	_, err = s.w.Write(b)
	return err
}

// Close closes the underlying file, if Sink owns one.
func (s *Sink) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

const tracerName = "github.com/edge-veda/runtime"

// Tracer returns the package tracer from the global OTel trace provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name under ctx, using the package tracer.
func StartSpan(ctx context.Context, name string, attrs ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, attrs...)
}

// CorrelationID extracts the active span's trace id as a hex string, or ""
// if ctx carries no recording span.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns a *slog.Logger enriched with trace_id/span_id attributes
// extracted from ctx, falling back to slog.Default() if ctx carries no span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return slog.Default()
	}
	return slog.Default().With(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
}

// NowMs is the wall-clock millisecond timestamp for trace records that are
// not stamped from a caller-supplied time.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
