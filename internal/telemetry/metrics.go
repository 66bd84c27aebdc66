// Package telemetry provides the PerfTrace sink (spec.md §2, §6) and an
// OpenTelemetry metrics bridge over the same measurements, so the same
// numbers that land in the JSONL trace file can also be scraped via
// Prometheus.
//
// Grounded field-for-field on internal/observe/metrics.go from the
// teacher: the same histogram/counter/gauge shape and package-level
// sync.Once singleton, generalized from Discord-NPC pipeline stages
// (STT/LLM/TTS/S2S/tool) to inference pipeline stages (decode, prompt
// eval, total inference, tool execution, budget checks).
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/edge-veda/runtime"

// latencyBuckets are histogram bucket boundaries in seconds, covering
// token-level latencies (single-digit ms) through cold model loads
// (several seconds).
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Metrics holds every OpenTelemetry instrument the runtime emits. All
// fields are safe for concurrent use.
type Metrics struct {
	PromptEvalDuration    metric.Float64Histogram
	DecodeTokenDuration    metric.Float64Histogram
	TotalInferenceDuration metric.Float64Histogram
	ToolExecutionDuration  metric.Float64Histogram
	ModelLoadDuration      metric.Float64Histogram

	GenerationRequests metric.Int64Counter
	GenerationErrors   metric.Int64Counter
	ToolCalls          metric.Int64Counter
	SchedulerDegradations metric.Int64Counter
	SchedulerRestorations metric.Int64Counter
	MemoryEvictions       metric.Int64Counter

	ActiveWorkers  metric.Int64UpDownCounter
	ActiveStreams  metric.Int64UpDownCounter
}

// NewMetrics builds every instrument on the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PromptEvalDuration, err = m.Float64Histogram("edgeveda.prompt_eval.duration",
		metric.WithDescription("Latency of prompt evaluation (prefill)."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeTokenDuration, err = m.Float64Histogram("edgeveda.decode_token.duration",
		metric.WithDescription("Latency of a single decode step."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TotalInferenceDuration, err = m.Float64Histogram("edgeveda.total_inference.duration",
		metric.WithDescription("End-to-end generation latency."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("edgeveda.tool_execution.duration",
		metric.WithDescription("Latency of tool-call execution."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadDuration, err = m.Float64Histogram("edgeveda.model_load.duration",
		metric.WithDescription("Latency of native model load."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.GenerationRequests, err = m.Int64Counter("edgeveda.generation.requests",
		metric.WithDescription("Total generation requests by workload and status."),
	); err != nil {
		return nil, err
	}
	if met.GenerationErrors, err = m.Int64Counter("edgeveda.generation.errors",
		metric.WithDescription("Total generation errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("edgeveda.tool.calls",
		metric.WithDescription("Total tool invocations by tool name."),
	); err != nil {
		return nil, err
	}
	if met.SchedulerDegradations, err = m.Int64Counter("edgeveda.scheduler.degradations",
		metric.WithDescription("Total workload degradations by workload id."),
	); err != nil {
		return nil, err
	}
	if met.SchedulerRestorations, err = m.Int64Counter("edgeveda.scheduler.restorations",
		metric.WithDescription("Total workload restorations by workload id."),
	); err != nil {
		return nil, err
	}
	if met.MemoryEvictions, err = m.Int64Counter("edgeveda.memory.evictions",
		metric.WithDescription("Total memory-pressure workload evictions."),
	); err != nil {
		return nil, err
	}

	if met.ActiveWorkers, err = m.Int64UpDownCounter("edgeveda.active_workers",
		metric.WithDescription("Number of live workers."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("edgeveda.active_streams",
		metric.WithDescription("Number of in-flight generation streams."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics instance, built lazily
// from otel.GetMeterProvider(). Panics if instrument creation fails, which
// should not happen against the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("telemetry: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for attribute.String.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordGenerationRequest records a generation-request counter increment.
func (m *Metrics) RecordGenerationRequest(ctx context.Context, workload, status string) {
	m.GenerationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workload", workload),
		attribute.String("status", status),
	))
}

// RecordToolCall records a tool-call counter increment.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordDegradation records a scheduler degradation counter increment.
func (m *Metrics) RecordDegradation(ctx context.Context, workloadID string) {
	m.SchedulerDegradations.Add(ctx, 1, metric.WithAttributes(attribute.String("workload", workloadID)))
}

// RecordRestoration records a scheduler restoration counter increment.
func (m *Metrics) RecordRestoration(ctx context.Context, workloadID string) {
	m.SchedulerRestorations.Add(ctx, 1, metric.WithAttributes(attribute.String("workload", workloadID)))
}
