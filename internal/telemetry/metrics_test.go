package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetricsCreatesEveryInstrument(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.PromptEvalDuration == nil {
		t.Error("PromptEvalDuration not initialized")
	}
	if m.GenerationRequests == nil {
		t.Error("GenerationRequests not initialized")
	}
	if m.ActiveWorkers == nil {
		t.Error("ActiveWorkers not initialized")
	}
}

func TestRecordHelpersDoNotPanic(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordGenerationRequest(ctx, "chat-1", "ok")
	m.RecordToolCall(ctx, "search")
	m.RecordDegradation(ctx, "vision-1")
	m.RecordRestoration(ctx, "vision-1")
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
