package scheduler

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/edge-veda/runtime/pkg/runtime"
)

func TestSchedulerDegradesLowestPriorityOnActionableViolation(t *testing.T) {
	src := &fakeTelemetry{sample: TelemetrySample{ThermalIndex: 5, BatteryPercent: 90, RSSBytes: 10 * mib, AvailableBytes: 500 * mib}}
	budget := NewStaticBudget(Thresholds{P95Ms: 1000, ThermalIndex: 1, MemoryCeilingMB: 1000})
	s := New(src, nil, budget)

	s.RegisterWorkload(WorkloadVision, PriorityHigh)
	s.RegisterWorkload(WorkloadText, PriorityLow)

	s.tick(time.Now())

	if s.KnobsFor(WorkloadText) == KnobsForLevel(runtime.QoSFull) {
		t.Error("lowest-priority workload should have been degraded")
	}
	if s.KnobsFor(WorkloadVision) != KnobsForLevel(runtime.QoSFull) {
		t.Error("higher-priority workload should remain at full QoS")
	}
}

func TestSchedulerRestoresAfterCooldownWhenNoViolation(t *testing.T) {
	src := &fakeTelemetry{sample: TelemetrySample{ThermalIndex: 0, BatteryPercent: 90, RSSBytes: 10 * mib, AvailableBytes: 500 * mib}}
	budget := NewStaticBudget(Thresholds{P95Ms: 1000, ThermalIndex: 5, MemoryCeilingMB: 1000})
	s := New(src, nil, budget)
	s.restorationCooldown = 0

	s.RegisterWorkload(WorkloadText, PriorityLow)
	w := s.workloads[WorkloadText]
	w.level = runtime.QoSReduced
	w.hasDegradation = true
	w.lastDegradation = time.Now().Add(-time.Minute)

	s.tick(time.Now())

	if s.KnobsFor(WorkloadText) != KnobsForLevel(runtime.QoSFull) {
		t.Error("workload should have been restored to full QoS")
	}
}

func TestSchedulerEvictsOnMemoryOvershootAboveTenPercent(t *testing.T) {
	ceilingMB := int64(100)
	src := &fakeTelemetry{sample: TelemetrySample{ThermalIndex: 0, BatteryPercent: 90, RSSBytes: int64(float64(ceilingMB)*1.2) * mib, AvailableBytes: 500 * mib}}
	budget := NewStaticBudget(Thresholds{P95Ms: 1000, ThermalIndex: 5, MemoryCeilingMB: ceilingMB})
	s := New(src, nil, budget)

	s.RegisterWorkload(WorkloadEmbedding, PriorityLow)
	evicted := false
	s.RegisterMemoryEviction(WorkloadEmbedding, func() { evicted = true })

	s.tick(time.Now())

	if !evicted {
		t.Error("expected eviction callback to fire on >10% overshoot")
	}
	if _, ok := s.workloads[WorkloadEmbedding]; ok {
		t.Error("expected workload unregistered after eviction")
	}
}

func TestSchedulerDoesNotEvictAtOrBelowTenPercentOvershoot(t *testing.T) {
	ceilingMB := int64(100)
	src := &fakeTelemetry{sample: TelemetrySample{ThermalIndex: 0, BatteryPercent: 90, RSSBytes: int64(float64(ceilingMB)*1.05) * mib, AvailableBytes: 500 * mib}}
	budget := NewStaticBudget(Thresholds{P95Ms: 1000, ThermalIndex: 5, MemoryCeilingMB: ceilingMB})
	s := New(src, nil, budget)

	s.RegisterWorkload(WorkloadEmbedding, PriorityLow)
	evicted := false
	s.RegisterMemoryEviction(WorkloadEmbedding, func() { evicted = true })

	s.tick(time.Now())

	if evicted {
		t.Error("should not evict below the 10% overshoot threshold")
	}
}

func TestSchedulerEvictionCallbackPanicIsLoggedAndWorkloadStillUnregistered(t *testing.T) {
	var logBuf bytes.Buffer
	origLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logBuf, nil)))
	defer slog.SetDefault(origLogger)

	ceilingMB := int64(100)
	src := &fakeTelemetry{sample: TelemetrySample{ThermalIndex: 0, BatteryPercent: 90, RSSBytes: int64(float64(ceilingMB)*1.2) * mib, AvailableBytes: 500 * mib}}
	budget := NewStaticBudget(Thresholds{P95Ms: 1000, ThermalIndex: 5, MemoryCeilingMB: ceilingMB})
	s := New(src, nil, budget)

	s.RegisterWorkload(WorkloadEmbedding, PriorityLow)
	s.RegisterMemoryEviction(WorkloadEmbedding, func() { panic("disk I/O exploded") })

	s.tick(time.Now())

	if _, ok := s.workloads[WorkloadEmbedding]; ok {
		t.Error("expected workload unregistered even though its eviction callback panicked")
	}
	if !strings.Contains(logBuf.String(), "memory-eviction callback panicked") {
		t.Errorf("expected the panic to be logged, got log output: %s", logBuf.String())
	}
}

func TestSchedulerRegisterWorkloadIsIdempotent(t *testing.T) {
	src := &fakeTelemetry{}
	s := New(src, nil, NewStaticBudget(Thresholds{}))
	s.RegisterWorkload(WorkloadText, PriorityLow)
	s.RegisterWorkload(WorkloadText, PriorityCritical)
	if len(s.workloads) != 1 {
		t.Fatalf("expected 1 workload, got %d", len(s.workloads))
	}
	if s.workloads[WorkloadText].priority != PriorityCritical {
		t.Error("re-registration should replace priority")
	}
}
