// Package scheduler implements the periodic budget-enforcement coordinator
// and the RuntimePolicy direct-evaluate alternative (spec.md §4.3): sampling
// device telemetry every 2 seconds, classifying budget violations as
// actionable or observe-only, degrading or restoring per-workload QoS
// levels, and evicting memory-pressured workloads.
//
// Grounded on the teacher's internal/mcp/mcphost package: the rolling
// latency window in metrics.go, the tier-filter-then-sort shape in
// budget.go, the three-state hysteresis in internal/resilience/circuitbreaker.go,
// and the ticker+select poll loop in internal/config/watcher.go.
package scheduler

import "github.com/edge-veda/runtime/pkg/runtime"

// WorkloadID identifies one of the fixed set of concurrent workload kinds
// a device can run.
type WorkloadID string

const (
	WorkloadVoicePipeline WorkloadID = "voice-pipeline"
	WorkloadVision        WorkloadID = "vision"
	WorkloadText          WorkloadID = "text"
	WorkloadToolCall      WorkloadID = "tool-call"
	WorkloadImage         WorkloadID = "image"
	WorkloadSTT           WorkloadID = "stt"
	WorkloadEmbedding     WorkloadID = "embedding"
)

// Priority orders workloads for degrade/restore tie-breaking. Higher value
// wins (is preserved longer / restored sooner).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// QoSKnobs is the concrete per-level knob set a workload reads to decide
// how much work to do this cycle.
type QoSKnobs struct {
	FramesPerSecond float64
	MaxImageEdgePx  int
	MaxTokens       int
}

var knobTable = map[runtime.QoSLevel]QoSKnobs{
	runtime.QoSFull:    {FramesPerSecond: 2, MaxImageEdgePx: 640, MaxTokens: 100},
	runtime.QoSReduced: {FramesPerSecond: 1, MaxImageEdgePx: 480, MaxTokens: 75},
	runtime.QoSMinimal: {FramesPerSecond: 1, MaxImageEdgePx: 320, MaxTokens: 50},
	runtime.QoSPaused:  {FramesPerSecond: 0, MaxImageEdgePx: 0, MaxTokens: 0},
}

// KnobsForLevel returns the fixed knob set for a QoS level.
func KnobsForLevel(level runtime.QoSLevel) QoSKnobs {
	return knobTable[level]
}

// degrade returns the next-lower QoS level, or level unchanged if already
// paused.
func degrade(level runtime.QoSLevel) runtime.QoSLevel {
	switch level {
	case runtime.QoSFull:
		return runtime.QoSReduced
	case runtime.QoSReduced:
		return runtime.QoSMinimal
	case runtime.QoSMinimal:
		return runtime.QoSPaused
	default:
		return runtime.QoSPaused
	}
}

// restore returns the next-higher QoS level, or level unchanged if already
// full.
func restore(level runtime.QoSLevel) runtime.QoSLevel {
	switch level {
	case runtime.QoSPaused:
		return runtime.QoSMinimal
	case runtime.QoSMinimal:
		return runtime.QoSReduced
	case runtime.QoSReduced:
		return runtime.QoSFull
	default:
		return runtime.QoSFull
	}
}

// ViolationKind distinguishes actionable constraints (work reduction helps)
// from observe-only ones (memory ceiling — an already-loaded model's
// footprint cannot shrink via QoS knobs).
type ViolationKind int

const (
	ViolationActionable ViolationKind = iota
	ViolationObserveOnly
)

// Violation describes one unmitigated or observe-only budget breach emitted
// on the Scheduler's event stream.
type Violation struct {
	Kind       ViolationKind
	Constraint string // "latency" | "thermal" | "battery" | "memory"
	Current    float64
	Budget     float64
	Mitigation string
}

// TelemetrySample is one tick's raw device reading.
type TelemetrySample struct {
	ThermalIndex    int // 0 (nominal) .. 3+ (critical)
	BatteryPercent  float64
	RSSBytes        int64
	AvailableBytes  int64
	LowPower        bool
}

// TelemetrySource supplies the current device reading. Platform adapters
// live outside this module; this package ships only an in-memory fake for
// tests (see fake_telemetry_test.go).
type TelemetrySource interface {
	Sample() TelemetrySample
}
