package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/edge-veda/runtime/internal/telemetry"
	"github.com/edge-veda/runtime/pkg/runtime"
)

const (
	tickInterval = 2 * time.Second
	memoryEvictionOvershoot = 1.10
)

// workloadState is the Scheduler's per-workload bookkeeping.
type workloadState struct {
	id               WorkloadID
	priority         Priority
	level            runtime.QoSLevel
	window           *latencyWindow
	lastDegradation  time.Time
	hasDegradation   bool
	evictionCallback func()
	registeredAt     time.Time
	registrationSeq  int
}

// Scheduler is the periodic budget-enforcement coordinator described in
// spec.md §4.3. Run drives the tick loop; every other method is safe to
// call concurrently from any goroutine.
//
// Grounded on internal/config/watcher.go's ticker+select poll loop from the
// teacher (generalized from file-change polling to telemetry polling), and
// internal/mcp/mcphost/budget.go's tier-filter-then-sort shape (generalized
// from tool filtering to workload degrade/restore selection).
type Scheduler struct {
	mu sync.Mutex

	telemetry TelemetrySource
	sink      *telemetry.Sink

	budget      Budget
	drainTracker *batteryDrainTracker

	workloads map[WorkloadID]*workloadState
	seq       int

	violations chan Violation

	restorationCooldown time.Duration
}

// New returns a Scheduler reading telemetry from src and (optionally)
// tracing decisions to sink. Pass a nil sink to disable tracing.
func New(src TelemetrySource, sink *telemetry.Sink, budget Budget) *Scheduler {
	return &Scheduler{
		telemetry:           src,
		sink:                sink,
		budget:              budget,
		drainTracker:        newBatteryDrainTracker(),
		workloads:           make(map[WorkloadID]*workloadState),
		violations:          make(chan Violation, 32),
		restorationCooldown: defaultRestorationCooldown,
	}
}

// SetBudget installs or replaces the active budget.
func (s *Scheduler) SetBudget(b Budget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget = b
}

// RegisterWorkload registers id with priority, or replaces its priority if
// already registered. New registrations start at full QoS.
func (s *Scheduler) RegisterWorkload(id WorkloadID, priority Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workloads[id]; ok {
		w.priority = priority
		return
	}
	s.seq++
	s.workloads[id] = &workloadState{
		id:              id,
		priority:        priority,
		level:           runtime.QoSFull,
		window:          newLatencyWindow(),
		registeredAt:    time.Now(),
		registrationSeq: s.seq,
	}
}

// UnregisterWorkload removes all state for id.
func (s *Scheduler) UnregisterWorkload(id WorkloadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workloads, id)
}

// RegisterMemoryEviction associates a one-shot callback invoked when
// memory pressure forces this workload out entirely.
func (s *Scheduler) RegisterMemoryEviction(id WorkloadID, callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workloads[id]; ok {
		w.evictionCallback = callback
	}
}

// ReportLatency feeds one sample (in milliseconds) to id's latency window.
func (s *Scheduler) ReportLatency(id WorkloadID, ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workloads[id]; ok {
		w.window.add(ms)
	}
}

// KnobsFor returns the current knob set derived from id's published QoS
// level. Unregistered ids read as paused (no work).
func (s *Scheduler) KnobsFor(id WorkloadID) QoSKnobs {
	return KnobsForLevel(s.LevelFor(id))
}

// LevelFor returns id's currently published QoS level. Unregistered ids
// read as paused.
func (s *Scheduler) LevelFor(id WorkloadID) runtime.QoSLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workloads[id]
	if !ok {
		return runtime.QoSPaused
	}
	return w.level
}

// Violations returns the event stream of unmitigated or observe-only
// violations.
func (s *Scheduler) Violations() <-chan Violation {
	return s.violations
}

// Run drives the tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(time.Now())
		}
	}
}

// tick runs the 9-step enforcement algorithm from spec.md §4.3 once.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := s.telemetry.Sample()

	s.drainTracker.add(now, sample.BatteryPercent)
	drainRate, drainReady := s.drainTracker.drainRatePer10Min()

	worstP95, anyWarmedUp := s.worstWarmedUpP95()
	thresholds := s.budget.resolve(anyWarmedUp, worstP95, sample.ThermalIndex, sample.RSSBytes/mib, drainReady, drainRate)

	var violations []Violation
	actionable := 0
	observeOnly := 0

	if s.budget.warmedUp() {
		if worstP95 > thresholds.P95Ms && anyWarmedUp {
			violations = append(violations, Violation{Kind: ViolationActionable, Constraint: "latency", Current: worstP95, Budget: thresholds.P95Ms, Mitigation: "degrade lowest-priority workload"})
		}
		if float64(sample.ThermalIndex) > float64(thresholds.ThermalIndex) {
			violations = append(violations, Violation{Kind: ViolationActionable, Constraint: "thermal", Current: float64(sample.ThermalIndex), Budget: float64(thresholds.ThermalIndex), Mitigation: "degrade lowest-priority workload"})
		}
	}
	if s.budget.batteryResolved && drainReady && drainRate > thresholds.BatteryDrainPer10Min {
		violations = append(violations, Violation{Kind: ViolationActionable, Constraint: "battery", Current: drainRate, Budget: thresholds.BatteryDrainPer10Min, Mitigation: "degrade lowest-priority workload"})
	}
	memoryCeilingBytes := thresholds.MemoryCeilingMB * mib
	if memoryCeilingBytes > 0 && sample.RSSBytes > memoryCeilingBytes {
		violations = append(violations, Violation{Kind: ViolationObserveOnly, Constraint: "memory", Current: float64(sample.RSSBytes) / mib, Budget: float64(thresholds.MemoryCeilingMB), Mitigation: "evict lowest-priority full-QoS workload if overshoot exceeds 10%"})
	}

	for _, v := range violations {
		if v.Kind == ViolationActionable {
			actionable++
		} else {
			observeOnly++
		}
	}

	for _, v := range violations {
		if v.Kind == ViolationObserveOnly {
			s.emitViolation(v)
		}
	}
	if memoryCeilingBytes > 0 && float64(sample.RSSBytes) > float64(memoryCeilingBytes)*memoryEvictionOvershoot {
		s.evictLowestPriorityFullQoS()
	}

	mitigated := false
	if actionable > 0 {
		if s.degradeLowestPriority(now) {
			mitigated = true
		}
	} else {
		s.attemptRestoration(now)
	}

	if !mitigated {
		for _, v := range violations {
			if v.Kind == ViolationActionable {
				s.emitViolation(v)
			}
		}
	}

	s.trace(now, actionable, observeOnly, sample)
}

// worstWarmedUpP95 returns the highest p95 among workloads whose window has
// warmed up, and whether at least one has.
func (s *Scheduler) worstWarmedUpP95() (float64, bool) {
	var worst float64
	any := false
	for _, w := range s.workloads {
		if !w.window.warmedUp() {
			continue
		}
		any = true
		if p := w.window.p95(); p > worst {
			worst = p
		}
	}
	return worst, any
}

// sortedByPriorityAsc returns registered workloads ordered ascending by
// priority, then by registration order (earliest first) — the tie-break
// spec.md §4.3 specifies for degradation selection.
func (s *Scheduler) sortedByPriorityAsc() []*workloadState {
	out := make([]*workloadState, 0, len(s.workloads))
	for _, w := range s.workloads {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].registrationSeq < out[j].registrationSeq
	})
	return out
}

// degradeLowestPriority degrades the lowest-priority non-paused workload
// one level. At most one degradation per tick.
func (s *Scheduler) degradeLowestPriority(now time.Time) bool {
	for _, w := range s.sortedByPriorityAsc() {
		if w.level == runtime.QoSPaused {
			continue
		}
		w.level = degrade(w.level)
		w.lastDegradation = now
		w.hasDegradation = true
		telemetry.DefaultMetrics().RecordDegradation(context.Background(), string(w.id))
		return true
	}
	return false
}

// attemptRestoration restores the highest-priority non-full workload whose
// last degradation is older than the restoration cooldown, last-registered
// first among ties (favouring hot-path work), per spec.md §4.3. At most one
// restoration per tick.
func (s *Scheduler) attemptRestoration(now time.Time) bool {
	candidates := s.sortedByPriorityAsc()
	for i := len(candidates) - 1; i >= 0; i-- {
		w := candidates[i]
		if w.level == runtime.QoSFull {
			continue
		}
		if !w.hasDegradation || now.Sub(w.lastDegradation) < s.restorationCooldown {
			continue
		}
		w.level = restore(w.level)
		w.lastDegradation = now
		telemetry.DefaultMetrics().RecordRestoration(context.Background(), string(w.id))
		return true
	}
	return false
}

// evictLowestPriorityFullQoS scans workloads with a registered eviction
// callback at full QoS, invokes the lowest-priority one's callback, and
// unregisters it. A callback that panics is recovered, logged via slog and
// (when a trace sink is set) as a "memory_eviction" trace record, and the
// workload is unregistered regardless.
func (s *Scheduler) evictLowestPriorityFullQoS() {
	for _, w := range s.sortedByPriorityAsc() {
		if w.level != runtime.QoSFull || w.evictionCallback == nil {
			continue
		}
		cb := w.evictionCallback
		id := w.id
		func() {
			defer func() {
				if r := recover(); r != nil {
					telemetry.Logger(context.Background()).Error(
						"scheduler: memory-eviction callback panicked",
						"workload", string(id), "panic", r)
					if s.sink != nil {
						s.sink.Emit(telemetry.Record{
							TSMs:  telemetry.NowMs(),
							Stage: "memory_eviction",
							Extra: map[string]any{"workload": string(id), "panic": r},
						})
					}
				}
			}()
			cb()
		}()
		delete(s.workloads, id)
		telemetry.DefaultMetrics().MemoryEvictions.Add(context.Background(), 1)
		return
	}
}

func (s *Scheduler) emitViolation(v Violation) {
	select {
	case s.violations <- v:
	default:
	}
}

func (s *Scheduler) trace(now time.Time, actionable, observeOnly int, sample TelemetrySample) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(telemetry.Record{
		TSMs:  now.UnixMilli(),
		Stage: "budget_check",
		Value: float64(actionable),
		Extra: map[string]any{
			"observe_only": observeOnly,
			"thermal":      sample.ThermalIndex,
			"battery":      sample.BatteryPercent,
			"rss_bytes":    sample.RSSBytes,
		},
	})
}
