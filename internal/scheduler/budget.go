package scheduler

// Profile selects the headroom coefficients used when resolving an
// adaptive budget — looser on a plugged-in desktop-class device, tighter
// on a battery-constrained handset.
type Profile string

const (
	ProfileConservative Profile = "conservative"
	ProfileBalanced     Profile = "balanced"
	ProfileAggressive   Profile = "aggressive"
)

// headroom holds the multiplicative/additive coefficients applied to the
// warm-up snapshot to derive concrete thresholds. Conservative budgets
// leave more headroom (trigger sooner); aggressive budgets leave less.
type headroom struct {
	p95Factor     float64 // threshold = worst warmed-up p95 * factor
	thermalMargin int     // threshold = snapshot thermal + margin
	memoryFloorMB int64   // fixed memory-ceiling floor, independent of snapshot
	drainFactor   float64 // threshold = snapshot drain rate * factor
}

var profiles = map[Profile]headroom{
	ProfileConservative: {p95Factor: 1.2, thermalMargin: 0, memoryFloorMB: 300, drainFactor: 1.1},
	ProfileBalanced:      {p95Factor: 1.5, thermalMargin: 1, memoryFloorMB: 200, drainFactor: 1.3},
	ProfileAggressive:    {p95Factor: 2.0, thermalMargin: 1, memoryFloorMB: 150, drainFactor: 1.6},
}

// Thresholds are the concrete enforcement limits the Scheduler compares
// telemetry against, whether declared statically or resolved from warm-up
// data.
type Thresholds struct {
	P95Ms         float64
	ThermalIndex  int
	BatteryDrainPer10Min float64
	MemoryCeilingMB      int64
}

// Budget is either a fixed set of Thresholds (static) or a Profile whose
// concrete Thresholds are resolved once the latency tracker warms up
// (adaptive), per spec.md §4.3 step 3's two-phase resolution: the latency/
// thermal/memory thresholds resolve together once ≥20 samples exist; the
// battery threshold resolves a tick later once the drain tracker has
// enough data.
type Budget struct {
	Adaptive bool
	Static   Thresholds
	Profile  Profile

	resolved       Thresholds
	latencyResolved bool
	batteryResolved bool
}

// NewStaticBudget returns a Budget with fixed thresholds.
func NewStaticBudget(t Thresholds) Budget {
	return Budget{Static: t, resolved: t, latencyResolved: true, batteryResolved: true}
}

// NewAdaptiveBudget returns a Budget whose thresholds are resolved lazily
// by resolve().
func NewAdaptiveBudget(profile Profile) Budget {
	return Budget{Adaptive: true, Profile: profile}
}

// resolve attempts to derive concrete thresholds from a warm-up snapshot.
// Latency/thermal/memory resolve together once warmedUp is true; the
// battery threshold resolves independently once drainReady is true,
// allowing it to land a tick later than the rest (two-phase resolution).
func (b *Budget) resolve(warmedUp bool, worstP95 float64, snapshotThermal int, snapshotRSSMiB int64, drainReady bool, snapshotDrain float64) Thresholds {
	if !b.Adaptive {
		return b.Static
	}
	h := profiles[b.Profile]
	if warmedUp && !b.latencyResolved {
		b.resolved.P95Ms = worstP95 * h.p95Factor
		b.resolved.ThermalIndex = snapshotThermal + h.thermalMargin
		b.resolved.MemoryCeilingMB = h.memoryFloorMB
		b.latencyResolved = true
	}
	if drainReady && !b.batteryResolved {
		b.resolved.BatteryDrainPer10Min = snapshotDrain * h.drainFactor
		b.batteryResolved = true
	}
	return b.resolved
}

// warmedUp reports whether the latency/thermal/memory thresholds have been
// resolved (static budgets are always warmed up).
func (b *Budget) warmedUp() bool {
	return b.latencyResolved
}
