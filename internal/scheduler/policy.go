package scheduler

import (
	"time"

	"github.com/edge-veda/runtime/pkg/runtime"
)

// defaultRestorationCooldown and defaultMinAvailableMiB mirror spec.md
// §4.3's stated defaults for the direct-evaluate path.
const (
	defaultRestorationCooldown = 30 * time.Second
	defaultMinAvailableMiB     = 200
)

const mib = 1024 * 1024

// RuntimePolicy is the direct-evaluate alternative to the full Scheduler:
// a single Evaluate call per reading, with immediate escalation and
// cooldown-gated one-level-per-period restoration. Used when no Scheduler
// coordinator is running.
//
// Grounded on internal/resilience/circuitbreaker.go's three-state
// hysteresis from the teacher: escalation (like tripping to Open) is
// immediate, while recovery is cooldown-gated and incremental, generalized
// from a binary open/closed breaker to RuntimePolicy's four QoS levels.
type RuntimePolicy struct {
	RestorationCooldown time.Duration
	MinAvailableMiB     int64

	level          runtime.QoSLevel
	lastEscalation time.Time
}

// NewRuntimePolicy returns a policy at full QoS with spec.md §4.3 defaults.
func NewRuntimePolicy() *RuntimePolicy {
	return &RuntimePolicy{
		RestorationCooldown: defaultRestorationCooldown,
		MinAvailableMiB:     defaultMinAvailableMiB,
		level:                runtime.QoSFull,
	}
}

// Level returns the currently held QoS level.
func (p *RuntimePolicy) Level() runtime.QoSLevel {
	return p.level
}

// Evaluate applies one telemetry reading at time now and returns the
// resulting QoS level, per spec.md §4.3's exact priority bands.
func (p *RuntimePolicy) Evaluate(now time.Time, thermal int, batteryPercent float64, availableBytes int64, lowPower bool) runtime.QoSLevel {
	availableMiB := availableBytes / mib

	demanded, pressured := p.demand(thermal, batteryPercent, availableMiB, lowPower)

	if pressured {
		if demanded == p.level {
			// Sustain the cooldown while pressure persists at the same level.
			p.lastEscalation = now
		} else {
			p.level = demanded
			p.lastEscalation = now
		}
		return p.level
	}

	return p.attemptRestore(now)
}

// demand computes the priority-band-demanded level and whether any
// pressure band matched at all.
func (p *RuntimePolicy) demand(thermal int, batteryPercent float64, availableMiB int64, lowPower bool) (runtime.QoSLevel, bool) {
	if thermal >= 3 || availableMiB < 50 {
		return runtime.QoSPaused, true
	}
	if thermal >= 2 || availableMiB < 100 || batteryPercent < 5 {
		return runtime.QoSMinimal, true
	}
	if thermal >= 1 || availableMiB < p.MinAvailableMiB || batteryPercent < 15 || lowPower {
		return runtime.QoSReduced, true
	}
	return runtime.QoSFull, false
}

// attemptRestore improves the level by one step if the cooldown has
// elapsed since the last escalation. Full restoration from paused
// therefore takes three cooldown intervals, one step at a time.
func (p *RuntimePolicy) attemptRestore(now time.Time) runtime.QoSLevel {
	if p.level == runtime.QoSFull {
		return p.level
	}
	if now.Sub(p.lastEscalation) < p.RestorationCooldown {
		return p.level
	}
	p.level = restore(p.level)
	p.lastEscalation = now
	return p.level
}
