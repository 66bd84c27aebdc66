package scheduler

import "testing"

func TestStaticBudgetIsWarmedUpImmediately(t *testing.T) {
	b := NewStaticBudget(Thresholds{P95Ms: 500, ThermalIndex: 2, MemoryCeilingMB: 300})
	if !b.warmedUp() {
		t.Fatal("static budget should be warmed up immediately")
	}
}

func TestAdaptiveBudgetTwoPhaseResolution(t *testing.T) {
	b := NewAdaptiveBudget(ProfileBalanced)
	if b.warmedUp() {
		t.Fatal("adaptive budget should not be warmed up before first resolve")
	}

	// First resolve: latency/thermal/memory warm up, battery not yet ready.
	th := b.resolve(true, 200, 1, 500, false, 0)
	if !b.warmedUp() {
		t.Fatal("expected latency/thermal/memory resolved")
	}
	if th.P95Ms != 200*profiles[ProfileBalanced].p95Factor {
		t.Errorf("P95Ms = %v, want %v", th.P95Ms, 200*profiles[ProfileBalanced].p95Factor)
	}
	if b.batteryResolved {
		t.Fatal("battery should not resolve yet")
	}

	// A tick later: drain data is ready, battery resolves independently.
	th = b.resolve(true, 200, 1, 500, true, 5)
	if !b.batteryResolved {
		t.Fatal("expected battery resolved on second tick")
	}
	if th.BatteryDrainPer10Min != 5*profiles[ProfileBalanced].drainFactor {
		t.Errorf("BatteryDrainPer10Min = %v, want %v", th.BatteryDrainPer10Min, 5*profiles[ProfileBalanced].drainFactor)
	}
}

func TestAdaptiveBudgetNotWarmedUpBeforeEnoughSamples(t *testing.T) {
	b := NewAdaptiveBudget(ProfileConservative)
	b.resolve(false, 0, 0, 0, false, 0)
	if b.warmedUp() {
		t.Fatal("should stay unresolved until warmedUp=true is passed")
	}
}
