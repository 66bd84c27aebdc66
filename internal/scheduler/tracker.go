package scheduler

import "time"

// windowSize and warmupSamples mirror the teacher's mcphost rolling-latency
// window defaults (100-sample ring buffer, warm-up at 20 samples).
const (
	windowSize     = 100
	warmupSamples  = 20
)

// latencyWindow is a fixed-size ring buffer of recent latency samples for
// one workload, generalized from the teacher's mcphost rollingWindow.
type latencyWindow struct {
	samples []float64
	next    int
	count   int
}

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{samples: make([]float64, windowSize)}
}

func (w *latencyWindow) add(ms float64) {
	w.samples[w.next] = ms
	w.next = (w.next + 1) % windowSize
	if w.count < windowSize {
		w.count++
	}
}

// warmedUp reports whether this window alone has enough samples to trust
// its percentile estimate.
func (w *latencyWindow) warmedUp() bool {
	return w.count >= warmupSamples
}

// p50 returns the 50th-percentile (median) latency via nearest-rank
// selection over a sorted copy of the currently held samples.
func (w *latencyWindow) p50() float64 {
	return w.percentile(0.50)
}

// p95 returns the 95th-percentile latency via nearest-rank selection over a
// sorted copy of the currently held samples. Returns 0 if empty.
func (w *latencyWindow) p95() float64 {
	return w.percentile(0.95)
}

// p99 returns the 99th-percentile latency via nearest-rank selection over a
// sorted copy of the currently held samples.
func (w *latencyWindow) p99() float64 {
	return w.percentile(0.99)
}

// percentile returns 0 if empty, so p50 <= p95 <= p99 holds trivially for
// an empty window too (spec.md §8's latency-tracker invariant).
func (w *latencyWindow) percentile(q float64) float64 {
	if w.count == 0 {
		return 0
	}
	sorted := make([]float64, w.count)
	copy(sorted, w.samples[:w.count])
	insertionSort(sorted)
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func insertionSort(s []float64) {
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}

// batterySample is one reading fed to the drain tracker.
type batterySample struct {
	at      time.Time
	percent float64
}

// batteryDrainTracker estimates battery drain rate (%/10min) from a
// 10-minute rolling window of samples, requiring at least 2 samples
// spanning at least 120 seconds — matches spec.md §4.3 step 2 exactly.
type batteryDrainTracker struct {
	window  time.Duration
	samples []batterySample
}

func newBatteryDrainTracker() *batteryDrainTracker {
	return &batteryDrainTracker{window: 10 * time.Minute}
}

// add records a sample at "now" and evicts anything older than the window.
func (t *batteryDrainTracker) add(now time.Time, percent float64) {
	t.samples = append(t.samples, batterySample{at: now, percent: percent})
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	t.samples = t.samples[i:]
}

// drainRatePer10Min returns the estimated drain rate and whether enough
// data has accumulated to trust it.
func (t *batteryDrainTracker) drainRatePer10Min() (rate float64, ready bool) {
	if len(t.samples) < 2 {
		return 0, false
	}
	oldest := t.samples[0]
	newest := t.samples[len(t.samples)-1]
	elapsed := newest.at.Sub(oldest.at)
	if elapsed < 120*time.Second {
		return 0, false
	}
	drop := oldest.percent - newest.percent
	scale := t.window.Seconds() / elapsed.Seconds()
	return drop * scale, true
}
