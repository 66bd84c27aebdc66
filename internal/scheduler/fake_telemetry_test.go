package scheduler

// fakeTelemetry is an in-memory TelemetrySource for tests. Platform
// adapters (thermal/battery/memory probes) live outside this module; see
// DESIGN.md's Open Question decision on TelemetrySource.
type fakeTelemetry struct {
	sample TelemetrySample
}

func (f *fakeTelemetry) Sample() TelemetrySample {
	return f.sample
}
