package ports

import "time"

// MetricsCollector records executor/planner counters, mirroring the
// teacher's observability port. Optional: components accept a nil-safe
// no-op implementation when metrics aren't wired.
type MetricsCollector interface {
	IncrCounter(name string, tags map[string]string)
	ObserveDuration(name string, d time.Duration, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
}

// NoopMetrics is a MetricsCollector that discards everything, used as the
// default when no metrics backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) IncrCounter(string, map[string]string)                {}
func (NoopMetrics) ObserveDuration(string, time.Duration, map[string]string) {}
func (NoopMetrics) SetGauge(string, float64, map[string]string)          {}
