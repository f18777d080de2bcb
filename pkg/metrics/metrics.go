// Package metrics defines the narrow metrics surface the core exposes to
// whatever collector the SQL/server layer wires in; per spec.md's Non-goals
// a full metrics pipeline belongs outside the core, so Collector is the only
// seam (see pkg/btree.Map.Stats and pkg/rpc's /metrics handler).
package metrics

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// NoopCollector discards everything; it is the default when no collector is
// configured, mirroring the teacher's pattern of always having a usable
// zero-value dependency instead of nil-checking at every call site.
type NoopCollector struct{}

func (NoopCollector) IncCounter(string, map[string]string, float64)      {}
func (NoopCollector) SetGauge(string, map[string]string, float64)       {}
func (NoopCollector) ObserveHistogram(string, map[string]string, float64) {}
