// Package metrics holds the engine's lock-free counters and latency
// histograms.
//
// Counters live in cache-line-padded uint64 slots bumped with
// [sync/atomic.AddUint64]. Histograms use 8 fixed buckets (≤5ms … +Inf).
// The write path does not allocate. Export to Prometheus text or
// OpenTelemetry lives in metrics/export and reads [Metrics.Snapshot].
package metrics
