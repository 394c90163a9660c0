// Package prometheus serves engine counters and latency histograms in the
// Prometheus text exposition format. Counters are named authhero_*_total
// and histograms authhero_*_seconds. Nothing is registered globally; mount
// [Exporter.Handler] where it is needed.
package prometheus
