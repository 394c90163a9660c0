// Package otel exposes engine metrics as OpenTelemetry observable
// instruments. Counters share the authhero.events instrument, keyed by the
// "event" attribute. Latency histograms are reported as cumulative bucket
// gauges keyed by "operation" and "le". Callers own the MeterProvider and
// pass in a Meter.
package otel
