package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authhero"
	"github.com/MrEthical07/authhero/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names. Engine counters share one instrument and are told apart
// by the "event" attribute.
const (
	EventsName       = "authhero.events"
	LatencyName      = "authhero.latency.bucket"
	LatencyCountName = "authhero.latency.count"
	AuditDroppedName = "authhero.audit.dropped"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authhero.MetricsSnapshot
	AuditDropped() uint64
}

type counterSeries struct {
	id    authhero.MetricID
	attrs metric.ObserveOption
}

type latencySeries struct {
	id      authhero.MetricID
	buckets [8]metric.ObserveOption
	total   metric.ObserveOption
}

// Exporter publishes engine metrics as observable OpenTelemetry
// instruments. A single callback reads one snapshot per collection.
type Exporter struct {
	source       metricsSource
	registration metric.Registration

	events       metric.Int64ObservableCounter
	latency      metric.Int64ObservableGauge
	latencyCount metric.Int64ObservableCounter
	auditDropped metric.Int64ObservableCounter

	counters  []counterSeries
	latencies []latencySeries
}

// NewExporter registers instruments on meter that read from engine.
func NewExporter(meter metric.Meter, engine *authhero.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	var err error
	if e.events, err = meter.Int64ObservableCounter(EventsName,
		metric.WithDescription("Engine outcomes by event."),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", EventsName, err)
	}
	if e.latency, err = meter.Int64ObservableGauge(LatencyName,
		metric.WithDescription("Cumulative latency bucket counts by operation and upper bound in seconds."),
		metric.WithUnit("{call}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", LatencyName, err)
	}
	if e.latencyCount, err = meter.Int64ObservableCounter(LatencyCountName,
		metric.WithDescription("Timed calls by operation."),
		metric.WithUnit("{call}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", LatencyCountName, err)
	}
	if e.auditDropped, err = meter.Int64ObservableCounter(AuditDroppedName,
		metric.WithDescription("Audit events dropped because the dispatcher buffer was full."),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", AuditDroppedName, err)
	}

	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterSeries{
			id:    def.ID,
			attrs: metric.WithAttributes(attribute.String("event", authhero.MetricNames[def.ID])),
		})
	}
	for _, def := range internaldefs.HistogramDefs {
		op := attribute.String("operation", strings.TrimSuffix(authhero.MetricNames[def.ID], "_latency"))
		s := latencySeries{id: def.ID, total: metric.WithAttributes(op)}
		for i, le := range internaldefs.HistogramBounds {
			s.buckets[i] = metric.WithAttributes(op, attribute.String("le", le))
		}
		e.latencies = append(e.latencies, s)
	}

	e.registration, err = meter.RegisterCallback(e.observe, e.events, e.latency, e.latencyCount, e.auditDropped)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(e.events, int64(snapshot.Counters[c.id]), c.attrs)
	}
	for _, l := range e.latencies {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[l.id]))
		for i, n := range cumulative {
			o.ObserveInt64(e.latency, int64(n), l.buckets[i])
		}
		o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]), l.total)
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
