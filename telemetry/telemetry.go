// Package telemetry defines the ambient Logger/Metrics/Tracer seams used
// throughout the module, plus no-op implementations and OpenTelemetry-backed
// ones.
//
// Grounded on goadesign-goa-ai/runtime/agent/telemetry/{noop,clue}.go's
// interface shape and noop pattern; this module backs the non-noop
// implementation directly with go.opentelemetry.io/otel rather than the
// teacher's goa.design/clue wrapper, since clue's value is bridging OTEL
// into Goa's HTTP/gRPC transport instrumentation, which this module has no
// transport layer to need.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured-logging seam (spec §6.5: debug lines tagged by
// subsystem).
type Logger interface {
	Debug(ctx context.Context, subsystem, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Metrics is the counters/histograms seam.
type Metrics interface {
	IncCounter(ctx context.Context, name string, attrs ...attribute.KeyValue)
	RecordDuration(ctx context.Context, name string, ms float64, attrs ...attribute.KeyValue)
}

// Span is a single active trace span.
type Span interface {
	End()
	SetError(err error)
}

// Tracer starts spans.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// Noop implements Logger, Metrics, and Tracer by discarding everything —
// the default when a caller doesn't supply its own (mirrors the teacher's
// NewNoopLogger/NewNoopMetrics/NewNoopTracer substitution in
// runtime/agent/telemetry/noop.go).
type Noop struct{}

func (Noop) Debug(context.Context, string, string, ...any) {}
func (Noop) Info(context.Context, string, ...any)          {}
func (Noop) Error(context.Context, string, ...any)         {}

func (Noop) IncCounter(context.Context, string, ...attribute.KeyValue)            {}
func (Noop) RecordDuration(context.Context, string, float64, ...attribute.KeyValue) {}

func (Noop) Start(ctx context.Context, _ string) (context.Context, Span) { return ctx, noopSpan{} }

type noopSpan struct{}

func (noopSpan) End()           {}
func (noopSpan) SetError(error) {}

// OTelTracer starts real spans via go.opentelemetry.io/otel/trace.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer builds a Tracer backed by the global OTEL tracer provider
// under instrumentationName.
func NewOTelTracer(instrumentationName string) *OTelTracer {
	return &OTelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *OTelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct{ span trace.Span }

func (s *otelSpan) End() { s.span.End() }
func (s *otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// OTelMetrics records counters/histograms via go.opentelemetry.io/otel/metric.
type OTelMetrics struct {
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTelMetrics builds a Metrics backed by the global OTEL meter provider
// under instrumentationName.
func NewOTelMetrics(instrumentationName string) *OTelMetrics {
	return &OTelMetrics{
		meter:      otel.Meter(instrumentationName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *OTelMetrics) IncCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Int64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *OTelMetrics) RecordDuration(ctx context.Context, name string, ms float64, attrs ...attribute.KeyValue) {
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.histograms[name] = h
	}
	h.Record(ctx, ms, metric.WithAttributes(attrs...))
}
