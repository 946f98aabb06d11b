// Package telemetry provides the logging, tracing, and metrics facade shared
// by every MAIL package. It wraps goa.design/clue/log for structured logging
// and the OpenTelemetry trace/metric APIs for spans and counters, so that
// the scheduler, registry, and router never construct their own loggers or
// tracers: they accept a context.Context already seeded by a caller (see
// log.Context) and call the package-level helpers below.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// tracerName identifies the OpenTelemetry tracer/meter used across the
// runtime, registry, and router.
const tracerName = "github.com/charonlabs/mail"

// KV is a single structured logging field, re-exported from clue so callers
// never need to import goa.design/clue/log directly.
type KV = log.KV

// Debug emits a debug-level log message with structured fields.
func Debug(ctx context.Context, msg string, kvs ...KV) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, fielders(kvs)...)...)
}

// Info emits an info-level log message with structured fields.
func Info(ctx context.Context, msg string, kvs ...KV) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, fielders(kvs)...)...)
}

// Warn emits a warning-level log message with structured fields.
func Warn(ctx context.Context, msg string, kvs ...KV) {
	fs := append([]log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}, fielders(kvs)...)
	log.Warn(ctx, fs...)
}

// Error emits an error-level log message with structured fields.
func Error(ctx context.Context, err error, msg string, kvs ...KV) {
	fs := append([]log.Fielder{log.KV{K: "msg", V: msg}}, fielders(kvs)...)
	log.Error(ctx, err, fs...)
}

func fielders(kvs []KV) []log.Fielder {
	fs := make([]log.Fielder, len(kvs))
	for i, kv := range kvs {
		fs[i] = kv
	}
	return fs
}

// Tracer starts spans for dispatch turns, action executions, and router
// calls.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer constructs a Tracer over the global OpenTelemetry TracerProvider.
// Configure that provider before invoking runtime methods if traces should
// be exported; otherwise spans are recorded by the no-op provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// Start begins a span named name and returns the derived context and span
// handle. Callers must call Span.End.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	if t == nil {
		return ctx, noopSpan{}
	}
	newCtx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return newCtx, realSpan{span: span}
}

// Span is a single traced operation.
type Span interface {
	// End finalizes the span.
	End()
	// RecordError records err on the span and marks it as failed.
	RecordError(err error)
}

type realSpan struct{ span trace.Span }

func (s realSpan) End() { s.span.End() }

func (s realSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

type noopSpan struct{}

func (noopSpan) End()            {}
func (noopSpan) RecordError(err error) {}

// Metrics records counters and histograms for scheduler and router
// observability.
type Metrics struct {
	meter metric.Meter
}

// NewMetrics constructs a Metrics recorder over the global MeterProvider.
func NewMetrics() *Metrics {
	return &Metrics{meter: otel.Meter(tracerName)}
}

// IncCounter increments the named counter by one, tagged with attrs.
func (m *Metrics) IncCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	counter, err := m.meter.Int64Counter(name)
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDuration records a duration histogram in seconds, tagged with attrs.
func (m *Metrics) RecordDuration(ctx context.Context, name string, d time.Duration, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}
