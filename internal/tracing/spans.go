// Package tracing wraps OpenTelemetry spans with the status and duration
// conventions shared by the compiler and the CLI.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by this module.
const TracerName = "lesscss"

// MaxEventBytes bounds string attributes attached to span events.
const MaxEventBytes = 1024

// Span is a started span that records its own duration on End.
type Span struct {
	span    trace.Span
	started time.Time
}

// Start opens a span on provider, or on the global provider when nil.
func Start(
	ctx context.Context,
	provider trace.TracerProvider,
	name string,
	attrs ...attribute.KeyValue,
) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	spanCtx, span := provider.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return spanCtx, &Span{span: span, started: time.Now()}
}

// SetAttributes adds attributes to the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// SpanContext returns the identifiers of the span.
func (s *Span) SpanContext() trace.SpanContext {
	if s == nil {
		return trace.SpanContext{}
	}
	return s.span.SpanContext()
}

// Event records a named event with a bounded text payload.
func (s *Span) Event(name, key, value string) {
	if s == nil || value == "" {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(attribute.String(key, Truncate(value, MaxEventBytes))))
}

// End sets duration_ms and the final status, then ends the span.
func (s *Span) End(err error, okMessage string) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.Int64("duration_ms", time.Since(s.started).Milliseconds()))
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, okMessage)
	}
	s.span.End()
}

// Truncate shortens value to limit bytes, marking the cut.
func Truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	const marker = "...[truncated]"
	if limit <= len(marker) {
		return value[:limit]
	}
	return value[:limit-len(marker)] + marker
}
