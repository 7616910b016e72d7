package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartUsesExplicitProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	_, span := Start(context.Background(), provider, "lesscss.compile", attribute.Bool("compress", true))
	span.End(nil, "compiled")

	got := findSpan(t, recorder.Ended(), "lesscss.compile")
	if got.Status().Code != codes.Ok {
		t.Fatalf("status code = %v, want %v", got.Status().Code, codes.Ok)
	}
	if got.Status().Description != "" {
		t.Fatalf("ok status should carry no description, got %q", got.Status().Description)
	}
	if !getBoolAttr(got.Attributes(), "compress") {
		t.Fatal("compress attribute not recorded")
	}
	if getIntAttr(got.Attributes(), "duration_ms") < 0 {
		t.Fatal("duration_ms must be non-negative")
	}
}

func TestStartFallsBackToGlobalProvider(t *testing.T) {
	recorder := installSpanRecorder(t)

	_, span := Start(context.Background(), nil, "lesscss.init")
	span.End(nil, "")

	findSpan(t, recorder.Ended(), "lesscss.init")
}

func TestEndRecordsError(t *testing.T) {
	recorder := installSpanRecorder(t)

	_, span := Start(context.Background(), nil, "lesscss.compile")
	span.Event("less.error", "extract", strings.Repeat("x", 2*MaxEventBytes))
	span.End(errors.New("missing closing `}`"), "")

	got := findSpan(t, recorder.Ended(), "lesscss.compile")
	if got.Status().Code != codes.Error {
		t.Fatalf("status code = %v, want %v", got.Status().Code, codes.Error)
	}
	if got.Status().Description != "missing closing `}`" {
		t.Fatalf("status description = %q", got.Status().Description)
	}
	event := findEvent(t, got.Events(), "less.error")
	value := getStringAttr(event.Attributes, "extract")
	if len(value) > MaxEventBytes {
		t.Fatalf("event length = %d, want <= %d", len(value), MaxEventBytes)
	}
	if !strings.HasSuffix(value, "[truncated]") {
		t.Fatalf("event missing truncation marker: %q", value[len(value)-20:])
	}
}

func TestNilSpanIsSafe(t *testing.T) {
	var span *Span
	span.SetAttributes(attribute.String("k", "v"))
	span.Event("e", "k", "v")
	span.End(errors.New("ignored"), "")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		value string
		limit int
		want  string
	}{
		{name: "short", value: "abc", limit: 10, want: "abc"},
		{name: "no limit", value: "abcdef", limit: 0, want: "abcdef"},
		{name: "tiny limit", value: "abcdefghijklmnopqrstuvwxyz", limit: 4, want: "abcd"},
		{name: "marked", value: strings.Repeat("a", 30), limit: 20, want: "aaaaaa...[truncated]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.value, tt.limit); got != tt.want {
				t.Fatalf("Truncate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(previous)
	})

	return spanRecorder
}

func findSpan(t *testing.T, spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range spans {
		if span.Name() == name {
			return span
		}
	}
	t.Fatalf("%s span not found in %d spans", name, len(spans))
	return nil
}

func getStringAttr(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}

func getBoolAttr(attrs []attribute.KeyValue, key string) bool {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsBool()
		}
	}
	return false
}

func getIntAttr(attrs []attribute.KeyValue, key string) int {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return int(attr.Value.AsInt64())
		}
	}
	return 0
}

func findEvent(t *testing.T, events []sdktrace.Event, name string) sdktrace.Event {
	t.Helper()
	for _, event := range events {
		if event.Name == name {
			return event
		}
	}
	t.Fatalf("event %q not found in %d events", name, len(events))
	return sdktrace.Event{}
}
