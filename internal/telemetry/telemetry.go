// Package telemetry wires OpenTelemetry tracing for the lessc command.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	// ServiceName is the canonical telemetry service name.
	ServiceName = "lessc"
	// DefaultEnvironment is used when no environment variable is configured.
	DefaultEnvironment = "dev"
	// ConsoleEndpoint prints finished spans to stderr instead of exporting them.
	ConsoleEndpoint = "console"
	// ShutdownTimeout bounds the final flush when the command exits.
	ShutdownTimeout = 5 * time.Second
)

var (
	// ServiceVersion is set at build time via ldflags when available.
	ServiceVersion = "dev"

	// TLS and header settings come from the standard OTEL_EXPORTER_OTLP_*
	// variables, which otlptracehttp reads itself.
	exporterFactory = func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	}

	consoleOutput io.Writer = os.Stderr

	endpointOverrideMu sync.RWMutex
	endpointOverride   string
)

// Init installs a global tracer provider. With no endpoint tracing stays
// disabled and the returned shutdown is a no-op. The console endpoint, or an
// OTLP exporter that cannot be built, prints spans synchronously to stderr;
// otherwise spans are batched to the collector.
func Init(ctx context.Context) (func(), error) {
	endpoint := resolveEndpoint()
	if endpoint == "" {
		return func() {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", resolveServiceVersion()),
			attribute.String("environment", resolveEnvironment()),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	var processor sdktrace.TracerProviderOption
	if strings.EqualFold(endpoint, ConsoleEndpoint) {
		processor = sdktrace.WithSyncer(&consoleExporter{out: consoleOutput})
	} else if exporter, err := exporterFactory(ctx, endpoint); err != nil {
		fmt.Fprintf(consoleOutput, "warning: trace export to %s disabled (%v); printing spans instead\n", endpoint, err)
		processor = sdktrace.WithSyncer(&consoleExporter{out: consoleOutput})
	} else {
		processor = sdktrace.WithBatcher(exporter)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithResource(res), processor)
	otel.SetTracerProvider(provider)

	var once sync.Once
	return func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				otel.Handle(err)
			}
		})
	}, nil
}

// SetEndpointOverride makes endpoint win over OTEL_EXPORTER_OTLP_ENDPOINT.
// The CLI passes the --otel-endpoint flag or the config value here.
func SetEndpointOverride(endpoint string) {
	endpointOverrideMu.Lock()
	defer endpointOverrideMu.Unlock()
	endpointOverride = strings.TrimSpace(endpoint)
}

func resolveEndpoint() string {
	endpointOverrideMu.RLock()
	override := endpointOverride
	endpointOverrideMu.RUnlock()
	if override != "" {
		return override
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func resolveEnvironment() string {
	for _, key := range []string{"LESSC_ENV", "ENVIRONMENT", "ENV"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return strings.ToLower(value)
		}
	}
	return DefaultEnvironment
}

func resolveServiceVersion() string {
	if version := strings.TrimSpace(ServiceVersion); version != "" {
		return version
	}
	return "dev"
}

// consoleExporter prints one line per span: name, duration, status and the
// span's own attributes, then one indented line per event.
type consoleExporter struct {
	mu  sync.Mutex
	out io.Writer
}

func (e *consoleExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, span := range spans {
		var b strings.Builder
		duration := span.EndTime().Sub(span.StartTime()).Round(time.Millisecond)
		fmt.Fprintf(&b, "span %s %s %s", span.Name(), duration, strings.ToLower(span.Status().Code.String()))
		for _, attr := range span.Attributes() {
			fmt.Fprintf(&b, " %s=%s", attr.Key, attr.Value.Emit())
		}
		b.WriteByte('\n')
		for _, event := range span.Events() {
			fmt.Fprintf(&b, "  event %s\n", event.Name)
		}
		if _, err := io.WriteString(e.out, b.String()); err != nil {
			return err
		}
	}
	return nil
}

func (e *consoleExporter) Shutdown(context.Context) error {
	return nil
}

func setExporterFactoryForTest(factory func(context.Context, string) (sdktrace.SpanExporter, error)) func() {
	previous := exporterFactory
	exporterFactory = factory
	return func() {
		exporterFactory = previous
	}
}

func setConsoleOutputForTest(w io.Writer) func() {
	previous := consoleOutput
	consoleOutput = w
	return func() {
		consoleOutput = previous
	}
}

func setEndpointOverrideForTest(value string) func() {
	endpointOverrideMu.RLock()
	previous := endpointOverride
	endpointOverrideMu.RUnlock()
	SetEndpointOverride(value)
	return func() {
		SetEndpointOverride(previous)
	}
}
