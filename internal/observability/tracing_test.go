package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/roadview/internal/logging"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("ROADVIEW_TRACING_ENABLED", "TRUE")
	t.Setenv("ROADVIEW_TRACING_EXPORTER", "OTLP")
	t.Setenv("ROADVIEW_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("ROADVIEW_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != ExporterOTLP || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ServiceName != "roadview-server" {
		t.Fatalf("ServiceName = %q, want default", cfg.ServiceName)
	}
}

func TestTracingConfigDefaults(t *testing.T) {
	cfg := tracingConfigFrom(func(string) (string, bool) { return "", false })
	if cfg.Enabled || cfg.Exporter != ExporterStdout || cfg.SampleRatio != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestTracingConfigRejectsBadRatio(t *testing.T) {
	for _, raw := range []string{"7", "-0.5", "half"} {
		cfg := tracingConfigFrom(func(key string) (string, bool) {
			if key == "ROADVIEW_TRACING_SAMPLE_RATIO" {
				return raw, true
			}
			return "", false
		})
		if cfg.SampleRatio != 1 {
			t.Fatalf("ratio %q: SampleRatio = %v, want default 1", raw, cfg.SampleRatio)
		}
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	ctx := logging.ContextWithRequestID(context.Background(), "req-1")
	ctx, span := StartSpan(ctx, "Highlight", PointID("PIC_1"))
	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Fatalf("span context not valid")
	}
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, logging.Noop())

	out := buf.String()
	for _, want := range []string{"Highlight", "PIC_1", "req-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported span missing %q:\n%s", want, out)
		}
	}

	// Restore the noop provider for other tests.
	if _, err := InitTracing(context.Background(), TracingConfig{}, nil); err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
}

func TestInitTracingUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}
