package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/platoon-coordinator/internal/logging"
)

func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestTracingConfigEnabled(t *testing.T) {
	tests := []struct {
		exporter string
		want     bool
	}{
		{"", false},
		{"none", false},
		{"NONE", false},
		{"stdout", true},
		{"otlp", true},
	}
	for _, tt := range tests {
		if got := (TracingConfig{Exporter: tt.exporter}).Enabled(); got != tt.want {
			t.Fatalf("Enabled(%q) = %v, want %v", tt.exporter, got, tt.want)
		}
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("PLATOON_TRACING_EXPORTER", "OTLP")
	t.Setenv("PLATOON_TRACING_ENDPOINT", "collector:4317")
	t.Setenv("PLATOON_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("PLATOON_TRACING_INSECURE", "true")

	cfg := TracingConfigFromEnv()
	if cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" || cfg.SampleRatio != 0.25 || !cfg.Insecure {
		t.Fatalf("TracingConfigFromEnv = %+v", cfg)
	}
	if cfg.ServiceName != "platoon-simulator" {
		t.Fatalf("service name = %q, want default", cfg.ServiceName)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{Exporter: "stdout", Writer: &buf}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartChildSpan(ctx, "sim.Session.Step", "session", "run-1")
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "sim.Session.Step") {
		t.Fatalf("stdout exporter output missing span name:\n%s", buf.String())
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestStartChildSpanAttributes(t *testing.T) {
	rec := useRecorder(t)

	_, span := StartChildSpan(context.Background(), "platoon.Split", "platoon", "p.0", attribute.Int("index", 3))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["entity_type"].AsString() != "platoon" || attrs["entity_id"].AsString() != "p.0" || attrs["index"].AsInt64() != 3 {
		t.Fatalf("span attributes = %v", spans[0].Attributes())
	}
}

func TestTracingInterceptorCreatesServerSpan(t *testing.T) {
	rec := useRecorder(t)

	ctx := logging.ContextWithRunID(context.Background(), "run-7")
	interceptor := TracingUnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	_, err := interceptor(ctx, struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "RPC/Health/Check" {
		t.Fatalf("spans = %v, want one RPC/Health/Check", spans)
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "run_id" && kv.Value.AsString() == "run-7" {
			found = true
		}
	}
	if !found {
		t.Fatalf("run_id attribute missing: %v", spans[0].Attributes())
	}
}
