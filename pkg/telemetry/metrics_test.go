package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/polisai/authchain/pkg/domain"
)

func TestRecordChainMetrics(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()

	RecordChainMetrics(ctx, ChainMetrics{
		Side:          "client",
		Operation:     "secure_request",
		AuthContextID: "true",
		Status:        string(domain.SendFailure),
		Failed:        true,
		Err:           errors.New("module exploded"),
		Duration:      150 * time.Millisecond,
		Skipped:       1,
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	execs, ok := metrics["authchain.chain.executions_total"]
	if !ok {
		t.Fatalf("missing executions metric")
	}
	execData, ok := execs.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for executions metric")
	}
	if len(execData.DataPoints) != 1 || execData.DataPoints[0].Value != 1 {
		t.Fatalf("expected a single execution, got %+v", execData.DataPoints)
	}
	if value, ok := execData.DataPoints[0].Attributes.Value(attribute.Key("authchain.operation")); !ok || value.AsString() != "secure_request" {
		t.Fatalf("expected operation attribute secure_request, got %v", value)
	}

	for _, name := range []string{"authchain.chain.failures_total", "authchain.chain.errors_total", "authchain.module.skipped_total"} {
		m, ok := metrics[name]
		if !ok {
			t.Fatalf("missing %s metric", name)
		}
		if got := m.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
			t.Fatalf("expected %s to be 1, got %d", name, got)
		}
	}

	hist, ok := metrics["authchain.chain.duration_ms"]
	if !ok {
		t.Fatalf("missing duration metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}
}

func TestChainSpanRecordsOutcome(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartChainSpan(context.Background(), "server", "validate_request", "ctx")
	RecordModuleOutcome(span, 0, "jwt", domain.Success)
	RecordModuleOutcome(span, 1, "apikey", domain.SendFailure)
	EndChainSpan(span, domain.SendFailure, true, nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "authchain.server.validate_request" {
		t.Fatalf("unexpected span name %q", s.Name())
	}
	if len(s.Events()) != 2 {
		t.Fatalf("expected 2 module events, got %d", len(s.Events()))
	}
	attrs := attribute.NewSet(s.Attributes()...)
	if value, ok := attrs.Value("authchain.status"); !ok || value.AsString() != string(domain.SendFailure) {
		t.Fatalf("expected status attribute send_failure, got %v", value)
	}
	if s.Status().Description == "" {
		t.Fatalf("expected error status on failed chain")
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}
