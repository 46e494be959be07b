package telemetry_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jensholdgaard/auction-house/internal/telemetry"
)

func TestNewNopProvider(t *testing.T) {
	p := telemetry.NewNopProvider()

	if p.TracerProvider == nil {
		t.Fatal("TracerProvider is nil")
	}
	if p.MeterProvider == nil {
		t.Fatal("MeterProvider is nil")
	}
	if p.LoggerProvider == nil {
		t.Fatal("LoggerProvider is nil")
	}
	if p.Logger == nil {
		t.Fatal("Logger is nil")
	}
}

func TestNopProvider_Shutdown(t *testing.T) {
	p := telemetry.NewNopProvider()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestProvider_ShutdownPartial(t *testing.T) {
	p := &telemetry.Provider{TracerProvider: sdktrace.NewTracerProvider()}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestLogWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	if got := telemetry.LogWithTrace(context.Background(), logger); got != logger {
		t.Error("logger without a span was replaced")
	}

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "purchase")
	defer span.End()

	telemetry.LogWithTrace(ctx, logger).Info("bought")
	want := span.SpanContext().TraceID().String()
	if !strings.Contains(buf.String(), `"trace_id":"`+want+`"`) {
		t.Errorf("log line %q lacks trace id %s", buf.String(), want)
	}
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := telemetry.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.Purchase(ctx, "ok", 150*time.Millisecond)
	m.Purchase(ctx, "already_sold", 20*time.Millisecond)
	m.Creation(ctx, telemetry.Outcome(nil))
	m.Settlement(ctx, "completed")
	m.Refresh(ctx, "market", "ok")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	got := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			got[md.Name] = true
		}
	}
	for _, name := range []string{
		"auction.purchases", "auction.creations", "auction.settlements",
		"auction.refresh", "auction.purchase.duration",
	} {
		if !got[name] {
			t.Errorf("metric %q not collected", name)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *telemetry.Metrics
	m.Purchase(context.Background(), "ok", time.Second)
	m.Refresh(context.Background(), "market", "ok")
}
