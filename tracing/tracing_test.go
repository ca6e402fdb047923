package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", DebugExporter)

	shutdown, err := Init(context.Background(), &Options{ServiceName: "esigate-test"})
	if err != nil {
		t.Fatalf("Failed to init OTel: %v", err)
	}

	_, span := Start(context.Background(), "test")
	End(span, nil)

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("Failed to shutdown OTel: %v", err)
	}
}

func TestInitExternal(t *testing.T) {
	shutdown, err := Init(context.Background(), &Options{Initialized: true})
	if err != nil {
		t.Fatal(err)
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestEndRecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := Start(context.Background(), "fetch")
	End(span, errors.New("connection refused"))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}

	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status())
	}

	if spans[0].Name() != "fetch" {
		t.Errorf("unexpected span name: %s", spans[0].Name())
	}
}
