// Package tracing sets up the OpenTelemetry pipeline of the gateway and
// provides the span helpers used around backend fetches and renders.
package tracing

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/bombsimon/logrusr/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var log = logrus.WithField("package", "tracing")

const (
	// TracerName is the instrumentation name of the gateway spans.
	TracerName = "github.com/FMHsieh/esigate"

	// DebugExporter is an OTEL_TRACES_EXPORTER value writing the spans
	// into the debug log.
	DebugExporter = "esigate-debug"
)

// Options configure the OpenTelemetry pipeline.
type Options struct {
	// Initialized indicates that the pipeline was set up externally, Init
	// does nothing then.
	Initialized bool

	// ServiceName is reported as the service.name resource attribute.
	ServiceName string
}

var registerDebugExporter sync.Once

// debugExporter writes the spans as JSON into the debug log.
func debugExporter(context.Context) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(stdouttrace.WithWriter(writerFunc(func(b []byte) (int, error) {
		log.Debugf("span: %s", b)
		return len(b), nil
	})))
}

func serviceResource(name string) (*resource.Resource, error) {
	env := resource.Environment()
	if name == "" {
		return env, nil
	}

	return resource.Merge(env, resource.NewSchemaless(attribute.String("service.name", name)))
}

// Init sets up the OpenTelemetry pipeline, configured by the standard
// environment variables:
//
//   - OTEL_TRACES_EXPORTER (otlp, console, esigate-debug; no export when unset)
//   - OTEL_EXPORTER_OTLP_PROTOCOL
//   - OTEL_EXPORTER_OTLP_ENDPOINT
//   - OTEL_EXPORTER_OTLP_HEADERS
//   - OTEL_RESOURCE_ATTRIBUTES
//   - OTEL_PROPAGATORS
//
// The returned function flushes and stops the exporter.
func Init(ctx context.Context, o *Options) (func(context.Context) error, error) {
	if o.Initialized {
		log.Debug("tracing initialized externally")
		return func(context.Context) error { return nil }, nil
	}

	for _, name := range []string{"OTEL_TRACES_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_PROPAGATORS"} {
		log.Debugf("%s=%s", name, os.Getenv(name))
	}

	registerDebugExporter.Do(func() {
		autoexport.RegisterSpanExporter(DebugExporter, debugExporter)
	})

	exp, err := autoexport.NewSpanExporter(ctx, autoexport.WithFallbackSpanExporter(noneExporter))
	if err != nil {
		return nil, err
	}

	res, err := serviceResource(o.ServiceName)
	if err != nil {
		return nil, errors.Join(err, exp.Shutdown(ctx))
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator())
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) { log.Error(err) }))
	otel.SetLogger(logrusr.New(log))
	return tp.Shutdown, nil
}

// noneExporter is used when OTEL_TRACES_EXPORTER is not set.
func noneExporter(context.Context) (sdktrace.SpanExporter, error) {
	return tracetest.NewNoopExporter(), nil
}

// Tracer returns the gateway tracer of the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Start starts a span as a child of the span in ctx.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on the span, when not nil, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

type writerFunc func([]byte) (int, error)

func (wf writerFunc) Write(p []byte) (n int, err error) {
	return wf(p)
}
