package observability

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"tracecore/internal/core"
)

const instrumentationName = "tracecore/internal/core"

// Tracing exporters. ExporterJSONLines selects core.JSONTraceTracer, which
// needs no OpenTelemetry provider.
const (
	ExporterNone      = "none"
	ExporterStdout    = "stdout"
	ExporterJSONLines = "jsonl"
)

// OTelTracer adapts an OpenTelemetry tracer to core.Tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

var _ core.Tracer = (*OTelTracer)(nil)

// NewOTelTracer wraps a tracer obtained from provider.
func NewOTelTracer(provider trace.TracerProvider) *OTelTracer {
	return &OTelTracer{tracer: provider.Tracer(instrumentationName)}
}

// Start implements core.Tracer.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, core.TraceSpan) {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithAttributes(attribute.String("tracecore.operation", operation)))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// NewTracerProvider builds an SDK provider for the named exporter. The
// returned shutdown flushes pending spans.
func NewTracerProvider(ctx context.Context, exporter, serviceName string, w io.Writer) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "tracecore"
	}
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("otel resource: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch strings.ToLower(strings.TrimSpace(exporter)) {
	case "", ExporterNone, ExporterJSONLines:
	case ExporterStdout:
		stdoutOpts := []stdouttrace.Option{}
		if w != nil {
			stdoutOpts = append(stdoutOpts, stdouttrace.WithWriter(w))
		}
		exp, err := stdouttrace.New(stdoutOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithSyncer(exp))
	default:
		return nil, nil, fmt.Errorf("unknown tracing exporter %q", exporter)
	}
	tp := sdktrace.NewTracerProvider(opts...)
	return tp, tp.Shutdown, nil
}
