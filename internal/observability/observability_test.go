package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPrometheusRecorder(t *testing.T) {
	r := NewPrometheusRecorder()
	ctx := context.Background()
	r.Observe(ctx, "forward_trace", true, 12*time.Millisecond)
	r.Observe(ctx, "forward_trace", false, 3*time.Millisecond)
	r.Observe(ctx, "forward_trace", true, time.Millisecond)
	r.Observe(ctx, "", true, time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(r.total.WithLabelValues("forward_trace", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.total.WithLabelValues("forward_trace", "error")))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `tracecore_engine_operations_total{operation="forward_trace",result="success"} 2`)
	require.Contains(t, body, "tracecore_engine_operation_duration_seconds_bucket")
	require.NotContains(t, body, `operation=""`)
}

func TestOTelTracerRecordsStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewOTelTracer(tp)

	_, ok := tracer.Start(context.Background(), "compute_stock")
	ok.End(nil)
	_, failed := tracer.Start(context.Background(), "backward_trace")
	failed.End(errors.New("lot LOT-X not found"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "compute_stock", spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1)
}

func TestNewTracerProviderExporters(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tp, shutdown, err := NewTracerProvider(ctx, "stdout", "", &buf)
	require.NoError(t, err)
	_, span := NewOTelTracer(tp).Start(ctx, "reconcile_stock")
	span.End(nil)
	require.NoError(t, shutdown(ctx))
	require.True(t, strings.Contains(buf.String(), "reconcile_stock"))

	_, shutdown, err = NewTracerProvider(ctx, "none", "svc", nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))

	_, _, err = NewTracerProvider(ctx, "jaeger", "svc", nil)
	require.Error(t, err)
}
