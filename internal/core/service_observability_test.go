package core

import (
	"bytes"
	"context"
	"expvar"
	"strings"
	"testing"
	"time"
)

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservabilityHooks(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	log := &captureLogger{}
	svc := simpleChain(t).service(WithMetricsRecorder(metrics), WithTracer(tracer), WithLogger(log))
	ctx := context.Background()

	if _, err := svc.ComputeStock(ctx, "LOT-A"); err != nil {
		t.Fatalf("compute stock: %v", err)
	}
	if _, err := svc.ForwardTrace(ctx, "LOT-A"); err != nil {
		t.Fatalf("forward trace: %v", err)
	}
	if _, err := svc.BackwardTrace(ctx, "missing"); err == nil {
		t.Fatalf("expected missing seed to fail")
	}

	for _, want := range []metricsCall{{"compute_stock", true}, {"forward_trace", true}, {"backward_trace", false}} {
		if !metrics.has(want.op, want.success) {
			t.Fatalf("missing metrics call %+v in %+v", want, metrics.calls)
		}
	}
	if len(tracer.ended) != 3 || tracer.ended[2].err == nil {
		t.Fatalf("unexpected spans %+v", tracer.ended)
	}
	if len(log.calls) == 0 {
		t.Fatalf("expected logger calls")
	}
}

func TestServiceOptionsDefaults(t *testing.T) {
	fixed := time.Unix(123, 0).UTC()
	svc := NewService(nil,
		WithClock(ClockFunc(func() time.Time { return fixed })),
		WithLogger(nil),
		WithMaxDepth(900),
		WithMaxDepthLimit(100),
		WithInferenceWindow(-time.Hour),
	)
	if svc.clock.Now() != fixed {
		t.Fatalf("expected clock override")
	}
	if _, ok := svc.logger.(noopLogger); !ok {
		t.Fatalf("nil logger must keep the noop default")
	}
	if svc.MaxDepth() != 100 || svc.MaxDepthLimit() != 100 {
		t.Fatalf("expected default depth to be capped at the limit, got %d/%d", svc.MaxDepth(), svc.MaxDepthLimit())
	}
	if svc.inferenceWindow != DefaultInferenceWindow {
		t.Fatalf("expected non-positive window to be ignored")
	}
}

func TestNoopObservability(_ *testing.T) {
	logger := noopLogger{}
	logger.Debug("debug", "key", "value")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
	noopMetrics{}.Observe(context.Background(), "op", true, time.Millisecond)
	_, span := noopTracer{}.Start(context.Background(), "op")
	span.End(nil)
}

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected recorder to have export name")
	}
	recorder.Observe(context.Background(), "forward_trace", true, 10*time.Millisecond)
	recorder.Observe(context.Background(), "forward_trace", false, 5*time.Millisecond)
	recorder.Observe(context.Background(), "", true, time.Millisecond)

	snapshot := recorder.Snapshot()
	if snapshot.DurationsMS["forward_trace"] <= 0 {
		t.Fatalf("expected positive duration, snapshot=%+v", snapshot)
	}
	if snapshot.Results["forward_trace"]["success"] != 1 || snapshot.Results["forward_trace"]["error"] != 1 {
		t.Fatalf("unexpected results snapshot=%+v", snapshot)
	}
	if _, ok := snapshot.Results[""]; ok {
		t.Fatalf("expected empty operation to be ignored")
	}
	if v := expvar.Get(recorder.Name()); v == nil {
		t.Fatalf("expected expvar export to be registered")
	} else if !strings.Contains(v.String(), "forward_trace") {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}

func TestJSONTraceTracerExports(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "compute_stock")
	span.End(nil)
	_, failed := tracer.Start(context.Background(), "forward_trace")
	failed.End(context.DeadlineExceeded)

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two span entries, got %d", len(entries))
	}
	if entries[0].Operation != "compute_stock" || entries[0].Status != "success" {
		t.Fatalf("unexpected span entry: %+v", entries[0])
	}
	if entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("expected error span: %+v", entries[1])
	}
	if !strings.Contains(buf.String(), "\"operation\":\"compute_stock\"") {
		t.Fatalf("expected JSON output to contain operation: %q", buf.String())
	}
	if NewJSONTracer(nil).Entries() == nil {
		t.Fatalf("expected empty, non-nil entries")
	}
}
