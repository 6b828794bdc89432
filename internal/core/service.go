package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tracecore/pkg/domain"
)

// Trace depth defaults applied when the service is built without overrides.
const (
	DefaultMaxDepth        = 50
	DefaultMaxDepthLimit   = 500
	DefaultInferenceWindow = 2 * time.Hour
)

// ErrInvalidDepth is returned when a caller requests a depth outside [1, limit].
var ErrInvalidDepth = errors.New("invalid trace depth")

// Service is the read path of the traceability engine: the quantity ledger and
// the forward/backward trace. It holds no per-request state.
type Service struct {
	reader          domain.EventReader
	clock           Clock
	logger          Logger
	metrics         MetricsRecorder
	tracer          Tracer
	maxDepth        int
	maxDepthLimit   int
	inferenceWindow time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for result timestamps.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMaxDepth sets the default trace depth.
func WithMaxDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithMaxDepthLimit caps the depth a caller may request.
func WithMaxDepthLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxDepthLimit = limit
		}
	}
}

// WithInferenceWindow sets the facility time window used to infer
// transformation links when no junction record exists.
func WithInferenceWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.inferenceWindow = window
		}
	}
}

// NewService constructs a service over the supplied reader.
func NewService(reader domain.EventReader, opts ...Option) *Service {
	s := &Service{
		reader:          reader,
		clock:           systemClock{},
		logger:          noopLogger{},
		metrics:         noopMetrics{},
		tracer:          noopTracer{},
		maxDepth:        DefaultMaxDepth,
		maxDepthLimit:   DefaultMaxDepthLimit,
		inferenceWindow: DefaultInferenceWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxDepth > s.maxDepthLimit {
		s.maxDepth = s.maxDepthLimit
	}
	return s
}

// MaxDepth returns the default trace depth.
func (s *Service) MaxDepth() int { return s.maxDepth }

// MaxDepthLimit returns the largest depth a caller may request.
func (s *Service) MaxDepthLimit() int { return s.maxDepthLimit }

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	if err != nil {
		s.logger.Error("engine operation failed", "operation", op, "error", err)
		return err
	}
	s.logger.Debug("engine operation completed", "operation", op, "duration", time.Since(started))
	return nil
}

// TraceOption adjusts a single trace call.
type TraceOption func(*traceConfig)

type traceConfig struct {
	depth int
}

// WithDepth requests a traversal depth other than the service default.
func WithDepth(depth int) TraceOption {
	return func(c *traceConfig) { c.depth = depth }
}

func (s *Service) traceConfig(opts []TraceOption) (traceConfig, error) {
	cfg := traceConfig{depth: s.maxDepth}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.depth < 1 || cfg.depth > s.maxDepthLimit {
		return cfg, fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidDepth, cfg.depth, s.maxDepthLimit)
	}
	return cfg, nil
}

// ForwardTrace returns every lot and facility the seed lot's material flowed into.
func (s *Service) ForwardTrace(ctx context.Context, tlc string, opts ...TraceOption) (domain.TraceResult, error) {
	return s.trace(ctx, "forward_trace", tlc, domain.Forward, opts)
}

// BackwardTrace returns every lot and facility the seed lot's material came from.
func (s *Service) BackwardTrace(ctx context.Context, tlc string, opts ...TraceOption) (domain.TraceResult, error) {
	return s.trace(ctx, "backward_trace", tlc, domain.Backward, opts)
}

// Trace dispatches on direction.
func (s *Service) Trace(ctx context.Context, tlc string, dir domain.Direction, opts ...TraceOption) (domain.TraceResult, error) {
	if dir == domain.Backward {
		return s.BackwardTrace(ctx, tlc, opts...)
	}
	return s.ForwardTrace(ctx, tlc, opts...)
}

func (s *Service) trace(ctx context.Context, op, tlc string, dir domain.Direction, opts []TraceOption) (domain.TraceResult, error) {
	var result domain.TraceResult
	err := s.run(ctx, op, func(ctx context.Context) error {
		cfg, err := s.traceConfig(opts)
		if err != nil {
			return err
		}
		t, err := s.traverse(ctx, tlc, dir, cfg.depth)
		if err != nil {
			return err
		}
		result = t.result
		if result.Truncated {
			s.logger.Warn("trace truncated", "tlc", tlc, "direction", dir, "reason", result.TruncationReason)
		}
		return nil
	})
	return result, err
}

// BuildGraph runs a traversal and returns the genealogy arena it discovered,
// seed included. maxDepth <= 0 selects the service default.
func (s *Service) BuildGraph(ctx context.Context, tlc string, dir domain.Direction, maxDepth int) (*Graph, error) {
	var graph *Graph
	err := s.run(ctx, "build_graph", func(ctx context.Context) error {
		var opts []TraceOption
		if maxDepth > 0 {
			opts = append(opts, WithDepth(maxDepth))
		}
		cfg, err := s.traceConfig(opts)
		if err != nil {
			return err
		}
		t, err := s.traverse(ctx, tlc, dir, cfg.depth)
		if err != nil {
			return err
		}
		graph = t.graph
		return nil
	})
	return graph, err
}

// ComputeStock reconstructs the lot's available quantity from its event log.
func (s *Service) ComputeStock(ctx context.Context, tlc string) (domain.StockBreakdown, error) {
	var out domain.StockBreakdown
	err := s.run(ctx, "compute_stock", func(ctx context.Context) error {
		lc, err := s.reader.LoadLotContext(ctx, tlc)
		if err != nil {
			return fmt.Errorf("load lot %s: %w", tlc, err)
		}
		out = computeLedger(lc, s.clock.Now())
		refs, err := s.referenceWarnings(ctx, lc)
		if err != nil {
			return err
		}
		out.Warnings = append(out.Warnings, refs...)
		if out.Negative {
			s.logger.Warn("negative stock", "tlc", tlc, "current_stock", out.CurrentStock.String())
		}
		return nil
	})
	return out, err
}
