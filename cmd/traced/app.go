package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tracecore/internal/config"
	"tracecore/internal/core"
	"tracecore/internal/observability"
	"tracecore/internal/platform/logger"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg     config.Config
	log     *logger.Logger
	store   core.EventStore
	svc     *core.Service
	metrics http.Handler
	closers []func(context.Context) error
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	serviceOpts := append(cfg.ServiceOptions(), core.WithLogger(log))
	switch cfg.Metrics.Driver {
	case "prometheus", "":
		rec := observability.NewPrometheusRecorder()
		a.metrics = rec.Handler()
		serviceOpts = append(serviceOpts, core.WithMetricsRecorder(rec))
	case "expvar":
		rec := core.NewExpvarMetricsRecorder("")
		a.metrics = expvarHandler(rec)
		serviceOpts = append(serviceOpts, core.WithMetricsRecorder(rec))
	case "none":
	default:
		return nil, fmt.Errorf("metrics.driver: unknown driver %q", cfg.Metrics.Driver)
	}

	switch exp := strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter)); exp {
	case "", observability.ExporterNone:
	case observability.ExporterJSONLines:
		serviceOpts = append(serviceOpts, core.WithTracer(core.NewJSONTracer(opts.stderr)))
	default:
		tp, shutdown, err := observability.NewTracerProvider(ctx, exp, "tracecore", opts.stderr)
		if err != nil {
			return nil, err
		}
		serviceOpts = append(serviceOpts, core.WithTracer(observability.NewOTelTracer(tp)))
		a.closers = append(a.closers, shutdown)
	}

	store, err := core.OpenEventStore(ctx, cfg.CoreStorage())
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	a.svc = core.NewService(store, serviceOpts...)
	log.Debug("engine ready", "storage", cfg.Storage.Driver, "metrics", cfg.Metrics.Driver, "tracing", cfg.Tracing.Exporter)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.log.Sync()
	return errors.Join(errs...)
}

func expvarHandler(rec *core.ExpvarMetricsRecorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec.Snapshot())
	})
}

// withApp runs fn with a wired app and always closes it.
func withApp(ctx context.Context, opts *rootOptions, fn func(context.Context, *app) error) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
