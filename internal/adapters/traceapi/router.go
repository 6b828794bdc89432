// Package traceapi exposes trace, stock and archive operations over HTTP.
// Every response uses the {success, data, error} envelope.
package traceapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tracecore/internal/adapters/archive"
	"tracecore/internal/core"
	"tracecore/pkg/domain"
)

// DefaultRequestTimeout bounds each request when no timeout is configured.
const DefaultRequestTimeout = 30 * time.Second

// Engine is the subset of core.Service the API calls.
type Engine interface {
	Trace(ctx context.Context, tlc string, dir domain.Direction, opts ...core.TraceOption) (domain.TraceResult, error)
	ComputeStock(ctx context.Context, tlc string) (domain.StockBreakdown, error)
}

// Archiver stores trace and stock snapshots.
type Archiver interface {
	ArchiveTrace(ctx context.Context, res domain.TraceResult, formats []archive.Format) ([]archive.Artifact, error)
	ArchiveStock(ctx context.Context, sb domain.StockBreakdown, formats []archive.Format) ([]archive.Artifact, error)
}

// Handler serves the trace API.
type Handler struct {
	engine   Engine
	archiver Archiver
	metrics  http.Handler
	logger   core.Logger
	timeout  time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithArchiver enables the archive routes.
func WithArchiver(a Archiver) Option {
	return func(h *Handler) { h.archiver = a }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(l core.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithRequestTimeout sets the per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler constructs a Handler around engine.
func NewHandler(engine Engine, opts ...Option) *Handler {
	h := &Handler{engine: engine, logger: core.NopLogger(), timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns the chi router for all routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{"status": "ok"}})
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.deadline)
		r.Get("/trace/{direction}/{tlc}", h.handleTrace)
		r.Get("/lots/{tlc}/stock", h.handleStock)
		if h.archiver != nil {
			r.Post("/trace/{direction}/{tlc}/archive", h.handleArchiveTrace)
			r.Post("/lots/{tlc}/stock/archive", h.handleArchiveStock)
		}
	})
	return r
}

func (h *Handler) deadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) traceParams(r *http.Request) (string, domain.Direction, []core.TraceOption, error) {
	dir, err := domain.ParseDirection(chi.URLParam(r, "direction"))
	if err != nil {
		return "", "", nil, badRequest(err.Error())
	}
	tlc, err := lotParam(r)
	if err != nil {
		return "", "", nil, err
	}
	var opts []core.TraceOption
	if raw := r.URL.Query().Get("depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil {
			return "", "", nil, badRequest("depth must be an integer")
		}
		opts = append(opts, core.WithDepth(depth))
	}
	return tlc, dir, opts, nil
}

func (h *Handler) handleTrace(w http.ResponseWriter, r *http.Request) {
	tlc, dir, opts, err := h.traceParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.Trace(r.Context(), tlc, dir, opts...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: res})
}

func lotParam(r *http.Request) (string, error) {
	tlc := strings.TrimSpace(chi.URLParam(r, "tlc"))
	if tlc == "" {
		return "", badRequest("tlc required")
	}
	return tlc, nil
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	tlc, err := lotParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sb, err := h.engine.ComputeStock(r.Context(), tlc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: sb})
}

type archiveResponse struct {
	Truncated bool               `json:"truncated,omitempty"`
	Artifacts []archive.Artifact `json:"artifacts"`
}

func (h *Handler) handleArchiveTrace(w http.ResponseWriter, r *http.Request) {
	tlc, dir, opts, err := h.traceParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	formats, err := archive.ParseFormats(r.URL.Query().Get("format"))
	if err != nil {
		h.fail(w, r, badRequest(err.Error()))
		return
	}
	res, err := h.engine.Trace(r.Context(), tlc, dir, opts...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	artifacts, err := h.archiver.ArchiveTrace(r.Context(), res, formats)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: archiveResponse{Truncated: res.Truncated, Artifacts: artifacts}})
}

func (h *Handler) handleArchiveStock(w http.ResponseWriter, r *http.Request) {
	tlc, err := lotParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	formats, err := archive.ParseFormats(r.URL.Query().Get("format"))
	if err != nil {
		h.fail(w, r, badRequest(err.Error()))
		return
	}
	sb, err := h.engine.ComputeStock(r.Context(), tlc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	artifacts, err := h.archiver.ArchiveStock(r.Context(), sb, formats)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: archiveResponse{Artifacts: artifacts}})
}
