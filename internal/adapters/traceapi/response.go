package traceapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"tracecore/internal/core"
	"tracecore/pkg/domain"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
}

type requestError struct{ msg string }

func (e requestError) Error() string { return e.msg }

func badRequest(msg string) error { return requestError{msg: msg} }

// StatusFor maps an engine error onto an HTTP status.
func StatusFor(err error) int {
	var reqErr requestError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &reqErr), errors.Is(err, core.ErrInvalidDepth):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRecord):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	kv := []any{"path", r.URL.Path, "status", status, "error", err, "request_id", middleware.GetReqID(r.Context())}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", kv...)
	} else {
		h.logger.Info("request rejected", kv...)
	}
	writeJSON(w, status, envelope{Success: false, Data: nil, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
