// Package httphandler serves the read-only run journal over HTTP.
package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SchemaVersionFunc reports the journal schema version for the health endpoint.
type SchemaVersionFunc func(ctx context.Context) (version uint, dirty bool, err error)

// Handler is the HTTP driving adapter over the run journal.
type Handler struct {
	runs          driven.RunStore
	schemaVersion SchemaVersionFunc
	logger        *slog.Logger
}

// NewHandler creates a Handler. schemaVersion may be nil.
func NewHandler(runs driven.RunStore, schemaVersion SchemaVersionFunc, logger *slog.Logger) *Handler {
	return &Handler{
		runs:          runs,
		schemaVersion: schemaVersion,
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.GetRun)
	mux.HandleFunc("GET /runs/{id}", h.RunPage)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListRuns returns recent runs, or every run of one pull request when the
// pr query parameter is set.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		runs []model.Run
		err  error
	)

	if prParam := query.Get("pr"); prParam != "" {
		number, convErr := strconv.Atoi(prParam)
		if convErr != nil || number <= 0 {
			writeError(w, http.StatusBadRequest, "invalid pull request number")
			return
		}
		runs, err = h.runs.ListByPR(r.Context(), number)
	} else {
		limit, ok := parseLimit(query.Get("limit"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		runs, err = h.runs.ListRecent(r.Context(), limit)
	}

	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRun returns a single run with its stages.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(*run))
}

// RunPage renders a run and its tracking comment as HTML.
func (h *Handler) RunPage(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	if err := renderRunPage(w, *run); err != nil {
		h.logger.Error("failed to render run page", "id", run.ID, "error", err)
	}
}

// Health reports liveness and, when available, the journal schema version.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}

	if h.schemaVersion != nil {
		version, dirty, err := h.schemaVersion(r.Context())
		if err != nil {
			h.logger.Error("failed to read schema version", "error", err)
			resp.Status = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.SchemaVersion = version
		if dirty {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	id := r.PathValue("id")

	run, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}

	return run, true
}

// parseLimit returns the default for an empty value and clamps to maxListLimit.
func parseLimit(s string) (int, bool) {
	if s == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, maxListLimit), true
}
