package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/starforge-io/starforge/internal/journal"
	"github.com/starforge-io/starforge/internal/materialize"
	"github.com/starforge-io/starforge/internal/warehouse"
)

const healthProbeTimeout = 2 * time.Second

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
	}

	// ViewListResponse lists the stored view names.
	ViewListResponse struct {
		Views []string `json:"views"`
	}

	// ViewResponse is one stored view's content.
	ViewResponse struct {
		Name string    `json:"name"`
		Rows []ViewRow `json:"rows"`
	}

	// ViewRow is one output row of a view.
	ViewRow struct {
		Group  map[string]string  `json:"group"`
		Values map[string]float64 `json:"values"`
	}

	// RunListResponse lists execution log entries, newest first.
	RunListResponse struct {
		Runs []journal.Entry `json:"runs"`
	}

	// Problem is an RFC 7807 style error body.
	Problem struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
		Detail string `json:"detail"`
	}
)

// setupRoutes registers all API routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/views", s.handleListViews)
	mux.HandleFunc("GET /api/v1/views/{name}", s.handleGetView)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	status := HealthStatus{
		Status:      "ok",
		ServiceName: "starforge",
		Version:     s.version,
	}

	code := http.StatusOK

	if err := s.health.HealthCheck(ctx); err != nil {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable

		s.logger.Warn("Health check failed", slog.String("error", err.Error()))
	}

	s.writeJSON(w, code, status)
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	names, err := s.views.ListViews(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list views")

		return
	}

	if names == nil {
		names = []string{}
	}

	s.writeJSON(w, http.StatusOK, ViewListResponse{Views: names})
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	result, err := s.views.LoadView(r.Context(), name)
	if err != nil {
		if errors.Is(err, warehouse.ErrViewNotFound) {
			s.writeError(w, http.StatusNotFound, "view not found: "+name)

			return
		}

		s.logger.Error("Failed to load view",
			slog.String("view", name),
			slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to load view")

		return
	}

	s.writeJSON(w, http.StatusOK, toViewResponse(result))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")

			return
		}

		limit = parsed
	}

	entries, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")

		return
	}

	if entries == nil {
		entries = []journal.Entry{}
	}

	s.writeJSON(w, http.StatusOK, RunListResponse{Runs: entries})
}

func toViewResponse(result materialize.ViewResult) ViewResponse {
	resp := ViewResponse{Name: result.Name, Rows: make([]ViewRow, 0, len(result.Rows))}

	for _, row := range result.Rows {
		resp.Rows = append(resp.Rows, ViewRow{Group: row.Group, Values: row.Values})
	}

	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)

	problem := Problem{
		Title:  http.StatusText(code),
		Status: code,
		Detail: detail,
	}

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		s.logger.Error("Failed to encode error response", slog.Any("error", err))
	}
}
