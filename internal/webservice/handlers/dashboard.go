package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/indexops/indexops/internal/dashboard"
	"github.com/indexops/indexops/internal/models"
)

// metricsStore fetches the completed records the dashboard aggregates.
type metricsStore interface {
	CompletedBetween(ctx context.Context, from, to time.Time) ([]models.LogRecord, error)
}

// DashboardMetrics serves the weekly KPI summary.
type DashboardMetrics struct {
	store metricsStore
	now   func() time.Time
}

// NewDashboardMetrics creates a new DashboardMetrics handler.
func NewDashboardMetrics(store metricsStore, args ...Option) *DashboardMetrics {
	opts := newOptions(args...)
	return &DashboardMetrics{store: store, now: opts.now}
}

// ServeHTTP computes the dashboard metrics over the current window and the
// window before it.
func (h *DashboardMetrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	now := h.now()
	slog.Info("Request recv'd", "req_id", reqID, "path", r.URL.Path)

	current, err := h.store.CompletedBetween(r.Context(), now.Add(-window), now)
	if err != nil {
		serverError(w, reqID, "Failed to fetch current window", err)
		return
	}
	previous, err := h.store.CompletedBetween(r.Context(), now.Add(-2*window), now.Add(-window))
	if err != nil {
		serverError(w, reqID, "Failed to fetch previous window", err)
		return
	}

	writeJSON(w, http.StatusOK, dashboard.Compute(current, previous))
}
