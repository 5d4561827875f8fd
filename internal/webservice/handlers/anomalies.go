package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/indexops/indexops/internal/anomaly"
)

// JobsAnomalies serves the feed-versus-index comparison rows for the current
// window, anomalous rows first.
type JobsAnomalies struct {
	store metricsStore
	now   func() time.Time
}

// NewJobsAnomalies creates a new JobsAnomalies handler.
func NewJobsAnomalies(store metricsStore, args ...Option) *JobsAnomalies {
	opts := newOptions(args...)
	return &JobsAnomalies{store: store, now: opts.now}
}

// ServeHTTP handles requests to the /jobs-anomalies endpoint.
func (h *JobsAnomalies) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	now := h.now()
	slog.Info("Request recv'd", "req_id", reqID, "path", r.URL.Path)

	records, err := h.store.CompletedBetween(r.Context(), now.Add(-window), now)
	if err != nil {
		serverError(w, reqID, "Failed to fetch records", err)
		return
	}

	writeJSON(w, http.StatusOK, anomaly.NewJobsComparison(records))
}

// AnomaliesStats serves the per-rule violation tallies for the current window.
type AnomaliesStats struct {
	store metricsStore
	now   func() time.Time
}

// NewAnomaliesStats creates a new AnomaliesStats handler.
func NewAnomaliesStats(store metricsStore, args ...Option) *AnomaliesStats {
	opts := newOptions(args...)
	return &AnomaliesStats{store: store, now: opts.now}
}

// ServeHTTP handles requests to the /anomalies-stats endpoint.
func (h *AnomaliesStats) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	now := h.now()
	slog.Info("Request recv'd", "req_id", reqID, "path", r.URL.Path)

	records, err := h.store.CompletedBetween(r.Context(), now.Add(-window), now)
	if err != nil {
		serverError(w, reqID, "Failed to fetch records", err)
		return
	}

	stats, total := anomaly.Stats(records)
	writeJSON(w, http.StatusOK, map[string]any{
		"totalClients": total,
		"anomalies":    stats,
	})
}

// CriticalAnomaliesStats ranks clients by their share of records breaking the
// high severity rules over the current window.
type CriticalAnomaliesStats struct {
	store metricsStore
	now   func() time.Time
}

// NewCriticalAnomaliesStats creates a new CriticalAnomaliesStats handler.
func NewCriticalAnomaliesStats(store metricsStore, args ...Option) *CriticalAnomaliesStats {
	opts := newOptions(args...)
	return &CriticalAnomaliesStats{store: store, now: opts.now}
}

// ServeHTTP handles requests to the /critical-anomalies-stats endpoint.
func (h *CriticalAnomaliesStats) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	now := h.now()
	slog.Info("Request recv'd", "req_id", reqID, "path", r.URL.Path)

	records, err := h.store.CompletedBetween(r.Context(), now.Add(-window), now)
	if err != nil {
		serverError(w, reqID, "Failed to fetch records", err)
		return
	}

	clients := make(map[string]struct{}, len(records))
	for _, rec := range records {
		clients[rec.SourceName] = struct{}{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalClients":                 len(clients),
		"clientsWithCriticalAnomalies": anomaly.CriticalClients(records, anomaly.HighSeverityRules()),
	})
}
