package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/indexops/indexops/internal/database"
	"github.com/indexops/indexops/internal/models"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// logsStore lists and filters stored log records.
type logsStore interface {
	List(ctx context.Context, opts database.ListOptions) ([]models.LogRecord, int64, error)
}

// Logs serves the paginated raw log listing.
type Logs struct {
	store logsStore
}

// NewLogs creates a new Logs handler.
func NewLogs(store logsStore) *Logs {
	return &Logs{store: store}
}

// ServeHTTP handles requests to the /logs endpoint.
//
// Supported query parameters: page, limit, sortField, sortOrder, country,
// client, from, to. Unknown sort fields fall back to the timestamp; from/to
// must be RFC 3339.
func (h *Logs) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	slog.Info("Request recv'd", "req_id", reqID, "path", r.URL.Path)

	q := r.URL.Query()
	opts := database.ListOptions{
		Page:      positiveInt(q.Get("page"), 1),
		Limit:     min(positiveInt(q.Get("limit"), defaultPageSize), maxPageSize),
		SortField: q.Get("sortField"),
		SortOrder: q.Get("sortOrder"),
		Country:   q.Get("country"),
		Source:    q.Get("client"),
	}

	var err error
	if opts.From, err = timeParam(q.Get("from")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from parameter"})
		return
	}
	if opts.To, err = timeParam(q.Get("to")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to parameter"})
		return
	}

	records, total, err := h.store.List(r.Context(), opts)
	if err != nil {
		serverError(w, reqID, "Failed to list records", err)
		return
	}
	if records == nil {
		records = []models.LogRecord{}
	}

	totalPages := (total + int64(opts.Limit) - 1) / int64(opts.Limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       records,
		"total":      total,
		"page":       opts.Page,
		"totalPages": totalPages,
	})
}

func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func timeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// filtersStore provides the distinct values offered as log filters.
type filtersStore interface {
	DistinctSources(ctx context.Context) ([]string, error)
	DistinctCountries(ctx context.Context) ([]string, error)
}

// Clients serves the distinct client names present in the store.
type Clients struct {
	store filtersStore
}

// NewClients creates a new Clients handler.
func NewClients(store filtersStore) *Clients {
	return &Clients{store: store}
}

// ServeHTTP handles requests to the /clients endpoint.
func (h *Clients) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	slog.Info("Request recv'd", "req_id", reqID, "path", r.URL.Path)

	clients, err := h.store.DistinctSources(r.Context())
	if err != nil {
		serverError(w, reqID, "Failed to fetch clients", err)
		return
	}
	if clients == nil {
		clients = []string{}
	}
	writeJSON(w, http.StatusOK, clients)
}

// Countries serves the distinct country codes present in the store.
type Countries struct {
	store filtersStore
}

// NewCountries creates a new Countries handler.
func NewCountries(store filtersStore) *Countries {
	return &Countries{store: store}
}

// ServeHTTP handles requests to the /countries endpoint.
func (h *Countries) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	slog.Info("Request recv'd", "req_id", reqID, "path", r.URL.Path)

	countries, err := h.store.DistinctCountries(r.Context())
	if err != nil {
		serverError(w, reqID, "Failed to fetch countries", err)
		return
	}
	if countries == nil {
		countries = []string{}
	}
	writeJSON(w, http.StatusOK, countries)
}
