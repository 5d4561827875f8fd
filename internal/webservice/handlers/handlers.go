// Package handlers provides the HTTP handlers for the web service.
//
// Every handler resolves "now" exactly once per request and passes it down, so
// a single response is always computed against one consistent instant.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/indexops/indexops/internal/common/constants"
	"github.com/indexops/indexops/internal/webservice/metrics"
)

// window is the length of the reporting window shown on the dashboard. The
// previous window of the same length directly precedes it.
const window = 7 * 24 * time.Hour

type options struct {
	now func() time.Time
}

// Option overrides a handler default, for tests.
type Option func(*options)

// WithClock overrides the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(args ...Option) options {
	opts := options{now: time.Now}
	for _, opt := range args {
		opt(&opts)
	}
	return opts
}

// writeJSON marshals v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

// serverError logs the failure and replies with an opaque 500. Internal
// details never reach the client.
func serverError(w http.ResponseWriter, reqID, msg string, err error) {
	slog.Error(msg, "req_id", reqID, "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

// VersionHandler handles requests to the /version endpoint.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"version":"%s"}`, constants.Version)
}
