package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/indexops/indexops/internal/querybridge"
)

// maxQuestionBytes bounds the request body; questions are short free text.
const maxQuestionBytes = 1 << 12 // 4 KB

// asker answers a free-text question about the stored logs.
type asker interface {
	Ask(ctx context.Context, question string, now time.Time) (querybridge.Result, error)
}

// Chat serves the conversational query endpoint.
type Chat struct {
	bridge asker
	now    func() time.Time
}

// NewChat creates a new Chat handler.
func NewChat(bridge asker, args ...Option) *Chat {
	opts := newOptions(args...)
	return &Chat{bridge: bridge, now: opts.now}
}

// ServeHTTP handles requests to the /chat endpoint.
//
// Soft failures (unparseable model output, failed query execution) still reply
// 200 with guidance inside the result; only a failed generation call is a 500.
func (h *Chat) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	slog.Info("Request recv'd", "req_id", reqID, "path", r.URL.Path)

	r.Body = http.MaxBytesReader(w, r.Body, maxQuestionBytes)
	var body struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	result, err := h.bridge.Ask(r.Context(), body.Question, h.now())
	if err != nil {
		serverError(w, reqID, "Failed to process chat message", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}
