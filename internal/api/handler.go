// Package api provides HTTP handlers for the formtrack API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/formtrack/internal/analysis"
	"github.com/ashureev/formtrack/internal/config"
	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/store"
)

const maxJSONBody = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	analyzer *analysis.Service
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, analyzer *analysis.Service, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		analyzer: analyzer,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// pathID parses a positive integer URL parameter.
func pathID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) frameStride() int {
	if h.cfg == nil {
		return 1
	}
	return h.cfg.FrameStride
}

func (h *Handler) legacyStride() int {
	if h.cfg == nil {
		return 3
	}
	return h.cfg.LegacyStride
}

// analysisError writes the response for a failed analysis.
func analysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrUnsupportedExercise):
		Error(w, http.StatusBadRequest, analysis.UnsupportedMessage())
	case errors.Is(err, estimator.ErrUnavailable):
		Error(w, http.StatusServiceUnavailable, "Pose estimation service is not configured")
	default:
		slog.Error("Video analysis failed", "error", err)
		Error(w, http.StatusInternalServerError, "Error processing video: "+err.Error())
	}
}
