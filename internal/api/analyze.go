package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/formtrack/internal/analysis"
	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/exercise"
	"github.com/ashureev/formtrack/internal/identity"
)

// AnalyzeHandler serves POST /api/analyze, the workout-planning variant of
// video analysis that scores against planned reps.
type AnalyzeHandler struct {
	*Handler
	now func() time.Time
}

// NewAnalyzeHandler creates a new analyze handler.
func NewAnalyzeHandler(base *Handler) *AnalyzeHandler {
	return &AnalyzeHandler{Handler: base, now: time.Now}
}

// RegisterRoutes registers the analyze route.
func (h *AnalyzeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/analyze", h.Analyze)
}

type mistakeDescription struct {
	Description string `json:"description"`
}

type analyzeResponse struct {
	Exercise      string               `json:"exercise"`
	PlannedReps   int                  `json:"planned_reps"`
	CompletedReps int                  `json:"completed_reps"`
	FormScore     int                  `json:"form_score"`
	Mistakes      []mistakeDescription `json:"mistakes"`
	Timestamp     time.Time            `json:"timestamp"`
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func formInt(r *http.Request, key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(r.FormValue(key)))
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	if n < 0 {
		return 0, errors.New(key + " cannot be negative")
	}
	return n, nil
}

// Analyze scores an uploaded video against the planned reps.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if err := h.parseMultipart(w, r); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	exerciseType := strings.TrimSpace(r.FormValue("exercise_type"))
	if _, err := formInt(r, "sets"); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	reps, err := formInt(r, "reps")
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	up, err := h.saveUpload(r, "video")
	if errors.Is(err, errMissingFile) {
		Error(w, http.StatusBadRequest, "video is required")
		return
	}
	if err != nil {
		slog.Error("Failed to store upload", "error", err)
		Error(w, http.StatusInternalServerError, "Error processing video: "+err.Error())
		return
	}
	defer up.Remove()

	// Landmark files stand in for video when no pose service runs.
	if !up.IsVideo() && !isLandmarkUpload(up) {
		Error(w, http.StatusBadRequest, "Invalid file type. Please upload a video file.")
		return
	}
	if _, ok := exercise.Normalize(exerciseType); !ok {
		Error(w, http.StatusBadRequest, "Unsupported exercise type: "+exerciseType)
		return
	}

	res, err := h.analyzer.Analyze(r.Context(), analysis.Request{
		Exercise:     exerciseType,
		Source:       estimator.Source{Path: up.Path},
		ExpectedReps: reps,
		Stride:       h.legacyStride(),
		Languages:    identity.LanguagesFromContext(r.Context()),
	})
	if err != nil {
		analysisError(w, err)
		return
	}

	mistakes := make([]mistakeDescription, len(res.Mistakes))
	for i, m := range res.Mistakes {
		mistakes[i] = mistakeDescription{Description: m}
	}
	JSON(w, http.StatusOK, analyzeResponse{
		Exercise:      capitalize(exerciseType),
		PlannedReps:   reps,
		CompletedReps: res.ActualReps,
		FormScore:     res.Score(reps),
		Mistakes:      mistakes,
		Timestamp:     h.now().UTC(),
	})
}
