package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/formtrack/internal/analysis"
	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/exercise"
	"github.com/ashureev/formtrack/internal/identity"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ExerciseHandler serves the /exercise endpoints.
type ExerciseHandler struct {
	*Handler
}

// NewExerciseHandler creates a new exercise handler.
func NewExerciseHandler(base *Handler) *ExerciseHandler {
	return &ExerciseHandler{Handler: base}
}

// RegisterRoutes registers exercise routes.
func (h *ExerciseHandler) RegisterRoutes(r chi.Router) {
	r.Route("/exercise", func(r chi.Router) {
		r.Get("/types", h.Types)
		r.Post("/analyze", h.Analyze)
		r.Post("/count", h.Count)
		r.Get("/analyses", h.ListAnalyses)
		r.Get("/analyses/{id}", h.GetAnalysis)
	})
}

type exerciseResponse struct {
	ID           string   `json:"id,omitempty"`
	Exercise     string   `json:"exercise"`
	ExpectedReps int      `json:"expected_reps"`
	ActualReps   int      `json:"actual_reps"`
	FormScore    string   `json:"form_score"`
	Feedback     string   `json:"feedback"`
	FormCorrect  bool     `json:"form_correct"`
	Mistakes     []string `json:"mistakes"`
}

func newExerciseResponse(res *analysis.Result) exerciseResponse {
	mistakes := res.Mistakes
	if mistakes == nil {
		mistakes = []string{}
	}
	return exerciseResponse{
		ID:           res.ID,
		Exercise:     res.Exercise,
		ExpectedReps: res.ExpectedReps,
		ActualReps:   res.ActualReps,
		FormScore:    res.FormScore,
		Feedback:     res.Feedback,
		FormCorrect:  res.FormCorrect,
		Mistakes:     mistakes,
	}
}

// Types lists the supported exercise keys.
func (h *ExerciseHandler) Types(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string][]string{"exercise_types": exercise.Types()})
}

// Analyze counts reps in an uploaded video.
func (h *ExerciseHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if err := h.parseMultipart(w, r); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	name := r.FormValue("exercise")
	if _, ok := exercise.Normalize(name); !ok {
		Error(w, http.StatusBadRequest, analysis.UnsupportedMessage())
		return
	}
	expected, err := strconv.Atoi(strings.TrimSpace(r.FormValue("expected_reps")))
	if err != nil {
		Error(w, http.StatusBadRequest, "expected_reps must be an integer")
		return
	}

	up, err := h.saveUpload(r, "video_file")
	if errors.Is(err, errMissingFile) {
		Error(w, http.StatusBadRequest, "video_file is required")
		return
	}
	if err != nil {
		slog.Error("Failed to store upload", "error", err)
		Error(w, http.StatusInternalServerError, "Error processing video: "+err.Error())
		return
	}
	defer up.Remove()

	h.run(w, r, name, up.Path, expected)
}

type countRequest struct {
	Exercise     string `json:"exercise"`
	VideoPath    string `json:"video_path"`
	ExpectedReps int    `json:"expected_reps"`
}

// Count counts reps in a video already on the server's filesystem.
func (h *ExerciseHandler) Count(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := exercise.Normalize(req.Exercise); !ok {
		Error(w, http.StatusBadRequest, analysis.UnsupportedMessage())
		return
	}
	if req.VideoPath == "" {
		Error(w, http.StatusNotFound, "Video file not found")
		return
	}
	if info, err := os.Stat(req.VideoPath); err != nil || info.IsDir() {
		Error(w, http.StatusNotFound, "Video file not found")
		return
	}

	h.run(w, r, req.Exercise, req.VideoPath, req.ExpectedReps)
}

func (h *ExerciseHandler) run(w http.ResponseWriter, r *http.Request, name, path string, expected int) {
	res, err := h.analyzer.Analyze(r.Context(), analysis.Request{
		Exercise:     name,
		Source:       estimator.Source{Path: path},
		ExpectedReps: expected,
		Stride:       h.frameStride(),
		Languages:    identity.LanguagesFromContext(r.Context()),
		Record:       true,
	})
	if err != nil {
		analysisError(w, err)
		return
	}
	JSON(w, http.StatusOK, newExerciseResponse(res))
}

// ListAnalyses returns recent analyses, newest first.
func (h *ExerciseHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	list, err := h.repo.ListAnalyses(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list analyses", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"analyses": list})
}

// GetAnalysis returns one stored analysis.
func (h *ExerciseHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.repo.GetAnalysis(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get analysis", "error", err, "id", id)
		Error(w, http.StatusInternalServerError, "failed to get analysis")
		return
	}
	if a == nil {
		Error(w, http.StatusNotFound, "Analysis not found")
		return
	}
	JSON(w, http.StatusOK, a)
}
