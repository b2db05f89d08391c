package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/formtrack/internal/domain"
)

// SessionHandler serves /api/sessions.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/user/{user_id}", h.ListByUser)
		r.Get("/{id}", h.Get)
	})
}

type createSessionRequest struct {
	UserID        int64    `json:"user_id"`
	ExerciseType  string   `json:"exercise_type"`
	PlannedSets   int      `json:"planned_sets"`
	PlannedReps   int      `json:"planned_reps"`
	CompletedReps int      `json:"completed_reps"`
	FormScore     int      `json:"form_score"`
	Mistakes      []string `json:"mistakes"`
}

// Create records a workout session. The user id is not checked against
// existing users.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	session := &domain.Session{
		UserID:        req.UserID,
		ExerciseType:  req.ExerciseType,
		PlannedSets:   req.PlannedSets,
		PlannedReps:   req.PlannedReps,
		CompletedReps: req.CompletedReps,
		FormScore:     req.FormScore,
		Mistakes:      req.Mistakes,
	}
	if err := session.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.CreateSession(r.Context(), session); err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	slog.Info("Session recorded", "session_id", session.ID, "user_id", session.UserID)
	JSON(w, http.StatusCreated, session)
}

// List returns all sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context())
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// ListByUser returns the sessions recorded for one user.
func (h *SessionHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(chi.URLParam(r, "user_id"))
	if !ok {
		Error(w, http.StatusBadRequest, "user_id must be a positive integer")
		return
	}

	sessions, err := h.repo.ListSessionsByUser(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// Get returns one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}

	session, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get session", "error", err, "session_id", id)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	JSON(w, http.StatusOK, session)
}
