package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/formtrack/internal/domain"
	"github.com/ashureev/formtrack/internal/store"
)

// UserHandler serves /api/users.
type UserHandler struct {
	*Handler
}

// NewUserHandler creates a new user handler.
func NewUserHandler(base *Handler) *UserHandler {
	return &UserHandler{Handler: base}
}

// RegisterRoutes registers user routes.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/users", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
	})
}

type createUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Create registers a user.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user := &domain.User{Name: req.Name, Email: req.Email}
	if err := user.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			Error(w, http.StatusConflict, "Email already registered")
			return
		}
		slog.Error("Failed to create user", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	slog.Info("User created", "user_id", user.ID)
	JSON(w, http.StatusCreated, user)
}

// List returns all users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.ListUsers(r.Context())
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	JSON(w, http.StatusOK, users)
}

// Get returns one user.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "User not found")
		return
	}

	user, err := h.repo.GetUser(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get user", "error", err, "user_id", id)
		Error(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "User not found")
		return
	}
	JSON(w, http.StatusOK, user)
}

// Update applies the fields present in the body.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "User not found")
		return
	}

	var upd domain.UserUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.repo.GetUser(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get user", "error", err, "user_id", id)
		Error(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	if existing == nil {
		Error(w, http.StatusNotFound, "User not found")
		return
	}
	candidate := *existing
	candidate.Apply(upd)
	if err := candidate.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.repo.UpdateUser(r.Context(), id, upd)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		Error(w, http.StatusConflict, "Email already registered")
	case err != nil:
		slog.Error("Failed to update user", "error", err, "user_id", id)
		Error(w, http.StatusInternalServerError, "failed to update user")
	case user == nil:
		Error(w, http.StatusNotFound, "User not found")
	default:
		JSON(w, http.StatusOK, user)
	}
}
