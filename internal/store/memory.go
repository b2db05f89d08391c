package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/formtrack/internal/domain"
)

// MemoryStore keeps everything in process memory. Ids are sequential from 1
// and reset on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	users       []*domain.User
	sessions    []*domain.Session
	analyses    map[string]*domain.Analysis
	nextUserID  int64
	nextSession int64
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		analyses:    make(map[string]*domain.Analysis),
		nextUserID:  1,
		nextSession: 1,
	}
}

func (s *MemoryStore) emailTaken(email string, except int64) bool {
	for _, u := range s.users {
		if u.ID != except && u.Email == email {
			return true
		}
	}
	return false
}

// CreateUser stores a copy of user and writes the id back.
func (s *MemoryStore) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Normalize()
	if s.emailTaken(user.Email, 0) {
		return ErrDuplicate
	}
	ts := now()
	user.ID = s.nextUserID
	user.CreatedAt, user.UpdatedAt = ts, ts
	s.nextUserID++

	stored := *user
	s.users = append(s.users, &stored)
	return nil
}

// GetUser retrieves a user by id.
func (s *MemoryStore) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ID == id {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}

// ListUsers returns all users in id order.
func (s *MemoryStore) ListUsers(_ context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.User, len(s.users))
	for i, u := range s.users {
		cp := *u
		out[i] = &cp
	}
	return out, nil
}

// UpdateUser applies a partial update.
func (s *MemoryStore) UpdateUser(_ context.Context, id int64, upd domain.UserUpdate) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID != id {
			continue
		}
		if upd.Email != nil && s.emailTaken(domain.NormalizeEmail(*upd.Email), id) {
			return nil, ErrDuplicate
		}
		u.Apply(upd)
		u.UpdatedAt = now()
		out := *u
		return &out, nil
	}
	return nil, nil
}

// CreateSession stores a copy of session and writes the id back.
func (s *MemoryStore) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.ID = s.nextSession
	s.nextSession++
	if session.Timestamp.IsZero() {
		session.Timestamp = now()
	}
	if session.Mistakes == nil {
		session.Mistakes = []string{}
	}

	stored := *session
	stored.Mistakes = slices.Clone(session.Mistakes)
	s.sessions = append(s.sessions, &stored)
	return nil
}

func copySession(src *domain.Session) *domain.Session {
	out := *src
	out.Mistakes = slices.Clone(src.Mistakes)
	return &out
}

// GetSession retrieves a session by id.
func (s *MemoryStore) GetSession(_ context.Context, id int64) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.ID == id {
			return copySession(sess), nil
		}
	}
	return nil, nil
}

// ListSessions returns all sessions in id order.
func (s *MemoryStore) ListSessions(_ context.Context) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = copySession(sess)
	}
	return out, nil
}

// ListSessionsByUser returns the sessions for one user in id order.
func (s *MemoryStore) ListSessionsByUser(_ context.Context, userID int64) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.Session{}
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, copySession(sess))
		}
	}
	return out, nil
}

// SaveAnalysis stores or replaces an analysis.
func (s *MemoryStore) SaveAnalysis(_ context.Context, a *domain.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	stored := *a
	stored.Mistakes = slices.Clone(a.Mistakes)
	s.analyses[a.ID] = &stored
	return nil
}

// GetAnalysis retrieves an analysis by id.
func (s *MemoryStore) GetAnalysis(_ context.Context, id string) (*domain.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.analyses[id]
	if !ok {
		return nil, nil
	}
	out := *a
	out.Mistakes = slices.Clone(a.Mistakes)
	return &out, nil
}

// ListAnalyses returns analyses newest first.
func (s *MemoryStore) ListAnalyses(_ context.Context, limit int) ([]*domain.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Analysis, 0, len(s.analyses))
	for _, a := range s.analyses {
		cp := *a
		cp.Mistakes = slices.Clone(a.Mistakes)
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *domain.Analysis) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteAnalysesBefore removes analyses created before cutoff.
func (s *MemoryStore) DeleteAnalysesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, a := range s.analyses {
		if a.CreatedAt.Before(cutoff) {
			delete(s.analyses, id)
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Repository = (*MemoryStore)(nil)
