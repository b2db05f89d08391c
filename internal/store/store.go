// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/formtrack/internal/domain"
)

// Repository persists users, workout sessions and analysis results.
// Reads of a missing record return (nil, nil).
type Repository interface {
	// CreateUser assigns the next id and timestamps. A taken email returns
	// ErrDuplicate.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id int64) (*domain.User, error)

	// ListUsers returns all users in id order.
	ListUsers(ctx context.Context) ([]*domain.User, error)

	// UpdateUser applies a partial update and returns the stored result.
	UpdateUser(ctx context.Context, id int64, upd domain.UserUpdate) (*domain.User, error)

	// CreateSession assigns the next id; a zero timestamp is set to now.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, id int64) (*domain.Session, error)

	// ListSessions returns all sessions in id order.
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// ListSessionsByUser returns the sessions recorded for one user.
	ListSessionsByUser(ctx context.Context, userID int64) ([]*domain.Session, error)

	// SaveAnalysis stores an analysis result keyed by its id.
	SaveAnalysis(ctx context.Context, analysis *domain.Analysis) error

	// GetAnalysis retrieves an analysis by id.
	GetAnalysis(ctx context.Context, id string) (*domain.Analysis, error)

	// ListAnalyses returns up to limit analyses, newest first. A limit of 0
	// or less returns all.
	ListAnalyses(ctx context.Context, limit int) ([]*domain.Analysis, error)

	// DeleteAnalysesBefore removes analyses created before cutoff.
	DeleteAnalysesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// Open returns the repository for the named backend.
func Open(ctx context.Context, backend, dsn string) (Repository, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite, BackendPostgres, BackendMySQL:
		return NewSQL(ctx, backend, dsn)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
