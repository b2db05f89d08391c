package store

import (
	"errors"

	"github.com/ashureev/formtrack/internal/shared"
)

// ErrDuplicate is returned when a write would break a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// MapDBError maps unique violations from any backend onto ErrDuplicate.
// Typed driver errors are judged by their code alone; only untyped errors
// fall back to the message.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if shared.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// retryable reports whether a write lost a race with another writer.
func retryable(err error) bool {
	return shared.IsConflictError(err)
}
