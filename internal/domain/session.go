package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrExerciseRequired = errors.New("exercise_type is required")
	ErrNegativeCount    = errors.New("sets and reps must not be negative")
	ErrScoreRange       = errors.New("form_score must be between 0 and 100")
)

// Session is one recorded workout: a planned set/rep scheme and what was
// actually completed. UserID is not checked against the users table.
type Session struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	ExerciseType  string    `json:"exercise_type"`
	PlannedSets   int       `json:"planned_sets"`
	PlannedReps   int       `json:"planned_reps"`
	CompletedReps int       `json:"completed_reps"`
	FormScore     int       `json:"form_score"`
	Mistakes      []string  `json:"mistakes"`
	Timestamp     time.Time `json:"timestamp"`
}

// Validate checks the fields required to store a session.
func (s *Session) Validate() error {
	if strings.TrimSpace(s.ExerciseType) == "" {
		return ErrExerciseRequired
	}
	if s.PlannedSets < 0 || s.PlannedReps < 0 || s.CompletedReps < 0 {
		return ErrNegativeCount
	}
	if s.FormScore < 0 || s.FormScore > 100 {
		return ErrScoreRange
	}
	return nil
}

// MissedReps is how many planned reps were not completed.
func (s *Session) MissedReps() int {
	return max(0, s.PlannedReps-s.CompletedReps)
}
