package domain

import "time"

// Analysis is the stored outcome of one video analysis.
type Analysis struct {
	ID             string    `json:"id"`
	Exercise       string    `json:"exercise"`
	Source         string    `json:"source,omitempty"`
	ExpectedReps   int       `json:"expected_reps"`
	ActualReps     int       `json:"actual_reps"`
	Count          float64   `json:"count"`
	FormScore      string    `json:"form_score"`
	Score          int       `json:"score"`
	Feedback       string    `json:"feedback"`
	FormCorrect    bool      `json:"form_correct"`
	Mistakes       []string  `json:"mistakes"`
	FramesTotal    int       `json:"frames_total"`
	FramesAnalyzed int       `json:"frames_analyzed"`
	FramesSkipped  int       `json:"frames_skipped"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the analysis is older than ttl at now.
func (a *Analysis) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(a.CreatedAt) > ttl
}
