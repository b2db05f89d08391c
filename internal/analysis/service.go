// Package analysis runs a rep counter over a whole video and shapes the
// outcome for the HTTP surface and the store.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/formtrack/internal/domain"
	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/exercise"
	"github.com/ashureev/formtrack/internal/feedback"
)

// ErrUnsupportedExercise is returned for an exercise the registry lacks. The
// wrapped message lists the supported keys.
var ErrUnsupportedExercise = errors.New("unsupported exercise type")

// UnsupportedMessage is the client-facing text for ErrUnsupportedExercise.
func UnsupportedMessage() string {
	return "Unsupported exercise type. Supported types: " + pyList(exercise.Types())
}

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = "'" + it + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// Recorder persists analysis results. store.Repository satisfies it.
type Recorder interface {
	SaveAnalysis(ctx context.Context, a *domain.Analysis) error
}

// Request is one analysis job.
type Request struct {
	Exercise     string
	Source       estimator.Source
	ExpectedReps int
	// Stride analyzes every Nth frame; 0 or 1 analyzes all of them.
	Stride int
	// Languages are the caller's language preferences for rendered text.
	Languages []string
	// Record stores the result when the service has a recorder.
	Record bool
}

// Result is the outcome of one analysis.
type Result struct {
	ID             string             `json:"id,omitempty"`
	Exercise       string             `json:"exercise"`
	Key            string             `json:"key"`
	ExpectedReps   int                `json:"expected_reps"`
	ActualReps     int                `json:"actual_reps"`
	Count          float64            `json:"count"`
	FormScore      string             `json:"form_score"`
	Feedback       string             `json:"feedback"`
	FeedbackCode   exercise.Feedback  `json:"-"`
	FormCorrect    bool               `json:"form_correct"`
	Mistakes       []string           `json:"mistakes"`
	MistakeCodes   []exercise.Mistake `json:"-"`
	FramesTotal    int                `json:"frames_total"`
	FramesAnalyzed int                `json:"frames_analyzed"`
	FramesSkipped  int                `json:"frames_skipped"`
}

// Score returns the numeric score for a result against a plan.
func (r *Result) Score(plannedReps int) int {
	return NumericScore(len(r.Mistakes), plannedReps, r.ActualReps)
}

// PercentScore is the coarse score reported by the exercise endpoints.
func PercentScore(formCorrect bool) string {
	if formCorrect {
		return "85%"
	}
	return "60%"
}

// NumericScore starts from 100, takes 5 points per mistake and 2 per missed
// rep, and clamps to [0, 100].
func NumericScore(mistakes, plannedReps, completedReps int) int {
	missed := max(plannedReps-completedReps, 0)
	return min(max(100-5*mistakes-2*missed, 0), 100)
}

// Service runs analyses.
type Service struct {
	estimator estimator.Estimator
	catalog   *feedback.Catalog
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates an analysis service. recorder may be nil.
func NewService(est estimator.Estimator, catalog *feedback.Catalog, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		estimator: est,
		catalog:   catalog,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Catalog returns the message catalog used to render results.
func (s *Service) Catalog() *feedback.Catalog {
	return s.catalog
}

func (s *Service) localizer(langs []string) *feedback.Localizer {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.For(langs...)
}

// Analyze streams frames from the request source through a fresh counter.
// Cancelling ctx stops the stream and returns ctx.Err().
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	counter, err := exercise.New(req.Exercise)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExercise, req.Exercise)
	}
	stride := max(req.Stride, 1)

	res := &Result{Key: counter.Key(), ExpectedReps: req.ExpectedReps}
	for frame, err := range s.estimator.Estimate(ctx, req.Source) {
		if err != nil {
			return nil, fmt.Errorf("estimate pose: %w", err)
		}
		res.FramesTotal++
		if (res.FramesTotal-1)%stride != 0 {
			continue
		}
		res.FramesAnalyzed++
		if _, ok := counter.Update(frame); !ok {
			res.FramesSkipped++
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := counter.State()
	loc := s.localizer(req.Languages)
	res.Exercise = counter.Name()
	if loc != nil {
		res.Exercise = loc.Exercise(counter.Key())
	}
	res.ActualReps = st.Reps()
	res.Count = st.Count
	res.FormCorrect = st.FormCorrect
	res.FormScore = PercentScore(st.FormCorrect)
	res.FeedbackCode = st.Feedback
	res.Feedback = loc.Feedback(st.Feedback)
	res.MistakeCodes = counter.Mistakes()
	res.Mistakes = loc.Mistakes(res.MistakeCodes)

	s.logger.Info("Analysis complete",
		"exercise", res.Key,
		"reps", res.ActualReps,
		"frames", res.FramesTotal,
		"analyzed", res.FramesAnalyzed,
		"skipped", res.FramesSkipped,
	)

	if req.Record && s.recorder != nil {
		if err := s.record(ctx, req, res); err != nil {
			// The result is still useful to the caller.
			s.logger.Warn("Failed to record analysis", "error", err)
		}
	}
	return res, nil
}

func (s *Service) record(ctx context.Context, req Request, res *Result) error {
	res.ID = uuid.NewString()
	a := &domain.Analysis{
		ID:             res.ID,
		Exercise:       res.Key,
		Source:         req.Source.Path,
		ExpectedReps:   res.ExpectedReps,
		ActualReps:     res.ActualReps,
		Count:          res.Count,
		FormScore:      res.FormScore,
		Score:          res.Score(res.ExpectedReps),
		Feedback:       res.Feedback,
		FormCorrect:    res.FormCorrect,
		Mistakes:       res.Mistakes,
		FramesTotal:    res.FramesTotal,
		FramesAnalyzed: res.FramesAnalyzed,
		FramesSkipped:  res.FramesSkipped,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.recorder.SaveAnalysis(ctx, a); err != nil {
		res.ID = ""
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}
