package analysis

import (
	"context"
	"errors"
	"iter"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/formtrack/internal/domain"
	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/feedback"
	"github.com/ashureev/formtrack/internal/pose"
)

// curlFrame places the left arm so the elbow angle equals deg.
func curlFrame(deg float64) *pose.Frame {
	lms := make([]pose.Landmark, pose.LandmarkCount)
	for i := range lms {
		lms[i] = pose.Landmark{Index: i, X: 0.5, Y: 0.5, Visibility: 1}
	}
	lms[pose.LeftElbow] = pose.Landmark{Index: pose.LeftElbow, X: 0.5, Y: 0.5, Visibility: 1}
	lms[pose.LeftShoulder] = pose.Landmark{Index: pose.LeftShoulder, X: 0.7, Y: 0.5, Visibility: 1}
	rad := deg * math.Pi / 180
	lms[pose.LeftWrist] = pose.Landmark{
		Index:      pose.LeftWrist,
		X:          0.5 + 0.2*math.Cos(rad),
		Y:          0.5 + 0.2*math.Sin(rad),
		Visibility: 1,
	}
	return &pose.Frame{Landmarks: lms}
}

func empty() *pose.Frame { return &pose.Frame{} }

type fakeRecorder struct {
	mu    sync.Mutex
	saved []*domain.Analysis
	err   error
}

func (f *fakeRecorder) SaveAnalysis(_ context.Context, a *domain.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, a)
	return nil
}

func newCatalog(t *testing.T) *feedback.Catalog {
	t.Helper()
	c, err := feedback.NewCatalog("en")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func TestAnalyzeCountsReps(t *testing.T) {
	t.Parallel()

	est := estimator.Frames(curlFrame(170), curlFrame(30), curlFrame(170), curlFrame(30), curlFrame(170))
	rec := &fakeRecorder{}
	svc := NewService(est, newCatalog(t), rec, nil)

	res, err := svc.Analyze(context.Background(), Request{
		Exercise:     "Bicep Curls",
		ExpectedReps: 3,
		Source:       estimator.Source{Path: "curls.json"},
		Record:       true,
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if res.Count != 2.0 || res.ActualReps != 2 {
		t.Errorf("count = %v reps = %d, want 2.0 / 2", res.Count, res.ActualReps)
	}
	if res.Exercise != "Bicep Curls" || res.Key != "bicep_curls" {
		t.Errorf("exercise = %q key = %q", res.Exercise, res.Key)
	}
	if !res.FormCorrect || res.FormScore != "85%" {
		t.Errorf("form = %v score = %q", res.FormCorrect, res.FormScore)
	}
	if res.Feedback != "Up" {
		t.Errorf("feedback = %q, want Up", res.Feedback)
	}
	if res.FramesTotal != 5 || res.FramesAnalyzed != 5 || res.FramesSkipped != 0 {
		t.Errorf("frames = %d/%d/%d", res.FramesTotal, res.FramesAnalyzed, res.FramesSkipped)
	}

	if len(rec.saved) != 1 {
		t.Fatalf("recorded %d analyses, want 1", len(rec.saved))
	}
	saved := rec.saved[0]
	if saved.ID == "" || saved.ID != res.ID {
		t.Errorf("saved id = %q, result id = %q", saved.ID, res.ID)
	}
	if saved.Source != "curls.json" || saved.Score != 98 {
		t.Errorf("saved = %+v", saved)
	}
}

func TestAnalyzeStride(t *testing.T) {
	t.Parallel()

	frames := []*pose.Frame{
		curlFrame(170), empty(), empty(),
		curlFrame(30), empty(), empty(),
		curlFrame(170), empty(), empty(),
	}
	svc := NewService(estimator.Frames(frames...), newCatalog(t), nil, nil)

	res, err := svc.Analyze(context.Background(), Request{Exercise: "curls", Stride: 3})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Count != 1.0 {
		t.Errorf("count = %v, want 1.0", res.Count)
	}
	if res.FramesTotal != 9 || res.FramesAnalyzed != 3 || res.FramesSkipped != 0 {
		t.Errorf("stride 3 frames = %d/%d/%d, want 9/3/0", res.FramesTotal, res.FramesAnalyzed, res.FramesSkipped)
	}

	res, err = svc.Analyze(context.Background(), Request{Exercise: "curls"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Count != 1.0 || res.FramesAnalyzed != 9 || res.FramesSkipped != 6 {
		t.Errorf("stride 1: count %v analyzed %d skipped %d", res.Count, res.FramesAnalyzed, res.FramesSkipped)
	}
	if res.ID != "" {
		t.Errorf("unrecorded result has id %q", res.ID)
	}
}

func TestAnalyzeUnsupported(t *testing.T) {
	t.Parallel()

	svc := NewService(estimator.Frames(), newCatalog(t), nil, nil)
	_, err := svc.Analyze(context.Background(), Request{Exercise: "burpees"})
	if !errors.Is(err, ErrUnsupportedExercise) {
		t.Fatalf("err = %v, want ErrUnsupportedExercise", err)
	}

	want := "Unsupported exercise type. Supported types: ['squats', 'pushups', 'deadlifts', 'pullups', 'bicep_curls']"
	if got := UnsupportedMessage(); got != want {
		t.Errorf("UnsupportedMessage() = %q", got)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("decoder exploded")
	failing := estimator.Func(func(context.Context, estimator.Source) iter.Seq2[*pose.Frame, error] {
		return func(yield func(*pose.Frame, error) bool) {
			if !yield(curlFrame(170), nil) {
				return
			}
			yield(nil, boom)
		}
	})
	svc := NewService(failing, newCatalog(t), nil, nil)
	if _, err := svc.Analyze(context.Background(), Request{Exercise: "squats"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc = NewService(estimator.Frames(curlFrame(170)), newCatalog(t), nil, nil)
	if _, err := svc.Analyze(ctx, Request{Exercise: "curls"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAnalyzeRecorderFailureKeepsResult(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{err: errors.New("disk full")}
	svc := NewService(estimator.Frames(curlFrame(170)), newCatalog(t), rec, nil)

	res, err := svc.Analyze(context.Background(), Request{Exercise: "curls", Record: true})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.ID != "" {
		t.Errorf("id = %q, want empty after failed save", res.ID)
	}
}

func TestAnalyzeLocalized(t *testing.T) {
	t.Parallel()

	svc := NewService(estimator.Frames(curlFrame(170)), newCatalog(t), nil, nil)
	res, err := svc.Analyze(context.Background(), Request{Exercise: "curls", Languages: []string{"de-DE"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Feedback == "Up" || strings.HasPrefix(res.Feedback, "feedback.") {
		t.Errorf("German feedback = %q", res.Feedback)
	}
}

func TestScores(t *testing.T) {
	t.Parallel()

	if PercentScore(true) != "85%" || PercentScore(false) != "60%" {
		t.Error("PercentScore mismatch")
	}

	tests := []struct {
		mistakes, planned, completed, want int
	}{
		{0, 10, 10, 100},
		{2, 10, 8, 86},
		{0, 5, 8, 100},
		{30, 10, 0, 0},
		{1, 0, 0, 95},
	}
	for _, tt := range tests {
		if got := NumericScore(tt.mistakes, tt.planned, tt.completed); got != tt.want {
			t.Errorf("NumericScore(%d, %d, %d) = %d, want %d", tt.mistakes, tt.planned, tt.completed, got, tt.want)
		}
	}
}
