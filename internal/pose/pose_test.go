package pose

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 0.1
}

func TestCalculateAngle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		p1, p2, p3 Point
		want       float64
	}{
		{"right angle", Point{0, 0}, Point{0, 1}, Point{1, 1}, 90},
		{"collinear", Point{0, 0}, Point{1, 0}, Point{2, 0}, 180},
		{"negative raw wraps", Point{1, 1}, Point{0, 1}, Point{0, 0}, 270},
		{"reflex side", Point{1, 0}, Point{0, 0}, Point{0, -1}, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateAngle(tt.p1, tt.p2, tt.p3)
			if !approx(got, tt.want) {
				t.Errorf("CalculateAngle() = %v, want %v", got, tt.want)
			}
			if got < 0 || got >= 360 {
				t.Errorf("CalculateAngle() = %v, want value in [0, 360)", got)
			}
		})
	}
}

func TestCoords(t *testing.T) {
	t.Parallel()

	landmarks := []Landmark{
		{Index: 0, X: 100, Y: 200},
		{Index: 1, X: 150, Y: 250},
		{Index: 2, X: 200, Y: 300},
	}

	got, ok := Coords(landmarks, 1)
	if !ok {
		t.Fatal("expected landmark 1 to be found")
	}
	if got != (Point{150, 250}) {
		t.Errorf("Coords(1) = %v, want (150, 250)", got)
	}

	if _, ok := Coords(landmarks, 5); ok {
		t.Error("expected out-of-range index to report false")
	}
	if _, ok := Coords(landmarks, -1); ok {
		t.Error("expected negative index to report false")
	}
}

func TestCoordsMissingLandmark(t *testing.T) {
	t.Parallel()

	landmarks := []Landmark{{Index: 0, X: 0.5, Y: 0.5}, {Index: 1, Missing: true}}
	if _, ok := Coords(landmarks, 1); ok {
		t.Error("expected unreported landmark to report false")
	}
	if _, ok := AngleAt(landmarks, Triple{0, 1, 0}); ok {
		t.Error("expected angle through an unreported landmark to report false")
	}
}

func TestAngleAtMissingLandmark(t *testing.T) {
	t.Parallel()

	landmarks := make([]Landmark, 20)
	if _, ok := AngleAt(landmarks, Triple{LeftHip, LeftKnee, LeftAnkle}); ok {
		t.Error("expected missing hip/knee/ankle to report false")
	}
}

func TestInterp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		x, want float64
	}{
		{100, 0},
		{115, 0},
		{127.5, 50},
		{140, 100},
		{170, 100},
	}
	for _, tt := range tests {
		if got := Interp(tt.x, 115, 140, 0, 100); !approx(got, tt.want) {
			t.Errorf("Interp(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}

	// Decreasing output range, as used for the on-screen bar.
	if got := Interp(115, 115, 140, 380, 50); got != 380 {
		t.Errorf("Interp decreasing low end = %v, want 380", got)
	}
}

func TestPixelLandmarks(t *testing.T) {
	t.Parallel()

	f := &Frame{Width: 640, Height: 480, Landmarks: []Landmark{{X: 0.5, Y: 0.5}}}
	got := f.PixelLandmarks()
	if got[0].X != 320 || got[0].Y != 240 {
		t.Errorf("PixelLandmarks() = %+v, want (320, 240)", got[0])
	}
	if f.Landmarks[0].X != 0.5 {
		t.Error("PixelLandmarks must not mutate the frame")
	}

	unsized := &Frame{Landmarks: []Landmark{{X: 0.25, Y: 0.75}}}
	if got := unsized.PixelLandmarks(); got[0].X != 0.25 {
		t.Errorf("expected unsized frame to keep normalized coords, got %+v", got[0])
	}
}

func TestLandmarkIndex(t *testing.T) {
	t.Parallel()

	if i, ok := LandmarkIndex("LEFT_HIP"); !ok || i != LeftHip {
		t.Errorf("LandmarkIndex(LEFT_HIP) = %d, %v", i, ok)
	}
	if i, ok := LandmarkIndex("left wrist"); !ok || i != LeftWrist {
		t.Errorf("LandmarkIndex(left wrist) = %d, %v", i, ok)
	}
	if _, ok := LandmarkIndex("tail"); ok {
		t.Error("expected unknown name to report false")
	}
	if LandmarkName(RightAnkle) != "right_ankle" {
		t.Errorf("LandmarkName(RightAnkle) = %q", LandmarkName(RightAnkle))
	}
}
