// Package pose holds body-landmark types and the joint geometry used by the
// exercise counters.
package pose

import "math"

// Landmark is one body-joint position estimated by the pose model for a frame.
// X and Y are normalized to [0, 1] relative to the frame size.
type Landmark struct {
	Index      int     `json:"index"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
	// Missing marks a slot the source did not report. Coords rejects it.
	Missing bool `json:"missing,omitempty"`
}

// Point is a 2D coordinate.
type Point struct {
	X float64
	Y float64
}

// Frame is the pose model output for a single video frame.
// Landmarks is empty when no person was detected.
type Frame struct {
	Index     int        `json:"index"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	Landmarks []Landmark `json:"landmarks"`
}

// HasPose reports whether the model detected a person in the frame.
func (f *Frame) HasPose() bool {
	return f != nil && len(f.Landmarks) > 0
}

// PixelLandmarks returns the landmarks scaled into pixel space when the frame
// dimensions are known. Angles are measured on these so that non-square frames
// don't skew them.
func (f *Frame) PixelLandmarks() []Landmark {
	if f.Width <= 0 || f.Height <= 0 {
		return f.Landmarks
	}
	scaled := make([]Landmark, len(f.Landmarks))
	for i, lm := range f.Landmarks {
		lm.X *= float64(f.Width)
		lm.Y *= float64(f.Height)
		scaled[i] = lm
	}
	return scaled
}

// CalculateAngle returns the angle at p2 formed by p1-p2-p3, in degrees.
// The result is in [0, 360); it is not folded to the smaller side.
func CalculateAngle(p1, p2, p3 Point) float64 {
	radians := math.Atan2(p3.Y-p2.Y, p3.X-p2.X) - math.Atan2(p1.Y-p2.Y, p1.X-p2.X)
	angle := radians * 180 / math.Pi
	if angle < 0 {
		angle += 360
	}
	return angle
}

// Coords returns the (x, y) position of the landmark at index, or false if the
// index is out of range or the landmark was not reported.
func Coords(landmarks []Landmark, index int) (Point, bool) {
	if index < 0 || index >= len(landmarks) {
		return Point{}, false
	}
	lm := landmarks[index]
	if lm.Missing {
		return Point{}, false
	}
	return Point{X: lm.X, Y: lm.Y}, true
}

// AngleAt computes the angle for a landmark triple. It returns false if any of
// the three landmarks is missing.
func AngleAt(landmarks []Landmark, t Triple) (float64, bool) {
	a, ok := Coords(landmarks, t[0])
	if !ok {
		return 0, false
	}
	b, ok := Coords(landmarks, t[1])
	if !ok {
		return 0, false
	}
	c, ok := Coords(landmarks, t[2])
	if !ok {
		return 0, false
	}
	return CalculateAngle(a, b, c), true
}

// Interp maps x from [x0, x1] onto [y0, y1], clamping to the end values
// outside the input range.
func Interp(x, x0, x1, y0, y1 float64) float64 {
	if x0 > x1 {
		x0, x1 = x1, x0
		y0, y1 = y1, y0
	}
	if x <= x0 {
		return y0
	}
	if x >= x1 {
		return y1
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}
