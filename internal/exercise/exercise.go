// Package exercise counts repetitions from pose frames using joint-angle
// thresholds with up/down hysteresis.
package exercise

import (
	"github.com/ashureev/formtrack/internal/pose"
)

// Direction is the phase the counter expects next.
type Direction string

const (
	// DirectionUp means the athlete is at or returning to the top; the next
	// bottom position completes the first half of a rep.
	DirectionUp Direction = "up"
	// DirectionDown means the bottom was reached; the next top position
	// completes the rep.
	DirectionDown Direction = "down"
)

// Feedback is the per-frame cue code. It is localized by the feedback package.
type Feedback string

const (
	FeedbackFixForm Feedback = "fix_form"
	FeedbackUp      Feedback = "up"
	FeedbackDown    Feedback = "down"
)

// Joint names a measured angle.
type Joint string

const (
	Knee     Joint = "knee"
	Hip      Joint = "hip"
	Elbow    Joint = "elbow"
	Shoulder Joint = "shoulder"
)

// Angles holds the joint angles measured on one frame, in degrees.
type Angles map[Joint]float64

// State is the running result of a counter for one video or live session.
type State struct {
	Count       float64   `json:"count"`
	Direction   Direction `json:"direction"`
	Angle       float64   `json:"angle"`
	Progress    float64   `json:"progress"`
	FormCorrect bool      `json:"form_correct"`
	Feedback    Feedback  `json:"feedback"`
}

// Reps returns the number of completed repetitions.
func (s State) Reps() int {
	return int(s.Count)
}

func initialState() State {
	return State{Direction: DirectionUp, Feedback: FeedbackFixForm}
}

// Counter consumes frames for one exercise and keeps the running state.
type Counter interface {
	// Key is the registry key, e.g. "squats".
	Key() string
	// Name is the display name, e.g. "Squats".
	Name() string
	// Update applies one frame. It returns false when the frame was skipped
	// because no pose was detected or a required landmark is missing.
	Update(frame *pose.Frame) (State, bool)
	State() State
	// Mistakes returns the distinct form mistakes seen so far, in the order
	// they were first detected.
	Mistakes() []Mistake
	Reset()
}

type joint struct {
	name   Joint
	triple pose.Triple
}

// profile is the threshold table for one exercise.
type profile struct {
	key  string
	name string

	// joints must all be measurable for a frame to count.
	joints  []joint
	primary Joint

	low, high float64

	form func(Angles) bool
	down func(Angles) bool
	up   func(Angles) bool
}

// reading is what a mistake check sees after a frame was applied.
type reading struct {
	angles    Angles
	landmarks []pose.Landmark // normalized
	points    []pose.Landmark // pixel space when the frame size is known
	prev      State
	state     State
	// bottom is the smallest primary angle seen since the last bottom
	// transition.
	bottom float64
	// partial is set when the athlete returned to the top without reaching
	// the bottom after dipping past the midpoint.
	partial bool
}

func (r reading) reachedBottom() bool {
	return r.prev.Direction == DirectionUp && r.state.Direction == DirectionDown
}

func (r reading) completedRep() bool {
	return r.prev.Direction == DirectionDown && r.state.Direction == DirectionUp
}

// core is the hysteresis state machine shared by every exercise.
type core struct {
	profile profile
	inspect func(r reading, m *mistakeSet)

	state    State
	mistakes mistakeSet
	bottom   float64
	dipped   bool
}

func newCore(p profile, inspect func(r reading, m *mistakeSet)) core {
	return core{profile: p, inspect: inspect, state: initialState()}
}

func (c *core) Key() string  { return c.profile.key }
func (c *core) Name() string { return c.profile.name }

func (c *core) State() State { return c.state }

func (c *core) Mistakes() []Mistake { return c.mistakes.list() }

func (c *core) Reset() {
	c.state = initialState()
	c.mistakes = mistakeSet{}
	c.bottom = 0
	c.dipped = false
}

func (c *core) measure(landmarks []pose.Landmark) (Angles, bool) {
	angles := make(Angles, len(c.profile.joints))
	for _, j := range c.profile.joints {
		a, ok := pose.AngleAt(landmarks, j.triple)
		if !ok {
			return nil, false
		}
		angles[j.name] = a
	}
	return angles, true
}

func (c *core) Update(frame *pose.Frame) (State, bool) {
	if !frame.HasPose() {
		return c.state, false
	}
	points := frame.PixelLandmarks()
	angles, ok := c.measure(points)
	if !ok {
		return c.state, false
	}

	p := c.profile
	prev := c.state
	next := prev
	next.Angle = angles[p.primary]
	next.Progress = pose.Interp(next.Angle, p.low, p.high, 0, 100)
	next.FormCorrect = p.form(angles)
	next.Feedback = FeedbackFixForm

	partial := false
	switch {
	case next.Progress == 0 && p.down(angles):
		next.Feedback = FeedbackDown
		if prev.Direction == DirectionUp {
			next.Direction = DirectionDown
			next.Count += 0.5
			c.bottom = next.Angle
			c.dipped = false
		}
	case next.Progress == 100 && p.up(angles):
		next.Feedback = FeedbackUp
		if prev.Direction == DirectionDown {
			next.Direction = DirectionUp
			next.Count += 0.5
		} else if c.dipped {
			partial = true
			c.dipped = false
		}
	}

	if next.Direction == DirectionDown && next.Angle < c.bottom {
		c.bottom = next.Angle
	}
	if next.Direction == DirectionUp && next.Progress < 50 {
		c.dipped = true
	}

	c.state = next
	if c.inspect != nil {
		c.inspect(reading{
			angles:    angles,
			landmarks: frame.Landmarks,
			points:    points,
			prev:      prev,
			state:     next,
			bottom:    c.bottom,
			partial:   partial,
		}, &c.mistakes)
	}
	return next, true
}
