package exercise

import (
	"math"

	"github.com/ashureev/formtrack/internal/pose"
)

// Squat counts squats from the right knee angle.
type Squat struct{ core }

// Pushup counts push-ups from the left elbow angle.
type Pushup struct{ core }

// Deadlift counts deadlifts from the left hip angle.
type Deadlift struct{ core }

// Pullup counts pull-ups from the right elbow angle.
type Pullup struct{ core }

// BicepCurl counts curls from the left elbow angle.
type BicepCurl struct{ core }

var squatProfile = profile{
	key:  "squats",
	name: "Squats",
	joints: []joint{
		{Knee, pose.Triple{pose.RightHip, pose.RightKnee, pose.RightAnkle}},
		{Hip, pose.Triple{pose.RightShoulder, pose.RightHip, pose.RightKnee}},
	},
	primary: Knee,
	low:     115,
	high:    140,
	form:    func(a Angles) bool { return a[Knee] > 140 && a[Hip] > 160 },
	down:    func(a Angles) bool { return a[Knee] <= 115 && a[Hip] > 160 },
	up:      func(a Angles) bool { return a[Knee] > 140 && a[Hip] > 160 },
}

var pushupProfile = profile{
	key:  "pushups",
	name: "Pushups",
	joints: []joint{
		{Elbow, pose.Triple{pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist}},
		{Shoulder, pose.Triple{pose.LeftElbow, pose.LeftShoulder, pose.LeftHip}},
		{Hip, pose.Triple{pose.LeftShoulder, pose.LeftHip, pose.LeftKnee}},
	},
	primary: Elbow,
	low:     90,
	high:    150,
	form: func(a Angles) bool {
		return a[Elbow] > 120 && a[Shoulder] > 40 && a[Hip] > 160
	},
	down: func(a Angles) bool { return a[Elbow] <= 90 && a[Hip] > 160 },
	up: func(a Angles) bool {
		return a[Elbow] > 150 && a[Shoulder] > 40 && a[Hip] > 160
	},
}

var deadliftProfile = profile{
	key:  "deadlifts",
	name: "Deadlifts",
	joints: []joint{
		{Hip, pose.Triple{pose.LeftShoulder, pose.LeftHip, pose.LeftKnee}},
		{Knee, pose.Triple{pose.LeftHip, pose.LeftKnee, pose.LeftAnkle}},
		{Shoulder, pose.Triple{pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist}},
	},
	primary: Hip,
	low:     160,
	high:    180,
	form:    func(a Angles) bool { return a[Hip] > 170 && a[Knee] > 160 },
	down:    func(a Angles) bool { return a[Hip] <= 160 },
	up:      func(a Angles) bool { return a[Hip] > 175 && a[Knee] > 170 },
}

var pullupProfile = profile{
	key:  "pullups",
	name: "Pullups",
	joints: []joint{
		{Elbow, pose.Triple{pose.RightShoulder, pose.RightElbow, pose.RightWrist}},
		{Shoulder, pose.Triple{pose.RightElbow, pose.RightShoulder, pose.RightHip}},
	},
	primary: Elbow,
	low:     40,
	high:    160,
	form:    func(a Angles) bool { return a[Elbow] > 150 && a[Shoulder] > 40 },
	down:    func(a Angles) bool { return a[Elbow] <= 40 },
	up:      func(a Angles) bool { return a[Elbow] > 150 },
}

var bicepCurlProfile = profile{
	key:  "bicep_curls",
	name: "Bicep Curls",
	joints: []joint{
		{Elbow, pose.Triple{pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist}},
	},
	primary: Elbow,
	low:     40,
	high:    160,
	form:    func(a Angles) bool { return a[Elbow] > 150 },
	down:    func(a Angles) bool { return a[Elbow] <= 40 },
	up:      func(a Angles) bool { return a[Elbow] > 150 },
}

// NewSquat returns a squat counter in its initial state.
func NewSquat() *Squat {
	return &Squat{core: newCore(squatProfile, inspectSquat)}
}

func NewPushup() *Pushup {
	return &Pushup{core: newCore(pushupProfile, inspectPushup)}
}

func NewDeadlift() *Deadlift {
	return &Deadlift{core: newCore(deadliftProfile, inspectDeadlift)}
}

func NewPullup() *Pullup {
	return &Pullup{core: newCore(pullupProfile, nil)}
}

func NewBicepCurl() *BicepCurl {
	return &BicepCurl{core: newCore(bicepCurlProfile, nil)}
}

// Squat depth is judged once per rep, on the lowest knee angle of the rep.
func inspectSquat(r reading, m *mistakeSet) {
	if r.completedRep() && r.bottom > 100 {
		m.add(MistakeSquatDepthShallow)
	}
	if r.partial {
		m.add(MistakeSquatDepthShallow)
	}
	knee, okKnee := pose.Coords(r.landmarks, pose.RightKnee)
	ankle, okAnkle := pose.Coords(r.landmarks, pose.RightAnkle)
	if okKnee && okAnkle && math.Abs(knee.X-ankle.X) > 0.3 {
		m.add(MistakeKneeAlignment)
	}
}

// The elbow should sit near 90 degrees at the bottom of a push-up; a much
// tighter bend means the elbows flared out.
func inspectPushup(r reading, m *mistakeSet) {
	if r.state.Direction == DirectionDown && r.angles[Hip] < 160 {
		m.add(MistakeHipsSagging)
	}
	if r.completedRep() && math.Abs(r.bottom-90) > 30 {
		m.add(MistakeElbowsFlaring)
	}
	if r.partial {
		m.add(MistakePushupDepthShallow)
	}
}

func inspectDeadlift(r reading, m *mistakeSet) {
	// Rising phase: bottom reached, lockout not yet.
	if r.state.Direction == DirectionDown && !r.reachedBottom() {
		if math.Abs(r.angles[Hip]-r.angles[Knee]) > 30 {
			m.add(MistakeHipsRisingEarly)
		}
	}
	if r.completedRep() {
		if lean, ok := torsoLean(r.points); ok && lean > 20 {
			m.add(MistakeBackNotStraight)
		}
	}
}

// torsoLean is how far the hip-to-shoulder line tilts from vertical, in
// degrees. Image y grows downward, so upright is straight up.
func torsoLean(points []pose.Landmark) (float64, bool) {
	shoulder, ok := pose.Coords(points, pose.LeftShoulder)
	if !ok {
		return 0, false
	}
	hip, ok := pose.Coords(points, pose.LeftHip)
	if !ok {
		return 0, false
	}
	upright := pose.Point{X: hip.X, Y: hip.Y - 1}
	angle := pose.CalculateAngle(upright, hip, shoulder)
	if angle > 180 {
		angle = 360 - angle
	}
	return angle, true
}
