package pose

import "strings"

// MediaPipe pose landmark indices.
const (
	Nose           = 0
	LeftEyeInner   = 1
	LeftEye        = 2
	LeftEyeOuter   = 3
	RightEyeInner  = 4
	RightEye       = 5
	RightEyeOuter  = 6
	LeftEar        = 7
	RightEar       = 8
	MouthLeft      = 9
	MouthRight     = 10
	LeftShoulder   = 11
	RightShoulder  = 12
	LeftElbow      = 13
	RightElbow     = 14
	LeftWrist      = 15
	RightWrist     = 16
	LeftPinky      = 17
	RightPinky     = 18
	LeftIndex      = 19
	RightIndex     = 20
	LeftThumb      = 21
	RightThumb     = 22
	LeftHip        = 23
	RightHip       = 24
	LeftKnee       = 25
	RightKnee      = 26
	LeftAnkle      = 27
	RightAnkle     = 28
	LeftHeel       = 29
	RightHeel      = 30
	LeftFootIndex  = 31
	RightFootIndex = 32

	// LandmarkCount is the number of points in a full MediaPipe pose.
	LandmarkCount = 33
)

// Triple names three landmarks; the angle is measured at the middle one.
type Triple [3]int

var landmarkNames = [LandmarkCount]string{
	"nose",
	"left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear",
	"mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_pinky", "right_pinky",
	"left_index", "right_index",
	"left_thumb", "right_thumb",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
	"left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

var landmarkIndex = func() map[string]int {
	m := make(map[string]int, LandmarkCount)
	for i, name := range landmarkNames {
		m[name] = i
	}
	return m
}()

// LandmarkName returns the snake_case MediaPipe name for an index.
func LandmarkName(index int) string {
	if index < 0 || index >= LandmarkCount {
		return ""
	}
	return landmarkNames[index]
}

// LandmarkIndex resolves a landmark name such as "LEFT_HIP", "left_hip" or
// "left hip".
func LandmarkIndex(name string) (int, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "_")
	i, ok := landmarkIndex[key]
	return i, ok
}
