package estimator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ashureev/formtrack/internal/exercise"
	"github.com/ashureev/formtrack/internal/pose"
)

const arrayJSON = `[
  {"index": 1, "width": 640, "height": 480, "landmarks": [{"x": 0.1, "y": 0.2, "z": 0, "visibility": 0.9}]},
  {"index": 0, "landmarks": []}
]`

const namedJSON = `{
  "width": 1280, "height": 720,
  "frames": {
    "10": {"mediapipe": {"left hip": {"x": 0.4, "y": 0.6, "z": 0.1, "visibility": 0.8}}},
    "2":  {"mediapipe": {"RIGHT_KNEE": {"x": 0.5, "y": 0.7}}},
    "3":  {"mediapipe": {}}
  }
}`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func collect(t *testing.T, e Estimator, src Source) ([]*pose.Frame, error) {
	t.Helper()
	var frames []*pose.Frame
	for f, err := range e.Estimate(context.Background(), src) {
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func TestDecodeArrayLayout(t *testing.T) {
	t.Parallel()

	frames, err := Decode(strings.NewReader(arrayJSON))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if frames[0].Index != 0 || frames[1].Index != 1 {
		t.Errorf("frames not sorted by index: %d, %d", frames[0].Index, frames[1].Index)
	}
	if frames[0].HasPose() {
		t.Error("expected frame 0 to have no pose")
	}
	if got := frames[1]; got.Width != 640 || got.Landmarks[0].X != 0.1 {
		t.Errorf("frame 1 = %+v", got)
	}
}

func TestDecodeNamedLayout(t *testing.T) {
	t.Parallel()

	frames, err := Decode(strings.NewReader(namedJSON))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}

	wantOrder := []int{2, 3, 10}
	for i, f := range frames {
		if f.Index != wantOrder[i] {
			t.Errorf("frames[%d].Index = %d, want %d", i, f.Index, wantOrder[i])
		}
	}

	knee := frames[0].Landmarks[pose.RightKnee]
	if knee.X != 0.5 || knee.Y != 0.7 {
		t.Errorf("right knee = %+v", knee)
	}
	if frames[1].HasPose() {
		t.Error("expected empty mediapipe map to decode as no pose")
	}
	hip := frames[2].Landmarks[pose.LeftHip]
	if hip.X != 0.4 || hip.Visibility != 0.8 {
		t.Errorf("left hip = %+v", hip)
	}
	if frames[2].Width != 1280 || frames[2].Height != 720 {
		t.Errorf("frame size = %dx%d, want file-level 1280x720", frames[2].Width, frames[2].Height)
	}
	if len(frames[2].Landmarks) != pose.LandmarkCount {
		t.Errorf("len(landmarks) = %d, want %d", len(frames[2].Landmarks), pose.LandmarkCount)
	}
	if !frames[2].Landmarks[pose.RightKnee].Missing {
		t.Error("unreported right knee should be marked missing")
	}
}

func TestNamedLayoutMissingJointSkipsFrame(t *testing.T) {
	t.Parallel()

	const partial = `{"frames": {"0": {"mediapipe": {
	  "right_shoulder": {"x": 0.5, "y": 0.2, "visibility": 1},
	  "right_hip": {"x": 0.5, "y": 0.5, "visibility": 1},
	  "right_knee": {"x": 0.5, "y": 0.7, "visibility": 1}
	}}}}`
	frames, err := Decode(strings.NewReader(partial))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(frames) != 1 || !frames[0].HasPose() {
		t.Fatalf("frames = %+v", frames)
	}
	if !frames[0].Landmarks[pose.RightAnkle].Missing {
		t.Fatal("right ankle should be marked missing")
	}

	squat := exercise.NewSquat()
	before := squat.State()
	state, applied := squat.Update(frames[0])
	if applied {
		t.Error("frame without right ankle should be skipped")
	}
	if state != before {
		t.Errorf("state changed: %+v -> %+v", before, state)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Decode(strings.NewReader("   ")); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := Decode(strings.NewReader("hello")); err == nil {
		t.Error("expected error for non-JSON input")
	}
	if _, err := Decode(strings.NewReader(`{"frames": {"abc": {}}}`)); err == nil {
		t.Error("expected error for non-numeric frame key")
	}
}

func TestFileDecoderCompressed(t *testing.T) {
	t.Parallel()

	var gz strings.Builder
	gw := gzip.NewWriter(&gz)
	if _, err := gw.Write([]byte(arrayJSON)); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}

	var zs strings.Builder
	zw, err := zstd.NewWriter(&zs)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write([]byte(namedJSON)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		file string
		data string
		want int
	}{
		{"plain", "squat.json", arrayJSON, 2},
		{"gzip", "squat.json.gz", gz.String(), 2},
		{"zstd", "squat.JSON.zst", zs.String(), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, []byte(tt.data))
			frames, err := collect(t, NewFileDecoder(), Source{Path: path})
			if err != nil {
				t.Fatalf("Estimate() error = %v", err)
			}
			if len(frames) != tt.want {
				t.Errorf("len(frames) = %d, want %d", len(frames), tt.want)
			}
		})
	}
}

func TestFileDecoderErrors(t *testing.T) {
	t.Parallel()

	d := NewFileDecoder()

	_, err := collect(t, d, Source{Path: "/no/such/file.json"})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want ErrNotExist", err)
	}

	_, err = collect(t, d, Source{Path: "clip.mp4"})
	if !errors.Is(err, ErrUnsupportedSource) {
		t.Errorf("video path error = %v, want ErrUnsupportedSource", err)
	}
}

func TestFramesStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range Frames(&pose.Frame{}, &pose.Frame{}).Estimate(ctx, Source{}) {
		gotErr = err
	}
	if !errors.Is(gotErr, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", gotErr)
	}
}

func TestIsLandmarkFile(t *testing.T) {
	t.Parallel()

	for path, want := range map[string]bool{
		"a.json":     true,
		"a.json.gz":  true,
		"a.JSON.ZST": true,
		"a.mp4":      false,
		"a.gz":       false,
	} {
		if got := IsLandmarkFile(path); got != want {
			t.Errorf("IsLandmarkFile(%q) = %v, want %v", path, got, want)
		}
	}
}
