package estimator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ashureev/formtrack/internal/pose"
)

// Landmark file suffixes the FileDecoder understands.
var landmarkSuffixes = []string{".json", ".json.gz", ".json.zst"}

// IsLandmarkFile reports whether path names a pre-extracted landmark file.
func IsLandmarkFile(path string) bool {
	lower := strings.ToLower(path)
	for _, s := range landmarkSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// FileDecoder replays landmarks saved by an earlier pose-estimation run.
//
// Two layouts are accepted: a JSON array of frames
//
//	[{"index": 0, "width": 640, "height": 480, "landmarks": [{"x": ..}, ..]}, ..]
//
// and the name-keyed layout written by MediaPipe trace tools
//
//	{"frames": {"0": {"mediapipe": {"left_hip": {"x": .., "visibility": ..}}}}}
type FileDecoder struct{}

// NewFileDecoder returns a decoder for landmark files.
func NewFileDecoder() *FileDecoder {
	return &FileDecoder{}
}

// Estimate reads the whole file, then yields its frames in index order.
func (d *FileDecoder) Estimate(ctx context.Context, src Source) iter.Seq2[*pose.Frame, error] {
	if src.Live || !IsLandmarkFile(src.Path) {
		return failed(fmt.Errorf("%w: %s", ErrUnsupportedSource, src.Path))
	}
	frames, err := d.Load(src.Path)
	if err != nil {
		return failed(err)
	}
	return Frames(frames...).Estimate(ctx, src)
}

// Load decodes every frame from a landmark file.
func (d *FileDecoder) Load(path string) ([]*pose.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open landmark file: %w", err)
	}
	defer f.Close()

	r, closeFn, err := decompress(path, f)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	frames, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return frames, nil
}

func decompress(path string, r io.Reader) (io.Reader, func(), error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case strings.HasSuffix(lower, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return r, func() {}, nil
	}
}

type arrayFrame struct {
	Index     int             `json:"index"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Landmarks []pose.Landmark `json:"landmarks"`
}

type namedPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

type namedFrame struct {
	Width     int                   `json:"width"`
	Height    int                   `json:"height"`
	Mediapipe map[string]namedPoint `json:"mediapipe"`
}

type namedFile struct {
	Width  int                   `json:"width"`
	Height int                   `json:"height"`
	Frames map[string]namedFrame `json:"frames"`
}

// Decode parses landmark JSON in either supported layout.
func Decode(r io.Reader) ([]*pose.Frame, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		return nil, err
	}

	switch first {
	case '[':
		var raw []arrayFrame
		if err := json.NewDecoder(br).Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse frame array: %w", err)
		}
		frames := make([]*pose.Frame, len(raw))
		for i, rf := range raw {
			for j := range rf.Landmarks {
				rf.Landmarks[j].Index = j
			}
			frames[i] = &pose.Frame{Index: rf.Index, Width: rf.Width, Height: rf.Height, Landmarks: rf.Landmarks}
		}
		sort.SliceStable(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })
		return frames, nil
	case '{':
		var raw namedFile
		if err := json.NewDecoder(br).Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse named frames: %w", err)
		}
		return namedFrames(raw)
	default:
		return nil, fmt.Errorf("unexpected leading byte %q", first)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read landmark data: %w", err)
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

func namedFrames(raw namedFile) ([]*pose.Frame, error) {
	frames := make([]*pose.Frame, 0, len(raw.Frames))
	for key, nf := range raw.Frames {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("frame key %q is not a number", key)
		}
		frame := &pose.Frame{Index: idx, Width: nf.Width, Height: nf.Height}
		if frame.Width == 0 && frame.Height == 0 {
			frame.Width, frame.Height = raw.Width, raw.Height
		}
		if len(nf.Mediapipe) > 0 {
			frame.Landmarks = make([]pose.Landmark, pose.LandmarkCount)
			for i := range frame.Landmarks {
				frame.Landmarks[i] = pose.Landmark{Index: i, Missing: true}
			}
			for name, p := range nf.Mediapipe {
				i, ok := pose.LandmarkIndex(name)
				if !ok {
					continue
				}
				frame.Landmarks[i] = pose.Landmark{Index: i, X: p.X, Y: p.Y, Z: p.Z, Visibility: p.Visibility}
			}
		}
		frames = append(frames, frame)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })
	return frames, nil
}

// Ensure FileDecoder implements Estimator.
var _ Estimator = (*FileDecoder)(nil)
