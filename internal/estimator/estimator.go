// Package estimator turns a video source into a stream of pose frames. The
// pose model itself runs out of process; this package talks to it over gRPC or
// reads landmark files it produced earlier.
package estimator

import (
	"context"
	"errors"
	"iter"

	"github.com/ashureev/formtrack/internal/pose"
)

var (
	// ErrUnavailable means no pose service is configured for a source that
	// needs one.
	ErrUnavailable = errors.New("pose service unavailable")
	// ErrUnsupportedSource is returned for a source the estimator can't read.
	ErrUnsupportedSource = errors.New("unsupported video source")
)

// Source describes where frames come from. Exactly one of Path or Live is
// used.
type Source struct {
	// Path is a video file or a landmark file on the local filesystem.
	Path string
	// Live selects a camera attached to the pose service host.
	Live        bool
	CameraIndex int
}

// Estimator yields one frame per decoded video frame, in order. Frames with no
// detected person carry an empty landmark list. The sequence ends when the
// source is exhausted, the context is done, or an error is yielded.
type Estimator interface {
	Estimate(ctx context.Context, src Source) iter.Seq2[*pose.Frame, error]
}

// Options tune the pose model per request.
type Options struct {
	ModelComplexity        int
	MinDetectionConfidence float64
	MinTrackingConfidence  float64
}

// DefaultOptions matches the usual MediaPipe settings.
func DefaultOptions() Options {
	return Options{
		ModelComplexity:        1,
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
	}
}

// Func adapts a function to the Estimator interface.
type Func func(ctx context.Context, src Source) iter.Seq2[*pose.Frame, error]

// Estimate calls f.
func (f Func) Estimate(ctx context.Context, src Source) iter.Seq2[*pose.Frame, error] {
	return f(ctx, src)
}

// Frames returns an Estimator that replays fixed frames regardless of the
// source. Used by tests and demos.
func Frames(frames ...*pose.Frame) Estimator {
	return Func(func(ctx context.Context, _ Source) iter.Seq2[*pose.Frame, error] {
		return func(yield func(*pose.Frame, error) bool) {
			for _, f := range frames {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if !yield(f, nil) {
					return
				}
			}
		}
	})
}

func failed(err error) iter.Seq2[*pose.Frame, error] {
	return func(yield func(*pose.Frame, error) bool) {
		yield(nil, err)
	}
}
