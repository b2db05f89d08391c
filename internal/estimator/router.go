package estimator

import (
	"context"
	"iter"

	"github.com/ashureev/formtrack/internal/pose"
)

// Router sends landmark files to the file decoder and everything else to the
// pose service. Remote may be nil when no pose service is configured.
type Router struct {
	Files  Estimator
	Remote Estimator
}

// NewRouter builds a Router. A nil files estimator defaults to a FileDecoder.
func NewRouter(files, remote Estimator) *Router {
	if files == nil {
		files = NewFileDecoder()
	}
	return &Router{Files: files, Remote: remote}
}

// HasRemote reports whether video and camera sources can be served.
func (r *Router) HasRemote() bool {
	return r.Remote != nil
}

// Estimate dispatches on the source kind.
func (r *Router) Estimate(ctx context.Context, src Source) iter.Seq2[*pose.Frame, error] {
	if !src.Live && IsLandmarkFile(src.Path) {
		return r.Files.Estimate(ctx, src)
	}
	if r.Remote == nil {
		return failed(ErrUnavailable)
	}
	return r.Remote.Estimate(ctx, src)
}

// Ensure Router implements Estimator.
var _ Estimator = (*Router)(nil)
