// Package retention removes old analyses and abandoned uploads.
package retention

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadPrefix marks files written by the upload handlers.
const UploadPrefix = "temp_"

// Pruner deletes analyses older than a cutoff. store.Repository satisfies it.
type Pruner interface {
	DeleteAnalysesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls what the worker removes.
type Config struct {
	Interval time.Duration
	// AnalysisTTL of zero keeps analyses forever.
	AnalysisTTL time.Duration
	UploadDir   string
	// UploadStaleAfter of zero keeps leftover uploads.
	UploadStaleAfter time.Duration
}

// Result is what one sweep removed.
type Result struct {
	Analyses int64
	Uploads  int
}

// Worker runs periodic sweeps.
type Worker struct {
	pruner Pruner
	cfg    Config
	now    func() time.Time
}

// NewWorker creates a retention worker. pruner may be nil.
func NewWorker(pruner Pruner, cfg Config) *Worker {
	return &Worker{pruner: pruner, cfg: cfg, now: time.Now}
}

// Start runs a background goroutine that sweeps every Interval until ctx is
// done.
func (w *Worker) Start(ctx context.Context) {
	if w.cfg.Interval <= 0 {
		slog.Info("Retention worker disabled")
		return
	}
	ticker := time.NewTicker(w.cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started",
			"interval", w.cfg.Interval,
			"analysis_ttl", w.cfg.AnalysisTTL,
			"upload_stale_after", w.cfg.UploadStaleAfter)

		for {
			select {
			case <-ticker.C:
				w.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep performs one cleanup pass. Failures are logged and the pass goes on.
func (w *Worker) Sweep(ctx context.Context) Result {
	var res Result
	now := w.now()

	if w.pruner != nil && w.cfg.AnalysisTTL > 0 {
		n, err := w.pruner.DeleteAnalysesBefore(ctx, now.Add(-w.cfg.AnalysisTTL))
		if err != nil {
			slog.Error("Retention worker failed to delete analyses", "error", err)
		} else {
			res.Analyses = n
		}
	}

	if w.cfg.UploadDir != "" && w.cfg.UploadStaleAfter > 0 {
		res.Uploads = w.removeStaleUploads(now.Add(-w.cfg.UploadStaleAfter))
	}

	if res.Analyses > 0 || res.Uploads > 0 {
		slog.Info("Retention sweep completed", "analyses", res.Analyses, "uploads", res.Uploads)
	}
	return res
}

// removeStaleUploads deletes upload files last modified before cutoff. Uploads
// are removed by their handler, so anything left is from a crashed request.
func (w *Worker) removeStaleUploads(cutoff time.Time) int {
	entries, err := os.ReadDir(w.cfg.UploadDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Error("Retention worker failed to list uploads", "error", err, "dir", w.cfg.UploadDir)
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), UploadPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(w.cfg.UploadDir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Retention worker failed to remove upload", "error", err, "path", path)
			continue
		}
		removed++
	}
	return removed
}
