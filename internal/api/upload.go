package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/retention"
)

var errMissingFile = errors.New("missing upload")

// upload is a request file copied to the upload directory.
type upload struct {
	Path        string
	Filename    string
	ContentType string
}

// Remove deletes the temporary copy.
func (u *upload) Remove() {
	if u == nil {
		return
	}
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to remove upload", "path", u.Path, "error", err)
	}
}

// IsVideo reports whether the client labelled the file as video.
func (u *upload) IsVideo() bool {
	mt, _, err := mime.ParseMediaType(u.ContentType)
	if err != nil {
		return strings.HasPrefix(u.ContentType, "video/")
	}
	return strings.HasPrefix(mt, "video/")
}

// uploadExt keeps compound landmark extensions such as ".json.gz".
func uploadExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".json.gz", ".json.zst"} {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return strings.ToLower(filepath.Ext(name))
}

// parseMultipart bounds the body and parses the form.
func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	limit := int64(200 << 20)
	if h.cfg != nil {
		limit = h.cfg.MaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return fmt.Errorf("parse multipart form: %w", err)
	}
	return nil
}

// saveUpload copies the named form file to UPLOAD_DIR as temp_<uuid><ext>,
// where the retention worker finds it if the request never cleans up.
// The caller must Remove it.
func (h *Handler) saveUpload(r *http.Request, field string) (*upload, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, errMissingFile
		}
		return nil, fmt.Errorf("read form file: %w", err)
	}
	defer file.Close()

	dir := os.TempDir()
	if h.cfg != nil && h.cfg.UploadDir != "" {
		dir = h.cfg.UploadDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	u := &upload{
		Path:        filepath.Join(dir, retention.UploadPrefix+uuid.NewString()+uploadExt(header.Filename)),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}
	if err := copyTo(u.Path, file); err != nil {
		u.Remove()
		return nil, err
	}
	return u, nil
}

func copyTo(path string, src multipart.File) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close upload: %w", err)
	}
	return nil
}

// isLandmarkUpload reports whether an upload can be decoded without the pose
// service.
func isLandmarkUpload(u *upload) bool {
	return estimator.IsLandmarkFile(u.Filename)
}
