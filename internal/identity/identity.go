// Package identity carries per-request client context: language preferences
// and the live session id a request belongs to.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	SessionHeaderName     = "X-Formtrack-Session-ID"
	DefaultSessionIDValue = "default"
)

type contextKey int

const (
	languagesKey contextKey = iota
	sessionIDKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// LanguagesFromContext returns the caller's language preferences, most
// preferred first. The list may be empty.
func LanguagesFromContext(ctx context.Context) []string {
	if v, ok := ctx.Value(languagesKey).([]string); ok {
		return v
	}
	return nil
}

// SessionIDFromContext extracts the live session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithLanguages returns a context carrying language preferences.
func WithLanguages(ctx context.Context, langs ...string) context.Context {
	return context.WithValue(ctx, languagesKey, langs)
}

// SanitizeSessionID returns id when it is a safe token and the default
// session id otherwise.
func SanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return SanitizeSessionID(sid)
}

// languagesFromRequest puts an explicit ?lang= ahead of the raw
// Accept-Language header; the localizer parses both forms.
func languagesFromRequest(r *http.Request) []string {
	var langs []string
	if l := strings.TrimSpace(r.URL.Query().Get("lang")); l != "" {
		langs = append(langs, l)
	}
	if h := strings.TrimSpace(r.Header.Get("Accept-Language")); h != "" {
		langs = append(langs, h)
	}
	return langs
}

// Middleware injects language preferences and the per-request session ID.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLanguages(r.Context(), languagesFromRequest(r)...)
			ctx = context.WithValue(ctx, sessionIDKey, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
