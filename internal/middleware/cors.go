// Package middleware provides HTTP middleware for the formtrack API.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/ashureev/formtrack/internal/identity"
)

// localOrigin matches any http(s) origin on localhost or 127.0.0.1.
var localOrigin = regexp.MustCompile(`^https?://(?:localhost|127\.0\.0\.1)(?::\d+)?$`)

// OriginAllowed reports whether origin may call the API and whether it was
// matched explicitly (by name or as a local development origin) rather than
// through a "*" entry.
func OriginAllowed(origin string, allowedOrigins []string) (allowed, explicit bool) {
	if origin == "" {
		return false, false
	}
	for _, o := range allowedOrigins {
		if o == origin {
			return true, true
		}
		if o == "*" {
			allowed = true
		}
	}
	if localOrigin.MatchString(origin) {
		return true, true
	}
	return allowed, false
}

// CORS returns middleware that handles CORS headers. Listed origins and any
// local development origin are echoed back.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if allowed, explicit := OriginAllowed(origin, allowedOrigins); allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept-Language, "+identity.SessionHeaderName)
				w.Header().Add("Vary", "Origin")
				// Only allow credentials for explicit origins, not wildcard matches.
				// Setting Allow-Credentials with a wildcard-echoed origin enables CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
