package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var gotLangs []string
	var gotSession string
	h := Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotLangs = LanguagesFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/live?lang=de&session_id=tab-1", nil)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !slices.Equal(gotLangs, []string{"de", "en-US,en;q=0.9"}) {
		t.Errorf("languages = %v", gotLangs)
	}
	if gotSession != "tab-1" {
		t.Errorf("session = %q, want tab-1", gotSession)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "from-header")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotSession != "from-header" {
		t.Errorf("session = %q, want from-header", gotSession)
	}
	if len(gotLangs) != 0 {
		t.Errorf("languages = %v, want none", gotLangs)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"abc_123":          "abc_123",
		"  spaced  ":       "spaced",
		"":                 DefaultSessionIDValue,
		"../../etc/passwd": DefaultSessionIDValue,
		"has space":        DefaultSessionIDValue,
	}
	for in, want := range tests {
		if got := SanitizeSessionID(in); got != want {
			t.Errorf("SanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContextDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Error("missing session id should fall back to default")
	}
	if LanguagesFromContext(ctx) != nil {
		t.Error("missing languages should be nil")
	}
	if got := LanguagesFromContext(WithLanguages(ctx, "fr")); !slices.Equal(got, []string{"fr"}) {
		t.Errorf("WithLanguages round trip = %v", got)
	}
}
