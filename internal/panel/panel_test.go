package panel

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandlerServesRoot(t *testing.T) {
	w := serve(t, Handler(""), "/")

	if w.Code != http.StatusOK {
		t.Errorf("GET /: got status %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Error("GET /: response doesn't contain HTML doctype")
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestHandlerServesStaticAssets(t *testing.T) {
	h := Handler("")
	for _, path := range []string{"/app.js", "/style.css"} {
		w := serve(t, h, path)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: got status %d, want 200", path, w.Code)
		}
		if strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
			t.Errorf("GET %s: served index.html instead of the asset", path)
		}
	}
}

func TestHandlerFallback(t *testing.T) {
	h := Handler("")
	for _, path := range []string{"/devices", "/some/deep/route"} {
		w := serve(t, h, path)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: got status %d, want 200 (fallback)", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
			t.Errorf("GET %s: fallback didn't serve index.html", path)
		}
	}
}

func TestHandlerServesDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!DOCTYPE html><p>dev</p>"), 0o600); err != nil {
		t.Fatal(err)
	}

	w := serve(t, Handler(dir), "/")
	if !strings.Contains(w.Body.String(), "<p>dev</p>") {
		t.Errorf("GET / from dir: body = %q", w.Body.String())
	}
}

func TestHandlerMissingDirectoryUsesEmbedded(t *testing.T) {
	w := serve(t, Handler(filepath.Join(t.TempDir(), "absent")), "/app.js")
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Errorf("GET /app.js: status %d, %d bytes", w.Code, w.Body.Len())
	}
}
