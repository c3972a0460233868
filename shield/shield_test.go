package shield

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("Content-Security-Policy not set")
	}
}

func TestMaxBodyCapsReads(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		_, readErr = r.Body.Read(buf)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/runs", strings.NewReader(strings.Repeat("x", 32))))

	if readErr == nil {
		t.Fatal("oversize body read succeeded, want error")
	}
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	rl := NewRateLimiter(map[string]Rule{
		"POST /api/runs": {MaxRequests: 2, Window: time.Minute},
	})
	h := rl.Middleware(okHandler())

	do := func(path string) int {
		req := httptest.NewRequest("POST", path, nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := do("/api/runs"); got != http.StatusOK {
		t.Fatalf("request 1 = %d, want 200", got)
	}
	if got := do("/api/runs"); got != http.StatusOK {
		t.Fatalf("request 2 = %d, want 200", got)
	}
	if got := do("/api/runs"); got != http.StatusTooManyRequests {
		t.Fatalf("request 3 = %d, want 429", got)
	}

	// Unruled endpoints never throttle.
	req := httptest.NewRequest("POST", "/api/other", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unruled endpoint = %d, want 200", rec.Code)
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(map[string]Rule{
		"POST /api/runs": {MaxRequests: 1, Window: time.Minute},
	})
	h := rl.Middleware(okHandler())

	do := func(addr string) int {
		req := httptest.NewRequest("POST", "/api/runs", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	do("10.0.0.1:4000")
	if got := do("10.0.0.1:4000"); got != http.StatusTooManyRequests {
		t.Fatalf("same IP second request = %d, want 429", got)
	}
	if got := do("10.0.0.2:4000"); got != http.StatusOK {
		t.Fatalf("other IP = %d, want 200", got)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.9:1234"
	if got := ExtractIP(req); got != "192.0.2.9" {
		t.Errorf("ExtractIP = %q, want 192.0.2.9", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.5" {
		t.Errorf("ExtractIP with XFF = %q, want 203.0.113.5", got)
	}
}
