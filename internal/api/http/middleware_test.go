package apihttp

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// ---------- CORS middleware tests ----------

func TestCorsMiddleware_ReflectsOriginWhenNoWhitelist(t *testing.T) {
	for _, origins := range [][]string{nil, {}} {
		handler := corsMiddleware(origins, okHandler())
		req := httptest.NewRequest(http.MethodGet, "/hls_quality/1", nil)
		req.Header.Set("Origin", "http://player.example")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://player.example" {
			t.Errorf("origins %v: expected origin reflected, got %q", origins, got)
		}
	}
}

func TestCorsMiddleware_Whitelist(t *testing.T) {
	handler := corsMiddleware([]string{"http://allowed.com/", "http://also-allowed.com"}, okHandler())

	tests := []struct {
		origin string
		want   string
	}{
		{"http://allowed.com", "http://allowed.com"},
		{"http://also-allowed.com", "http://also-allowed.com"},
		{"http://evil.com", ""},
		{"", ""},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/stream/x", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
			t.Errorf("origin %q: ACAO = %q, want %q", tc.origin, got, tc.want)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("origin %q: handler not executed, got %d", tc.origin, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Expose-Headers"); got == "" {
			t.Error("expected Expose-Headers header to be set")
		}
	}
}

func TestCorsMiddleware_PreflightAllowsRange(t *testing.T) {
	called := false
	handler := corsMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/hls_stream/x", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if called {
		t.Error("preflight should not call the next handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got == "" || !containsToken(got, "Range") {
		t.Errorf("Allow-Headers = %q, want Range listed", got)
	}
}

func containsToken(list, token string) bool {
	for start := 0; start < len(list); {
		end := start
		for end < len(list) && list[end] != ',' {
			end++
		}
		item := list[start:end]
		for len(item) > 0 && item[0] == ' ' {
			item = item[1:]
		}
		if item == token {
			return true
		}
		start = end + 1
	}
	return false
}

// ---------- Rate limit middleware tests ----------

func TestRateLimitMiddleware_Returns429AfterBurst(t *testing.T) {
	handler := rateLimitMiddleware(0.001, 2, okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/x", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d within burst: got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/x", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After: 1, got %q", got)
	}

	for _, path := range []string{"/internal/health", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s should bypass rate limit, got %d", path, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_DisabledWhenZero(t *testing.T) {
	handler := rateLimitMiddleware(0, 0, okHandler())
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/x", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
}

// ---------- Recovery middleware tests ----------

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	handler := recoveryMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
}

func TestRecoveryMiddleware_NoPanicPassesThrough(t *testing.T) {
	handler := recoveryMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusPartialContent {
		t.Errorf("expected 206, got %d", rec.Code)
	}
}

// ---------- Logging middleware tests ----------

func TestLoggingMiddleware_PassesBodyThrough(t *testing.T) {
	handler := loggingMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/hls_stream/x", nil)
	req.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "hello" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

// ---------- responseWriter tests ----------

func TestResponseWriter_CapturesStatusAndSize(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	rw.WriteHeader(http.StatusPartialContent)
	rw.Write([]byte("hello"))
	rw.Write([]byte(" world"))

	if rw.status != http.StatusPartialContent {
		t.Errorf("status = %d, want 206", rw.status)
	}
	if rw.size != 11 {
		t.Errorf("size = %d, want 11", rw.size)
	}
}

type fakeHijacker struct {
	http.ResponseWriter
}

func (f *fakeHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, nil
}

func TestResponseWriter_Hijack(t *testing.T) {
	rw := &responseWriter{ResponseWriter: &fakeHijacker{ResponseWriter: httptest.NewRecorder()}}
	if _, _, err := rw.Hijack(); err != nil {
		t.Errorf("expected hijack to succeed, got %v", err)
	}
	rw = &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected error when underlying writer cannot hijack")
	}
}

// ---------- helpers ----------

func TestNormalizeRoute(t *testing.T) {
	tests := []struct{ path, want string }{
		{"/metrics", "/metrics"},
		{"/internal/health", "/internal/health"},
		{"/ws", "/ws"},
		{"/hls_playlist/%7B%22location%22", "/hls_playlist/:options"},
		{"/hls_quality/123", "/hls_quality/:docId"},
		{"/hls_stream/%7B%22docId%22%3A1%7D", "/hls_stream/:params"},
		{"/stream/%7B%7D", "/stream/:options"},
		{"/favicon.ico", "/other"},
	}
	for _, tc := range tests {
		if got := normalizeRoute(tc.path); got != tc.want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestPickRequestLogLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/hls_stream/x", 206, slog.LevelDebug},
		{"/stream/x", 206, slog.LevelDebug},
		{"/hls_quality/1", 200, slog.LevelInfo},
		{"/stream/x", 416, slog.LevelWarn},
		{"/hls_stream/x", 500, slog.LevelError},
	}
	for _, tc := range tests {
		if got := pickRequestLogLevel(tc.path, tc.status); got != tc.want {
			t.Errorf("pickRequestLogLevel(%q, %d) = %v, want %v", tc.path, tc.status, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Errorf("RemoteAddr: got %q", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.2")
	if got := clientIP(req); got != "10.0.0.2" {
		t.Errorf("X-Real-IP: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.3")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("X-Forwarded-For: got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 10); got != "abcdef" {
		t.Errorf("short: %q", got)
	}
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("long: %q", got)
	}
	if got := truncate("abcdef", 2); got != "ab" {
		t.Errorf("tiny: %q", got)
	}
}
