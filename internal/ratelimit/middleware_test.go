package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMiddlewareRejectsThirdRequest(t *testing.T) {
	l, _ := newTestLimiter(Config{Max: 2, Window: 2 * time.Second})
	calls := 0
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		last = rec
	}

	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	require.Equal(t, 2, calls)
	require.Equal(t, "2", last.Header().Get("Retry-After"))
	require.Equal(t, "application/json", last.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	require.Equal(t, RejectMessage, body["message"])
	require.EqualValues(t, http.StatusTooManyRequests, body["statusCode"])
}

func TestMiddlewareKeysByClientIP(t *testing.T) {
	l, _ := newTestLimiter(Config{Max: 1, Window: time.Minute})
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, addr := range []string{"198.51.100.1:1000", "198.51.100.1:2000", "198.51.100.2:1000"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		want := http.StatusNoContent
		if addr == "198.51.100.1:2000" {
			want = http.StatusTooManyRequests
		}
		require.Equal(t, want, rec.Code, addr)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	require.Equal(t, "2001:db8::1", ClientIP(req))

	req.RemoteAddr = "not-an-addr"
	require.Equal(t, "not-an-addr", ClientIP(req))
}

func TestRetrySeconds(t *testing.T) {
	require.Equal(t, 1, retrySeconds(0))
	require.Equal(t, 1, retrySeconds(300*time.Millisecond))
	require.Equal(t, 2, retrySeconds(1500*time.Millisecond))
}
