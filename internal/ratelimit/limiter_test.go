package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowSlidingWindow(t *testing.T) {
	l := New()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	b := Bucket{MaxRequests: 2, Window: time.Minute}

	assert.True(t, l.Allow("k", b))
	assert.True(t, l.Allow("k", b))
	assert.False(t, l.Allow("k", b))
	assert.True(t, l.Allow("other", b))

	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("k", b))
}

func TestCheckWrites429(t *testing.T) {
	l := NewWithBuckets(map[string]Bucket{"score": {MaxRequests: 1, Window: 30 * time.Second}})

	req := httptest.NewRequest(http.MethodPost, "/predict", nil)
	req.RemoteAddr = "198.51.100.4:5555"

	w := httptest.NewRecorder()
	require.False(t, l.Check(w, req, "score"))

	// Same IP on another port shares the bucket.
	req.RemoteAddr = "198.51.100.4:6666"
	w = httptest.NewRecorder()
	require.True(t, l.Check(w, req, "score"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Rate limited","retry_after_seconds":30}`, w.Body.String())
}

func TestMiddleware(t *testing.T) {
	l := NewWithBuckets(map[string]Bucket{"api": {MaxRequests: 1, Window: time.Minute}})
	h := l.Middleware("api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestSweep(t *testing.T) {
	l := New()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	b := Bucket{MaxRequests: 5, Window: time.Minute}
	l.Allow("old", b)
	now = now.Add(20 * time.Minute)
	l.Allow("fresh", b)

	assert.Equal(t, 1, l.Sweep(10*time.Minute))
	_, ok := l.hits["fresh"]
	assert.True(t, ok)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(r))
	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
