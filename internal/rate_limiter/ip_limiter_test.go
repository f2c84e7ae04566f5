package ratelimiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiter_Middleware(t *testing.T) {
	rl := NewIPRateLimiter(2, time.Minute, CleanupOpts{TTL: time.Minute, Interval: time.Minute})
	defer rl.Close()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := rl.Middleware(next)

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:5000"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:5001"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:5002"))

	// Another address has its own bucket.
	assert.Equal(t, http.StatusOK, do("10.0.0.2:5000"))
}

func TestIPRateLimiter_GetClientIP(t *testing.T) {
	rl := NewIPRateLimiter(1, time.Second, CleanupOpts{TTL: time.Minute, Interval: time.Minute})
	defer rl.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	assert.Equal(t, ipAddr("192.168.1.5"), rl.GetClientIP(req))

	req.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	assert.Equal(t, ipAddr("2.2.2.2"), rl.GetClientIP(req))
}
