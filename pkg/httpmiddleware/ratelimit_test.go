package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var windowStart = time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

// clockedLimiter returns a limiter whose clock is read from *now.
func clockedLimiter(cfg RateLimitConfig) (*rateLimiter, *time.Time) {
	now := windowStart
	rl := newRateLimiter(cfg)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_Responses(t *testing.T) {
	rl, now := clockedLimiter(RateLimitConfig{Max: 3, Window: time.Minute})
	var served int
	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		served++
		w.WriteHeader(http.StatusNoContent)
	}))
	reset := strconv.FormatInt(windowStart.Add(time.Minute).Unix(), 10)

	for _, tt := range []struct {
		at         time.Duration
		code       int
		remaining  string
		retryAfter string
	}{
		{10 * time.Second, http.StatusNoContent, "2", ""},
		{20 * time.Second, http.StatusNoContent, "1", ""},
		{30 * time.Second, http.StatusNoContent, "0", ""},
		{40 * time.Second, http.StatusTooManyRequests, "0", "20"},
		{59*time.Second + 500*time.Millisecond, http.StatusTooManyRequests, "0", "1"},
	} {
		*now = windowStart.Add(tt.at)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.RemoteAddr = "198.51.100.10:4711"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, tt.code, w.Code, "at %s", tt.at)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, tt.remaining, w.Header().Get("X-RateLimit-Remaining"), "at %s", tt.at)
		assert.Equal(t, reset, w.Header().Get("X-RateLimit-Reset"))
		assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"), "at %s", tt.at)
		if tt.code == http.StatusTooManyRequests {
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, `{"code":429,"kind":"RateLimited","message":"rate limit exceeded"}`, w.Body.String())
		}
	}
	assert.Equal(t, 3, served)
}

func TestRateLimit_SlidingEstimate(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 2, Window: time.Minute})

	for _, tt := range []struct {
		name      string
		at        time.Duration
		ok        bool
		remaining int
	}{
		{"first hit", 0, true, 1},
		{"second hit", time.Second, true, 0},
		{"limit reached", 2 * time.Second, false, 0},
		{"half of previous window still counts", 90 * time.Second, true, 0},
		{"weighted estimate under limit", 100 * time.Second, true, 0},
		{"weighted estimate over limit", 110 * time.Second, false, 0},
		{"idle for two windows starts fresh", 5 * time.Minute, true, 1},
	} {
		remaining, _, ok := rl.allow("till-1", windowStart.Add(tt.at))
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.remaining, remaining, tt.name)
	}
}

func TestRateLimit_Keys(t *testing.T) {
	for _, tt := range []struct {
		name    string
		keyFunc func(*http.Request) string
		first   func(r *http.Request)
		second  func(r *http.Request)
		limited bool
	}{
		{
			name:    "same forwarded client behind different proxies",
			first:   func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18") },
			second:  func(r *http.Request) { r.RemoteAddr = "10.9.9.9:1"; r.Header.Set("X-Forwarded-For", "203.0.113.50") },
			limited: true,
		},
		{
			name:   "different remote addresses",
			first:  func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1234" },
			second: func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1234" },
		},
		{
			name:    "custom key shares a bucket across addresses",
			keyFunc: func(r *http.Request) string { return r.Header.Get("X-Store") },
			first:   func(r *http.Request) { r.Header.Set("X-Store", "s1"); r.RemoteAddr = "10.0.0.1:1" },
			second:  func(r *http.Request) { r.Header.Set("X-Store", "s1"); r.RemoteAddr = "10.0.0.2:1" },
			limited: true,
		},
		{
			name:    "custom key separates buckets",
			keyFunc: func(r *http.Request) string { return r.Header.Get("X-Store") },
			first:   func(r *http.Request) { r.Header.Set("X-Store", "s1") },
			second:  func(r *http.Request) { r.Header.Set("X-Store", "s2") },
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: tt.keyFunc})(
				http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.first(req)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)

			req = httptest.NewRequest(http.MethodGet, "/", nil)
			tt.second(req)
			w = httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if tt.limited {
				assert.Equal(t, http.StatusTooManyRequests, w.Code)
			} else {
				assert.Equal(t, http.StatusOK, w.Code)
			}
		})
	}
}

func TestRateLimit_Evict(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	rl.allow("stale", windowStart)
	rl.allow("fresh", windowStart.Add(3*time.Minute))

	rl.evict(windowStart.Add(3 * time.Minute))
	assert.NotContains(t, rl.windows, "stale")
	assert.Contains(t, rl.windows, "fresh")
}

func TestClientIP(t *testing.T) {
	for _, tt := range []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote host", "10.1.1.1:5000", nil, "10.1.1.1"},
		{"remote without port", "10.1.1.1", nil, "10.1.1.1"},
		{"real ip", "10.1.1.1:5000", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{
			"forwarded first hop wins",
			"10.1.1.1:5000",
			map[string]string{"X-Real-IP": "198.51.100.7", "X-Forwarded-For": " 203.0.113.9 , 10.0.0.1"},
			"203.0.113.9",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
