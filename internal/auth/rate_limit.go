package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxTrackedKeys bounds the window map; when exceeded, keys whose last
// hit fell out of the window are swept.
const maxTrackedKeys = 5000

// RateLimiter is a per-source sliding-window counter held in process
// memory. It is intentionally approximate: each instance counts only
// its own traffic. Multi-instance deployments should use
// RedisRateLimiter instead.
type RateLimiter struct {
	mu      sync.Mutex
	maxHits int
	window  time.Duration
	hits    map[string][]time.Time
}

func NewRateLimiter(maxHits int, window time.Duration) *RateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}

	return &RateLimiter{
		maxHits: maxHits,
		window:  window,
		hits:    make(map[string][]time.Time),
	}
}

// Allow reports whether a request from sourceKey may proceed, recording
// it if so. A full window is a normal outcome, not a fault.
func (l *RateLimiter) Allow(sourceKey string) (bool, time.Duration) {
	return l.allow(sourceKey, time.Now().UTC())
}

func (l *RateLimiter) allow(sourceKey string, now time.Time) (bool, time.Duration) {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.hits[sourceKey][:0:0]
	for _, hit := range l.hits[sourceKey] {
		if hit.After(threshold) {
			recent = append(recent, hit)
		}
	}

	if len(recent) >= l.maxHits {
		l.hits[sourceKey] = recent
		retryAfter := recent[0].Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	l.hits[sourceKey] = append(recent, now)

	if len(l.hits) > maxTrackedKeys {
		for key, hits := range l.hits {
			if len(hits) == 0 || hits[len(hits)-1].Before(threshold) {
				delete(l.hits, key)
			}
		}
	}

	return true, 0
}

// Middleware rejects over-limit requests with 429 before they reach
// the login handler.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.Allow(clientIP(r))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		if first := strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0]); first != "" {
			return first
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
