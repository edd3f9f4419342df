package auth

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is the shared-store variant of RateLimiter for
// multi-instance deployments: a fixed window of INCR+EXPIRE per source
// key, counted across all instances.
type RedisRateLimiter struct {
	client  redis.UniversalClient
	maxHits int
	window  time.Duration
	prefix  string
}

func NewRedisRateLimiter(client redis.UniversalClient, maxHits int, window time.Duration) *RedisRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}

	return &RedisRateLimiter{
		client:  client,
		maxHits: maxHits,
		window:  window,
		prefix:  "ratelimit:login:",
	}
}

// Allow counts the request against the source key's current window.
func (l *RedisRateLimiter) Allow(ctx context.Context, sourceKey string) (bool, time.Duration, error) {
	key := l.prefix + sourceKey

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	// First hit opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, 0, err
		}
	}

	if count <= int64(l.maxHits) {
		return true, 0, nil
	}

	retryAfter, err := l.client.TTL(ctx, key).Result()
	if err != nil || retryAfter < time.Second {
		retryAfter = time.Second
	}

	return false, retryAfter, nil
}

// Middleware mirrors RateLimiter.Middleware. A Redis outage fails open:
// losing rate limiting is preferable to losing login entirely, and the
// per-account lockout still applies.
func (l *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter, err := l.Allow(r.Context(), clientIP(r))
		if err != nil {
			sentry.CaptureException(err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
