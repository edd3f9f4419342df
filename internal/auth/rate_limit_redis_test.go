package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T, maxHits int, window time.Duration) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisRateLimiter(client, maxHits, window), mr
}

func TestRedisRateLimiterWindow(t *testing.T) {
	limiter, mr := newRedisLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := limiter.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, retryAfter, err := limiter.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("request over the limit should be rejected")
	}
	if retryAfter < time.Second {
		t.Fatalf("expected retry-after of at least a second, got %v", retryAfter)
	}

	// Other keys are unaffected.
	if ok, _, _ := limiter.Allow(ctx, "5.6.7.8"); !ok {
		t.Fatal("independent key should be allowed")
	}

	// The key recovers once the window expires.
	mr.FastForward(61 * time.Second)
	if ok, _, err := limiter.Allow(ctx, "1.2.3.4"); err != nil || !ok {
		t.Fatalf("expected recovery after window, ok=%v err=%v", ok, err)
	}
}

func TestRedisRateLimiterMiddlewareFailsOpen(t *testing.T) {
	limiter, mr := newRedisLimiter(t, 1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Redis down: requests pass through rather than blocking login.
	mr.Close()

	request := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	request.RemoteAddr = "10.0.0.1:4000"

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected fail-open 200, got %d", recorder.Code)
	}
}
