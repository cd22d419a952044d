// Package ratelimit provides a shared fixed-window counter over Redis with an
// in-process token-bucket fallback. The fallback is best-effort: during a
// Redis outage each process enforces its own budget, so the effective global
// limit is limit * processes until Redis returns.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

const keyPrefix = "ratelimit:"

// Limiter counts operations per key within a fixed window.
type Limiter struct {
	redis    *redis.Client
	limit    int
	window   time.Duration
	fallback *tokenBuckets
	logger   *logging.Logger
}

// NewLimiter creates a limiter allowing limit operations per window per key.
// redisClient may be nil; the limiter then runs purely on the local fallback.
func NewLimiter(redisClient *redis.Client, limit int, window time.Duration, logger *logging.Logger) *Limiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Limiter{
		redis:    redisClient,
		limit:    limit,
		window:   window,
		fallback: newTokenBuckets(float64(limit)/window.Seconds(), limit),
		logger:   logger,
	}
}

// Allow reports whether one more operation fits the key's budget.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l.redis == nil {
		return l.fallback.allow(key)
	}

	redisKey := keyPrefix + key
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limiter falling back to in-process counter", "error", err, "key", key)
		return l.fallback.allow(key)
	}
	return incr.Val() <= int64(l.limit)
}

// Middleware rejects requests over the per-client budget with 429. The key is
// the client IP plus the route pattern.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if xri := r.Header.Get("X-Real-Ip"); xri != "" {
			ip = xri
		}
		if !l.Allow(r.Context(), fmt.Sprintf("%s:%s", r.URL.Path, ip)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenBuckets is the in-process fallback, one bucket per key.
type tokenBuckets struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   int
}

type bucket struct {
	tokens   float64
	lastTime time.Time
}

func newTokenBuckets(rate float64, burst int) *tokenBuckets {
	tb := &tokenBuckets{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
	}
	go tb.cleanup()
	return tb
}

func (tb *tokenBuckets) allow(key string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.burst), lastTime: now}
		tb.buckets[key] = b
	}

	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * tb.rate
	if b.tokens > float64(tb.burst) {
		b.tokens = float64(tb.burst)
	}
	b.lastTime = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (tb *tokenBuckets) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		tb.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for key, b := range tb.buckets {
			if b.lastTime.Before(cutoff) {
				delete(tb.buckets, key)
			}
		}
		tb.mu.Unlock()
	}
}
