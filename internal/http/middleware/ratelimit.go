// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements per-caller rate limiting. Two limiters are provided:
// an in-process token bucket (golang.org/x/time/rate) for single-instance
// deployments, and a Redis fixed-window counter shared by every API
// replica. Both key buckets by authenticated user, falling back to the
// client IP on public routes.
//
// Idempotent replays flagged by IdempotencyValidator are never limited.
package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// keyFunc selects the bucket identity of a request.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys by "user:<id>" when RequireAuth ran, else "ip:<addr>".
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// Limiter decides whether one more request for key may run now. When it may
// not, retryAfter estimates the wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// ---------------------------------------------------------------------
// In-process token bucket
// ---------------------------------------------------------------------

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key. Buckets idle for longer
// than the TTL are swept every sweepEvery lookups.
type MemoryLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	lookups uint64
}

const sweepEvery = 5000

// NewMemoryLimiter returns a limiter refilling rps tokens per second up to
// burst. burst <= 0 is treated as 1; rps == 0 allows only the initial burst.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &MemoryLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
	}
}

// bucketFor returns the limiter of key, creating it on first use. The sweep
// runs before the lookup so a stale bucket is replaced, not refreshed.
func (m *MemoryLimiter) bucketFor(key string) *rate.Limiter {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups++
	if m.lookups >= sweepEvery {
		for k, b := range m.buckets {
			if now.Sub(b.lastSeen) >= m.ttl {
				delete(m.buckets, k)
			}
		}
		m.lookups = 0
	}

	if b, ok := m.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(m.rps, m.burst)
	m.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// Allow implements Limiter. It never fails.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	r := m.bucketFor(key).Reserve()
	if !r.OK() {
		return false, time.Second, nil
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		// With a zero rate the bucket never refills.
		if d == rate.InfDuration {
			d = time.Second
		}
		return false, d, nil
	}
	return true, 0, nil
}

// ---------------------------------------------------------------------
// Redis fixed window
// ---------------------------------------------------------------------

// RedisLimiter counts requests per key in fixed windows stored in Redis, so
// that every API replica enforces the same budget.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per window and key.
func NewRedisLimiter(rdb redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	if limit < 1 {
		limit = 1
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: int64(limit), window: window, now: time.Now}
}

// NewRedisLimiterFromRate approximates a token bucket: burst requests per
// the time it takes to refill burst tokens at rps.
func NewRedisLimiterFromRate(rdb redis.UniversalClient, prefix string, rps float64, burst int) *RedisLimiter {
	if burst < 1 {
		burst = 1
	}
	window := time.Hour
	if rps > 0 {
		window = time.Duration(math.Ceil(float64(burst)/rps)) * time.Second
	}
	return NewRedisLimiter(rdb, prefix, burst, window)
}

// Allow implements Limiter. Redis errors are returned to the caller.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	k := l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, err
	}
	if incr.Val() <= l.limit {
		return true, 0, nil
	}
	windowEnd := time.Unix(0, (slot+1)*int64(l.window))
	return false, windowEnd.Sub(now), nil
}

// ---------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------

// RateLimiter binds a Limiter to a key function.
type RateLimiter struct {
	lim   Limiter
	keyFn keyFunc
}

// NewRateLimiter returns an in-process limiter keyed by keyFn.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	return &RateLimiter{lim: NewMemoryLimiter(rps, burst), keyFn: keyFn}
}

// NewRateLimiterWith wraps any Limiter.
func NewRateLimiterWith(lim Limiter, keyFn keyFunc) *RateLimiter {
	return &RateLimiter{lim: lim, keyFn: keyFn}
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler rejects requests over budget with 429, a Retry-After header in
// whole seconds and the usual error body. A failing limiter lets the request
// through and logs the error.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		ok, wait, err := rl.lim.Allow(c.Request.Context(), rl.keyFn(c))
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		if ok {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
