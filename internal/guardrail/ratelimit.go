package guardrail

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/pkg/redis"
)

// Limiter is an atomic increment-and-check counter per identity key
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// CheckRate consumes one unit for identityKey and denies when the window is exhausted
func (g *Guardrail) CheckRate(ctx context.Context, identityKey string) Decision {
	if !g.policy.RateLimitEnabled {
		return Allow()
	}

	allowed, err := g.limiter.Allow(ctx, identityKey)
	if err != nil {
		// 리미터 장애 시 통과시키지 않음
		g.log.WithError(err).WithField("key", identityKey).Error("Rate limiter unavailable")
		return Deny(contracts.ErrKindRateLimited, ReasonLimiterUnavailable)
	}
	if !allowed {
		g.log.WithField("key", identityKey).Warn("Rate limit exceeded")
		return Deny(contracts.ErrKindRateLimited, ReasonRateLimited)
	}
	return Allow()
}

// MemoryLimiter is an in-process token bucket per key: burst = limit,
// refilled at limit per window.
type MemoryLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewMemoryLimiter creates a per-key token bucket limiter
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		limit:    limit,
		window:   window,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Allow consumes one token for key
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(m.window/time.Duration(m.limit)), m.limit)
		m.limiters[key] = l
	}
	return l.AllowN(m.now(), 1), nil
}

// Reset clears all counters
func (m *MemoryLimiter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters = make(map[string]*rate.Limiter)
}

// RedisLimiter shares counters across processes via the Redis sliding window
type RedisLimiter struct {
	rl     *redis.RateLimiter
	limit  int
	window time.Duration
}

// NewRedisLimiter adapts a Redis rate limiter to the Limiter interface
func NewRedisLimiter(rl *redis.RateLimiter, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rl: rl, limit: limit, window: window}
}

// Allow checks and increments the window for key
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := r.rl.Allow(ctx, redis.RateLimitConfig{
		Key:    key,
		Limit:  r.limit,
		Window: r.window,
	})
	return allowed, err
}
