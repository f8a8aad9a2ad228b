package provider

import (
	"context"
	"time"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/pkg/logger"
	"github.com/wonny/aegis-analytics/pkg/redis"
)

// CachedFetcher serves canonical records from Redis before calling next.
// With Redis disabled it is a pass-through.
type CachedFetcher struct {
	next   Fetcher
	cache  *redis.Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewCachedFetcher wraps next with a record cache
func NewCachedFetcher(next Fetcher, cache *redis.Cache, ttl time.Duration, log *logger.Logger) *CachedFetcher {
	if ttl <= 0 {
		ttl = redis.TTLMedium
	}
	return &CachedFetcher{next: next, cache: cache, ttl: ttl, logger: log}
}

// ProviderName implements Named
func (c *CachedFetcher) ProviderName() string { return NameOf(c.next) }

// Fetch implements Fetcher
func (c *CachedFetcher) Fetch(ctx context.Context, ticker, period string) (*contracts.CanonicalRecord, error) {
	key := redis.CanonicalRecordKey(ticker, period)

	var rec contracts.CanonicalRecord
	err := c.cache.GetOrSet(ctx, key, &rec, c.ttl, func() (interface{}, error) {
		c.logger.WithField("key", key).Debug("Record cache miss")
		return c.next.Fetch(ctx, ticker, period)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
