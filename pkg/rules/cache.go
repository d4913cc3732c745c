package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanlanch/leadrouting/pkg/cache"
	"github.com/jordanlanch/leadrouting/pkg/logger"
)

// Cache holds a tenant's active rule set for a short time. Implementations
// treat backend failures as misses.
type Cache interface {
	Get(ctx context.Context, tenantID int64) ([]Rule, bool)
	Set(ctx context.Context, tenantID int64, rules []Rule)
	Invalidate(ctx context.Context, tenantID int64)
}

// RedisCache stores active rule sets in Redis under rules:active:<tenant>.
type RedisCache struct {
	client *cache.Client
	ttl    time.Duration
	log    logger.Logger
}

// NewRedisCache creates a rule cache with the given TTL
func NewRedisCache(client *cache.Client, ttl time.Duration, log logger.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func activeRulesKey(tenantID int64) string {
	return fmt.Sprintf("rules:active:%d", tenantID)
}

func (c *RedisCache) Get(ctx context.Context, tenantID int64) ([]Rule, bool) {
	var cached []Rule
	found, err := c.client.GetJSON(ctx, activeRulesKey(tenantID), &cached)
	if err != nil {
		c.log.Warn("rule cache read failed", "tenant_id", tenantID, "error", err)
		return nil, false
	}
	return cached, found
}

func (c *RedisCache) Set(ctx context.Context, tenantID int64, rules []Rule) {
	if err := c.client.SetJSON(ctx, activeRulesKey(tenantID), rules, c.ttl); err != nil {
		c.log.Warn("rule cache write failed", "tenant_id", tenantID, "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID int64) {
	if err := c.client.Delete(ctx, activeRulesKey(tenantID)); err != nil {
		c.log.Error("rule cache invalidation failed", "tenant_id", tenantID, "error", err)
	}
}
