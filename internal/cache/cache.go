// Package cache holds the read-through caches used by the complaint service
// and the country resolver.
//
// Each cache has a Redis-backed implementation (shared across replicas, used
// when a *redis.Client is configured) and an in-process one. Cache failures
// are logged and treated as misses; they never fail the calling operation.
package cache

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-complaints-backend/internal/config"
)

// NewRedisClient builds a client for cfg, or returns nil when no address is
// configured so callers fall back to in-process caches.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping verifies connectivity. A nil client is considered healthy.
func Ping(ctx context.Context, rdb *redis.Client) error {
	if rdb == nil {
		return nil
	}
	return rdb.Ping(ctx).Err()
}
