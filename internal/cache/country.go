package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const countryKeyPrefix = "geo:ip:"

// CountryCache maps client IPs to resolved country names.
type CountryCache interface {
	Get(ctx context.Context, ip string) (country string, ok bool)
	Set(ctx context.Context, ip, country string)
}

// Compile-time interface checks
var (
	_ CountryCache = (*RedisCountryCache)(nil)
	_ CountryCache = (*MemoryCountryCache)(nil)
)

// NewCountryCache returns a Redis-backed cache when rdb is non-nil and a
// bounded in-process LRU otherwise.
func NewCountryCache(rdb *redis.Client, size int, ttl time.Duration) CountryCache {
	if rdb == nil {
		return NewMemoryCountryCache(size, ttl)
	}
	return &RedisCountryCache{rdb: rdb, ttl: ttl}
}

// RedisCountryCache stores one key per IP with a TTL.
type RedisCountryCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func (c *RedisCountryCache) Get(ctx context.Context, ip string) (string, bool) {
	v, err := c.rdb.Get(ctx, countryKeyPrefix+ip).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("country cache: get failed")
		}
		return "", false
	}
	return v, true
}

func (c *RedisCountryCache) Set(ctx context.Context, ip, country string) {
	if err := c.rdb.Set(ctx, countryKeyPrefix+ip, country, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("country cache: set failed")
	}
}

// MemoryCountryCache is a size-bounded LRU whose entries also expire.
type MemoryCountryCache struct {
	lru *expirable.LRU[string, string]
}

// NewMemoryCountryCache returns an empty cache holding at most size entries.
func NewMemoryCountryCache(size int, ttl time.Duration) *MemoryCountryCache {
	if size < 1 {
		size = 1
	}
	return &MemoryCountryCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *MemoryCountryCache) Get(_ context.Context, ip string) (string, bool) {
	return c.lru.Get(ip)
}

func (c *MemoryCountryCache) Set(_ context.Context, ip, country string) {
	c.lru.Add(ip, country)
}

// Len reports the number of live entries.
func (c *MemoryCountryCache) Len() int { return c.lru.Len() }
