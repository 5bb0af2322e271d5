// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements per-client token buckets (golang.org/x/time/rate).
// Buckets live in an expiring LRU keyed by client address: a bucket idle for
// bucketIdleTTL is dropped, and at most maxBuckets clients are tracked, so a
// flood of spoofed addresses cannot grow the table without bound.
//
// The limiter is process-local. Replays flagged by IdempotencyValidator are
// never limited.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	codeRateLimited = "rate_limited"

	bucketIdleTTL = 10 * time.Minute
	maxBuckets    = 100_000
)

// keyFunc maps a request to the identity whose bucket it draws from.
type keyFunc func(*gin.Context) string

// KeyByClientIP buckets requests by the address resolved by ClientIP, so
// callers behind one proxy are told apart by their forwarded address.
func KeyByClientIP() keyFunc {
	return func(c *gin.Context) string {
		return "ip:" + GetClientIP(c)
	}
}

// RateLimiter enforces rps/burst per key. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu      sync.Mutex // serializes get-or-create on buckets
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter builds a limiter. burst <= 0 is raised to 1 and a nil keyFn
// selects KeyByClientIP.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByClientIP()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: expirable.NewLRU[string, *rate.Limiter](maxBuckets, nil, bucketIdleTTL),
	}
}

// bucket returns the limiter for key. Re-adding it restarts the idle TTL.
func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.rps, rl.burst)
	}
	rl.buckets.Add(key, lim)
	return lim
}

// retryAfter is the time for one token to refill, in whole seconds.
func (rl *RateLimiter) retryAfter() string {
	if rl.rps <= 0 {
		return strconv.Itoa(int(bucketIdleTTL.Seconds()))
	}
	secs := int(math.Ceil(1 / float64(rl.rps)))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as a
// replay that must not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler rejects over-limit requests with 429, a Retry-After header and
// {"request_id","code":"rate_limited","message"}.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.bucket(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		httpRateLimited.WithLabelValues(routeLabel(c)).Inc()
		LoggerFrom(c).Debug().Msg("rate limited")
		c.Header("Retry-After", rl.retryAfter())
		abortJSON(c, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
	}
}
