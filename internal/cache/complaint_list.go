package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-complaints-backend/internal/domain"
)

const (
	complaintListKey    = "complaints:all"
	complaintListGenKey = "complaints:all:gen"
)

// errStaleGeneration aborts a fill that raced with an invalidation.
var errStaleGeneration = errors.New("complaint list generation changed")

// ComplaintListCache caches the full, id-ordered complaint list.
//
// Every Invalidate advances a generation. Get reports the generation it
// observed (on a miss too) and Set stores items only while that generation
// is still current, so a list read from storage before a write can never be
// cached after the write's invalidation.
type ComplaintListCache interface {
	Get(ctx context.Context) (items []domain.Complaint, gen uint64, ok bool)
	Set(ctx context.Context, gen uint64, items []domain.Complaint)
	Invalidate(ctx context.Context)
}

// Compile-time interface checks
var (
	_ ComplaintListCache = (*RedisComplaintListCache)(nil)
	_ ComplaintListCache = (*MemoryComplaintListCache)(nil)
	_ ComplaintListCache = NoopComplaintListCache{}
)

// NewComplaintListCache returns a Redis-backed cache when rdb is non-nil and
// an in-process one otherwise.
func NewComplaintListCache(rdb *redis.Client, ttl time.Duration) ComplaintListCache {
	if rdb == nil {
		return NewMemoryComplaintListCache(ttl)
	}
	return &RedisComplaintListCache{rdb: rdb, ttl: ttl}
}

// RedisComplaintListCache stores the list as one JSON value next to a
// generation counter shared by every replica.
type RedisComplaintListCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func (c *RedisComplaintListCache) Get(ctx context.Context) ([]domain.Complaint, uint64, bool) {
	vals, err := c.rdb.MGet(ctx, complaintListKey, complaintListGenKey).Result()
	if err != nil {
		log.Warn().Err(err).Msg("complaint list cache: get failed")
		return nil, 0, false
	}

	var gen uint64
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseUint(s, 10, 64); err != nil {
			log.Warn().Err(err).Msg("complaint list cache: corrupt generation")
			return nil, 0, false
		}
	}

	data, ok := vals[0].(string)
	if !ok {
		return nil, gen, false
	}
	var items []domain.Complaint
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		log.Warn().Err(err).Msg("complaint list cache: corrupt entry")
		return nil, gen, false
	}
	return items, gen, true
}

func (c *RedisComplaintListCache) Set(ctx context.Context, gen uint64, items []domain.Complaint) {
	data, err := json.Marshal(items)
	if err != nil {
		log.Warn().Err(err).Msg("complaint list cache: marshal failed")
		return
	}

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, complaintListGenKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, complaintListKey, data, c.ttl)
			return nil
		})
		return err
	}, complaintListGenKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		log.Debug().Uint64("gen", gen).Msg("complaint list cache: fill skipped after invalidation")
	default:
		log.Warn().Err(err).Msg("complaint list cache: set failed")
	}
}

func (c *RedisComplaintListCache) Invalidate(ctx context.Context) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, complaintListGenKey)
		pipe.Del(ctx, complaintListKey)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("complaint list cache: invalidate failed")
	}
}

// MemoryComplaintListCache keeps a single list snapshot in process.
// Get and Set copy the slice so callers cannot mutate the snapshot.
type MemoryComplaintListCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	items     []domain.Complaint
	expiresAt time.Time
	valid     bool
	gen       uint64
}

// NewMemoryComplaintListCache returns an empty in-process list cache.
func NewMemoryComplaintListCache(ttl time.Duration) *MemoryComplaintListCache {
	return &MemoryComplaintListCache{ttl: ttl, now: time.Now}
}

func (c *MemoryComplaintListCache) Get(context.Context) ([]domain.Complaint, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || !c.now().Before(c.expiresAt) {
		return nil, c.gen, false
	}
	return append([]domain.Complaint(nil), c.items...), c.gen, true
}

func (c *MemoryComplaintListCache) Set(_ context.Context, gen uint64, items []domain.Complaint) {
	snapshot := append(make([]domain.Complaint, 0, len(items)), items...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.items = snapshot
	c.expiresAt = c.now().Add(c.ttl)
	c.valid = true
}

func (c *MemoryComplaintListCache) Invalidate(context.Context) {
	c.mu.Lock()
	c.items = nil
	c.valid = false
	c.gen++
	c.mu.Unlock()
}

// NoopComplaintListCache never stores anything.
type NoopComplaintListCache struct{}

func (NoopComplaintListCache) Get(context.Context) ([]domain.Complaint, uint64, bool) {
	return nil, 0, false
}
func (NoopComplaintListCache) Set(context.Context, uint64, []domain.Complaint) {}
func (NoopComplaintListCache) Invalidate(context.Context) {}
