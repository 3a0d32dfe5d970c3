// Package criterioncache implements the content-addressed criterion-to-
// schema mapping cache described in spec §5: read-through, write-through,
// entries carry a validated flag, stats accumulate. It sits upstream of
// (and external to) the analytical core.
package criterioncache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rwe-platform/statistician/internal/domain"
)

// entry is the on-wire cache record, mirroring the teacher's
// Cached<X>Data{Data, CachedAt, ExpiresAt} shape.
type entry struct {
	Mapping   []byte    `json:"mapping"`
	Validated bool      `json:"validated"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client is a two-tier criterion cache: an in-process LRU (L1) in front of
// Redis (L2), following the teacher's CacheClient wrapping pattern.
type Client struct {
	redis      *redis.Client
	l1         *lru.Cache[string, entry]
	defaultTTL time.Duration
	hits       int64
	misses     int64
}

// NewClient constructs a criterion cache client from domain.CacheConfig.
func NewClient(cfg domain.CacheConfig) (*Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = cfg.PoolTimeout
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	l1Size := cfg.L1Size
	if l1Size <= 0 {
		l1Size = 512
	}
	l1, err := lru.New[string, entry](l1Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create l1 cache: %w", err)
	}

	return &Client{redis: client, l1: l1, defaultTTL: cfg.DefaultTTL}, nil
}

// Get implements domain.CriterionCache.
func (c *Client) Get(ctx context.Context, criterionHash string) ([]byte, bool, error) {
	key := cacheKey(criterionHash)

	if e, ok := c.l1.Get(key); ok {
		if time.Now().Before(e.ExpiresAt) {
			atomic.AddInt64(&c.hits, 1)
			return e.Mapping, e.Validated, nil
		}
		c.l1.Remove(key)
	}

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get criterion cache: %w", err)
	}

	var e entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		c.redis.Del(ctx, key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	if time.Now().After(e.ExpiresAt) {
		c.redis.Del(ctx, key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}

	c.l1.Add(key, e)
	atomic.AddInt64(&c.hits, 1)
	return e.Mapping, e.Validated, nil
}

// Set implements domain.CriterionCache.
func (c *Client) Set(ctx context.Context, criterionHash string, mapping []byte, validated bool) error {
	key := cacheKey(criterionHash)
	e := entry{
		Mapping:   mapping,
		Validated: validated,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(c.defaultTTL),
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal criterion cache entry: %w", err)
	}

	if err := c.redis.Set(ctx, key, data, c.defaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to write criterion cache entry: %w", err)
	}
	c.l1.Add(key, e)
	return nil
}

// Stats implements domain.CriterionCache.
func (c *Client) Stats() domain.CacheStats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return domain.CacheStats{Hits: hits, Misses: misses, HitRate: rate}
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}

// NormalizedCriterionHash hashes a normalized criterion text into the key
// used as this cache's content address.
func NormalizedCriterionHash(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return fmt.Sprintf("%x", sum[:16])
}

func cacheKey(criterionHash string) string {
	return "criterion:" + criterionHash
}
