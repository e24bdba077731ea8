package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/hellenic/wildtrails/internal/wildtrails"
)

// Cache stores encoded feature sets by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache keeps feature sets in Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "wildtrails:overpass:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Cached wraps a Source with a cache and collapses concurrent requests for
// the same area into one upstream call. Cache failures are logged and
// otherwise ignored.
type Cached struct {
	source Source
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

func NewCached(source Source, cache Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{source: source, cache: cache, ttl: ttl, logger: logger}
}

// CacheKey rounds the box to roughly 10 m so repeated requests for the same
// game area share an entry.
func CacheKey(bbox wildtrails.BoundingBox) string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", bbox.South(), bbox.West(), bbox.North(), bbox.East())
}

func (c *Cached) FetchFeatures(ctx context.Context, bbox wildtrails.BoundingBox) ([]wildtrails.Feature, error) {
	key := CacheKey(bbox)

	if c.cache != nil {
		raw, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("feature cache read failed", "key", key, "error", err)
		case ok:
			var features []wildtrails.Feature
			if err := json.Unmarshal(raw, &features); err == nil {
				c.logger.Debug("feature cache hit", "key", key, "count", len(features))
				return features, nil
			}
			c.logger.Warn("feature cache entry corrupt", "key", key)
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		features, err := c.source.FetchFeatures(ctx, bbox)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if raw, err := json.Marshal(features); err == nil {
				if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
					c.logger.Warn("feature cache write failed", "key", key, "error", err)
				}
			}
		}
		return features, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]wildtrails.Feature), nil
}
