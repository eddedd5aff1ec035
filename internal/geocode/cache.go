package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/redis/go-redis/v9"

	"github.com/ikramby/carburon/internal/geo"
)

const (
	defaultCachePrefix = "geocode:"
	cellPrecision      = 5
)

// cacheKey groups riders within the same ~5 km geohash cell.
func cacheKey(normalized string, near *geo.Point) string {
	cell := "global"
	if near != nil {
		cell = geohash.EncodeWithPrecision(near.Lat, near.Lng, cellPrecision)
	}
	return cell + ":" + normalized
}

// RedisCache keeps search results in Redis as JSON.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache constructs the cache.
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]Place, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var places []Place
	if err := json.Unmarshal(raw, &places); err != nil {
		return nil, false, fmt.Errorf("decode cached places: %w", err)
	}
	return places, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, places []Place, ttl time.Duration) error {
	raw, err := json.Marshal(places)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
