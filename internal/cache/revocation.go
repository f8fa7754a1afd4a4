// Package cache holds the optional Redis layer in front of the token
// blacklist.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	revokedValue    = "1"
	notRevokedValue = "0"
)

// RevocationCache remembers blacklist lookups by jti. Positive entries live
// until the token would have expired anyway; negative entries are short-lived
// and written with SETNX so they never overwrite a revocation.
type RevocationCache struct {
	rdb         *redis.Client
	prefix      string
	negativeTTL time.Duration
}

// NewRedisRevocationCache connects to redisURL (redis://:pass@host:6379/0)
// and fails fast when the server is unreachable.
func NewRedisRevocationCache(ctx context.Context, redisURL, prefix string, negativeTTL time.Duration) (*RevocationCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return NewRevocationCache(rdb, prefix, negativeTTL), nil
}

func NewRevocationCache(rdb *redis.Client, prefix string, negativeTTL time.Duration) *RevocationCache {
	if prefix == "" {
		prefix = "torneo:revoked:"
	}
	if negativeTTL <= 0 {
		negativeTTL = 30 * time.Second
	}
	return &RevocationCache{rdb: rdb, prefix: prefix, negativeTTL: negativeTTL}
}

func (c *RevocationCache) key(jti string) string { return c.prefix + jti }

// Get reports the cached state of jti. found is false on a cache miss.
func (c *RevocationCache) Get(ctx context.Context, jti string) (revoked bool, found bool, err error) {
	v, err := c.rdb.Get(ctx, c.key(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == revokedValue, true, nil
}

// MarkRevoked records a revocation for ttl, replacing any negative entry.
func (c *RevocationCache) MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, c.key(jti), revokedValue, ttl).Err()
}

// MarkNotRevoked caches a negative lookup unless something is already cached.
func (c *RevocationCache) MarkNotRevoked(ctx context.Context, jti string) error {
	return c.rdb.SetNX(ctx, c.key(jti), notRevokedValue, c.negativeTTL).Err()
}

func (c *RevocationCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RevocationCache) Close() error { return c.rdb.Close() }
