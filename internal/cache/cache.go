// Package cache defines the byte store behind the statistics cache.
package cache

import (
	"context"
	"time"
)

// Interface is satisfied by redisstore.Client.
type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelMatch(ctx context.Context, pattern string) (int, error)
	Ping(ctx context.Context) error
}
