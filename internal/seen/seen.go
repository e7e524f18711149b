// Package seen is a fast pre-check for source URLs that are already stored.
// It is never authoritative: a miss always falls through to storage.
package seen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NikKowPHP/meetup/internal/config"
)

type Cache interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// New builds the configured backend. Backend "none" (or empty) returns nil,
// which callers treat as "no cache".
func New(cfg config.SeenCacheConfig) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemory(cfg.MaxKeys, cfg.TTL), nil
	case "redis":
		return NewRedis(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.KeyPrefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown seen cache backend %q", cfg.Backend)
	}
}

func defaultTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 7 * 24 * time.Hour
	}
	return ttl
}
