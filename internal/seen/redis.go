package seen

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares the seen set between ingestor processes.
type Redis struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func NewRedis(opt *redis.Options, prefix string, ttl time.Duration) *Redis {
	return &Redis{Client: redis.NewClient(opt), Prefix: prefix, TTL: defaultTTL(ttl)}
}

func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.Client.Exists(ctx, r.Prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Mark(ctx context.Context, key string) error {
	return r.Client.Set(ctx, r.Prefix+key, "1", r.TTL).Err()
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
