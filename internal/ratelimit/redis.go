package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis — общий fixed-window лимитер для multi-instance деплоя.
// INCR + EXPIRE NX: TTL ставится только при создании ключа.
type Redis struct {
	c *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func NewRedisWithClient(c *redis.Client) *Redis {
	return &Redis{c: c}
}

func (rl *Redis) Check(ctx context.Context, identity string, cfg Config) (Decision, error) {
	key := "rl:" + identity

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, cfg.Window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, errors.Wrap(err, "redis ratelimit")
	}

	now := time.Now().UTC()
	left := ttl.Val()
	if left < 0 {
		left = cfg.Window
	}
	resetAt := now.Add(left)

	n := incr.Val()
	if n <= cfg.MaxRequests {
		return Decision{Allowed: true, Remaining: cfg.MaxRequests - n, ResetAt: resetAt}, nil
	}
	retry := int64((left + time.Second - 1) / time.Second)
	return Decision{Allowed: false, ResetAt: resetAt, RetryAfterSeconds: retry}, nil
}
