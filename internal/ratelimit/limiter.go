package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/claims_auth/internal/errs"
)

const (
	DefaultMaxAttempts = 5
	DefaultWindow      = time.Minute
)

var ErrUnavailable = errors.New("rate limiter unavailable")

// Limiter counts failed attempts per key in a fixed window.
type Limiter interface {
	Check(ctx context.Context, scope, key string) error
	Fail(ctx context.Context, scope, key string) error
	Reset(ctx context.Context, scope, key string) error
}

type RedisLimiter struct {
	redis       *redis.Client
	maxAttempts int64
	window      time.Duration
}

func NewRedis(client *redis.Client, maxAttempts int, window time.Duration) *RedisLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{redis: client, maxAttempts: int64(maxAttempts), window: window}
}

func (l *RedisLimiter) key(scope, key string) string {
	return "rl:" + scope + ":" + key
}

// Check returns errs.ErrRateLimited once the key has used up its attempts.
func (l *RedisLimiter) Check(ctx context.Context, scope, key string) error {
	count, err := l.redis.Get(ctx, l.key(scope, key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= l.maxAttempts {
		return errs.ErrRateLimited
	}
	return nil
}

func (l *RedisLimiter) Fail(ctx context.Context, scope, key string) error {
	k := l.key(scope, key)
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, scope, key string) error {
	if err := l.redis.Del(ctx, l.key(scope, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Nop never limits. It is used when REDIS_ADDR is unset.
type Nop struct{}

func (Nop) Check(context.Context, string, string) error { return nil }
func (Nop) Fail(context.Context, string, string) error  { return nil }
func (Nop) Reset(context.Context, string, string) error { return nil }
