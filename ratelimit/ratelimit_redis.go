package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter shared across instances, using SET NX with expiry.
type RedisLimiter struct {
	Client *redis.Client
	TTL    time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(redisURL string, ttl time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisLimiter{Client: rdb, TTL: ttl}, nil
}

func (l *RedisLimiter) Reserve(ctx context.Context, subject, actor string) (bool, error) {
	ok, err := l.Client.SetNX(ctx, limitKey(subject, actor), 1, l.TTL).Result()
	if err != nil {
		return false, err
	}
	observe("redis", ok)
	return ok, nil
}

func (l *RedisLimiter) Release(ctx context.Context, subject, actor string) error {
	return l.Client.Del(ctx, limitKey(subject, actor)).Err()
}
