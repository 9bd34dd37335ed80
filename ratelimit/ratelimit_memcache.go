package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Limiter backed by memcached. Uses "add", which only stores the key if it
// does not already exist, so the check and the reservation are one operation.
type MemcacheLimiter struct {
	mcd *memcache.Client
	ttl int32
}

var _ Limiter = (*MemcacheLimiter)(nil)

func NewMemcacheLimiter(ttl time.Duration, servers ...string) *MemcacheLimiter {
	client := memcache.New(servers...)
	client.Timeout = 2 * time.Second
	return &MemcacheLimiter{
		mcd: client,
		ttl: int32(ttl.Seconds()),
	}
}

func (l *MemcacheLimiter) Reserve(ctx context.Context, subject, actor string) (bool, error) {
	err := l.mcd.Add(&memcache.Item{
		Key:        limitKey(subject, actor),
		Value:      []byte("1"),
		Expiration: l.ttl,
	})
	if errors.Is(err, memcache.ErrNotStored) {
		observe("memcache", false)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	observe("memcache", true)
	return true, nil
}

func (l *MemcacheLimiter) Release(ctx context.Context, subject, actor string) error {
	err := l.mcd.Delete(limitKey(subject, actor))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}
