package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// expired entries are dropped every this many reservations
const memPurgeInterval = 1024

// In-process limiter. Only correct for a single instance.
type MemLimiter struct {
	slots    *xsync.MapOf[string, time.Time]
	ttl      time.Duration
	reserves atomic.Uint64
	// defaults to time.Now
	Clock func() time.Time
}

var _ Limiter = (*MemLimiter)(nil)

func NewMemLimiter(ttl time.Duration) *MemLimiter {
	return &MemLimiter{
		slots: xsync.NewMapOf[string, time.Time](),
		ttl:   ttl,
		Clock: time.Now,
	}
}

func (l *MemLimiter) now() time.Time {
	if l.Clock == nil {
		return time.Now()
	}
	return l.Clock()
}

func (l *MemLimiter) Reserve(ctx context.Context, subject, actor string) (bool, error) {
	now := l.now()
	reserved := false
	l.slots.Compute(limitKey(subject, actor), func(expireAt time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Before(expireAt) {
			return expireAt, false
		}
		reserved = true
		return now.Add(l.ttl), false
	})

	if l.reserves.Add(1)%memPurgeInterval == 0 {
		l.PurgeExpired()
	}
	observe("mem", reserved)
	return reserved, nil
}

func (l *MemLimiter) Release(ctx context.Context, subject, actor string) error {
	l.slots.Delete(limitKey(subject, actor))
	return nil
}

func (l *MemLimiter) PurgeExpired() {
	now := l.now()
	l.slots.Range(func(k string, expireAt time.Time) bool {
		if !now.Before(expireAt) {
			l.slots.Compute(k, func(cur time.Time, loaded bool) (time.Time, bool) {
				// re-check under the bucket lock; a concurrent Reserve may have renewed it
				return cur, !loaded || !now.Before(cur)
			})
		}
		return true
	})
}
