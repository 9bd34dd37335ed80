package countstore

import (
	"context"
	"sync"
	"time"
)

type MemCountStore struct {
	mu     sync.Mutex
	Counts map[string]int
	// used for bucketing; defaults to time.Now
	Clock func() time.Time
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		Counts: make(map[string]int),
		Clock:  time.Now,
	}
}

func (s *MemCountStore) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Counts[periodBucket(s.now(), name, val, period)], nil
}

func (s *MemCountStore) AddPeriod(ctx context.Context, name, val, period string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := periodBucket(s.now(), name, val, period)
	s.Counts[key] += delta
	return s.Counts[key], nil
}
