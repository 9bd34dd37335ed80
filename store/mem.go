package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemStore struct {
	mu          sync.Mutex
	Reports     []Report
	Punishments []Punishment
	Suspensions []Suspension
	Decisions   map[string]*Decision
	SweepRuns   map[string]*SweepRun
	// defaults to time.Now
	Clock func() time.Time
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		Decisions: make(map[string]*Decision),
		SweepRuns: make(map[string]*SweepRun),
		Clock:     time.Now,
	}
}

func (s *MemStore) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

func (s *MemStore) InsertReport(ctx context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.Reports = append(s.Reports, *r)
	return nil
}

func (s *MemStore) CountReports(ctx context.Context, subject string, since time.Time) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint32
	for _, r := range s.Reports {
		if r.AffectedSubject == subject && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) InsertPunishment(ctx context.Context, p *Punishment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.Punishments = append(s.Punishments, *p)
	return nil
}

func (s *MemStore) InsertSuspension(ctx context.Context, sus *Suspension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sus.ID == "" {
		sus.ID = NewID()
	}
	sus.ExpireDay = DayString(sus.ExpireAt)
	s.Suspensions = append(s.Suspensions, *sus)
	return nil
}

func (s *MemStore) SuspensionsExpiringOn(ctx context.Context, day time.Time) ([]Suspension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := DayString(day)
	out := []Suspension{}
	for _, sus := range s.Suspensions {
		if sus.ExpireDay == want {
			out = append(out, sus)
		}
	}
	return out, nil
}

func (s *MemStore) InsertDecision(ctx context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = NewID()
	}
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	cp := *d
	s.Decisions[d.ID] = &cp
	return nil
}

func (s *MemStore) UpdateDecision(ctx context.Context, id string, state DecisionState, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Decisions[id]
	if !ok {
		return ErrNotFound
	}
	d.State = state
	d.LastError = lastErr
	d.Attempts++
	d.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) RetryableDecisions(ctx context.Context, olderThan time.Time, maxAttempts int) ([]Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Decision{}
	for _, d := range s.Decisions {
		if d.State == DecisionApplied || d.Attempts >= maxAttempts || !d.UpdatedAt.Before(olderThan) {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) LastSweep(ctx context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := ""
	for day, run := range s.SweepRuns {
		if run.CompletedAt != nil && day > last {
			last = day
		}
	}
	if last == "" {
		return time.Time{}, false, nil
	}
	t, err := ParseDay(last)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *MemStore) ClaimSweep(ctx context.Context, day time.Time, owner string, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := DayString(day)
	now := s.now()
	run, ok := s.SweepRuns[key]
	if !ok {
		s.SweepRuns[key] = &SweepRun{Day: key, Owner: owner, ClaimedAt: now}
		return true, nil
	}
	if !claimable(run, owner, now, lease) {
		return false, nil
	}
	run.Owner = owner
	run.ClaimedAt = now
	return true, nil
}

func (s *MemStore) CompleteSweep(ctx context.Context, day time.Time, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.SweepRuns[DayString(day)]
	if !ok || run.Owner != owner {
		return ErrNotFound
	}
	now := s.now()
	run.CompletedAt = &now
	return nil
}

func (s *MemStore) PurgeReports(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.Reports[:0]
	var n int64
	for _, r := range s.Reports {
		if r.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.Reports = kept
	return n, nil
}
