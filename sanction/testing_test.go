package sanction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gravitalia/signaly/auth"
	"github.com/gravitalia/signaly/countstore"
	"github.com/gravitalia/signaly/identity"
	"github.com/gravitalia/signaly/notify"
	"github.com/gravitalia/signaly/platform"
	"github.com/gravitalia/signaly/propagate"
	"github.com/gravitalia/signaly/ratelimit"
	"github.com/gravitalia/signaly/store"
)

// tokens are "token-<subject>"
type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (*auth.Token, error) {
	const prefix = "token-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Token{Subject: token[len(prefix):], Expiry: time.Now().Add(time.Hour)}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) last() notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return notify.Notification{}
	}
	return r.sent[len(r.sent)-1]
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

var errUnavailable = errors.New("service unavailable")

type fixture struct {
	eng      *Engine
	now      time.Time
	home     *platform.MockClient
	id       *identity.MockClient
	services []*platform.MockClient
	store    *store.MemStore
	limiter  *ratelimit.MemLimiter
	counters *countstore.MemCountStore
	notes    *recordingNotifier
}

func newFixture() *fixture {
	f := &fixture{
		now:      time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC),
		home:     platform.NewMockClient(),
		id:       identity.NewMockClient(),
		store:    store.NewMemStore(),
		limiter:  ratelimit.NewMemLimiter(ratelimit.Window),
		counters: countstore.NewMemCountStore(),
		notes:    &recordingNotifier{},
	}
	clock := func() time.Time { return f.now }
	f.store.Clock = clock
	f.limiter.Clock = clock
	f.counters.Clock = clock

	reg := platform.NewRegistry()
	reg.Register("gravitalia", f.home)
	var services []platform.Client
	for range 2 {
		svc := platform.NewMockClient()
		f.services = append(f.services, svc)
		services = append(services, svc)
	}

	f.id.Insert("token-mod", identity.Profile{Subject: "mod", Flags: identity.CapabilityModerator})
	f.id.Insert("token-bob", identity.Profile{Subject: "bob", Flags: 1})

	f.eng = &Engine{
		Verifier:  fakeVerifier{},
		Identity:  f.id,
		Platforms: reg,
		Store:     f.store,
		Limiter:   f.limiter,
		Counters:  f.counters,
		Propagator: &propagate.Propagator{
			Identity:  f.id,
			Platforms: reg,
			Services:  services,
		},
		Notifier:    f.notes,
		CallTimeout: time.Second,
		Clock:       clock,
	}
	return f
}

// seeds prior reports against subject from distinct actors
func (f *fixture) seedReports(subject string, n int) {
	for i := range n {
		f.store.Reports = append(f.store.Reports, store.Report{
			ID:              store.NewID(),
			AffectedSubject: subject,
			AuthorSubject:   "seed-" + string(rune('a'+i%26)),
			Platform:        "gravitalia",
			CreatedAt:       f.now.Add(-time.Hour),
		})
	}
}

func report(actor, subject string, reason int) ReportRequest {
	return ReportRequest{
		Token:    "token-" + actor,
		Subject:  subject,
		Platform: "gravitalia",
		Reason:   reason,
	}
}
