package sanction

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gravitalia/signaly/countstore"
	"github.com/gravitalia/signaly/platform"
	"github.com/gravitalia/signaly/ratelimit"
	"github.com/gravitalia/signaly/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReasonText(t *testing.T) {
	assert := assert.New(t)

	txt, ok := ReasonText(0)
	assert.True(ok)
	assert.Equal("Other", txt)
	txt, ok = ReasonText(8)
	assert.True(ok)
	assert.Equal("Copyright/intellectual property violation", txt)
	_, ok = ReasonText(9)
	assert.False(ok)
	_, ok = ReasonText(-1)
	assert.False(ok)
}

func TestReportLogTier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("alice", platform.Profile{Followers: 0})

	res := f.eng.HandleReport(ctx, report("bob", "alice", 2))
	assert.Equal(StatusOK, res.Status)
	assert.Equal("OK", res.Message)

	require.Len(t, f.store.Reports, 1)
	rep := f.store.Reports[0]
	assert.Equal("alice", rep.AffectedSubject)
	assert.Equal("bob", rep.AuthorSubject)
	assert.Equal("gravitalia", rep.Platform)
	assert.Equal(uint8(2), rep.Reason)

	n := f.notes.last()
	assert.False(n.Mention)
	assert.Equal("/", n.ActionTaken)
	assert.Equal("Hate and harassment", n.Reason)
	assert.Empty(f.store.Suspensions)
	assert.Empty(f.home.CallLog())
}

func TestReportSuspendTier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("alice", platform.Profile{Followers: 0})

	// zero followers: both thresholds are 1, so a second report suspends
	f.seedReports("alice", 1)
	res := f.eng.HandleReport(ctx, report("bob", "alice", 1))
	assert.Equal(StatusOK, res.Status)

	require.Len(f.store.Suspensions, 1)
	susp := f.store.Suspensions[0]
	assert.Equal("alice", susp.Subject)
	assert.Equal("gravitalia", susp.Platform)
	assert.Equal(f.now.Add(30*24*time.Hour), susp.ExpireAt)

	assert.Equal([]string{"suspend alice"}, f.home.CallLog())
	n := f.notes.last()
	assert.True(n.Mention)
	assert.Equal("Suspended account, check if it is a false-positive", n.ActionTaken)

	require.Len(f.store.Decisions, 1)
	for _, d := range f.store.Decisions {
		assert.Equal(store.DecisionApplied, d.State)
		assert.Equal(store.ActionSuspend, d.Action)
		assert.Equal(1, d.Attempts)
	}
}

func TestReportEscalateTier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("alice", platform.Profile{Followers: 10})

	// 10 followers: escalate above 10 reports, suspend above 100
	f.seedReports("alice", 10)
	res := f.eng.HandleReport(ctx, report("bob", "alice", 0))
	assert.Equal(StatusOK, res.Status)

	n := f.notes.last()
	assert.True(n.Mention)
	assert.Equal("Alerting support: too many reports", n.ActionTaken)
	assert.Empty(f.store.Suspensions)
	assert.Empty(f.home.CallLog())
}

func TestReportRateLimit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("alice", platform.Profile{Followers: 500})

	assert.Equal(StatusOK, f.eng.HandleReport(ctx, report("bob", "alice", 0)).Status)

	f.now = f.now.Add(2 * time.Minute)
	res := f.eng.HandleReport(ctx, report("bob", "alice", 0))
	assert.Equal(StatusTooManyRequests, res.Status)
	assert.ErrorIs(res.Err, ErrRateLimited)

	// other actors and other subjects are unaffected
	assert.Equal(StatusOK, f.eng.HandleReport(ctx, report("carol", "alice", 0)).Status)

	f.now = f.now.Add(ratelimit.Window)
	assert.Equal(StatusOK, f.eng.HandleReport(ctx, report("bob", "alice", 0)).Status)
	assert.Len(f.store.Reports, 3)
}

func TestReportRejectionsReleaseSlot(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("alice", platform.Profile{Followers: 500})

	res := f.eng.HandleReport(ctx, report("bob", "alice", 42))
	assert.Equal(StatusBadRequest, res.Status)
	assert.ErrorIs(res.Err, ErrInvalidReason)
	assert.Equal("Invalid reason", res.Message)

	// a rejected report does not hold the rate limit slot
	assert.Equal(StatusOK, f.eng.HandleReport(ctx, report("bob", "alice", 3)).Status)
	assert.Len(f.store.Reports, 1)
}

func TestReportSelfAction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("bob", platform.Profile{Followers: 0})
	f.home.SetPost("123", platform.Post{Likes: 0, Author: "bob"})

	res := f.eng.HandleReport(ctx, report("bob", "bob", 0))
	assert.Equal(StatusBadRequest, res.Status)
	assert.ErrorIs(res.Err, ErrSelfAction)
	assert.Equal("You can't report yourself", res.Message)

	res = f.eng.HandleReport(ctx, report("bob", "123", 0))
	assert.Equal(StatusBadRequest, res.Status)
	assert.ErrorIs(res.Err, ErrSelfAction)
	assert.Equal("You can't report your own post", res.Message)

	assert.Empty(f.store.Reports)
	assert.Empty(f.notes.all())
}

func TestReportPost(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetPost("123", platform.Post{Likes: 0, Author: "alice"})

	f.seedReports("123", 1)
	res := f.eng.HandleReport(ctx, report("bob", "123", 4))
	assert.Equal(StatusOK, res.Status)
	require.Len(f.store.Suspensions, 1)
	assert.Equal("123", f.store.Suspensions[0].Subject)
}

func TestReportRejections(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("alice", platform.Profile{Followers: 3})
	f.home.SetProfile("gone", platform.Profile{Suspended: true})

	res := f.eng.HandleReport(ctx, ReportRequest{Token: "garbage", Subject: "alice", Platform: "gravitalia"})
	assert.Equal(StatusBadRequest, res.Status)
	assert.ErrorIs(res.Err, ErrAuthInvalid)
	assert.Equal("Invalid token", res.Message)

	res = f.eng.HandleReport(ctx, ReportRequest{Token: "token-bob", Subject: "alice", Platform: "elsewhere"})
	assert.Equal(StatusBadRequest, res.Status)
	assert.ErrorIs(res.Err, ErrInvalidPlatform)

	// reports can't target the wildcard
	res = f.eng.HandleReport(ctx, ReportRequest{Token: "token-bob", Subject: "alice", Platform: "all"})
	assert.ErrorIs(res.Err, ErrInvalidPlatform)

	res = f.eng.HandleReport(ctx, report("bob", "gone", 0))
	assert.Equal(StatusBadRequest, res.Status)
	assert.ErrorIs(res.Err, ErrUnknownSubject)
	assert.Equal("Invalid user", res.Message)

	res = f.eng.HandleReport(ctx, report("bob", "nobody", 0))
	assert.ErrorIs(res.Err, ErrUnknownSubject)

	assert.Empty(f.store.Reports)
}

func TestReportSuspendQuota(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()
	f.eng.SuspendQuota = 1
	for _, s := range []string{"alice", "carol"} {
		f.home.SetProfile(s, platform.Profile{Followers: 0})
		f.seedReports(s, 1)
	}

	assert.Equal(StatusOK, f.eng.HandleReport(ctx, report("bob", "alice", 0)).Status)
	assert.Equal(StatusOK, f.eng.HandleReport(ctx, report("bob", "carol", 0)).Status)

	require.Len(f.store.Suspensions, 1)
	assert.Equal("alice", f.store.Suspensions[0].Subject)
	n := f.notes.last()
	assert.True(n.Mention)
	assert.Equal("carol", n.AffectedSubject)
	assert.Contains(n.ActionTaken, "quota reached")

	// quota resets the next day
	f.now = f.now.Add(24 * time.Hour)
	f.seedReports("dave", 1)
	f.home.SetProfile("dave", platform.Profile{Followers: 0})
	assert.Equal(StatusOK, f.eng.HandleReport(ctx, report("bob", "dave", 0)).Status)
	assert.Len(f.store.Suspensions, 2)
}

func TestReportSuspendQuotaConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.eng.SuspendQuota = 3

	const n = 12
	subjects := make([]string, n)
	for i := range n {
		subjects[i] = fmt.Sprintf("user%d", i)
		f.home.SetProfile(subjects[i], platform.Profile{Followers: 0})
		f.seedReports(subjects[i], 1)
	}

	var wg sync.WaitGroup
	for _, s := range subjects {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.eng.HandleReport(ctx, report("bob", s, 0))
		}()
	}
	wg.Wait()

	assert.Len(f.store.Suspensions, 3)
	c, err := f.counters.GetCount(ctx, quotaCounter, "global", countstore.PeriodDay)
	assert.NoError(err)
	assert.Equal(3, c)
}

func TestReportPropagationFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("alice", platform.Profile{Followers: 0})
	f.home.Fail("alice", errUnavailable)
	f.seedReports("alice", 1)

	res := f.eng.HandleReport(ctx, report("bob", "alice", 0))
	assert.Equal(StatusPartial, res.Status)
	assert.ErrorIs(res.Err, ErrCollaboratorFailure)
	assert.Equal(202, res.Status.HTTPStatus())

	// report and suspension are kept; the decision waits for a retry
	assert.Len(f.store.Reports, 2)
	assert.Len(f.store.Suspensions, 1)
	require.Len(f.store.Decisions, 1)
	for _, d := range f.store.Decisions {
		assert.Equal(store.DecisionFailed, d.State)
		assert.Contains(d.LastError, "service unavailable")
	}
	// the moderation team still hears about it
	assert.Equal("Suspended account, check if it is a false-positive", f.notes.last().ActionTaken)
}

func TestReportNotifierFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("alice", platform.Profile{Followers: 50})
	f.notes.err = errUnavailable

	res := f.eng.HandleReport(ctx, report("bob", "alice", 0))
	assert.Equal(StatusPartial, res.Status)
	assert.Len(f.store.Reports, 1)
}

func TestReportConcurrentSameSubject(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.eng.SuspendQuota = -1
	f.home.SetProfile("alice", platform.Profile{Followers: 0})

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.eng.HandleReport(ctx, report(fmt.Sprintf("actor%d", i), "alice", 0))
		}()
	}
	wg.Wait()

	// counts are serialised per subject: only the very first report sees a
	// total of one, every later one crosses the suspend threshold
	logged := 0
	for _, note := range f.notes.all() {
		if note.ActionTaken == "/" {
			logged++
		}
	}
	assert.Equal(1, logged)
	assert.Len(f.store.Suspensions, n-1)
}

func TestReportConcurrentSamePair(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.home.SetProfile("alice", platform.Profile{Followers: 1000})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.eng.HandleReport(ctx, report("bob", "alice", 0))
		}()
	}
	wg.Wait()
	assert.Len(t, f.store.Reports, 1)
}
