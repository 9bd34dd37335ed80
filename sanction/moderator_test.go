package sanction

import (
	"context"
	"testing"

	"github.com/gravitalia/signaly/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeratorSuspendPermissions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()

	res := f.eng.HandleModeratorSuspend(ctx, ModeratorRequest{Token: "token-bob", Subject: "alice", Platform: "gravitalia"})
	assert.Equal(StatusBadRequest, res.Status)
	assert.ErrorIs(res.Err, ErrPermissionDenied)
	assert.Equal("You haven't enough flags to perform this action", res.Message)

	res = f.eng.HandleModeratorSuspend(ctx, ModeratorRequest{Token: "token-mod", Subject: "mod", Platform: "gravitalia"})
	assert.Equal(StatusBadRequest, res.Status)
	assert.ErrorIs(res.Err, ErrSelfAction)
	assert.Equal("You can't suspend yourself", res.Message)

	res = f.eng.HandleModeratorSuspend(ctx, ModeratorRequest{Token: "nope", Subject: "alice", Platform: "gravitalia"})
	assert.ErrorIs(res.Err, ErrAuthInvalid)

	res = f.eng.HandleModeratorSuspend(ctx, ModeratorRequest{Token: "token-mod", Subject: "alice", Platform: "elsewhere"})
	assert.ErrorIs(res.Err, ErrInvalidPlatform)

	assert.Empty(f.store.Punishments)
	assert.Empty(f.home.CallLog())
	assert.Empty(f.notes.all())
}

func TestModeratorSuspendPlatform(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()

	res := f.eng.HandleModeratorSuspend(ctx, ModeratorRequest{Token: "token-mod", Subject: "alice", Platform: "Gravitalia"})
	assert.Equal(StatusOK, res.Status)

	require.Len(f.store.Punishments, 1)
	p := f.store.Punishments[0]
	assert.Equal("alice", p.AffectedSubject)
	assert.Equal("mod", p.ModeratorSubject)
	assert.Equal("gravitalia", p.Platform)
	assert.Equal(store.PunishmentSuspend, p.Kind)

	assert.Equal([]string{"suspend alice"}, f.home.CallLog())
	assert.Empty(f.id.CallLog())

	n := f.notes.last()
	assert.Equal("Suspended account by mod", n.ActionTaken)
	assert.False(n.Mention)
	// moderator actions are not automatic suspensions
	assert.Empty(f.store.Suspensions)
}

func TestModeratorSuspendWildcard(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.services[0].Fail("alice", errUnavailable)

	res := f.eng.HandleModeratorSuspend(ctx, ModeratorRequest{Token: "token-mod", Subject: "alice", Platform: "all"})
	assert.Equal(StatusPartial, res.Status)

	// every service is attempted even after a failure
	assert.Equal([]string{"suspend alice"}, f.id.CallLog())
	assert.Equal([]string{"suspend alice"}, f.services[0].CallLog())
	assert.Equal([]string{"suspend alice"}, f.services[1].CallLog())
	assert.Empty(f.home.CallLog())

	for _, d := range f.store.Decisions {
		assert.Equal(store.DecisionFailed, d.State)
		assert.Equal("all", d.Platform)
	}
}

func TestModeratorUnsuspend(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()

	res := f.eng.HandleModeratorUnsuspend(ctx, ModeratorRequest{Token: "token-mod", Subject: "alice", Platform: "all"})
	assert.Equal(StatusOK, res.Status)
	require.Len(f.store.Punishments, 1)
	assert.Equal(store.PunishmentUnsuspend, f.store.Punishments[0].Kind)
	assert.Equal([]string{"unsuspend alice"}, f.id.CallLog())
	assert.Equal("Unsuspended account by mod", f.notes.last().ActionTaken)

	res = f.eng.HandleModeratorUnsuspend(ctx, ModeratorRequest{Token: "token-mod", Subject: "mod", Platform: "all"})
	assert.ErrorIs(res.Err, ErrSelfAction)
}
