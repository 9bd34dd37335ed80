package sanction

import (
	"context"
	"fmt"
	"time"

	"github.com/gravitalia/signaly/identity"
	"github.com/gravitalia/signaly/notify"
	"github.com/gravitalia/signaly/platform"
	"github.com/gravitalia/signaly/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Suspends an account on one platform, or everywhere with the "all" target.
func (eng *Engine) HandleModeratorSuspend(ctx context.Context, req ModeratorRequest) *Result {
	return eng.handleModerator(ctx, req, store.PunishmentSuspend)
}

// Lifts a suspension on one platform, or everywhere with the "all" target.
func (eng *Engine) HandleModeratorUnsuspend(ctx context.Context, req ModeratorRequest) *Result {
	return eng.handleModerator(ctx, req, store.PunishmentUnsuspend)
}

func (eng *Engine) handleModerator(ctx context.Context, req ModeratorRequest, kind store.PunishmentKind) *Result {
	typ := kind.String()
	ctx, span := otel.Tracer("sanction").Start(ctx, "HandleModerator")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", typ),
		attribute.String("subject", req.Subject),
		attribute.String("platform", req.Platform),
	)

	start := time.Now()
	res := eng.moderate(ctx, req, kind)
	if res.Err != nil {
		span.RecordError(res.Err)
		if res.IsError() {
			span.SetStatus(codes.Error, res.Status.String())
		}
	}
	return eng.finish(ctx, typ, start, res)
}

func (eng *Engine) moderate(ctx context.Context, req ModeratorRequest, kind store.PunishmentKind) *Result {
	actor, err := eng.authenticate(req.Token)
	if err != nil {
		return reject(err, "Invalid token")
	}

	cctx, cancel := eng.callCtx(ctx)
	profile, err := eng.Identity.GetProfile(cctx, req.Token)
	cancel()
	if err != nil {
		return reject(fmt.Errorf("%w: fetching moderator profile: %w", ErrCollaboratorFailure, err), "")
	}
	if !profile.Has(identity.CapabilityModerator) {
		return reject(ErrPermissionDenied, "You haven't enough flags to perform this action")
	}
	if req.Subject == "" {
		return reject(ErrUnknownSubject, "Invalid user")
	}
	if req.Subject == actor {
		if kind == store.PunishmentSuspend {
			return reject(ErrSelfAction, "You can't suspend yourself")
		}
		return reject(ErrSelfAction, "You can't unsuspend yourself")
	}

	target := platform.NormalizeName(req.Platform)
	if !eng.Propagator.Valid(target) {
		return reject(ErrInvalidPlatform, "Invalid platform")
	}

	logger := eng.logger().With("subject", req.Subject, "platform", target, "moderator", actor, "kind", kind.String())
	now := eng.now()

	unlock := eng.locks.lock(req.Subject)
	err = eng.Store.InsertPunishment(ctx, &store.Punishment{
		ID:               store.NewID(),
		AffectedSubject:  req.Subject,
		ModeratorSubject: actor,
		Platform:         target,
		Kind:             kind,
		CreatedAt:        now,
	})
	if err != nil {
		unlock()
		return reject(fmt.Errorf("%w: inserting punishment: %w", ErrStoreFailure, err), "")
	}
	action := store.ActionSuspend
	if kind == store.PunishmentUnsuspend {
		action = store.ActionUnsuspend
	}
	decision, err := eng.recordDecision(ctx, req.Subject, target, action, now)
	unlock()
	if err != nil {
		return reject(err, "")
	}
	logger.Info("moderator action recorded", "decision", decision.ID)

	// wildcard actions try every service; the rest are retried by the sweep
	pending := eng.applyDecision(ctx, logger, decision, target == platform.Wildcard)

	actionText := fmt.Sprintf("Suspended account by %s", actor)
	if kind == store.PunishmentUnsuspend {
		actionText = fmt.Sprintf("Unsuspended account by %s", actor)
	}
	if err := eng.notify(ctx, notify.Notification{
		Actor:           actor,
		Platform:        target,
		AffectedSubject: req.Subject,
		Reason:          "/",
		ActionTaken:     actionText,
	}); err != nil {
		logger.Warn("moderator notification failed", "err", err)
		if pending == nil {
			pending = err
		}
	}

	if pending != nil {
		return partial("Action recorded, propagation pending", pending)
	}
	return ok()
}
