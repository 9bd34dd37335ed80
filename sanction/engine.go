// Decision engine for reports and moderator sanctions.
//
// A report is verified, rate limited, scored against the reported subject's
// audience, persisted, and then either logged, escalated to the moderation
// team, or turned into an automatic time-boxed suspension. Moderators can
// suspend and unsuspend accounts directly.
package sanction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gravitalia/signaly/auth"
	"github.com/gravitalia/signaly/countstore"
	"github.com/gravitalia/signaly/escalation"
	"github.com/gravitalia/signaly/identity"
	"github.com/gravitalia/signaly/notify"
	"github.com/gravitalia/signaly/platform"
	"github.com/gravitalia/signaly/propagate"
	"github.com/gravitalia/signaly/ratelimit"
	"github.com/gravitalia/signaly/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Automatic suspensions last this long before the sweep resolves them.
const SuspensionWindow = 30 * 24 * time.Hour

const DefaultSuspendQuota = 50

const (
	actionSuspended = "Suspended account, check if it is a false-positive"
	actionEscalated = "Alerting support: too many reports"
	actionQuota     = "Alerting support: too many reports (automatic suspension quota reached)"
	actionLogged    = "/"
)

// counter tracking automatic suspensions, for the daily quota
const quotaCounter = "auto-suspend"

type TokenVerifier interface {
	Verify(token string) (*auth.Token, error)
}

// Runtime for handling reports and moderator actions.
//
// Must be used by pointer. Limiter, Store, Platforms, Propagator and Notifier
// are required.
type Engine struct {
	Logger     *slog.Logger
	Verifier   TokenVerifier
	Identity   identity.Client
	Platforms  *platform.Registry
	Store      store.Store
	Limiter    ratelimit.Limiter
	Counters   countstore.CountStore
	Propagator *propagate.Propagator
	Notifier   notify.Notifier
	// automatic suspensions allowed per UTC day; zero uses DefaultSuspendQuota, negative disables the quota
	SuspendQuota int
	// bounds each call to an external collaborator
	CallTimeout time.Duration
	Clock       func() time.Time

	locks subjectLocks
}

type ReportRequest struct {
	Token    string
	Subject  string
	Platform string
	Reason   int
}

type ModeratorRequest struct {
	Token    string
	Subject  string
	Platform string
}

func (eng *Engine) logger() *slog.Logger {
	if eng.Logger == nil {
		return slog.Default()
	}
	return eng.Logger
}

func (eng *Engine) now() time.Time {
	if eng.Clock != nil {
		return eng.Clock().UTC()
	}
	return time.Now().UTC()
}

func (eng *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if eng.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, eng.CallTimeout)
}

func (eng *Engine) authenticate(token string) (string, error) {
	tok, err := eng.Verifier.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthInvalid, err)
	}
	return tok.Subject, nil
}

func (eng *Engine) finish(ctx context.Context, typ string, start time.Time, res *Result) *Result {
	requestDuration.WithLabelValues(typ, res.Status.String()).Observe(time.Since(start).Seconds())
	if res.IsError() {
		requestsRejected.WithLabelValues(typ, rejectionKind(res.Err)).Inc()
		level := slog.LevelInfo
		if res.Status == StatusInternalError {
			level = slog.LevelError
		}
		eng.logger().Log(ctx, level, "request rejected", "type", typ, "status", res.Status.String(), "err", res.Err)
	} else if res.Status == StatusPartial {
		eng.logger().Warn("request partially applied", "type", typ, "err", res.Err)
	}
	return res
}

// Handles an abuse report. See the package documentation for the pipeline.
func (eng *Engine) HandleReport(ctx context.Context, req ReportRequest) *Result {
	ctx, span := otel.Tracer("sanction").Start(ctx, "HandleReport")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject", req.Subject),
		attribute.String("platform", req.Platform),
		attribute.Int("reason", req.Reason),
	)

	start := time.Now()
	res := eng.handleReport(ctx, req)
	if res.Err != nil {
		span.RecordError(res.Err)
		if res.IsError() {
			span.SetStatus(codes.Error, res.Status.String())
		}
	}
	return eng.finish(ctx, "report", start, res)
}

func (eng *Engine) handleReport(ctx context.Context, req ReportRequest) *Result {
	actor, err := eng.authenticate(req.Token)
	if err != nil {
		return reject(err, "Invalid token")
	}
	if req.Subject == "" {
		return reject(ErrUnknownSubject, "Invalid user")
	}
	if req.Subject == actor {
		return reject(ErrSelfAction, "You can't report yourself")
	}

	reserved, err := eng.Limiter.Reserve(ctx, req.Subject, actor)
	if err != nil {
		return reject(fmt.Errorf("%w: rate limiter: %w", ErrCollaboratorFailure, err), "")
	}
	if !reserved {
		return reject(ErrRateLimited, "")
	}
	persisted := false
	defer func() {
		if persisted {
			return
		}
		// only accepted reports hold the slot
		if err := eng.Limiter.Release(context.WithoutCancel(ctx), req.Subject, actor); err != nil {
			eng.logger().Warn("failed to release rate limit slot", "subject", req.Subject, "actor", actor, "err", err)
		}
	}()

	platformName := platform.NormalizeName(req.Platform)
	client, known := eng.Platforms.Lookup(platformName)
	if !known {
		return reject(ErrInvalidPlatform, "Invalid platform")
	}
	followers, err := eng.resolveSubject(ctx, client, req.Subject, actor)
	if err != nil {
		switch {
		case errors.Is(err, ErrSelfAction):
			return reject(err, "You can't report your own post")
		case errors.Is(err, ErrUnknownSubject):
			return reject(err, "Invalid user")
		default:
			return reject(err, "")
		}
	}

	reason, valid := ReasonText(req.Reason)
	if !valid {
		return reject(ErrInvalidReason, "Invalid reason")
	}

	logger := eng.logger().With("subject", req.Subject, "platform", platformName, "actor", actor)

	unlock := eng.locks.lock(req.Subject)
	now := eng.now()
	rep := &store.Report{
		ID:              store.NewID(),
		AffectedSubject: req.Subject,
		AuthorSubject:   actor,
		Platform:        platformName,
		Reason:          uint8(req.Reason),
		CreatedAt:       now,
	}
	if err := eng.Store.InsertReport(ctx, rep); err != nil {
		unlock()
		return reject(fmt.Errorf("%w: inserting report: %w", ErrStoreFailure, err), "")
	}
	persisted = true
	reportsProcessed.WithLabelValues(platformName, strconv.Itoa(req.Reason)).Inc()

	total, err := eng.Store.CountReports(ctx, req.Subject, now.Add(-store.ReportRetention))
	if err != nil {
		unlock()
		return reject(fmt.Errorf("%w: counting reports: %w", ErrStoreFailure, err), "")
	}

	thresholds := escalation.ThresholdsFor(followers)
	tier := thresholds.Decide(total)
	logger.Info("report accepted", "reports", total, "followers", followers,
		"suspendThreshold", thresholds.Suspend, "escalateThreshold", thresholds.Escalate, "tier", tier.String())

	var decision *store.Decision
	action := actionLogged
	switch tier {
	case escalation.TierSuspend:
		allowed, err := eng.takeSuspendQuota(ctx)
		if err != nil {
			unlock()
			return reject(err, "")
		}
		if !allowed {
			logger.Warn("automatic suspension quota reached, escalating instead", "quota", eng.suspendQuota())
			quotaTrips.Inc()
			tier = escalation.TierEscalate
			action = actionQuota
			break
		}
		decision, err = eng.recordSuspension(ctx, req.Subject, platformName, now)
		if err != nil {
			unlock()
			return reject(err, "")
		}
		action = actionSuspended
	case escalation.TierEscalate:
		action = actionEscalated
	}
	unlock()
	tierOutcomes.WithLabelValues(tier.String()).Inc()

	var pending error
	if decision != nil {
		pending = eng.applyDecision(ctx, logger, decision, false)
	}

	if err := eng.notify(ctx, notify.Notification{
		Actor:           actor,
		Platform:        platformName,
		AffectedSubject: req.Subject,
		Reason:          reason,
		ActionTaken:     action,
		Mention:         tier != escalation.TierLog,
	}); err != nil {
		pending = errors.Join(pending, err)
	}

	if pending != nil {
		return partial("Report recorded, follow-up action pending", pending)
	}
	return ok()
}

// Returns the follower count used for scoring: followers for accounts, likes for posts.
func (eng *Engine) resolveSubject(ctx context.Context, client platform.Client, subject, actor string) (uint32, error) {
	cctx, cancel := eng.callCtx(ctx)
	defer cancel()

	if platform.IsPostID(subject) {
		post, err := client.GetPost(cctx, subject)
		if errors.Is(err, platform.ErrNotFound) {
			return 0, ErrUnknownSubject
		}
		if err != nil {
			return 0, fmt.Errorf("%w: fetching post: %w", ErrCollaboratorFailure, err)
		}
		if post.Author == actor {
			return 0, ErrSelfAction
		}
		return post.Likes, nil
	}

	profile, err := client.GetProfile(cctx, subject)
	if errors.Is(err, platform.ErrNotFound) {
		return 0, ErrUnknownSubject
	}
	if err != nil {
		return 0, fmt.Errorf("%w: fetching profile: %w", ErrCollaboratorFailure, err)
	}
	if profile.Suspended {
		return 0, ErrUnknownSubject
	}
	return profile.Followers, nil
}

func (eng *Engine) suspendQuota() int {
	if eng.SuspendQuota == 0 {
		return DefaultSuspendQuota
	}
	return eng.SuspendQuota
}

// Counts one automatic suspension against the daily quota. Returns false,
// without counting, once the quota is used up.
func (eng *Engine) takeSuspendQuota(ctx context.Context) (bool, error) {
	quota := eng.suspendQuota()
	if quota < 0 || eng.Counters == nil {
		return true, nil
	}
	n, err := eng.Counters.AddPeriod(ctx, quotaCounter, "global", countstore.PeriodDay, 1)
	if err != nil {
		return false, fmt.Errorf("%w: counting suspension: %w", ErrStoreFailure, err)
	}
	if n > quota {
		if _, err := eng.Counters.AddPeriod(ctx, quotaCounter, "global", countstore.PeriodDay, -1); err != nil {
			eng.logger().Warn("failed to release suspension quota", "err", err)
		}
		return false, nil
	}
	return true, nil
}

func (eng *Engine) recordSuspension(ctx context.Context, subject, platformName string, now time.Time) (*store.Decision, error) {
	susp := &store.Suspension{
		ID:       store.NewID(),
		Subject:  subject,
		Platform: platformName,
		ExpireAt: now.Add(SuspensionWindow),
	}
	if err := eng.Store.InsertSuspension(ctx, susp); err != nil {
		return nil, fmt.Errorf("%w: inserting suspension: %w", ErrStoreFailure, err)
	}
	return eng.recordDecision(ctx, subject, platformName, store.ActionSuspend, now)
}

func (eng *Engine) recordDecision(ctx context.Context, subject, target string, action store.DecisionAction, now time.Time) (*store.Decision, error) {
	d := &store.Decision{
		ID:        store.NewID(),
		Subject:   subject,
		Platform:  target,
		Action:    action,
		State:     store.DecisionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := eng.Store.InsertDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("%w: inserting decision: %w", ErrStoreFailure, err)
	}
	return d, nil
}

// Propagates a recorded decision and stores the outcome. A non-nil return
// means the decision is left for the sweep to retry.
func (eng *Engine) applyDecision(ctx context.Context, logger *slog.Logger, d *store.Decision, continueOnError bool) error {
	cctx, cancel := eng.callCtx(ctx)
	defer cancel()

	res, err := eng.Propagator.Apply(cctx, d.Subject, d.Platform, propagate.Action(d.Action), !continueOnError)
	if err == nil && res.Status != propagate.StatusOK {
		err = res.Err
	}

	state := store.DecisionApplied
	lastErr := ""
	if err != nil {
		state = store.DecisionFailed
		lastErr = err.Error()
		err = fmt.Errorf("%w: propagating %s: %w", ErrCollaboratorFailure, d.Action, err)
		logger.Warn("sanction propagation failed, left for retry", "decision", d.ID, "err", err)
	}
	if uerr := eng.Store.UpdateDecision(context.WithoutCancel(ctx), d.ID, state, lastErr); uerr != nil {
		logger.Error("failed to update decision record", "decision", d.ID, "err", uerr)
	}
	return err
}

func (eng *Engine) notify(ctx context.Context, n notify.Notification) error {
	cctx, cancel := eng.callCtx(ctx)
	defer cancel()
	if err := eng.Notifier.Send(cctx, n); err != nil {
		return fmt.Errorf("%w: notifying: %w", ErrCollaboratorFailure, err)
	}
	return nil
}
