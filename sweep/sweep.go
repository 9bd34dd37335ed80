// Daily job resolving expired suspensions.
//
// Each UTC day is swept once: suspensions expiring that day are escalated to
// account deletion (everywhere for the "all" marker, otherwise on the one
// platform). Progress is tracked per day in the store, so a restarted process
// catches up on missed days without repeating completed ones, and several
// instances can share the work through day claims.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gravitalia/signaly/pkg/metrics"
	"github.com/gravitalia/signaly/platform"
	"github.com/gravitalia/signaly/propagate"
	"github.com/gravitalia/signaly/store"
)

const (
	DefaultLease       = time.Hour
	DefaultMaxCatchUp  = 31
	DefaultGrace       = 5 * time.Minute
	DefaultMaxAttempts = 5
)

// Returned by SweepDay when another instance holds an unexpired claim on the day.
var ErrDayBusy = errors.New("sweep day claimed by another instance")

type Sweeper struct {
	Store      store.Store
	Propagator *propagate.Propagator
	Logger     *slog.Logger
	// identifies this instance in day claims
	Owner string
	// how long another instance's unfinished claim blocks this one
	Lease time.Duration
	// maximum number of days processed when catching up
	MaxCatchUp int
	// decisions are only resumed once untouched for this long
	DecisionGrace time.Duration
	MaxAttempts   int
	Clock         func() time.Time
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Sweeper) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Sweeper) lease() time.Duration {
	if s.Lease <= 0 {
		return DefaultLease
	}
	return s.Lease
}

func (s *Sweeper) maxCatchUp() int {
	if s.MaxCatchUp <= 0 {
		return DefaultMaxCatchUp
	}
	return s.MaxCatchUp
}

func (s *Sweeper) grace() time.Duration {
	if s.DecisionGrace <= 0 {
		return DefaultGrace
	}
	return s.DecisionGrace
}

func (s *Sweeper) maxAttempts() int {
	if s.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return s.MaxAttempts
}

// Sweeps on start and then after every UTC midnight, until ctx is cancelled.
// Errors of a single pass are logged; the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) error {
	logger := s.logger()
	logger.Info("starting expiry sweeper", "owner", s.Owner)
	for {
		busy, err := s.runOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("sweep pass failed", "err", err)
		}

		now := s.now()
		wait := NextMidnight(now).Sub(now)
		// come back once the other instance's claim can be taken over
		if busy && s.lease() < wait {
			wait = s.lease()
		}
		logger.Debug("sweeper sleeping", "duration", wait.String())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("expiry sweeper stopped")
			return nil
		case <-timer.C:
		}
	}
}

func NextMidnight(t time.Time) time.Time {
	return store.Day(t).Add(24 * time.Hour)
}

// Days still to sweep, oldest first, ending with today.
func (s *Sweeper) pendingDays(ctx context.Context) ([]time.Time, error) {
	today := store.Day(s.now())
	last, ok, err := s.Store.LastSweep(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sweep cursor: %w", err)
	}
	start := today
	if ok {
		start = store.Day(last).AddDate(0, 0, 1)
		earliest := today.AddDate(0, 0, -(s.maxCatchUp() - 1))
		if start.Before(earliest) {
			s.logger().Warn("sweep catch-up capped", "last", store.DayString(last), "from", store.DayString(earliest))
			start = earliest
		}
	}
	var days []time.Time
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// One full pass: every pending day, then decision retries and report purge.
// The pass stops at the first day it cannot complete, whether it failed or
// is held by another instance, so the cursor never moves past it.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	_, err := s.runOnce(ctx)
	return err
}

func (s *Sweeper) runOnce(ctx context.Context) (bool, error) {
	start := time.Now()
	days, err := s.pendingDays(ctx)
	if err != nil {
		sweepRuns.WithLabelValues(metrics.StatusError).Inc()
		return false, err
	}

	var errs []error
	busy := false
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return busy, err
		}
		err := s.SweepDay(ctx, day)
		if errors.Is(err, ErrDayBusy) {
			s.logger().Info("sweep day held by another instance, later days wait", "day", store.DayString(day))
			busy = true
			break
		}
		if err != nil {
			errs = append(errs, err)
			break
		}
	}

	if err := s.ResumeDecisions(ctx); err != nil {
		errs = append(errs, err)
	}

	n, err := s.Store.PurgeReports(ctx, s.now().Add(-store.ReportRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purging reports: %w", err))
	} else if n > 0 {
		s.logger().Info("purged expired reports", "count", n)
	}

	err = errors.Join(errs...)
	result := metrics.StatusOK
	if err != nil {
		result = metrics.StatusError
	}
	sweepRuns.WithLabelValues(result).Inc()
	sweepDuration.Observe(time.Since(start).Seconds())
	return busy, err
}

// Resolves the suspensions expiring on day, if this instance can claim it.
func (s *Sweeper) SweepDay(ctx context.Context, day time.Time) error {
	dayStr := store.DayString(day)
	logger := s.logger().With("day", dayStr)

	claimed, err := s.Store.ClaimSweep(ctx, day, s.Owner, s.lease())
	if err != nil {
		return fmt.Errorf("claiming sweep day %s: %w", dayStr, err)
	}
	if !claimed {
		return ErrDayBusy
	}

	expiring, err := s.Store.SuspensionsExpiringOn(ctx, day)
	if err != nil {
		return fmt.Errorf("listing suspensions expiring %s: %w", dayStr, err)
	}
	logger.Info("sweeping expired suspensions", "count", len(expiring))

	for _, susp := range expiring {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.resolve(ctx, logger, susp)
	}

	if err := s.Store.CompleteSweep(ctx, day, s.Owner); err != nil {
		return fmt.Errorf("completing sweep day %s: %w", dayStr, err)
	}
	return nil
}

// Failures are left in the decision record for ResumeDecisions.
func (s *Sweeper) resolve(ctx context.Context, logger *slog.Logger, susp store.Suspension) {
	logger = logger.With("subject", susp.Subject, "platform", susp.Platform)
	now := s.now()
	d := &store.Decision{
		ID:        store.NewID(),
		Subject:   susp.Subject,
		Platform:  susp.Platform,
		Action:    store.ActionDelete,
		State:     store.DecisionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.InsertDecision(ctx, d); err != nil {
		logger.Error("failed to record deletion decision", "err", err)
		sweepItems.WithLabelValues(metrics.StatusError).Inc()
		return
	}
	s.apply(ctx, logger, d)
}

func (s *Sweeper) apply(ctx context.Context, logger *slog.Logger, d *store.Decision) {
	// the wildcard tries every service: one failing must not spare the others
	stopOnError := platform.NormalizeName(d.Platform) != platform.Wildcard
	res, err := s.Propagator.Apply(ctx, d.Subject, d.Platform, propagate.Action(d.Action), stopOnError)
	if err == nil && res.Status != propagate.StatusOK {
		err = res.Err
	}

	state := store.DecisionApplied
	lastErr := ""
	if err != nil {
		state = store.DecisionFailed
		lastErr = err.Error()
		logger.Warn("sanction failed, left for retry", "decision", d.ID, "action", string(d.Action), "err", err)
		sweepItems.WithLabelValues("failed").Inc()
	} else {
		sweepItems.WithLabelValues("applied").Inc()
	}
	if err := s.Store.UpdateDecision(context.WithoutCancel(ctx), d.ID, state, lastErr); err != nil {
		logger.Error("failed to update decision record", "decision", d.ID, "err", err)
	}
}

// Retries decisions whose propagation failed or was interrupted.
func (s *Sweeper) ResumeDecisions(ctx context.Context) error {
	decisions, err := s.Store.RetryableDecisions(ctx, s.now().Add(-s.grace()), s.maxAttempts())
	if err != nil {
		return fmt.Errorf("listing retryable decisions: %w", err)
	}
	for i := range decisions {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := &decisions[i]
		logger := s.logger().With("subject", d.Subject, "platform", d.Platform)
		logger.Info("resuming sanction decision", "decision", d.ID, "action", string(d.Action), "attempts", d.Attempts)
		decisionRetries.Inc()
		s.apply(ctx, logger, d)
	}
	return nil
}
