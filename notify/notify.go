// Notifications sent to the moderation team whenever a report is processed
// or a sanction is applied.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

type Notification struct {
	Actor           string
	Platform        string
	AffectedSubject string
	Reason          string
	ActionTaken     string
	// ping the moderation team, not just log to the channel
	Mention bool
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Sends to every inner notifier, even if some fail.
type MultiNotifier []Notifier

func (m MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, inner := range m {
		if err := inner.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fallback when no webhook is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Send(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Mention {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "moderation notification",
		"actor", n.Actor,
		"platform", n.Platform,
		"subject", n.AffectedSubject,
		"reason", n.Reason,
		"action", n.ActionTaken,
	)
	return nil
}
