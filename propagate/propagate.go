// Fans sanctions (suspend, unsuspend, delete) out to the identity service and
// federated platforms.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gravitalia/signaly/identity"
	"github.com/gravitalia/signaly/platform"
)

type Action string

const (
	ActionSuspend   Action = "suspend"
	ActionUnsuspend Action = "unsuspend"
	ActionDelete    Action = "delete"
)

type Status int

const (
	StatusOK Status = iota
	// some targets applied the action, others did not
	StatusPartialFailure
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPartialFailure:
		return "partial"
	default:
		return "fail"
	}
}

var ErrUnknownPlatform = errors.New("unknown platform")

type Result struct {
	Status  Status
	Applied int
	Failed  int
	// first failure encountered, if any
	Err error
}

// A service which can apply sanctions to accounts. Both identity and
// platform clients satisfy it.
type Target interface {
	SuspendAccount(ctx context.Context, subject string) error
	UnsuspendAccount(ctx context.Context, subject string) error
	DeleteAccount(ctx context.Context, subject string) error
}

type namedTarget struct {
	name   string
	target Target
}

type Propagator struct {
	Identity  identity.Client
	Platforms *platform.Registry
	// federated services called for the wildcard target, in order
	Services []platform.Client
	Logger   *slog.Logger
}

func (p *Propagator) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Propagator) targets(target string) ([]namedTarget, error) {
	if platform.NormalizeName(target) == platform.Wildcard {
		out := make([]namedTarget, 0, len(p.Services)+1)
		if p.Identity != nil {
			out = append(out, namedTarget{name: "identity", target: p.Identity})
		}
		for i, svc := range p.Services {
			out = append(out, namedTarget{name: fmt.Sprintf("service-%d", i), target: svc})
		}
		return out, nil
	}
	c, ok := p.Platforms.Lookup(target)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownPlatform, target, strings.Join(p.Platforms.Names(), ", "))
	}
	return []namedTarget{{name: platform.NormalizeName(target), target: c}}, nil
}

// Checks that a target (platform name or the wildcard) can be propagated to.
func (p *Propagator) Valid(target string) bool {
	_, err := p.targets(target)
	return err == nil
}

// Applies the action to the subject on the target: one platform, or the
// identity service followed by every configured service for the wildcard.
// Calls are sequential. With stopOnError the first failure aborts the
// remaining calls; otherwise every call is attempted.
func (p *Propagator) Apply(ctx context.Context, subject, target string, action Action, stopOnError bool) (*Result, error) {
	targets, err := p.targets(target)
	if err != nil {
		return nil, err
	}
	logger := p.logger().With("subject", subject, "target", target, "action", string(action))

	res := &Result{}
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			if res.Err == nil {
				res.Err = err
			}
			res.Failed++
			break
		}
		err := apply(ctx, t.target, subject, action)
		if err != nil {
			sanctionCalls.WithLabelValues(string(action), t.name, "error").Inc()
			logger.Warn("sanction call failed", "service", t.name, "err", err)
			res.Failed++
			if res.Err == nil {
				res.Err = fmt.Errorf("%s %s on %s: %w", action, subject, t.name, err)
			}
			if stopOnError {
				break
			}
			continue
		}
		sanctionCalls.WithLabelValues(string(action), t.name, "ok").Inc()
		res.Applied++
	}

	switch {
	case res.Failed == 0:
		res.Status = StatusOK
	case res.Applied == 0:
		res.Status = StatusFail
	default:
		res.Status = StatusPartialFailure
	}
	sanctionsPropagated.WithLabelValues(string(action), res.Status.String()).Inc()
	logger.Info("sanction propagated", "status", res.Status.String(), "applied", res.Applied, "failed", res.Failed)
	return res, nil
}

func apply(ctx context.Context, t Target, subject string, action Action) error {
	switch action {
	case ActionSuspend:
		return t.SuspendAccount(ctx, subject)
	case ActionUnsuspend:
		return t.UnsuspendAccount(ctx, subject)
	case ActionDelete:
		return t.DeleteAccount(ctx, subject)
	default:
		return fmt.Errorf("unsupported sanction action: %q", action)
	}
}
