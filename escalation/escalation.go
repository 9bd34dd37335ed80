// Escalation scoring for accumulated abuse reports.
//
// Larger accounts need proportionally more corroborating reports before any
// action is taken; small accounts get a protective floor so a handful of
// malicious reports cannot trigger a sanction on their own.
package escalation

import (
	"math"
)

const (
	// growth rate of the saturating curve; must be negative
	expConstant float32 = -0.0000021
	// ceiling of the curve, before the severity multiplier is applied
	baseValue float32 = 30000.0

	// multiplier selecting the automatic suspension curve
	SuspendMultiplier float32 = 10.0
	// multiplier selecting the "alert support" curve
	EscalateMultiplier float32 = 2.0

	smallAccountMaxFollowers = 20
)

// Tier is the outcome of comparing a report count against the curves.
type Tier int

const (
	TierLog Tier = iota
	TierEscalate
	TierSuspend
)

func (t Tier) String() string {
	switch t {
	case TierSuspend:
		return "suspend"
	case TierEscalate:
		return "escalate"
	default:
		return "log"
	}
}

// RequiredReports returns how many reports a subject with the given follower
// count must exceed before the tier selected by multiplier applies.
func RequiredReports(followers uint32, multiplier float32) uint32 {
	// every step is rounded to float32; the conversions keep the compiler
	// from fusing them
	x := float32(expConstant * float32(followers))
	raw := float32((1 - float32(math.Exp(float64(x)))) * baseValue)

	var floor float32 = 1
	if followers >= 1 && followers <= smallAccountMaxFollowers {
		if multiplier == SuspendMultiplier {
			floor = 100
		} else {
			floor = 10
		}
	}

	return uint32(max(float32(raw*multiplier), floor))
}

// Thresholds bundles both curves for one follower count.
type Thresholds struct {
	Suspend  uint32
	Escalate uint32
}

func ThresholdsFor(followers uint32) Thresholds {
	return Thresholds{
		Suspend:  RequiredReports(followers, SuspendMultiplier),
		Escalate: RequiredReports(followers, EscalateMultiplier),
	}
}

// Decide picks the tier for a total report count. Thresholds are strict: the
// count must be greater than the required number.
func (th Thresholds) Decide(total uint32) Tier {
	switch {
	case total > th.Suspend:
		return TierSuspend
	case total > th.Escalate:
		return TierEscalate
	default:
		return TierLog
	}
}
