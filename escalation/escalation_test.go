package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredReportsFloors(t *testing.T) {
	assert := assert.New(t)

	// no followers: curve is zero, general floor applies
	assert.Equal(uint32(1), RequiredReports(0, SuspendMultiplier))
	assert.Equal(uint32(1), RequiredReports(0, EscalateMultiplier))

	for f := uint32(1); f <= 20; f++ {
		assert.GreaterOrEqual(RequiredReports(f, SuspendMultiplier), uint32(100), "followers=%d", f)
		assert.GreaterOrEqual(RequiredReports(f, EscalateMultiplier), uint32(10), "followers=%d", f)
		assert.GreaterOrEqual(RequiredReports(f, 3.5), uint32(10), "followers=%d", f)
	}

	for _, f := range []uint32{21, 22, 100, 5_000, 1_000_000, 4_000_000_000} {
		assert.GreaterOrEqual(RequiredReports(f, SuspendMultiplier), uint32(1))
		assert.GreaterOrEqual(RequiredReports(f, EscalateMultiplier), uint32(1))
	}
}

func TestRequiredReportsShape(t *testing.T) {
	assert := assert.New(t)

	followerCounts := []uint32{0, 1, 5, 20, 21, 50, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000}
	for _, f := range followerCounts {
		assert.GreaterOrEqual(RequiredReports(f, SuspendMultiplier), RequiredReports(f, EscalateMultiplier), "followers=%d", f)
	}

	// non-decreasing above the small-account band
	for _, m := range []float32{SuspendMultiplier, EscalateMultiplier} {
		prev := RequiredReports(21, m)
		for f := uint32(22); f < 200_000; f += 997 {
			cur := RequiredReports(f, m)
			assert.GreaterOrEqual(cur, prev, "followers=%d multiplier=%v", f, m)
			prev = cur
		}
	}

	// saturates towards the ceiling
	assert.InDelta(300_000, RequiredReports(4_000_000_000, SuspendMultiplier), 1)
	assert.InDelta(60_000, RequiredReports(4_000_000_000, EscalateMultiplier), 1)
}

func TestRequiredReportsSinglePrecision(t *testing.T) {
	assert := assert.New(t)

	// values where single and double precision land on different integers
	assert.Equal(uint32(80), RequiredReports(127, SuspendMultiplier))
	assert.Equal(uint32(16), RequiredReports(127, EscalateMultiplier))

	assert.Equal(uint32(13), RequiredReports(21, SuspendMultiplier))
	assert.Equal(uint32(2), RequiredReports(21, EscalateMultiplier))
	assert.Equal(uint32(629), RequiredReports(1_000, SuspendMultiplier))
	assert.Equal(uint32(6234), RequiredReports(10_000, SuspendMultiplier))
	assert.Equal(uint32(1246), RequiredReports(10_000, EscalateMultiplier))
}

func TestThresholdsDecide(t *testing.T) {
	assert := assert.New(t)

	th := ThresholdsFor(10)
	assert.Equal(uint32(100), th.Suspend)
	assert.Equal(uint32(10), th.Escalate)

	assert.Equal(TierLog, th.Decide(0))
	assert.Equal(TierLog, th.Decide(10))
	assert.Equal(TierEscalate, th.Decide(11))
	assert.Equal(TierEscalate, th.Decide(100))
	assert.Equal(TierSuspend, th.Decide(101))

	zero := ThresholdsFor(0)
	assert.Equal(TierLog, zero.Decide(1))
	assert.Equal(TierSuspend, zero.Decide(2))

	assert.Equal("suspend", TierSuspend.String())
	assert.Equal("escalate", TierEscalate.String())
	assert.Equal("log", TierLog.String())
}
