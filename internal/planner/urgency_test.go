package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }
func ptrT(v time.Time) *time.Time {
	return &v
}

func TestUrgencyLevel_MissingInputs(t *testing.T) {
	now := date(2024, time.March, 1)
	deadline := date(2024, time.March, 10)

	assert.Equal(t, 1, UrgencyLevel(nil, ptrF(4), ptrI(1), now))
	assert.Equal(t, 1, UrgencyLevel(&deadline, nil, ptrI(1), now))
	assert.Equal(t, 1, UrgencyLevel(&deadline, ptrF(4), nil, now))
	assert.Equal(t, 1, UrgencyLevel(nil, nil, nil, now))
}

func TestUrgencyLevel_Overdue(t *testing.T) {
	now := date(2024, time.March, 10)
	deadline := date(2024, time.March, 1)

	assert.Equal(t, 10, UrgencyLevel(&deadline, ptrF(1), ptrI(1), now))
}

func TestUrgencyLevel_Bounds(t *testing.T) {
	now := date(2024, time.March, 1)

	for offset := -30; offset <= 120; offset += 3 {
		deadline := now.AddDate(0, 0, offset)
		level := UrgencyLevel(&deadline, ptrF(16), ptrI(3), now)
		require.GreaterOrEqual(t, level, MinUrgency, "offset %d", offset)
		require.LessOrEqual(t, level, MaxUrgency, "offset %d", offset)
	}
}

// Moving the deadline closer must never lower the urgency.
func TestUrgencyLevel_Monotonic(t *testing.T) {
	now := date(2024, time.March, 1)

	prev := MaxUrgency + 1
	for offset := -5; offset <= 60; offset++ {
		deadline := now.AddDate(0, 0, offset)
		level := UrgencyLevel(&deadline, ptrF(8), ptrI(2), now)
		require.LessOrEqual(t, level, prev, "urgency rose as deadline moved away (offset %d)", offset)
		prev = level
	}
	assert.Equal(t, 1, prev, "far-future deadline should be calm")
}

// More required effort with the same deadline must never lower urgency.
func TestUrgencyLevel_MonotonicInEffort(t *testing.T) {
	now := date(2024, time.March, 1)
	deadline := now.AddDate(0, 0, 10)

	prev := 0
	for days := 0; days <= 15; days++ {
		level := UrgencyLevel(&deadline, ptrF(2), ptrI(days), now)
		require.GreaterOrEqual(t, level, prev, "urgency dropped as effort grew (days %d)", days)
		prev = level
	}
}

func TestUrgencyLevel_NoSlackLeft(t *testing.T) {
	now := date(2024, time.March, 1)
	// Due in 2 days but needs 5 distinct days of work.
	deadline := now.AddDate(0, 0, 2)

	assert.Equal(t, 10, UrgencyLevel(&deadline, ptrF(4), ptrI(5), now))
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 2, DaysUntil(time.Date(2024, time.March, 3, 12, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 0, DaysUntil(now, now))
	// A deadline at midnight today is "due today", not overdue.
	assert.Equal(t, 0, DaysUntil(date(2024, time.March, 1), now))
	assert.Equal(t, -1, DaysUntil(time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC), now))
}

func TestTier(t *testing.T) {
	assert.Equal(t, TierCritical, Tier(10))
	assert.Equal(t, TierCritical, Tier(9))
	assert.Equal(t, TierHigh, Tier(8))
	assert.Equal(t, TierHigh, Tier(7))
	assert.Equal(t, TierElevated, Tier(6))
	assert.Equal(t, TierElevated, Tier(4))
	assert.Equal(t, TierLow, Tier(3))
	assert.Equal(t, TierLow, Tier(1))
}
