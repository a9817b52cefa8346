package planner

import (
	"math"
	"time"
)

// Urgency level bounds.
const (
	MinUrgency = 1
	MaxUrgency = 10
)

// hoursPerFocusDay converts an effort estimate in hours into days of
// focused work when comparing it against the days left before a deadline.
const hoursPerFocusDay = 8

// Display tiers derived from the urgency level. Consumers (bot icons,
// CLI colors) key off these, so the thresholds are part of the contract.
const (
	TierCritical = "critical" // level >= 9
	TierHigh     = "high"     // level >= 7
	TierElevated = "elevated" // level >= 4
	TierLow      = "low"
)

// Tier maps an urgency level onto its display tier.
func Tier(level int) string {
	switch {
	case level >= 9:
		return TierCritical
	case level >= 7:
		return TierHigh
	case level >= 4:
		return TierElevated
	default:
		return TierLow
	}
}

// DaysUntil returns the number of calendar days from now until deadline,
// rounded up. Negative means overdue.
func DaysUntil(deadline, now time.Time) int {
	return int(math.Ceil(deadline.Sub(now).Hours() / 24))
}

// UrgencyLevel computes a 1-10 urgency level for a task.
//
// A task without a deadline, an effort estimate, or a distinct-days
// estimate cannot be urgent and scores the minimum. Otherwise the level
// is a step function of slack: the days remaining before the deadline
// minus the days of work still required, where required days is the
// larger of the distinct-days estimate and the hour estimate spread over
// hoursPerFocusDay-hour days. Less slack means a higher level; overdue
// tasks score the maximum.
func UrgencyLevel(deadline *time.Time, completionHours *float64, uniqueDays *int, now time.Time) int {
	if deadline == nil || completionHours == nil || uniqueDays == nil {
		return MinUrgency
	}

	days := DaysUntil(*deadline, now)
	if days < 0 {
		return MaxUrgency
	}

	required := float64(*uniqueDays)
	if byHours := *completionHours / hoursPerFocusDay; byHours > required {
		required = byHours
	}
	slack := float64(days) - math.Ceil(required)

	switch {
	case slack < 0:
		return 10
	case slack < 1:
		return 9
	case slack < 2:
		return 8
	case slack < 3:
		return 7
	case slack < 5:
		return 6
	case slack < 8:
		return 5
	case slack < 11:
		return 4
	case slack < 15:
		return 3
	case slack < 22:
		return 2
	default:
		return 1
	}
}
