package planner

import (
	"fmt"
	"strings"
	"time"

	"org-planner/internal/model"
)

// Rule is a recurrence rule as configured on a task.
type Rule struct {
	Type       string
	Interval   int
	DayOfWeek  *int // 0 = Sunday, weekly only
	DayOfMonth *int // 1-31, monthly only
	EndDate    *time.Time
}

// RuleOf extracts the recurrence rule from a node.
func RuleOf(n *model.Node) Rule {
	return Rule{
		Type:       n.RecurrenceType,
		Interval:   n.RecurrenceInterval,
		DayOfWeek:  n.RecurrenceDayOfWeek,
		DayOfMonth: n.RecurrenceDayOfMonth,
		EndDate:    n.RecurrenceEndDate,
	}
}

// NextDeadline computes the deadline of the next occurrence after prev.
// The result is always date-only (midnight in prev's location). It is an
// error to call it with a "none" or unknown recurrence type, or with an
// interval below 1.
func NextDeadline(prev time.Time, r Rule) (time.Time, error) {
	if r.Interval < 1 {
		return time.Time{}, fmt.Errorf("recurrence interval must be >= 1, got %d", r.Interval)
	}

	switch r.Type {
	case model.RecurrenceMinutely:
		return atMidnight(prev.Add(time.Duration(r.Interval) * time.Minute)), nil
	case model.RecurrenceDaily:
		return atMidnight(prev.AddDate(0, 0, r.Interval)), nil
	case model.RecurrenceWeekly:
		return nextWeekly(prev, r), nil
	case model.RecurrenceMonthly:
		return nextMonthly(prev, r), nil
	case model.RecurrenceYearly:
		return atMidnight(prev.AddDate(r.Interval, 0, 0)), nil
	default:
		return time.Time{}, fmt.Errorf("cannot compute next deadline for recurrence type %q", r.Type)
	}
}

// nextWeekly advances to the target weekday if one is configured, never
// landing on prev itself: a deadline already on the target weekday moves
// a full week ahead.
func nextWeekly(prev time.Time, r Rule) time.Time {
	if r.DayOfWeek == nil {
		return atMidnight(prev.AddDate(0, 0, r.Interval*7))
	}
	daysUntil := (*r.DayOfWeek - int(prev.Weekday()) + 7) % 7
	if daysUntil == 0 {
		daysUntil = 7
	}
	return atMidnight(prev.AddDate(0, 0, daysUntil+(r.Interval-1)*7))
}

// nextMonthly advances by interval months, clamping the day to the
// target month's length (Jan 31 + 1 month = Feb 29 in a leap year).
func nextMonthly(prev time.Time, r Rule) time.Time {
	day := prev.Day()
	if r.DayOfMonth != nil {
		day = *r.DayOfMonth
	}

	first := time.Date(prev.Year(), prev.Month()+time.Month(r.Interval), 1, 0, 0, 0, 0, prev.Location())
	if last := daysInMonth(first.Month(), first.Year()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, prev.Location())
}

// ShouldCreateNext reports whether an occurrence with the given deadline
// is still inside the rule's end bound. An absent end date never stops
// the lineage; a deadline exactly on the end date still counts.
func ShouldCreateNext(next time.Time, endDate *time.Time) bool {
	if endDate == nil {
		return true
	}
	return !next.After(*endDate)
}

// Describe renders a rule for humans, e.g. "every 2 weeks on Monday".
func Describe(r Rule) string {
	var unit string
	switch r.Type {
	case model.RecurrenceMinutely:
		unit = "minute"
	case model.RecurrenceDaily:
		unit = "day"
	case model.RecurrenceWeekly:
		unit = "week"
	case model.RecurrenceMonthly:
		unit = "month"
	case model.RecurrenceYearly:
		unit = "year"
	default:
		return "does not repeat"
	}

	var b strings.Builder
	if r.Interval == 1 {
		fmt.Fprintf(&b, "every %s", unit)
	} else {
		fmt.Fprintf(&b, "every %d %ss", r.Interval, unit)
	}
	if r.Type == model.RecurrenceWeekly && r.DayOfWeek != nil {
		fmt.Fprintf(&b, " on %s", time.Weekday(*r.DayOfWeek))
	}
	if r.Type == model.RecurrenceMonthly && r.DayOfMonth != nil {
		fmt.Fprintf(&b, " on day %d", *r.DayOfMonth)
	}
	if r.EndDate != nil {
		fmt.Fprintf(&b, " until %s", r.EndDate.Format("2006-01-02"))
	}
	return b.String()
}

func atMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysInMonth(month time.Month, year int) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
