package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"org-planner/internal/model"
)

func TestNextDeadline_Daily(t *testing.T) {
	next, err := NextDeadline(date(2024, time.March, 10), Rule{Type: model.RecurrenceDaily, Interval: 1})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 11), next)

	next, err = NextDeadline(date(2024, time.March, 10), Rule{Type: model.RecurrenceDaily, Interval: 3})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 13), next)
}

func TestNextDeadline_WeeklyTargetsWeekday(t *testing.T) {
	// 2024-01-03 is a Wednesday; next Monday is 5 days out, not the
	// Monday of the same week.
	wednesday := date(2024, time.January, 3)
	monday := 1

	next, err := NextDeadline(wednesday, Rule{Type: model.RecurrenceWeekly, Interval: 1, DayOfWeek: &monday})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.January, 8), next)
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestNextDeadline_WeeklySameWeekdayAdvancesFullWeek(t *testing.T) {
	monday := date(2024, time.January, 8)
	dow := 1

	next, err := NextDeadline(monday, Rule{Type: model.RecurrenceWeekly, Interval: 1, DayOfWeek: &dow})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.January, 15), next)
}

func TestNextDeadline_WeeklyInterval(t *testing.T) {
	wednesday := date(2024, time.January, 3)
	monday := 1

	// Two-week interval: the weekday step plus one extra week.
	next, err := NextDeadline(wednesday, Rule{Type: model.RecurrenceWeekly, Interval: 2, DayOfWeek: &monday})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.January, 15), next)

	// No weekday: plain week arithmetic.
	next, err = NextDeadline(wednesday, Rule{Type: model.RecurrenceWeekly, Interval: 2})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.January, 17), next)
}

func TestNextDeadline_MonthlyClampsToMonthEnd(t *testing.T) {
	// Jan 31 + 1 month lands on leap-year Feb 29, not March.
	next, err := NextDeadline(date(2024, time.January, 31), Rule{Type: model.RecurrenceMonthly, Interval: 1})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 29), next)

	// Non-leap year clamps to Feb 28.
	next, err = NextDeadline(date(2025, time.January, 31), Rule{Type: model.RecurrenceMonthly, Interval: 1})
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 28), next)
}

func TestNextDeadline_MonthlyExplicitDay(t *testing.T) {
	day := 15
	next, err := NextDeadline(date(2024, time.January, 3), Rule{Type: model.RecurrenceMonthly, Interval: 1, DayOfMonth: &day})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 15), next)

	day = 31
	next, err = NextDeadline(date(2024, time.March, 31), Rule{Type: model.RecurrenceMonthly, Interval: 1, DayOfMonth: &day})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.April, 30), next)
}

func TestNextDeadline_MonthlyInterval(t *testing.T) {
	next, err := NextDeadline(date(2024, time.January, 10), Rule{Type: model.RecurrenceMonthly, Interval: 3})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.April, 10), next)
}

func TestNextDeadline_Yearly(t *testing.T) {
	next, err := NextDeadline(date(2024, time.June, 15), Rule{Type: model.RecurrenceYearly, Interval: 1})
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.June, 15), next)

	// Leap day degrades through standard calendar arithmetic.
	next, err = NextDeadline(date(2024, time.February, 29), Rule{Type: model.RecurrenceYearly, Interval: 1})
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.March, 1), next)
}

func TestNextDeadline_MinutelyIsDateOnly(t *testing.T) {
	prev := date(2024, time.March, 10)

	// Sub-day advances collapse onto the same date.
	next, err := NextDeadline(prev, Rule{Type: model.RecurrenceMinutely, Interval: 90})
	require.NoError(t, err)
	assert.Equal(t, prev, next)

	// A 25-hour advance crosses midnight.
	next, err = NextDeadline(prev, Rule{Type: model.RecurrenceMinutely, Interval: 1500})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 11), next)
}

func TestNextDeadline_RejectsBadInput(t *testing.T) {
	_, err := NextDeadline(date(2024, time.March, 10), Rule{Type: model.RecurrenceNone, Interval: 1})
	assert.Error(t, err)

	_, err = NextDeadline(date(2024, time.March, 10), Rule{Type: "fortnightly", Interval: 1})
	assert.Error(t, err)

	_, err = NextDeadline(date(2024, time.March, 10), Rule{Type: model.RecurrenceDaily, Interval: 0})
	assert.Error(t, err)
}

func TestShouldCreateNext(t *testing.T) {
	next := date(2024, time.May, 1)

	assert.True(t, ShouldCreateNext(next, nil))
	assert.True(t, ShouldCreateNext(next, ptrT(date(2024, time.May, 1))), "deadline on the end date still counts")
	assert.False(t, ShouldCreateNext(next, ptrT(date(2024, time.April, 30))))
}

func TestDescribe(t *testing.T) {
	monday := 1
	day := 15
	end := date(2026, time.December, 31)

	assert.Equal(t, "every week on Monday", Describe(Rule{Type: model.RecurrenceWeekly, Interval: 1, DayOfWeek: &monday}))
	assert.Equal(t, "every 2 weeks on Monday", Describe(Rule{Type: model.RecurrenceWeekly, Interval: 2, DayOfWeek: &monday}))
	assert.Equal(t, "every month on day 15", Describe(Rule{Type: model.RecurrenceMonthly, Interval: 1, DayOfMonth: &day}))
	assert.Equal(t, "every day until 2026-12-31", Describe(Rule{Type: model.RecurrenceDaily, Interval: 1, EndDate: &end}))
	assert.Equal(t, "does not repeat", Describe(Rule{Type: model.RecurrenceNone, Interval: 1}))
}
