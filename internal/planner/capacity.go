package planner

import (
	"fmt"
	"sort"
	"time"

	"org-planner/internal/model"
)

// AvailableHoursPerWeek is the planning baseline of productive hours in a
// seven-day week. A policy constant, not derived from calendar data.
const AvailableHoursPerWeek = 25.0

// Window is the date range a capacity report covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the window length in (fractional) days.
func (w Window) Days() float64 {
	return w.End.Sub(w.Start).Hours() / 24
}

// ImportanceBand filters tasks by importance. The zero value matches
// nothing; use the Band* values or ParseBand.
type ImportanceBand struct {
	Name string
	Min  int
	Max  int
}

// The fixed importance brackets offered in reports.
var (
	BandAll      = ImportanceBand{Name: "all", Min: MinUrgency, Max: MaxUrgency}
	BandMinimal  = ImportanceBand{Name: "minimal", Min: 1, Max: 1}
	BandLow      = ImportanceBand{Name: "low", Min: 2, Max: 4}
	BandModerate = ImportanceBand{Name: "moderate", Min: 5, Max: 6}
	BandHigh     = ImportanceBand{Name: "high", Min: 7, Max: 9}
	BandCritical = ImportanceBand{Name: "critical", Min: 10, Max: 10}
)

// Contains reports whether an importance value falls inside the band.
func (b ImportanceBand) Contains(importance int) bool {
	return importance >= b.Min && importance <= b.Max
}

// ParseBand resolves a user-supplied band name ("all", "low", "2-4", ...).
func ParseBand(s string) (ImportanceBand, error) {
	for _, b := range []ImportanceBand{BandAll, BandMinimal, BandLow, BandModerate, BandHigh, BandCritical} {
		if s == b.Name || s == fmt.Sprintf("%d-%d", b.Min, b.Max) || (b.Min == b.Max && s == fmt.Sprintf("%d", b.Min)) {
			return b, nil
		}
	}
	return ImportanceBand{}, fmt.Errorf("unknown importance band %q", s)
}

// TaskLoad is a task enriched with capacity-report figures.
type TaskLoad struct {
	Task              model.Node
	DaysUntilDeadline int
	Overdue           bool
	// Partial marks tasks whose deadline lies beyond the window: only a
	// prorated share of their hours counts toward the window.
	Partial       bool
	RequiredHours float64 // prorated share for partial tasks, else TotalHours
	TotalHours    float64
}

// Report summarizes required versus available hours over a window.
type Report struct {
	Window             Window
	Band               ImportanceBand
	TotalRequiredHours float64
	TotalAvailableHours float64
	TaskCount          int
	LoadRatio          float64
	Tasks              []TaskLoad
}

// BuildReport computes the capacity report for the given tasks. Tasks
// without both a deadline and a completion-time estimate are excluded
// from the numbers entirely rather than counted as zero.
func BuildReport(tasks []model.Node, w Window, band ImportanceBand, now time.Time) Report {
	report := Report{Window: w, Band: band}
	windowDays := w.Days()

	for _, task := range tasks {
		if !band.Contains(clampLevel(task.Importance)) {
			continue
		}
		if task.Deadline == nil || task.CompletionTime == nil {
			continue
		}

		load := TaskLoad{
			Task:              task,
			DaysUntilDeadline: DaysUntil(*task.Deadline, now),
			TotalHours:        *task.CompletionTime,
		}
		load.Overdue = load.DaysUntilDeadline < 0

		if task.Deadline.After(w.End) && load.DaysUntilDeadline >= 1 {
			dailyRate := load.TotalHours / float64(load.DaysUntilDeadline)
			load.Partial = true
			load.RequiredHours = dailyRate * windowDays
		} else {
			load.RequiredHours = load.TotalHours
		}

		report.TotalRequiredHours += load.RequiredHours
		report.Tasks = append(report.Tasks, load)
	}

	report.TaskCount = len(report.Tasks)
	report.TotalAvailableHours = windowDays / 7 * AvailableHoursPerWeek
	if report.TotalAvailableHours > 0 {
		report.LoadRatio = report.TotalRequiredHours / report.TotalAvailableHours
	}

	sort.SliceStable(report.Tasks, func(i, j int) bool {
		return report.Tasks[i].DaysUntilDeadline < report.Tasks[j].DaysUntilDeadline
	})
	return report
}

// SortUpcoming orders tasks for list views: overdue first (most overdue
// leading), then by soonest deadline, tasks without a deadline last.
func SortUpcoming(tasks []model.Node, now time.Time) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].Deadline, tasks[j].Deadline
		switch {
		case a == nil && b == nil:
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return DaysUntil(*a, now) < DaysUntil(*b, now)
		}
	})
}
