package planner

import (
	"time"

	"org-planner/internal/model"
)

// EnrichedTask is a task annotated with the derived values list views
// render: urgency level and tier, days until the deadline, overdue flag.
type EnrichedTask struct {
	Task              model.Node
	UrgencyLevel      int
	UrgencyTier       string
	DaysUntilDeadline *int // nil when the task has no deadline
	Overdue           bool
}

// Enrich computes the derived presentation values for a task.
func Enrich(task model.Node, now time.Time) EnrichedTask {
	e := EnrichedTask{
		Task:         task,
		UrgencyLevel: UrgencyLevel(task.Deadline, task.CompletionTime, task.UniqueDaysRequired, now),
	}
	e.UrgencyTier = Tier(e.UrgencyLevel)
	if task.Deadline != nil {
		days := DaysUntil(*task.Deadline, now)
		e.DaysUntilDeadline = &days
		e.Overdue = days < 0
	}
	return e
}
