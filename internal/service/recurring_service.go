package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"org-planner/internal/model"
	"org-planner/internal/planner"
	"org-planner/internal/repository"
)

// duplicateWindow is how far back the pre-check looks for an already
// spawned sibling instance. Double deliveries of the same completion
// arrive within seconds; anything older is a legitimate new cycle.
const duplicateWindow = 60 * time.Second

// RecurringService spawns the next occurrence of a recurring task once
// its current occurrence is completed.
type RecurringService struct {
	nodes *repository.NodeRepository
	now   func() time.Time
}

func NewRecurringService(nodes *repository.NodeRepository) *RecurringService {
	return &RecurringService{nodes: nodes, now: time.Now}
}

// CreateNextInstance conditionally creates the follow-up occurrence for a
// completed recurring task. It returns (nil, nil) whenever no instance is
// needed: non-recurring task, lineage past its end date, or the instance
// already exists. Errors are reserved for real failures; the completed
// task itself is already saved and unaffected either way.
func (s *RecurringService) CreateNextInstance(ctx context.Context, completed *model.Node) (*model.Node, error) {
	if !completed.InRecurringLineage() {
		return nil, nil
	}
	if completed.RecurrenceType == "" || completed.RecurrenceType == model.RecurrenceNone {
		return nil, nil
	}
	if !completed.IsCompleted {
		return nil, nil
	}

	now := s.now()
	templateID := completed.TemplateID()

	// Fast pre-check; the unique (recurring_template_id, deadline) index
	// closes the remaining race.
	dup, err := s.nodes.FindRecentInstance(ctx, completed.UserID, completed.Name, templateID, completed.ParentID, completed.ID, now.Add(-duplicateWindow))
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return nil, nil
	}

	base := now
	if completed.Deadline != nil {
		base = *completed.Deadline
	}
	next, err := planner.NextDeadline(base, planner.RuleOf(completed))
	if err != nil {
		return nil, fmt.Errorf("next deadline for task %d: %w", completed.ID, err)
	}
	if !planner.ShouldCreateNext(next, completed.RecurrenceEndDate) {
		return nil, nil
	}

	instance := &model.Node{
		UserID:               completed.UserID,
		ParentID:             completed.ParentID,
		Type:                 model.TypeTask,
		Name:                 completed.Name,
		Details:              completed.Details,
		Importance:           completed.Importance,
		Deadline:             &next,
		CompletionTime:       copyFloat(completed.CompletionTime),
		UniqueDaysRequired:   copyInt(completed.UniqueDaysRequired),
		RecurrenceType:       completed.RecurrenceType,
		RecurrenceInterval:   completed.RecurrenceInterval,
		RecurrenceDayOfWeek:  copyInt(completed.RecurrenceDayOfWeek),
		RecurrenceDayOfMonth: copyInt(completed.RecurrenceDayOfMonth),
		RecurrenceEndDate:    copyTime(completed.RecurrenceEndDate),
		IsRecurringTemplate:  false,
		RecurringTemplateID:  &templateID,
	}

	if err := s.nodes.Create(ctx, instance); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the race; the instance exists.
			return nil, nil
		}
		return nil, err
	}
	return instance, nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
