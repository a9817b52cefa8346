package model

import (
	"fmt"
	"time"
)

// Node types. A user's planner is a forest of nodes: categories group
// tasks (and other categories), tasks carry the scheduling fields.
const (
	TypeCategory    = "category"
	TypeTask        = "task"
	TypeTopCategory = "top_category"
)

// Recurrence types. "minutely" exists for manual testing of the
// recurrence pipeline and is not offered in the bot UI.
const (
	RecurrenceNone     = "none"
	RecurrenceMinutely = "minutely"
	RecurrenceDaily    = "daily"
	RecurrenceWeekly   = "weekly"
	RecurrenceMonthly  = "monthly"
	RecurrenceYearly   = "yearly"
)

// Node is a single record in the planner tree: a category or a task.
// Task-only fields are pointers so a category row stores NULLs.
type Node struct {
	ID       uint  `gorm:"primaryKey"`
	UserID   uint  `gorm:"index"`
	ParentID *uint `gorm:"index"`
	Type     string
	Name     string
	Details  string

	Importance         int `gorm:"default:1"`
	Deadline           *time.Time `gorm:"index:idx_recurring_instance,unique"`
	CompletionTime     *float64
	UniqueDaysRequired *int

	IsCompleted       bool `gorm:"default:false"`
	CompletedAt       *time.Time
	CompletionComment string

	RecurrenceType       string `gorm:"default:none"`
	RecurrenceInterval   int    `gorm:"default:1"`
	RecurrenceDayOfWeek  *int
	RecurrenceDayOfMonth *int
	RecurrenceEndDate    *time.Time
	IsRecurringTemplate  bool  `gorm:"default:false"`
	RecurringTemplateID  *uint `gorm:"index:idx_recurring_instance,unique"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Children is populated by tree assembly, never by gorm.
	Children []*Node `gorm:"-"`
}

// IsTask reports whether the node is a task (as opposed to a category).
func (n *Node) IsTask() bool {
	return n.Type == TypeTask
}

// InRecurringLineage reports whether the node is a recurring template or
// an instance spawned from one.
func (n *Node) InRecurringLineage() bool {
	return n.IsRecurringTemplate || n.RecurringTemplateID != nil
}

// TemplateID returns the id of the lineage's template: the node's own id
// if it is the template, otherwise its back-reference.
func (n *Node) TemplateID() uint {
	if n.RecurringTemplateID != nil {
		return *n.RecurringTemplateID
	}
	return n.ID
}

// Validate checks the structural invariants before a node is persisted.
func (n *Node) Validate() error {
	switch n.Type {
	case TypeCategory, TypeTask, TypeTopCategory:
	default:
		return fmt.Errorf("unknown node type %q", n.Type)
	}
	if n.Name == "" {
		return fmt.Errorf("node name is required")
	}

	if !n.IsTask() {
		if n.Deadline != nil || n.CompletionTime != nil || n.UniqueDaysRequired != nil {
			return fmt.Errorf("scheduling fields are task-only")
		}
		if n.RecurrenceType != "" && n.RecurrenceType != RecurrenceNone {
			return fmt.Errorf("recurrence is task-only")
		}
		return nil
	}

	if n.Importance < 1 || n.Importance > 10 {
		return fmt.Errorf("importance %d out of range 1-10", n.Importance)
	}
	if n.CompletionTime != nil && *n.CompletionTime < 0 {
		return fmt.Errorf("completion time must be non-negative")
	}
	if n.UniqueDaysRequired != nil && *n.UniqueDaysRequired < 0 {
		return fmt.Errorf("unique days required must be non-negative")
	}
	return n.validateRecurrence()
}

func (n *Node) validateRecurrence() error {
	switch n.RecurrenceType {
	case "", RecurrenceNone:
		if n.IsRecurringTemplate {
			return fmt.Errorf("recurring template needs a recurrence type")
		}
		return nil
	case RecurrenceMinutely, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
	default:
		return fmt.Errorf("unknown recurrence type %q", n.RecurrenceType)
	}

	if n.RecurrenceInterval < 1 {
		return fmt.Errorf("recurrence interval must be >= 1, got %d", n.RecurrenceInterval)
	}
	if n.RecurrenceDayOfWeek != nil {
		if n.RecurrenceType != RecurrenceWeekly {
			return fmt.Errorf("day of week is only valid for weekly recurrence")
		}
		if d := *n.RecurrenceDayOfWeek; d < 0 || d > 6 {
			return fmt.Errorf("day of week %d out of range 0-6", d)
		}
	}
	if n.RecurrenceDayOfMonth != nil {
		if n.RecurrenceType != RecurrenceMonthly {
			return fmt.Errorf("day of month is only valid for monthly recurrence")
		}
		if d := *n.RecurrenceDayOfMonth; d < 1 || d > 31 {
			return fmt.Errorf("day of month %d out of range 1-31", d)
		}
	}
	if n.IsRecurringTemplate && n.RecurringTemplateID != nil {
		return fmt.Errorf("a template cannot reference another template")
	}
	return nil
}
