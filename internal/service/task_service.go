package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"org-planner/internal/model"
	"org-planner/internal/planner"
	"org-planner/internal/repository"
	"org-planner/internal/tree"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Name     string
	Details  string
	Category string // top-level category name, created on demand
	ParentID *uint  // explicit parent node, wins over Category

	Deadline           *time.Time
	CompletionTime     *float64
	UniqueDaysRequired *int
	Importance         int

	RecurrenceType       string
	RecurrenceInterval   int
	RecurrenceDayOfWeek  *int
	RecurrenceDayOfMonth *int
	RecurrenceEndDate    *time.Time
}

// TaskService wraps node-related business logic.
type TaskService struct {
	nodes     *repository.NodeRepository
	recurring *RecurringService
}

func NewTaskService(nodes *repository.NodeRepository, recurring *RecurringService) *TaskService {
	return &TaskService{nodes: nodes, recurring: recurring}
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.Node, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	parentID := input.ParentID
	if parentID == nil && input.Category != "" {
		category, err := s.nodes.EnsureCategory(ctx, user.ID, input.Category)
		if err != nil {
			return nil, err
		}
		if category != nil {
			parentID = &category.ID
		}
	}

	importance := input.Importance
	if importance == 0 {
		importance = 1
	}
	recurrenceType := input.RecurrenceType
	if recurrenceType == "" {
		recurrenceType = model.RecurrenceNone
	}
	interval := input.RecurrenceInterval
	if interval == 0 {
		interval = 1
	}

	task := model.Node{
		UserID:               user.ID,
		ParentID:             parentID,
		Type:                 model.TypeTask,
		Name:                 input.Name,
		Details:              input.Details,
		Importance:           importance,
		Deadline:             input.Deadline,
		CompletionTime:       input.CompletionTime,
		UniqueDaysRequired:   input.UniqueDaysRequired,
		RecurrenceType:       recurrenceType,
		RecurrenceInterval:   interval,
		RecurrenceDayOfWeek:  input.RecurrenceDayOfWeek,
		RecurrenceDayOfMonth: input.RecurrenceDayOfMonth,
		RecurrenceEndDate:    input.RecurrenceEndDate,
		IsRecurringTemplate:  recurrenceType != model.RecurrenceNone,
	}

	if err := s.nodes.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) CreateCategory(ctx context.Context, user *model.User, name string, parentID *uint) (*model.Node, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	category := model.Node{
		UserID:     user.ID,
		ParentID:   parentID,
		Type:       model.TypeCategory,
		Name:       name,
		Importance: 1,
	}
	if err := s.nodes.Create(ctx, &category); err != nil {
		return nil, err
	}
	return &category, nil
}

// Forest returns the user's nodes assembled into a tree, categories
// before tasks among siblings.
func (s *TaskService) Forest(ctx context.Context, user *model.User) ([]*model.Node, error) {
	records, err := s.nodes.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	forest := tree.Build(records)
	tree.SortChildren(forest)
	return forest, nil
}

func (s *TaskService) GetNode(ctx context.Context, user *model.User, nodeID uint) (*model.Node, error) {
	return s.nodes.FindByID(ctx, user.ID, nodeID)
}

// UpdateNode applies a partial field set to a node.
func (s *TaskService) UpdateNode(ctx context.Context, user *model.User, nodeID uint, fields map[string]interface{}) error {
	return s.nodes.Update(ctx, user.ID, nodeID, fields)
}

// DeleteNode removes a node together with its subtree.
func (s *TaskService) DeleteNode(ctx context.Context, user *model.User, nodeID uint) error {
	return s.nodes.DeleteSubtree(ctx, user.ID, nodeID)
}

// ScheduledTasks returns open tasks with deadlines, for reports.
func (s *TaskService) ScheduledTasks(ctx context.Context, user *model.User) ([]model.Node, error) {
	return s.nodes.ListScheduledTasks(ctx, user.ID)
}

// Complete marks a task as done and, for recurring tasks, spawns the
// next occurrence. The returned spawn is nil when no instance was due.
// A failed spawn does not undo the completion: the task is returned
// together with the error so the caller can report it.
func (s *TaskService) Complete(ctx context.Context, user *model.User, nodeID uint, comment string, completedAt time.Time) (*model.Node, *model.Node, error) {
	task, err := s.nodes.FindByID(ctx, user.ID, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if !task.IsTask() {
		return nil, nil, fmt.Errorf("node #%d is not a task", nodeID)
	}
	if task.IsCompleted {
		// No transition, nothing to do.
		return task, nil, nil
	}

	task.IsCompleted = true
	task.CompletedAt = &completedAt
	task.CompletionComment = comment
	if err := s.nodes.Save(ctx, task); err != nil {
		return nil, nil, err
	}

	spawned, err := s.recurring.CreateNextInstance(ctx, task)
	if err != nil {
		log.Printf("[warn] next occurrence for task %d: %v", task.ID, err)
		return task, nil, fmt.Errorf("task completed, but next occurrence failed: %w", err)
	}
	return task, spawned, nil
}

// Reopen reverts a completed task to open, clearing the completion triple.
func (s *TaskService) Reopen(ctx context.Context, user *model.User, nodeID uint) (*model.Node, error) {
	task, err := s.nodes.FindByID(ctx, user.ID, nodeID)
	if err != nil {
		return nil, err
	}
	if !task.IsCompleted {
		return task, nil
	}
	task.IsCompleted = false
	task.CompletedAt = nil
	task.CompletionComment = ""
	if err := s.nodes.Save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// NextOccurrence previews the deadline the next instance of a recurring
// task would get, without creating anything.
func (s *TaskService) NextOccurrence(task *model.Node, now time.Time) (*time.Time, error) {
	if !task.InRecurringLineage() || task.RecurrenceType == model.RecurrenceNone || task.RecurrenceType == "" {
		return nil, nil
	}
	base := now
	if task.Deadline != nil {
		base = *task.Deadline
	}
	next, err := planner.NextDeadline(base, planner.RuleOf(task))
	if err != nil {
		return nil, err
	}
	if !planner.ShouldCreateNext(next, task.RecurrenceEndDate) {
		return nil, nil
	}
	return &next, nil
}
