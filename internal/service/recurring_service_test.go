package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"org-planner/internal/model"
)

func countInstances(t *testing.T, svc *TaskService, user *model.User, templateID uint) int {
	t.Helper()
	forest, err := svc.Forest(context.Background(), user)
	require.NoError(t, err)

	count := 0
	var walk func(nodes []*model.Node)
	walk = func(nodes []*model.Node) {
		for _, n := range nodes {
			if n.RecurringTemplateID != nil && *n.RecurringTemplateID == templateID {
				count++
			}
			walk(n.Children)
		}
	}
	walk(forest)
	return count
}

func TestCreateNextInstance_SpawnsFollowUp(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	template, err := svc.CreateTask(ctx, user, TaskInput{
		Name:           "water plants",
		Category:       "Home",
		Deadline:       tptr(day(2024, time.March, 10)),
		CompletionTime: fptr(0.5),
		Importance:     4,
		RecurrenceType: model.RecurrenceDaily,
	})
	require.NoError(t, err)

	done, spawned, err := svc.Complete(ctx, user, template.ID, "", day(2024, time.March, 10))
	require.NoError(t, err)
	require.NotNil(t, spawned)
	assert.True(t, done.IsCompleted)

	// The instance inherits the task fields and steps the deadline.
	assert.Equal(t, "water plants", spawned.Name)
	assert.Equal(t, template.ParentID, spawned.ParentID)
	assert.Equal(t, 4, spawned.Importance)
	require.NotNil(t, spawned.CompletionTime)
	assert.InDelta(t, 0.5, *spawned.CompletionTime, 1e-9)
	require.NotNil(t, spawned.Deadline)
	assert.True(t, spawned.Deadline.Equal(day(2024, time.March, 11)))

	assert.False(t, spawned.IsCompleted)
	assert.False(t, spawned.IsRecurringTemplate)
	require.NotNil(t, spawned.RecurringTemplateID)
	assert.Equal(t, template.ID, *spawned.RecurringTemplateID)
}

func TestCreateNextInstance_SuppressesDuplicates(t *testing.T) {
	svc, recurring, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	template, err := svc.CreateTask(ctx, user, TaskInput{
		Name:           "daily standup",
		Deadline:       tptr(day(2024, time.March, 10)),
		RecurrenceType: model.RecurrenceDaily,
	})
	require.NoError(t, err)

	_, spawned, err := svc.Complete(ctx, user, template.ID, "", day(2024, time.March, 10))
	require.NoError(t, err)
	require.NotNil(t, spawned)

	// A redelivered completion of the same task must not spawn again.
	completed, err := svc.GetNode(ctx, user, template.ID)
	require.NoError(t, err)
	dup, err := recurring.CreateNextInstance(ctx, completed)
	require.NoError(t, err)
	assert.Nil(t, dup)

	assert.Equal(t, 1, countInstances(t, svc, user, template.ID))
}

func TestCreateNextInstance_GuardsNonRecurring(t *testing.T) {
	svc, recurring, nodes := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	// A plain task never spawns, even when completed.
	plain, err := svc.CreateTask(ctx, user, TaskInput{Name: "one-off"})
	require.NoError(t, err)
	_, _, err = svc.Complete(ctx, user, plain.ID, "", day(2024, time.March, 10))
	require.NoError(t, err)
	completed, err := nodes.FindByID(ctx, user.ID, plain.ID)
	require.NoError(t, err)

	spawned, err := recurring.CreateNextInstance(ctx, completed)
	require.NoError(t, err)
	assert.Nil(t, spawned)

	// An open recurring task does not spawn either.
	open, err := svc.CreateTask(ctx, user, TaskInput{
		Name:           "still pending",
		Deadline:       tptr(day(2024, time.March, 10)),
		RecurrenceType: model.RecurrenceDaily,
	})
	require.NoError(t, err)
	spawned, err = recurring.CreateNextInstance(ctx, open)
	require.NoError(t, err)
	assert.Nil(t, spawned)
}

func TestCreateNextInstance_StopsAtEndDate(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	// Next deadline would be March 11, one day past the end date.
	ending, err := svc.CreateTask(ctx, user, TaskInput{
		Name:              "course homework",
		Deadline:          tptr(day(2024, time.March, 10)),
		RecurrenceType:    model.RecurrenceDaily,
		RecurrenceEndDate: tptr(day(2024, time.March, 10)),
	})
	require.NoError(t, err)

	_, spawned, err := svc.Complete(ctx, user, ending.ID, "", day(2024, time.March, 10))
	require.NoError(t, err)
	assert.Nil(t, spawned)

	// A next deadline exactly on the end date still spawns.
	boundary, err := svc.CreateTask(ctx, user, TaskInput{
		Name:              "final session",
		Deadline:          tptr(day(2024, time.March, 10)),
		RecurrenceType:    model.RecurrenceDaily,
		RecurrenceEndDate: tptr(day(2024, time.March, 11)),
	})
	require.NoError(t, err)

	_, spawned, err = svc.Complete(ctx, user, boundary.ID, "", day(2024, time.March, 10))
	require.NoError(t, err)
	require.NotNil(t, spawned)
	assert.True(t, spawned.Deadline.Equal(day(2024, time.March, 11)))
}

func TestCreateNextInstance_InstanceKeepsTemplateReference(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	template, err := svc.CreateTask(ctx, user, TaskInput{
		Name:           "weekly review",
		Deadline:       tptr(day(2024, time.March, 4)), // a Monday
		RecurrenceType: model.RecurrenceWeekly,
	})
	require.NoError(t, err)

	_, first, err := svc.Complete(ctx, user, template.ID, "", day(2024, time.March, 4))
	require.NoError(t, err)
	require.NotNil(t, first)

	// Completing the spawned instance chains to the same template id,
	// not to the instance's own id.
	_, second, err := svc.Complete(ctx, user, first.ID, "", day(2024, time.March, 11))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, template.ID, *second.RecurringTemplateID)
	assert.True(t, second.Deadline.Equal(day(2024, time.March, 18)))

	assert.Equal(t, 2, countInstances(t, svc, user, template.ID))
}

func TestCreateNextInstance_SkipsMissingRecurrenceType(t *testing.T) {
	_, recurring, _ := newTestServices(t)

	// A lineage member whose rule was cleared spawns nothing.
	node := &model.Node{
		ID:                  7,
		UserID:              1,
		Type:                model.TypeTask,
		Name:                "orphaned",
		IsCompleted:         true,
		IsRecurringTemplate: true,
		RecurrenceType:      model.RecurrenceNone,
	}
	spawned, err := recurring.CreateNextInstance(context.Background(), node)
	require.NoError(t, err)
	assert.Nil(t, spawned)
}
