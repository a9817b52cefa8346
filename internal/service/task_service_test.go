package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"org-planner/internal/model"
	"org-planner/internal/repository"
)

func newTestServices(t *testing.T) (*TaskService, *RecurringService, *repository.NodeRepository) {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "planner.db"))
	require.NoError(t, err)

	nodes := repository.NewNodeRepository(db)
	recurring := NewRecurringService(nodes)
	return NewTaskService(nodes, recurring), recurring, nodes
}

func testUser() *model.User {
	return &model.User{ID: 1, TelegramID: 1001, Username: "tester"}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func tptr(v time.Time) *time.Time {
	return &v
}

func TestCreateTask_CategoryOnDemand(t *testing.T) {
	svc, _, nodes := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	task, err := svc.CreateTask(ctx, user, TaskInput{Name: "buy milk", Category: "Errands"})
	require.NoError(t, err)
	require.NotNil(t, task.ParentID)
	assert.Equal(t, model.RecurrenceNone, task.RecurrenceType)
	assert.Equal(t, 1, task.Importance)

	category, err := nodes.FindByID(ctx, user.ID, *task.ParentID)
	require.NoError(t, err)
	assert.Equal(t, model.TypeCategory, category.Type)
	assert.Equal(t, "Errands", category.Name)

	// The same category name resolves to the same node.
	second, err := svc.CreateTask(ctx, user, TaskInput{Name: "post letter", Category: "Errands"})
	require.NoError(t, err)
	assert.Equal(t, *task.ParentID, *second.ParentID)
}

func TestCreateTask_RejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	_, err := svc.CreateTask(ctx, user, TaskInput{})
	assert.Error(t, err)

	_, err = svc.CreateTask(ctx, user, TaskInput{Name: "too important", Importance: 11})
	assert.Error(t, err)

	_, err = svc.CreateTask(ctx, user, TaskInput{
		Name:                "bad weekday",
		RecurrenceType:      model.RecurrenceDaily,
		RecurrenceDayOfWeek: iptr(1),
	})
	assert.Error(t, err)
}

func TestCreateTask_MarksRecurringTemplate(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, testUser(), TaskInput{
		Name:           "weekly review",
		RecurrenceType: model.RecurrenceWeekly,
	})
	require.NoError(t, err)
	assert.True(t, task.IsRecurringTemplate)
	assert.Nil(t, task.RecurringTemplateID)
	assert.Equal(t, 1, task.RecurrenceInterval)
}

func TestForest_SortsCategoriesFirst(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	_, err := svc.CreateTask(ctx, user, TaskInput{Name: "loose task"})
	require.NoError(t, err)
	work, err := svc.CreateCategory(ctx, user, "Work", nil)
	require.NoError(t, err)
	_, err = svc.CreateTask(ctx, user, TaskInput{Name: "inside", ParentID: &work.ID})
	require.NoError(t, err)

	forest, err := svc.Forest(ctx, user)
	require.NoError(t, err)
	require.Len(t, forest, 2)
	assert.Equal(t, "loose task", forest[0].Name) // roots keep creation order
	assert.Equal(t, "Work", forest[1].Name)
	require.Len(t, forest[1].Children, 1)
	assert.Equal(t, "inside", forest[1].Children[0].Name)
}

func TestComplete_PlainTask(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	task, err := svc.CreateTask(ctx, user, TaskInput{Name: "one-off"})
	require.NoError(t, err)

	at := day(2024, time.March, 10)
	done, spawned, err := svc.Complete(ctx, user, task.ID, "all good", at)
	require.NoError(t, err)
	assert.Nil(t, spawned)
	assert.True(t, done.IsCompleted)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(at))
	assert.Equal(t, "all good", done.CompletionComment)

	// Completing again is a no-op that keeps the original timestamp.
	later := at.Add(48 * time.Hour)
	again, spawned, err := svc.Complete(ctx, user, task.ID, "ignored", later)
	require.NoError(t, err)
	assert.Nil(t, spawned)
	assert.True(t, again.CompletedAt.Equal(at))
	assert.Equal(t, "all good", again.CompletionComment)
}

func TestComplete_RejectsCategory(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	category, err := svc.CreateCategory(ctx, user, "Work", nil)
	require.NoError(t, err)

	_, _, err = svc.Complete(ctx, user, category.ID, "", time.Now())
	assert.Error(t, err)
}

func TestReopen(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	task, err := svc.CreateTask(ctx, user, TaskInput{Name: "flaky"})
	require.NoError(t, err)
	_, _, err = svc.Complete(ctx, user, task.ID, "done?", time.Now())
	require.NoError(t, err)

	reopened, err := svc.Reopen(ctx, user, task.ID)
	require.NoError(t, err)
	assert.False(t, reopened.IsCompleted)
	assert.Nil(t, reopened.CompletedAt)
	assert.Empty(t, reopened.CompletionComment)
}

func TestDeleteNode_RemovesSubtree(t *testing.T) {
	svc, _, nodes := newTestServices(t)
	ctx := context.Background()
	user := testUser()

	work, err := svc.CreateCategory(ctx, user, "Work", nil)
	require.NoError(t, err)
	inner, err := svc.CreateCategory(ctx, user, "Project", &work.ID)
	require.NoError(t, err)
	task, err := svc.CreateTask(ctx, user, TaskInput{Name: "deep", ParentID: &inner.ID})
	require.NoError(t, err)
	keep, err := svc.CreateTask(ctx, user, TaskInput{Name: "unrelated"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteNode(ctx, user, work.ID))

	for _, id := range []uint{work.ID, inner.ID, task.ID} {
		_, err := nodes.FindByID(ctx, user.ID, id)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	}
	_, err = nodes.FindByID(ctx, user.ID, keep.ID)
	assert.NoError(t, err)
}

func TestUpdateNode_MissingNode(t *testing.T) {
	svc, _, _ := newTestServices(t)

	err := svc.UpdateNode(context.Background(), testUser(), 404, map[string]interface{}{"name": "x"})
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestNextOccurrence_Preview(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	user := testUser()
	now := day(2024, time.March, 10)

	plain, err := svc.CreateTask(ctx, user, TaskInput{Name: "plain"})
	require.NoError(t, err)
	next, err := svc.NextOccurrence(plain, now)
	require.NoError(t, err)
	assert.Nil(t, next)

	recurring, err := svc.CreateTask(ctx, user, TaskInput{
		Name:           "water plants",
		Deadline:       tptr(day(2024, time.March, 12)),
		RecurrenceType: model.RecurrenceDaily,
	})
	require.NoError(t, err)
	next, err = svc.NextOccurrence(recurring, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(day(2024, time.March, 13)))

	// An exhausted lineage previews nothing.
	ended, err := svc.CreateTask(ctx, user, TaskInput{
		Name:              "short-lived",
		Deadline:          tptr(day(2024, time.March, 12)),
		RecurrenceType:    model.RecurrenceDaily,
		RecurrenceEndDate: tptr(day(2024, time.March, 12)),
	})
	require.NoError(t, err)
	next, err = svc.NextOccurrence(ended, now)
	require.NoError(t, err)
	assert.Nil(t, next)
}
