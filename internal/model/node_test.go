package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ip(v int) *int         { return &v }
func fp(v float64) *float64 { return &v }
func up(v uint) *uint       { return &v }

func validTask() Node {
	deadline := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	return Node{
		Type:           TypeTask,
		Name:           "write report",
		Importance:     5,
		Deadline:       &deadline,
		CompletionTime: fp(4),
		RecurrenceType: RecurrenceNone,
	}
}

func TestNodeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Node)
		wantErr bool
	}{
		{"valid task", func(*Node) {}, false},
		{"missing name", func(n *Node) { n.Name = "" }, true},
		{"unknown type", func(n *Node) { n.Type = "folder" }, true},
		{"importance too low", func(n *Node) { n.Importance = 0 }, true},
		{"importance too high", func(n *Node) { n.Importance = 11 }, true},
		{"negative completion time", func(n *Node) { n.CompletionTime = fp(-1) }, true},
		{"negative unique days", func(n *Node) { n.UniqueDaysRequired = ip(-1) }, true},
		{"unknown recurrence", func(n *Node) { n.RecurrenceType = "sometimes" }, true},
		{"zero interval", func(n *Node) {
			n.RecurrenceType = RecurrenceDaily
			n.RecurrenceInterval = 0
		}, true},
		{"weekday on daily rule", func(n *Node) {
			n.RecurrenceType = RecurrenceDaily
			n.RecurrenceInterval = 1
			n.RecurrenceDayOfWeek = ip(1)
		}, true},
		{"weekday out of range", func(n *Node) {
			n.RecurrenceType = RecurrenceWeekly
			n.RecurrenceInterval = 1
			n.RecurrenceDayOfWeek = ip(7)
		}, true},
		{"month day out of range", func(n *Node) {
			n.RecurrenceType = RecurrenceMonthly
			n.RecurrenceInterval = 1
			n.RecurrenceDayOfMonth = ip(32)
		}, true},
		{"template without recurrence", func(n *Node) {
			n.IsRecurringTemplate = true
		}, true},
		{"template referencing template", func(n *Node) {
			n.RecurrenceType = RecurrenceWeekly
			n.RecurrenceInterval = 1
			n.IsRecurringTemplate = true
			n.RecurringTemplateID = up(3)
		}, true},
		{"valid weekly template", func(n *Node) {
			n.RecurrenceType = RecurrenceWeekly
			n.RecurrenceInterval = 2
			n.RecurrenceDayOfWeek = ip(1)
			n.IsRecurringTemplate = true
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := validTask()
			tt.mutate(&n)
			err := n.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNodeValidate_Category(t *testing.T) {
	category := Node{Type: TypeCategory, Name: "Work"}
	assert.NoError(t, category.Validate())

	deadline := time.Now()
	category.Deadline = &deadline
	assert.Error(t, category.Validate(), "scheduling fields are task-only")

	recurring := Node{Type: TypeCategory, Name: "Work", RecurrenceType: RecurrenceDaily}
	assert.Error(t, recurring.Validate())
}

func TestTemplateID(t *testing.T) {
	template := Node{ID: 5, IsRecurringTemplate: true}
	assert.Equal(t, uint(5), template.TemplateID())
	assert.True(t, template.InRecurringLineage())

	instance := Node{ID: 9, RecurringTemplateID: up(5)}
	assert.Equal(t, uint(5), instance.TemplateID())
	assert.True(t, instance.InRecurringLineage())

	plain := Node{ID: 3}
	assert.Equal(t, uint(3), plain.TemplateID())
	assert.False(t, plain.InRecurringLineage())
}
