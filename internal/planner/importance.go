package planner

import (
	"fmt"
	"time"

	"org-planner/internal/model"
)

// EffectiveImportance returns the node's own importance for a task, and
// the maximum effective importance of its descendants for a category.
// A category with no descendant tasks yields 1.
func EffectiveImportance(n *model.Node) int {
	return reduceMax(n, make(map[uint]bool), func(task *model.Node) int {
		return clampLevel(task.Importance)
	})
}

// EffectiveUrgency is EffectiveImportance's counterpart for the computed
// urgency level, evaluated against now.
func EffectiveUrgency(n *model.Node, now time.Time) int {
	return reduceMax(n, make(map[uint]bool), func(task *model.Node) int {
		return UrgencyLevel(task.Deadline, task.CompletionTime, task.UniqueDaysRequired, now)
	})
}

// reduceMax is a post-order reduction: tasks contribute score(task),
// categories the max over their children. The visited set turns an
// impossible parent/child cycle into a loud failure instead of a hang.
func reduceMax(n *model.Node, visited map[uint]bool, score func(*model.Node) int) int {
	if n == nil {
		return MinUrgency
	}
	if visited[n.ID] {
		panic(fmt.Sprintf("planner: node tree contains a cycle at id %d", n.ID))
	}
	visited[n.ID] = true

	if n.IsTask() {
		return score(n)
	}

	max := MinUrgency
	for _, child := range n.Children {
		if v := reduceMax(child, visited, score); v > max {
			max = v
		}
	}
	return max
}

func clampLevel(v int) int {
	if v < MinUrgency {
		return MinUrgency
	}
	if v > MaxUrgency {
		return MaxUrgency
	}
	return v
}
