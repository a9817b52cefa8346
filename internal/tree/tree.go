// Package tree provides immutable operations over the planner's node
// forest. Every mutating operation returns a new forest; nodes on the
// path to the change are copied, untouched subtrees are shared.
package tree

import (
	"sort"

	"org-planner/internal/model"
)

// Build assembles flat records into a forest by ParentID. Records whose
// parent is absent from the slice become roots. Sibling order follows the
// input order of the records.
func Build(records []model.Node) []*model.Node {
	byID := make(map[uint]*model.Node, len(records))
	order := make([]*model.Node, 0, len(records))
	for i := range records {
		n := records[i] // copy, callers keep their slice
		n.Children = nil
		byID[n.ID] = &n
		order = append(order, &n)
	}

	var roots []*model.Node
	for _, n := range order {
		if n.ParentID != nil {
			if parent, ok := byID[*n.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots
}

// FindByID returns the node with the given id, or nil.
func FindByID(forest []*model.Node, id uint) *model.Node {
	var found *model.Node
	Traverse(forest, func(n *model.Node) {
		if n.ID == id {
			found = n
		}
	})
	return found
}

// Update returns a new forest with the node's fields replaced by apply's
// result. The original forest is left untouched.
func Update(forest []*model.Node, id uint, apply func(model.Node) model.Node) []*model.Node {
	return mapPath(forest, func(n *model.Node) *model.Node {
		if n.ID != id {
			return n
		}
		updated := apply(*n)
		updated.Children = n.Children
		return &updated
	})
}

// AddChild returns a new forest with child appended under parentID, or
// appended as a root when parentID is nil.
func AddChild(forest []*model.Node, parentID *uint, child *model.Node) []*model.Node {
	if parentID == nil {
		out := make([]*model.Node, 0, len(forest)+1)
		out = append(out, forest...)
		return append(out, child)
	}
	return mapPath(forest, func(n *model.Node) *model.Node {
		if n.ID != *parentID {
			return n
		}
		clone := *n
		clone.Children = append(append([]*model.Node{}, n.Children...), child)
		return &clone
	})
}

// Remove excises the subtree rooted at id from a single tree and returns
// the new root. Removing the root itself yields nil, which callers must
// treat as a valid outcome.
func Remove(root *model.Node, id uint) *model.Node {
	if root == nil || root.ID == id {
		return nil
	}

	clone := *root
	clone.Children = nil
	changed := false
	for _, child := range root.Children {
		if child.ID == id {
			changed = true
			continue
		}
		kept := Remove(child, id)
		if kept != child {
			changed = true
		}
		clone.Children = append(clone.Children, kept)
	}
	if !changed {
		return root
	}
	return &clone
}

// RemoveFromForest excises the subtree rooted at id anywhere in the
// forest, dropping a root tree entirely when the root matches.
func RemoveFromForest(forest []*model.Node, id uint) []*model.Node {
	out := make([]*model.Node, 0, len(forest))
	for _, root := range forest {
		if root.ID == id {
			continue
		}
		out = append(out, Remove(root, id))
	}
	return out
}

// Traverse visits every node depth-first in sibling order.
func Traverse(forest []*model.Node, visit func(*model.Node)) {
	for _, n := range forest {
		if n == nil {
			continue
		}
		visit(n)
		Traverse(n.Children, visit)
	}
}

// Filter returns all nodes satisfying the predicate, in traversal order.
func Filter(forest []*model.Node, keep func(*model.Node) bool) []*model.Node {
	var out []*model.Node
	Traverse(forest, func(n *model.Node) {
		if keep(n) {
			out = append(out, n)
		}
	})
	return out
}

// Map returns a new forest with every node replaced by apply's result.
// Children are re-linked to the mapped copies; apply must not touch the
// Children field.
func Map(forest []*model.Node, apply func(model.Node) model.Node) []*model.Node {
	out := make([]*model.Node, 0, len(forest))
	for _, n := range forest {
		mapped := apply(*n)
		mapped.Children = Map(n.Children, apply)
		out = append(out, &mapped)
	}
	return out
}

// Count returns the total number of nodes in the forest.
func Count(forest []*model.Node) int {
	total := 0
	Traverse(forest, func(*model.Node) { total++ })
	return total
}

// MaxDepth returns the depth of the deepest node; an empty forest is 0.
func MaxDepth(forest []*model.Node) int {
	max := 0
	for _, n := range forest {
		if n == nil {
			continue
		}
		if d := 1 + MaxDepth(n.Children); d > max {
			max = d
		}
	}
	return max
}

// Path returns the nodes from a root down to id, inclusive, or nil when
// the id is absent.
func Path(forest []*model.Node, id uint) []*model.Node {
	for _, n := range forest {
		if n == nil {
			continue
		}
		if n.ID == id {
			return []*model.Node{n}
		}
		if rest := Path(n.Children, id); rest != nil {
			return append([]*model.Node{n}, rest...)
		}
	}
	return nil
}

// SortChildren orders every node's children with categories before tasks
// and by name within each group, for stable presentation.
func SortChildren(forest []*model.Node) {
	for _, n := range forest {
		if n == nil {
			continue
		}
		sort.SliceStable(n.Children, func(i, j int) bool {
			a, b := n.Children[i], n.Children[j]
			if a.IsTask() != b.IsTask() {
				return !a.IsTask()
			}
			return a.Name < b.Name
		})
		SortChildren(n.Children)
	}
}

// mapPath rewrites each root via visit, recursing so that a change deep
// in a tree copies only the nodes above it.
func mapPath(forest []*model.Node, visit func(*model.Node) *model.Node) []*model.Node {
	out := make([]*model.Node, 0, len(forest))
	for _, n := range forest {
		replaced := visit(n)
		if replaced != n {
			out = append(out, replaced)
			continue
		}
		children := mapPath(n.Children, visit)
		if sameNodes(children, n.Children) {
			out = append(out, n)
			continue
		}
		clone := *n
		clone.Children = children
		out = append(out, &clone)
	}
	return out
}

func sameNodes(a, b []*model.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
