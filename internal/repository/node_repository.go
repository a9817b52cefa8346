package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"org-planner/internal/model"
)

// NodeRepository handles CRUD for planner nodes (categories and tasks).
type NodeRepository struct {
	db *gorm.DB
}

func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

func (r *NodeRepository) Create(ctx context.Context, node *model.Node) error {
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid node: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(node).Error; err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	return nil
}

func (r *NodeRepository) FindByID(ctx context.Context, userID, nodeID uint) (*model.Node, error) {
	var node model.Node
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, nodeID).First(&node).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

// ListByUser returns every node of the user in creation order, the flat
// input for tree assembly.
func (r *NodeRepository) ListByUser(ctx context.Context, userID uint) ([]model.Node, error) {
	var nodes []model.Node
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("id ASC").
		Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// ListScheduledTasks returns open tasks that carry a deadline, the input
// for capacity reports.
func (r *NodeRepository) ListScheduledTasks(ctx context.Context, userID uint) ([]model.Node, error) {
	var tasks []model.Node
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND is_completed = ? AND deadline IS NOT NULL", userID, model.TypeTask, false).
		Order("deadline ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// EnsureCategory finds or creates a top-level category by name.
func (r *NodeRepository) EnsureCategory(ctx context.Context, userID uint, name string) (*model.Node, error) {
	if name == "" {
		return nil, nil
	}

	var category model.Node
	db := r.db.WithContext(ctx)
	err := db.Where("user_id = ? AND type = ? AND name = ? AND parent_id IS NULL", userID, model.TypeCategory, name).
		First(&category).Error
	switch {
	case err == nil:
		return &category, nil
	case err == gorm.ErrRecordNotFound:
		category = model.Node{UserID: userID, Type: model.TypeCategory, Name: name, Importance: 1}
		if err := db.Create(&category).Error; err != nil {
			return nil, fmt.Errorf("create category: %w", err)
		}
		return &category, nil
	default:
		return nil, fmt.Errorf("find category: %w", err)
	}
}

// Update applies a partial field set to a node.
func (r *NodeRepository) Update(ctx context.Context, userID, nodeID uint, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Node{}).
		Where("user_id = ? AND id = ?", userID, nodeID).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update node: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *NodeRepository) Save(ctx context.Context, node *model.Node) error {
	if err := r.db.WithContext(ctx).Save(node).Error; err != nil {
		return fmt.Errorf("save node: %w", err)
	}
	return nil
}

// DeleteSubtree removes a node and all of its descendants.
func (r *NodeRepository) DeleteSubtree(ctx context.Context, userID, nodeID uint) error {
	all, err := r.ListByUser(ctx, userID)
	if err != nil {
		return err
	}

	childrenOf := make(map[uint][]uint)
	for _, n := range all {
		if n.ParentID != nil {
			childrenOf[*n.ParentID] = append(childrenOf[*n.ParentID], n.ID)
		}
	}

	ids := []uint{nodeID}
	for i := 0; i < len(ids); i++ {
		ids = append(ids, childrenOf[ids[i]]...)
	}

	if err := r.db.WithContext(ctx).Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&model.Node{}).Error; err != nil {
		return fmt.Errorf("delete subtree: %w", err)
	}
	return nil
}

// FindRecentInstance looks for a freshly created sibling of the same
// recurring lineage, the fast pre-check for duplicate suppression. The
// unique (recurring_template_id, deadline) index is the real guarantee.
// excludeID keeps the instance being completed from matching itself.
func (r *NodeRepository) FindRecentInstance(ctx context.Context, userID uint, name string, templateID uint, parentID *uint, excludeID uint, since time.Time) (*model.Node, error) {
	db := r.db.WithContext(ctx).
		Where("user_id = ? AND name = ? AND recurring_template_id = ? AND id <> ? AND created_at >= ?", userID, name, templateID, excludeID, since)
	if parentID != nil {
		db = db.Where("parent_id = ?", *parentID)
	} else {
		db = db.Where("parent_id IS NULL")
	}

	var instance model.Node
	err := db.First(&instance).Error
	switch {
	case err == nil:
		return &instance, nil
	case err == gorm.ErrRecordNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("find recent instance: %w", err)
	}
}
