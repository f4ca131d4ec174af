package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mathtutor-gateway/internal/model"
)

type CacheNodeRepository struct {
	db *gorm.DB
}

func NewCacheNodeRepository(db *gorm.DB) *CacheNodeRepository {
	return &CacheNodeRepository{db: db}
}

func (r *CacheNodeRepository) Create(ctx context.Context, node *model.CacheNode) error {
	if err := r.db.WithContext(ctx).Create(node).Error; err != nil {
		return fmt.Errorf("create cache node failed: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the node does not exist.
func (r *CacheNodeRepository) GetByID(ctx context.Context, id string) (*model.CacheNode, error) {
	var node model.CacheNode
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&node).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cache node failed: %w", err)
	}
	return &node, nil
}

func (r *CacheNodeRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.CacheNode{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check cache node failed: %w", err)
	}
	return count > 0, nil
}

// ListByParent returns the direct children of parentID, or the roots when
// parentID is empty, oldest first.
func (r *CacheNodeRepository) ListByParent(ctx context.Context, parentID string) ([]model.CacheNode, error) {
	q := r.db.WithContext(ctx)
	if parentID == "" {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", parentID)
	}
	var nodes []model.CacheNode
	if err := q.Order("created_at ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("list cache nodes by parent failed: %w", err)
	}
	return nodes, nil
}

func (r *CacheNodeRepository) Count(ctx context.Context) (total int64, roots int64, err error) {
	if err = r.db.WithContext(ctx).Model(&model.CacheNode{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count cache nodes failed: %w", err)
	}
	if err = r.db.WithContext(ctx).Model(&model.CacheNode{}).Where("parent_id IS NULL").Count(&roots).Error; err != nil {
		return 0, 0, fmt.Errorf("count root cache nodes failed: %w", err)
	}
	return total, roots, nil
}
