package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/repository"
)

// SQLStore persists nodes through gorm and ranks the candidate children of a
// scope in process. Scopes are small because each one is a single tree level.
type SQLStore struct {
	repo      *repository.CacheNodeRepository
	dimension int
}

// NewSQLStore returns a store that rejects embeddings whose length differs
// from dimension. A dimension of 0 disables the check.
func NewSQLStore(repo *repository.CacheNodeRepository, dimension int) *SQLStore {
	return &SQLStore{repo: repo, dimension: dimension}
}

func (s *SQLStore) Insert(ctx context.Context, node model.CacheNode) error {
	if err := validateNode(node); err != nil {
		return err
	}
	if s.dimension > 0 && len(node.Embedding) != s.dimension {
		return fmt.Errorf("insert node %s: got %d want %d: %w", node.ID, len(node.Embedding), s.dimension, ErrDimensionMismatch)
	}
	if parent := node.Parent(); parent != "" {
		ok, err := s.repo.Exists(ctx, parent)
		if err != nil {
			return fmt.Errorf("insert node %s: %w: %w", node.ID, ErrUnavailable, err)
		}
		if !ok {
			return fmt.Errorf("insert node %s under %s: %w", node.ID, parent, ErrParentNotFound)
		}
	}
	if err := s.repo.Create(ctx, &node); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("insert node %s: %w", node.ID, ErrDuplicateNode)
		}
		return fmt.Errorf("insert node %s: %w: %w", node.ID, ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore) Search(ctx context.Context, vector []float32, k int, scope Scope) ([]Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyEmbedding
	}
	candidates, err := s.repo.ListByParent(ctx, scope.ParentID)
	if err != nil {
		return nil, fmt.Errorf("search scope %q: %w: %w", scope.ParentID, ErrUnavailable, err)
	}
	return Rank(vector, candidates, k), nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*model.CacheNode, error) {
	node, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w: %w", id, ErrUnavailable, err)
	}
	if node == nil {
		return nil, fmt.Errorf("get node %s: %w", id, ErrNotFound)
	}
	return node, nil
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	total, roots, err := s.repo.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w: %w", ErrUnavailable, err)
	}
	return Stats{Nodes: total, Roots: roots}, nil
}
