package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"mathtutor-gateway/internal/model"
)

// MemoryStore is an in-process arena of cache nodes keyed by id, with a
// children index per parent ("" indexes the roots).
type MemoryStore struct {
	mu        sync.RWMutex
	nodes     map[string]model.CacheNode
	children  map[string][]string
	dimension int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]model.CacheNode),
		children: make(map[string][]string),
	}
}

func (s *MemoryStore) Insert(_ context.Context, node model.CacheNode) error {
	if err := validateNode(node); err != nil {
		return err
	}
	node.Embedding = append(model.Vector(nil), node.Embedding...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[node.ID]; exists {
		return fmt.Errorf("insert node %s: %w", node.ID, ErrDuplicateNode)
	}
	parent := node.Parent()
	if parent != "" {
		if _, ok := s.nodes[parent]; !ok {
			return fmt.Errorf("insert node %s under %s: %w", node.ID, parent, ErrParentNotFound)
		}
	}
	if s.dimension == 0 {
		s.dimension = len(node.Embedding)
	} else if len(node.Embedding) != s.dimension {
		return fmt.Errorf("insert node %s: got %d want %d: %w", node.ID, len(node.Embedding), s.dimension, ErrDimensionMismatch)
	}

	s.nodes[node.ID] = node
	s.children[parent] = append(s.children[parent], node.ID)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, k int, scope Scope) ([]Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyEmbedding
	}
	s.mu.RLock()
	ids := s.children[scope.ParentID]
	candidates := make([]model.CacheNode, 0, len(ids))
	for _, id := range ids {
		candidates = append(candidates, s.nodes[id])
	}
	s.mu.RUnlock()

	return Rank(vector, candidates, k), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.CacheNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("get node %s: %w", id, ErrNotFound)
	}
	return &node, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Nodes: int64(len(s.nodes)),
		Roots: int64(len(s.children[""])),
	}, nil
}
