// Package vectorstore holds cache nodes and answers nearest-neighbour
// queries scoped to one level of the cache tree.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"

	"mathtutor-gateway/internal/model"
)

var (
	ErrUnavailable       = errors.New("vector store unavailable")
	ErrNotFound          = errors.New("cache node not found")
	ErrParentNotFound    = errors.New("parent node not found")
	ErrDuplicateNode     = errors.New("cache node already exists")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyEmbedding    = errors.New("embedding is empty")
)

// Scope restricts a search to the direct children of ParentID. The zero
// Scope covers root nodes only.
type Scope struct {
	ParentID string
}

func Root() Scope { return Scope{} }

func ChildrenOf(parentID string) Scope { return Scope{ParentID: parentID} }

// Match is one ranked search hit.
type Match struct {
	Node  model.CacheNode
	Score float64
}

type Stats struct {
	Nodes int64 `json:"nodes"`
	Roots int64 `json:"roots"`
}

// Store is the persistence boundary for cache nodes. Implementations are
// append-only: Insert never overwrites or re-parents an existing node.
type Store interface {
	Search(ctx context.Context, vector []float32, k int, scope Scope) ([]Match, error)
	Insert(ctx context.Context, node model.CacheNode) error
	Get(ctx context.Context, id string) (*model.CacheNode, error)
	Stats(ctx context.Context) (Stats, error)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty,
// zero-length or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank scores candidates against vector and returns the best k, highest first.
// Ties keep the older node first so results are stable.
func Rank(vector []float32, candidates []model.CacheNode, k int) []Match {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	matches := make([]Match, 0, len(candidates))
	for _, node := range candidates {
		if len(node.Embedding) != len(vector) {
			continue
		}
		matches = append(matches, Match{Node: node, Score: Cosine(vector, node.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Node.CreatedAt.Before(matches[j].Node.CreatedAt)
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

func validateNode(node model.CacheNode) error {
	if node.ID == "" {
		return errors.New("cache node id is empty")
	}
	if len(node.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	if node.ParentID != nil && *node.ParentID == node.ID {
		return ErrParentNotFound
	}
	return nil
}
