// Package graphcache layers the tutoring tree on top of a vector store:
// lookups are scoped to the children of one node and every insertion
// creates a fresh child.
package graphcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/metrics"
	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/vectorstore"
)

// maxPathDepth bounds Path so a corrupted parent chain cannot loop forever.
const maxPathDepth = 1024

var ErrPathTooDeep = errors.New("conversation path exceeds maximum depth")

// Write is one pending node insertion. NodeID is reserved up front so callers
// can point a session at the node before it is stored. An empty Embedding is
// computed from QueryText when the write is applied.
type Write struct {
	NodeID     string     `json:"node_id"`
	ParentID   string     `json:"parent_id,omitempty"`
	Embedding  []float32  `json:"embedding,omitempty"`
	QueryText  string     `json:"query_text"`
	AnswerText string     `json:"answer_text"`
	Tier       model.Tier `json:"tier"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Manager struct {
	store    vectorstore.Store
	embedder ai.Embedder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewManager(store vectorstore.Store, embedder ai.Embedder, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		embedder: embedder,
		logger:   logger.With().Str("component", "graphcache").Logger(),
		now:      time.Now,
	}
}

// LookupChildren ranks the direct children of parentID against embedding.
// An empty parentID searches the root nodes.
func (m *Manager) LookupChildren(ctx context.Context, parentID string, embedding []float32, k int) ([]vectorstore.Match, error) {
	scope := "children"
	if parentID == "" {
		scope = "root"
	}
	matches, err := m.store.Search(ctx, embedding, k, vectorstore.Scope{ParentID: parentID})
	if err != nil {
		metrics.CacheLookups.WithLabelValues(scope, "error").Inc()
		return nil, fmt.Errorf("lookup children of %q failed: %w", parentID, err)
	}
	result := "miss"
	if len(matches) > 0 {
		result = "hit"
	}
	metrics.CacheLookups.WithLabelValues(scope, result).Inc()
	return matches, nil
}

// Reserve returns a fresh node id for a later Apply.
func (m *Manager) Reserve() string {
	return uuid.NewString()
}

// Insert stores a new child of parentID and returns its id.
func (m *Manager) Insert(ctx context.Context, parentID string, embedding []float32, query, answer string, tier model.Tier) (string, error) {
	w := Write{
		NodeID:     m.Reserve(),
		ParentID:   parentID,
		Embedding:  embedding,
		QueryText:  query,
		AnswerText: answer,
		Tier:       tier,
	}
	if err := m.Apply(ctx, w); err != nil {
		return "", err
	}
	return w.NodeID, nil
}

// Apply performs a reserved write.
func (m *Manager) Apply(ctx context.Context, w Write) error {
	if w.NodeID == "" {
		return errors.New("apply cache write failed: node id is empty")
	}
	if !w.Tier.Valid() {
		return fmt.Errorf("apply cache write failed: unknown tier %q", w.Tier)
	}
	embedding := w.Embedding
	if len(embedding) == 0 {
		if m.embedder == nil {
			return fmt.Errorf("apply cache write %s failed: %w", w.NodeID, ai.ErrEmbeddingUnavailable)
		}
		var err error
		embedding, err = m.embedder.Embed(ctx, w.QueryText)
		if err != nil {
			metrics.CacheWrites.WithLabelValues("embed_error").Inc()
			return fmt.Errorf("apply cache write %s failed: %w", w.NodeID, err)
		}
	}
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.now()
	}

	node := model.CacheNode{
		ID:         w.NodeID,
		ParentID:   model.ParentRef(w.ParentID),
		Embedding:  embedding,
		QueryText:  w.QueryText,
		AnswerText: w.AnswerText,
		TierUsed:   w.Tier,
		CreatedAt:  createdAt,
	}
	if err := m.store.Insert(ctx, node); err != nil {
		metrics.CacheWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("apply cache write %s failed: %w", w.NodeID, err)
	}
	metrics.CacheWrites.WithLabelValues("ok").Inc()
	m.logger.Debug().
		Str("node_id", w.NodeID).
		Str("parent_id", w.ParentID).
		Str("tier", string(w.Tier)).
		Msg("cache node stored")
	return nil
}

func (m *Manager) Get(ctx context.Context, id string) (*model.CacheNode, error) {
	node, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cache node failed: %w", err)
	}
	return node, nil
}

// Path returns the chain of nodes from the root down to nodeID.
func (m *Manager) Path(ctx context.Context, nodeID string) ([]model.CacheNode, error) {
	var reversed []model.CacheNode
	id := nodeID
	for id != "" {
		if len(reversed) >= maxPathDepth {
			return nil, fmt.Errorf("path of %s failed: %w", nodeID, ErrPathTooDeep)
		}
		node, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("path of %s failed: %w", nodeID, err)
		}
		reversed = append(reversed, *node)
		id = node.Parent()
	}

	path := make([]model.CacheNode, len(reversed))
	for i, node := range reversed {
		path[len(reversed)-1-i] = node
	}
	return path, nil
}

func (m *Manager) Stats(ctx context.Context) (vectorstore.Stats, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return vectorstore.Stats{}, fmt.Errorf("cache stats failed: %w", err)
	}
	return stats, nil
}
