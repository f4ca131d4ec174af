package app

import (
	"context"
	"fmt"
	"strings"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/vectorstore"
)

// CacheAdmin is the part of the graph cache the admin routes need.
type CacheAdmin interface {
	Get(ctx context.Context, id string) (*model.CacheNode, error)
	Path(ctx context.Context, nodeID string) ([]model.CacheNode, error)
	Stats(ctx context.Context) (vectorstore.Stats, error)
	Insert(ctx context.Context, parentID string, embedding []float32, query, answer string, tier model.Tier) (string, error)
}

type SessionReaper interface {
	ReapExpired(ctx context.Context) int
	Len() int
}

type AdminService struct {
	cache    CacheAdmin
	embedder ai.Embedder
	sessions SessionReaper
}

type AdminStats struct {
	Cache    vectorstore.Stats `json:"cache"`
	Sessions int               `json:"sessions"`
}

type SeedInput struct {
	ParentID string
	Question string
	Answer   string
}

func NewAdminService(cache CacheAdmin, embedder ai.Embedder, sessions SessionReaper) *AdminService {
	return &AdminService{cache: cache, embedder: embedder, sessions: sessions}
}

func (s *AdminService) Stats(ctx context.Context) (AdminStats, error) {
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return AdminStats{}, err
	}
	return AdminStats{Cache: stats, Sessions: s.sessions.Len()}, nil
}

func (s *AdminService) Node(ctx context.Context, id string) (*model.CacheNode, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	return s.cache.Get(ctx, id)
}

func (s *AdminService) Path(ctx context.Context, id string) ([]model.CacheNode, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	return s.cache.Path(ctx, id)
}

// SeedNode stores a curated question and answer. Seeded nodes are marked as
// coming from the cache tier.
func (s *AdminService) SeedNode(ctx context.Context, input SeedInput) (*model.CacheNode, error) {
	question := strings.TrimSpace(input.Question)
	answer := strings.TrimSpace(input.Answer)
	if question == "" || answer == "" {
		return nil, ErrInvalidInput
	}

	embedding, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("seed node failed: %w", err)
	}
	id, err := s.cache.Insert(ctx, strings.TrimSpace(input.ParentID), embedding, question, answer, model.TierCache)
	if err != nil {
		return nil, fmt.Errorf("seed node failed: %w", err)
	}
	return s.cache.Get(ctx, id)
}

func (s *AdminService) Reap(ctx context.Context) int {
	return s.sessions.ReapExpired(ctx)
}
