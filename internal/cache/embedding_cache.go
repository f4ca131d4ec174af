package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/metrics"
)

// EmbeddingCache wraps an Embedder with a Redis lookaside cache keyed by a
// hash of the model name and the text. Redis failures fall through to the
// wrapped embedder.
type EmbeddingCache struct {
	client *redisv9.Client
	next   ai.Embedder
	model  string
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

func NewEmbeddingCache(client *redisv9.Client, next ai.Embedder, model, prefix string, ttl time.Duration, logger zerolog.Logger) *EmbeddingCache {
	if prefix == "" {
		prefix = "mathtutor"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{
		client: client,
		next:   next,
		model:  model,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "embedding_cache").Logger(),
	}
}

func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.embeddingKey(text)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jsonErr := json.Unmarshal(raw, &vec); jsonErr == nil && len(vec) > 0 {
			metrics.EmbeddingCache.WithLabelValues("hit").Inc()
			return vec, nil
		}
	case !errors.Is(err, redisv9.Nil):
		c.logger.Warn().Err(err).Msg("redis get embedding failed")
	}
	metrics.EmbeddingCache.WithLabelValues("miss").Inc()

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(vec)
	if err != nil {
		return vec, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis set embedding failed")
	}
	return vec, nil
}

func (c *EmbeddingCache) embeddingKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return fmt.Sprintf("%s:embedding:%s", c.prefix, hex.EncodeToString(sum[:]))
}
