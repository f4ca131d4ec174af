package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathtutor-gateway/internal/model"
)

// Tests run against REDIS_ADDR (default localhost:6379) and skip when no
// server answers.
func setupTestRedis(t *testing.T) *redisv9.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redisv9.NewClient(&redisv9.Options{Addr: addr, DialTimeout: 500 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return []float32{float32(len(text)), 1}, nil
}

func TestSessionCacheRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	c := NewSessionCache(client, "test-"+uuid.NewString())

	s := model.Session{
		ID:            "s1",
		CurrentNodeID: "n1",
		IsNewBranch:   true,
		Depth:         2,
		Anchor:        &model.Anchor{NodeID: "root", Question: "q", Answer: "a"},
		MessageHistory: []model.Turn{
			{Role: model.RoleUser, Content: "hi", CreatedAt: time.Now().UTC().Truncate(time.Second)},
		},
	}
	require.NoError(t, c.Save(ctx, s, time.Minute))

	got, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "n1", got.CurrentNodeID)
	assert.True(t, got.IsNewBranch)
	assert.Equal(t, "root", got.Anchor.NodeID)
	require.Len(t, got.MessageHistory, 1)

	require.NoError(t, c.Delete(ctx, "s1"))
	got, err = c.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEmbeddingCacheHitsAfterFirstCall(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	inner := &countingEmbedder{}
	c := NewEmbeddingCache(client, inner, "test-model", "test-"+uuid.NewString(), time.Minute, zerolog.Nop())

	first, err := c.Embed(ctx, "what is 2+2")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "what is 2+2")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	_, err = c.Embed(ctx, "what is 3+3")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestEmbeddingKeyDependsOnModel(t *testing.T) {
	a := NewEmbeddingCache(nil, nil, "model-a", "p", time.Minute, zerolog.Nop())
	b := NewEmbeddingCache(nil, nil, "model-b", "p", time.Minute, zerolog.Nop())
	assert.NotEqual(t, a.embeddingKey("x"), b.embeddingKey("x"))
	assert.Equal(t, a.embeddingKey("x"), a.embeddingKey("x"))
}
