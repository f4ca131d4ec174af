package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/graphcache"
	"mathtutor-gateway/internal/intent"
	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/router"
	"mathtutor-gateway/internal/session"
	"mathtutor-gateway/internal/vectorstore"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	calls   int
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingStore struct {
	vectorstore.Store
	mu       sync.Mutex
	searches int
}

func (c *countingStore) Search(ctx context.Context, v []float32, k int, scope vectorstore.Scope) ([]vectorstore.Match, error) {
	c.mu.Lock()
	c.searches++
	c.mu.Unlock()
	return c.Store.Search(ctx, v, k, scope)
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searches
}

type fakeGenerator struct {
	mu      sync.Mutex
	name    string
	replies []string
	err     error
	prompts []ai.Prompt
}

func (g *fakeGenerator) Generate(_ context.Context, p ai.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) > 0 {
		r := g.replies[0]
		g.replies = g.replies[1:]
		return r, nil
	}
	return g.name + " answer", nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type syncWriter struct {
	cache *graphcache.Manager
	err   error
}

func (w *syncWriter) Enqueue(ctx context.Context, write graphcache.Write) error {
	if w.err != nil {
		return w.err
	}
	return w.cache.Apply(ctx, write)
}

type harness struct {
	svc         *QueryService
	embedder    *fakeEmbedder
	store       *countingStore
	cache       *graphcache.Manager
	sessions    *session.Manager
	writer      *syncWriter
	fast        *fakeGenerator
	specialized *fakeGenerator
	general     *fakeGenerator
}

func newHarness(t *testing.T, opts QueryOptions) *harness {
	t.Helper()
	h := &harness{
		embedder:    &fakeEmbedder{vectors: map[string][]float32{}},
		store:       &countingStore{Store: vectorstore.NewMemoryStore()},
		fast:        &fakeGenerator{name: "fast"},
		specialized: &fakeGenerator{name: "specialized"},
		general:     &fakeGenerator{name: "general"},
	}
	// write-path embeddings are counted separately from the query path
	h.cache = graphcache.NewManager(h.store, &fakeEmbedder{}, zerolog.Nop())
	h.writer = &syncWriter{cache: h.cache}

	rt, err := router.New(router.Adapters{
		Fast:        h.fast,
		Specialized: h.specialized,
		General:     h.general,
	}, h.writer, router.Options{Thresholds: router.DefaultThresholds()}, zerolog.Nop())
	require.NoError(t, err)

	h.sessions, err = session.NewManager(session.Options{TTL: time.Hour, HistoryCap: 50}, nil, zerolog.Nop())
	require.NoError(t, err)

	classifier := intent.NewClassifier(nil, intent.Options{Threshold: 0.6}, zerolog.Nop())
	h.svc = NewQueryService(h.embedder, h.cache, rt, h.sessions, classifier, opts, zerolog.Nop())
	return h
}

func TestRepeatedQueryIsServedFromCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})
	h.embedder.vectors["what is 2+2"] = []float32{1, 0, 0}

	first, err := h.svc.HandleQuery(ctx, "", "what is 2+2")
	require.NoError(t, err)
	assert.Equal(t, model.TierGeneral, first.Tier)
	assert.Equal(t, 4, first.Level)
	assert.Nil(t, first.Confidence)
	assert.False(t, first.UsedCache)
	assert.True(t, first.Written)
	require.NotEmpty(t, first.NodeID)
	assert.Empty(t, first.SessionID)

	h.fast.replies = []string{"CACHE_VALID\n4"}
	second, err := h.svc.HandleQuery(ctx, "", "  what is 2+2  ")
	require.NoError(t, err)
	assert.Equal(t, model.TierFast, second.Tier)
	assert.Equal(t, 1, second.Level)
	assert.True(t, second.UsedCache)
	assert.False(t, second.Written)
	assert.Equal(t, first.NodeID, second.NodeID)
	require.NotNil(t, second.Confidence)
	assert.InDelta(t, 1.0, *second.Confidence, 1e-6)

	stats, err := h.cache.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Nodes)
	assert.Equal(t, 1, h.general.calls())
}

func TestValidationRejectionStoresGeneratedAnswer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})
	h.embedder.vectors["what is 2+2"] = []float32{1, 0, 0}

	_, err := h.svc.HandleQuery(ctx, "", "what is 2+2")
	require.NoError(t, err)

	h.fast.replies = []string{"GENERATED\n2+2 is 4"}
	got, err := h.svc.HandleQuery(ctx, "", "what is 2+2")
	require.NoError(t, err)
	assert.False(t, got.UsedCache)
	assert.True(t, got.Written)
	assert.Equal(t, "2+2 is 4", got.Answer)

	stats, err := h.cache.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Nodes)
	assert.EqualValues(t, 2, stats.Roots)
}

func TestQueryEscalatesPastFailingTier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})
	_, err := h.cache.Insert(ctx, "", []float32{1, 0, 0}, "solve x+1=2", "x=1", model.TierGeneral)
	require.NoError(t, err)
	h.embedder.vectors["solve x+2=3"] = []float32{0.8, 0.6, 0}
	h.fast.err = ai.ErrModelUnavailable

	got, err := h.svc.HandleQuery(ctx, "", "solve x+2=3")
	require.NoError(t, err)
	assert.Equal(t, 2, got.SelectedLevel)
	assert.Equal(t, 3, got.Level)
	assert.Equal(t, model.TierSpecialized, got.Tier)
	assert.Equal(t, "specialized answer", got.Answer)
	assert.Equal(t, 1, h.fast.calls())
	assert.Equal(t, 0, h.general.calls())
}

func TestQueryAllTiersFailed(t *testing.T) {
	h := newHarness(t, QueryOptions{})
	h.general.err = ai.ErrModelUnavailable

	_, err := h.svc.HandleQuery(context.Background(), "", "what is 9*9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, router.ErrAllTiersFailed))
}

func TestQueryInputValidation(t *testing.T) {
	h := newHarness(t, QueryOptions{MaxQueryChars: 10})
	ctx := context.Background()

	_, err := h.svc.HandleQuery(ctx, "", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.HandleQuery(ctx, "", strings.Repeat("é", 11))
	assert.ErrorIs(t, err, ErrQueryTooLong)

	_, err = h.svc.HandleTutoringTurn(ctx, "s1", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, h.embedder.count())
	assert.Equal(t, 0, h.sessions.Len())

	_, err = h.svc.HandleQuery(ctx, "", strings.Repeat("é", 10))
	assert.NoError(t, err)
}

func TestQueryWithSessionAnchorsTutoring(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})

	got, err := h.svc.HandleQuery(ctx, "s1", "what is a derivative")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)

	state, err := h.svc.Session("s1")
	require.NoError(t, err)
	require.NotNil(t, state.Anchor)
	assert.Equal(t, got.NodeID, state.Anchor.NodeID)
	assert.Equal(t, got.NodeID, state.CurrentNodeID)
	assert.True(t, state.IsNewBranch)
	assert.Equal(t, 0, state.Depth)
	assert.Len(t, state.MessageHistory, 2)
}

func TestTutoringTurnOnNewBranchSkipsLookup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})

	root, err := h.svc.HandleQuery(ctx, "s1", "what is a derivative")
	require.NoError(t, err)
	embeds, searches := h.embedder.count(), h.store.count()

	got, err := h.svc.HandleTutoringTurn(ctx, "s1", "yes")
	require.NoError(t, err)
	assert.True(t, got.LookupSkipped)
	assert.Equal(t, embeds, h.embedder.count())
	assert.Equal(t, searches, h.store.count())
	assert.Nil(t, got.Confidence)
	assert.Equal(t, string(intent.Affirmative), got.Intent)
	assert.Equal(t, string(intent.MethodRule), got.IntentMethod)
	assert.Equal(t, 1, got.Depth)
	assert.False(t, got.IsComplete)
	assert.Equal(t, nextStepPrompt, got.NextPrompt)
	require.True(t, got.Written)

	node, err := h.cache.Get(ctx, got.NodeID)
	require.NoError(t, err)
	assert.Equal(t, root.NodeID, node.Parent())
	assert.NotEmpty(t, node.Embedding)

	state, err := h.svc.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, got.NodeID, state.CurrentNodeID)
	assert.True(t, state.IsNewBranch)
	assert.Equal(t, root.NodeID, state.Anchor.NodeID)
}

func TestDroppedWriteResumesLookup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})

	_, err := h.svc.HandleQuery(ctx, "s1", "what is a derivative")
	require.NoError(t, err)

	h.writer.err = errors.New("queue full")
	got, err := h.svc.HandleTutoringTurn(ctx, "s1", "no")
	require.NoError(t, err)
	assert.True(t, got.LookupSkipped)
	assert.False(t, got.Written)
	assert.Empty(t, got.NodeID)

	embeds, searches := h.embedder.count(), h.store.count()
	got, err = h.svc.HandleTutoringTurn(ctx, "s1", "why does that work?")
	require.NoError(t, err)
	assert.False(t, got.LookupSkipped)
	assert.Equal(t, embeds+1, h.embedder.count())
	assert.Equal(t, searches+1, h.store.count())
	assert.Equal(t, string(intent.Question), got.Intent)
	assert.Equal(t, 2, got.Depth)
}

func TestTutoringReplyMatchesOnlyWithinBranch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})

	rootA, err := h.cache.Insert(ctx, "", []float32{1, 0, 0}, "what is 2+2", "4", model.TierGeneral)
	require.NoError(t, err)
	rootB, err := h.cache.Insert(ctx, "", []float32{0, 1, 0}, "what is 3+3", "6", model.TierGeneral)
	require.NoError(t, err)
	_, err = h.cache.Insert(ctx, rootB, []float32{0, 0, 1}, "yes", "from branch b", model.TierFast)
	require.NoError(t, err)
	childA, err := h.cache.Insert(ctx, rootA, []float32{0, 0, 1}, "yes", "from branch a", model.TierFast)
	require.NoError(t, err)

	h.embedder.vectors["what is 2+2"] = []float32{1, 0, 0}
	h.fast.replies = []string{"CACHE_VALID"}
	root, err := h.svc.HandleQuery(ctx, "s1", "what is 2+2")
	require.NoError(t, err)
	require.True(t, root.UsedCache)
	assert.Equal(t, rootA, root.NodeID)

	h.fast.replies = []string{"CACHE_VALID"}
	got, err := h.svc.HandleTutoringTurn(ctx, "s1", "yes")
	require.NoError(t, err)
	assert.False(t, got.LookupSkipped)
	assert.True(t, got.UsedCache)
	assert.Equal(t, childA, got.NodeID)
	assert.Equal(t, "from branch a", got.Answer)

	state, err := h.svc.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, childA, state.CurrentNodeID)
	assert.False(t, state.IsNewBranch)
}

func TestTutoringWithoutAnchorStartsNewQuestion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})

	got, err := h.svc.HandleTutoringTurn(ctx, "fresh", "how do I factor x^2-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.SessionID)
	assert.Equal(t, 0, got.Depth)
	assert.False(t, got.IsComplete)
	assert.Equal(t, model.TierGeneral, got.Tier)
	assert.Empty(t, got.Intent)
	assert.Empty(t, got.IntentMethod)

	state, err := h.svc.Session("fresh")
	require.NoError(t, err)
	require.NotNil(t, state.Anchor)
	assert.Equal(t, "how do I factor x^2-1", state.Anchor.Question)
}

func TestTutoringCompletion(t *testing.T) {
	ctx := context.Background()

	t.Run("skip intent", func(t *testing.T) {
		h := newHarness(t, QueryOptions{})
		_, err := h.svc.HandleQuery(ctx, "s1", "what is a limit")
		require.NoError(t, err)

		got, err := h.svc.HandleTutoringTurn(ctx, "s1", "skip")
		require.NoError(t, err)
		assert.Equal(t, string(intent.Skip), got.Intent)
		assert.True(t, got.IsComplete)
		assert.Empty(t, got.NextPrompt)
	})

	t.Run("max depth", func(t *testing.T) {
		h := newHarness(t, QueryOptions{MaxDepth: 2})
		_, err := h.svc.HandleQuery(ctx, "s1", "what is a limit")
		require.NoError(t, err)

		got, err := h.svc.HandleTutoringTurn(ctx, "s1", "yes")
		require.NoError(t, err)
		assert.False(t, got.IsComplete)

		got, err = h.svc.HandleTutoringTurn(ctx, "s1", "ok")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Depth)
		assert.True(t, got.IsComplete)
	})
}

func TestTutoringPromptCarriesPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})

	_, err := h.svc.HandleQuery(ctx, "s1", "what is a derivative")
	require.NoError(t, err)
	h.general.replies = []string{"Step one: the slope of a tangent line."}
	_, err = h.svc.HandleTutoringTurn(ctx, "s1", "no")
	require.NoError(t, err)
	_, err = h.svc.HandleTutoringTurn(ctx, "s1", "yes")
	require.NoError(t, err)

	h.general.mu.Lock()
	last := h.general.prompts[len(h.general.prompts)-1]
	h.general.mu.Unlock()
	assert.Contains(t, last.Instructions, "what is a derivative")
	assert.Contains(t, last.Instructions, "Step one: the slope of a tangent line.")
	assert.Equal(t, "yes", last.Query)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, QueryOptions{})

	_, err := h.svc.HandleQuery(ctx, "s1", "what is pi")
	require.NoError(t, err)
	require.NoError(t, h.svc.EndSession(ctx, "s1"))

	_, err = h.svc.Session("s1")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.ErrorIs(t, h.svc.EndSession(ctx, ""), ErrInvalidInput)
}
