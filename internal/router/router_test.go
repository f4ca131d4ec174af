package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/graphcache"
	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/vectorstore"
)

type scriptedGenerator struct {
	mu      sync.Mutex
	name    string
	replies []reply
	prompts []ai.Prompt
}

type reply struct {
	text string
	err  error
	wait bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, p ai.Prompt) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	var r reply
	if len(g.replies) > 0 {
		r = g.replies[0]
		g.replies = g.replies[1:]
	} else {
		r = reply{text: g.name + " answer"}
	}
	g.mu.Unlock()

	if r.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []graphcache.Write
	ctxs   []context.Context
	err    error
}

func (w *recordingWriter) Enqueue(ctx context.Context, write graphcache.Write) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, write)
	w.ctxs = append(w.ctxs, ctx)
	return nil
}

type fixture struct {
	fast, specialized, general *scriptedGenerator
	writer                     *recordingWriter
	router                     *Router
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		fast:        &scriptedGenerator{name: "fast"},
		specialized: &scriptedGenerator{name: "specialized"},
		general:     &scriptedGenerator{name: "general"},
		writer:      &recordingWriter{},
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	r, err := New(Adapters{Fast: f.fast, Specialized: f.specialized, General: f.general}, f.writer, opts, zerolog.Nop())
	require.NoError(t, err)
	f.router = r
	return f
}

func matchesWithScore(score float64, n int) []vectorstore.Match {
	out := make([]vectorstore.Match, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, vectorstore.Match{
			Node: model.CacheNode{
				ID:         "node-" + string(rune('a'+i)),
				QueryText:  "cached question " + string(rune('a'+i)),
				AnswerText: "cached answer " + string(rune('a'+i)),
			},
			Score: score - float64(i)*0.01,
		})
	}
	return out
}

func ptr(f float64) *float64 { return &f }

func TestSelectBoundariesGoToHigherLevel(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name  string
		score *float64
		want  Level
	}{
		{"perfect", ptr(1), LevelValidate},
		{"exactly high", ptr(0.85), LevelValidate},
		{"just below high", ptr(0.8499), LevelContext},
		{"exactly medium", ptr(0.70), LevelContext},
		{"just below medium", ptr(0.6999), LevelSpecialized},
		{"exactly low", ptr(0.50), LevelSpecialized},
		{"just below low", ptr(0.4999), LevelGeneral},
		{"negative", ptr(-0.3), LevelGeneral},
		{"no match", nil, LevelGeneral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, th.Select(tc.score))
		})
	}
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{High: 0.7, Medium: 0.7, Low: 0.5}.Validate())
	assert.Error(t, Thresholds{High: 1.2, Medium: 0.7, Low: 0.5}.Validate())
	assert.Error(t, Thresholds{High: 0.9, Medium: 0.7, Low: -0.1}.Validate())
}

func TestNewRequiresAllAdapters(t *testing.T) {
	_, err := New(Adapters{Fast: &scriptedGenerator{}}, nil, Options{Thresholds: DefaultThresholds()}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRouteNoMatchUsesGeneralAndWritesBack(t *testing.T) {
	f := newFixture(t, Options{Retries: 1})
	d, err := f.router.Route(context.Background(), Request{Query: "what is 2+2", Embedding: []float32{1, 0}})
	require.NoError(t, err)

	assert.Equal(t, model.TierGeneral, d.Tier)
	assert.Equal(t, 4, d.Level)
	assert.Equal(t, 4, d.SelectedLevel)
	assert.Nil(t, d.Confidence)
	assert.False(t, d.UsedCache)
	assert.Equal(t, "general answer", d.Answer)
	assert.True(t, d.Written)
	require.Len(t, f.writer.writes, 1)

	w := f.writer.writes[0]
	assert.Equal(t, d.NodeID, w.NodeID)
	assert.Equal(t, "", w.ParentID)
	assert.Equal(t, []float32{1, 0}, w.Embedding)
	assert.Equal(t, "what is 2+2", w.QueryText)
	assert.Equal(t, "general answer", w.AnswerText)
	assert.Equal(t, model.TierGeneral, w.Tier)
	assert.Equal(t, ai.ModeAnswer, f.general.prompts[0].Mode)
}

func TestRouteValidatedHitIsNotWritten(t *testing.T) {
	f := newFixture(t, Options{Retries: 1})
	f.fast.replies = []reply{{text: "CACHE_VALID"}}

	d, err := f.router.Route(context.Background(), Request{Query: "q", Matches: matchesWithScore(0.9, 2)})
	require.NoError(t, err)

	assert.Equal(t, model.TierFast, d.Tier)
	assert.Equal(t, 1, d.Level)
	assert.True(t, d.UsedCache)
	assert.Equal(t, "cached answer a", d.Answer)
	assert.Equal(t, "node-a", d.NodeID)
	assert.False(t, d.Written)
	require.NotNil(t, d.Confidence)
	assert.InDelta(t, 0.9, *d.Confidence, 1e-9)
	assert.Empty(t, f.writer.writes)

	p := f.fast.prompts[0]
	assert.Equal(t, ai.ModeValidate, p.Mode)
	require.Len(t, p.Cached, 1)
	assert.Equal(t, "cached question a", p.Cached[0].Question)
}

func TestRouteValidateGeneratedIsWritten(t *testing.T) {
	f := newFixture(t, Options{})
	f.fast.replies = []reply{{text: "GENERATED\nthe corrected answer"}}

	d, err := f.router.Route(context.Background(), Request{Query: "q", ParentID: "p1", Matches: matchesWithScore(0.95, 1)})
	require.NoError(t, err)

	assert.False(t, d.UsedCache)
	assert.Equal(t, "the corrected answer", d.Answer)
	assert.True(t, d.Written)
	require.Len(t, f.writer.writes, 1)
	assert.Equal(t, "p1", f.writer.writes[0].ParentID)
	assert.Equal(t, model.TierFast, f.writer.writes[0].Tier)
}

func TestRouteContextLevelSendsUpToThreePairs(t *testing.T) {
	f := newFixture(t, Options{})
	d, err := f.router.Route(context.Background(), Request{Query: "q", Matches: matchesWithScore(0.75, 5)})
	require.NoError(t, err)

	assert.Equal(t, 2, d.Level)
	assert.Equal(t, model.TierFast, d.Tier)
	assert.False(t, d.UsedCache)
	assert.True(t, d.Written)
	p := f.fast.prompts[0]
	assert.Equal(t, ai.ModeContext, p.Mode)
	assert.Len(t, p.Cached, 3)
}

func TestRouteSpecializedLevel(t *testing.T) {
	f := newFixture(t, Options{})
	d, err := f.router.Route(context.Background(), Request{Query: "q", Instructions: "be brief", Matches: matchesWithScore(0.6, 1)})
	require.NoError(t, err)

	assert.Equal(t, model.TierSpecialized, d.Tier)
	assert.Equal(t, "be brief", f.specialized.prompts[0].Instructions)
	assert.Equal(t, 0, f.fast.calls())
}

func TestRouteRetriesOnceBeforeEscalating(t *testing.T) {
	f := newFixture(t, Options{Retries: 1})
	f.fast.replies = []reply{{err: ai.ErrModelUnavailable}, {text: "second try"}}

	d, err := f.router.Route(context.Background(), Request{Query: "q", Matches: matchesWithScore(0.75, 1)})
	require.NoError(t, err)
	assert.Equal(t, "second try", d.Answer)
	assert.Equal(t, 2, d.Level)
	assert.Equal(t, 2, f.fast.calls())
	assert.Equal(t, 0, f.specialized.calls())
}

func TestRouteEscalatesAfterTwoFailures(t *testing.T) {
	f := newFixture(t, Options{Retries: 1})
	f.fast.replies = []reply{{err: ai.ErrModelUnavailable}, {err: ai.ErrModelTimeout}}

	d, err := f.router.Route(context.Background(), Request{Query: "q", Matches: matchesWithScore(0.75, 1)})
	require.NoError(t, err)

	assert.Equal(t, model.TierSpecialized, d.Tier)
	assert.Equal(t, 3, d.Level)
	assert.Equal(t, 2, d.SelectedLevel)
	assert.Equal(t, "specialized answer", d.Answer)
	assert.Equal(t, 2, f.fast.calls())
	require.Len(t, f.writer.writes, 1)
	assert.Equal(t, model.TierSpecialized, f.writer.writes[0].Tier)
}

func TestRouteValidateEscalatesToContextWithSameMatches(t *testing.T) {
	f := newFixture(t, Options{Retries: 1})
	f.fast.replies = []reply{{err: ai.ErrModelUnavailable}, {err: ai.ErrModelUnavailable}, {text: "from context"}}

	d, err := f.router.Route(context.Background(), Request{Query: "q", Matches: matchesWithScore(0.99, 2)})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Level)
	assert.Equal(t, 1, d.SelectedLevel)
	require.Len(t, f.fast.prompts, 3)
	assert.Equal(t, ai.ModeContext, f.fast.prompts[2].Mode)
	assert.Len(t, f.fast.prompts[2].Cached, 2)
}

func TestRouteGeneralFailureIsTerminal(t *testing.T) {
	f := newFixture(t, Options{Retries: 1})
	boom := errors.New("boom")
	f.general.replies = []reply{{err: boom}, {err: boom}}

	_, err := f.router.Route(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllTiersFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, f.general.calls())
	assert.Empty(t, f.writer.writes)
}

func TestRouteTimeoutCountsAsFailure(t *testing.T) {
	f := newFixture(t, Options{Retries: 0, CallTimeout: 20 * time.Millisecond})
	f.specialized.replies = []reply{{wait: true}}

	d, err := f.router.Route(context.Background(), Request{Query: "q", Matches: matchesWithScore(0.55, 1)})
	require.NoError(t, err)
	assert.Equal(t, model.TierGeneral, d.Tier)
	assert.Equal(t, 3, d.SelectedLevel)
}

func TestRouteWriteFailureDoesNotChangeAnswer(t *testing.T) {
	f := newFixture(t, Options{})
	f.writer.err = errors.New("queue full")

	d, err := f.router.Route(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "general answer", d.Answer)
	assert.False(t, d.Written)
	assert.Empty(t, d.NodeID)
}

func TestRouteWriteOutlivesRequestContext(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.router.Route(ctx, Request{Query: "q"})
	require.NoError(t, err)
	cancel()

	require.Len(t, f.writer.ctxs, 1)
	assert.NoError(t, f.writer.ctxs[0].Err())
}
