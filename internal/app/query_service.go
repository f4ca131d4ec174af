package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/graphcache"
	"mathtutor-gateway/internal/intent"
	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/router"
	"mathtutor-gateway/internal/session"
	"mathtutor-gateway/internal/vectorstore"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrQueryTooLong = errors.New("query too long")
)

// BranchCache is the graph cache as seen by query and tutoring turns.
type BranchCache interface {
	LookupChildren(ctx context.Context, parentID string, embedding []float32, k int) ([]vectorstore.Match, error)
	Get(ctx context.Context, id string) (*model.CacheNode, error)
	Path(ctx context.Context, nodeID string) ([]model.CacheNode, error)
	Apply(ctx context.Context, w graphcache.Write) error
}

type Router interface {
	Route(ctx context.Context, req router.Request) (model.RoutingDecision, error)
}

type IntentClassifier interface {
	Classify(ctx context.Context, text, tutorQuestion string) intent.Result
}

type QueryOptions struct {
	TopK          int
	MaxQueryChars int
	MaxDepth      int
}

// QueryService answers single-turn questions and tutoring turns.
type QueryService struct {
	embedder   ai.Embedder
	cache      BranchCache
	router     Router
	sessions   *session.Manager
	classifier IntentClassifier
	opts       QueryOptions
	logger     zerolog.Logger
}

func NewQueryService(
	embedder ai.Embedder,
	cache BranchCache,
	rt Router,
	sessions *session.Manager,
	classifier IntentClassifier,
	opts QueryOptions,
	logger zerolog.Logger,
) *QueryService {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxQueryChars <= 0 {
		opts.MaxQueryChars = 5000
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 5
	}
	return &QueryService{
		embedder:   embedder,
		cache:      cache,
		router:     rt,
		sessions:   sessions,
		classifier: classifier,
		opts:       opts,
		logger:     logger.With().Str("component", "query_service").Logger(),
	}
}

// HandleQuery answers a single-turn question against the root level of the
// cache. With a session id the session is anchored on the answering node so
// later tutoring turns branch from it.
func (s *QueryService) HandleQuery(ctx context.Context, sessionID, text string) (model.QueryDecision, error) {
	query, err := s.normalize(text)
	if err != nil {
		return model.QueryDecision{}, err
	}

	if sessionID == "" {
		decision, err := s.answerRoot(ctx, query)
		if err != nil {
			return model.QueryDecision{}, err
		}
		return model.QueryDecision{RoutingDecision: decision}, nil
	}

	turn, err := s.sessions.Begin(ctx, sessionID)
	if err != nil {
		return model.QueryDecision{}, err
	}
	defer turn.End(ctx)

	decision, err := s.answerRoot(ctx, query)
	if err != nil {
		return model.QueryDecision{}, err
	}
	anchorSession(turn, query, decision)
	return model.QueryDecision{RoutingDecision: decision, SessionID: turn.ID()}, nil
}

// HandleTutoringTurn answers a student's reply within the session's branch of
// the cache tree. A session without an anchor treats the text as a new
// root question.
func (s *QueryService) HandleTutoringTurn(ctx context.Context, sessionID, text string) (model.TutoringDecision, error) {
	reply, err := s.normalize(text)
	if err != nil {
		return model.TutoringDecision{}, err
	}

	turn, err := s.sessions.Begin(ctx, sessionID)
	if err != nil {
		return model.TutoringDecision{}, err
	}
	defer turn.End(ctx)

	state := turn.Session()
	if state.Anchor == nil || state.Anchor.NodeID == "" {
		decision, err := s.answerRoot(ctx, reply)
		if err != nil {
			return model.TutoringDecision{}, err
		}
		anchorSession(turn, reply, decision)
		return model.TutoringDecision{
			RoutingDecision: decision,
			SessionID:       turn.ID(),
			NextPrompt:      nextStepPrompt,
		}, nil
	}

	logger := s.requestLogger(ctx).With().Str("session_id", turn.ID()).Logger()
	parentID, skipped := s.branchParent(ctx, logger, state)

	var (
		embedding []float32
		matches   []vectorstore.Match
	)
	if skipped {
		logger.Debug().Str("parent_id", parentID).Msg("new branch, skipping cache lookup")
	} else {
		embedding, matches = s.lookup(ctx, logger, parentID, reply)
	}

	classified := s.classifier.Classify(ctx, reply, "The tutor is teaching: "+state.Anchor.Question)
	depth := state.Depth + 1

	var steps []model.CacheNode
	path, err := s.cache.Path(ctx, parentID)
	if err != nil {
		logger.Debug().Err(err).Msg("conversation path unavailable")
	} else if len(path) > 0 {
		steps = path[1:]
	}

	decision, err := s.router.Route(ctx, router.Request{
		Query:        reply,
		Instructions: tutoringInstructions(classified.Category, *state.Anchor, steps),
		Embedding:    embedding,
		Matches:      matches,
		ParentID:     parentID,
	})
	if err != nil {
		return model.TutoringDecision{}, err
	}

	turn.Update(func(sess *model.Session) {
		switch {
		case decision.UsedCache:
			sess.CurrentNodeID = decision.NodeID
			sess.IsNewBranch = false
		case decision.Written:
			sess.CurrentNodeID = decision.NodeID
			sess.IsNewBranch = true
		default:
			sess.CurrentNodeID = parentID
			sess.IsNewBranch = false
		}
		sess.Depth = depth
	})
	turn.Append(model.RoleUser, reply)
	turn.Append(model.RoleAssistant, decision.Answer)

	complete := classified.Category == intent.Skip || depth >= s.opts.MaxDepth
	out := model.TutoringDecision{
		RoutingDecision: decision,
		SessionID:       turn.ID(),
		Intent:          string(classified.Category),
		IntentMethod:    string(classified.Method),
		IsComplete:      complete,
		Depth:           depth,
		LookupSkipped:   skipped,
	}
	if !complete {
		out.NextPrompt = nextStepPrompt
	}
	logger.Info().
		Str("intent", out.Intent).
		Str("tier", string(decision.Tier)).
		Bool("used_cache", decision.UsedCache).
		Bool("lookup_skipped", skipped).
		Int("depth", depth).
		Msg("tutoring turn answered")
	return out, nil
}

// branchParent picks the node a tutoring turn branches from and whether its
// lookup can be skipped. A node written on the previous turn has no children
// yet, but its write is asynchronous and may have failed. In that case the
// turn falls back to the anchor, storing the anchor again if its own write
// was lost, and searches normally.
func (s *QueryService) branchParent(ctx context.Context, logger zerolog.Logger, state model.Session) (string, bool) {
	anchor := state.Anchor
	parentID := state.CurrentNodeID
	if parentID == "" {
		parentID = anchor.NodeID
	}
	if !state.IsNewBranch {
		return parentID, false
	}

	_, err := s.cache.Get(ctx, parentID)
	switch {
	case err == nil:
		return parentID, true
	case !errors.Is(err, vectorstore.ErrNotFound):
		// the store is down; a lookup would fail the same way
		logger.Warn().Err(err).Str("parent_id", parentID).Msg("branch node check failed")
		return parentID, true
	}

	logger.Warn().Str("parent_id", parentID).Str("anchor_id", anchor.NodeID).Msg("branch node was never stored, resuming from anchor")
	if parentID != anchor.NodeID {
		if _, err := s.cache.Get(ctx, anchor.NodeID); !errors.Is(err, vectorstore.ErrNotFound) {
			return anchor.NodeID, false
		}
	}

	tier := anchor.Tier
	if !tier.Valid() {
		tier = model.TierGeneral
	}
	err = s.cache.Apply(ctx, graphcache.Write{
		NodeID:     anchor.NodeID,
		QueryText:  anchor.Question,
		AnswerText: anchor.Answer,
		Tier:       tier,
	})
	if err != nil && !errors.Is(err, vectorstore.ErrDuplicateNode) {
		logger.Warn().Err(err).Str("anchor_id", anchor.NodeID).Msg("restore anchor node failed")
	}
	return anchor.NodeID, false
}

func (s *QueryService) answerRoot(ctx context.Context, query string) (model.RoutingDecision, error) {
	logger := s.requestLogger(ctx)
	embedding, matches := s.lookup(ctx, logger, "", query)

	decision, err := s.router.Route(ctx, router.Request{
		Query:     query,
		Embedding: embedding,
		Matches:   matches,
	})
	if err != nil {
		return model.RoutingDecision{}, err
	}
	logger.Info().
		Str("tier", string(decision.Tier)).
		Int("level", decision.Level).
		Bool("used_cache", decision.UsedCache).
		Msg("query answered")
	return decision, nil
}

// lookup embeds text and searches the children of parentID. Failures degrade
// to no match.
func (s *QueryService) lookup(ctx context.Context, logger zerolog.Logger, parentID, text string) ([]float32, []vectorstore.Match) {
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		logger.Warn().Err(err).Msg("embedding failed, answering without cache")
		return nil, nil
	}
	matches, err := s.cache.LookupChildren(ctx, parentID, embedding, s.opts.TopK)
	if err != nil {
		logger.Warn().Err(err).Msg("cache lookup failed, answering without cache")
		return embedding, nil
	}
	return embedding, matches
}

func (s *QueryService) normalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("query is empty: %w", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(text); n > s.opts.MaxQueryChars {
		return "", fmt.Errorf("query has %d characters, limit %d: %w", n, s.opts.MaxQueryChars, ErrQueryTooLong)
	}
	return text, nil
}

func (s *QueryService) requestLogger(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return s.logger
}

// anchorSession points the session at the root node that answered query and
// restarts the tutoring branch there.
func anchorSession(turn *session.Turn, query string, decision model.RoutingDecision) {
	turn.Update(func(sess *model.Session) {
		sess.Depth = 0
		sess.CurrentNodeID = decision.NodeID
		sess.IsNewBranch = decision.Written
		if decision.NodeID == "" {
			sess.Anchor = nil
			return
		}
		sess.Anchor = &model.Anchor{
			NodeID:   decision.NodeID,
			Question: query,
			Answer:   decision.Answer,
			Tier:     decision.Tier,
		}
	})
	turn.Append(model.RoleUser, query)
	turn.Append(model.RoleAssistant, decision.Answer)
}

// Session returns a copy of the session state.
func (s *QueryService) Session(id string) (model.Session, error) {
	if strings.TrimSpace(id) == "" {
		return model.Session{}, ErrInvalidInput
	}
	return s.sessions.Get(id)
}

// EndSession discards a session. Cache nodes it visited are kept.
func (s *QueryService) EndSession(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	return s.sessions.Delete(ctx, id)
}
