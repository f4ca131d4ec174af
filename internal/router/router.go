// Package router picks a model tier from the best cache similarity, calls it
// with retry and escalation, and queues the answer for write-back.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/graphcache"
	"mathtutor-gateway/internal/metrics"
	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/vectorstore"
)

var ErrAllTiersFailed = errors.New("all model tiers failed")

const maxContextPairs = 3

// CacheWriter accepts write-backs without blocking on the store.
type CacheWriter interface {
	Enqueue(ctx context.Context, w graphcache.Write) error
}

// Adapters holds the three model capabilities.
type Adapters struct {
	Fast        ai.Generator
	Specialized ai.Generator
	General     ai.Generator
}

type Options struct {
	Thresholds  Thresholds
	CallTimeout time.Duration
	// Retries is the number of extra attempts on the same level before
	// escalating.
	Retries int
}

// Request is one routing pass. Matches are the ranked lookup results for the
// scope the answer will be written under; an empty slice means no match.
type Request struct {
	Query        string
	Instructions string
	Embedding    []float32
	Matches      []vectorstore.Match
	ParentID     string
}

type Router struct {
	table  [numLevels]ai.Generator
	tiers  [numLevels]model.Tier
	opts   Options
	writer CacheWriter
	newID  func() string
	logger zerolog.Logger
}

func New(adapters Adapters, writer CacheWriter, opts Options, logger zerolog.Logger) (*Router, error) {
	if adapters.Fast == nil || adapters.Specialized == nil || adapters.General == nil {
		return nil, errors.New("router requires fast, specialized and general adapters")
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Router{
		table: [numLevels]ai.Generator{
			LevelValidate - 1:    adapters.Fast,
			LevelContext - 1:     adapters.Fast,
			LevelSpecialized - 1: adapters.Specialized,
			LevelGeneral - 1:     adapters.General,
		},
		tiers: [numLevels]model.Tier{
			LevelValidate - 1:    model.TierFast,
			LevelContext - 1:     model.TierFast,
			LevelSpecialized - 1: model.TierSpecialized,
			LevelGeneral - 1:     model.TierGeneral,
		},
		opts:   opts,
		writer: writer,
		newID:  uuid.NewString,
		logger: logger.With().Str("component", "router").Logger(),
	}, nil
}

func (r *Router) Thresholds() Thresholds {
	return r.opts.Thresholds
}

// Route answers req starting at the level chosen by the best match score.
// A failed level is retried, then the next lower level is tried with the same
// matches. Only a failure of LevelGeneral is returned to the caller.
func (r *Router) Route(ctx context.Context, req Request) (model.RoutingDecision, error) {
	var confidence *float64
	if len(req.Matches) > 0 {
		score := req.Matches[0].Score
		confidence = &score
	}
	selected := r.opts.Thresholds.Select(confidence)
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &r.logger
	}

	var lastErr error
	for level := selected; level <= LevelGeneral; level++ {
		if level > selected {
			metrics.Escalations.WithLabelValues(strconv.Itoa(int(level-1)), strconv.Itoa(int(level))).Inc()
			logger.Warn().Err(lastErr).
				Int("from_level", int(level-1)).
				Int("to_level", int(level)).
				Msg("tier failed, escalating")
		}
		text, err := r.attempt(ctx, level, r.promptFor(level, req))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		decision := model.RoutingDecision{
			Tier:          r.tiers[level-1],
			Level:         int(level),
			SelectedLevel: int(selected),
			Confidence:    confidence,
			Answer:        text,
		}
		if level == LevelValidate {
			best := req.Matches[0].Node
			verdict := ai.ParseVerdict(text, best.AnswerText)
			decision.Answer = verdict.Answer
			if verdict.Valid {
				decision.UsedCache = true
				decision.NodeID = best.ID
			}
		}
		if !decision.UsedCache {
			decision.NodeID = r.newID()
			decision.Written = r.writeBack(ctx, req, decision)
			if !decision.Written {
				decision.NodeID = ""
			}
		}
		metrics.RoutingDecisions.WithLabelValues(
			strconv.Itoa(int(selected)), string(decision.Tier), strconv.FormatBool(decision.UsedCache),
		).Inc()
		return decision, nil
	}

	metrics.RoutingDecisions.WithLabelValues(strconv.Itoa(int(selected)), "none", "false").Inc()
	return model.RoutingDecision{}, fmt.Errorf("route query failed: %w: %w", ErrAllTiersFailed, lastErr)
}

func (r *Router) attempt(ctx context.Context, level Level, prompt ai.Prompt) (string, error) {
	gen := r.table[level-1]
	tier := string(r.tiers[level-1])
	var err error
	for try := 0; try <= r.opts.Retries; try++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.opts.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		}
		start := time.Now()
		var text string
		text, err = gen.Generate(callCtx, prompt)
		cancel()
		metrics.TierLatency.WithLabelValues(tier).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.TierCalls.WithLabelValues(tier, "ok").Inc()
			return text, nil
		}
		metrics.TierCalls.WithLabelValues(tier, "error").Inc()
		if ctx.Err() != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("level %d (%s) failed: %w", level, tier, err)
}

func (r *Router) promptFor(level Level, req Request) ai.Prompt {
	prompt := ai.Prompt{Query: req.Query, Instructions: req.Instructions}
	switch level {
	case LevelValidate:
		prompt.Mode = ai.ModeValidate
		prompt.Cached = cachedPairs(req.Matches, 1)
	case LevelContext:
		prompt.Mode = ai.ModeContext
		prompt.Cached = cachedPairs(req.Matches, maxContextPairs)
	default:
		prompt.Mode = ai.ModeAnswer
	}
	return prompt
}

func cachedPairs(matches []vectorstore.Match, limit int) []ai.CachedQA {
	if len(matches) < limit {
		limit = len(matches)
	}
	pairs := make([]ai.CachedQA, 0, limit)
	for _, m := range matches[:limit] {
		pairs = append(pairs, ai.CachedQA{Question: m.Node.QueryText, Answer: m.Node.AnswerText})
	}
	return pairs
}

// writeBack hands the answer to the cache writer. The write outlives the
// request context; failures are logged and never change the decision.
func (r *Router) writeBack(ctx context.Context, req Request, decision model.RoutingDecision) bool {
	if r.writer == nil {
		return false
	}
	w := graphcache.Write{
		NodeID:     decision.NodeID,
		ParentID:   req.ParentID,
		Embedding:  req.Embedding,
		QueryText:  req.Query,
		AnswerText: decision.Answer,
		Tier:       decision.Tier,
		CreatedAt:  time.Now(),
	}
	if err := r.writer.Enqueue(context.WithoutCancel(ctx), w); err != nil {
		r.logger.Warn().Err(err).
			Str("node_id", w.NodeID).
			Str("parent_id", w.ParentID).
			Msg("cache write-back dropped")
		return false
	}
	return true
}
