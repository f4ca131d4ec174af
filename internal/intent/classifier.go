// Package intent classifies a student's reply during tutoring. Regex rules
// answer first; a fast model is consulted when the rules are not confident.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/metrics"
)

type Category string

const (
	Affirmative Category = "affirmative"
	Negative    Category = "negative"
	Partial     Category = "partial"
	Question    Category = "question"
	Skip        Category = "skip"
	OffTopic    Category = "off_topic"
)

type Method string

const (
	MethodRule          Method = "rule"
	MethodModelFallback Method = "model_fallback"
)

const (
	singleMatchConfidence   = 0.95
	multiMatchScale         = 0.8
	modelAgreesConfidence   = 0.9
	modelDisagreeConfidence = 0.7
	modelOnlyConfidence     = 0.8
	unknownConfidence       = 0.3
)

type Result struct {
	Category        Category `json:"category"`
	Confidence      float64  `json:"confidence"`
	Method          Method   `json:"method"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
}

type Options struct {
	// Threshold is the rule confidence at or above which the model is skipped.
	Threshold     float64
	ModelFallback bool
}

type Classifier struct {
	model  ai.Generator
	opts   Options
	logger zerolog.Logger
}

// NewClassifier returns a classifier. model may be nil, in which case only
// the rules are used.
func NewClassifier(model ai.Generator, opts Options, logger zerolog.Logger) *Classifier {
	return &Classifier{
		model:  model,
		opts:   opts,
		logger: logger.With().Str("component", "intent").Logger(),
	}
}

// Classify labels text. tutorQuestion, when not empty, is the question the
// student is answering and is shown to the model.
func (c *Classifier) Classify(ctx context.Context, text, tutorQuestion string) Result {
	res := c.classify(ctx, text, tutorQuestion)
	metrics.IntentClassifications.WithLabelValues(string(res.Category), string(res.Method)).Inc()
	return res
}

func (c *Classifier) classify(ctx context.Context, text, tutorQuestion string) Result {
	category, confidence, patterns := ClassifyRules(text)
	if category != "" && confidence >= c.opts.Threshold {
		return Result{Category: category, Confidence: confidence, Method: MethodRule, MatchedPatterns: patterns}
	}

	if !c.opts.ModelFallback || c.model == nil {
		return ruleOrUnknown(category, confidence, patterns)
	}

	modelCategory, err := c.askModel(ctx, text, tutorQuestion)
	if err != nil {
		c.logger.Warn().Err(err).Msg("intent model fallback failed")
		return ruleOrUnknown(category, confidence, patterns)
	}

	switch {
	case category != "" && category == modelCategory:
		return Result{Category: category, Confidence: modelAgreesConfidence, Method: MethodModelFallback, MatchedPatterns: patterns}
	case category != "":
		return Result{Category: modelCategory, Confidence: modelDisagreeConfidence, Method: MethodModelFallback}
	default:
		return Result{Category: modelCategory, Confidence: modelOnlyConfidence, Method: MethodModelFallback}
	}
}

func ruleOrUnknown(category Category, confidence float64, patterns []string) Result {
	if category == "" {
		return Result{Category: OffTopic, Confidence: unknownConfidence, Method: MethodRule}
	}
	return Result{Category: category, Confidence: confidence, Method: MethodRule, MatchedPatterns: patterns}
}

// ClassifyRules applies the regex rules. It returns an empty category when
// nothing matched.
func ClassifyRules(text string) (Category, float64, []string) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return "", 0, nil
	}

	var (
		best      Category
		bestHits  []string
		total     int
		matchedBy int
	)
	for _, r := range rules {
		var hits []string
		for _, p := range r.patterns {
			if p.MatchString(text) {
				hits = append(hits, strings.TrimPrefix(p.String(), "(?i)"))
			}
		}
		if len(hits) == 0 {
			continue
		}
		matchedBy++
		total += len(hits)
		if len(hits) > len(bestHits) {
			best, bestHits = r.category, hits
		}
	}

	switch matchedBy {
	case 0:
		return "", 0, nil
	case 1:
		return best, singleMatchConfidence, bestHits
	default:
		return best, float64(len(bestHits)) / float64(total) * multiMatchScale, bestHits
	}
}

func (c *Classifier) askModel(ctx context.Context, text, tutorQuestion string) (Category, error) {
	query := fmt.Sprintf("User response: %q", text)
	if tutorQuestion != "" {
		query = fmt.Sprintf("Tutor's question: %q\n\n%s", tutorQuestion, query)
	}
	out, err := c.model.Generate(ctx, ai.Prompt{Mode: ai.ModeRaw, Instructions: modelPrompt, Query: query})
	if err != nil {
		return "", fmt.Errorf("classify with model failed: %w", err)
	}
	return parseModelCategory(out), nil
}

// parseModelCategory finds the first category name in the model output.
// Unrecognised output is off topic.
func parseModelCategory(out string) Category {
	upper := strings.ToUpper(ai.CleanResponse(out))
	for _, candidate := range []struct {
		label    string
		category Category
	}{
		{"AFFIRMATIVE", Affirmative},
		{"NEGATIVE", Negative},
		{"PARTIAL", Partial},
		{"QUESTION", Question},
		{"SKIP", Skip},
		{"OFF_TOPIC", OffTopic},
	} {
		if strings.Contains(upper, candidate.label) {
			return candidate.category
		}
	}
	return OffTopic
}
