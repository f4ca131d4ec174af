package ai

import (
	"context"
	"fmt"
	"strings"
)

// Mode selects how a tier adapter frames the request.
type Mode int

const (
	// ModeAnswer sends the query on its own.
	ModeAnswer Mode = iota
	// ModeContext includes cached Q&A pairs as reference material.
	ModeContext
	// ModeValidate asks the model to confirm or replace a cached answer.
	ModeValidate
	// ModeRaw sends Instructions and Query verbatim.
	ModeRaw
)

// CachedQA is a cached pair shown to the model.
type CachedQA struct {
	Question string
	Answer   string
}

// Prompt is what a tier adapter receives. Instructions, when set, replaces
// the adapter's default system prompt.
type Prompt struct {
	Mode         Mode
	Query        string
	Instructions string
	Cached       []CachedQA
}

// Generator is the capability every model tier exposes.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Completer is the subset of OpenAICompatibleClient an adapter needs.
type Completer interface {
	Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error)
}

// TierAdapter serves one model tier over an OpenAI-compatible endpoint.
type TierAdapter struct {
	name         string
	client       Completer
	cfg          ChatConfig
	systemPrompt string
}

func NewTierAdapter(name string, client Completer, cfg ChatConfig, systemPrompt string) *TierAdapter {
	return &TierAdapter{
		name:         name,
		client:       client,
		cfg:          cfg,
		systemPrompt: systemPrompt,
	}
}

func NewFastAdapter(client Completer, cfg ChatConfig) *TierAdapter {
	return NewTierAdapter("fast", client, cfg, generalSystemPrompt)
}

func NewSpecializedAdapter(client Completer, cfg ChatConfig) *TierAdapter {
	return NewTierAdapter("specialized", client, cfg, specializedSystemPrompt)
}

func NewGeneralAdapter(client Completer, cfg ChatConfig) *TierAdapter {
	return NewTierAdapter("general", client, cfg, generalSystemPrompt)
}

func (a *TierAdapter) Name() string {
	return a.name
}

func (a *TierAdapter) Generate(ctx context.Context, prompt Prompt) (string, error) {
	messages, err := a.buildMessages(prompt)
	if err != nil {
		return "", err
	}
	answer, err := a.client.Complete(ctx, a.cfg, messages)
	if err != nil {
		return "", fmt.Errorf("%s tier: %w", a.name, err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%s tier returned empty answer: %w", a.name, ErrModelUnavailable)
	}
	return answer, nil
}

func (a *TierAdapter) buildMessages(prompt Prompt) ([]ChatMessage, error) {
	query := strings.TrimSpace(prompt.Query)
	if query == "" {
		return nil, fmt.Errorf("%s tier: prompt query is empty", a.name)
	}
	system := a.systemPrompt
	if prompt.Instructions != "" {
		system = prompt.Instructions
	}

	switch prompt.Mode {
	case ModeValidate:
		if len(prompt.Cached) == 0 {
			return nil, fmt.Errorf("%s tier: validate mode needs a cached answer", a.name)
		}
		cached := prompt.Cached[0]
		user := fmt.Sprintf("User's Question: %s\n\nCached Question: %s\n\nCached Answer: %s",
			query, cached.Question, cached.Answer)
		if prompt.Instructions != "" {
			user = prompt.Instructions + "\n\n" + user
		}
		return []ChatMessage{
			{Role: "system", Content: validateOrGenerateSystemPrompt},
			{Role: "user", Content: user},
		}, nil
	case ModeContext:
		var b strings.Builder
		if prompt.Instructions != "" {
			b.WriteString(prompt.Instructions)
			b.WriteString("\n\n")
		}
		b.WriteString(contextPrefix)
		for i, c := range prompt.Cached {
			if i == maxContextPairs {
				break
			}
			fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n\n", i+1, c.Question, c.Answer)
		}
		b.WriteString(contextSuffix)
		return []ChatMessage{
			{Role: "system", Content: b.String()},
			{Role: "user", Content: query},
		}, nil
	case ModeRaw:
		messages := make([]ChatMessage, 0, 2)
		if prompt.Instructions != "" {
			messages = append(messages, ChatMessage{Role: "system", Content: prompt.Instructions})
		}
		return append(messages, ChatMessage{Role: "user", Content: query}), nil
	default:
		return []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: query},
		}, nil
	}
}
