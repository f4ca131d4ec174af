package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ModelID is the single logical model exposed on the OpenAI-compatible API.
const ModelID = "math-tutor"

const greetingReply = "Hello! I'm your math tutor. I can help with algebra, geometry, calculus, " +
	"trigonometry, and more. What would you like to work on?"

var greetings = map[string]struct{}{
	"hello": {}, "hi": {}, "hey": {}, "good morning": {}, "good evening": {},
	"good afternoon": {}, "thanks": {}, "thank you": {}, "bye": {}, "goodbye": {},
}

// OpenAIHandler serves the chat completions API so OpenAI clients can talk
// to the gateway. A conversation is keyed by its first user message: the first
// turn is a query and every later turn is a tutoring turn.
type OpenAIHandler struct {
	svc QueryService
	now func() time.Time
}

type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model    string                  `json:"model"`
	Messages []ChatCompletionMessage `json:"messages" binding:"required,min=1"`
	User     string                  `json:"user"`
}

type ChatCompletionChoice struct {
	Index        int                   `json:"index"`
	Message      ChatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func NewOpenAIHandler(svc QueryService) *OpenAIHandler {
	return &OpenAIHandler{svc: svc, now: time.Now}
}

func (h *OpenAIHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []modelEntry{{
			ID:      ModelID,
			Object:  "model",
			Created: h.now().Unix(),
			OwnedBy: "mathtutor-gateway",
		}},
	})
}

func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		openAIError(c, http.StatusBadRequest, "invalid_request_error", "invalid request payload")
		return
	}

	userTurns := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			userTurns = append(userTurns, m.Content)
		}
	}
	if len(userTurns) == 0 {
		openAIError(c, http.StatusBadRequest, "invalid_request_error", "no user message found in request")
		return
	}
	last := userTurns[len(userTurns)-1]

	if isGreeting(last) {
		h.reply(c, req.Model, greetingReply)
		return
	}

	ctx := c.Request.Context()
	sessionID := conversationKey(req.User, userTurns[0])
	if len(userTurns) == 1 {
		decision, err := h.svc.HandleQuery(ctx, sessionID, last)
		if err != nil {
			h.fail(c, err)
			return
		}
		h.reply(c, req.Model, decision.Answer)
		return
	}

	decision, err := h.svc.HandleTutoringTurn(ctx, sessionID, last)
	if err != nil {
		h.fail(c, err)
		return
	}
	content := decision.Answer
	if decision.NextPrompt != "" {
		content += "\n\n" + decision.NextPrompt
	}
	h.reply(c, req.Model, content)
}

func (h *OpenAIHandler) reply(c *gin.Context, requested, content string) {
	model := requested
	if model == "" {
		model = ModelID
	}
	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Object:  "chat.completion",
		Created: h.now().Unix(),
		Model:   model,
		Choices: []ChatCompletionChoice{{
			Message:      ChatCompletionMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	})
}

func (h *OpenAIHandler) fail(c *gin.Context, err error) {
	status, _, message := errorStatus(err, "chat completion failed")
	writeErrorLog(c, err, status, "chat completion failed")
	kind := "server_error"
	if status < http.StatusInternalServerError {
		kind = "invalid_request_error"
	}
	openAIError(c, status, kind, message)
}

func openAIError(c *gin.Context, status int, kind, message string) {
	c.JSON(status, gin.H{"error": gin.H{"message": message, "type": kind}})
}

func isGreeting(text string) bool {
	normalized := strings.TrimRight(strings.ToLower(strings.TrimSpace(text)), "!.,?")
	_, ok := greetings[normalized]
	return ok
}

// conversationKey derives a stable session id for a chat. user, when sent by
// the client, separates identical openings from different people.
func conversationKey(user, firstMessage string) string {
	sum := sha256.Sum256([]byte(user + "\x00" + strings.TrimSpace(firstMessage)))
	return "chat-" + hex.EncodeToString(sum[:8])
}
