package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/transport/http/response"
)

// QueryService is the orchestrator surface used by the public API.
type QueryService interface {
	HandleQuery(ctx context.Context, sessionID, text string) (model.QueryDecision, error)
	HandleTutoringTurn(ctx context.Context, sessionID, text string) (model.TutoringDecision, error)
	Session(id string) (model.Session, error)
	EndSession(ctx context.Context, id string) error
}

type QueryHandler struct {
	svc QueryService
}

type QueryRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id" binding:"max=128"`
}

type TutoringRequest struct {
	SessionID string `json:"session_id" binding:"required,max=128"`
	Message   string `json:"message" binding:"required"`
}

func NewQueryHandler(svc QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	decision, err := h.svc.HandleQuery(c.Request.Context(), req.SessionID, req.Query)
	if err != nil {
		writeError(c, err, "answer query failed")
		return
	}
	response.OK(c, decision)
}

func (h *QueryHandler) Tutoring(c *gin.Context) {
	var req TutoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	decision, err := h.svc.HandleTutoringTurn(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(c, err, "tutoring turn failed")
		return
	}
	response.OK(c, decision)
}

func (h *QueryHandler) GetSession(c *gin.Context) {
	state, err := h.svc.Session(c.Param("id"))
	if err != nil {
		writeError(c, err, "get session failed")
		return
	}
	response.OK(c, state)
}

func (h *QueryHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.EndSession(c.Request.Context(), id); err != nil {
		writeError(c, err, "delete session failed")
		return
	}
	response.OK(c, gin.H{"deleted_session_id": id})
}
