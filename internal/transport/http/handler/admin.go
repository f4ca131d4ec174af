package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"mathtutor-gateway/internal/app"
	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/transport/http/response"
)

type AdminService interface {
	Stats(ctx context.Context) (app.AdminStats, error)
	Node(ctx context.Context, id string) (*model.CacheNode, error)
	Path(ctx context.Context, id string) ([]model.CacheNode, error)
	SeedNode(ctx context.Context, input app.SeedInput) (*model.CacheNode, error)
	Reap(ctx context.Context) int
}

type AdminHandler struct {
	svc AdminService
}

type SeedNodeRequest struct {
	ParentID string `json:"parent_id" binding:"max=36"`
	Question string `json:"question" binding:"required"`
	Answer   string `json:"answer" binding:"required"`
}

func NewAdminHandler(svc AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err, "get stats failed")
		return
	}
	response.OK(c, stats)
}

func (h *AdminHandler) GetNode(c *gin.Context) {
	node, err := h.svc.Node(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "get node failed")
		return
	}
	response.OK(c, node)
}

func (h *AdminHandler) GetPath(c *gin.Context) {
	path, err := h.svc.Path(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "get path failed")
		return
	}
	response.OK(c, gin.H{"nodes": path, "depth": len(path)})
}

func (h *AdminHandler) SeedNode(c *gin.Context) {
	var req SeedNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	node, err := h.svc.SeedNode(c.Request.Context(), app.SeedInput{
		ParentID: req.ParentID,
		Question: req.Question,
		Answer:   req.Answer,
	})
	if err != nil {
		writeError(c, err, "seed node failed")
		return
	}
	response.OK(c, node)
}

func (h *AdminHandler) Reap(c *gin.Context) {
	response.OK(c, gin.H{"reaped": h.svc.Reap(c.Request.Context())})
}
