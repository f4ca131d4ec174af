package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathtutor-gateway/internal/app"
	"mathtutor-gateway/internal/model"
	"mathtutor-gateway/internal/transport/http/response"
	"mathtutor-gateway/internal/vectorstore"
)

type fakeAdmin struct {
	seeded []app.SeedInput
}

func (f *fakeAdmin) Stats(context.Context) (app.AdminStats, error) {
	return app.AdminStats{Cache: vectorstore.Stats{Nodes: 3, Roots: 1}, Sessions: 2}, nil
}

func (f *fakeAdmin) Node(_ context.Context, id string) (*model.CacheNode, error) {
	if id != "n1" {
		return nil, fmt.Errorf("get %s: %w", id, vectorstore.ErrNotFound)
	}
	return &model.CacheNode{ID: "n1", QueryText: "q", AnswerText: "a", TierUsed: model.TierCache}, nil
}

func (f *fakeAdmin) Path(_ context.Context, id string) ([]model.CacheNode, error) {
	return []model.CacheNode{{ID: "root"}, {ID: id, ParentID: model.ParentRef("root")}}, nil
}

func (f *fakeAdmin) SeedNode(_ context.Context, input app.SeedInput) (*model.CacheNode, error) {
	if input.ParentID == "ghost" {
		return nil, fmt.Errorf("seed: %w", vectorstore.ErrParentNotFound)
	}
	f.seeded = append(f.seeded, input)
	return &model.CacheNode{ID: "new", QueryText: input.Question, AnswerText: input.Answer, TierUsed: model.TierCache}, nil
}

func (f *fakeAdmin) Reap(context.Context) int { return 4 }

func newAdminEngine(svc AdminService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewAdminHandler(svc)
	engine.GET("/stats", h.Stats)
	engine.GET("/nodes/:id", h.GetNode)
	engine.GET("/nodes/:id/path", h.GetPath)
	engine.POST("/nodes", h.SeedNode)
	engine.POST("/reap", h.Reap)
	return engine
}

func TestAdminEndpoints(t *testing.T) {
	svc := &fakeAdmin{}
	engine := newAdminEngine(svc)

	rec := doJSON(t, engine, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":2`)

	rec = doJSON(t, engine, http.MethodGet, "/nodes/n1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tier_used":"cache"`)

	rec = doJSON(t, engine, http.MethodGet, "/nodes/zz", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/nodes/n1/path", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"depth":2`)

	rec = doJSON(t, engine, http.MethodPost, "/nodes", gin.H{"question": "what is 1+1", "answer": "2"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.seeded, 1)
	assert.Equal(t, "what is 1+1", svc.seeded[0].Question)

	rec = doJSON(t, engine, http.MethodPost, "/nodes", gin.H{"question": "q", "answer": "a", "parent_id": "ghost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.CodeBadRequest, decodeEnvelope(t, rec).Code)

	rec = doJSON(t, engine, http.MethodPost, "/nodes", gin.H{"question": "q"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/reap", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reaped":4`)
}
