package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mathtutor-gateway/internal/bootstrap"
	"mathtutor-gateway/internal/pkg/jwtutil"
	"mathtutor-gateway/internal/transport/http/handler"
	"mathtutor-gateway/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestContext(app.Logger), middleware.AccessLog())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	queryHandler := handler.NewQueryHandler(app.Query)
	adminHandler := handler.NewAdminHandler(app.Admin)
	openAIHandler := handler.NewOpenAIHandler(app.Query)

	openai := router.Group("/v1")
	openai.GET("/models", openAIHandler.ListModels)
	openai.POST("/chat/completions", openAIHandler.ChatCompletions)

	v1 := router.Group("/api/v1")
	v1.POST("/query", queryHandler.Query)
	v1.POST("/tutoring", queryHandler.Tutoring)
	v1.GET("/sessions/:id", queryHandler.GetSession)
	v1.DELETE("/sessions/:id", queryHandler.DeleteSession)

	adminGroup := v1.Group("/admin")
	adminGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret, jwtutil.RoleAdmin))
	adminGroup.GET("/stats", adminHandler.Stats)
	adminGroup.GET("/nodes/:id", adminHandler.GetNode)
	adminGroup.GET("/nodes/:id/path", adminHandler.GetPath)
	adminGroup.POST("/nodes", adminHandler.SeedNode)
	adminGroup.POST("/sessions/reap", adminHandler.Reap)

	return router
}
