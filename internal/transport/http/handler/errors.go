package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mathtutor-gateway/internal/ai"
	"mathtutor-gateway/internal/app"
	"mathtutor-gateway/internal/router"
	"mathtutor-gateway/internal/session"
	"mathtutor-gateway/internal/transport/http/response"
	"mathtutor-gateway/internal/vectorstore"
)

// errorStatus maps a service error to an HTTP status, an envelope code and a
// client-safe message. fallback is used for unexpected errors.
func errorStatus(err error, fallback string) (int, int, string) {
	switch {
	case errors.Is(err, app.ErrQueryTooLong):
		return http.StatusBadRequest, response.CodeQueryTooLong, err.Error()
	case errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, vectorstore.ErrParentNotFound),
		errors.Is(err, vectorstore.ErrDimensionMismatch):
		return http.StatusBadRequest, response.CodeBadRequest, err.Error()
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, vectorstore.ErrNotFound):
		return http.StatusNotFound, response.CodeNotFound, err.Error()
	case errors.Is(err, router.ErrAllTiersFailed),
		errors.Is(err, ai.ErrEmbeddingUnavailable),
		errors.Is(err, ai.ErrModelUnavailable),
		errors.Is(err, ai.ErrModelTimeout):
		return http.StatusBadGateway, response.CodeUpstream, "upstream model unavailable, please retry"
	case errors.Is(err, vectorstore.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, response.CodeUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, response.CodeInternalServer, fallback
	}
}

func writeError(c *gin.Context, err error, fallback string) {
	status, code, message := errorStatus(err, fallback)
	writeErrorLog(c, err, status, fallback)
	response.Error(c, status, code, message)
}

func writeErrorLog(c *gin.Context, err error, status int, msg string) {
	logger := zerolog.Ctx(c.Request.Context())
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Int("status", status).Msg(msg)
}
