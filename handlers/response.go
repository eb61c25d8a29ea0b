package handlers

import (
	"errors"
	"net/http"

	"satlegal-backend/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusClientClosedRequest is the de facto status for requests the client abandoned
const statusClientClosedRequest = 499

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// errorStatus maps an error kind to its HTTP status
func errorStatus(code string) int {
	switch code {
	case models.CodeInvalidInput:
		return http.StatusBadRequest
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeEmbeddingFailure, models.CodeGenerationFailure:
		return http.StatusBadGateway
	case models.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case models.CodeCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes the envelope for an error returned by a service
func respondServiceError(c *gin.Context, logger *zap.Logger, err error) {
	code := models.ErrorCode(err)
	status := errorStatus(code)
	if status >= http.StatusInternalServerError && !errors.Is(err, models.ErrStoreUnavailable) {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	} else {
		logger.Warn("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	respondError(c, status, code, err.Error())
}

// errorEvent is the payload of an SSE error event
func errorEvent(err error) gin.H {
	return gin.H{
		"code":    models.ErrorCode(err),
		"message": err.Error(),
	}
}

// startSSE prepares the response for server-sent events
func startSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

func sendEvent(c *gin.Context, event string, data any) {
	c.SSEvent(event, data)
	c.Writer.Flush()
}
