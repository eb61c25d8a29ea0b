package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Router groups the handlers served under /api/v1. Nil handlers are not routed.
type Router struct {
	Arguments *ArgumentHandler
	Chat      *ChatHandler
	Search    *SearchHandler
	Chunks    *ChunkHandler
	Reports   *ReportHandler
	Health    *HealthHandler
}

// Register attaches every route to the engine
func (rt Router) Register(r *gin.Engine) {
	if rt.Health != nil {
		r.GET("/health", rt.Health.Health)
	}

	api := r.Group("/api/v1")
	{
		if rt.Arguments != nil {
			api.POST("/build-arguments", rt.Arguments.BuildArguments)
			api.POST("/build-arguments/stream", rt.Arguments.StreamArguments)
		}
		if rt.Chat != nil {
			api.POST("/chat", rt.Chat.Chat)
			api.POST("/chat/stream", rt.Chat.StreamChat)
			api.GET("/conversations/:id/messages", rt.Chat.GetMessages)
		}
		if rt.Search != nil {
			api.POST("/similar-cases", rt.Search.SimilarCases)
			api.GET("/topics", rt.Search.Topics)
		}
		if rt.Chunks != nil {
			api.POST("/case-chunks/search", rt.Chunks.SearchChunks)
			api.POST("/case-chunks/process", rt.Chunks.ProcessChunks)
		}
		if rt.Reports != nil {
			api.GET("/reports/:id", rt.Reports.DownloadReport)
		}
		if rt.Health != nil {
			api.GET("/metrics", rt.Health.Metrics)
		}
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
