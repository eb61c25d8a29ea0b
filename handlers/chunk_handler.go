package handlers

import (
	"context"
	"net/http"

	"satlegal-backend/models"
	"satlegal-backend/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChunkSearcher looks up reasons passages
type ChunkSearcher interface {
	SimilarChunks(ctx context.Context, req service.SimilarChunksRequest) ([]service.ChunkMatch, error)
}

// ChunkProcessor rebuilds the chunks of a decision
type ChunkProcessor interface {
	Process(ctx context.Context, req service.ProcessChunksRequest) (*service.ProcessChunksResult, error)
}

// ChunkHandler handles HTTP requests for passage-level search and chunking
type ChunkHandler struct {
	search    ChunkSearcher
	processor ChunkProcessor
	logger    *zap.Logger
}

// NewChunkHandler creates a new chunk handler. processor may be nil, in
// which case chunks are read-only over HTTP.
func NewChunkHandler(search ChunkSearcher, processor ChunkProcessor, logger *zap.Logger) *ChunkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChunkHandler{search: search, processor: processor, logger: logger}
}

// ChunkSearchRequest represents the request body for chunk search
type ChunkSearchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit" binding:"omitempty,min=1"`
	Topic string `json:"case_topic"`
}

// ChunkProcessRequest represents the request body for re-chunking a decision
type ChunkProcessRequest struct {
	CaseID       int64  `json:"case_id" binding:"required,min=1"`
	Content      string `json:"content" binding:"required"`
	ChunkSize    int    `json:"chunk_size" binding:"omitempty,min=1"`
	ChunkOverlap int    `json:"chunk_overlap" binding:"omitempty,min=0"`
}

// SearchChunks handles POST /api/v1/case-chunks/search
func (h *ChunkHandler) SearchChunks(c *gin.Context) {
	var req ChunkSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return
	}
	if req.Limit > maxSimilarLimit {
		req.Limit = maxSimilarLimit
	}

	results, err := h.search.SimilarChunks(c.Request.Context(), service.SimilarChunksRequest{
		Query: req.Query,
		Topic: req.Topic,
		Limit: req.Limit,
	})
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	if results == nil {
		results = []service.ChunkMatch{}
	}

	respondOK(c, http.StatusOK, gin.H{
		"results":       results,
		"total_results": len(results),
	})
}

// ProcessChunks handles POST /api/v1/case-chunks/process
func (h *ChunkHandler) ProcessChunks(c *gin.Context) {
	if h.processor == nil {
		respondError(c, http.StatusNotFound, models.CodeNotFound, "Chunk processing is not enabled")
		return
	}
	var req ChunkProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return
	}

	res, err := h.processor.Process(c.Request.Context(), service.ProcessChunksRequest{
		CaseID:  req.CaseID,
		Content: req.Content,
		Size:    req.ChunkSize,
		Overlap: req.ChunkOverlap,
	})
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}
