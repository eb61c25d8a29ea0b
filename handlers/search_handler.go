package handlers

import (
	"context"
	"net/http"

	"satlegal-backend/models"
	"satlegal-backend/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxSimilarLimit = 50

// CaseSearcher looks up similar decisions and the topics they are filed under
type CaseSearcher interface {
	SimilarCases(ctx context.Context, req service.SimilarCasesRequest) (models.RelatedCases, error)
	Topics(ctx context.Context) ([]string, error)
}

// SearchHandler handles HTTP requests for similar-case search
type SearchHandler struct {
	search CaseSearcher
	logger *zap.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(search CaseSearcher, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{search: search, logger: logger}
}

// SimilarCasesRequest represents the request body for similar-case search
type SimilarCasesRequest struct {
	Description   string `json:"case_description" binding:"required"`
	Topic         string `json:"case_topic"`
	Limit         int    `json:"limit" binding:"omitempty,min=1"`
	IncludeChunks bool   `json:"include_chunks"`
}

// SimilarCases handles POST /api/v1/similar-cases
func (h *SearchHandler) SimilarCases(c *gin.Context) {
	var req SimilarCasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return
	}
	if req.Limit > maxSimilarLimit {
		req.Limit = maxSimilarLimit
	}

	cases, err := h.search.SimilarCases(c.Request.Context(), service.SimilarCasesRequest{
		Description:   req.Description,
		Topic:         req.Topic,
		Limit:         req.Limit,
		IncludeChunks: req.IncludeChunks,
	})
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	if cases == nil {
		cases = models.RelatedCases{}
	}

	respondOK(c, http.StatusOK, gin.H{
		"similar_cases": cases,
		"count":         len(cases),
	})
}

// Topics handles GET /api/v1/topics
func (h *SearchHandler) Topics(c *gin.Context) {
	topics, err := h.search.Topics(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"topics": topics})
}
