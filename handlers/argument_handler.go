package handlers

import (
	"context"
	"errors"
	"net/http"

	"satlegal-backend/models"
	"satlegal-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ArgumentBuilder builds legal arguments for a case
type ArgumentBuilder interface {
	BuildArguments(ctx context.Context, req service.BuildArgumentsRequest, obs service.Observer) (*models.GenerationResult, error)
}

// ReportArchiver stores generated arguments for later download
type ReportArchiver interface {
	Archive(ctx context.Context, req service.ArchiveRequest) (*models.ArgumentReport, error)
}

// ArgumentHandler handles HTTP requests for argument generation
type ArgumentHandler struct {
	builder       ArgumentBuilder
	archiver      ReportArchiver
	conversations Conversations
	logger        *zap.Logger
}

// NewArgumentHandler creates a new argument handler. archiver may be nil
// when report archiving is disabled, conversations when generations are
// not kept as conversation turns.
func NewArgumentHandler(builder ArgumentBuilder, archiver ReportArchiver, conversations Conversations, logger *zap.Logger) *ArgumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArgumentHandler{builder: builder, archiver: archiver, conversations: conversations, logger: logger}
}

// BuildArgumentsRequest represents the request body for argument generation
type BuildArgumentsRequest struct {
	CaseContent    string `json:"case_content" binding:"required"`
	CaseTitle      string `json:"case_title"`
	CaseTopic      string `json:"case_topic"`
	Model          string `json:"llm_model"`
	UseSingleCall  bool   `json:"use_single_call"`
	Archive        bool   `json:"archive"`
	ConversationID string `json:"conversation_id"`
}

func (r BuildArgumentsRequest) toService() service.BuildArgumentsRequest {
	return service.BuildArgumentsRequest{
		CaseContent:   r.CaseContent,
		CaseTitle:     r.CaseTitle,
		CaseTopic:     r.CaseTopic,
		Model:         r.Model,
		UseSingleCall: r.UseSingleCall,
	}
}

// question is the user turn stored for a generation
func (r BuildArgumentsRequest) question() string {
	if r.CaseTitle == "" {
		return r.CaseContent
	}
	return r.CaseTitle + "\n\n" + r.CaseContent
}

// BuildArgumentsResponse is the data of a successful generation
type BuildArgumentsResponse struct {
	*models.GenerationResult
	ReportID       *uuid.UUID `json:"report_id,omitempty"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
}

// bind parses the request and resolves the conversation it belongs to,
// starting a new one when none is given
func (h *ArgumentHandler) bind(c *gin.Context) (BuildArgumentsRequest, *uuid.UUID, bool) {
	var req BuildArgumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return req, nil, false
	}
	var id *uuid.UUID
	if req.ConversationID != "" {
		parsed, err := uuid.Parse(req.ConversationID)
		if err != nil {
			respondError(c, http.StatusBadRequest, models.CodeInvalidInput, "Invalid conversation_id format")
			return req, nil, false
		}
		id = &parsed
	}
	if h.conversations == nil {
		return req, id, true
	}

	firstMessage := req.CaseTitle
	if firstMessage == "" {
		firstMessage = req.CaseContent
	}
	conv, err := h.conversations.Resolve(c.Request.Context(), id, firstMessage)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return req, nil, false
	}
	return req, &conv.ID, true
}

func (h *ArgumentHandler) record(conversationID *uuid.UUID, req BuildArgumentsRequest, res *models.GenerationResult) {
	if h.conversations == nil || conversationID == nil {
		return
	}
	// the request context may already be cancelled
	err := h.conversations.RecordTurn(context.Background(), service.RecordTurnRequest{
		ConversationID: *conversationID,
		Question:       req.question(),
		Answer:         res.FinalText,
		RelatedCases:   res.RelatedCases,
	})
	if err != nil {
		h.logger.Warn("failed to record argument turn", zap.String("conversation_id", conversationID.String()), zap.Error(err))
	}
}

// archive stores the result when requested. Failures are logged, never returned.
func (h *ArgumentHandler) archive(ctx context.Context, req BuildArgumentsRequest, conversationID *uuid.UUID, res *models.GenerationResult) *uuid.UUID {
	if !req.Archive || h.archiver == nil {
		return nil
	}
	report, err := h.archiver.Archive(ctx, service.ArchiveRequest{
		ConversationID: conversationID,
		CaseTitle:      req.CaseTitle,
		Result:         res,
	})
	if err != nil {
		h.logger.Warn("failed to archive report", zap.Error(err))
		return nil
	}
	return &report.ID
}

// BuildArguments handles POST /api/v1/build-arguments
func (h *ArgumentHandler) BuildArguments(c *gin.Context) {
	req, conversationID, ok := h.bind(c)
	if !ok {
		return
	}

	res, err := h.builder.BuildArguments(c.Request.Context(), req.toService(), service.Observer{})
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	h.record(conversationID, req, res)

	respondOK(c, http.StatusOK, BuildArgumentsResponse{
		GenerationResult: res,
		ReportID:         h.archive(c.Request.Context(), req, conversationID, res),
		ConversationID:   conversationID,
	})
}

// StreamArguments handles POST /api/v1/build-arguments/stream. Each finished
// step is sent as a "step" event and text as "delta" events, followed by a
// single "result" or "error" event.
func (h *ArgumentHandler) StreamArguments(c *gin.Context) {
	req, conversationID, ok := h.bind(c)
	if !ok {
		return
	}

	startSSE(c)
	obs := service.Observer{
		OnStep: func(step models.ReasoningStepOutput) {
			sendEvent(c, "step", step)
		},
		OnDelta: func(step, delta string) {
			sendEvent(c, "delta", gin.H{"step": step, "text": delta})
		},
	}

	res, err := h.builder.BuildArguments(c.Request.Context(), req.toService(), obs)
	if err != nil {
		var incomplete *service.IncompleteError
		if errors.As(err, &incomplete) {
			h.logger.Info("client abandoned argument stream", zap.Int("completed_steps", len(incomplete.Steps)))
			return
		}
		h.logger.Warn("argument stream failed", zap.Error(err))
		sendEvent(c, "error", errorEvent(err))
		return
	}

	h.record(conversationID, req, res)

	sendEvent(c, "result", BuildArgumentsResponse{
		GenerationResult: res,
		ReportID:         h.archive(c.Request.Context(), req, conversationID, res),
		ConversationID:   conversationID,
	})
}
