package handlers

import (
	"context"
	"net/http"
	"strings"

	"satlegal-backend/models"
	"satlegal-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const historyLimit = 10

// Chatter answers chat messages
type Chatter interface {
	Chat(ctx context.Context, req service.ChatRequest, onDelta func(string)) (*service.ChatResult, error)
}

// Conversations stores chat history
type Conversations interface {
	Resolve(ctx context.Context, id *uuid.UUID, firstMessage string) (*models.Conversation, error)
	History(ctx context.Context, id uuid.UUID, limit int) ([]models.Message, error)
	RecordTurn(ctx context.Context, req service.RecordTurnRequest) error
}

// ChatHandler handles HTTP requests for chat and conversation history
type ChatHandler struct {
	chat          Chatter
	conversations Conversations
	logger        *zap.Logger
}

// NewChatHandler creates a new chat handler. conversations may be nil, in
// which case chat is stateless.
func NewChatHandler(chat Chatter, conversations Conversations, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{chat: chat, conversations: conversations, logger: logger}
}

// ChatRequest represents the request body for a chat message
type ChatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"llm_model"`
}

// ChatResponse is the data of a chat answer
type ChatResponse struct {
	*service.ChatResult
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
}

// prepare binds the request and loads the conversation and its history
func (h *ChatHandler) prepare(c *gin.Context) (service.ChatRequest, *models.Conversation, bool) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return service.ChatRequest{}, nil, false
	}
	out := service.ChatRequest{Message: req.Message, Model: req.Model}

	if h.conversations == nil {
		return out, nil, true
	}

	var id *uuid.UUID
	if req.ConversationID != "" {
		parsed, err := uuid.Parse(req.ConversationID)
		if err != nil {
			respondError(c, http.StatusBadRequest, models.CodeInvalidInput, "Invalid conversation_id format")
			return out, nil, false
		}
		id = &parsed
	}

	ctx := c.Request.Context()
	conv, err := h.conversations.Resolve(ctx, id, req.Message)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return out, nil, false
	}
	if id != nil {
		history, err := h.conversations.History(ctx, conv.ID, historyLimit)
		if err != nil {
			respondServiceError(c, h.logger, err)
			return out, nil, false
		}
		out.History = history
	}
	return out, conv, true
}

func (h *ChatHandler) record(conv *models.Conversation, question, answer string, related models.RelatedCases, incomplete bool) {
	if conv == nil {
		return
	}
	// the request context may already be cancelled
	err := h.conversations.RecordTurn(context.Background(), service.RecordTurnRequest{
		ConversationID: conv.ID,
		Question:       question,
		Answer:         answer,
		RelatedCases:   related,
		Incomplete:     incomplete,
	})
	if err != nil {
		h.logger.Warn("failed to record chat turn", zap.String("conversation_id", conv.ID.String()), zap.Error(err))
	}
}

func conversationID(conv *models.Conversation) *uuid.UUID {
	if conv == nil {
		return nil
	}
	return &conv.ID
}

// Chat handles POST /api/v1/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	req, conv, ok := h.prepare(c)
	if !ok {
		return
	}

	res, err := h.chat.Chat(c.Request.Context(), req, nil)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	h.record(conv, req.Message, res.Answer, res.RelatedCases, false)

	respondOK(c, http.StatusOK, ChatResponse{ChatResult: res, ConversationID: conversationID(conv)})
}

// StreamChat handles POST /api/v1/chat/stream. Text arrives as "delta"
// events followed by one "result" or "error" event.
func (h *ChatHandler) StreamChat(c *gin.Context) {
	req, conv, ok := h.prepare(c)
	if !ok {
		return
	}

	startSSE(c)
	var streamed strings.Builder
	res, err := h.chat.Chat(c.Request.Context(), req, func(delta string) {
		streamed.WriteString(delta)
		sendEvent(c, "delta", gin.H{"text": delta})
	})
	if err != nil {
		if c.Request.Context().Err() != nil {
			if streamed.Len() > 0 {
				h.record(conv, req.Message, streamed.String(), nil, true)
			}
			return
		}
		sendEvent(c, "error", errorEvent(err))
		return
	}
	h.record(conv, req.Message, res.Answer, res.RelatedCases, false)

	sendEvent(c, "result", ChatResponse{ChatResult: res, ConversationID: conversationID(conv)})
}

// GetMessages handles GET /api/v1/conversations/:id/messages
func (h *ChatHandler) GetMessages(c *gin.Context) {
	if h.conversations == nil {
		respondError(c, http.StatusNotFound, models.CodeNotFound, "Conversations are not enabled")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidInput, "Invalid conversation ID format")
		return
	}

	messages, err := h.conversations.History(c.Request.Context(), id, 100)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, messages)
}
