package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"satlegal-backend/models"

	"github.com/google/uuid"
)

// ConversationStore persists conversations and their messages
type ConversationStore interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	AddMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error)
}

const titleLength = 60

// ConversationService handles business logic for conversations
type ConversationService struct {
	store ConversationStore
}

// ConversationServiceOption is a functional option for ConversationService
type ConversationServiceOption func(*ConversationService)

// WithConversationStore sets the conversation store
func WithConversationStore(store ConversationStore) ConversationServiceOption {
	return func(s *ConversationService) {
		s.store = store
	}
}

// NewConversationService creates a new conversation service
func NewConversationService(opts ...ConversationServiceOption) *ConversationService {
	s := &ConversationService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the conversation with the given id, or starts a new one
// titled after the first message when id is nil
func (s *ConversationService) Resolve(ctx context.Context, id *uuid.UUID, firstMessage string) (*models.Conversation, error) {
	if s.store == nil {
		return nil, errors.New("conversation store not set")
	}
	if id != nil {
		return s.store.GetByID(ctx, *id)
	}

	conv := &models.Conversation{Title: conversationTitle(firstMessage)}
	if err := s.store.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// History returns up to limit earlier messages, oldest first
func (s *ConversationService) History(ctx context.Context, id uuid.UUID, limit int) ([]models.Message, error) {
	if s.store == nil {
		return nil, errors.New("conversation store not set")
	}
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id, limit)
}

// RecordTurnRequest represents one completed or abandoned chat exchange
type RecordTurnRequest struct {
	ConversationID uuid.UUID
	Question       string
	Answer         string
	RelatedCases   models.RelatedCases
	Incomplete     bool
}

// RecordTurn stores the user's message and the assistant's reply
func (s *ConversationService) RecordTurn(ctx context.Context, req RecordTurnRequest) error {
	if s.store == nil {
		return errors.New("conversation store not set")
	}

	user := &models.Message{
		ConversationID: req.ConversationID,
		Role:           models.RoleUser,
		Content:        req.Question,
	}
	if err := s.store.AddMessage(ctx, user); err != nil {
		return fmt.Errorf("failed to store user message: %w", err)
	}

	assistant := &models.Message{
		ConversationID: req.ConversationID,
		Role:           models.RoleAssistant,
		Content:        req.Answer,
		RelatedCases:   req.RelatedCases,
		Incomplete:     req.Incomplete,
	}
	if err := s.store.AddMessage(ctx, assistant); err != nil {
		return fmt.Errorf("failed to store assistant message: %w", err)
	}
	return nil
}

func conversationTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= titleLength {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:titleLength])) + "..."
}
