package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole is the author of a conversation message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Conversation groups messages exchanged about one matter
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single turn in a conversation
type Message struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	Role           MessageRole  `json:"role"`
	Content        string       `json:"content"`
	RelatedCases   RelatedCases `json:"related_cases,omitempty"`
	Incomplete     bool         `json:"incomplete,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
