package models

import (
	"time"

	"github.com/google/uuid"
)

// ArgumentReport is an archived copy of generated arguments
type ArgumentReport struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID *uuid.UUID     `json:"conversation_id,omitempty"`
	CaseTitle      string         `json:"case_title"`
	Mode           GenerationMode `json:"mode"`
	Model          string         `json:"model"`
	Filename       string         `json:"filename"`
	Size           int64          `json:"size"`
	StoragePath    string         `json:"storage_path"`
	CreatedAt      time.Time      `json:"created_at"`
}
