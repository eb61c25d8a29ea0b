package repository

import (
	"context"
	"errors"

	"satlegal-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationRepository handles database operations for conversations and
// their messages
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create creates a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (title)
		VALUES ($1)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, conv.Title).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return storeErr("insert conversation", err)
	}
	return nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	query := `
		SELECT id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&conv.ID,
		&conv.Title,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get conversation", err)
	}
	return conv, nil
}

// AddMessage appends a message and bumps the conversation's updated_at
func (r *ConversationRepository) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.RelatedCases == nil {
		msg.RelatedCases = models.RelatedCases{}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO messages (
			conversation_id, role, content, related_cases, incomplete
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err = tx.QueryRow(
		ctx, query,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		msg.RelatedCases,
		msg.Incomplete,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return storeErr("insert message", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, msg.ConversationID); err != nil {
		return storeErr("touch conversation", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// ListMessages returns up to limit of the most recent messages, oldest first
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, related_cases, incomplete, created_at
		FROM (
			SELECT id, conversation_id, role, content, related_cases, incomplete, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.Role,
			&m.Content,
			&m.RelatedCases,
			&m.Incomplete,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, storeErr("scan message", err)
		}
		// Ensure RelatedCases is never nil
		if m.RelatedCases == nil {
			m.RelatedCases = make(models.RelatedCases, 0)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate messages", err)
	}
	return messages, nil
}
