package repository

import (
	"context"
	"fmt"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository handles database operations for messages and their flags
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message and, when it is flagged, its flagged conversation
// row in the same transaction. msg.ID is set on success.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO messages (from_id, to_id, text, flagged, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err = tx.QueryRow(ctx, query, msg.FromID, msg.ToID, msg.Text, msg.Flagged, msg.CreatedAt).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	if msg.Flagged {
		a, b := models.CanonicalPair(msg.FromID, msg.ToID)
		flagQuery := `
			INSERT INTO flagged_conversations (user_a_id, user_b_id, message_id, flagged_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, flagQuery, a, b, msg.ID, msg.CreatedAt); err != nil {
			return fmt.Errorf("failed to flag conversation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `
		SELECT id, from_id, to_id, text, flagged, created_at, read_at
		FROM messages
		WHERE id = $1
	`
	var m models.Message
	err := r.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.FromID, &m.ToID, &m.Text, &m.Flagged, &m.CreatedAt, &m.ReadAt,
	)
	if err != nil {
		return nil, notFound(err, "message")
	}
	return &m, nil
}

// History returns up to limit messages between two users, oldest first.
// When before is set only messages with a smaller id are returned.
func (r *MessageRepository) History(ctx context.Context, userA, userB string, limit int, before *int64) ([]*models.Message, error) {
	a, b := models.CanonicalPair(userA, userB)
	query := `
		SELECT id, from_id, to_id, text, flagged, created_at, read_at
		FROM messages
		WHERE LEAST(from_id, to_id) = $1 AND GREATEST(from_id, to_id) = $2
		  AND ($3::BIGINT IS NULL OR id < $3)
		ORDER BY id DESC
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, a, b, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.FromID, &m.ToID, &m.Text, &m.Flagged, &m.CreatedAt, &m.ReadAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead sets read_at on unread messages sent by counterpart to userID
func (r *MessageRepository) MarkRead(ctx context.Context, userID, counterpart string, at time.Time) (int64, error) {
	query := `
		UPDATE messages SET read_at = $1
		WHERE to_id = $2 AND from_id = $3 AND read_at IS NULL
	`
	result, err := r.db.Exec(ctx, query, at, userID, counterpart)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return result.RowsAffected(), nil
}

// UpdateText overwrites a message's text
func (r *MessageRepository) UpdateText(ctx context.Context, id int64, text string) error {
	result, err := r.db.Exec(ctx, `UPDATE messages SET text = $1 WHERE id = $2`, text, id)
	if err != nil {
		return fmt.Errorf("failed to update message text: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("message not found: %w", apperrors.ErrNotFound)
	}
	return nil
}
