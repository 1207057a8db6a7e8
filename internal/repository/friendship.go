package repository

import (
	"context"
	"fmt"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// FriendshipRepository handles database operations for friendships
type FriendshipRepository struct {
	db *pgxpool.Pool
}

// NewFriendshipRepository creates a new friendship repository
func NewFriendshipRepository(db *pgxpool.Pool) *FriendshipRepository {
	return &FriendshipRepository{db: db}
}

// Create inserts a canonical pair. Inserting an existing pair is a no-op.
func (r *FriendshipRepository) Create(ctx context.Context, f *models.Friendship) error {
	query := `
		INSERT INTO friendships (user_a_id, user_b_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_a_id, user_b_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, f.UserAID, f.UserBID, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create friendship: %w", err)
	}
	return nil
}

// Delete removes a canonical pair
func (r *FriendshipRepository) Delete(ctx context.Context, userAID, userBID string) error {
	query := `DELETE FROM friendships WHERE user_a_id = $1 AND user_b_id = $2`
	result, err := r.db.Exec(ctx, query, userAID, userBID)
	if err != nil {
		return fmt.Errorf("failed to delete friendship: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("friendship not found: %w", apperrors.ErrNotFound)
	}
	return nil
}

// Authorized reports whether the canonical pair exists and neither side is blocked
func (r *FriendshipRepository) Authorized(ctx context.Context, userAID, userBID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1
			FROM friendships f
			JOIN users ua ON ua.id = f.user_a_id
			JOIN users ub ON ub.id = f.user_b_id
			WHERE f.user_a_id = $1 AND f.user_b_id = $2
			  AND NOT ua.is_blocked AND NOT ub.is_blocked
		)
	`
	var ok bool
	if err := r.db.QueryRow(ctx, query, userAID, userBID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return ok, nil
}

// ListContacts returns the friends of a user
func (r *FriendshipRepository) ListContacts(ctx context.Context, userID string) ([]*models.Contact, error) {
	query := `
		SELECT u.id, u.phone, u.display_name, f.created_at
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.user_a_id = $1 THEN f.user_b_id ELSE f.user_a_id END
		WHERE f.user_a_id = $1 OR f.user_b_id = $1
		ORDER BY u.display_name, u.phone
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.UserID, &c.Phone, &c.DisplayName, &c.Since); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}
	return contacts, nil
}
