package repository

import (
	"context"
	"fmt"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository handles database operations for sessions
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session. The insert only happens while the user is
// not blocked; the user row is share-locked so a concurrent block either
// waits for the insert or is seen by it.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (token, user_id, device_kind, expires_at, created_at)
		SELECT $1::text, u.id, $3::text, $4::timestamptz, $5::timestamptz
		FROM (SELECT id FROM users WHERE id = $2 AND NOT is_blocked FOR SHARE) u
	`
	result, err := r.db.Exec(ctx, query, s.Token, s.UserID, s.DeviceKind, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrIdentityBlocked
	}
	return nil
}

// GetByToken retrieves a session by its token
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT token, user_id, device_kind, expires_at, created_at
		FROM sessions
		WHERE token = $1
	`
	var s models.Session
	err := r.db.QueryRow(ctx, query, token).Scan(
		&s.Token, &s.UserID, &s.DeviceKind, &s.ExpiresAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "session")
	}
	return &s, nil
}

// Delete removes a session by token
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUser removes every session of a user and returns the revoked tokens
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `DELETE FROM sessions WHERE user_id = $1 RETURNING token`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan session token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return tokens, nil
}

// DeleteExpired removes sessions that expired before now
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}
