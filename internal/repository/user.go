package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, phone, display_name, password_hash, push_token, is_blocked,
	blocked_reason, paid_until, created_at, last_login`

// UserRepository handles database operations for users
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Phone, &user.DisplayName, &user.PasswordHash, &user.PushToken,
		&user.IsBlocked, &user.BlockedReason, &user.PaidUntil, &user.CreatedAt, &user.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, phone, display_name, password_hash, paid_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.Phone, user.DisplayName, user.PasswordHash, user.PaidUntil, user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("phone already registered: %w", apperrors.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

// GetByPhone retrieves a user by phone number
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, phone))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	query := `UPDATE users SET push_token = $1 WHERE id = $2`
	_, err := r.db.Exec(ctx, query, pushToken, userID)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}

// TouchLastLogin records a successful login
func (r *UserRepository) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// SetBlocked blocks the given users with a reason and returns how many rows changed
func (r *UserRepository) SetBlocked(ctx context.Context, userIDs []string, reason string) (int64, error) {
	query := `UPDATE users SET is_blocked = TRUE, blocked_reason = $1 WHERE id = ANY($2)`
	result, err := r.db.Exec(ctx, query, reason, userIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to block users: %w", err)
	}
	return result.RowsAffected(), nil
}

// Unblock clears the block flag and reason
func (r *UserRepository) Unblock(ctx context.Context, userID string) error {
	query := `UPDATE users SET is_blocked = FALSE, blocked_reason = NULL WHERE id = $1`
	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to unblock user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %w", apperrors.ErrNotFound)
	}
	return nil
}

// SetPaidUntil overwrites the subscription expiry
func (r *UserRepository) SetPaidUntil(ctx context.Context, userID string, paidUntil time.Time) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET paid_until = $1 WHERE id = $2`, paidUntil, userID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %w", apperrors.ErrNotFound)
	}
	return nil
}
