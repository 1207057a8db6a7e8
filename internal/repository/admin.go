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

// AdminRepository handles admin accounts and dashboard queries
type AdminRepository struct {
	db *pgxpool.Pool
}

// NewAdminRepository creates a new admin repository
func NewAdminRepository(db *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{db: db}
}

// Create creates an admin account
func (r *AdminRepository) Create(ctx context.Context, a *models.AdminUser) error {
	query := `INSERT INTO admin_users (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.Exec(ctx, query, a.ID, a.Username, a.PasswordHash, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("admin %s: %w", a.Username, apperrors.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

// GetByUsername retrieves an admin by username
func (r *AdminRepository) GetByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	query := `SELECT id, username, password_hash, created_at, last_login FROM admin_users WHERE username = $1`
	var a models.AdminUser
	err := r.db.QueryRow(ctx, query, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt, &a.LastLogin)
	if err != nil {
		return nil, notFound(err, "admin")
	}
	return &a, nil
}

// TouchLastLogin records a successful admin login
func (r *AdminRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE admin_users SET last_login = $1 WHERE id = $2`, at, id); err != nil {
		return fmt.Errorf("failed to update admin last login: %w", err)
	}
	return nil
}

// Stats computes dashboard counters
func (r *AdminRepository) Stats(ctx context.Context, now time.Time) (*models.Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE paid_until > $1),
			(SELECT COUNT(*) FROM users WHERE is_blocked),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM flagged_conversations WHERE NOT reviewed),
			(SELECT COUNT(*) FROM critical_words)
	`
	var s models.Stats
	err := r.db.QueryRow(ctx, query, now).Scan(
		&s.TotalUsers, &s.ActiveUsers, &s.BlockedUsers,
		&s.TotalMessages, &s.FlaggedConversations, &s.CriticalWords,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return &s, nil
}
