package repository

import (
	"context"
	"fmt"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CriticalWordRepository handles database operations for critical words
type CriticalWordRepository struct {
	db *pgxpool.Pool
}

// NewCriticalWordRepository creates a new critical word repository
func NewCriticalWordRepository(db *pgxpool.Pool) *CriticalWordRepository {
	return &CriticalWordRepository{db: db}
}

// List returns all critical words ordered alphabetically
func (r *CriticalWordRepository) List(ctx context.Context) ([]*models.CriticalWord, error) {
	rows, err := r.db.Query(ctx, `SELECT id, word, created_at FROM critical_words ORDER BY word`)
	if err != nil {
		return nil, fmt.Errorf("failed to list critical words: %w", err)
	}
	defer rows.Close()

	var words []*models.CriticalWord
	for rows.Next() {
		var w models.CriticalWord
		if err := rows.Scan(&w.ID, &w.Word, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan critical word: %w", err)
		}
		words = append(words, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating critical words: %w", err)
	}
	return words, nil
}

// Add inserts a word if it is not present yet
func (r *CriticalWordRepository) Add(ctx context.Context, word string) error {
	query := `INSERT INTO critical_words (word) VALUES ($1) ON CONFLICT (word) DO NOTHING`
	if _, err := r.db.Exec(ctx, query, word); err != nil {
		return fmt.Errorf("failed to add critical word: %w", err)
	}
	return nil
}

// Delete removes a word by ID
func (r *CriticalWordRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM critical_words WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete critical word: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("critical word not found: %w", apperrors.ErrNotFound)
	}
	return nil
}
