package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"chat-gateway/internal/apperrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables the gateway needs. It is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// notFound converts pgx.ErrNoRows into the domain not-found error
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s not found: %w", what, apperrors.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
