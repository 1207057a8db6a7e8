package repository

import (
	"context"
	"fmt"
	"time"

	"chat-gateway/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

const fileColumns = `id, owner_id, recipient_id, file_name, file_size, content_type, s3_key, expires_at, created_at`

// FileRepository handles database operations for temporary files
type FileRepository struct {
	db *pgxpool.Pool
}

// NewFileRepository creates a new file repository
func NewFileRepository(db *pgxpool.Pool) *FileRepository {
	return &FileRepository{db: db}
}

func scanFile(row rowScanner) (*models.File, error) {
	var f models.File
	err := row.Scan(
		&f.ID, &f.OwnerID, &f.RecipientID, &f.FileName, &f.FileSize,
		&f.ContentType, &f.S3Key, &f.ExpiresAt, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Create creates a new file record
func (r *FileRepository) Create(ctx context.Context, f *models.File) error {
	query := `INSERT INTO files (` + fileColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, query,
		f.ID, f.OwnerID, f.RecipientID, f.FileName, f.FileSize,
		f.ContentType, f.S3Key, f.ExpiresAt, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

// GetByID retrieves a file by ID
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	f, err := scanFile(r.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "file")
	}
	return f, nil
}

// ListExpired returns files whose expiry has passed
func (r *FileRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE expires_at < $1 ORDER BY expires_at LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired files: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	return files, nil
}

// Delete removes a file record
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
