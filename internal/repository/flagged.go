package repository

import (
	"context"
	"fmt"
	"strings"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// FlaggedQuery selects review-queue rows
type FlaggedQuery struct {
	Reviewed     bool
	Search       string
	UserID       string
	SortByVolume bool
	Limit        int
	Offset       int
}

// FlaggedRepository handles database operations for flagged conversations
type FlaggedRepository struct {
	db *pgxpool.Pool
}

// NewFlaggedRepository creates a new flagged conversation repository
func NewFlaggedRepository(db *pgxpool.Pool) *FlaggedRepository {
	return &FlaggedRepository{db: db}
}

// likeEscaper makes admin search text match literally inside ILIKE
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (q FlaggedQuery) where() (string, []any) {
	conds := []string{"fc.reviewed = $1"}
	args := []any{q.Reviewed}

	if q.Search != "" {
		args = append(args, "%"+likeEscaper.Replace(q.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			`(ua.phone ILIKE $%[1]d ESCAPE '\' OR ua.display_name ILIKE $%[1]d ESCAPE '\'`+
				` OR ub.phone ILIKE $%[1]d ESCAPE '\' OR ub.display_name ILIKE $%[1]d ESCAPE '\')`,
			n))
	}
	if q.UserID != "" {
		args = append(args, q.UserID)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(fc.user_a_id = $%d OR fc.user_b_id = $%d)", n, n))
	}
	return strings.Join(conds, " AND "), args
}

// List returns a page of flagged conversations joined with both identities
// and the total number of matching rows
func (r *FlaggedRepository) List(ctx context.Context, q FlaggedQuery) ([]*models.FlaggedEntry, int, error) {
	where, args := q.where()

	countQuery := `
		SELECT COUNT(*)
		FROM flagged_conversations fc
		JOIN users ua ON ua.id = fc.user_a_id
		JOIN users ub ON ub.id = fc.user_b_id
		WHERE ` + where
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count flagged conversations: %w", err)
	}

	order := "fc.flagged_at DESC, fc.id DESC"
	if q.SortByVolume {
		order = "pair_flags DESC, " + order
	}
	args = append(args, q.Limit, q.Offset)
	query := fmt.Sprintf(`
		SELECT fc.id, fc.user_a_id, fc.user_b_id, fc.message_id, fc.flagged_at, fc.reviewed,
		       ua.phone, ua.display_name, ua.is_blocked,
		       ub.phone, ub.display_name, ub.is_blocked,
		       m.text,
		       COUNT(*) OVER (PARTITION BY fc.user_a_id, fc.user_b_id) AS pair_flags
		FROM flagged_conversations fc
		JOIN users ua ON ua.id = fc.user_a_id
		JOIN users ub ON ub.id = fc.user_b_id
		JOIN messages m ON m.id = fc.message_id
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, where, order, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flagged conversations: %w", err)
	}
	defer rows.Close()

	var entries []*models.FlaggedEntry
	for rows.Next() {
		var e models.FlaggedEntry
		err := rows.Scan(
			&e.ID, &e.UserAID, &e.UserBID, &e.MessageID, &e.FlaggedAt, &e.Reviewed,
			&e.UserA.Phone, &e.UserA.DisplayName, &e.UserA.IsBlocked,
			&e.UserB.Phone, &e.UserB.DisplayName, &e.UserB.IsBlocked,
			&e.MessageText, &e.PairFlags,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan flagged conversation: %w", err)
		}
		e.UserA.ID = e.UserAID
		e.UserB.ID = e.UserBID
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating flagged conversations: %w", err)
	}
	return entries, total, nil
}

// MarkReviewed sets reviewed to true. Already reviewed rows stay reviewed.
func (r *FlaggedRepository) MarkReviewed(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `UPDATE flagged_conversations SET reviewed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark flagged conversation reviewed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("flagged conversation not found: %w", apperrors.ErrNotFound)
	}
	return nil
}
