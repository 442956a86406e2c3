package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crestpay/anchor/internal/domain"
)

const unresolvedColumns = `event_id, memo, from_address, amount, asset_type, reason, created_at`

// UnresolvedRepository is the manual-review queue. Rows are written by
// the ingestor and only ever read by operators.
type UnresolvedRepository struct {
	db *sql.DB
}

func NewUnresolvedRepository(db *sql.DB) *UnresolvedRepository {
	return &UnresolvedRepository{db: db}
}

func (r *UnresolvedRepository) Insert(ctx context.Context, tx *sql.Tx, u *domain.UnresolvedDeposit) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO unresolved_deposits (event_id, memo, from_address, amount, asset_type, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`,
		u.EventID, u.Memo, u.From, u.Amount, u.AssetType, u.Reason, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

func (r *UnresolvedRepository) List(ctx context.Context, limit, offset int) ([]domain.UnresolvedDeposit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+unresolvedColumns+` FROM unresolved_deposits
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var out []domain.UnresolvedDeposit
	for rows.Next() {
		var u domain.UnresolvedDeposit
		if err := rows.Scan(&u.EventID, &u.Memo, &u.From, &u.Amount, &u.AssetType, &u.Reason, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: rows: %w", err)
	}
	return out, nil
}
