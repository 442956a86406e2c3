package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crestpay/anchor/internal/domain"
)

const depositColumns = `event_id, customer_id, amount, processed_at`

type DepositRepository struct {
	db *sql.DB
}

func NewDepositRepository(db *sql.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// Insert records a credited deposit keyed by the event's paging token.
// Returns false without error when a row with the same event_id already
// exists: a replayed event is a successful no-op, so the caller must not
// credit the balance again.
func (r *DepositRepository) Insert(ctx context.Context, tx *sql.Tx, d *domain.CreditedDeposit) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO credited_deposits (event_id, customer_id, amount, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		d.EventID, d.CustomerID, d.Amount, d.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("Insert: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Insert: rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *DepositRepository) GetByEventID(ctx context.Context, eventID string) (*domain.CreditedDeposit, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+depositColumns+` FROM credited_deposits WHERE event_id = $1`, eventID,
	)
	d, err := scanDeposit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByEventID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByEventID: %w", err)
	}
	return d, nil
}

func scanDeposit(s scanner) (*domain.CreditedDeposit, error) {
	var d domain.CreditedDeposit
	err := s.Scan(&d.EventID, &d.CustomerID, &d.Amount, &d.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
