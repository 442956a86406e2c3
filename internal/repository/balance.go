package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/crestpay/anchor/internal/domain"
)

const balanceColumns = `customer_id, amount, version, updated_at`

type BalanceRepository struct {
	db *sql.DB
}

func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) Get(ctx context.Context, customerID uuid.UUID) (*domain.Balance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM customer_balances WHERE customer_id = $1`, customerID,
	)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return b, nil
}

func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, customerID uuid.UUID) (*domain.Balance, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM customer_balances WHERE customer_id = $1 FOR UPDATE`, customerID,
	)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return b, nil
}

func (r *BalanceRepository) Update(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, newAmount, newVersion int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE customer_balances SET amount = $1, version = $2, updated_at = now()
		WHERE customer_id = $3 AND version = $4`,
		newAmount, newVersion, customerID, newVersion-1,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %w", domain.ErrVersionConflict)
	}
	return nil
}

func scanBalance(s scanner) (*domain.Balance, error) {
	var b domain.Balance
	err := s.Scan(&b.CustomerID, &b.Amount, &b.Version, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
