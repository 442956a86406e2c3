package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/crestpay/anchor/internal/domain"
)

const withdrawalColumns = `id, customer_id, destination_address, amount, state,
	tx_hash, failure_reason, created_at, updated_at`

type WithdrawalRepository struct {
	db *sql.DB
}

func NewWithdrawalRepository(db *sql.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// Create inserts a withdrawal inside the caller's transaction so the row
// and the balance debit commit together.
func (r *WithdrawalRepository) Create(ctx context.Context, tx *sql.Tx, w *domain.WithdrawalRequest) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO withdrawal_requests (
			id, customer_id, destination_address, amount, state,
			tx_hash, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.CustomerID, w.DestinationAddress, w.Amount, w.State,
		w.TxHash, w.FailureReason, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id,
	)
	w, err := scanWithdrawal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return w, nil
}

func (r *WithdrawalRepository) GetPending(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error) {
	// FOR UPDATE SKIP LOCKED prevents a second engine instance from
	// claiming the same batch.
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE state = $1 ORDER BY created_at LIMIT $2 FOR UPDATE SKIP LOCKED`,
		domain.WithdrawalStatePending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetPending: %w", err)
	}
	defer rows.Close()

	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("GetPending: scan: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetPending: rows: %w", err)
	}
	return out, nil
}

func (r *WithdrawalRepository) ListByState(ctx context.Context, state domain.WithdrawalState, limit, offset int) ([]domain.WithdrawalRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE state = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		state, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByState: %w", err)
	}
	defer rows.Close()

	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByState: scan: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByState: rows: %w", err)
	}
	return out, nil
}

// MarkSending claims a pending request. The WHERE state guard means a
// row that already left pending (another cycle, or a crash replay) is
// not claimed twice; ErrStateConflict tells the engine to skip it.
func (r *WithdrawalRepository) MarkSending(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, domain.WithdrawalStatePending, domain.WithdrawalStateSending, nil, nil)
}

func (r *WithdrawalRepository) MarkDone(ctx context.Context, id uuid.UUID, txHash string) error {
	return r.transition(ctx, id, domain.WithdrawalStateSending, domain.WithdrawalStateDone, &txHash, nil)
}

func (r *WithdrawalRepository) MarkError(ctx context.Context, id uuid.UUID, reason string) error {
	return r.transition(ctx, id, domain.WithdrawalStateSending, domain.WithdrawalStateError, nil, &reason)
}

func (r *WithdrawalRepository) transition(ctx context.Context, id uuid.UUID, from, to domain.WithdrawalState, txHash, reason *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE withdrawal_requests
		SET state = $1, tx_hash = COALESCE($2, tx_hash), failure_reason = $3, updated_at = now()
		WHERE id = $4 AND state = $5`,
		to, txHash, reason, id, from,
	)
	if err != nil {
		return fmt.Errorf("transition %s->%s: %w", from, to, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition %s->%s: rows affected: %w", from, to, err)
	}
	if rows == 0 {
		return fmt.Errorf("transition %s->%s: %w", from, to, domain.ErrStateConflict)
	}
	return nil
}

func scanWithdrawal(s scanner) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	err := s.Scan(
		&w.ID, &w.CustomerID, &w.DestinationAddress, &w.Amount, &w.State,
		&w.TxHash, &w.FailureReason, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
