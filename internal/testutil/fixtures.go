package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crestpay/anchor/internal/domain"
)

func SeedCustomer(t *testing.T, db *sql.DB, name, memoID string, balance int64) *domain.Customer {
	t.Helper()

	c := &domain.Customer{
		ID:        uuid.New(),
		Name:      name,
		MemoID:    memoID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO customers (id, name, memo_id, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.MemoID, c.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed customer %s: %v", memoID, err)
	}

	_, err = db.Exec(
		`INSERT INTO customer_balances (customer_id, amount, version) VALUES ($1, $2, 0)`,
		c.ID, balance,
	)
	if err != nil {
		t.Fatalf("seed balance for %s: %v", memoID, err)
	}
	return c
}

func SeedWithdrawal(t *testing.T, db *sql.DB, customerID uuid.UUID, amount int64, destination string, state domain.WithdrawalState) *domain.WithdrawalRequest {
	t.Helper()

	now := time.Now().UTC()
	w := &domain.WithdrawalRequest{
		ID:                 uuid.New(),
		CustomerID:         customerID,
		DestinationAddress: destination,
		Amount:             amount,
		State:              state,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err := db.Exec(
		`INSERT INTO withdrawal_requests (id, customer_id, destination_address, amount, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.CustomerID, w.DestinationAddress, w.Amount, w.State, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed withdrawal: %v", err)
	}
	return w
}

func GetBalance(t *testing.T, db *sql.DB, customerID uuid.UUID) int64 {
	t.Helper()

	var amount int64
	err := db.QueryRow(`SELECT amount FROM customer_balances WHERE customer_id = $1`, customerID).Scan(&amount)
	if err != nil {
		t.Fatalf("get balance %s: %v", customerID, err)
	}
	return amount
}

func GetCursor(t *testing.T, db *sql.DB) string {
	t.Helper()

	var cursor string
	err := db.QueryRow(`SELECT cursor FROM deposit_cursor WHERE singleton`).Scan(&cursor)
	if err == sql.ErrNoRows {
		return ""
	}
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	return cursor
}

func GetWithdrawalState(t *testing.T, db *sql.DB, id uuid.UUID) domain.WithdrawalState {
	t.Helper()

	var state domain.WithdrawalState
	err := db.QueryRow(`SELECT state FROM withdrawal_requests WHERE id = $1`, id).Scan(&state)
	if err != nil {
		t.Fatalf("get withdrawal state %s: %v", id, err)
	}
	return state
}

func CountCreditedDeposits(t *testing.T, db *sql.DB, eventID string) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM credited_deposits WHERE event_id = $1`, eventID).Scan(&count)
	if err != nil {
		t.Fatalf("count credited deposits %s: %v", eventID, err)
	}
	return count
}

func CountUnresolved(t *testing.T, db *sql.DB) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM unresolved_deposits`).Scan(&count)
	if err != nil {
		t.Fatalf("count unresolved deposits: %v", err)
	}
	return count
}
