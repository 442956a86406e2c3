package domain

import (
	"time"

	"github.com/google/uuid"
)

type Customer struct {
	ID        uuid.UUID
	Name      string
	MemoID    string
	CreatedAt time.Time
}

// Balance is the customer's internal ledger balance in stroops.
// It is only ever mutated inside the two atomic boundaries: deposit
// crediting and withdrawal-request debiting.
type Balance struct {
	CustomerID uuid.UUID
	Amount     int64
	Version    int64
	UpdatedAt  time.Time
}
