package domain

import (
	"time"

	"github.com/google/uuid"
)

type WithdrawalState string

const (
	WithdrawalStatePending WithdrawalState = "pending"
	WithdrawalStateSending WithdrawalState = "sending"
	WithdrawalStateDone    WithdrawalState = "done"
	WithdrawalStateError   WithdrawalState = "error"
)

// Terminal reports whether the engine will never touch the request again.
// "error" is terminal for automatic retry: a row that failed after
// submission started can only be recovered by an operator who has
// reconciled against the public ledger's history.
func (s WithdrawalState) Terminal() bool {
	return s == WithdrawalStateDone || s == WithdrawalStateError
}

type WithdrawalRequest struct {
	ID                 uuid.UUID
	CustomerID         uuid.UUID
	DestinationAddress string
	Amount             int64
	State              WithdrawalState
	TxHash             *string
	FailureReason      *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
