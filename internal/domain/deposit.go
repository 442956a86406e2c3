package domain

import (
	"time"

	"github.com/google/uuid"
)

// CreditedDeposit records one processed payment event. EventID is the
// stream's paging token, so re-inserting the same event is a no-op and
// replaying from an old cursor can never credit twice.
type CreditedDeposit struct {
	EventID     string
	CustomerID  uuid.UUID
	Amount      int64
	ProcessedAt time.Time
}

type UnresolvedReason string

const (
	UnresolvedReasonNoMemo         UnresolvedReason = "no_memo"
	UnresolvedReasonUnknownMemo    UnresolvedReason = "unknown_memo"
	UnresolvedReasonNonNativeAsset UnresolvedReason = "non_native_asset"
)

// UnresolvedDeposit is an operator-queue row for events the ingestor
// advanced past without crediting. Never processed automatically.
type UnresolvedDeposit struct {
	EventID   string
	Memo      string
	From      string
	Amount    int64
	AssetType string
	Reason    UnresolvedReason
	CreatedAt time.Time
}
