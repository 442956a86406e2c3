package horizon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AssetTypeNative is the network's single built-in unit of value.
// Payments carrying any other asset type are not creditable.
const AssetTypeNative = "native"

// StroopsPerUnit converts between the wire format (decimal strings of
// whole native units) and the integer stroop amounts used internally.
const StroopsPerUnit = 10_000_000

// PaymentEvent is one record from an account's resumable payment stream.
// PagingToken orders the stream and doubles as the event's unique ID.
type PaymentEvent struct {
	ID              string
	PagingToken     string
	TransactionHash string
	From            string
	To              string
	AssetType       string
	Amount          int64
	Memo            string
	CreatedAt       time.Time
}

type Account struct {
	ID       string
	Sequence int64
}

type PaymentTx struct {
	Destination string
	Amount      int64
	Memo        string
}

type CreateAccountTx struct {
	Destination     string
	StartingBalance int64
}

type SubmitResult struct {
	Hash   string
	Ledger int32
}

// ParseAmount converts a wire decimal-string amount to stroops.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("ParseAmount: %q: %w", s, err)
	}
	stroops := d.Mul(decimal.NewFromInt(StroopsPerUnit))
	if !stroops.IsInteger() {
		return 0, fmt.Errorf("ParseAmount: %q has sub-stroop precision", s)
	}
	return stroops.IntPart(), nil
}

// FormatAmount converts stroops to the wire decimal-string form.
func FormatAmount(stroops int64) string {
	return decimal.NewFromInt(stroops).Div(decimal.NewFromInt(StroopsPerUnit)).String()
}
