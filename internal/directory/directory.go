package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/crestpay/anchor/internal/domain"
)

type customerRepo interface {
	GetByMemoID(ctx context.Context, memoID string) (*domain.Customer, error)
}

// Directory maps the correlation identifier carried in a deposit's memo
// to an internal customer account.
type Directory struct {
	customers customerRepo
}

func New(customers customerRepo) *Directory {
	return &Directory{customers: customers}
}

// Resolve returns the customer the memo belongs to, or
// domain.ErrUnknownMemo when no customer carries that correlation ID.
func (d *Directory) Resolve(ctx context.Context, memo string) (uuid.UUID, error) {
	if memo == "" {
		return uuid.Nil, fmt.Errorf("Resolve: empty memo: %w", domain.ErrUnknownMemo)
	}

	c, err := d.customers.GetByMemoID(ctx, memo)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("Resolve: %q: %w", memo, domain.ErrUnknownMemo)
		}
		return uuid.Nil, fmt.Errorf("Resolve: %w", err)
	}
	return c.ID, nil
}
