package withdrawal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crestpay/anchor/internal/domain"
	"github.com/crestpay/anchor/internal/logging"
	"github.com/crestpay/anchor/internal/repository"
)

type withdrawalRepo interface {
	Create(ctx context.Context, tx *sql.Tx, w *domain.WithdrawalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	ListByState(ctx context.Context, state domain.WithdrawalState, limit, offset int) ([]domain.WithdrawalRequest, error)
}

type balanceRepo interface {
	Get(ctx context.Context, customerID uuid.UUID) (*domain.Balance, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, customerID uuid.UUID) (*domain.Balance, error)
	Update(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, newAmount, newVersion int64) error
}

// Service is the withdrawal-request intake: it debits the customer's
// balance and records the pending request in one transaction, all or
// nothing. The settlement engine owns everything after that.
type Service struct {
	withdrawals withdrawalRepo
	balances    balanceRepo
	db          *sql.DB
}

func NewService(withdrawals withdrawalRepo, balances balanceRepo, db *sql.DB) *Service {
	return &Service{withdrawals: withdrawals, balances: balances, db: db}
}

func (s *Service) Request(ctx context.Context, customerID uuid.UUID, amount int64, destination string) (*domain.WithdrawalRequest, error) {
	log := logging.FromContext(ctx)

	if amount <= 0 {
		return nil, fmt.Errorf("Request: %w", domain.ErrInvalidAmount)
	}
	if destination == "" {
		return nil, fmt.Errorf("Request: %w", domain.ErrInvalidAddress)
	}

	now := time.Now().UTC()
	w := &domain.WithdrawalRequest{
		ID:                 uuid.New(),
		CustomerID:         customerID,
		DestinationAddress: destination,
		Amount:             amount,
		State:              domain.WithdrawalStatePending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		bal, err := s.balances.GetForUpdate(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if bal.Amount < amount {
			return domain.ErrInsufficientBalance
		}

		if err := s.balances.Update(ctx, tx, customerID, bal.Amount-amount, bal.Version+1); err != nil {
			return err
		}
		return s.withdrawals.Create(ctx, tx, w)
	})
	if err != nil {
		return nil, fmt.Errorf("Request: %w", err)
	}

	log.Info("withdrawal requested",
		"withdrawal_id", w.ID,
		"customer_id", customerID,
		"amount", amount,
		"destination", destination,
	)
	return w, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	w, err := s.withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return w, nil
}

func (s *Service) ListByState(ctx context.Context, state domain.WithdrawalState, limit, offset int) ([]domain.WithdrawalRequest, error) {
	out, err := s.withdrawals.ListByState(ctx, state, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListByState: %w", err)
	}
	return out, nil
}

func (s *Service) Balance(ctx context.Context, customerID uuid.UUID) (*domain.Balance, error) {
	b, err := s.balances.Get(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("Balance: %w", err)
	}
	return b, nil
}
