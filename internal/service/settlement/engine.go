package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crestpay/anchor/internal/domain"
	"github.com/crestpay/anchor/internal/horizon"
)

type network interface {
	Account(ctx context.Context, address string) (*horizon.Account, error)
	SubmitPayment(ctx context.Context, tx horizon.PaymentTx) (*horizon.SubmitResult, error)
	SubmitCreateAccount(ctx context.Context, tx horizon.CreateAccountTx) (*horizon.SubmitResult, error)
}

type withdrawalRepo interface {
	GetPending(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error)
	MarkSending(ctx context.Context, id uuid.UUID) error
	MarkDone(ctx context.Context, id uuid.UUID, txHash string) error
	MarkError(ctx context.Context, id uuid.UUID, reason string) error
}

// Engine drains pending withdrawals on a fixed interval and settles them
// on the public ledger. Submissions run strictly one at a time: every
// submission consumes the submitting account's sequence number, and two
// in flight at once would race on it. Each request is committed to
// "sending" before any network call, so a crash mid-submission can never
// cause a pending row to be paid twice -- the cost is that a crash after
// "sending" leaves the row for operator reconciliation.
type Engine struct {
	withdrawals withdrawalRepo
	network     network
	interval    time.Duration
	batchLimit  int
	logger      *slog.Logger
}

func NewEngine(withdrawals withdrawalRepo, network network, interval time.Duration, batchLimit int, logger *slog.Logger) *Engine {
	return &Engine{
		withdrawals: withdrawals,
		network:     network,
		interval:    interval,
		batchLimit:  batchLimit,
		logger:      logger,
	}
}

func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("settlement engine started", "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("settlement engine stopped")
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

// cycle fully drains one batch before returning; the ticker cannot start
// a new cycle while the previous one is still submitting.
func (e *Engine) cycle(ctx context.Context) {
	pending, err := e.withdrawals.GetPending(ctx, e.batchLimit)
	if err != nil {
		e.logger.Error("failed to fetch pending withdrawals", "error", err)
		return
	}

	for _, w := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := e.settle(ctx, w); err != nil {
			e.logger.Error("settlement failed",
				"withdrawal_id", w.ID,
				"error", err,
			)
		}
	}
}

func (e *Engine) settle(ctx context.Context, w domain.WithdrawalRequest) error {
	// Commit the claim before touching the network. After this point the
	// engine will never pick the row up from "pending" again.
	if err := e.withdrawals.MarkSending(ctx, w.ID); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			e.logger.Info("withdrawal already claimed, skipping", "withdrawal_id", w.ID)
			return nil
		}
		return fmt.Errorf("settle: %w", err)
	}

	result, err := e.submit(ctx, w)
	if err != nil {
		reason := err.Error()
		if markErr := e.withdrawals.MarkError(ctx, w.ID, reason); markErr != nil {
			return fmt.Errorf("settle: record failure: %w (submission error: %s)", markErr, reason)
		}
		e.logger.Warn("withdrawal moved to error, manual review required",
			"withdrawal_id", w.ID,
			"destination", w.DestinationAddress,
			"reason", reason,
		)
		return nil
	}

	if err := e.withdrawals.MarkDone(ctx, w.ID, result.Hash); err != nil {
		// The payment is on the ledger but the terminal state is not
		// recorded; surface loudly for reconciliation.
		return fmt.Errorf("settle: submitted (hash %s) but failed to mark done: %w", result.Hash, err)
	}

	e.logger.Info("withdrawal settled",
		"withdrawal_id", w.ID,
		"destination", w.DestinationAddress,
		"amount", w.Amount,
		"tx_hash", result.Hash,
	)
	return nil
}

// submit attempts a direct payment, falling back exactly once to a
// create-and-fund operation when the destination account does not exist
// on the ledger yet.
func (e *Engine) submit(ctx context.Context, w domain.WithdrawalRequest) (*horizon.SubmitResult, error) {
	_, err := e.network.Account(ctx, w.DestinationAddress)
	if err != nil {
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return nil, fmt.Errorf("submit: destination lookup: %w", err)
		}

		e.logger.Info("destination account absent, funding via create-account",
			"withdrawal_id", w.ID,
			"destination", w.DestinationAddress,
		)
		result, err := e.network.SubmitCreateAccount(ctx, horizon.CreateAccountTx{
			Destination:     w.DestinationAddress,
			StartingBalance: w.Amount,
		})
		if err != nil {
			return nil, fmt.Errorf("submit: create account: %w", err)
		}
		return result, nil
	}

	result, err := e.network.SubmitPayment(ctx, horizon.PaymentTx{
		Destination: w.DestinationAddress,
		Amount:      w.Amount,
		Memo:        w.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("submit: payment: %w", err)
	}
	return result, nil
}
