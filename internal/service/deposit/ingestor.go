package deposit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crestpay/anchor/internal/config"
	"github.com/crestpay/anchor/internal/domain"
	"github.com/crestpay/anchor/internal/horizon"
	"github.com/crestpay/anchor/internal/repository"
)

type eventSource interface {
	Payments(ctx context.Context, address, cursor string, limit int) ([]horizon.PaymentEvent, error)
	TransactionMemo(ctx context.Context, txHash string) (string, error)
}

type memoResolver interface {
	Resolve(ctx context.Context, memo string) (uuid.UUID, error)
}

type cursorRepo interface {
	Get(ctx context.Context) (string, error)
	Advance(ctx context.Context, tx *sql.Tx, cursor string) error
}

type depositRepo interface {
	Insert(ctx context.Context, tx *sql.Tx, d *domain.CreditedDeposit) (bool, error)
}

type balanceRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, customerID uuid.UUID) (*domain.Balance, error)
	Update(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, newAmount, newVersion int64) error
}

type unresolvedRepo interface {
	Insert(ctx context.Context, tx *sql.Tx, u *domain.UnresolvedDeposit) error
}

// Ingestor consumes the receiving account's payment stream from the
// last committed cursor and credits deposits exactly once. All state for
// one event (credited row, balance, cursor) commits in a single
// transaction; resuming from an old cursor is safe because the credited
// row's primary key turns redelivery into a no-op.
type Ingestor struct {
	db         *sql.DB
	source     eventSource
	directory  memoResolver
	cursor     cursorRepo
	deposits   depositRepo
	balances   balanceRepo
	unresolved unresolvedRepo

	receivingAccount string
	pollInterval     time.Duration
	pageLimit        int
	memoPolicy       config.MemoPolicy

	logger *slog.Logger
}

type Params struct {
	DB         *sql.DB
	Source     eventSource
	Directory  memoResolver
	Cursor     cursorRepo
	Deposits   depositRepo
	Balances   balanceRepo
	Unresolved unresolvedRepo

	ReceivingAccount string
	PollInterval     time.Duration
	PageLimit        int
	MemoPolicy       config.MemoPolicy

	Logger *slog.Logger
}

func NewIngestor(p Params) *Ingestor {
	return &Ingestor{
		db:               p.DB,
		source:           p.Source,
		directory:        p.Directory,
		cursor:           p.Cursor,
		deposits:         p.Deposits,
		balances:         p.Balances,
		unresolved:       p.Unresolved,
		receivingAccount: p.ReceivingAccount,
		pollInterval:     p.PollInterval,
		pageLimit:        p.PageLimit,
		memoPolicy:       p.MemoPolicy,
		logger:           p.Logger,
	}
}

// Run polls the event stream until ctx is cancelled. Each iteration
// re-reads the durable cursor, so a transient stream error or restart
// always resumes from committed state, never in-memory progress.
func (i *Ingestor) Run(ctx context.Context) {
	i.logger.Info("deposit ingestor started",
		"receiving_account", i.receivingAccount,
		"poll_interval", i.pollInterval,
		"memo_policy", i.memoPolicy,
	)

	for {
		if err := i.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			i.logger.Warn("ingest cycle failed, resuming from committed cursor", "error", err)
		}

		select {
		case <-ctx.Done():
			i.logger.Info("deposit ingestor stopped")
			return
		case <-time.After(i.pollInterval):
		}
	}
	i.logger.Info("deposit ingestor stopped")
}

func (i *Ingestor) pollOnce(ctx context.Context) error {
	cursor, err := i.cursor.Get(ctx)
	if err != nil {
		return fmt.Errorf("pollOnce: %w", err)
	}

	events, err := i.source.Payments(ctx, i.receivingAccount, cursor, i.pageLimit)
	if err != nil {
		return fmt.Errorf("pollOnce: %w", err)
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := i.ProcessEvent(ctx, ev); err != nil {
			// Stop the batch: events must commit in stream order, and
			// the cursor must never advance past uncommitted state.
			return fmt.Errorf("pollOnce: event %s: %w", ev.PagingToken, err)
		}
	}
	return nil
}

// ProcessEvent handles a single payment event in one atomic transaction.
// Whatever the outcome (credit, operator queue, or skip), the cursor
// advances to the event's position as part of that same transaction --
// except under the "block" memo policy, where an unresolvable memo
// leaves all state untouched and halts ingestion.
func (i *Ingestor) ProcessEvent(ctx context.Context, ev horizon.PaymentEvent) error {
	if ev.To != i.receivingAccount {
		// Outgoing payments from the receiving account share the stream.
		return i.advanceOnly(ctx, ev.PagingToken)
	}

	if ev.AssetType != horizon.AssetTypeNative {
		// Return-to-sender is delegated to an external handler; here we
		// only queue the event for review and move on.
		i.logger.Warn("non-native deposit skipped",
			"event_id", ev.PagingToken,
			"asset_type", ev.AssetType,
			"from", ev.From,
		)
		return i.queueUnresolved(ctx, ev, "", domain.UnresolvedReasonNonNativeAsset)
	}

	memo, err := i.eventMemo(ctx, ev)
	if err != nil {
		return fmt.Errorf("ProcessEvent: %w", err)
	}

	customerID, err := i.directory.Resolve(ctx, memo)
	if err != nil {
		if !errors.Is(err, domain.ErrUnknownMemo) {
			return fmt.Errorf("ProcessEvent: %w", err)
		}
		if i.memoPolicy == config.MemoPolicyBlock {
			return fmt.Errorf("ProcessEvent: ingestion blocked: %w", err)
		}

		i.logger.Warn("deposit memo unresolved, queued for manual review",
			"event_id", ev.PagingToken,
			"memo", memo,
			"amount", ev.Amount,
		)
		reason := domain.UnresolvedReasonUnknownMemo
		if memo == "" {
			reason = domain.UnresolvedReasonNoMemo
		}
		return i.queueUnresolved(ctx, ev, memo, reason)
	}

	return i.credit(ctx, ev, customerID)
}

// credit inserts the deposit record, credits the customer, and advances
// the cursor, all in one transaction. A replayed event (row already
// present) advances the cursor without touching the balance.
func (i *Ingestor) credit(ctx context.Context, ev horizon.PaymentEvent, customerID uuid.UUID) error {
	err := repository.WithTx(ctx, i.db, func(tx *sql.Tx) error {
		inserted, err := i.deposits.Insert(ctx, tx, &domain.CreditedDeposit{
			EventID:     ev.PagingToken,
			CustomerID:  customerID,
			Amount:      ev.Amount,
			ProcessedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		if inserted {
			bal, err := i.balances.GetForUpdate(ctx, tx, customerID)
			if err != nil {
				return err
			}
			if err := i.balances.Update(ctx, tx, customerID, bal.Amount+ev.Amount, bal.Version+1); err != nil {
				return err
			}
		} else {
			i.logger.Info("deposit already credited, replay is a no-op",
				"event_id", ev.PagingToken,
				"customer_id", customerID,
			)
		}

		return i.cursor.Advance(ctx, tx, ev.PagingToken)
	})
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}

	i.logger.Info("deposit credited",
		"event_id", ev.PagingToken,
		"customer_id", customerID,
		"amount", ev.Amount,
	)
	return nil
}

func (i *Ingestor) queueUnresolved(ctx context.Context, ev horizon.PaymentEvent, memo string, reason domain.UnresolvedReason) error {
	err := repository.WithTx(ctx, i.db, func(tx *sql.Tx) error {
		if err := i.unresolved.Insert(ctx, tx, &domain.UnresolvedDeposit{
			EventID:   ev.PagingToken,
			Memo:      memo,
			From:      ev.From,
			Amount:    ev.Amount,
			AssetType: ev.AssetType,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return i.cursor.Advance(ctx, tx, ev.PagingToken)
	})
	if err != nil {
		return fmt.Errorf("queueUnresolved: %w", err)
	}
	return nil
}

func (i *Ingestor) advanceOnly(ctx context.Context, pagingToken string) error {
	err := repository.WithTx(ctx, i.db, func(tx *sql.Tx) error {
		return i.cursor.Advance(ctx, tx, pagingToken)
	})
	if err != nil {
		return fmt.Errorf("advanceOnly: %w", err)
	}
	return nil
}

func (i *Ingestor) eventMemo(ctx context.Context, ev horizon.PaymentEvent) (string, error) {
	if ev.Memo != "" {
		return ev.Memo, nil
	}
	if ev.TransactionHash == "" {
		return "", nil
	}

	memo, err := i.source.TransactionMemo(ctx, ev.TransactionHash)
	if err != nil {
		return "", fmt.Errorf("eventMemo: %w", err)
	}
	return memo, nil
}
