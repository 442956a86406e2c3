package deposit

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestpay/anchor/internal/config"
	"github.com/crestpay/anchor/internal/directory"
	"github.com/crestpay/anchor/internal/domain"
	"github.com/crestpay/anchor/internal/horizon"
	"github.com/crestpay/anchor/internal/repository"
	"github.com/crestpay/anchor/internal/testutil"
)

const receivingAccount = "GEXCHANGE"

type fakeSource struct {
	events []horizon.PaymentEvent
	memos  map[string]string
	err    error
}

func (f *fakeSource) Payments(_ context.Context, _ string, cursor string, limit int) ([]horizon.PaymentEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []horizon.PaymentEvent
	for _, ev := range f.events {
		if cursor != "" && ev.PagingToken <= cursor {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) TransactionMemo(_ context.Context, hash string) (string, error) {
	return f.memos[hash], nil
}

func newTestIngestor(t *testing.T, db *sql.DB, source *fakeSource, policy config.MemoPolicy) *Ingestor {
	t.Helper()
	return NewIngestor(Params{
		DB:               db,
		Source:           source,
		Directory:        directory.New(repository.NewCustomerRepository(db)),
		Cursor:           repository.NewCursorRepository(db),
		Deposits:         repository.NewDepositRepository(db),
		Balances:         repository.NewBalanceRepository(db),
		Unresolved:       repository.NewUnresolvedRepository(db),
		ReceivingAccount: receivingAccount,
		PollInterval:     time.Second,
		PageLimit:        10,
		MemoPolicy:       policy,
		Logger:           slog.Default(),
	})
}

func nativeEvent(token, to, memo string, amount int64) horizon.PaymentEvent {
	return horizon.PaymentEvent{
		ID:          token,
		PagingToken: token,
		From:        "GSENDER",
		To:          to,
		AssetType:   horizon.AssetTypeNative,
		Amount:      amount,
		Memo:        memo,
	}
}

func TestIngestor_CreditsDeposit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	src := &fakeSource{events: []horizon.PaymentEvent{
		nativeEvent("1", receivingAccount, "cust42", 100),
	}}
	ing := newTestIngestor(t, db, src, config.MemoPolicySkip)

	require.NoError(t, ing.pollOnce(ctx))

	assert.Equal(t, int64(100), testutil.GetBalance(t, db, cust.ID))
	assert.Equal(t, "1", testutil.GetCursor(t, db))
	assert.Equal(t, 1, testutil.CountCreditedDeposits(t, db, "1"))

	d, err := repository.NewDepositRepository(db).GetByEventID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, cust.ID, d.CustomerID)
	assert.Equal(t, int64(100), d.Amount)
}

func TestIngestor_ReplayDoesNotDoubleCredit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	ev := nativeEvent("1", receivingAccount, "cust42", 100)
	src := &fakeSource{events: []horizon.PaymentEvent{ev}}
	ing := newTestIngestor(t, db, src, config.MemoPolicySkip)

	require.NoError(t, ing.ProcessEvent(ctx, ev))
	// Redelivery of the same stream position, as after a restart from
	// an older cursor.
	require.NoError(t, ing.ProcessEvent(ctx, ev))

	assert.Equal(t, int64(100), testutil.GetBalance(t, db, cust.ID))
	assert.Equal(t, "1", testutil.GetCursor(t, db))
}

func TestIngestor_CrashBeforeCursorCommitIsSafe(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	ev := nativeEvent("1", receivingAccount, "cust42", 100)
	ing := newTestIngestor(t, db, &fakeSource{}, config.MemoPolicySkip)

	// Simulate a crashed predecessor that credited the deposit but whose
	// cursor write was lost: credited row and balance exist, cursor does
	// not. Resumption redelivers the event.
	_, err := db.Exec(
		`INSERT INTO credited_deposits (event_id, customer_id, amount, processed_at) VALUES ($1, $2, $3, now())`,
		"1", cust.ID, int64(100),
	)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE customer_balances SET amount = 100, version = 1 WHERE customer_id = $1`, cust.ID)
	require.NoError(t, err)

	require.NoError(t, ing.ProcessEvent(ctx, ev))

	assert.Equal(t, int64(100), testutil.GetBalance(t, db, cust.ID), "replay must not credit twice")
	assert.Equal(t, "1", testutil.GetCursor(t, db), "cursor must catch up")
}

func TestIngestor_UnknownMemoSkipPolicy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	ev := nativeEvent("7", receivingAccount, "nobody", 55)
	ing := newTestIngestor(t, db, &fakeSource{}, config.MemoPolicySkip)

	require.NoError(t, ing.ProcessEvent(ctx, ev))

	assert.Equal(t, "7", testutil.GetCursor(t, db), "cursor must advance past unresolvable events")
	assert.Equal(t, 0, testutil.CountCreditedDeposits(t, db, "7"))
	assert.Equal(t, 1, testutil.CountUnresolved(t, db))

	rows, err := repository.NewUnresolvedRepository(db).List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.UnresolvedReasonUnknownMemo, rows[0].Reason)
	assert.Equal(t, "nobody", rows[0].Memo)
}

func TestIngestor_UnknownMemoBlockPolicy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	ev := nativeEvent("7", receivingAccount, "nobody", 55)
	ing := newTestIngestor(t, db, &fakeSource{}, config.MemoPolicyBlock)

	err := ing.ProcessEvent(ctx, ev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownMemo))

	assert.Equal(t, "", testutil.GetCursor(t, db), "blocked ingestion must not advance")
	assert.Equal(t, 0, testutil.CountUnresolved(t, db))
}

func TestIngestor_NonNativeAssetQueued(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	ev := nativeEvent("3", receivingAccount, "cust42", 100)
	ev.AssetType = "credit_alphanum4"
	ing := newTestIngestor(t, db, &fakeSource{}, config.MemoPolicySkip)

	require.NoError(t, ing.ProcessEvent(ctx, ev))

	assert.Equal(t, int64(0), testutil.GetBalance(t, db, cust.ID))
	assert.Equal(t, "3", testutil.GetCursor(t, db))

	rows, err := repository.NewUnresolvedRepository(db).List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.UnresolvedReasonNonNativeAsset, rows[0].Reason)
}

func TestIngestor_OutgoingPaymentAdvancesCursorOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	ev := nativeEvent("4", "GELSEWHERE", "", 20)
	ev.From = receivingAccount
	ing := newTestIngestor(t, db, &fakeSource{}, config.MemoPolicySkip)

	require.NoError(t, ing.ProcessEvent(ctx, ev))

	assert.Equal(t, "4", testutil.GetCursor(t, db))
	assert.Equal(t, 0, testutil.CountUnresolved(t, db))
}

func TestIngestor_MemoFetchedFromTransaction(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	ev := nativeEvent("5", receivingAccount, "", 250)
	ev.TransactionHash = "abc123"
	src := &fakeSource{memos: map[string]string{"abc123": "cust42"}}
	ing := newTestIngestor(t, db, src, config.MemoPolicySkip)

	require.NoError(t, ing.ProcessEvent(ctx, ev))

	assert.Equal(t, int64(250), testutil.GetBalance(t, db, cust.ID))
	assert.Equal(t, "5", testutil.GetCursor(t, db))
}

func TestIngestor_StreamErrorLeavesStateUntouched(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	src := &fakeSource{err: errors.New("connection reset")}
	ing := newTestIngestor(t, db, src, config.MemoPolicySkip)

	require.Error(t, ing.pollOnce(ctx))
	assert.Equal(t, "", testutil.GetCursor(t, db))
}

func TestIngestor_BatchProcessedInStreamOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	src := &fakeSource{events: []horizon.PaymentEvent{
		nativeEvent("1", receivingAccount, "cust42", 10),
		nativeEvent("2", receivingAccount, "cust42", 20),
		nativeEvent("3", receivingAccount, "cust42", 30),
	}}
	ing := newTestIngestor(t, db, src, config.MemoPolicySkip)

	require.NoError(t, ing.pollOnce(ctx))

	assert.Equal(t, int64(60), testutil.GetBalance(t, db, cust.ID))
	assert.Equal(t, "3", testutil.GetCursor(t, db))

	// A second poll resumes from the committed cursor and finds nothing.
	require.NoError(t, ing.pollOnce(ctx))
	assert.Equal(t, int64(60), testutil.GetBalance(t, db, cust.ID))
}
