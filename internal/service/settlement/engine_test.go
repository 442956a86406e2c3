package settlement

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestpay/anchor/internal/domain"
	"github.com/crestpay/anchor/internal/horizon"
	"github.com/crestpay/anchor/internal/repository"
	"github.com/crestpay/anchor/internal/service/withdrawal"
	"github.com/crestpay/anchor/internal/testutil"
)

// fakeNetwork is an in-memory ledger node that records every submission
// and can be told to fail.
type fakeNetwork struct {
	accounts map[string]bool

	payments       []horizon.PaymentTx
	createAccounts []horizon.CreateAccountTx

	submitErr error
	failDest  map[string]error

	inFlight    int
	maxInFlight int
}

func newFakeNetwork(existing ...string) *fakeNetwork {
	accounts := make(map[string]bool)
	for _, a := range existing {
		accounts[a] = true
	}
	return &fakeNetwork{accounts: accounts}
}

func (f *fakeNetwork) Account(_ context.Context, address string) (*horizon.Account, error) {
	if !f.accounts[address] {
		return nil, domain.ErrAccountNotFound
	}
	return &horizon.Account{ID: address, Sequence: 1}, nil
}

func (f *fakeNetwork) enter() {
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	// Give a hypothetical concurrent submitter a chance to overlap.
	time.Sleep(time.Millisecond)
}

func (f *fakeNetwork) leave() { f.inFlight-- }

func (f *fakeNetwork) SubmitPayment(_ context.Context, tx horizon.PaymentTx) (*horizon.SubmitResult, error) {
	f.enter()
	defer f.leave()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if err := f.failDest[tx.Destination]; err != nil {
		return nil, err
	}
	f.payments = append(f.payments, tx)
	return &horizon.SubmitResult{Hash: "hash-" + tx.Destination, Ledger: int32(len(f.payments))}, nil
}

func (f *fakeNetwork) SubmitCreateAccount(_ context.Context, tx horizon.CreateAccountTx) (*horizon.SubmitResult, error) {
	f.enter()
	defer f.leave()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.accounts[tx.Destination] = true
	f.createAccounts = append(f.createAccounts, tx)
	return &horizon.SubmitResult{Hash: "create-" + tx.Destination, Ledger: 1}, nil
}

func newTestEngine(db *sql.DB, net *fakeNetwork) *Engine {
	return NewEngine(
		repository.NewWithdrawalRepository(db),
		net,
		time.Second,
		50,
		slog.Default(),
	)
}

func withdrawalRow(t *testing.T, db *sql.DB, id string) (state domain.WithdrawalState, txHash, reason sql.NullString) {
	t.Helper()
	err := db.QueryRow(
		`SELECT state, tx_hash, failure_reason FROM withdrawal_requests WHERE id = $1`, id,
	).Scan(&state, &txHash, &reason)
	require.NoError(t, err)
	return state, txHash, reason
}

func TestEngine_SettlesPendingWithdrawal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	w := testutil.SeedWithdrawal(t, db, cust.ID, 500, "GDEST", domain.WithdrawalStatePending)
	net := newFakeNetwork("GDEST")

	newTestEngine(db, net).cycle(ctx)

	state, txHash, _ := withdrawalRow(t, db, w.ID.String())
	assert.Equal(t, domain.WithdrawalStateDone, state)
	assert.Equal(t, "hash-GDEST", txHash.String)

	require.Len(t, net.payments, 1)
	assert.Equal(t, "GDEST", net.payments[0].Destination)
	assert.Equal(t, int64(500), net.payments[0].Amount)
	assert.Equal(t, w.ID.String(), net.payments[0].Memo)
	assert.Empty(t, net.createAccounts)
}

func TestEngine_CreatesAbsentDestination(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	w := testutil.SeedWithdrawal(t, db, cust.ID, 300, "GNEW", domain.WithdrawalStatePending)
	net := newFakeNetwork()

	newTestEngine(db, net).cycle(ctx)

	state, txHash, _ := withdrawalRow(t, db, w.ID.String())
	assert.Equal(t, domain.WithdrawalStateDone, state)
	assert.Equal(t, "create-GNEW", txHash.String)

	require.Len(t, net.createAccounts, 1)
	assert.Equal(t, "GNEW", net.createAccounts[0].Destination)
	assert.Equal(t, int64(300), net.createAccounts[0].StartingBalance)
	assert.Empty(t, net.payments, "create-and-fund replaces the payment, not precedes it")
}

func TestEngine_SubmissionFailureIsTerminal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	w := testutil.SeedWithdrawal(t, db, cust.ID, 500, "GDEST", domain.WithdrawalStatePending)
	net := newFakeNetwork("GDEST")
	net.submitErr = errors.New("tx_failed: op_underfunded")

	engine := newTestEngine(db, net)
	engine.cycle(ctx)

	state, _, reason := withdrawalRow(t, db, w.ID.String())
	assert.Equal(t, domain.WithdrawalStateError, state)
	assert.Contains(t, reason.String, "op_underfunded")

	// A later cycle must not retry the errored row, even once the
	// network recovers.
	net.submitErr = nil
	engine.cycle(ctx)

	state, _, _ = withdrawalRow(t, db, w.ID.String())
	assert.Equal(t, domain.WithdrawalStateError, state)
	assert.Empty(t, net.payments)
}

func TestEngine_SendingRowIsNeverResubmitted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	// A row stuck in "sending" is a crashed submission of unknown
	// outcome; only an operator may resolve it.
	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	w := testutil.SeedWithdrawal(t, db, cust.ID, 500, "GDEST", domain.WithdrawalStateSending)
	net := newFakeNetwork("GDEST")

	newTestEngine(db, net).cycle(ctx)

	state, _, _ := withdrawalRow(t, db, w.ID.String())
	assert.Equal(t, domain.WithdrawalStateSending, state)
	assert.Empty(t, net.payments)
	assert.Empty(t, net.createAccounts)
}

func TestEngine_DrainsBatchSequentially(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	for range 5 {
		testutil.SeedWithdrawal(t, db, cust.ID, 100, "GDEST", domain.WithdrawalStatePending)
	}
	net := newFakeNetwork("GDEST")

	newTestEngine(db, net).cycle(ctx)

	assert.Len(t, net.payments, 5)
	assert.Equal(t, 1, net.maxInFlight, "submissions must be strictly serialized")

	rows, err := repository.NewWithdrawalRepository(db).ListByState(ctx, domain.WithdrawalStateDone, 10, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestEngine_FailureDoesNotStopBatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 0)
	bad := testutil.SeedWithdrawal(t, db, cust.ID, 100, "GBAD", domain.WithdrawalStatePending)
	time.Sleep(10 * time.Millisecond) // distinct created_at ordering
	good := testutil.SeedWithdrawal(t, db, cust.ID, 100, "GDEST", domain.WithdrawalStatePending)

	net := newFakeNetwork("GDEST", "GBAD")
	net.failDest = map[string]error{"GBAD": errors.New("tx_failed")}

	newTestEngine(db, net).cycle(ctx)

	badState, _, _ := withdrawalRow(t, db, bad.ID.String())
	goodState, _, _ := withdrawalRow(t, db, good.ID.String())
	assert.Equal(t, domain.WithdrawalStateError, badState)
	assert.Equal(t, domain.WithdrawalStateDone, goodState)
}

func TestEngine_SettlesRequestedWithdrawal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cust := testutil.SeedCustomer(t, db, "Ada", "cust42", 100)
	withdrawals := repository.NewWithdrawalRepository(db)
	svc := withdrawal.NewService(withdrawals, repository.NewBalanceRepository(db), db)

	w, err := svc.Request(ctx, cust.ID, 50, "addrX")
	require.NoError(t, err)
	assert.Equal(t, int64(50), testutil.GetBalance(t, db, cust.ID))

	// addrX does not exist on the ledger yet; one create-and-fund
	// submission must carry the request to done.
	net := newFakeNetwork()
	newTestEngine(db, net).cycle(ctx)

	state, txHash, _ := withdrawalRow(t, db, w.ID.String())
	assert.Equal(t, domain.WithdrawalStateDone, state)
	assert.NotEmpty(t, txHash.String)
	assert.Len(t, net.createAccounts, 1)
	assert.Empty(t, net.payments)
}
