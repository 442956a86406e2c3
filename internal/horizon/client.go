package horizon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crestpay/anchor/internal/domain"
)

// Client talks to a horizon-style ledger node. Transaction signing is
// handled upstream of this process; the client authorizes submissions
// with the submitting account's seed and leaves envelope construction
// to the node-side signer.
type Client struct {
	baseURL    string
	account    string
	seed       string
	passphrase string
	httpClient *http.Client
}

func NewClient(baseURL, account, seed, passphrase string) *Client {
	return &Client{
		baseURL:    baseURL,
		account:    account,
		seed:       seed,
		passphrase: passphrase,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type paymentRecord struct {
	ID              string `json:"id"`
	PagingToken     string `json:"paging_token"`
	TransactionHash string `json:"transaction_hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	AssetType       string `json:"asset_type"`
	Amount          string `json:"amount"`
	Memo            string `json:"memo,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type paymentsPage struct {
	Embedded struct {
		Records []paymentRecord `json:"records"`
	} `json:"_embedded"`
}

// Payments returns the next page of payment events addressed to or from
// the given account, in stream order, strictly after cursor. An empty
// cursor reads from the stream origin.
func (c *Client) Payments(ctx context.Context, address, cursor string, limit int) ([]PaymentEvent, error) {
	q := url.Values{}
	q.Set("order", "asc")
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	u := fmt.Sprintf("%s/accounts/%s/payments?%s", c.baseURL, url.PathEscape(address), q.Encode())
	var page paymentsPage
	if err := c.get(ctx, u, &page); err != nil {
		return nil, fmt.Errorf("Payments: %w", err)
	}

	events := make([]PaymentEvent, 0, len(page.Embedded.Records))
	for _, rec := range page.Embedded.Records {
		ev, err := toPaymentEvent(rec)
		if err != nil {
			return nil, fmt.Errorf("Payments: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

type accountResponse struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"`
}

// Account loads an account by address. Returns domain.ErrAccountNotFound
// when the account does not exist on the ledger.
func (c *Client) Account(ctx context.Context, address string) (*Account, error) {
	u := fmt.Sprintf("%s/accounts/%s", c.baseURL, url.PathEscape(address))
	var resp accountResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("Account: %w", err)
	}

	seq, err := strconv.ParseInt(resp.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("Account: parse sequence %q: %w", resp.Sequence, err)
	}
	return &Account{ID: resp.ID, Sequence: seq}, nil
}

type transactionResponse struct {
	Hash string `json:"hash"`
	Memo string `json:"memo"`
}

// TransactionMemo fetches the memo of the transaction that carried a
// payment. Payment records do not embed the memo themselves.
func (c *Client) TransactionMemo(ctx context.Context, txHash string) (string, error) {
	u := fmt.Sprintf("%s/transactions/%s", c.baseURL, url.PathEscape(txHash))
	var resp transactionResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return "", fmt.Errorf("TransactionMemo: %w", err)
	}
	return resp.Memo, nil
}

type submitPayload struct {
	SourceAccount     string `json:"source_account"`
	SourceSeed        string `json:"source_seed"`
	NetworkPassphrase string `json:"network_passphrase"`
	Destination       string `json:"destination"`
	Amount            string `json:"amount"`
	Memo              string `json:"memo,omitempty"`
	StartingBalance   string `json:"starting_balance,omitempty"`
}

type submitResponse struct {
	Hash   string `json:"hash"`
	Ledger int32  `json:"ledger"`
}

// SubmitPayment submits a direct payment from the submitting account.
// Fails with domain.ErrAccountNotFound if the destination does not exist
// on the ledger yet.
func (c *Client) SubmitPayment(ctx context.Context, tx PaymentTx) (*SubmitResult, error) {
	res, err := c.submit(ctx, "/payments", submitPayload{
		SourceAccount:     c.account,
		SourceSeed:        c.seed,
		NetworkPassphrase: c.passphrase,
		Destination:       tx.Destination,
		Amount:            FormatAmount(tx.Amount),
		Memo:              tx.Memo,
	})
	if err != nil {
		return nil, fmt.Errorf("SubmitPayment: %w", err)
	}
	return res, nil
}

// SubmitCreateAccount creates and funds a destination account in one
// operation, for destinations that do not exist on the ledger yet.
func (c *Client) SubmitCreateAccount(ctx context.Context, tx CreateAccountTx) (*SubmitResult, error) {
	res, err := c.submit(ctx, "/accounts", submitPayload{
		SourceAccount:     c.account,
		SourceSeed:        c.seed,
		NetworkPassphrase: c.passphrase,
		Destination:       tx.Destination,
		StartingBalance:   FormatAmount(tx.StartingBalance),
	})
	if err != nil {
		return nil, fmt.Errorf("SubmitCreateAccount: %w", err)
	}
	return res, nil
}

func (c *Client) submit(ctx context.Context, path string, payload submitPayload) (*SubmitResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("submit: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("submit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit: send: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("submit: decode: %w", err)
	}
	return &SubmitResult{Hash: result.Hash, Ledger: result.Ledger}, nil
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

type problemResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrAccountNotFound
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var problem problemResponse
	if err := json.Unmarshal(raw, &problem); err == nil && problem.Title != "" {
		return fmt.Errorf("%s: %s: %w", problem.Title, problem.Detail, domain.ErrSubmissionRejected)
	}
	return fmt.Errorf("status %d: %s: %w", resp.StatusCode, string(raw), domain.ErrSubmissionRejected)
}

func toPaymentEvent(rec paymentRecord) (PaymentEvent, error) {
	amount, err := ParseAmount(rec.Amount)
	if err != nil {
		return PaymentEvent{}, fmt.Errorf("event %s: %w", rec.ID, err)
	}

	var createdAt time.Time
	if rec.CreatedAt != "" {
		createdAt, err = time.Parse(time.RFC3339, rec.CreatedAt)
		if err != nil {
			return PaymentEvent{}, fmt.Errorf("event %s: parse created_at: %w", rec.ID, err)
		}
	}

	return PaymentEvent{
		ID:              rec.ID,
		PagingToken:     rec.PagingToken,
		TransactionHash: rec.TransactionHash,
		From:            rec.From,
		To:              rec.To,
		AssetType:       rec.AssetType,
		Amount:          amount,
		Memo:            rec.Memo,
		CreatedAt:       createdAt,
	}, nil
}
