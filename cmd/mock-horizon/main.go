// mock-horizon is an in-memory stand-in for the public-ledger node,
// for local development against cmd/anchor. It serves the payment
// stream, account lookup, and submission endpoints, and exposes a
// /friendbot endpoint to seed accounts and deposit events.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crestpay/anchor/internal/logging"
)

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

type node struct {
	mu       sync.Mutex
	accounts map[string]int64 // address -> sequence
	payments []paymentRecord
	memos    map[string]string // tx hash -> memo
	nextSeq  int64
}

func newNode() *node {
	return &node{
		accounts: make(map[string]int64),
		memos:    make(map[string]string),
		nextSeq:  1,
	}
}

func (n *node) appendPayment(from, to, amount, memo string) paymentRecord {
	hash := uuid.NewString()
	rec := paymentRecord{
		ID:              strconv.FormatInt(n.nextSeq, 10),
		PagingToken:     fmt.Sprintf("%d", n.nextSeq),
		TransactionHash: hash,
		From:            from,
		To:              to,
		AssetType:       "native",
		Amount:          amount,
		Memo:            memo,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	n.nextSeq++
	n.payments = append(n.payments, rec)
	n.memos[hash] = memo
	return rec
}

func (n *node) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")

	n.mu.Lock()
	seq, ok := n.accounts[addr]
	n.mu.Unlock()

	if !ok {
		writeProblem(w, http.StatusNotFound, "Resource Missing", "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":       addr,
		"sequence": strconv.FormatInt(seq, 10),
	})
}

func (n *node) handlePayments(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	cursor := r.URL.Query().Get("cursor")
	limit := 10
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var records []paymentRecord
	for _, p := range n.payments {
		if p.To != addr && p.From != addr {
			continue
		}
		if cursor != "" {
			ci, _ := strconv.ParseInt(cursor, 10, 64)
			pi, _ := strconv.ParseInt(p.PagingToken, 10, 64)
			if pi <= ci {
				continue
			}
		}
		records = append(records, p)
		if len(records) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"_embedded": map[string]any{"records": records},
	})
}

func (n *node) handleTransaction(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	n.mu.Lock()
	memo, ok := n.memos[hash]
	n.mu.Unlock()

	if !ok {
		writeProblem(w, http.StatusNotFound, "Resource Missing", "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": hash, "memo": memo})
}

type submitRequest struct {
	SourceSeed      string `json:"source_seed"`
	Destination     string `json:"destination"`
	Amount          string `json:"amount"`
	Memo            string `json:"memo"`
	StartingBalance string `json:"starting_balance"`
}

func (n *node) handleSubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.accounts[req.Destination]; !ok {
		writeProblem(w, http.StatusNotFound, "Resource Missing", "destination account not found")
		return
	}

	rec := n.appendPayment("mock-submitter", req.Destination, req.Amount, req.Memo)
	writeJSON(w, http.StatusOK, map[string]any{"hash": rec.TransactionHash, "ledger": n.nextSeq})
}

func (n *node) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.accounts[req.Destination]; ok {
		writeProblem(w, http.StatusBadRequest, "Transaction Failed", "account already exists")
		return
	}

	n.accounts[req.Destination] = 1
	rec := n.appendPayment("mock-submitter", req.Destination, req.StartingBalance, "")
	writeJSON(w, http.StatusOK, map[string]any{"hash": rec.TransactionHash, "ledger": n.nextSeq})
}

// handleFriendbot seeds an account and, when to/amount/memo are given,
// an inbound deposit event for local runs.
func (n *node) handleFriendbot(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("addr")
	if addr == "" {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "addr required")
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.accounts[addr] = 1

	to := r.URL.Query().Get("to")
	amount := r.URL.Query().Get("amount")
	if to != "" && amount != "" {
		n.accounts[to] = 1
		n.appendPayment(addr, to, amount, r.URL.Query().Get("memo"))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeJSON(w, status, map[string]string{"title": title, "detail": detail})
}

func main() {
	logging.Init("mock-horizon", "info", os.Getenv("APP_ENV"))

	n := newNode()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /accounts/{addr}", n.handleAccount)
	mux.HandleFunc("GET /accounts/{addr}/payments", n.handlePayments)
	mux.HandleFunc("GET /transactions/{hash}", n.handleTransaction)
	mux.HandleFunc("POST /payments", n.handleSubmitPayment)
	mux.HandleFunc("POST /accounts", n.handleCreateAccount)
	mux.HandleFunc("GET /friendbot", n.handleFriendbot)

	addr := ":8082"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}

	slog.Info("mock horizon started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
