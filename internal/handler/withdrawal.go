package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/crestpay/anchor/internal/domain"
	"github.com/crestpay/anchor/internal/logging"
)

type withdrawalService interface {
	Request(ctx context.Context, customerID uuid.UUID, amount int64, destination string) (*domain.WithdrawalRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	ListByState(ctx context.Context, state domain.WithdrawalState, limit, offset int) ([]domain.WithdrawalRequest, error)
	Balance(ctx context.Context, customerID uuid.UUID) (*domain.Balance, error)
}

type WithdrawalHandler struct {
	withdrawals withdrawalService
}

func NewWithdrawalHandler(withdrawals withdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

type createWithdrawalRequest struct {
	CustomerID         string `json:"customer_id"`
	Amount             int64  `json:"amount"`
	DestinationAddress string `json:"destination_address"`
}

func (r createWithdrawalRequest) Validate() []FieldError {
	var errs []FieldError

	if r.CustomerID == "" {
		errs = append(errs, FieldError{Field: "customer_id", Message: "required"})
	} else if _, err := uuid.Parse(r.CustomerID); err != nil {
		errs = append(errs, FieldError{Field: "customer_id", Message: "must be a UUID"})
	}

	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if r.DestinationAddress == "" {
		errs = append(errs, FieldError{Field: "destination_address", Message: "required"})
	}

	return errs
}

type withdrawalDTO struct {
	ID                 uuid.UUID `json:"id"`
	CustomerID         uuid.UUID `json:"customer_id"`
	DestinationAddress string    `json:"destination_address"`
	Amount             int64     `json:"amount"`
	Status             string    `json:"status"`
	TxHash             *string   `json:"tx_hash,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// toWithdrawalDTO maps internal states to customer-facing statuses. An
// "error" row is reported as pending manual review: the request is never
// silently resubmitted and never presented as failed-and-refunded.
func toWithdrawalDTO(w *domain.WithdrawalRequest) withdrawalDTO {
	status := string(w.State)
	switch w.State {
	case domain.WithdrawalStateSending:
		status = "processing"
	case domain.WithdrawalStateDone:
		status = "completed"
	case domain.WithdrawalStateError:
		status = "pending_manual_review"
	}

	return withdrawalDTO{
		ID:                 w.ID,
		CustomerID:         w.CustomerID,
		DestinationAddress: w.DestinationAddress,
		Amount:             w.Amount,
		Status:             status,
		TxHash:             w.TxHash,
		CreatedAt:          w.CreatedAt,
		UpdatedAt:          w.UpdatedAt,
	}
}

func (h *WithdrawalHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	customerID, _ := uuid.Parse(req.CustomerID)
	wr, err := h.withdrawals.Request(r.Context(), customerID, req.Amount, req.DestinationAddress)
	if err != nil {
		log.Warn("withdrawal request rejected", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/withdrawals/%s", wr.ID))
	RespondSuccess(w, http.StatusCreated, toWithdrawalDTO(wr))
}

func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	wr, err := h.withdrawals.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toWithdrawalDTO(wr))
}

// List is an operator surface, mainly for draining the error queue.
func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	state := domain.WithdrawalState(r.URL.Query().Get("state"))
	switch state {
	case domain.WithdrawalStatePending, domain.WithdrawalStateSending,
		domain.WithdrawalStateDone, domain.WithdrawalStateError:
	default:
		RespondValidationError(w, []FieldError{{Field: "state", Message: "must be pending, sending, done, or error"}})
		return
	}

	limit, offset := paginationParams(r, 50)
	rows, err := h.withdrawals.ListByState(r.Context(), state, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]withdrawalDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, toWithdrawalDTO(&rows[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *WithdrawalHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	b, err := h.withdrawals.Balance(r.Context(), customerID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"customer_id": b.CustomerID,
		"balance":     b.Amount,
		"updated_at":  b.UpdatedAt,
	})
}
