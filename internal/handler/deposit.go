package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/crestpay/anchor/internal/domain"
)

type unresolvedLister interface {
	List(ctx context.Context, limit, offset int) ([]domain.UnresolvedDeposit, error)
}

// DepositHandler exposes the operator view of deposits the ingestor
// advanced past without crediting.
type DepositHandler struct {
	unresolved unresolvedLister
}

func NewDepositHandler(unresolved unresolvedLister) *DepositHandler {
	return &DepositHandler{unresolved: unresolved}
}

type unresolvedDTO struct {
	EventID   string `json:"event_id"`
	Memo      string `json:"memo"`
	From      string `json:"from"`
	Amount    int64  `json:"amount"`
	AssetType string `json:"asset_type"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

func (h *DepositHandler) ListUnresolved(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r, 50)

	rows, err := h.unresolved.List(r.Context(), limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]unresolvedDTO, 0, len(rows))
	for _, u := range rows {
		dtos = append(dtos, unresolvedDTO{
			EventID:   u.EventID,
			Memo:      u.Memo,
			From:      u.From,
			Amount:    u.Amount,
			AssetType: u.AssetType,
			Reason:    string(u.Reason),
			CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func paginationParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
