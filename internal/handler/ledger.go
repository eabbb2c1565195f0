package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tokenbill/tokenbill/internal/auth"
	"github.com/tokenbill/tokenbill/internal/billing"
	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/ledger"
	"github.com/tokenbill/tokenbill/internal/logging"
)

type billingService interface {
	GetStatement(ctx context.Context, userID uuid.UUID, limit, offset int) (*billing.Statement, error)
	ManualTopUp(ctx context.Context, userID uuid.UUID, amount int64, currency domain.Currency) (*ledger.Result, error)
	Adjust(ctx context.Context, userID uuid.UUID, delta int64) (*ledger.Result, error)
}

type LedgerHandler struct {
	billing billingService
}

func NewLedgerHandler(billing billingService) *LedgerHandler {
	return &LedgerHandler{billing: billing}
}

type entryDTO struct {
	ID             uuid.UUID        `json:"id"`
	Type           domain.EntryType `json:"type"`
	Delta          int64            `json:"delta"`
	BalanceAfter   int64            `json:"balance_after"`
	Currency       *domain.Currency `json:"currency,omitempty"`
	ExternalAmount *int64           `json:"external_amount,omitempty"`
	ReceiptRef     *string          `json:"receipt_ref,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// List returns the user's ledger newest-first.
func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	limit, offset := pagination(r)
	statement, err := h.billing.GetStatement(r.Context(), userID, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to read ledger", "error", err)
		RespondDomainError(w, err)
		return
	}

	entries := make([]entryDTO, 0, len(statement.Entries))
	for _, e := range statement.Entries {
		entries = append(entries, toEntryDTO(&e))
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"balance": statement.Balance,
		"entries": entries,
		"total":   statement.Total,
	})
}

type ledgerPostRequest struct {
	Type     string `json:"type"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Delta    int64  `json:"delta"`
}

// Post applies a self-service ledger operation: a top-up converted from a
// real-money amount, or a signed adjustment.
func (h *LedgerHandler) Post(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req ledgerPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	var (
		res *ledger.Result
		err error
	)
	switch req.Type {
	case "top_up":
		res, err = h.billing.ManualTopUp(r.Context(), userID, req.Amount, domain.Currency(req.Currency))
	case "adjust":
		res, err = h.billing.Adjust(r.Context(), userID, req.Delta)
	default:
		RespondValidationError(w, []FieldError{{Field: "type", Message: "must be top_up or adjust"}})
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn("ledger operation rejected",
			"user_id", userID, "type", req.Type, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, map[string]any{
		"entry":   toEntryDTO(res.Entry),
		"balance": res.NewBalance,
	})
}

func toEntryDTO(e *domain.LedgerEntry) entryDTO {
	return entryDTO{
		ID:             e.ID,
		Type:           e.EntryType,
		Delta:          e.Delta,
		BalanceAfter:   e.BalanceAfter,
		Currency:       e.Currency,
		ExternalAmount: e.ExternalAmount,
		ReceiptRef:     e.ReceiptRef,
		CreatedAt:      e.CreatedAt,
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
