package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tokenbill/tokenbill/internal/auth"
	"github.com/tokenbill/tokenbill/internal/billing"
	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/logging"
)

type paymentService interface {
	CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
	InitiateHostedPayment(ctx context.Context, req billing.HostedPaymentRequest) (*billing.HostedPaymentResult, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
}

type PaymentHandler struct {
	billing paymentService
}

func NewPaymentHandler(billing paymentService) *PaymentHandler {
	return &PaymentHandler{billing: billing}
}

type checkoutRequest struct {
	Tokens   int64  `json:"tokens"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (r checkoutRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Tokens <= 0 {
		errs = append(errs, FieldError{Field: "tokens", Message: "must be greater than zero"})
	}
	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than zero in minor units"})
	}
	if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be one of USD, EUR, GBP"})
	}
	return errs
}

type paymentDTO struct {
	ID        uuid.UUID            `json:"id"`
	Reference string               `json:"reference"`
	Amount    int64                `json:"amount"`
	Currency  domain.Currency      `json:"currency"`
	Status    domain.PaymentStatus `json:"status"`
	Provider  string               `json:"provider"`
	CreatedAt time.Time            `json:"created_at"`
}

// CreateCheckout opens a Stripe Checkout session for a token purchase.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	result, err := h.billing.CreateCheckout(r.Context(), billing.CheckoutRequest{
		UserID:   userID,
		Tokens:   req.Tokens,
		Amount:   req.Amount,
		Currency: domain.Currency(req.Currency),
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("checkout creation failed", "user_id", userID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, map[string]any{
		"payment":      toPaymentDTO(result.Payment),
		"checkout_url": result.CheckoutURL,
	})
}

type hostedPaymentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (r hostedPaymentRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than zero in minor units"})
	}
	if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be one of USD, EUR, GBP"})
	}
	return errs
}

// CreateHostedPayment opens a Provider X hosted session. Tokens are not
// chosen up front: the credited amount is derived from the paid amount
// when the asynchronous callback arrives.
func (h *PaymentHandler) CreateHostedPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req hostedPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	result, err := h.billing.InitiateHostedPayment(r.Context(), billing.HostedPaymentRequest{
		UserID:   userID,
		Amount:   req.Amount,
		Currency: domain.Currency(req.Currency),
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("hosted payment initiation failed", "user_id", userID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, map[string]any{
		"payment":      toPaymentDTO(result.Payment),
		"redirect_url": result.RedirectURL,
	})
}

func (h *PaymentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	payment, err := h.billing.GetPayment(r.Context(), paymentID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if payment.UserID != userID {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	RespondSuccess(w, http.StatusOK, toPaymentDTO(payment))
}

func toPaymentDTO(p *domain.Payment) paymentDTO {
	return paymentDTO{
		ID:        p.ID,
		Reference: p.Reference,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    p.Status,
		Provider:  string(p.Provider),
		CreatedAt: p.CreatedAt,
	}
}
