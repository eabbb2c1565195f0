package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbill/tokenbill/internal/auth"
	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/invoice"
	"github.com/tokenbill/tokenbill/internal/logging"
)

type invoiceService interface {
	Create(ctx context.Context, req invoice.CreateRequest) (*invoice.CreateResult, error)
	Update(ctx context.Context, invoiceID, userID uuid.UUID, req invoice.UpdateRequest) (*domain.Invoice, error)
	GetForUser(ctx context.Context, invoiceID, userID uuid.UUID) (*domain.Invoice, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Invoice, int, error)
}

type InvoiceHandler struct {
	invoices invoiceService
}

func NewInvoiceHandler(invoices invoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices}
}

type invoiceRequest struct {
	Number        string  `json:"number"`
	CustomerName  string  `json:"customer_name"`
	CustomerEmail *string `json:"customer_email"`
	Currency      string  `json:"currency"`
	Subtotal      string  `json:"subtotal"`
	TaxRate       string  `json:"tax_rate"`
	Draft         bool    `json:"draft"`
}

func (r invoiceRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Number == "" {
		errs = append(errs, FieldError{Field: "number", Message: "required"})
	}
	if r.CustomerName == "" {
		errs = append(errs, FieldError{Field: "customer_name", Message: "required"})
	}
	if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be one of USD, EUR, GBP"})
	}
	if _, err := decimal.NewFromString(r.Subtotal); err != nil {
		errs = append(errs, FieldError{Field: "subtotal", Message: "must be a decimal number"})
	}
	if r.TaxRate != "" {
		if _, err := decimal.NewFromString(r.TaxRate); err != nil {
			errs = append(errs, FieldError{Field: "tax_rate", Message: "must be a decimal number"})
		}
	}
	return errs
}

type invoiceDTO struct {
	ID            uuid.UUID            `json:"id"`
	Number        string               `json:"number"`
	CustomerName  string               `json:"customer_name"`
	CustomerEmail *string              `json:"customer_email,omitempty"`
	Currency      domain.Currency      `json:"currency"`
	Subtotal      string               `json:"subtotal"`
	TaxRate       string               `json:"tax_rate"`
	Total         string               `json:"total"`
	Status        domain.InvoiceStatus `json:"status"`
	IssuedAt      *time.Time           `json:"issued_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Create issues an invoice. Non-drafts are charged the creation fee inside
// the same transaction; an insufficient balance leaves nothing behind.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req invoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	subtotal, _ := decimal.NewFromString(req.Subtotal)
	taxRate := decimal.Zero
	if req.TaxRate != "" {
		taxRate, _ = decimal.NewFromString(req.TaxRate)
	}

	result, err := h.invoices.Create(r.Context(), invoice.CreateRequest{
		UserID:        userID,
		Number:        req.Number,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Currency:      domain.Currency(req.Currency),
		Subtotal:      subtotal,
		TaxRate:       taxRate,
		Draft:         req.Draft,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("invoice creation rejected", "user_id", userID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, map[string]any{
		"invoice": toInvoiceDTO(result.Invoice),
		"balance": result.NewBalance,
	})
}

func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	invoiceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req invoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	subtotal, _ := decimal.NewFromString(req.Subtotal)
	taxRate := decimal.Zero
	if req.TaxRate != "" {
		taxRate, _ = decimal.NewFromString(req.TaxRate)
	}

	inv, err := h.invoices.Update(r.Context(), invoiceID, userID, invoice.UpdateRequest{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Currency:      domain.Currency(req.Currency),
		Subtotal:      subtotal,
		TaxRate:       taxRate,
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *InvoiceHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	invoiceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	inv, err := h.invoices.GetForUser(r.Context(), invoiceID, userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	limit, offset := pagination(r)
	invoices, total, err := h.invoices.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]invoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		dtos = append(dtos, toInvoiceDTO(&inv))
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"invoices": dtos,
		"total":    total,
	})
}

func toInvoiceDTO(inv *domain.Invoice) invoiceDTO {
	return invoiceDTO{
		ID:            inv.ID,
		Number:        inv.Number,
		CustomerName:  inv.CustomerName,
		CustomerEmail: inv.CustomerEmail,
		Currency:      inv.Currency,
		Subtotal:      inv.Subtotal.String(),
		TaxRate:       inv.TaxRate.String(),
		Total:         inv.Total.String(),
		Status:        inv.Status,
		IssuedAt:      inv.IssuedAt,
		CreatedAt:     inv.CreatedAt,
	}
}
