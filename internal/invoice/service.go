// Package invoice implements invoice creation and its token charge. A
// non-draft invoice and the fee debit commit in one transaction: a failed
// charge never leaves an invoice behind and a failed insert never leaves a
// stray charge.
package invoice

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/ledger"
	"github.com/tokenbill/tokenbill/internal/logging"
)

type invoiceRepo interface {
	Create(ctx context.Context, tx *sql.Tx, invoice *domain.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Invoice, int, error)
	Update(ctx context.Context, invoice *domain.Invoice) error
}

type balanceMutator interface {
	ApplyInTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, delta int64, meta domain.EntryMetadata) (*ledger.Result, error)
	InvalidateBalance(userID uuid.UUID)
}

type Service struct {
	invoices  invoiceRepo
	ledger    balanceMutator
	db        *sql.DB
	feeTokens int64
}

func NewService(invoices invoiceRepo, mutator balanceMutator, db *sql.DB, feeTokens int64) *Service {
	return &Service{
		invoices:  invoices,
		ledger:    mutator,
		db:        db,
		feeTokens: feeTokens,
	}
}

type CreateRequest struct {
	UserID        uuid.UUID
	Number        string
	CustomerName  string
	CustomerEmail *string
	Currency      domain.Currency
	Subtotal      decimal.Decimal
	TaxRate       decimal.Decimal
	Draft         bool
}

type CreateResult struct {
	Invoice    *domain.Invoice
	NewBalance *int64
}

// Create inserts an invoice. Drafts bypass the ledger entirely; issued
// invoices debit the creation fee in the same transaction. There is no
// request-level idempotency key: the charge is 1:1 with row creation, and
// retries are the caller's responsibility.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	log := logging.FromContext(ctx)

	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("Create: %w", domain.ErrInvalidCurrency)
	}
	if req.Subtotal.IsNegative() {
		return nil, fmt.Errorf("Create: %w", domain.ErrInvalidAmount)
	}

	now := time.Now().UTC()
	inv := &domain.Invoice{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Number:        req.Number,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Currency:      req.Currency,
		Subtotal:      req.Subtotal,
		TaxRate:       req.TaxRate,
		Total:         req.Subtotal.Mul(decimal.NewFromInt(1).Add(req.TaxRate)).Round(2),
		Status:        domain.InvoiceStatusIssued,
		IssuedAt:      &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Draft {
		inv.Status = domain.InvoiceStatusDraft
		inv.IssuedAt = nil
	}

	var newBalance *int64
	err := ledger.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		newBalance = nil
		if !req.Draft {
			// Debit first: if the balance is short the whole scope aborts
			// and the invoice row is never written.
			res, err := s.ledger.ApplyInTx(ctx, tx, req.UserID, -s.feeTokens,
				domain.ChargeMetadata{InvoiceID: inv.ID})
			if err != nil {
				return fmt.Errorf("charge: %w", err)
			}
			newBalance = &res.NewBalance
		}
		return s.invoices.Create(ctx, tx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	if !req.Draft {
		s.ledger.InvalidateBalance(req.UserID)
		log.Info("invoice created and charged",
			"invoice_id", inv.ID,
			"user_id", req.UserID,
			"fee_tokens", s.feeTokens,
			"new_balance", *newBalance,
		)
	} else {
		log.Info("draft invoice created", "invoice_id", inv.ID, "user_id", req.UserID)
	}

	return &CreateResult{Invoice: inv, NewBalance: newBalance}, nil
}

type UpdateRequest struct {
	CustomerName  string
	CustomerEmail *string
	Currency      domain.Currency
	Subtotal      decimal.Decimal
	TaxRate       decimal.Decimal
}

// Update re-edits invoice fields. It never touches the ledger: the fee is
// charged once, at creation.
func (s *Service) Update(ctx context.Context, invoiceID, userID uuid.UUID, req UpdateRequest) (*domain.Invoice, error) {
	inv, err := s.GetForUser(ctx, invoiceID, userID)
	if err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("Update: %w", domain.ErrInvalidCurrency)
	}
	if req.Subtotal.IsNegative() {
		return nil, fmt.Errorf("Update: %w", domain.ErrInvalidAmount)
	}

	inv.CustomerName = req.CustomerName
	inv.CustomerEmail = req.CustomerEmail
	inv.Currency = req.Currency
	inv.Subtotal = req.Subtotal
	inv.TaxRate = req.TaxRate
	inv.Total = req.Subtotal.Mul(decimal.NewFromInt(1).Add(req.TaxRate)).Round(2)
	inv.UpdatedAt = time.Now().UTC()

	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}
	return inv, nil
}

func (s *Service) GetForUser(ctx context.Context, invoiceID, userID uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("GetForUser: %w", err)
	}
	if inv.UserID != userID {
		return nil, fmt.Errorf("GetForUser: %w", domain.ErrNotFound)
	}
	return inv, nil
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Invoice, int, error) {
	invoices, total, err := s.invoices.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListForUser: %w", err)
	}
	return invoices, total, nil
}
