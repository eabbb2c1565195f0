package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "draft"
	InvoiceStatusIssued InvoiceStatus = "issued"
)

// Invoice is a consumer of the ledger: issuing one debits the creation fee
// exactly once, inside the same transaction that inserts the row. Drafts
// are explicitly unpriced and never touch the ledger; later edits never
// re-charge.
type Invoice struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Number        string
	CustomerName  string
	CustomerEmail *string
	Currency      Currency
	Subtotal      decimal.Decimal
	TaxRate       decimal.Decimal
	Total         decimal.Decimal
	Status        InvoiceStatus
	IssuedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
