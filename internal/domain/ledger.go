package domain

import (
	"time"

	"github.com/google/uuid"
)

type EntryType string

const (
	EntryTypeTopUp            EntryType = "top_up"
	EntryTypeInvoiceCharge    EntryType = "invoice_charge"
	EntryTypeAdjustment       EntryType = "adjustment"
	EntryTypeExternalPurchase EntryType = "external_purchase"
)

// LedgerEntry is immutable once written. Seq totally orders entries per
// user; BalanceAfter of entry N equals BalanceAfter of entry N-1 plus Delta.
type LedgerEntry struct {
	ID             uuid.UUID
	Seq            int64
	UserID         uuid.UUID
	EntryType      EntryType
	Delta          int64
	BalanceAfter   int64
	Currency       *Currency
	ExternalAmount *int64
	ReceiptRef     *string
	CreatedAt      time.Time
}

// EntryMetadata is the closed set of per-type payloads accepted by the
// ledger mutator. Each entry type has its own shape instead of an untyped
// bag; the mutator validates the payload before touching storage.
type EntryMetadata interface {
	EntryType() EntryType
}

// TopUpMetadata describes a credit purchased with real money, either by the
// user directly or via a hosted payment callback. Amount is in the minor
// units of Currency.
type TopUpMetadata struct {
	Currency   Currency
	Amount     int64
	ReceiptRef *string
}

func (TopUpMetadata) EntryType() EntryType { return EntryTypeTopUp }

// ChargeMetadata ties an invoice_charge entry to the invoice it paid for.
type ChargeMetadata struct {
	InvoiceID uuid.UUID
}

func (ChargeMetadata) EntryType() EntryType { return EntryTypeInvoiceCharge }

// AdjustmentMetadata covers manual corrections. The delta carries the sign.
type AdjustmentMetadata struct{}

func (AdjustmentMetadata) EntryType() EntryType { return EntryTypeAdjustment }

// PurchaseMetadata describes a credit confirmed by an external provider
// event. ReceiptRef is the provider event id and is unique across all
// external_purchase entries, which is what makes replayed deliveries safe.
type PurchaseMetadata struct {
	Currency   *Currency
	Amount     *int64
	ReceiptRef string
}

func (PurchaseMetadata) EntryType() EntryType { return EntryTypeExternalPurchase }
