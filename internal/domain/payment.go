package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentProvider string

const (
	PaymentProviderStripe    PaymentProvider = "stripe"
	PaymentProviderProviderX PaymentProvider = "providerx"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// IsTerminal reports whether no further status transition is allowed.
// Transitions are monotonic: pending -> processing -> {succeeded, failed}.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

// Payment records one external payment attempt. Reference is the
// provider-assigned id used to correlate asynchronous confirmations;
// exactly one row exists per initiated attempt and rows are never deleted.
type Payment struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Reference         string
	Amount            int64
	Currency          Currency
	Status            PaymentStatus
	Provider          PaymentProvider
	ProviderPaymentID *string
	ErrorMessage      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
