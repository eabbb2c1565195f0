package domain

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

// User carries a denormalized token balance. The balance column is written
// only by the ledger mutator, which keeps it equal to the sum of the user's
// ledger entry deltas. Version guards the balance update against lost writes.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Currency     Currency
	Balance      int64
	Version      int64
	CreatedAt    time.Time
}
