package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrInvalidDelta        = errors.New("invalid ledger delta")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrDuplicateDelivery   = errors.New("duplicate delivery")
	ErrPaymentTerminal     = errors.New("payment already in terminal state")
	ErrStorageConflict     = errors.New("concurrent write conflict")
	ErrEmailTaken          = errors.New("email already registered")
)
