// Package ledger is the only code path allowed to change a user's token
// balance. Every mutation appends a ledger entry and updates the
// denormalized balance inside one transaction, under a row lock on the
// user, so concurrent writers for the same user serialize and writers for
// different users do not contend.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/logging"
	"github.com/tokenbill/tokenbill/internal/repository"
)

const maxConflictRetries = 3

type userRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.User, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance, newVersion int64) error
}

type entryRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
}

type Result struct {
	Entry      *domain.LedgerEntry
	NewBalance int64
}

type Service struct {
	users    userRepo
	entries  entryRepo
	db       *sql.DB
	balances *gocache.Cache
}

func NewService(users userRepo, entries entryRepo, db *sql.DB, cacheTTL time.Duration) *Service {
	return &Service{
		users:    users,
		entries:  entries,
		db:       db,
		balances: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// RunInTx runs fn inside one transaction and retries the whole scope a
// bounded number of times with backoff when it fails on transient write
// contention (deadlock, serialization failure, lost version race). fn is
// re-run from scratch on retry, so all of its effects must go through tx.
func RunInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	op := func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("begin tx: %w", err))
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			if isRetryableConflict(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if err := tx.Commit(); err != nil {
			if repository.IsRetryableConflict(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("commit: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxConflictRetries), ctx)
	return backoff.Retry(op, policy)
}

// Apply runs one balance mutation in its own retried transaction.
func (s *Service) Apply(ctx context.Context, userID uuid.UUID, delta int64, meta domain.EntryMetadata) (*Result, error) {
	if err := validate(delta, meta); err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}

	var res *Result
	err := RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		r, err := s.ApplyInTx(ctx, tx, userID, delta, meta)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		if isRetryableConflict(err) {
			logging.FromContext(ctx).Error("balance mutation retries exhausted",
				"user_id", userID,
				"delta", delta,
				"entry_type", meta.EntryType(),
				"error", err,
			)
		}
		return nil, fmt.Errorf("Apply: %w", err)
	}

	s.InvalidateBalance(userID)
	return res, nil
}

// ApplyInTx applies a delta inside the caller's transaction, for flows that
// need the mutation atomic with their own writes (invoice creation, payment
// status transitions). The caller owns commit and must call
// InvalidateBalance afterwards.
func (s *Service) ApplyInTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, delta int64, meta domain.EntryMetadata) (*Result, error) {
	if err := validate(delta, meta); err != nil {
		return nil, fmt.Errorf("ApplyInTx: %w", err)
	}

	user, err := s.users.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("ApplyInTx: %w", err)
	}

	newBalance := user.Balance + delta
	if newBalance < 0 {
		return nil, fmt.Errorf("ApplyInTx: balance %d, delta %d: %w",
			user.Balance, delta, domain.ErrInsufficientBalance)
	}

	entry := newEntry(userID, delta, newBalance, meta)
	if err := s.entries.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("ApplyInTx: %w", err)
	}

	if err := s.users.UpdateBalance(ctx, tx, userID, newBalance, user.Version+1); err != nil {
		return nil, fmt.Errorf("ApplyInTx: %w", err)
	}

	return &Result{Entry: entry, NewBalance: newBalance}, nil
}

// Balance reads the authoritative balance from storage.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("Balance: %w", err)
	}
	return user.Balance, nil
}

// CachedBalance serves display reads from a short-lived cache. The cached
// value is never an input to a debit decision; mutations always re-read
// under the row lock.
func (s *Service) CachedBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if v, ok := s.balances.Get(userID.String()); ok {
		return v.(int64), nil
	}

	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("CachedBalance: %w", err)
	}
	s.balances.SetDefault(userID.String(), balance)
	return balance, nil
}

func (s *Service) InvalidateBalance(userID uuid.UUID) {
	s.balances.Delete(userID.String())
}

func newEntry(userID uuid.UUID, delta, balanceAfter int64, meta domain.EntryMetadata) *domain.LedgerEntry {
	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		UserID:       userID,
		EntryType:    meta.EntryType(),
		Delta:        delta,
		BalanceAfter: balanceAfter,
		CreatedAt:    time.Now().UTC(),
	}

	switch m := meta.(type) {
	case domain.TopUpMetadata:
		c := m.Currency
		amount := m.Amount
		entry.Currency = &c
		entry.ExternalAmount = &amount
		entry.ReceiptRef = m.ReceiptRef
	case domain.PurchaseMetadata:
		ref := m.ReceiptRef
		entry.ReceiptRef = &ref
		entry.Currency = m.Currency
		entry.ExternalAmount = m.Amount
	case domain.ChargeMetadata:
		ref := "invoice:" + m.InvoiceID.String()
		entry.ReceiptRef = &ref
	}

	return entry
}

func validate(delta int64, meta domain.EntryMetadata) error {
	if meta == nil {
		return fmt.Errorf("validate: nil metadata: %w", domain.ErrInvalidDelta)
	}

	switch m := meta.(type) {
	case domain.TopUpMetadata:
		if delta <= 0 {
			return fmt.Errorf("validate: top-up delta %d: %w", delta, domain.ErrInvalidDelta)
		}
		if !m.Currency.IsValid() {
			return fmt.Errorf("validate: %w", domain.ErrInvalidCurrency)
		}
		if m.Amount <= 0 {
			return fmt.Errorf("validate: %w", domain.ErrInvalidAmount)
		}
	case domain.PurchaseMetadata:
		if delta <= 0 {
			return fmt.Errorf("validate: purchase delta %d: %w", delta, domain.ErrInvalidDelta)
		}
		if m.ReceiptRef == "" {
			return fmt.Errorf("validate: purchase without receipt ref: %w", domain.ErrInvalidDelta)
		}
	case domain.ChargeMetadata:
		if delta >= 0 {
			return fmt.Errorf("validate: charge delta %d: %w", delta, domain.ErrInvalidDelta)
		}
		if m.InvoiceID == uuid.Nil {
			return fmt.Errorf("validate: charge without invoice: %w", domain.ErrInvalidDelta)
		}
	case domain.AdjustmentMetadata:
		if delta == 0 {
			return fmt.Errorf("validate: zero adjustment: %w", domain.ErrInvalidDelta)
		}
	default:
		return fmt.Errorf("validate: unknown metadata %T: %w", meta, domain.ErrInvalidDelta)
	}

	return nil
}

func isRetryableConflict(err error) bool {
	return errors.Is(err, domain.ErrStorageConflict) || repository.IsRetryableConflict(err)
}
