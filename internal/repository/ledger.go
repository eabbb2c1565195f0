package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/tokenbill/tokenbill/internal/domain"
)

const ledgerColumns = `id, seq, user_id, entry_type, delta, balance_after,
	currency, external_amount, receipt_ref, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create appends an entry inside tx and fills in the assigned sequence
// number. Entries are append-only; there is no update or delete path.
// A replayed external purchase trips the partial unique index on
// receipt_ref and surfaces as ErrDuplicateDelivery.
func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO ledger_entries (
			id, user_id, entry_type, delta, balance_after,
			currency, external_amount, receipt_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		entry.ID, entry.UserID, entry.EntryType, entry.Delta, entry.BalanceAfter,
		entry.Currency, entry.ExternalAmount, entry.ReceiptRef, entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateDelivery)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ListByUser returns entries newest-first.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByUser: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE user_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListByUser: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListByUser: rows: %w", err)
	}
	return entries, total, nil
}

// History returns all entries for a user in write order (oldest first).
func (r *LedgerRepository) History(ctx context.Context, userID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE user_id = $1 ORDER BY seq`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("History: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("History: rows: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) SumDeltas(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1`, userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("SumDeltas: %w", err)
	}
	return sum, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var currency *string
	err := s.Scan(
		&e.ID, &e.Seq, &e.UserID, &e.EntryType, &e.Delta, &e.BalanceAfter,
		&currency, &e.ExternalAmount, &e.ReceiptRef, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if currency != nil {
		c := domain.Currency(*currency)
		e.Currency = &c
	}
	return &e, nil
}
