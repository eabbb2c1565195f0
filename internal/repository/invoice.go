package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tokenbill/tokenbill/internal/domain"
)

const invoiceColumns = `id, user_id, number, customer_name, customer_email,
	currency, subtotal, tax_rate, total, status, issued_at, created_at, updated_at`

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Create runs inside the caller's tx so that the invoice row and its
// charge entry commit together or not at all.
func (r *InvoiceRepository) Create(ctx context.Context, tx *sql.Tx, invoice *domain.Invoice) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO invoices (
			id, user_id, number, customer_name, customer_email,
			currency, subtotal, tax_rate, total, status, issued_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		invoice.ID, invoice.UserID, invoice.Number, invoice.CustomerName, invoice.CustomerEmail,
		invoice.Currency, invoice.Subtotal, invoice.TaxRate, invoice.Total,
		invoice.Status, invoice.IssuedAt, invoice.CreatedAt, invoice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id,
	)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return inv, nil
}

func (r *InvoiceRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Invoice, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByUser: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListByUser: scan: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListByUser: rows: %w", err)
	}
	return invoices, total, nil
}

// Update rewrites editable invoice fields. It deliberately has no path to
// the ledger: re-editing an invoice never re-charges.
func (r *InvoiceRepository) Update(ctx context.Context, invoice *domain.Invoice) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET customer_name = $1, customer_email = $2,
			currency = $3, subtotal = $4, tax_rate = $5, total = $6, updated_at = now()
		WHERE id = $7`,
		invoice.CustomerName, invoice.CustomerEmail,
		invoice.Currency, invoice.Subtotal, invoice.TaxRate, invoice.Total,
		invoice.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %w", domain.ErrNotFound)
	}
	return nil
}

func scanInvoice(s scanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := s.Scan(
		&inv.ID, &inv.UserID, &inv.Number, &inv.CustomerName, &inv.CustomerEmail,
		&inv.Currency, &inv.Subtotal, &inv.TaxRate, &inv.Total,
		&inv.Status, &inv.IssuedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
