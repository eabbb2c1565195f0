package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tokenbill/tokenbill/internal/domain"
)

const paymentColumns = `id, user_id, reference, amount, currency, status,
	provider, provider_payment_id, error_message, created_at, updated_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (
			id, user_id, reference, amount, currency, status,
			provider, provider_payment_id, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		payment.ID, payment.UserID, payment.Reference, payment.Amount,
		payment.Currency, payment.Status, payment.Provider,
		payment.ProviderPaymentID, payment.ErrorMessage,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	return p, nil
}

// GetForUpdate locks the payment row so that duplicate deliveries of the
// same confirmation serialize on it instead of both observing the
// pre-transition status.
func (r *PaymentRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, reference string) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference = $1 FOR UPDATE`, reference,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

// MarkProcessing advances pending -> processing once the hosted session has
// been created with the provider.
func (r *PaymentRepository) MarkProcessing(ctx context.Context, id uuid.UUID, providerPaymentID *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = $1, provider_payment_id = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		domain.PaymentStatusProcessing, providerPaymentID, id, domain.PaymentStatusPending,
	)
	if err != nil {
		return fmt.Errorf("MarkProcessing: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkProcessing: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkProcessing: %w", domain.ErrPaymentTerminal)
	}
	return nil
}

// UpdateStatus moves a payment to a terminal state inside tx. The status
// guard makes the transition monotonic: a payment already terminal is left
// untouched and the caller sees ErrPaymentTerminal.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentStatus, errorMessage *string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status IN ($4, $5)`,
		status, errorMessage, id,
		domain.PaymentStatusPending, domain.PaymentStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrPaymentTerminal)
	}
	return nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	err := s.Scan(
		&p.ID, &p.UserID, &p.Reference, &p.Amount, &p.Currency, &p.Status,
		&p.Provider, &p.ProviderPaymentID, &p.ErrorMessage,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
