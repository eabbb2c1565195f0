// Package billing turns external payment confirmations and self-service
// top-ups into ledger credits. All mutation goes through the ledger
// mutator; this package owns provider correlation and replay safety.
package billing

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/ledger"
)

type paymentRepo interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, reference string) (*domain.Payment, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, providerPaymentID *string) error
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentStatus, errorMessage *string) error
}

type webhookEventRepo interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
}

type ledgerRepo interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
}

type balanceMutator interface {
	Apply(ctx context.Context, userID uuid.UUID, delta int64, meta domain.EntryMetadata) (*ledger.Result, error)
	ApplyInTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, delta int64, meta domain.EntryMetadata) (*ledger.Result, error)
	InvalidateBalance(userID uuid.UUID)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
}

type tokenConverter interface {
	Tokens(amount int64, currency domain.Currency) (int64, error)
}

type Service struct {
	payments  paymentRepo
	webhooks  webhookEventRepo
	entries   ledgerRepo
	ledger    balanceMutator
	converter tokenConverter
	stripe    *StripeGateway
	providerx *ProviderXClient
	db        *sql.DB
}

func NewService(
	payments paymentRepo,
	webhooks webhookEventRepo,
	entries ledgerRepo,
	mutator balanceMutator,
	converter tokenConverter,
	stripe *StripeGateway,
	providerx *ProviderXClient,
	db *sql.DB,
) *Service {
	return &Service{
		payments:  payments,
		webhooks:  webhooks,
		entries:   entries,
		ledger:    mutator,
		converter: converter,
		stripe:    stripe,
		providerx: providerx,
		db:        db,
	}
}

func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.payments.GetByID(ctx, id)
}
