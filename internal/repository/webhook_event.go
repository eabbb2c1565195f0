package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tokenbill/tokenbill/internal/domain"
)

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create records a provider delivery. (provider, provider_event_id) is
// unique; a second delivery of the same event returns ErrDuplicateDelivery
// so the handler can answer 200 without re-applying anything.
func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (
			id, provider, provider_event_id, event_type, payload, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Provider, event.ProviderEventID, event.EventType,
		[]byte(event.Payload), event.Status, event.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateDelivery)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *WebhookEventRepository) CountByProviderEvent(ctx context.Context, provider domain.PaymentProvider, providerEventID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_events WHERE provider = $1 AND provider_event_id = $2`,
		provider, providerEventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountByProviderEvent: %w", err)
	}
	return n, nil
}
