package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventStatusApplied WebhookEventStatus = "applied"
	WebhookEventStatusIgnored WebhookEventStatus = "ignored"
)

// WebhookEvent is an audit record of one provider delivery. The
// (provider, provider_event_id) pair is unique, so replayed deliveries are
// still visible to operators without being applied twice.
type WebhookEvent struct {
	ID              uuid.UUID
	Provider        PaymentProvider
	ProviderEventID string
	EventType       string
	Payload         json.RawMessage
	Status          WebhookEventStatus
	CreatedAt       time.Time
}
