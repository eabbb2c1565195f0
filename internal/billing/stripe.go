package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/ledger"
	"github.com/tokenbill/tokenbill/internal/logging"
)

// StripeGateway wraps the Stripe API client for checkout session creation
// and webhook signature verification.
type StripeGateway struct {
	client        *stripeapi.Client
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripeGateway(secretKey, webhookSecret, successURL, cancelURL string) *StripeGateway {
	return &StripeGateway{
		client:        stripeapi.NewClient(secretKey, nil),
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
	}
}

// ParseEvent verifies the inbound signature before trusting the payload.
// Verification fails closed: an unverifiable event is rejected and nothing
// is mutated.
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*stripeapi.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("ParseEvent: %v: %w", err, domain.ErrInvalidSignature)
	}
	return &event, nil
}

type CheckoutRequest struct {
	UserID   uuid.UUID
	Tokens   int64
	Amount   int64
	Currency domain.Currency
}

type CheckoutResult struct {
	Payment     *domain.Payment
	CheckoutURL string
}

// CreateCheckout opens a Stripe Checkout session for a token purchase and
// records the payment attempt. The user id and token count ride in the
// session metadata; the webhook reads them back after payment completes.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	log := logging.FromContext(ctx)

	if req.Tokens <= 0 || req.Amount <= 0 {
		return nil, fmt.Errorf("CreateCheckout: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("CreateCheckout: %w", domain.ErrInvalidCurrency)
	}

	params := &stripeapi.CheckoutSessionCreateParams{
		Mode:       stripeapi.String("payment"),
		SuccessURL: stripeapi.String(s.stripe.successURL),
		CancelURL:  stripeapi.String(s.stripe.cancelURL),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripeapi.String(strings.ToLower(string(req.Currency))),
					ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripeapi.String(fmt.Sprintf("%d tokens", req.Tokens)),
					},
					UnitAmount: stripeapi.Int64(req.Amount),
				},
				Quantity: stripeapi.Int64(1),
			},
		},
		Metadata: map[string]string{
			"user_id": req.UserID.String(),
			"tokens":  strconv.FormatInt(req.Tokens, 10),
		},
	}

	session, err := s.stripe.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("CreateCheckout: session: %w", err)
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Reference: session.ID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    domain.PaymentStatusPending,
		Provider:  domain.PaymentProviderStripe,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("CreateCheckout: %w", err)
	}
	if err := s.payments.MarkProcessing(ctx, payment.ID, nil); err != nil {
		return nil, fmt.Errorf("CreateCheckout: %w", err)
	}
	payment.Status = domain.PaymentStatusProcessing

	log.Info("stripe checkout session created",
		"payment_id", payment.ID,
		"session_id", session.ID,
		"user_id", req.UserID,
		"tokens", req.Tokens,
	)

	return &CheckoutResult{Payment: payment, CheckoutURL: session.URL}, nil
}

type StripeWebhookResult struct {
	Credited   bool
	Tokens     int64
	NewBalance int64
}

// HandleStripeWebhook applies one checkout confirmation exactly once.
// Replays are detected inside the credit transaction itself, by the
// terminal payment status and the ledger's unique receipt_ref index, and
// answered as success (the provider retries until it sees 200). The
// webhook_events audit row is written only after the credit is durable,
// so a failed attempt never blocks a later retry from crediting.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*StripeWebhookResult, error) {
	log := logging.FromContext(ctx)

	event, err := s.stripe.ParseEvent(payload, signature)
	if err != nil {
		return nil, fmt.Errorf("HandleStripeWebhook: %w", err)
	}

	if event.Type != "checkout.session.completed" {
		log.Info("ignoring stripe event", "event_id", event.ID, "type", event.Type)
		s.recordDelivery(ctx, domain.PaymentProviderStripe, event.ID, string(event.Type),
			payload, domain.WebhookEventStatusIgnored)
		return &StripeWebhookResult{Credited: false}, nil
	}

	var session stripeapi.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("HandleStripeWebhook: parse session: %w", domain.ErrInvalidPayload)
	}

	userID, tokens, err := checkoutMetadata(session.Metadata)
	if err != nil {
		return nil, fmt.Errorf("HandleStripeWebhook: %w", err)
	}

	result, err := s.creditCheckout(ctx, event.ID, &session, userID, tokens)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateDelivery) {
			log.Info("duplicate stripe delivery", "event_id", event.ID, "session_id", session.ID)
			return &StripeWebhookResult{Credited: false}, nil
		}
		return nil, fmt.Errorf("HandleStripeWebhook: %w", err)
	}

	s.recordDelivery(ctx, domain.PaymentProviderStripe, event.ID, string(event.Type),
		payload, domain.WebhookEventStatusApplied)

	log.Info("stripe checkout credited",
		"event_id", event.ID,
		"user_id", userID,
		"tokens", tokens,
		"new_balance", result.NewBalance,
	)
	return result, nil
}

func (s *Service) creditCheckout(ctx context.Context, eventID string, session *stripeapi.CheckoutSession, userID uuid.UUID, tokens int64) (*StripeWebhookResult, error) {
	var out *StripeWebhookResult
	err := ledger.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		// A payment row exists when checkout went through our initiate
		// endpoint; a session created out of band still credits per the
		// webhook contract.
		payment, err := s.payments.GetForUpdate(ctx, tx, session.ID)
		switch {
		case err == nil:
			if payment.Status.IsTerminal() {
				return domain.ErrDuplicateDelivery
			}
			if err := s.payments.UpdateStatus(ctx, tx, payment.ID, domain.PaymentStatusSucceeded, nil); err != nil {
				return err
			}
		case errors.Is(err, domain.ErrNotFound):
			// no correlation required on the stripe path
		default:
			return err
		}

		meta := domain.PurchaseMetadata{ReceiptRef: eventID}
		if session.Currency != "" {
			c := domain.Currency(strings.ToUpper(string(session.Currency)))
			if c.IsValid() {
				meta.Currency = &c
				amount := session.AmountTotal
				meta.Amount = &amount
			}
		}

		res, err := s.ledger.ApplyInTx(ctx, tx, userID, tokens, meta)
		if err != nil {
			return err
		}
		out = &StripeWebhookResult{Credited: true, Tokens: tokens, NewBalance: res.NewBalance}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creditCheckout: %w", err)
	}
	s.ledger.InvalidateBalance(userID)
	return out, nil
}

func (s *Service) recordDelivery(ctx context.Context, provider domain.PaymentProvider, eventID, eventType string, payload []byte, status domain.WebhookEventStatus) {
	err := s.webhooks.Create(ctx, &domain.WebhookEvent{
		ID:              uuid.New(),
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         payload,
		Status:          status,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateDelivery) {
		logging.FromContext(ctx).Error("failed to record webhook delivery",
			"provider", provider, "event_id", eventID, "error", err)
	}
}

func checkoutMetadata(md map[string]string) (uuid.UUID, int64, error) {
	rawUser, ok := md["user_id"]
	if !ok || rawUser == "" {
		return uuid.Nil, 0, fmt.Errorf("checkoutMetadata: missing user_id: %w", domain.ErrInvalidPayload)
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("checkoutMetadata: user_id: %w", domain.ErrInvalidPayload)
	}

	rawTokens, ok := md["tokens"]
	if !ok || rawTokens == "" {
		return uuid.Nil, 0, fmt.Errorf("checkoutMetadata: missing tokens: %w", domain.ErrInvalidPayload)
	}
	tokens, err := strconv.ParseInt(rawTokens, 10, 64)
	if err != nil || tokens <= 0 {
		return uuid.Nil, 0, fmt.Errorf("checkoutMetadata: tokens %q: %w", rawTokens, domain.ErrInvalidPayload)
	}

	return userID, tokens, nil
}
