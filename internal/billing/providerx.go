package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/ledger"
	"github.com/tokenbill/tokenbill/internal/logging"
)

type HostedPaymentRequest struct {
	UserID   uuid.UUID
	Amount   int64
	Currency domain.Currency
}

type HostedPaymentResult struct {
	Payment     *domain.Payment
	RedirectURL string
}

// InitiateHostedPayment creates the payment attempt row and opens a hosted
// session with Provider X. The reference generated here is what the
// asynchronous callback is correlated against.
func (s *Service) InitiateHostedPayment(ctx context.Context, req HostedPaymentRequest) (*HostedPaymentResult, error) {
	log := logging.FromContext(ctx)

	if req.Amount <= 0 {
		return nil, fmt.Errorf("InitiateHostedPayment: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("InitiateHostedPayment: %w", domain.ErrInvalidCurrency)
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Reference: "px_" + uuid.NewString(),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    domain.PaymentStatusPending,
		Provider:  domain.PaymentProviderProviderX,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("InitiateHostedPayment: %w", err)
	}

	session, err := s.providerx.CreateSession(ctx, payment.Reference, req.Amount, string(req.Currency))
	if err != nil {
		s.failPayment(ctx, payment.ID, err.Error())
		return nil, fmt.Errorf("InitiateHostedPayment: %w", err)
	}

	providerID := session.SessionID
	if err := s.payments.MarkProcessing(ctx, payment.ID, &providerID); err != nil {
		return nil, fmt.Errorf("InitiateHostedPayment: %w", err)
	}
	payment.Status = domain.PaymentStatusProcessing
	payment.ProviderPaymentID = &providerID

	log.Info("hosted payment initiated",
		"payment_id", payment.ID,
		"reference", payment.Reference,
		"amount", req.Amount,
		"currency", req.Currency,
	)

	return &HostedPaymentResult{Payment: payment, RedirectURL: session.RedirectURL}, nil
}

func (s *Service) failPayment(ctx context.Context, id uuid.UUID, reason string) {
	err := ledger.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.payments.UpdateStatus(ctx, tx, id, domain.PaymentStatusFailed, &reason)
	})
	if err != nil {
		logging.FromContext(ctx).Error("failed to mark payment failed", "payment_id", id, "error", err)
	}
}

// CallbackPayload is what Provider X posts back after the user finishes
// (or abandons) the hosted page.
type CallbackPayload struct {
	EventID   string `json:"event_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

func (p CallbackPayload) Validate() error {
	if p.EventID == "" || p.Reference == "" {
		return domain.ErrInvalidPayload
	}
	if p.Status != "succeeded" && p.Status != "failed" {
		return domain.ErrInvalidPayload
	}
	return nil
}

type CallbackResult struct {
	Applied    bool
	Tokens     int64
	NewBalance int64
}

// HandleProviderXCallback reconciles one callback delivery. Only the
// pending/processing -> succeeded transition credits tokens; a callback
// for an already-terminal payment is a duplicate delivery and a no-op.
// The payment row lock serializes racing duplicates; transient write
// conflicts re-run the whole scope.
func (s *Service) HandleProviderXCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error) {
	log := logging.FromContext(ctx)

	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("HandleProviderXCallback: %w", err)
	}

	raw, _ := json.Marshal(payload)

	var (
		payment *domain.Payment
		result  *CallbackResult
	)
	err := ledger.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		p, err := s.payments.GetForUpdate(ctx, tx, payload.Reference)
		if err != nil {
			return err
		}
		payment = p

		if p.Status.IsTerminal() {
			result = &CallbackResult{Applied: false}
			return nil
		}

		if payload.Status == "failed" {
			reason := payload.Reason
			if err := s.payments.UpdateStatus(ctx, tx, p.ID, domain.PaymentStatusFailed, &reason); err != nil {
				return err
			}
			result = &CallbackResult{Applied: true}
			return nil
		}

		tokens, err := s.converter.Tokens(p.Amount, p.Currency)
		if err != nil {
			return err
		}
		if err := s.payments.UpdateStatus(ctx, tx, p.ID, domain.PaymentStatusSucceeded, nil); err != nil {
			return err
		}

		eventRef := payload.EventID
		res, err := s.ledger.ApplyInTx(ctx, tx, p.UserID, tokens, domain.TopUpMetadata{
			Currency:   p.Currency,
			Amount:     p.Amount,
			ReceiptRef: &eventRef,
		})
		if err != nil {
			return err
		}
		result = &CallbackResult{Applied: true, Tokens: tokens, NewBalance: res.NewBalance}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("HandleProviderXCallback: %w", err)
	}

	switch {
	case !result.Applied:
		log.Info("duplicate provider callback",
			"event_id", payload.EventID,
			"reference", payload.Reference,
			"payment_status", payment.Status,
		)
		s.recordDelivery(ctx, domain.PaymentProviderProviderX, payload.EventID,
			"payment."+payload.Status, raw, domain.WebhookEventStatusIgnored)

	case payload.Status == "failed":
		s.recordDelivery(ctx, domain.PaymentProviderProviderX, payload.EventID,
			"payment.failed", raw, domain.WebhookEventStatusApplied)
		log.Info("hosted payment failed", "payment_id", payment.ID, "reason", payload.Reason)

	default:
		s.ledger.InvalidateBalance(payment.UserID)
		s.recordDelivery(ctx, domain.PaymentProviderProviderX, payload.EventID,
			"payment.succeeded", raw, domain.WebhookEventStatusApplied)
		log.Info("hosted payment credited",
			"payment_id", payment.ID,
			"user_id", payment.UserID,
			"tokens", result.Tokens,
			"new_balance", result.NewBalance,
		)
	}

	return result, nil
}
