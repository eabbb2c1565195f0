package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tokenbill/tokenbill/internal/billing"
	"github.com/tokenbill/tokenbill/internal/logging"
)

type webhookService interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*billing.StripeWebhookResult, error)
	HandleProviderXCallback(ctx context.Context, payload billing.CallbackPayload) (*billing.CallbackResult, error)
}

type WebhookHandler struct {
	billing         webhookService
	providerXSecret string
}

func NewWebhookHandler(billing webhookService, providerXSecret string) *WebhookHandler {
	return &WebhookHandler{billing: billing, providerXSecret: providerXSecret}
}

// ReceiveStripeWebhook verifies and applies one Stripe delivery. Replays of
// an already-applied event answer 200: the provider keeps retrying anything
// else, and the credit has already happened.
func (h *WebhookHandler) ReceiveStripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read stripe webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	result, err := h.billing.HandleStripeWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Warn("stripe webhook rejected", "error", err)
		RespondDomainError(w, err)
		return
	}

	if !result.Credited {
		RespondSuccess(w, http.StatusOK, map[string]any{"status": "received"})
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"status":  "credited",
		"tokens":  result.Tokens,
		"balance": result.NewBalance,
	})
}

// ReceiveProviderXCallback handles Provider X's signed callback. The
// signature covers the raw body; an unknown reference is a 404 so the
// provider can surface the misroute instead of silently dropping it.
func (h *WebhookHandler) ReceiveProviderXCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read callback body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if !verifyHMAC(body, r.Header.Get("X-Webhook-Signature"), h.providerXSecret) {
		log.Warn("callback signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload billing.CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse callback payload", "error", err)
		RespondAppError(w, ErrInvalidPayload, nil)
		return
	}

	result, err := h.billing.HandleProviderXCallback(r.Context(), payload)
	if err != nil {
		log.Warn("provider callback rejected", "event_id", payload.EventID, "reference", payload.Reference, "error", err)
		RespondDomainError(w, err)
		return
	}

	if !result.Applied {
		RespondSuccess(w, http.StatusOK, map[string]any{"status": "received"})
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"status":  "applied",
		"tokens":  result.Tokens,
		"balance": result.NewBalance,
	})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
