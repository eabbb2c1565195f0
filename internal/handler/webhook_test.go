package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbill/tokenbill/internal/billing"
	"github.com/tokenbill/tokenbill/internal/domain"
)

const testCallbackSecret = "test-secret-key"

type mockWebhookService struct {
	stripeResult   *billing.StripeWebhookResult
	stripeErr      error
	callbackResult *billing.CallbackResult
	callbackErr    error
	gotPayload     *billing.CallbackPayload
}

func (m *mockWebhookService) HandleStripeWebhook(_ context.Context, _ []byte, _ string) (*billing.StripeWebhookResult, error) {
	return m.stripeResult, m.stripeErr
}

func (m *mockWebhookService) HandleProviderXCallback(_ context.Context, payload billing.CallbackPayload) (*billing.CallbackResult, error) {
	m.gotPayload = &payload
	return m.callbackResult, m.callbackErr
}

func signCallback(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func validCallbackBody() string {
	b, _ := json.Marshal(billing.CallbackPayload{
		EventID:   "pxevt_1",
		Reference: "px_ref_1",
		Status:    "succeeded",
	})
	return string(b)
}

func TestVerifyHMAC(t *testing.T) {
	body := `{"event_id":"abc"}`

	assert.True(t, verifyHMAC([]byte(body), signCallback(body, testCallbackSecret), testCallbackSecret))
	assert.False(t, verifyHMAC([]byte(body), "deadbeef", testCallbackSecret))
	assert.False(t, verifyHMAC([]byte(body), "", testCallbackSecret))
	assert.False(t, verifyHMAC([]byte(body), signCallback(body, "other-secret"), testCallbackSecret))
}

func TestReceiveProviderXCallback(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setupSig   func(body string) string
		result     *billing.CallbackResult
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "applied callback",
			body:       validCallbackBody(),
			setupSig:   func(body string) string { return signCallback(body, testCallbackSecret) },
			result:     &billing.CallbackResult{Applied: true, Tokens: 100, NewBalance: 100},
			wantStatus: http.StatusOK,
		},
		{
			name:       "duplicate delivery still answers OK",
			body:       validCallbackBody(),
			setupSig:   func(body string) string { return signCallback(body, testCallbackSecret) },
			result:     &billing.CallbackResult{Applied: false},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing signature header",
			body:       validCallbackBody(),
			setupSig:   nil,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "wrong signature",
			body:       validCallbackBody(),
			setupSig:   func(_ string) string { return "deadbeefdeadbeef" },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "invalid JSON body",
			body:       "not-json",
			setupSig:   func(body string) string { return signCallback(body, testCallbackSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_PAYLOAD",
		},
		{
			name:       "unknown reference",
			body:       validCallbackBody(),
			setupSig:   func(body string) string { return signCallback(body, testCallbackSecret) },
			svcErr:     domain.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "RESOURCE_NOT_FOUND",
		},
		{
			name:       "payload rejected by service",
			body:       validCallbackBody(),
			setupSig:   func(body string) string { return signCallback(body, testCallbackSecret) },
			svcErr:     domain.ErrInvalidPayload,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_PAYLOAD",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockWebhookService{callbackResult: tc.result, callbackErr: tc.svcErr}
			h := NewWebhookHandler(svc, testCallbackSecret)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/providerx", strings.NewReader(tc.body))
			if tc.setupSig != nil {
				req.Header.Set("X-Webhook-Signature", tc.setupSig(tc.body))
			}
			rr := httptest.NewRecorder()

			h.ReceiveProviderXCallback(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

			if tc.wantCode == "" {
				assert.True(t, resp.Success)
			} else {
				assert.False(t, resp.Success)
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestReceiveStripeWebhook(t *testing.T) {
	tests := []struct {
		name       string
		result     *billing.StripeWebhookResult
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "credited",
			result:     &billing.StripeWebhookResult{Credited: true, Tokens: 500, NewBalance: 500},
			wantStatus: http.StatusOK,
		},
		{
			name:       "replay answers OK",
			result:     &billing.StripeWebhookResult{Credited: false},
			wantStatus: http.StatusOK,
		},
		{
			name:       "bad signature",
			svcErr:     domain.ErrInvalidSignature,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "bad payload",
			svcErr:     domain.ErrInvalidPayload,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_PAYLOAD",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockWebhookService{stripeResult: tc.result, stripeErr: tc.svcErr}
			h := NewWebhookHandler(svc, testCallbackSecret)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			rr := httptest.NewRecorder()

			h.ReceiveStripeWebhook(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			if tc.wantCode == "" {
				assert.True(t, resp.Success)
			} else {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.wantCode, resp.Error.Code)
			}
		})
	}
}
