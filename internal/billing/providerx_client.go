package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tokenbill/tokenbill/internal/logging"
)

// ProviderXClient talks to the hosted-payment-page provider. The provider
// shows its own checkout UI and confirms asynchronously via a signed
// callback carrying our reference.
type ProviderXClient struct {
	baseURL     string
	callbackURL string
	httpClient  *http.Client
}

func NewProviderXClient(baseURL, callbackURL string) *ProviderXClient {
	return &ProviderXClient{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type providerSessionRequest struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url"`
}

type providerSessionResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

func (c *ProviderXClient) CreateSession(ctx context.Context, reference string, amount int64, currency string) (*providerSessionResponse, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(providerSessionRequest{
		Reference:   reference,
		Amount:      amount,
		Currency:    currency,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("CreateSession: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("CreateSession: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("CreateSession: send: %w", err)
	}
	defer resp.Body.Close()

	log.Info("provider session request",
		"reference", reference,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("CreateSession: provider returned %d", resp.StatusCode)
	}

	var session providerSessionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&session); err != nil {
		return nil, fmt.Errorf("CreateSession: decode: %w", err)
	}
	return &session, nil
}
