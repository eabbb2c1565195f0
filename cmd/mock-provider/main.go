// Mock Provider X. Accepts hosted session requests and, after a short
// delay, posts a signed callback to the requesting app. Deliveries are
// intentionally repeated once to exercise replay handling downstream.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tokenbill/tokenbill/internal/logging"
)

type sessionRequest struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url"`
}

type sessionResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

type callbackPayload struct {
	EventID   string `json:"event_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

type server struct {
	secret        string
	callbackDelay time.Duration
	client        *http.Client
}

func main() {
	logging.Init("mock-provider", "info", os.Getenv("APP_ENV"))

	secret := os.Getenv("PROVIDERX_SECRET")
	if secret == "" {
		slog.Error("PROVIDERX_SECRET is required")
		os.Exit(1)
	}

	srv := &server{
		secret:        secret,
		callbackDelay: 2 * time.Second,
		client:        &http.Client{Timeout: 5 * time.Second},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("POST /sessions", srv.createSession)

	slog.Info("mock provider started", "addr", ":8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Reference == "" || req.Amount <= 0 || req.CallbackURL == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return
	}

	sessionID := "pxsess_" + uuid.NewString()
	slog.Info("session created", "session_id", sessionID, "reference", req.Reference, "amount", req.Amount)

	go s.deliverCallback(req)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sessionResponse{
		SessionID:   sessionID,
		RedirectURL: "http://mock-provider:8081/pay/" + sessionID,
	}); err != nil {
		slog.Error("failed to write session response", "error", err)
	}
}

func (s *server) deliverCallback(req sessionRequest) {
	time.Sleep(s.callbackDelay)

	payload := callbackPayload{
		EventID:   "pxevt_" + uuid.NewString(),
		Reference: req.Reference,
		Status:    "succeeded",
	}
	// Roughly one in five payments fails, like a real provider.
	if rand.IntN(5) == 0 {
		payload.Status = "failed"
		payload.Reason = "card declined"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal callback", "error", err)
		return
	}

	// Two deliveries of the same event id, like a provider retrying
	// before it sees our 200.
	for attempt := 1; attempt <= 2; attempt++ {
		if err := s.post(req.CallbackURL, body); err != nil {
			slog.Error("callback delivery failed",
				"reference", req.Reference, "attempt", attempt, "error", err)
			continue
		}
		slog.Info("callback delivered",
			"event_id", payload.EventID, "reference", req.Reference, "attempt", attempt)
	}
}

func (s *server) post(url string, body []byte) error {
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Signature", sign(body, s.secret))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
