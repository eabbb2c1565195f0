package billing_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbill/tokenbill/internal/billing"
	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/testutil"
)

func seedProcessingPayment(t *testing.T, db *sql.DB, userID uuid.UUID, reference string, amount int64) *domain.Payment {
	t.Helper()
	now := time.Now().UTC()
	p := &domain.Payment{
		ID:        uuid.New(),
		UserID:    userID,
		Reference: reference,
		Amount:    amount,
		Currency:  domain.CurrencyEUR,
		Status:    domain.PaymentStatusProcessing,
		Provider:  domain.PaymentProviderProviderX,
		CreatedAt: now,
		UpdatedAt: now,
	}
	testutil.SeedPayment(t, db, p)
	return p
}

func TestHandleProviderXCallback_SucceededCreditsTokens(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupBillingService(t, db, nil)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "px@test.com", 0)
	seedProcessingPayment(t, db, user.ID, "px_ref_1", 1000)

	res, err := svc.HandleProviderXCallback(ctx, billing.CallbackPayload{
		EventID:   "pxevt_1",
		Reference: "px_ref_1",
		Status:    "succeeded",
	})

	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(1000), res.Tokens)
	assert.Equal(t, int64(1000), res.NewBalance)

	assert.Equal(t, int64(1000), testutil.GetUserBalance(t, db, user.ID))
	assert.Equal(t, 1, testutil.CountEntries(t, db, user.ID, domain.EntryTypeTopUp))

	var status string
	require.NoError(t, db.QueryRow(
		`SELECT status FROM payments WHERE reference = $1`, "px_ref_1").Scan(&status))
	assert.Equal(t, string(domain.PaymentStatusSucceeded), status)
}

func TestHandleProviderXCallback_ReplayDoesNotDoubleCredit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupBillingService(t, db, nil)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "px-replay@test.com", 0)
	seedProcessingPayment(t, db, user.ID, "px_ref_2", 500)

	payload := billing.CallbackPayload{
		EventID:   "pxevt_2",
		Reference: "px_ref_2",
		Status:    "succeeded",
	}

	first, err := svc.HandleProviderXCallback(ctx, payload)
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := svc.HandleProviderXCallback(ctx, payload)
	require.NoError(t, err)
	assert.False(t, second.Applied)

	assert.Equal(t, int64(500), testutil.GetUserBalance(t, db, user.ID))
	assert.Equal(t, 1, testutil.CountEntries(t, db, user.ID, domain.EntryTypeTopUp))
}

func TestHandleProviderXCallback_ConcurrentDuplicatesCreditOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupBillingService(t, db, nil)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "px-race@test.com", 0)
	seedProcessingPayment(t, db, user.ID, "px_ref_3", 2000)

	payload := billing.CallbackPayload{
		EventID:   "pxevt_3",
		Reference: "px_ref_3",
		Status:    "succeeded",
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.HandleProviderXCallback(ctx, payload)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2000), testutil.GetUserBalance(t, db, user.ID))
	assert.Equal(t, 1, testutil.CountEntries(t, db, user.ID, domain.EntryTypeTopUp))
}

func TestHandleProviderXCallback_FailedMarksPaymentWithoutCredit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupBillingService(t, db, nil)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "px-fail@test.com", 0)
	seedProcessingPayment(t, db, user.ID, "px_ref_4", 1000)

	res, err := svc.HandleProviderXCallback(ctx, billing.CallbackPayload{
		EventID:   "pxevt_4",
		Reference: "px_ref_4",
		Status:    "failed",
		Reason:    "card declined",
	})

	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Zero(t, res.Tokens)

	assert.Equal(t, int64(0), testutil.GetUserBalance(t, db, user.ID))
	assert.Equal(t, int64(0), testutil.SumDeltas(t, db, user.ID))

	var status string
	var errMsg *string
	require.NoError(t, db.QueryRow(
		`SELECT status, error_message FROM payments WHERE reference = $1`, "px_ref_4").Scan(&status, &errMsg))
	assert.Equal(t, string(domain.PaymentStatusFailed), status)
	require.NotNil(t, errMsg)
	assert.Equal(t, "card declined", *errMsg)
}

func TestHandleProviderXCallback_UnknownReference(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupBillingService(t, db, nil)
	ctx := context.Background()

	_, err := svc.HandleProviderXCallback(ctx, billing.CallbackPayload{
		EventID:   "pxevt_5",
		Reference: "px_ref_missing",
		Status:    "succeeded",
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandleProviderXCallback_RejectsBadPayload(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupBillingService(t, db, nil)
	ctx := context.Background()

	cases := []billing.CallbackPayload{
		{Reference: "px_ref", Status: "succeeded"},
		{EventID: "pxevt", Status: "succeeded"},
		{EventID: "pxevt", Reference: "px_ref", Status: "maybe"},
	}
	for _, payload := range cases {
		_, err := svc.HandleProviderXCallback(ctx, payload)
		require.ErrorIs(t, err, domain.ErrInvalidPayload)
	}
}

func TestInitiateHostedPayment_RoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/sessions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["reference"])
		assert.Equal(t, "http://app/callback", req["callback_url"])

		json.NewEncoder(w).Encode(map[string]string{
			"session_id":   "pxsess_test",
			"redirect_url": "http://provider/pay/pxsess_test",
		})
	}))
	defer provider.Close()

	svc := setupBillingService(t, db, billing.NewProviderXClient(provider.URL, "http://app/callback"))
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "px-init@test.com", 0)

	res, err := svc.InitiateHostedPayment(ctx, billing.HostedPaymentRequest{
		UserID:   user.ID,
		Amount:   1500,
		Currency: domain.CurrencyEUR,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusProcessing, res.Payment.Status)
	assert.Equal(t, "http://provider/pay/pxsess_test", res.RedirectURL)
	require.NotNil(t, res.Payment.ProviderPaymentID)
	assert.Equal(t, "pxsess_test", *res.Payment.ProviderPaymentID)

	// The user is not credited until the callback arrives.
	assert.Equal(t, int64(0), testutil.GetUserBalance(t, db, user.ID))
}

func TestInitiateHostedPayment_ProviderDownMarksFailed(t *testing.T) {
	db := testutil.SetupTestDB(t)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer provider.Close()

	svc := setupBillingService(t, db, billing.NewProviderXClient(provider.URL, "http://app/callback"))
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "px-down@test.com", 0)

	_, err := svc.InitiateHostedPayment(ctx, billing.HostedPaymentRequest{
		UserID:   user.ID,
		Amount:   1500,
		Currency: domain.CurrencyEUR,
	})
	require.Error(t, err)

	var status string
	require.NoError(t, db.QueryRow(
		`SELECT status FROM payments WHERE user_id = $1`, user.ID).Scan(&status))
	assert.Equal(t, string(domain.PaymentStatusFailed), status)
}
