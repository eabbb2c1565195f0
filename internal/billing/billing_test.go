package billing_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/tokenbill/tokenbill/internal/billing"
	"github.com/tokenbill/tokenbill/internal/ledger"
	"github.com/tokenbill/tokenbill/internal/rates"
	"github.com/tokenbill/tokenbill/internal/repository"
)

const testWebhookSecret = "whsec_test_secret"

func setupBillingService(t *testing.T, db *sql.DB, providerx *billing.ProviderXClient) *billing.Service {
	t.Helper()

	mutator := ledger.NewService(
		repository.NewUserRepository(db),
		repository.NewLedgerRepository(db),
		db,
		30*time.Second,
	)
	return billing.NewService(
		repository.NewPaymentRepository(db),
		repository.NewWebhookEventRepository(db),
		repository.NewLedgerRepository(db),
		mutator,
		rates.NewConverter(100),
		billing.NewStripeGateway("sk_test_unused", testWebhookSecret,
			"http://localhost/success", "http://localhost/cancel"),
		providerx,
		db,
	)
}
