package invoice_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/invoice"
	"github.com/tokenbill/tokenbill/internal/ledger"
	"github.com/tokenbill/tokenbill/internal/repository"
	"github.com/tokenbill/tokenbill/internal/testutil"
)

const feeTokens = 10

func setupInvoiceService(t *testing.T, db *sql.DB) *invoice.Service {
	t.Helper()
	mutator := ledger.NewService(
		repository.NewUserRepository(db),
		repository.NewLedgerRepository(db),
		db,
		30*time.Second,
	)
	return invoice.NewService(repository.NewInvoiceRepository(db), mutator, db, feeTokens)
}

func createReq(userID uuid.UUID, number string, draft bool) invoice.CreateRequest {
	return invoice.CreateRequest{
		UserID:       userID,
		Number:       number,
		CustomerName: "Acme GmbH",
		Currency:     domain.CurrencyEUR,
		Subtotal:     decimal.NewFromInt(100),
		TaxRate:      decimal.NewFromFloat(0.19),
		Draft:        draft,
	}
}

func TestCreate_ChargesFeeAtomically(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupInvoiceService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "inv@test.com", 50)

	res, err := svc.Create(ctx, createReq(user.ID, "INV-001", false))

	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusIssued, res.Invoice.Status)
	assert.NotNil(t, res.Invoice.IssuedAt)
	assert.True(t, res.Invoice.Total.Equal(decimal.NewFromInt(119)), "total %s", res.Invoice.Total)
	require.NotNil(t, res.NewBalance)
	assert.Equal(t, int64(40), *res.NewBalance)

	assert.Equal(t, int64(40), testutil.GetUserBalance(t, db, user.ID))
	assert.Equal(t, 1, testutil.CountEntries(t, db, user.ID, domain.EntryTypeInvoiceCharge))

	entries, err := repository.NewLedgerRepository(db).History(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-feeTokens), entries[0].Delta)
	require.NotNil(t, entries[0].ReceiptRef)
	assert.Equal(t, "invoice:"+res.Invoice.ID.String(), *entries[0].ReceiptRef)
}

func TestCreate_InsufficientBalanceLeavesNothingBehind(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupInvoiceService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "broke@test.com", feeTokens-1)

	_, err := svc.Create(ctx, createReq(user.ID, "INV-002", false))

	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(feeTokens-1), testutil.GetUserBalance(t, db, user.ID))
	assert.Equal(t, 0, testutil.CountEntries(t, db, user.ID, domain.EntryTypeInvoiceCharge))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM invoices WHERE user_id = $1`, user.ID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestCreate_DraftBypassesLedger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupInvoiceService(t, db)
	ctx := context.Background()

	// Zero balance: a draft must still go through.
	user := testutil.SeedTestUser(t, db, "draft@test.com", 0)

	res, err := svc.Create(ctx, createReq(user.ID, "INV-003", true))

	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusDraft, res.Invoice.Status)
	assert.Nil(t, res.Invoice.IssuedAt)
	assert.Nil(t, res.NewBalance)

	assert.Equal(t, int64(0), testutil.GetUserBalance(t, db, user.ID))
	assert.Equal(t, int64(0), testutil.SumDeltas(t, db, user.ID))
}

func TestCreate_ConcurrentCreationNearTheLimit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupInvoiceService(t, db)
	ctx := context.Background()

	// Enough for exactly one fee; the second concurrent create must fail
	// without an invoice or a charge entry.
	user := testutil.SeedTestUser(t, db, "race@test.com", feeTokens)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Create(ctx, createReq(user.ID, "INV-R"+string(rune('0'+i)), false))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientBalance)
			rejected++
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int64(0), testutil.GetUserBalance(t, db, user.ID))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM invoices WHERE user_id = $1`, user.ID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUpdate_NeverTouchesLedger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupInvoiceService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "upd@test.com", 50)

	res, err := svc.Create(ctx, createReq(user.ID, "INV-004", false))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, res.Invoice.ID, user.ID, invoice.UpdateRequest{
		CustomerName: "New Customer",
		Currency:     domain.CurrencyUSD,
		Subtotal:     decimal.NewFromInt(500),
		TaxRate:      decimal.NewFromFloat(0.07),
	})
	require.NoError(t, err)
	assert.Equal(t, "New Customer", updated.CustomerName)
	assert.True(t, updated.Total.Equal(decimal.NewFromInt(535)), "total %s", updated.Total)

	// Still only the single creation charge.
	assert.Equal(t, int64(40), testutil.GetUserBalance(t, db, user.ID))
	assert.Equal(t, 1, testutil.CountEntries(t, db, user.ID, domain.EntryTypeInvoiceCharge))
}

func TestGetForUser_HidesOtherUsersInvoices(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupInvoiceService(t, db)
	ctx := context.Background()

	owner := testutil.SeedTestUser(t, db, "owner@test.com", 50)
	other := testutil.SeedTestUser(t, db, "other@test.com", 50)

	res, err := svc.Create(ctx, createReq(owner.ID, "INV-005", false))
	require.NoError(t, err)

	_, err = svc.GetForUser(ctx, res.Invoice.ID, other.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := svc.GetForUser(ctx, res.Invoice.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Invoice.ID, got.ID)
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupInvoiceService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "bad@test.com", 50)

	req := createReq(user.ID, "INV-006", false)
	req.Currency = "XXX"
	_, err := svc.Create(ctx, req)
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)

	req = createReq(user.ID, "INV-007", false)
	req.Subtotal = decimal.NewFromInt(-1)
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Equal(t, int64(50), testutil.GetUserBalance(t, db, user.ID))
}
