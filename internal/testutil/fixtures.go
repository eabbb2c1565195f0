package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tokenbill/tokenbill/internal/domain"
)

func SeedTestUser(t *testing.T, db *sql.DB, email string, balance int64) *domain.User {
	t.Helper()
	return SeedTestUserWithID(t, db, uuid.New(), email, balance)
}

func SeedTestUserWithID(t *testing.T, db *sql.DB, id uuid.UUID, email string, balance int64) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &domain.User{
		ID:           id,
		Email:        email,
		Name:         "Test User",
		PasswordHash: string(hash),
		Currency:     domain.CurrencyEUR,
		Balance:      balance,
		Version:      1,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO users (id, email, name, password_hash, currency, balance, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Currency, u.Balance, u.Version, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed test user %s: %v", email, err)
	}
	return u
}

func GetUserBalance(t *testing.T, db *sql.DB, userID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	if err := db.QueryRow(`SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance); err != nil {
		t.Fatalf("get balance for %s: %v", userID, err)
	}
	return balance
}

func SumDeltas(t *testing.T, db *sql.DB, userID uuid.UUID) int64 {
	t.Helper()

	var sum int64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1`, userID,
	).Scan(&sum)
	if err != nil {
		t.Fatalf("sum deltas for %s: %v", userID, err)
	}
	return sum
}

func CountEntries(t *testing.T, db *sql.DB, userID uuid.UUID, entryType domain.EntryType) int {
	t.Helper()

	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1 AND entry_type = $2`,
		userID, entryType,
	).Scan(&n)
	if err != nil {
		t.Fatalf("count entries for %s: %v", userID, err)
	}
	return n
}

func SeedPayment(t *testing.T, db *sql.DB, p *domain.Payment) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO payments (
			id, user_id, reference, amount, currency, status,
			provider, provider_payment_id, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.UserID, p.Reference, p.Amount, p.Currency, p.Status,
		p.Provider, p.ProviderPaymentID, p.ErrorMessage, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed payment %s: %v", p.Reference, err)
	}
}
