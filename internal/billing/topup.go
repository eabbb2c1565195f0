package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/ledger"
	"github.com/tokenbill/tokenbill/internal/logging"
)

// ManualTopUp is the synchronous self-service path: the same
// conversion-and-credit as a hosted payment, minus the provider round
// trip, because there is no asynchronous confirmation to wait for.
func (s *Service) ManualTopUp(ctx context.Context, userID uuid.UUID, amount int64, currency domain.Currency) (*ledger.Result, error) {
	tokens, err := s.converter.Tokens(amount, currency)
	if err != nil {
		return nil, fmt.Errorf("ManualTopUp: %w", err)
	}

	res, err := s.ledger.Apply(ctx, userID, tokens, domain.TopUpMetadata{
		Currency: currency,
		Amount:   amount,
	})
	if err != nil {
		return nil, fmt.Errorf("ManualTopUp: %w", err)
	}

	logging.FromContext(ctx).Info("manual top-up applied",
		"user_id", userID,
		"amount", amount,
		"currency", currency,
		"tokens", tokens,
		"new_balance", res.NewBalance,
	)
	return res, nil
}

// Adjust applies a signed correction. Negative adjustments go through the
// same debit guard as any other debit: the balance never goes negative.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, delta int64) (*ledger.Result, error) {
	res, err := s.ledger.Apply(ctx, userID, delta, domain.AdjustmentMetadata{})
	if err != nil {
		return nil, fmt.Errorf("Adjust: %w", err)
	}

	logging.FromContext(ctx).Info("balance adjusted",
		"user_id", userID,
		"delta", delta,
		"new_balance", res.NewBalance,
	)
	return res, nil
}

type Statement struct {
	Balance int64
	Entries []domain.LedgerEntry
	Total   int
}

// GetStatement returns the ledger newest-first plus the current balance.
func (s *Service) GetStatement(ctx context.Context, userID uuid.UUID, limit, offset int) (*Statement, error) {
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("GetStatement: %w", err)
	}

	entries, total, err := s.entries.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("GetStatement: %w", err)
	}

	return &Statement{Balance: balance, Entries: entries, Total: total}, nil
}
