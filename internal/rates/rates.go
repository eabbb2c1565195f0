// Package rates converts real-money top-up amounts into tokens. Amounts
// come in as minor units of a supported currency, get normalized to the
// canonical unit currency (EUR), and are multiplied by a fixed
// tokens-per-unit rate.
package rates

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tokenbill/tokenbill/internal/domain"
)

var minorUnitsPerUnit = decimal.NewFromInt(100)

type Converter struct {
	tokensPerUnit decimal.Decimal
	toCanonical   map[domain.Currency]decimal.Decimal
}

func NewConverter(tokensPerUnit int64) *Converter {
	return &Converter{
		tokensPerUnit: decimal.NewFromInt(tokensPerUnit),
		toCanonical: map[domain.Currency]decimal.Decimal{
			domain.CurrencyEUR: decimal.NewFromInt(1),
			domain.CurrencyUSD: decimal.NewFromFloat(0.92),
			domain.CurrencyGBP: decimal.NewFromFloat(1.166),
		},
	}
}

// Tokens returns the token credit for amount minor units of currency,
// rounded to the nearest whole token. An amount too small to round to a
// single token is rejected rather than credited for free.
func (c *Converter) Tokens(amount int64, currency domain.Currency) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("Tokens: %w", domain.ErrInvalidAmount)
	}

	rate, ok := c.toCanonical[currency]
	if !ok {
		return 0, fmt.Errorf("Tokens: unsupported currency %s: %w", currency, domain.ErrInvalidCurrency)
	}

	units := decimal.NewFromInt(amount).Div(minorUnitsPerUnit)
	tokens := units.Mul(rate).Mul(c.tokensPerUnit).Round(0).IntPart()
	if tokens <= 0 {
		return 0, fmt.Errorf("Tokens: %d %s rounds to zero tokens: %w", amount, currency, domain.ErrInvalidAmount)
	}
	return tokens, nil
}
