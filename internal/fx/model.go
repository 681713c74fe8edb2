// Package fx keeps the exchange-rate table used to express foreign-currency
// amounts in the ledger currency.
package fx

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/shared"
)

// Rate is the number of ledger-currency units per unit of Currency while Validity holds.
type Rate struct {
	ID        int64            `json:"id"`
	Currency  string           `json:"currency"`
	Rate      decimal.Decimal  `json:"rate"`
	Validity  shared.DateRange `json:"validity"`
	Source    string           `json:"source,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// RateSource resolves a conversion rate for a day.
type RateSource interface {
	RateAt(currency string, date time.Time) (decimal.Decimal, error)
}

// Table is an immutable snapshot of rates.
type Table struct {
	ledger string
	rates  map[string][]Rate
}

// NewTable indexes rates by currency.
func NewTable(ledgerCurrency string, rates []Rate) *Table {
	t := &Table{ledger: normalize(ledgerCurrency), rates: make(map[string][]Rate)}
	for _, r := range rates {
		cur := normalize(r.Currency)
		t.rates[cur] = append(t.rates[cur], r)
	}
	return t
}

// RateAt returns 1 for the ledger currency, otherwise the rate whose validity
// contains date. The most recently started range wins.
func (t *Table) RateAt(currency string, date time.Time) (decimal.Decimal, error) {
	cur := normalize(currency)
	if cur == "" || cur == t.ledger {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := shared.LookupInRange(t.rates[cur], date, func(r Rate) shared.DateRange { return r.Validity })
	if !ok {
		return decimal.Zero, &shared.NoExchangeRateError{Currency: cur, Date: shared.Day(date)}
	}
	return rate.Rate, nil
}

// Convert expresses amount in the ledger currency, rounded to cents.
func Convert(src RateSource, amount decimal.Decimal, currency string, date time.Time) (decimal.Decimal, decimal.Decimal, error) {
	rate, err := src.RateAt(currency, date)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return shared.Round2(amount.Mul(rate)), rate, nil
}

func normalize(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
