package shared

import "github.com/shopspring/decimal"

// BalanceTolerance is the largest debit/credit difference accepted on any entry, inclusive.
var BalanceTolerance = decimal.New(1, -2)

// Hundred is used for percentage arithmetic.
var Hundred = decimal.NewFromInt(100)

// Round2 rounds a monetary amount to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinTolerance reports whether |a-b| <= BalanceTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(BalanceTolerance)
}

// ApplyDiscount returns amount reduced by pct percent.
func ApplyDiscount(amount, pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() {
		return amount
	}
	return amount.Mul(Hundred.Sub(pct)).Div(Hundred)
}

// Percent returns pct percent of amount.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(Hundred)
}
