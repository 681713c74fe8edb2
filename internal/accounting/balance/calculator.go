// Package balance turns debit/credit sums into unsigned balances tagged with
// their debtor or creditor nature, and folds chronologically sorted movements
// into running balances (Libro Mayor).
package balance

import (
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
)

// Nature tags which side a balance sits on. Balances are never negative.
type Nature string

const (
	NatureDeudor   Nature = "DEUDOR"
	NatureAcreedor Nature = "ACREEDOR"
)

// AccountBalance is an unsigned amount with its nature.
type AccountBalance struct {
	Amount   decimal.Decimal `json:"amount"`
	Nature   Nature          `json:"nature"`
	IsNormal bool            `json:"is_normal"`
}

// NormalNature returns the nature an account of type t is expected to carry.
func NormalNature(t accounts.Type) Nature {
	if t.DebitNormal() {
		return NatureDeudor
	}
	return NatureAcreedor
}

// CalculateAccountBalance classifies debitSum-creditSum for an account type.
// A zero difference is DEUDOR.
func CalculateAccountBalance(t accounts.Type, debitSum, creditSum decimal.Decimal) AccountBalance {
	return FromSigned(t, debitSum.Sub(creditSum))
}

// CalculateRunningBalance applies one line to a prior balance.
func CalculateRunningBalance(t accounts.Type, prior AccountBalance, lineDebit, lineCredit decimal.Decimal) AccountBalance {
	return FromSigned(t, prior.Signed().Add(lineDebit).Sub(lineCredit))
}

// Zero returns an empty balance for t.
func Zero(t accounts.Type) AccountBalance {
	return FromSigned(t, decimal.Zero)
}

// Signed returns +Amount for DEUDOR and -Amount for ACREEDOR.
func (b AccountBalance) Signed() decimal.Decimal {
	if b.Nature == NatureAcreedor {
		return b.Amount.Neg()
	}
	return b.Amount
}

// FromSigned converts a debit-positive scalar back into an AccountBalance.
func FromSigned(t accounts.Type, signed decimal.Decimal) AccountBalance {
	nature := NatureDeudor
	if signed.IsNegative() {
		nature = NatureAcreedor
	}
	return AccountBalance{
		Amount:   signed.Abs(),
		Nature:   nature,
		IsNormal: nature == NormalNature(t),
	}
}
